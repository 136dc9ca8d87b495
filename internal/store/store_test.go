package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("PUBQ_DB_DSN", "")
	_, err := ConfigFromEnv()
	assert.ErrorIs(t, err, ErrNoDSN)

	t.Setenv("PUBQ_DB_DSN", "postgres://pubq:secret@db:5432/pubq?sslmode=disable")
	t.Setenv("PUBQ_DB_MAX_OPEN_CONNS", "12")
	t.Setenv("PUBQ_DB_MAX_IDLE_CONNS", "-1")
	t.Setenv("PUBQ_DB_CONN_MAX_LIFETIME", "10m")
	t.Setenv("PUBQ_DB_RETENTION", "0s")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxOpenConns)
	assert.Equal(t, 2, cfg.MaxIdleConns, "negative idle count keeps the default")
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxLifetime)
	assert.Zero(t, cfg.Retention)
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "", maskDSN(""))
	assert.Equal(t, "postgres://pubq:xxxxx@db:5432/pubq", maskDSN("postgres://pubq:secret@db:5432/pubq"))
	assert.Equal(t, "***", maskDSN("host=db user=pubq password=secret"))
}

func TestPayloadRoundTrip(t *testing.T) {
	in := []byte(`{"0":{"name":"Dhaba","routeName":"compassdk_dbvendor1","visible":true,"children":null},"1":[1,"x"]}`)

	blob, err := encodePayload(in)
	require.NoError(t, err)

	out, err := decodePayload(blob)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))

	_, err = encodePayload([]byte(`{broken`))
	assert.Error(t, err)
	_, err = decodePayload([]byte{0xff, 0xff})
	assert.Error(t, err)
}

func TestSnapshotQueries(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	q, args := insertSnapshotQuery(id, "/clientUnits", []byte{1}, at)
	assert.Contains(t, q, `INSERT INTO "menu_snapshots"`)
	assert.Contains(t, q, `"taken_at"`)
	assert.Contains(t, q, "$4")
	assert.Equal(t, []any{id, "/clientUnits", []byte{1}, at}, args)

	q, args = latestSnapshotQuery("/clientUnits")
	assert.Contains(t, q, `FROM "menu_snapshots"`)
	assert.Contains(t, q, `"path" = $1`)
	assert.Contains(t, q, `ORDER BY "taken_at" DESC`)
	assert.Contains(t, q, "LIMIT 1")
	assert.Equal(t, []any{"/clientUnits"}, args)

	q, args = pruneSnapshotsQuery(at)
	assert.Contains(t, q, `DELETE FROM "menu_snapshots"`)
	assert.Contains(t, q, `"taken_at" < $1`)
	assert.Equal(t, []any{at}, args)
}
