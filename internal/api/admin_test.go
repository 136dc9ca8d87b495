package api

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dalbodeule/pubq-gate/internal/logging"
	"github.com/dalbodeule/pubq-gate/internal/pubq"
)

type fakePurger struct{ purged int }

func (f *fakePurger) Purge() { f.purged++ }

type fakeReconnector struct {
	err   error
	calls int
}

func (f *fakeReconnector) Connect(context.Context) error {
	f.calls++
	return f.err
}

func newAdminRouter(key string, purger CachePurger, rc Reconnector) http.Handler {
	h := NewHandler(logging.NewNop(), &fakeMenu{}, pubq.New(pubq.Options{}), "", false)
	return h.EnableAdmin(key, purger, rc).Router()
}

func TestAdminRequiresBearerKey(t *testing.T) {
	purger := &fakePurger{}
	r := newAdminRouter("secret-admin-key", purger, nil)

	for _, hdr := range []map[string]string{
		nil,
		{"Authorization": "secret-admin-key"},
		{"Authorization": "Bearer wrong"},
	} {
		rec := do(t, r, http.MethodPost, "/api/admin/cache/purge", hdr)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	assert.Zero(t, purger.purged)

	rec := do(t, r, http.MethodPost, "/api/admin/cache/purge", map[string]string{"Authorization": "Bearer secret-admin-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
	assert.Equal(t, 1, purger.purged)
}

func TestAdminEmptyKeyRejectsEverything(t *testing.T) {
	r := newAdminRouter("  ", &fakePurger{}, nil)

	rec := do(t, r, http.MethodPost, "/api/admin/cache/purge", map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminReconnect(t *testing.T) {
	auth := map[string]string{"Authorization": "Bearer secret-admin-key"}

	rc := &fakeReconnector{}
	rec := do(t, newAdminRouter("secret-admin-key", nil, rc), http.MethodPost, "/api/admin/reconnect", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, rc.calls)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, "closed", data["state"])

	rc = &fakeReconnector{err: errors.New("dial refused")}
	rec = do(t, newAdminRouter("secret-admin-key", nil, rc), http.MethodPost, "/api/admin/reconnect", auth)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "reconnect failed", decode(t, rec)["error"])
}

func TestAdminSessionAndMissingCapabilities(t *testing.T) {
	auth := map[string]string{"Authorization": "Bearer secret-admin-key"}
	r := newAdminRouter("secret-admin-key", nil, nil)

	rec := do(t, r, http.MethodGet, "/api/admin/session", auth)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(0), data["inbox_depth"])

	rec = do(t, r, http.MethodPost, "/api/admin/cache/purge", auth)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestAdminRoutesAbsentUnlessEnabled(t *testing.T) {
	r, _ := newTestRouter(t, &fakeMenu{}, "")

	rec := do(t, r, http.MethodGet, "/api/admin/session", map[string]string{"Authorization": "Bearer x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", maskKey(""))
	assert.Equal(t, "***", maskKey("short"))
	assert.Equal(t, "abcd...wxyz", maskKey("abcdefghijklmnopqrstuvwxyz"))
}
