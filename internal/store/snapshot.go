package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dalbodeule/pubq-gate/internal/logging"
)

// ErrNotFound 는 경로에 대한 스냅샷이 없을 때 반환됩니다.
var ErrNotFound = errors.New("store: snapshot not found")

const snapshotTable = "menu_snapshots"

const createSnapshotTable = `CREATE TABLE IF NOT EXISTS menu_snapshots (
	id       UUID PRIMARY KEY,
	path     TEXT NOT NULL,
	payload  BYTEA NOT NULL,
	taken_at TIMESTAMPTZ NOT NULL
)`

const createSnapshotIndex = `CREATE INDEX IF NOT EXISTS menu_snapshots_path_taken_at
	ON menu_snapshots (path, taken_at DESC)`

// SnapshotStore 는 실시간 DB 조회 결과를 경로별로 보관합니다.
// payload 는 structpb.Value 의 protobuf 바이너리로 저장합니다.
type SnapshotStore struct {
	drv       *entsql.Driver
	logger    logging.Logger
	retention time.Duration
	now       func() time.Time
}

func newSnapshotStore(drv *entsql.Driver, logger logging.Logger, retention time.Duration) *SnapshotStore {
	return &SnapshotStore{
		drv:       drv,
		logger:    logger.With(logging.Fields{"component": "snapshot_store"}),
		retention: retention,
		now:       time.Now,
	}
}

func (s *SnapshotStore) migrate(ctx context.Context) error {
	for _, stmt := range []string{createSnapshotTable, createSnapshotIndex} {
		if err := s.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close 는 하위 *sql.DB 를 닫습니다.
func (s *SnapshotStore) Close() error {
	return s.drv.Close()
}

// SaveSnapshot 은 path 의 payload 를 새 스냅샷으로 저장하고, 보관 기간이 지난 스냅샷을 정리합니다.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, path string, payload json.RawMessage) error {
	blob, err := encodePayload(payload)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	query, args := insertSnapshotQuery(uuid.New(), path, blob, now)
	var res entsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		return fmt.Errorf("store: insert snapshot %s: %w", path, err)
	}

	if s.retention > 0 {
		n, err := s.Prune(ctx, now.Add(-s.retention))
		if err != nil {
			s.logger.Warn("failed to prune snapshots", logging.Fields{"error": err.Error()})
		} else if n > 0 {
			s.logger.Debug("pruned snapshots", logging.Fields{"count": n})
		}
	}
	return nil
}

// LatestSnapshot 은 path 의 가장 최근 스냅샷과 그 시각을 반환합니다.
func (s *SnapshotStore) LatestSnapshot(ctx context.Context, path string) (json.RawMessage, time.Time, error) {
	query, args := latestSnapshotQuery(path)
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, time.Time{}, fmt.Errorf("store: select snapshot %s: %w", path, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	var (
		blob    []byte
		takenAt time.Time
	)
	if err := rows.Scan(&blob, &takenAt); err != nil {
		return nil, time.Time{}, fmt.Errorf("store: scan snapshot: %w", err)
	}
	payload, err := decodePayload(blob)
	if err != nil {
		return nil, time.Time{}, err
	}
	return payload, takenAt, nil
}

// Prune 은 before 이전에 찍힌 스냅샷을 지우고 지운 수를 반환합니다.
func (s *SnapshotStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	query, args := pruneSnapshotsQuery(before)
	var res entsql.Result
	if err := s.drv.Exec(ctx, query, args, &res); err != nil {
		return 0, fmt.Errorf("store: prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

func insertSnapshotQuery(id uuid.UUID, path string, blob []byte, takenAt time.Time) (string, []any) {
	return entsql.Dialect(dialect.Postgres).
		Insert(snapshotTable).
		Columns("id", "path", "payload", "taken_at").
		Values(id, path, blob, takenAt).
		Query()
}

func latestSnapshotQuery(path string) (string, []any) {
	b := entsql.Dialect(dialect.Postgres)
	return b.Select("payload", "taken_at").
		From(b.Table(snapshotTable)).
		Where(entsql.EQ("path", path)).
		OrderBy(entsql.Desc("taken_at")).
		Limit(1).
		Query()
}

func pruneSnapshotsQuery(before time.Time) (string, []any) {
	return entsql.Dialect(dialect.Postgres).
		Delete(snapshotTable).
		Where(entsql.LT("taken_at", before)).
		Query()
}

// encodePayload 는 JSON 값을 structpb.Value protobuf 바이너리로 바꿉니다.
func encodePayload(raw json.RawMessage) ([]byte, error) {
	v := &structpb.Value{}
	if err := v.UnmarshalJSON(raw); err != nil {
		return nil, fmt.Errorf("store: payload is not valid JSON: %w", err)
	}
	blob, err := proto.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode payload: %w", err)
	}
	return blob, nil
}

func decodePayload(blob []byte) (json.RawMessage, error) {
	v := &structpb.Value{}
	if err := proto.Unmarshal(blob, v); err != nil {
		return nil, fmt.Errorf("store: decode payload: %w", err)
	}
	out, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("store: encode payload json: %w", err)
	}
	return json.RawMessage(out), nil
}
