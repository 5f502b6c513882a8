// Package sqlite provides a SQLite-backed snapshot store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/snapshot"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS snapshots (
	namespace   TEXT PRIMARY KEY,
	data        TEXT NOT NULL,
	version     INTEGER NOT NULL DEFAULT 0,
	origin      TEXT NOT NULL DEFAULT '',
	snapshot_id TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
)`

// Store persists snapshots in SQLite, one row per namespace.
type Store struct {
	sqlDB     *sql.DB
	namespace string
	now       func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the database at path and ensures the schema exists.
func Open(path, namespace string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{
		sqlDB:     sqlDB,
		namespace: store.NormalizeNamespace(namespace),
		now:       time.Now,
	}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load reads the snapshot row for the store namespace.
func (s *Store) Load(ctx context.Context) (snapshot.Snapshot, store.Meta, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.Meta{}, false, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, store.Meta{}, false, store.ErrClosed
	}

	var (
		data      string
		meta      store.Meta
		updatedAt int64
		version   int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT data, version, origin, snapshot_id, updated_at FROM snapshots WHERE namespace = ?`,
		s.namespace,
	).Scan(&data, &version, &meta.Origin, &meta.SnapshotID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.Meta{}, false, nil
	}
	if err != nil {
		return nil, store.Meta{}, false, fmt.Errorf("load snapshot %q: %w", s.namespace, err)
	}

	snap := snapshot.Snapshot{}
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, store.Meta{}, false, fmt.Errorf("decode snapshot %q: %w", s.namespace, err)
	}
	meta.Version = uint64(version)
	meta.UpdatedAt = fromMillis(updatedAt)
	return snap, meta, true, nil
}

// Save upserts the snapshot row unless the stored version is newer.
func (s *Store) Save(ctx context.Context, snap snapshot.Snapshot, meta store.Meta) (store.Meta, error) {
	if err := ctx.Err(); err != nil {
		return store.Meta{}, err
	}
	if s == nil || s.sqlDB == nil {
		return store.Meta{}, store.ErrClosed
	}
	if snap == nil {
		snap = snapshot.Snapshot{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return store.Meta{}, fmt.Errorf("encode snapshot %q: %w", s.namespace, err)
	}
	stamped := store.Stamp(meta, s.now())

	result, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO snapshots (namespace, data, version, origin, snapshot_id, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(namespace) DO UPDATE SET
		   data = excluded.data,
		   version = excluded.version,
		   origin = excluded.origin,
		   snapshot_id = excluded.snapshot_id,
		   updated_at = excluded.updated_at
		 WHERE excluded.version >= snapshots.version`,
		s.namespace,
		string(data),
		int64(stamped.Version),
		stamped.Origin,
		stamped.SnapshotID,
		toMillis(stamped.UpdatedAt),
	)
	if err != nil {
		return store.Meta{}, fmt.Errorf("save snapshot %q: %w", s.namespace, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return store.Meta{}, fmt.Errorf("save snapshot %q: %w", s.namespace, err)
	}
	if affected == 0 {
		return store.Meta{}, fmt.Errorf("%w: namespace %q, version %d", store.ErrStaleVersion, s.namespace, stamped.Version)
	}
	stamped.UpdatedAt = fromMillis(toMillis(stamped.UpdatedAt))
	return stamped, nil
}
