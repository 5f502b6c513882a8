package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-replica/snapshot"
	"github.com/google/uuid"
)

// DefaultNamespace is used when a backend is built without one.
const DefaultNamespace = "settings"

var (
	// ErrStaleVersion reports a Save whose version is older than the stored one.
	ErrStaleVersion = errors.New("store: stale version")
	// ErrClosed reports use of a closed store.
	ErrClosed = errors.New("store: closed")
)

// Meta is storage-owned metadata recorded next to a snapshot.
type Meta struct {
	SnapshotID string    `json:"snapshot_id,omitempty"`
	Version    uint64    `json:"version"`
	Origin     string    `json:"origin,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// Store loads and saves the complete snapshot for one namespace.
type Store interface {
	Load(ctx context.Context) (snap snapshot.Snapshot, meta Meta, ok bool, err error)
	Save(ctx context.Context, snap snapshot.Snapshot, meta Meta) (Meta, error)
}

// Get reads the persisted snapshot restricted to keys. Without keys the whole
// snapshot is returned. A missing record yields an empty snapshot.
func Get(ctx context.Context, s Store, keys ...string) (snapshot.Snapshot, error) {
	if s == nil {
		return nil, fmt.Errorf("store: store is required")
	}
	snap, _, ok, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return snapshot.Snapshot{}, nil
	}
	return snapshot.Pick(snap, keys...), nil
}

// CheckVersion returns ErrStaleVersion when incoming is older than stored.
func CheckVersion(stored, incoming Meta) error {
	if incoming.Version < stored.Version {
		return fmt.Errorf("%w: have %d, got %d", ErrStaleVersion, stored.Version, incoming.Version)
	}
	return nil
}

// Stamp fills the storage-owned fields a backend assigns on Save.
func Stamp(meta Meta, now time.Time) Meta {
	out := meta
	if strings.TrimSpace(out.SnapshotID) == "" {
		out.SnapshotID = uuid.NewString()
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = now.UTC()
	}
	return out
}

// NormalizeNamespace trims ns and falls back to DefaultNamespace.
func NormalizeNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return DefaultNamespace
	}
	return ns
}

// Record is the persisted envelope used by serializing backends.
type Record struct {
	Snapshot snapshot.Snapshot `json:"snapshot"`
	Meta     Meta              `json:"meta"`
}
