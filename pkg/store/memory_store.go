package store

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-replica/snapshot"
)

// MemoryStore is an in-memory Store intended for tests, examples and roles
// that share a process. Snapshots are shallow copied on the way in and out.
type MemoryStore struct {
	mu     sync.RWMutex
	record *Record
	now    func() time.Time
	saves  int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// NewMemoryStoreWith returns a store pre-seeded with snap.
func NewMemoryStoreWith(snap snapshot.Snapshot, meta Meta) *MemoryStore {
	s := NewMemoryStore()
	s.record = &Record{Snapshot: snapshot.Clone(snap), Meta: Stamp(meta, s.now())}
	return s
}

func (s *MemoryStore) Load(ctx context.Context) (snapshot.Snapshot, Meta, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, Meta{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return nil, Meta{}, false, nil
	}
	return snapshot.Clone(s.record.Snapshot), s.record.Meta, true, nil
}

func (s *MemoryStore) Save(ctx context.Context, snap snapshot.Snapshot, meta Meta) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.record != nil {
		if err := CheckVersion(s.record.Meta, meta); err != nil {
			return Meta{}, err
		}
	}
	stamped := Stamp(meta, s.now())
	s.record = &Record{Snapshot: snapshot.Clone(snap), Meta: stamped}
	s.saves++
	return stamped, nil
}

// Saves returns how many writes succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
