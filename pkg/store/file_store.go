package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-replica/snapshot"
)

// FileStore persists the snapshot as a JSON document on local disk. Writes go
// to a temporary file first and are renamed into place.
type FileStore struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewFileStore returns a store writing to path. The parent directory is
// created on first Save.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store: file path is required")
	}
	return &FileStore{path: filepath.Clean(path), now: time.Now}, nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(ctx context.Context) (snapshot.Snapshot, Meta, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, Meta{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok, err := s.read()
	if err != nil || !ok {
		return nil, Meta{}, ok, err
	}
	return record.Snapshot, record.Meta, true, nil
}

func (s *FileStore) Save(ctx context.Context, snap snapshot.Snapshot, meta Meta) (Meta, error) {
	if err := ctx.Err(); err != nil {
		return Meta{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok, err := s.read()
	if err != nil {
		return Meta{}, err
	}
	if ok {
		if err := CheckVersion(current.Meta, meta); err != nil {
			return Meta{}, err
		}
	}

	stamped := Stamp(meta, s.now())
	payload, err := json.MarshalIndent(Record{Snapshot: snapshot.Clone(snap), Meta: stamped}, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("store: encode %s: %w", s.path, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return Meta{}, fmt.Errorf("store: create dir for %s: %w", s.path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return Meta{}, fmt.Errorf("store: temp file for %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Meta{}, fmt.Errorf("store: write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Meta{}, fmt.Errorf("store: close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return Meta{}, fmt.Errorf("store: replace %s: %w", s.path, err)
	}
	return stamped, nil
}

func (s *FileStore) read() (Record, bool, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("store: read %s: %w", s.path, err)
	}
	var record Record
	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, false, fmt.Errorf("store: decode %s: %w", s.path, err)
	}
	if record.Snapshot == nil {
		record.Snapshot = snapshot.Snapshot{}
	}
	return record, true, nil
}
