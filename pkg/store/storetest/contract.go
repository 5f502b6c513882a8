// Package storetest holds the behavioural contract every store backend must
// satisfy. Backends call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/snapshot"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the store contract against stores built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("EmptyLoad", func(t *testing.T) {
		s := factory(t)
		snap, _, ok, err := s.Load(context.Background())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if ok || len(snap) != 0 {
			t.Fatalf("expected no record, got ok=%t snap=%v", ok, snap)
		}
	})

	t.Run("SaveThenLoad", func(t *testing.T) {
		s := factory(t)
		want := snapshot.Snapshot{
			"isBlockMuteEnabled": false,
			"themeOverride":      "light",
			"selectors":          map[string]any{"userNameSelector": "*[data-testid=User-Name]"},
		}
		meta, err := s.Save(context.Background(), want, store.Meta{Version: 3, Origin: "ui"})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		if meta.SnapshotID == "" || meta.UpdatedAt.IsZero() {
			t.Fatalf("expected stamped meta, got %+v", meta)
		}
		got, loaded, ok, err := s.Load(context.Background())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if !ok {
			t.Fatalf("expected record after save")
		}
		if diff := cmpJSON(want, got); diff != "" {
			t.Fatalf("snapshot mismatch: %s", diff)
		}
		if loaded.Version != 3 || loaded.Origin != "ui" || loaded.SnapshotID != meta.SnapshotID {
			t.Fatalf("unexpected loaded meta: %+v", loaded)
		}
	})

	t.Run("SaveReplacesWholesale", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		if _, err := s.Save(ctx, snapshot.Snapshot{"a": true, "b": true}, store.Meta{Version: 1}); err != nil {
			t.Fatalf("save first: %v", err)
		}
		if _, err := s.Save(ctx, snapshot.Snapshot{"a": false}, store.Meta{Version: 1}); err != nil {
			t.Fatalf("save equal version: %v", err)
		}
		got, _, _, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if diff := cmpJSON(snapshot.Snapshot{"a": false}, got); diff != "" {
			t.Fatalf("expected full replacement: %s", diff)
		}
	})

	t.Run("RejectsStaleVersion", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		if _, err := s.Save(ctx, snapshot.Snapshot{"v": "new"}, store.Meta{Version: 5}); err != nil {
			t.Fatalf("save: %v", err)
		}
		_, err := s.Save(ctx, snapshot.Snapshot{"v": "old"}, store.Meta{Version: 4})
		if !errors.Is(err, store.ErrStaleVersion) {
			t.Fatalf("expected ErrStaleVersion, got %v", err)
		}
		got, meta, _, err := s.Load(ctx)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if got["v"] != "new" || meta.Version != 5 {
			t.Fatalf("expected newer record kept, got %v %+v", got, meta)
		}
	})

	t.Run("GetPicksKeys", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		partial, err := store.Get(ctx, s, "a")
		if err != nil {
			t.Fatalf("get empty: %v", err)
		}
		if len(partial) != 0 {
			t.Fatalf("expected empty partial, got %v", partial)
		}
		if _, err := s.Save(ctx, snapshot.Snapshot{"a": "x", "b": "y"}, store.Meta{}); err != nil {
			t.Fatalf("save: %v", err)
		}
		partial, err = store.Get(ctx, s, "a")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if len(partial) != 1 || partial["a"] != "x" {
			t.Fatalf("unexpected partial: %v", partial)
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		s := factory(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := s.Save(ctx, snapshot.Snapshot{"a": 1}, store.Meta{}); err == nil {
			t.Fatalf("expected error for canceled context")
		}
	})
}

func cmpJSON(want, got any) string {
	wantRaw, err := json.Marshal(want)
	if err != nil {
		return "marshal want: " + err.Error()
	}
	gotRaw, err := json.Marshal(got)
	if err != nil {
		return "marshal got: " + err.Error()
	}
	if string(wantRaw) == string(gotRaw) {
		return ""
	}
	return "want=" + string(wantRaw) + " got=" + string(gotRaw)
}
