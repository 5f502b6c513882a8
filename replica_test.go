package replica

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-replica/pkg/activity"
	"github.com/goliatone/go-replica/pkg/bus/memory"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/snapshot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var testDefaults = snapshot.Snapshot{
	"themeOverride":         "dark",
	"isBlockMuteEnabled":    true,
	"automaticUpdatePolicy": "weekly",
}

type mesh struct {
	hub      *memory.Hub
	replicas map[message.Role]*Replica
	stores   map[message.Role]*store.MemoryStore
}

func newMesh(t *testing.T, opts ...Option) *mesh {
	t.Helper()
	m := &mesh{
		hub:      memory.NewHub(),
		replicas: map[message.Role]*Replica{},
		stores:   map[message.Role]*store.MemoryStore{},
	}
	for _, role := range message.Roles() {
		st := store.NewMemoryStore()
		all := append([]Option{
			WithStore(st),
			WithBus(m.hub.Join()),
			WithDefaults(testDefaults),
		}, opts...)
		r, err := New(context.Background(), role, all...)
		if err != nil {
			t.Fatalf("new %s replica: %v", role, err)
		}
		t.Cleanup(func() { _ = r.Close() })
		m.replicas[role] = r
		m.stores[role] = st
	}
	return m
}

type failingStore struct {
	*store.MemoryStore
	mu  sync.Mutex
	err error
}

func (s *failingStore) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *failingStore) Save(ctx context.Context, snap snapshot.Snapshot, meta store.Meta) (store.Meta, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return store.Meta{}, err
	}
	return s.MemoryStore.Save(ctx, snap, meta)
}

func TestEmptyUpdateNotifiesNobody(t *testing.T) {
	r, err := New(context.Background(), message.RoleUI, WithDefaults(testDefaults))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	calls := 0
	r.Subscribe([]string{"themeOverride"}, func(snapshot.Snapshot) { calls++ })
	r.SubscribeAny(func(snapshot.Snapshot) { calls++ })
	if calls != 2 {
		t.Fatalf("expected two immediate invocations, got %d", calls)
	}

	for _, partial := range []snapshot.Snapshot{nil, {}, {"themeOverride": "dark"}} {
		if err := r.Update(context.Background(), partial); err != nil {
			t.Fatalf("update %v: %v", partial, err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected no notifications for unchanged updates, got %d", calls)
	}
	if v := r.Version(); v.Version != 0 {
		t.Fatalf("expected version untouched by no-op updates, got %+v", v)
	}
}

func TestUpdateMergesShallowlyAndNotifiesOncePerSubscriber(t *testing.T) {
	r, err := New(context.Background(), message.RoleUI, WithDefaults(testDefaults))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	multi := 0
	r.Subscribe([]string{"themeOverride", "isBlockMuteEnabled"}, func(snapshot.Snapshot) { multi++ })
	untouched := 0
	r.Subscribe([]string{"automaticUpdatePolicy"}, func(snapshot.Snapshot) { untouched++ })
	multi, untouched = 0, 0

	err = r.Update(context.Background(), snapshot.Snapshot{
		"themeOverride":      "light",
		"isBlockMuteEnabled": false,
		"extra":              1,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if multi != 1 {
		t.Fatalf("expected multi-key subscriber to fire once, got %d", multi)
	}
	if untouched != 0 {
		t.Fatalf("expected subscriber on unchanged key to stay quiet, got %d", untouched)
	}

	state := r.State()
	want := snapshot.Merge(snapshot.Snapshot{"themeOverride": "light", "isBlockMuteEnabled": false, "extra": 1}, testDefaults)
	if len(state) != len(want) {
		t.Fatalf("expected %v, got %v", want, state)
	}
	for key, value := range want {
		if state[key] != value {
			t.Fatalf("key %s: expected %v, got %v", key, value, state[key])
		}
	}
	if v := r.Version(); v.Version != 1 || v.Origin != message.RoleUI {
		t.Fatalf("expected stamp 1@ui, got %+v", v)
	}
}

func TestUnaddressedStateUpdateAppliesWithoutCustomHandler(t *testing.T) {
	r, err := New(context.Background(), message.RoleBackground, WithDefaults(testDefaults))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	invoked := false
	r.RegisterMessageHandler(message.KindStateUpdate, func(context.Context, message.Message, message.Sender) (message.Response, error) {
		invoked = true
		return message.OK("custom"), nil
	})

	msg, err := message.New(message.RolePage, message.RoleUI, message.StateUpdate{
		Snapshot: map[string]any{"themeOverride": "light"},
		Version:  4,
		Origin:   message.RolePage,
	})
	if err != nil {
		t.Fatalf("message: %v", err)
	}
	_, err = r.Dispatch(context.Background(), msg, message.Sender{Role: message.RolePage})
	if !errors.Is(err, message.ErrNotIntendedRecipient) {
		t.Fatalf("expected suppressed response, got %v", err)
	}
	if invoked {
		t.Fatalf("custom handler must not run for stateUpdate")
	}
	if r.State()["themeOverride"] != "light" {
		t.Fatalf("expected unaddressed stateUpdate to be applied, got %v", r.State())
	}
	if v := r.Version(); v.Version != 4 || v.Origin != message.RolePage {
		t.Fatalf("expected incoming stamp adopted, got %+v", v)
	}

	msg = msg.Readdress(message.RoleBackground)
	resp, err := r.Dispatch(context.Background(), msg, message.Sender{Role: message.RolePage})
	if err != nil || !resp.Success || resp.Message != message.StateUpdatedText {
		t.Fatalf("expected addressed stateUpdate to be answered, got %+v err=%v", resp, err)
	}
}

func TestDispatchRoutesAddressedKinds(t *testing.T) {
	r, err := New(context.Background(), message.RoleBackground)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	resp, err := r.Dispatch(context.Background(), message.Message{Kind: "nope", SentTo: message.RoleBackground}, message.Sender{})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Success || resp.Error != "No handler found for message type" {
		t.Fatalf("expected no-handler failure, got %+v", resp)
	}

	r.RegisterMessageHandler("ping", func(ctx context.Context, msg message.Message, sender message.Sender) (message.Response, error) {
		return message.OK("pong from " + string(sender.Role)), nil
	})
	if _, err := r.Dispatch(context.Background(), message.Message{Kind: "ping", SentTo: message.RoleUI}, message.Sender{}); !errors.Is(err, message.ErrNotIntendedRecipient) {
		t.Fatalf("expected unaddressed ping suppressed, got %v", err)
	}
	resp, err = r.Dispatch(context.Background(), message.Message{Kind: "ping", SentTo: message.RoleBackground}, message.Sender{Role: message.RoleUI})
	if err != nil || resp.Message != "pong from ui" {
		t.Fatalf("unexpected ping reply %+v err=%v", resp, err)
	}

	r.RegisterMessageHandler("ping", func(context.Context, message.Message, message.Sender) (message.Response, error) {
		return message.OK("second"), nil
	})
	resp, _ = r.Dispatch(context.Background(), message.Message{Kind: "ping", SentTo: message.RoleBackground}, message.Sender{})
	if resp.Message != "second" {
		t.Fatalf("expected re-registration to replace the handler, got %+v", resp)
	}

	r.UnregisterMessageHandler("ping")
	resp, _ = r.Dispatch(context.Background(), message.Message{Kind: "ping", SentTo: message.RoleBackground}, message.Sender{})
	if resp.Error != message.NoHandlerError {
		t.Fatalf("expected handler removed, got %+v", resp)
	}
}

func TestHandlerFailuresBecomeResponses(t *testing.T) {
	r, err := New(context.Background(), message.RoleBackground)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r.RegisterMessageHandler("boom", func(context.Context, message.Message, message.Sender) (message.Response, error) {
		return message.Response{}, errors.New("exploded")
	})
	r.RegisterMessageHandler("panic", func(context.Context, message.Message, message.Sender) (message.Response, error) {
		panic("kaput")
	})

	resp, err := r.Dispatch(context.Background(), message.Message{Kind: "boom", SentTo: message.RoleBackground}, message.Sender{})
	if err != nil || resp.Success || resp.Error != "exploded" {
		t.Fatalf("expected structured failure, got %+v err=%v", resp, err)
	}
	resp, err = r.Dispatch(context.Background(), message.Message{Kind: "panic", SentTo: message.RoleBackground}, message.Sender{})
	if err != nil || resp.Success || !strings.Contains(resp.Error, "kaput") {
		t.Fatalf("expected panic converted to failure, got %+v err=%v", resp, err)
	}
}

func TestRoundTripAndLoopBound(t *testing.T) {
	m := newMesh(t)
	ui := m.replicas[message.RoleUI]

	if err := ui.Update(context.Background(), snapshot.Snapshot{"themeOverride": "light"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	for role, r := range m.replicas {
		if r.State()["themeOverride"] != "light" {
			t.Fatalf("%s did not converge: %v", role, r.State())
		}
		snap, meta, ok, err := m.stores[role].Load(context.Background())
		if err != nil || !ok || snap["themeOverride"] != "light" {
			t.Fatalf("%s store not written: %v ok=%v err=%v", role, snap, ok, err)
		}
		if meta.Version != 1 || meta.Origin != string(message.RoleUI) {
			t.Fatalf("%s stored stamp %+v", role, meta)
		}
	}
	if got := m.hub.TotalSends(); got != 2 {
		t.Fatalf("expected N-1 = 2 sends for one update, got %d", got)
	}
	if m.hub.Sends(message.RolePage) != 1 || m.hub.Sends(message.RoleBackground) != 1 {
		t.Fatalf("expected one send per peer, got page=%d background=%d",
			m.hub.Sends(message.RolePage), m.hub.Sends(message.RoleBackground))
	}
}

func TestUpdateOthersIsolatesPeerFailures(t *testing.T) {
	m := newMesh(t)
	bg := m.replicas[message.RoleBackground]
	m.hub.Drop(message.RolePage, true)

	if err := bg.Update(context.Background(), snapshot.Snapshot{"themeOverride": "light"}); err != nil {
		t.Fatalf("update must not fail on transport errors: %v", err)
	}
	if m.replicas[message.RoleUI].State()["themeOverride"] != "light" {
		t.Fatalf("expected ui to receive the update")
	}
	if m.replicas[message.RolePage].State()["themeOverride"] != "dark" {
		t.Fatalf("expected page to miss the update")
	}

	results := bg.UpdateOthers(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected two results, got %d", len(results))
	}
	for _, result := range results {
		switch result.Peer {
		case message.RolePage:
			var terr *TransportError
			if !errors.As(result.Err, &terr) || !errors.Is(result.Err, memory.ErrDropped) {
				t.Fatalf("expected transport error for page, got %v", result.Err)
			}
		case message.RoleUI:
			if result.Err != nil || !result.Response.Success {
				t.Fatalf("expected ui success, got %+v", result)
			}
		}
	}
}

func TestPersistedValuesBeatDefaults(t *testing.T) {
	st := store.NewMemoryStoreWith(snapshot.Snapshot{"themeOverride": "light"}, store.Meta{Version: 7, Origin: "page"})
	r, err := New(context.Background(), message.RoleUI, WithStore(st), WithDefaults(testDefaults))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	state := r.State()
	if state["themeOverride"] != "light" {
		t.Fatalf("expected persisted value to win, got %v", state["themeOverride"])
	}
	if state["isBlockMuteEnabled"] != true {
		t.Fatalf("expected default for missing key, got %v", state["isBlockMuteEnabled"])
	}
	if v := r.Version(); v.Version != 7 || v.Origin != message.RolePage {
		t.Fatalf("expected persisted stamp, got %+v", v)
	}
}

func TestPersistenceFailureSkipsBroadcast(t *testing.T) {
	hub := memory.NewHub()
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	r, err := New(context.Background(), message.RoleUI, WithStore(st), WithBus(hub.Join()), WithDefaults(testDefaults))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	st.fail(errors.New("quota exceeded"))

	err = r.Update(context.Background(), snapshot.Snapshot{"themeOverride": "light"})
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "save" || !strings.Contains(err.Error(), "quota exceeded") {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if r.State()["themeOverride"] != "light" {
		t.Fatalf("local change must not be rolled back")
	}
	if hub.TotalSends() != 0 {
		t.Fatalf("expected broadcast skipped, got %d sends", hub.TotalSends())
	}
}

func TestLoadFailureIsPersistenceError(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	_, err = New(context.Background(), message.RoleUI, WithStore(st))
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "load" {
		t.Fatalf("expected load persistence error for a directory path, got %v", err)
	}
}

func TestStaleUpdatesAreDropped(t *testing.T) {
	r, err := New(context.Background(), message.RoleUI, WithDefaults(testDefaults))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := r.UpdateLocal(context.Background(), snapshot.Snapshot{"counter": i}); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	stale, _ := message.New(message.RoleBackground, message.RoleUI, message.StateUpdate{
		Snapshot: map[string]any{"themeOverride": "light"},
		Version:  2,
		Origin:   message.RoleBackground,
	})
	resp, err := r.Dispatch(context.Background(), stale, message.Sender{Role: message.RoleBackground})
	if err != nil || resp.Success || resp.Error != message.StaleStateError {
		t.Fatalf("expected stale update rejected, got %+v err=%v", resp, err)
	}
	var kept message.StateUpdate
	if err := resp.DecodeData(&kept); err != nil {
		t.Fatalf("decode stale reply: %v", err)
	}
	if kept.Version != 3 || kept.Origin != message.RoleUI || kept.Snapshot["themeOverride"] != "dark" {
		t.Fatalf("expected reply to carry the kept snapshot, got %+v", kept)
	}
	if r.State()["themeOverride"] != "dark" {
		t.Fatalf("stale update must not apply")
	}

	// Same version, higher-ranked origin wins the tie.
	tie, _ := message.New(message.RoleBackground, message.RoleUI, message.StateUpdate{
		Snapshot: map[string]any{"themeOverride": "light"},
		Version:  3,
		Origin:   message.RoleBackground,
	})
	if _, err := r.Dispatch(context.Background(), tie, message.Sender{Role: message.RoleBackground}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if r.State()["themeOverride"] != "light" {
		t.Fatalf("expected background to win the tie at version 3")
	}
}

func TestStoreRejectionRebasesUpdate(t *testing.T) {
	hub := memory.NewHub()
	st := store.NewMemoryStoreWith(snapshot.Snapshot{}, store.Meta{Version: 1})
	r, err := New(context.Background(), message.RoleUI, WithStore(st), WithBus(hub.Join()), WithDefaults(testDefaults))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	// Another process writes a newer version behind the replica's back.
	if _, err := st.Save(context.Background(), snapshot.Snapshot{"themeOverride": "light", "source": "dev"}, store.Meta{Version: 9}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := r.Update(context.Background(), snapshot.Snapshot{"themeOverride": "dark"}); err != nil {
		t.Fatalf("update: %v", err)
	}

	snap, meta, _, _ := st.Load(context.Background())
	if meta.Version != 10 || meta.Origin != string(message.RoleUI) {
		t.Fatalf("expected write stamped above the stored version, got %+v", meta)
	}
	if snap["themeOverride"] != "dark" || snap["source"] != "dev" {
		t.Fatalf("expected update applied over the stored snapshot, got %v", snap)
	}
	assertSameSnapshot(t, r.State(), snap)
	if r.Version().Version != 10 {
		t.Fatalf("expected replica at version 10, got %d", r.Version().Version)
	}
}

// rejectingStore refuses every write as stale and always loads stored.
type rejectingStore struct {
	stored snapshot.Snapshot
	meta   store.Meta
}

func (s rejectingStore) Load(context.Context) (snapshot.Snapshot, store.Meta, bool, error) {
	return snapshot.Clone(s.stored), s.meta, true, nil
}

func (s rejectingStore) Save(context.Context, snapshot.Snapshot, store.Meta) (store.Meta, error) {
	return store.Meta{}, store.ErrStaleVersion
}

func TestUnresolvableStoreRejectionRestoresStoredSnapshot(t *testing.T) {
	st := rejectingStore{stored: snapshot.Snapshot{"themeOverride": "light"}, meta: store.Meta{Version: 4, Origin: "background"}}
	r, err := New(context.Background(), message.RoleUI, WithStore(st), WithDefaults(testDefaults))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = r.Update(context.Background(), snapshot.Snapshot{"themeOverride": "dark"})
	var perr *PersistenceError
	if !errors.As(err, &perr) || !errors.Is(err, store.ErrStaleVersion) {
		t.Fatalf("expected stale persistence error, got %v", err)
	}
	if r.State()["themeOverride"] != "light" {
		t.Fatalf("expected stored snapshot restored, got %v", r.State()["themeOverride"])
	}
	if r.Version() != (Stamp{Version: 4, Origin: message.RoleBackground}) {
		t.Fatalf("expected stored stamp restored, got %+v", r.Version())
	}
}

func TestLaggingReplicaWriteReachesEveryPeer(t *testing.T) {
	m := newMesh(t)
	bg, page := m.replicas[message.RoleBackground], m.replicas[message.RolePage]

	m.hub.Drop(message.RolePage, true)
	for _, policy := range []string{"daily", "monthly"} {
		if err := bg.Update(context.Background(), snapshot.Snapshot{"automaticUpdatePolicy": policy}); err != nil {
			t.Fatalf("background update: %v", err)
		}
	}
	m.hub.Drop(message.RolePage, false)

	if err := page.Update(context.Background(), snapshot.Snapshot{"themeOverride": "light"}); err != nil {
		t.Fatalf("page update: %v", err)
	}
	for role, r := range m.replicas {
		state := r.State()
		if state["themeOverride"] != "light" || state["automaticUpdatePolicy"] != "monthly" {
			t.Fatalf("%s: expected the lagging write over the newest snapshot, got %v", role, state)
		}
		stored, _, _, _ := m.stores[role].Load(context.Background())
		assertSameSnapshot(t, state, stored)
	}
	if want := (Stamp{Version: 3, Origin: message.RolePage}); page.Version() != want || bg.Version() != want {
		t.Fatalf("expected page stamp adopted everywhere, page=%+v bg=%+v", page.Version(), bg.Version())
	}
}

func TestLaggingReplicaOnSharedStoreStaysPersisted(t *testing.T) {
	hub := memory.NewHub()
	shared := store.NewMemoryStore()
	replicas := map[message.Role]*Replica{}
	for _, role := range message.Roles() {
		r, err := New(context.Background(), role, WithStore(shared), WithBus(hub.Join()), WithDefaults(testDefaults))
		if err != nil {
			t.Fatalf("new %s: %v", role, err)
		}
		t.Cleanup(func() { _ = r.Close() })
		replicas[role] = r
	}

	hub.Drop(message.RolePage, true)
	for _, theme := range []string{"light", "dark"} {
		if err := replicas[message.RoleBackground].Update(context.Background(), snapshot.Snapshot{"themeOverride": theme}); err != nil {
			t.Fatalf("background update: %v", err)
		}
	}
	hub.Drop(message.RolePage, false)
	hub.Reset()

	if err := replicas[message.RolePage].Update(context.Background(), snapshot.Snapshot{"themeOverride": "light"}); err != nil {
		t.Fatalf("page update: %v", err)
	}
	if hub.TotalSends() != 2 {
		t.Fatalf("expected the rebased write broadcast to both peers, got %d sends", hub.TotalSends())
	}
	stored, meta, _, _ := shared.Load(context.Background())
	if stored["themeOverride"] != "light" || meta.Version != 3 {
		t.Fatalf("expected light at version 3 in the store, got %v %+v", stored["themeOverride"], meta)
	}
	for role, r := range replicas {
		assertSameSnapshot(t, r.State(), stored)
		if r.Version().Version != meta.Version {
			t.Fatalf("%s: expected version %d, got %d", role, meta.Version, r.Version().Version)
		}
	}
}

func assertSameSnapshot(t *testing.T, got, want snapshot.Snapshot) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("snapshot sizes differ: %v vs %v", got, want)
	}
	for key, value := range want {
		if got[key] != value {
			t.Fatalf("key %s: got %v, want %v", key, got[key], value)
		}
	}
}

func TestResetToDefaultAndActivity(t *testing.T) {
	rec := &activity.Recorder{}
	emitter := activity.NewEmitter(activity.Hooks{rec}, activity.Config{Enabled: true})
	m := newMesh(t, WithActivity(emitter), WithNamespace("prefs"))
	ui := m.replicas[message.RoleUI]

	if err := ui.Update(context.Background(), snapshot.Snapshot{"themeOverride": "light"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := ui.ResetToDefault(context.Background()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for role, r := range m.replicas {
		if r.State()["themeOverride"] != "dark" {
			t.Fatalf("%s not reset: %v", role, r.State())
		}
	}

	for _, event := range rec.Events() {
		if event.Namespace != "prefs" {
			t.Fatalf("expected namespace prefs, got %q", event.Namespace)
		}
	}
	updated, reset, synced := rec.Count(activity.VerbSettingsUpdated), rec.Count(activity.VerbSettingsReset), rec.Count(activity.VerbSettingsSynced)
	if updated != 1 || reset != 1 || synced != 4 {
		t.Fatalf("unexpected activity counts updated=%d reset=%d synced=%d", updated, reset, synced)
	}
}

func TestCloseStopsBroadcasts(t *testing.T) {
	m := newMesh(t)
	page := m.replicas[message.RolePage]
	if err := page.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, result := range page.UpdateOthers(context.Background()) {
		if !errors.Is(result.Err, ErrClosed) {
			t.Fatalf("expected ErrClosed after close, got %v", result.Err)
		}
	}
	if err := m.replicas[message.RoleUI].Update(context.Background(), snapshot.Snapshot{"themeOverride": "light"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if page.State()["themeOverride"] != "dark" {
		t.Fatalf("closed replica must stop receiving")
	}
}

func TestMetricsRecordReplicaActivity(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(WithRegistry(registry), WithMetricsNamespace("test"))
	m := newMesh(t, WithMetrics(metrics))
	m.hub.Drop(message.RoleBackground, true)

	if err := m.replicas[message.RoleUI].Update(context.Background(), snapshot.Snapshot{"themeOverride": "light"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := testutil.ToFloat64(metrics.updates.WithLabelValues("local")); got != 1 {
		t.Fatalf("expected one local update, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.broadcasts.WithLabelValues("page", "ok")); got != 1 {
		t.Fatalf("expected one ok broadcast to page, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.broadcasts.WithLabelValues("background", "error")); got != 1 {
		t.Fatalf("expected one failed broadcast to background, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.dispatches.WithLabelValues("stateUpdate", "ok")); got != 1 {
		t.Fatalf("expected page to answer one stateUpdate, got %v", got)
	}

	var nilMetrics *Metrics
	nilMetrics.recordUpdate("local", 1)
}

func TestFactoryReturnsSameReplica(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	st := &failingStore{MemoryStore: store.NewMemoryStore()}
	factory := NewFactory(WithStore(st), WithLogger(logger), WithDefaults(testDefaults))

	first, err := factory.Instance(context.Background(), message.RoleUI)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	second, err := factory.Instance(context.Background(), message.RolePage)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same replica pointer")
	}
	if second.Role() != message.RoleUI {
		t.Fatalf("expected first role to stick, got %s", second.Role())
	}
	if !strings.Contains(logs.String(), "ignoring role") {
		t.Fatalf("expected a warning for the ignored role, got %q", logs.String())
	}
	if current, ok := factory.Current(); !ok || current != first {
		t.Fatalf("expected Current to return the built replica")
	}
}

func TestFactoryRetriesFailedBuild(t *testing.T) {
	factory := NewFactory()
	if _, err := factory.Instance(context.Background(), message.Role("tab")); err == nil {
		t.Fatalf("expected invalid role error")
	}
	if _, ok := factory.Current(); ok {
		t.Fatalf("failed build must not be cached")
	}
	r, err := factory.Instance(context.Background(), message.RoleBackground)
	if err != nil || r == nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestStampOrdering(t *testing.T) {
	cases := []struct {
		a, b Stamp
		want bool
	}{
		{Stamp{1, message.RoleBackground}, Stamp{2, message.RolePage}, true},
		{Stamp{2, message.RolePage}, Stamp{2, message.RoleUI}, true},
		{Stamp{2, message.RoleBackground}, Stamp{2, message.RoleUI}, false},
		{Stamp{3, message.RoleUI}, Stamp{3, message.RoleUI}, false},
	}
	for _, tc := range cases {
		if got := tc.a.Before(tc.b); got != tc.want {
			t.Fatalf("%+v before %+v: expected %v", tc.a, tc.b, tc.want)
		}
	}
}
