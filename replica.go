// Package replica keeps one settings snapshot in step across the background,
// ui and page roles.
//
// Each process builds one Replica for its role. The replica seeds a keyed
// container from the store (persisted values over defaults), persists the
// whole snapshot after every update and broadcasts it to the peer roles as an
// addressed stateUpdate. Receivers apply the snapshot without rebroadcasting,
// so one update costs exactly one send per peer.
//
// The same inbound handler doubles as a small request/response registry:
// messages of other kinds addressed to the replica's role are routed to the
// handler registered for their kind.
//
//	r, err := replica.New(ctx, message.RoleUI,
//	    replica.WithStore(st),
//	    replica.WithBus(endpoint),
//	    replica.WithDefaults(settings.DefaultSnapshot()),
//	)
//	err = r.Update(ctx, snapshot.Snapshot{"themeOverride": "light"})
package replica

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-replica/keyed"
	"github.com/goliatone/go-replica/pkg/activity"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/snapshot"
	"go.opentelemetry.io/otel/trace"
)

// Replica is the per-process copy of the settings snapshot.
type Replica struct {
	role      message.Role
	namespace string
	defaults  snapshot.Snapshot
	container *keyed.Container

	store    store.Store
	bus      Bus
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	activity *activity.Emitter
	now      func() time.Time

	stampMu    sync.Mutex
	stamp      Stamp
	snapshotID string

	handlersMu sync.RWMutex
	handlers   map[message.Kind]message.Handler

	closeMu sync.Mutex
	stop    func()
	closed  bool
}

// New loads the persisted snapshot, merges it over the defaults and starts
// listening on the bus. Persisted values win on collision.
func New(ctx context.Context, role message.Role, opts ...Option) (*Replica, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("replica: invalid role %q", role)
	}
	cfg := applyOptions(opts)

	persisted, meta, ok, err := cfg.store.Load(ctx)
	if err != nil {
		return nil, &PersistenceError{Role: role, Op: "load", Err: err}
	}
	initial := snapshot.Clone(cfg.defaults)
	if ok {
		initial = snapshot.Merge(persisted, cfg.defaults)
	}

	r := &Replica{
		role:      role,
		namespace: cfg.namespace,
		defaults:  cfg.defaults,
		container: keyed.New(initial),
		store:     cfg.store,
		bus:       cfg.bus,
		logger:    cfg.logger.With("role", string(role)),
		metrics:   cfg.metrics,
		tracer:    cfg.tracer,
		activity:  cfg.activity,
		now:       cfg.now,
		handlers:  map[message.Kind]message.Handler{},
	}
	if ok {
		r.stamp = Stamp{Version: meta.Version, Origin: message.Role(meta.Origin)}
		r.snapshotID = meta.SnapshotID
	}

	if r.bus != nil {
		stop, err := r.bus.Listen(role, r.Dispatch)
		if err != nil {
			return nil, fmt.Errorf("replica: listen as %s: %w", role, err)
		}
		r.stop = stop
	} else {
		r.logger.Debug("replica has no bus, updates stay local")
	}

	r.logger.Info("replica started",
		"namespace", r.namespace,
		"persisted", ok,
		"version", r.stamp.Version,
		"keys", len(initial),
	)
	return r, nil
}

// Role returns the role the replica was built for.
func (r *Replica) Role() message.Role {
	return r.role
}

// Namespace returns the snapshot namespace.
func (r *Replica) Namespace() string {
	return r.namespace
}

// State returns a shallow copy of the current snapshot.
func (r *Replica) State() snapshot.Snapshot {
	return r.container.State()
}

// PreviousState returns the snapshot as of the end of the last update.
func (r *Replica) PreviousState() snapshot.Snapshot {
	return r.container.PreviousState()
}

// Defaults returns a copy of the default snapshot.
func (r *Replica) Defaults() snapshot.Snapshot {
	return snapshot.Clone(r.defaults)
}

// Version returns the stamp of the snapshot currently held.
func (r *Replica) Version() Stamp {
	r.stampMu.Lock()
	defer r.stampMu.Unlock()
	return r.stamp
}

// Subscribe registers fn for changes to keys; see keyed.Container.Subscribe.
func (r *Replica) Subscribe(keys []string, fn keyed.Callback) func() {
	return r.container.Subscribe(keys, fn)
}

// SubscribeAny registers fn for every change; see keyed.Container.SubscribeAny.
func (r *Replica) SubscribeAny(fn keyed.Callback) func() {
	return r.container.SubscribeAny(fn)
}

// Close stops listening on the bus. Updates after Close stay local.
func (r *Replica) Close() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
	r.logger.Debug("replica closed")
	return nil
}

func (r *Replica) isClosed() bool {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	return r.closed
}
