package replica

import (
	"log/slog"
	"time"

	"github.com/goliatone/go-replica/pkg/activity"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/snapshot"
	"go.opentelemetry.io/otel/trace"
)

// Bus is the messaging collaborator a replica listens on and sends through.
// Implemented by bus.Local, memory.Endpoint and wsbus.Client.
type Bus interface {
	// Listen installs the single inbound handler for role.
	Listen(role message.Role, handler message.Handler) (stop func(), err error)
	// Transport returns the sender reaching peer.
	Transport(peer message.Role) message.Transport
}

// PeerResult reports the outcome of one stateUpdate send.
type PeerResult struct {
	Peer     message.Role
	Response message.Response
	Err      error
	// Newer is set when the peer rejected the send as stale. It holds the
	// snapshot and stamp the peer kept.
	Newer *message.StateUpdate
}

// Stamp is the logical version a snapshot was written under.
type Stamp struct {
	Version uint64       `json:"version"`
	Origin  message.Role `json:"origin,omitempty"`
}

// Before reports whether s sorts strictly before other. Versions compare
// first, then origin rank.
func (s Stamp) Before(other Stamp) bool {
	if s.Version != other.Version {
		return s.Version < other.Version
	}
	return s.Origin.Rank() < other.Origin.Rank()
}

// Option configures a Replica.
type Option func(*replicaConfig)

type replicaConfig struct {
	store     store.Store
	bus       Bus
	defaults  snapshot.Snapshot
	namespace string
	logger    *slog.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	activity  *activity.Emitter
	now       func() time.Time
}

func applyOptions(opts []Option) replicaConfig {
	cfg := replicaConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.store == nil {
		cfg.store = store.NewMemoryStore()
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}
	if cfg.tracer == nil {
		cfg.tracer = defaultTracer()
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	cfg.namespace = store.NormalizeNamespace(cfg.namespace)
	return cfg
}
