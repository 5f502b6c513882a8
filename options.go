package replica

import (
	"log/slog"
	"time"

	"github.com/goliatone/go-replica/pkg/activity"
	"github.com/goliatone/go-replica/pkg/store"
	"github.com/goliatone/go-replica/snapshot"
	"go.opentelemetry.io/otel/trace"
)

// WithStore sets the durable store. Defaults to an in-memory store.
func WithStore(s store.Store) Option {
	return func(cfg *replicaConfig) {
		cfg.store = s
	}
}

// WithBus sets the message bus. Without one the replica neither receives nor
// broadcasts.
func WithBus(b Bus) Option {
	return func(cfg *replicaConfig) {
		cfg.bus = b
	}
}

// WithDefaults sets the snapshot merged under the persisted one at startup
// and restored by ResetToDefault. The map is copied.
func WithDefaults(defaults snapshot.Snapshot) Option {
	cloned := snapshot.Clone(defaults)
	return func(cfg *replicaConfig) {
		cfg.defaults = cloned
	}
}

// WithNamespace names the snapshot in logs and activity events.
func WithNamespace(namespace string) Option {
	return func(cfg *replicaConfig) {
		cfg.namespace = namespace
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *replicaConfig) {
		cfg.logger = logger
	}
}

// WithMetrics records replica activity on m.
func WithMetrics(m *Metrics) Option {
	return func(cfg *replicaConfig) {
		cfg.metrics = m
	}
}

// WithTracer overrides the tracer resolved from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(cfg *replicaConfig) {
		cfg.tracer = tracer
	}
}

// WithActivity emits settings lifecycle events through emitter.
func WithActivity(emitter *activity.Emitter) Option {
	return func(cfg *replicaConfig) {
		cfg.activity = emitter
	}
}

// WithClock overrides time.Now for activity timestamps.
func WithClock(now func() time.Time) Option {
	return func(cfg *replicaConfig) {
		cfg.now = now
	}
}
