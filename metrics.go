package replica

import (
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the replica collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "replica").
	Namespace string
	// Subsystem is the metrics subsystem (default: "").
	Subsystem string
	// ConstLabels are added to every collector.
	ConstLabels prometheus.Labels
	// Registry receives the collectors (default: prometheus.DefaultRegisterer).
	Registry prometheus.Registerer
}

// MetricsOption configures MetricsConfig.
type MetricsOption func(*MetricsConfig)

// WithMetricsNamespace sets the metrics namespace.
func WithMetricsNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithMetricsSubsystem sets the metrics subsystem.
func WithMetricsSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels, e.g. the role.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the registerer collectors are created on.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the replica collectors. A nil *Metrics records nothing.
type Metrics struct {
	updates             *prometheus.CounterVec
	changedKeys         prometheus.Counter
	broadcasts          *prometheus.CounterVec
	dispatches          *prometheus.CounterVec
	persistenceFailures prometheus.Counter
	staleDrops          *prometheus.CounterVec
}

// NewMetrics registers the replica collectors:
//   - replica_updates_total{source}: applied updates, local or remote
//   - replica_changed_keys_total: keys that actually changed
//   - replica_broadcasts_total{peer,status}: stateUpdate sends
//   - replica_dispatches_total{kind,outcome}: inbound messages
//   - replica_persistence_failures_total: failed store writes
//   - replica_stale_drops_total{stage}: updates rejected by a newer stamp (stage: receive, store, peer)
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "replica",
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&config)
		}
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		updates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "updates_total",
			Help:        "Total number of snapshot updates applied",
			ConstLabels: config.ConstLabels,
		}, []string{"source"}),

		changedKeys: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "changed_keys_total",
			Help:        "Total number of snapshot keys that changed value",
			ConstLabels: config.ConstLabels,
		}),

		broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcasts_total",
			Help:        "Total number of stateUpdate sends by peer and status",
			ConstLabels: config.ConstLabels,
		}, []string{"peer", "status"}),

		dispatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatches_total",
			Help:        "Total number of inbound messages by kind and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"kind", "outcome"}),

		persistenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "persistence_failures_total",
			Help:        "Total number of failed store writes",
			ConstLabels: config.ConstLabels,
		}),

		staleDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "stale_drops_total",
			Help:        "Total number of updates rejected by a newer version",
			ConstLabels: config.ConstLabels,
		}, []string{"stage"}),
	}
}

func (m *Metrics) recordUpdate(source string, changed int) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(source).Inc()
	m.changedKeys.Add(float64(changed))
}

func (m *Metrics) recordBroadcast(peer message.Role, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.broadcasts.WithLabelValues(string(peer), status).Inc()
}

func (m *Metrics) recordDispatch(kind message.Kind, outcome string) {
	if m == nil {
		return
	}
	m.dispatches.WithLabelValues(string(kind), outcome).Inc()
}

func (m *Metrics) recordPersistenceFailure() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}

func (m *Metrics) recordStaleDrop(stage string) {
	if m == nil {
		return
	}
	m.staleDrops.WithLabelValues(stage).Inc()
}
