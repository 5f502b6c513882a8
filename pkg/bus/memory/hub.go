// Package memory provides an in-process message hub for replicas that share
// one Go process, with per-peer send accounting and fault injection.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goliatone/go-replica/pkg/bus"
	"github.com/goliatone/go-replica/pkg/message"
)

// ErrDropped is returned by sends to a role the hub is dropping.
var ErrDropped = errors.New("memory: peer unreachable")

// Hub connects in-process endpoints through a bus.Router.
type Hub struct {
	router *bus.Router
	logger *slog.Logger

	mu      sync.Mutex
	dropped map[message.Role]bool
	sends   map[message.Role]int
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub returns an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:  slog.New(slog.DiscardHandler),
		dropped: map[message.Role]bool{},
		sends:   map[message.Role]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.router = bus.NewRouter(bus.WithLogger(h.logger))
	return h
}

// Join returns a new endpoint on the hub.
func (h *Hub) Join() *Endpoint {
	return &Endpoint{hub: h, local: bus.NewLocal(h.router)}
}

// Drop makes sends addressed to role fail with ErrDropped until restored.
func (h *Hub) Drop(role message.Role, drop bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped[role] = drop
}

// Sends reports how many sends targeted role.
func (h *Hub) Sends(role message.Role) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sends[role]
}

// TotalSends reports every send made through the hub.
func (h *Hub) TotalSends() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, n := range h.sends {
		total += n
	}
	return total
}

// Reset clears the send counters.
func (h *Hub) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sends = map[message.Role]int{}
}

// Stats returns the underlying router counters.
func (h *Hub) Stats() bus.Stats {
	return h.router.Stats()
}

func (h *Hub) record(peer message.Role) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sends[peer]++
	if h.dropped[peer] {
		return fmt.Errorf("%w: %s", ErrDropped, peer)
	}
	return nil
}

// Endpoint is one replica's attachment to a Hub.
type Endpoint struct {
	hub   *Hub
	local *bus.Local
}

// ID returns the endpoint ID.
func (e *Endpoint) ID() string {
	return e.local.ID()
}

// Listen attaches the inbound handler under role.
func (e *Endpoint) Listen(role message.Role, handler message.Handler) (func(), error) {
	return e.local.Listen(role, handler)
}

// Transport returns a transport to peer that honours the hub's drop list.
func (e *Endpoint) Transport(peer message.Role) message.Transport {
	next := e.local.Transport(peer)
	return message.TransportFunc(func(ctx context.Context, msg message.Message) (message.Response, error) {
		if err := e.hub.record(peer); err != nil {
			e.hub.logger.Debug("memory hub dropped send", "peer", peer, "kind", msg.Kind)
			return message.Response{}, err
		}
		return next.Send(ctx, msg)
	})
}
