// Package bus routes addressed messages between replica endpoints.
//
// Delivery follows the extension messaging model: a message sent on the
// runtime channel reaches every background and ui endpoint except the sender,
// a message sent on the tabs channel reaches every page endpoint. Every target
// receives the message; the first response that is not suppressed is the
// sender's reply.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-replica/pkg/message"
	"github.com/google/uuid"
)

// Channel names a delivery fan-out.
type Channel string

const (
	// ChannelRuntime reaches background and ui endpoints.
	ChannelRuntime Channel = "runtime"
	// ChannelTabs reaches page endpoints.
	ChannelTabs Channel = "tabs"
)

// ChannelFor returns the channel used to reach peer.
func ChannelFor(peer message.Role) Channel {
	if peer == message.RolePage {
		return ChannelTabs
	}
	return ChannelRuntime
}

// Reaches reports whether ch delivers to role.
func (ch Channel) Reaches(role message.Role) bool {
	switch ch {
	case ChannelTabs:
		return role == message.RolePage
	case ChannelRuntime:
		return role == message.RoleBackground || role == message.RoleUI
	default:
		return false
	}
}

// Endpoint is one listener attached to a Router.
type Endpoint struct {
	ID      string
	Role    message.Role
	Handler message.Handler
}

// Stats counts router traffic.
type Stats struct {
	Sends      int64
	Deliveries int64
	Suppressed int64
	Failures   int64
}

// Router fans messages out to attached endpoints.
type Router struct {
	mu        sync.RWMutex
	endpoints []Endpoint
	logger    *slog.Logger

	sends      atomic.Int64
	deliveries atomic.Int64
	suppressed atomic.Int64
	failures   atomic.Int64
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter returns an empty router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Attach registers ep and returns a func that removes it. An empty ID is
// replaced with a generated one.
func (r *Router) Attach(ep Endpoint) (string, func(), error) {
	if !ep.Role.Valid() {
		return "", nil, fmt.Errorf("bus: invalid role %q", ep.Role)
	}
	if ep.Handler == nil {
		return "", nil, fmt.Errorf("bus: handler is required")
	}
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}

	r.mu.Lock()
	for _, existing := range r.endpoints {
		if existing.ID == ep.ID {
			r.mu.Unlock()
			return "", nil, fmt.Errorf("bus: endpoint %q already attached", ep.ID)
		}
	}
	r.endpoints = append(r.endpoints, ep)
	r.mu.Unlock()

	r.logger.Debug("bus endpoint attached", "id", ep.ID, "role", ep.Role)

	var once sync.Once
	detach := func() {
		once.Do(func() {
			r.detach(ep.ID)
			r.logger.Debug("bus endpoint detached", "id", ep.ID, "role", ep.Role)
		})
	}
	return ep.ID, detach, nil
}

func (r *Router) detach(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ep := range r.endpoints {
		if ep.ID == id {
			r.endpoints = append(r.endpoints[:i:i], r.endpoints[i+1:]...)
			return
		}
	}
}

// Targets lists the endpoints ch reaches, excluding fromID.
func (r *Router) Targets(fromID string, ch Channel) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		if ep.ID == fromID || !ch.Reaches(ep.Role) {
			continue
		}
		out = append(out, ep)
	}
	return out
}

// Route delivers msg to every target on ch. It returns the first response not
// suppressed with message.ErrNotIntendedRecipient, message.ErrNoReceiver when
// ch has no targets, and message.ErrNoResponse when every target suppressed.
func (r *Router) Route(ctx context.Context, from message.Sender, ch Channel, msg message.Message) (message.Response, error) {
	r.sends.Add(1)
	targets := r.Targets(from.ID, ch)
	if len(targets) == 0 {
		return message.Response{}, message.ErrNoReceiver
	}

	var (
		resp     message.Response
		respErr  error
		answered bool
	)
	for _, ep := range targets {
		if err := ctx.Err(); err != nil {
			return message.Response{}, err
		}
		r.deliveries.Add(1)
		got, err := ep.Handler(ctx, msg, from)
		if errors.Is(err, message.ErrNotIntendedRecipient) {
			r.suppressed.Add(1)
			continue
		}
		if err != nil {
			r.failures.Add(1)
			r.logger.Warn("bus delivery failed", "id", ep.ID, "role", ep.Role, "kind", msg.Kind, "error", err)
		}
		if !answered {
			resp, respErr, answered = got, err, true
		}
	}
	if !answered {
		return message.Response{}, message.ErrNoResponse
	}
	return resp, respErr
}

// Stats returns a copy of the traffic counters.
func (r *Router) Stats() Stats {
	return Stats{
		Sends:      r.sends.Load(),
		Deliveries: r.deliveries.Load(),
		Suppressed: r.suppressed.Load(),
		Failures:   r.failures.Load(),
	}
}

// Len reports the number of attached endpoints.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
