package activity

import (
	"context"
	"strings"
	"sync"
)

// DefaultChannel is applied to events that name none.
const DefaultChannel = "settings"

// Config controls the Emitter.
type Config struct {
	Enabled bool
	Channel string
	// ActorID is stamped on events that carry none, e.g. the installation ID.
	ActorID string
}

// Emitter applies defaults and forwards events to its hooks. A nil Emitter
// is valid and emits nothing.
type Emitter struct {
	hooks   Hooks
	channel string
	actorID string
}

// NewEmitter returns an emitter over hooks, or nil when cfg disables
// emission or no hook is usable.
func NewEmitter(hooks Hooks, cfg Config) *Emitter {
	if !cfg.Enabled {
		return nil
	}
	usable := make(Hooks, 0, len(hooks))
	for _, hook := range hooks {
		if hook != nil {
			usable = append(usable, hook)
		}
	}
	if len(usable) == 0 {
		return nil
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = DefaultChannel
	}
	return &Emitter{hooks: usable, channel: channel, actorID: strings.TrimSpace(cfg.ActorID)}
}

// Enabled reports whether Emit reaches any hook.
func (e *Emitter) Enabled() bool {
	return e != nil
}

// Emit fills the default channel and actor, then notifies the hooks.
func (e *Emitter) Emit(ctx context.Context, event Event) error {
	if e == nil {
		return nil
	}
	if strings.TrimSpace(event.Channel) == "" {
		event.Channel = e.channel
	}
	if strings.TrimSpace(event.ActorID) == "" {
		event.ActorID = e.actorID
	}
	return e.hooks.Notify(ctx, event)
}

// Recorder is a Hook that keeps every event, for tests and debugging.
type Recorder struct {
	// Err is returned from every Notify.
	Err error

	mu     sync.Mutex
	events []Event
}

// Notify implements Hook.
func (r *Recorder) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

// Events returns the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events carried verb.
func (r *Recorder) Count(verb string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, event := range r.events {
		if event.Verb == verb {
			n++
		}
	}
	return n
}
