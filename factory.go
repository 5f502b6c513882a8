package replica

import (
	"context"
	"sync"

	"github.com/goliatone/go-replica/pkg/message"
)

// Factory builds the process's single replica on first use and hands back
// the same instance afterwards. main owns the factory; nothing is global.
type Factory struct {
	opts []Option

	mu       sync.Mutex
	instance *Replica
}

// NewFactory returns a factory that builds its replica with opts.
func NewFactory(opts ...Option) *Factory {
	return &Factory{opts: append([]Option(nil), opts...)}
}

// Instance returns the replica, building it for role on the first call.
// Later calls return the same pointer and ignore role, logging a warning
// when it differs. A failed build is not cached, so the next call retries.
func (f *Factory) Instance(ctx context.Context, role message.Role) (*Replica, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.instance != nil {
		if role != f.instance.role {
			f.instance.logger.Warn("replica factory ignoring role on repeat call",
				"requested", string(role),
			)
		}
		return f.instance, nil
	}
	r, err := New(ctx, role, f.opts...)
	if err != nil {
		return nil, err
	}
	f.instance = r
	return r, nil
}

// Current returns the built replica, if any.
func (f *Factory) Current() (*Replica, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instance, f.instance != nil
}
