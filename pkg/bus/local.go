package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-replica/pkg/message"
	"github.com/google/uuid"
)

// Local is an in-process attachment to a Router. It satisfies the replica's
// bus dependency: Listen registers the inbound handler and Transport returns
// a sender scoped to one peer role.
type Local struct {
	router *Router
	id     string

	mu     sync.Mutex
	role   message.Role
	detach func()
}

// NewLocal returns an endpoint on router that is not yet listening.
func NewLocal(router *Router) *Local {
	return &Local{router: router, id: uuid.NewString()}
}

// ID returns the endpoint ID used to exclude the sender from its own sends.
func (l *Local) ID() string {
	return l.id
}

// Listen attaches handler under role. A Local listens at most once.
func (l *Local) Listen(role message.Role, handler message.Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.detach != nil {
		return nil, fmt.Errorf("bus: endpoint %s already listening as %s", l.id, l.role)
	}
	_, detach, err := l.router.Attach(Endpoint{ID: l.id, Role: role, Handler: handler})
	if err != nil {
		return nil, err
	}
	l.role = role
	l.detach = detach
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.detach != nil {
			l.detach()
			l.detach = nil
		}
	}, nil
}

// Transport returns a transport reaching peer over its channel.
func (l *Local) Transport(peer message.Role) message.Transport {
	ch := ChannelFor(peer)
	return message.TransportFunc(func(ctx context.Context, msg message.Message) (message.Response, error) {
		return l.router.Route(ctx, message.Sender{Role: l.senderRole(msg), ID: l.id}, ch, msg)
	})
}

func (l *Local) senderRole(msg message.Message) message.Role {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.role != "" {
		return l.role
	}
	return msg.SentFrom
}
