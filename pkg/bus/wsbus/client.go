package wsbus

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/goliatone/go-replica/pkg/bus"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/gorilla/websocket"
)

// Client is a remote endpoint connected to a Hub.
type Client struct {
	role message.Role
	pc   *peerConn

	mu      sync.RWMutex
	handler message.Handler

	readErr  error
	readDone chan struct{}
}

type clientConfig struct {
	logger  *slog.Logger
	timeout time.Duration
	dialer  *websocket.Dialer
}

// ClientOption configures a Client.
type ClientOption func(*clientConfig)

// WithClientLogger sets the client logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithRequestTimeout bounds how long a send waits for the hub's reply.
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithDialer overrides the websocket dialer.
func WithDialer(dialer *websocket.Dialer) ClientOption {
	return func(cfg *clientConfig) {
		if dialer != nil {
			cfg.dialer = dialer
		}
	}
}

// Dial connects to the hub's bus endpoint as role. rawURL is the hub's
// websocket URL, e.g. ws://127.0.0.1:7420/bus.
func Dial(ctx context.Context, rawURL string, role message.Role, opts ...ClientOption) (*Client, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("wsbus: invalid role %q", role)
	}
	cfg := clientConfig{
		logger:  slog.New(slog.DiscardHandler),
		timeout: defaultRequestTimeout,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("wsbus: parse hub url: %w", err)
	}
	query := target.Query()
	query.Set("role", string(role))
	target.RawQuery = query.Encode()

	conn, _, err := cfg.dialer.DialContext(ctx, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("wsbus: dial %s: %w", rawURL, err)
	}

	c := &Client{
		role:     role,
		pc:       newPeerConn(conn, cfg.logger, cfg.timeout),
		readDone: make(chan struct{}),
	}
	go func() {
		c.readErr = c.pc.readLoop(c.serveFrame)
		close(c.readDone)
	}()
	return c, nil
}

// Role returns the role the client connected as.
func (c *Client) Role() message.Role {
	return c.role
}

// Listen installs the handler for deliveries. role must match the role the
// client dialed with.
func (c *Client) Listen(role message.Role, handler message.Handler) (func(), error) {
	if role != c.role {
		return nil, fmt.Errorf("wsbus: client connected as %s cannot listen as %s", c.role, role)
	}
	if handler == nil {
		return nil, fmt.Errorf("wsbus: handler is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handler != nil {
		return nil, fmt.Errorf("wsbus: client already listening")
	}
	c.handler = handler
	return func() {
		c.mu.Lock()
		c.handler = nil
		c.mu.Unlock()
	}, nil
}

// Transport returns a transport reaching peer through the hub.
func (c *Client) Transport(peer message.Role) message.Transport {
	ch := bus.ChannelFor(peer)
	return message.TransportFunc(func(ctx context.Context, msg message.Message) (message.Response, error) {
		reply, err := c.pc.request(ctx, Frame{Op: OpSend, Channel: ch, Message: &msg})
		if err != nil {
			return message.Response{}, err
		}
		return reply.result()
	})
}

func (c *Client) serveFrame(ctx context.Context, f Frame) Frame {
	if f.Op != OpDeliver || f.Message == nil {
		return replyFrame(f.ID, message.Response{}, fmt.Errorf("wsbus: unexpected %q frame from hub", f.Op))
	}
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return replyFrame(f.ID, message.Response{}, message.ErrNotIntendedRecipient)
	}
	resp, err := handler(ctx, *f.Message, message.Sender{Role: f.SenderRole, ID: f.SenderID})
	return replyFrame(f.ID, resp, err)
}

// Done is closed once the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.readDone
}

// Close disconnects from the hub and waits for the read loop to exit.
func (c *Client) Close() error {
	c.pc.close()
	<-c.readDone
	return nil
}

// Err returns the read error that ended the connection, if any.
func (c *Client) Err() error {
	select {
	case <-c.readDone:
		return c.readErr
	default:
		return nil
	}
}
