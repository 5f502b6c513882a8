package wsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-replica/pkg/bus"
	"github.com/goliatone/go-replica/pkg/message"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub accepts websocket endpoints and routes their frames.
type Hub struct {
	router   *bus.Router
	logger   *slog.Logger
	upgrader websocket.Upgrader
	timeout  time.Duration

	mu    sync.Mutex
	conns map[string]*peerConn
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHubRequestTimeout bounds how long a delivery waits for a remote reply.
func WithHubRequestTimeout(timeout time.Duration) HubOption {
	return func(h *Hub) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(check func(*http.Request) bool) HubOption {
	return func(h *Hub) {
		if check != nil {
			h.upgrader.CheckOrigin = check
		}
	}
}

// NewHub returns a hub with no endpoints.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		logger:  slog.New(slog.DiscardHandler),
		timeout: defaultRequestTimeout,
		conns:   make(map[string]*peerConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.router = bus.NewRouter(bus.WithLogger(h.logger))
	return h
}

// Handler returns the hub routes: GET /bus upgrades, GET /healthz reports
// attached endpoints.
func (h *Hub) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/bus", h.ServeWS)
	r.Get("/healthz", h.serveHealth)
	return r
}

// Local returns an in-process endpoint routed together with remote ones.
func (h *Hub) Local() *bus.Local {
	return bus.NewLocal(h.router)
}

// Stats returns the router counters.
func (h *Hub) Stats() bus.Stats {
	return h.router.Stats()
}

// Connections reports the number of live websocket endpoints.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ServeWS upgrades the request and serves the endpoint until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, req *http.Request) {
	role, err := message.ParseRole(req.URL.Query().Get("role"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn("wsbus upgrade failed", "role", role, "error", err)
		return
	}

	id := uuid.NewString()
	pc := newPeerConn(conn, h.logger, h.timeout)
	_, detach, err := h.router.Attach(bus.Endpoint{ID: id, Role: role, Handler: h.deliverTo(pc)})
	if err != nil {
		h.logger.Warn("wsbus attach failed", "role", role, "error", err)
		pc.close()
		return
	}

	h.mu.Lock()
	h.conns[id] = pc
	h.mu.Unlock()
	h.logger.Info("wsbus endpoint connected", "id", id, "role", role)

	sender := message.Sender{Role: role, ID: id}
	err = pc.readLoop(func(ctx context.Context, f Frame) Frame {
		return h.serveFrame(ctx, sender, f)
	})

	detach()
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.logger.Debug("wsbus endpoint read ended", "id", id, "role", role, "error", err)
	}
	h.logger.Info("wsbus endpoint disconnected", "id", id, "role", role)
}

func (h *Hub) serveFrame(ctx context.Context, sender message.Sender, f Frame) Frame {
	if f.Op != OpSend {
		return replyFrame(f.ID, message.Response{}, fmt.Errorf("wsbus: unexpected %q frame from endpoint", f.Op))
	}
	if f.Message == nil {
		return replyFrame(f.ID, message.Response{}, errors.New("wsbus: send frame without message"))
	}
	resp, err := h.router.Route(ctx, sender, f.Channel, *f.Message)
	return replyFrame(f.ID, resp, err)
}

// deliverTo forwards routed messages to a remote endpoint.
func (h *Hub) deliverTo(pc *peerConn) message.Handler {
	return func(ctx context.Context, msg message.Message, from message.Sender) (message.Response, error) {
		reply, err := pc.request(ctx, Frame{
			Op:         OpDeliver,
			Message:    &msg,
			SenderRole: from.Role,
			SenderID:   from.ID,
		})
		if err != nil {
			return message.Response{}, err
		}
		return reply.result()
	}
}

func (h *Hub) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"endpoints":   h.router.Len(),
		"connections": h.Connections(),
	})
}

// Close disconnects every websocket endpoint.
func (h *Hub) Close() error {
	h.mu.Lock()
	conns := make([]*peerConn, 0, len(h.conns))
	for _, pc := range h.conns {
		conns = append(conns, pc)
	}
	h.mu.Unlock()
	for _, pc := range conns {
		pc.close()
	}
	return nil
}
