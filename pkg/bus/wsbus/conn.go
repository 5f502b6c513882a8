package wsbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait             = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
)

// peerConn multiplexes request/reply frames over one websocket.
type peerConn struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan Frame

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func newPeerConn(conn *websocket.Conn, logger *slog.Logger, timeout time.Duration) *peerConn {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &peerConn{
		conn:    conn,
		logger:  logger,
		timeout: timeout,
		pending: make(map[string]chan Frame),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *peerConn) write(f Frame) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if err := p.ctx.Err(); err != nil {
		return ErrClosed
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := p.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("wsbus: write %s frame: %w", f.Op, err)
	}
	return nil
}

// request writes f and waits for the reply with the same ID.
func (p *peerConn) request(ctx context.Context, f Frame) (Frame, error) {
	f.ID = uuid.NewString()
	reply := make(chan Frame, 1)

	p.mu.Lock()
	p.pending[f.ID] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, f.ID)
		p.mu.Unlock()
	}()

	if err := p.write(f); err != nil {
		return Frame{}, err
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	select {
	case got := <-reply:
		return got, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-p.ctx.Done():
		return Frame{}, ErrClosed
	case <-timer.C:
		return Frame{}, fmt.Errorf("wsbus: request %s timed out after %s", f.ID, p.timeout)
	}
}

func (p *peerConn) resolve(f Frame) {
	p.mu.Lock()
	reply, ok := p.pending[f.ID]
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("wsbus reply without pending request", "id", f.ID)
		return
	}
	reply <- f
}

// readLoop dispatches frames until the socket fails. Requests run on their
// own goroutine so a handler may issue requests on the same connection.
func (p *peerConn) readLoop(serve func(context.Context, Frame) Frame) error {
	defer p.close()
	for {
		var f Frame
		if err := p.conn.ReadJSON(&f); err != nil {
			return err
		}
		if f.Op == OpReply {
			p.resolve(f)
			continue
		}
		go func(f Frame) {
			out := serve(p.ctx, f)
			out.ID = f.ID
			if err := p.write(out); err != nil {
				p.logger.Debug("wsbus reply not written", "id", f.ID, "error", err)
			}
		}(f)
	}
}

func (p *peerConn) close() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.writeMu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		p.writeMu.Unlock()
		_ = p.conn.Close()
	})
}

func (p *peerConn) done() <-chan struct{} {
	return p.ctx.Done()
}
