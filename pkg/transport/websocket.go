package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bindwire/devicebridge/pkg/logger"
)

const (
	// writeWait is the deadline for a single outbound frame or control message.
	writeWait = 10 * time.Second

	// pongWait is how long the read side tolerates silence before the
	// connection is considered dead.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait so a healthy peer always
	// answers in time.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize caps a single inbound frame.
	maxMessageSize = 1 << 20

	// frameBuffer is the inbound channel depth. The consumer is the bridge
	// read loop, which only does map bookkeeping per frame.
	frameBuffer = 64
)

// WebSocketOptions configures a WebSocket transport.
type WebSocketOptions struct {
	// OnPong fires on every pong control frame from the peer, in addition
	// to the read-deadline reset. Used for heartbeat bookkeeping.
	OnPong func()
}

// WebSocket adapts a gorilla/websocket connection to the Transport interface.
// A single background goroutine pumps inbound frames; writes from callers and
// the ping ticker share one mutex because gorilla permits only one concurrent
// writer.
type WebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	frames chan []byte
	done   chan struct{}

	closeOnce sync.Once
}

// NewWebSocket wraps an upgraded connection and starts its read and ping
// loops. The caller hands ownership of conn to the transport.
func NewWebSocket(conn *websocket.Conn, opts WebSocketOptions) *WebSocket {
	t := &WebSocket{
		conn:   conn,
		frames: make(chan []byte, frameBuffer),
		done:   make(chan struct{}),
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if opts.OnPong != nil {
			opts.OnPong()
		}
		return nil
	})

	go t.readPump()
	go t.pingLoop()

	return t
}

// Write implements Transport.
func (t *WebSocket) Write(ctx context.Context, frame []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	_ = t.conn.SetWriteDeadline(deadline)
	err := t.conn.WriteMessage(websocket.TextMessage, frame)
	t.writeMu.Unlock()

	if err != nil {
		// A failed write means the connection is unusable; shut down so
		// pending requests resolve instead of waiting out their deadlines.
		_ = t.Close()
		return err
	}
	return nil
}

// Frames implements Transport.
func (t *WebSocket) Frames() <-chan []byte {
	return t.frames
}

// Done implements Transport.
func (t *WebSocket) Done() <-chan struct{} {
	return t.done
}

// Close implements Transport. The first call sends a best-effort close frame
// and tears down the connection; later calls are no-ops.
func (t *WebSocket) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()

		_ = t.conn.Close()
	})
	return nil
}

// RemoteAddr implements Transport.
func (t *WebSocket) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

// readPump is the sole sender on t.frames and closes it on exit, so consumers
// observe shutdown as channel close.
func (t *WebSocket) readPump() {
	defer close(t.frames)
	defer func() { _ = t.Close() }()

	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugw("websocket read failed", "remote", t.RemoteAddr(), "error", err)
			}
			return
		}

		select {
		case t.frames <- msg:
		case <-t.done:
			return
		}
	}
}

func (t *WebSocket) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.writeMu.Lock()
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := t.conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				_ = t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}

var _ Transport = (*WebSocket)(nil)
