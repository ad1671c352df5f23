package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// ErrListenerClosed is returned by Accept after Close
var ErrListenerClosed = errors.New("link listener closed")

// WSConn adapts a websocket connection to a byte stream. Each Write is sent
// as one binary message; Read drains messages in order.
type WSConn struct {
	conn *websocket.Conn

	reader io.Reader
	readMu sync.Mutex

	writeMu sync.Mutex
}

// NewWSConn wraps an established websocket connection
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// DialWebSocket connects to a link endpoint such as ws://relay:8080/link
func DialWebSocket(ctx context.Context, url string) (*WSConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return NewWSConn(conn), nil
}

// Read reads payload bytes, crossing message boundaries transparently
func (c *WSConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for {
		if c.reader == nil {
			msgType, r, err := c.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

// Write sends p as a single binary message
func (c *WSConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the connection
func (c *WSConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// WSListener accepts inbound links over HTTP. Only one link is handed out at
// a time; further connections are refused while one is pending.
type WSListener struct {
	upgrader websocket.Upgrader
	conns    chan *WSConn
	logger   *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// NewWSListener creates a listener to mount on an HTTP mux
func NewWSListener(logger *slog.Logger) *WSListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSListener{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Capture nodes are not browsers and send no Origin header
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:  make(chan *WSConn, 1),
		logger: logger,
		closed: make(chan struct{}),
	}
}

// ServeHTTP upgrades the request and queues the link for Accept
func (l *WSListener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.closed:
		http.Error(w, "link listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	select {
	case l.conns <- NewWSConn(conn):
		l.logger.Info("Link connected", slog.String("remote_addr", r.RemoteAddr))
	default:
		l.logger.Warn("Link already pending, refusing connection", slog.String("remote_addr", r.RemoteAddr))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "busy"))
		conn.Close()
	}
}

// Accept waits for the next inbound link
func (l *WSListener) Accept(ctx context.Context) (*WSConn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, ErrListenerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops handing out links
func (l *WSListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}
