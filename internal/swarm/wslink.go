package swarm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to the byte-stream Conn interface so the
// newline-delimited JSON frame codec (internal/wire) can ride over it the
// same way it would over a raw TCP stream. Each Write is treated as one
// complete frame and sent as a single websocket text message; each Read
// drains one received message at a time, buffering the remainder across
// calls — grounded in the teacher's Client read/write pumps in main.go,
// which also move one full JSON payload per ReadMessage/WriteMessage call.
type wsConn struct {
	conn *websocket.Conn
	buf  []byte
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		messageType, msg, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		w.buf = append(msg, '\n')
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	payload := p
	if n := len(payload); n > 0 && payload[n-1] == '\n' {
		payload = payload[:n-1]
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error { return w.conn.Close() }

func (w *wsConn) RemoteAddr() string { return w.conn.RemoteAddr().String() }

// wsDialer opens outbound channels with github.com/gorilla/websocket,
// matching the library the teacher uses for its client connections.
type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWSDialer returns the reference Dialer implementation.
func NewWSDialer() Dialer {
	return &wsDialer{dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (d *wsDialer) Dial(ctx context.Context, addr string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newWSConn(conn), nil
}

// wsListener accepts inbound channels over an http.Server upgraded to
// websockets, grounded in main.go's handleWebSocket: upgrader.Upgrade
// followed by per-connection reader/writer goroutines, here reshaped into
// a blocking Accept() so it satisfies the Listener interface.
type wsListener struct {
	server   *http.Server
	upgrader websocket.Upgrader
	accepted chan Conn
	closed   chan struct{}
	addr     string
}

// NewWSListener starts an HTTP server on addr whose sole route upgrades
// every request to a websocket channel and hands it to Accept().
func NewWSListener(addr string) (Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	l := &wsListener{
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		accepted: make(chan Conn, 16),
		closed:   make(chan struct{}),
		addr:     ln.Addr().String(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handle)
	l.server = &http.Server{Handler: mux}

	go func() {
		_ = l.server.Serve(ln)
	}()
	return l, nil
}

func (l *wsListener) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.accepted <- newWSConn(conn):
	case <-l.closed:
		_ = conn.Close()
	}
}

func (l *wsListener) Accept() (Conn, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil
	case <-l.closed:
		return nil, errors.New("swarm: listener closed")
	}
}

func (l *wsListener) Close() error {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return l.server.Shutdown(ctx)
}

func (l *wsListener) Addr() string { return l.addr }
