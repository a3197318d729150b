package swarm

import (
	"context"
	"io"
)

// Conn is a single duplex byte stream to one remote peer. Any transport
// that can produce one (TCP, a Unix socket, a websocket) can back a
// Channel; the reference implementation in wslink.go uses
// github.com/gorilla/websocket.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() string
}

// Dialer opens an outbound Conn to addr. addr's shape is Dialer-specific
// (a ws:// URL for wsDialer).
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Listener accepts inbound Conns. Accept blocks until a peer connects or
// the listener is closed, at which point it returns an error.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Addr() string
}
