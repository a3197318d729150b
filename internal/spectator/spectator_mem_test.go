package spectator

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sentientforest/pears-gambit-sub000/internal/swarm"
)

// pipeConn and memNetwork mirror internal/session's own in-process test
// network (itself grounded in internal/swarm/pipeconn_test.go), duplicated
// here since it is an unexported test helper local to each package.
type pipeConn struct {
	net.Conn
}

func (p pipeConn) RemoteAddr() string { return p.Conn.RemoteAddr().String() }

type memNetwork struct {
	mu        sync.Mutex
	listeners map[string]*memListener
}

func newMemNetwork() *memNetwork {
	return &memNetwork{listeners: make(map[string]*memListener)}
}

func (n *memNetwork) listen(addr string) *memListener {
	l := &memListener{addr: addr, incoming: make(chan swarm.Conn, 4), closed: make(chan struct{})}
	n.mu.Lock()
	n.listeners[addr] = l
	n.mu.Unlock()
	return l
}

func (n *memNetwork) dialer() swarm.Dialer { return memDialer{network: n} }

func (n *memNetwork) dial(addr string) (swarm.Conn, error) {
	n.mu.Lock()
	l, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no listener at %s", addr)
	}
	a, b := net.Pipe()
	l.incoming <- pipeConn{b}
	return pipeConn{a}, nil
}

type memDialer struct{ network *memNetwork }

func (d memDialer) Dial(_ context.Context, addr string) (swarm.Conn, error) {
	return d.network.dial(addr)
}

type memListener struct {
	addr      string
	incoming  chan swarm.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *memListener) Accept() (swarm.Conn, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.closed:
		return nil, fmt.Errorf("listener closed")
	}
}

func (l *memListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *memListener) Addr() string { return l.addr }
