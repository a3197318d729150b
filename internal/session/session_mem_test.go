package session

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/sentientforest/pears-gambit-sub000/internal/swarm"
)

// pipeConn adapts a net.Conn (as returned by net.Pipe) to the swarm.Conn
// interface, mirroring the adapter internal/swarm's own tests use for
// in-process connections.
type pipeConn struct {
	net.Conn
}

func (p pipeConn) RemoteAddr() string { return p.Conn.RemoteAddr().String() }

// memNetwork is an in-process, address-routed network of net.Pipe links. It
// lets two Sessions in the same test binary exchange swarm traffic without a
// real socket, and lets a test grab the raw conn a dial produced so it can
// sever it on demand to simulate a dropped peer.
type memNetwork struct {
	mu        sync.Mutex
	listeners map[string]*memListener
	dialed    chan net.Conn
}

func newMemNetwork() *memNetwork {
	return &memNetwork{listeners: make(map[string]*memListener), dialed: make(chan net.Conn, 16)}
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
	n.dialed <- a
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
