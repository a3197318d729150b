package swarm

import (
	"io"
	"net"
)

// pipeConn adapts a net.Conn (as returned by net.Pipe) to the swarm Conn
// interface for in-process tests, avoiding any real network dependency.
type pipeConn struct {
	net.Conn
}

func (p pipeConn) RemoteAddr() string { return p.Conn.RemoteAddr().String() }

// newPipePair returns two connected Conns wired directly to each other.
func newPipePair() (Conn, Conn) {
	a, b := net.Pipe()
	return pipeConn{a}, pipeConn{b}
}

var _ io.ReadWriteCloser = pipeConn{}
