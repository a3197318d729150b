package swarm

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
	"github.com/sentientforest/pears-gambit-sub000/internal/wire"
)

// sendQueueDepth bounds how many outbound frames may be buffered for a
// slow peer before Send starts dropping, mirroring the teacher's
// `send chan []byte, 256` buffered client channel in main.go.
const sendQueueDepth = 256

// helloFrame is the transport-level identity exchange sent immediately
// after a Conn is established, before any session message. It is distinct
// from wire.Handshake (a session-level, signed claim) and exists only so a
// Channel can learn the remote's public key and derive its PeerID (spec
// §4.1: "PeerID is derived from the remote peer's public key").
type helloFrame struct {
	PublicKey string `json:"publicKey"`
	Role      string `json:"role"`
}

type role int

const (
	rolePlayer role = iota
	roleSpectator
)

func (r role) wireName() string {
	if r == roleSpectator {
		return "spectator"
	}
	return "player"
}

func parseRole(name string) role {
	if name == "spectator" {
		return roleSpectator
	}
	return rolePlayer
}

// peer is one connected remote participant of a Channel.
type peer struct {
	id       identity.PeerID
	writerID identity.WriterID
	role     role
	conn   Conn
	reader *wire.FrameReader
	writer *wire.FrameWriter
	send   chan []byte
	log    *logging.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// newPeer wraps conn in the frame codec immediately and keeps that single
// reader/writer pair for the connection's whole lifetime, including the
// initial hello exchange: bufio.Scanner reads in chunks larger than one
// line, so discarding a throwaway reader after the hello frame would risk
// losing bytes the scanner had already buffered ahead.
func newPeer(r role, conn Conn, log *logging.Logger) *peer {
	return &peer{
		role:   r,
		conn:   conn,
		reader: wire.NewFrameReader(conn),
		writer: wire.NewFrameWriter(conn),
		send:   make(chan []byte, sendQueueDepth),
		log:    log,
		closed: make(chan struct{}),
	}
}

// enqueue buffers payload for delivery by the write pump, dropping it and
// reporting false if the peer's queue is already full (a wedged peer must
// not block the rest of the channel).
func (p *peer) enqueue(payload []byte) bool {
	select {
	case p.send <- payload:
		return true
	case <-p.closed:
		return false
	default:
		p.log.Warn("dropping frame for slow peer", logging.String("peer_id", string(p.id)))
		return false
	}
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// readLoop delivers frames to onMessage until the connection errs or
// closes; a line that fails JSON decode is logged and dropped without
// tearing down the channel (spec §4.1).
func (p *peer) readLoop(onMessage func(identity.PeerID, []byte), onDisconnect func(identity.PeerID, error)) {
	for {
		line, err := p.reader.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.log.Warn("peer read error", logging.String("peer_id", string(p.id)), logging.Error(err))
			}
			p.close()
			onDisconnect(p.id, err)
			return
		}
		if !json.Valid(line) {
			p.log.Debug("dropping malformed frame", logging.String("peer_id", string(p.id)))
			continue
		}
		onMessage(p.id, line)
	}
}

// writeLoop drains the send queue until the peer closes.
func (p *peer) writeLoop() {
	for {
		select {
		case payload := <-p.send:
			if err := p.writer.WriteFrame(payload); err != nil {
				p.log.Warn("peer write error", logging.String("peer_id", string(p.id)), logging.Error(err))
				p.close()
				return
			}
		case <-p.closed:
			return
		}
	}
}

// sendHello writes the local public key and role as the connection's first
// frame.
func (p *peer) sendHello(pub []byte, r role) error {
	payload, err := json.Marshal(helloFrame{PublicKey: hex.EncodeToString(pub), Role: r.wireName()})
	if err != nil {
		return fmt.Errorf("encode hello: %w", err)
	}
	return p.writer.WriteFrame(payload)
}

// readHello reads the connection's first frame and returns the remote's
// public key (from which the caller derives this peer's stable PeerID
// prefix) and declared role.
func (p *peer) readHello() (identity.WriterID, role, error) {
	line, err := p.reader.ReadFrame()
	if err != nil {
		return identity.WriterID{}, 0, fmt.Errorf("read hello: %w", err)
	}
	var hello helloFrame
	if err := json.Unmarshal(line, &hello); err != nil {
		return identity.WriterID{}, 0, fmt.Errorf("decode hello: %w", err)
	}
	var w identity.WriterID
	raw, err := hex.DecodeString(hello.PublicKey)
	if err != nil || len(raw) != len(w) {
		return identity.WriterID{}, 0, fmt.Errorf("malformed hello public key")
	}
	copy(w[:], raw)
	return w, parseRole(hello.Role), nil
}
