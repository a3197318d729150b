// Package swarm implements the peer discovery and duplex channel contract
// (spec §4.1): Join a topic, exchange framed JSON messages with whoever
// else joins it, subject to per-role connection limits.
package swarm

import (
	"context"
	"fmt"
	"sync"

	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
)

const (
	// DefaultMaxPlayers is the connection limit for the player role (spec
	// §4.1: two participants share a game).
	DefaultMaxPlayers = 2
	// DefaultMaxSpectators is the connection limit for read-only observers.
	DefaultMaxSpectators = 10
)

// JoinOptions configures a Channel at Join time.
type JoinOptions struct {
	// Listener, if non-nil, accepts inbound connections for this topic.
	// Omit it for a pure dial-out participant (e.g. a guest joining a host).
	Listener Listener

	MaxPlayers    int
	MaxSpectators int
}

func (o JoinOptions) withDefaults() JoinOptions {
	if o.MaxPlayers <= 0 {
		o.MaxPlayers = DefaultMaxPlayers
	}
	if o.MaxSpectators <= 0 {
		o.MaxSpectators = DefaultMaxSpectators
	}
	return o
}

// Transport is the shared dependency set (identity, dialer, discovery) a
// process uses to Join any number of topics.
type Transport struct {
	self       identity.Identity
	dialer     Dialer
	discoverer Discoverer
	log        *logging.Logger
}

// NewTransport constructs a Transport. dialer is typically NewWSDialer();
// discoverer is typically NewRegistry() unless an external rendezvous
// service is wired in.
func NewTransport(self identity.Identity, dialer Dialer, discoverer Discoverer, log *logging.Logger) *Transport {
	if log == nil {
		log = logging.L()
	}
	return &Transport{self: self, dialer: dialer, discoverer: discoverer, log: log}
}

// Join opens a Channel for topic. If opts.Listener is set, the channel also
// accepts inbound connections for as long as it stays open.
func (t *Transport) Join(topic Topic, opts JoinOptions) (*Channel, error) {
	opts = opts.withDefaults()
	c := &Channel{
		topic:     topic,
		transport: t,
		opts:      opts,
		peers:     make(map[identity.PeerID]*peer),
		closed:    make(chan struct{}),
		log:       t.log.With(logging.String("topic", fmt.Sprintf("%x", topic[:4]))),
	}
	if err := t.discoverer.Advertise(topic, Advertisement{PeerID: string(t.self.PeerID())}); err != nil {
		return nil, fmt.Errorf("advertise topic: %w", err)
	}
	if opts.Listener != nil {
		c.listener = opts.Listener
		go c.acceptLoop()
	}
	return c, nil
}

// Channel is one joined topic: a set of connected peers plus the callbacks
// a session/spectator layer registers to react to their traffic.
type Channel struct {
	topic     Topic
	transport *Transport
	opts      JoinOptions
	log       *logging.Logger

	mu         sync.RWMutex
	peers      map[identity.PeerID]*peer
	players    int
	spectators int

	onConnect    func(identity.PeerID)
	onDisconnect func(identity.PeerID, error)
	onMessage    func(identity.PeerID, []byte)
	onError      func(identity.PeerID, error)

	listener  Listener
	closeOnce sync.Once
	closed    chan struct{}
}

// OnConnect registers the callback fired when a new peer is accepted or
// dialed and has completed the identity hello.
func (c *Channel) OnConnect(fn func(identity.PeerID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// OnDisconnect registers the callback fired when a peer's connection ends.
func (c *Channel) OnDisconnect(fn func(identity.PeerID, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = fn
}

// OnMessage registers the callback fired for every frame a peer sends.
func (c *Channel) OnMessage(fn func(identity.PeerID, []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnError registers the callback fired for transport-level errors that
// don't map to a specific peer disconnect (e.g. a listener accept failure).
func (c *Channel) OnError(fn func(identity.PeerID, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

// DialPlayer connects out to addr as a player participant (spec §4.3 guest
// connecting to a host's advertised address).
func (c *Channel) DialPlayer(ctx context.Context, addr string) (identity.PeerID, error) {
	return c.dial(ctx, addr, rolePlayer)
}

// DialSpectator connects out to addr as a read-only observer (spec §4.4).
func (c *Channel) DialSpectator(ctx context.Context, addr string) (identity.PeerID, error) {
	return c.dial(ctx, addr, roleSpectator)
}

func (c *Channel) dial(ctx context.Context, addr string, r role) (identity.PeerID, error) {
	conn, err := c.transport.dialer.Dial(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	return c.handshakeAndRegister(conn, r)
}

func (c *Channel) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.fireError("", err)
			return
		}
		go func() {
			// Inbound role is declared by the remote in its hello frame;
			// handshakeAndRegister enforces limits once it learns which.
			if _, err := c.handshakeAndRegister(conn, rolePlayer); err != nil {
				c.log.Warn("inbound handshake failed", logging.Error(err))
				_ = conn.Close()
			}
		}()
	}
}

// handshakeAndRegister performs the transport-level hello exchange,
// enforces the role connection limit, and starts the peer's pumps.
// dialedRole is only used to announce this side's own role; the remote's
// declared role (from its hello frame) is what counts against limits for
// an inbound connection.
func (c *Channel) handshakeAndRegister(conn Conn, dialedRole role) (identity.PeerID, error) {
	p := newPeer(dialedRole, conn, c.log)
	if err := p.sendHello(c.transport.self.Public, dialedRole); err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("send hello: %w", err)
	}
	remotePub, remoteRole, err := p.readHello()
	if err != nil {
		_ = conn.Close()
		return "", fmt.Errorf("read hello: %w", err)
	}
	p.role = remoteRole
	p.writerID = remotePub
	peerID := identity.DerivePeerID(remotePub.PublicKey())
	p.id = peerID

	if err := c.register(p); err != nil {
		_ = conn.Close()
		return "", err
	}

	go p.writeLoop()
	go p.readLoop(c.deliverMessage, func(id identity.PeerID, cause error) {
		c.unregister(id)
		c.fireDisconnect(id, cause)
	})
	c.fireConnect(peerID)
	return peerID, nil
}

func (c *Channel) register(p *peer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.peers[p.id]; exists {
		return fmt.Errorf("peer %s already connected", p.id)
	}
	switch p.role {
	case roleSpectator:
		if c.spectators >= c.opts.MaxSpectators {
			return fmt.Errorf("spectator limit reached (%d)", c.opts.MaxSpectators)
		}
		c.spectators++
	default:
		if c.players >= c.opts.MaxPlayers {
			return fmt.Errorf("player limit reached (%d)", c.opts.MaxPlayers)
		}
		c.players++
	}
	c.peers[p.id] = p
	return nil
}

func (c *Channel) unregister(id identity.PeerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[id]
	if !ok {
		return
	}
	delete(c.peers, id)
	if p.role == roleSpectator {
		c.spectators--
	} else {
		c.players--
	}
}

// Send delivers msg to exactly one connected peer, reporting whether it was
// queued (false if the peer is unknown or its queue is saturated).
func (c *Channel) Send(peerID identity.PeerID, msg []byte) bool {
	c.mu.RLock()
	p, ok := c.peers[peerID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	return p.enqueue(msg)
}

// Broadcast delivers msg to every connected peer, returning how many
// accepted it.
func (c *Channel) Broadcast(msg []byte) int {
	c.mu.RLock()
	peers := make([]*peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.RUnlock()
	sent := 0
	for _, p := range peers {
		if p.enqueue(msg) {
			sent++
		}
	}
	return sent
}

// PeerWriterID returns the full public key a connected peer announced in
// its hello frame, needed by higher layers (internal/session) to address
// that peer's stream in the replicated move log, since PeerID itself is
// only a truncated display prefix (spec §4.1).
func (c *Channel) PeerWriterID(peerID identity.PeerID) (identity.WriterID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[peerID]
	if !ok {
		return identity.WriterID{}, false
	}
	return p.writerID, true
}

// PeerIsSpectator reports whether peerID announced the read-only
// spectator role in its hello frame, so a caller like internal/session can
// route a newly connected peer to the player handshake or the spectator
// full-sync path without the transport layer knowing about either.
func (c *Channel) PeerIsSpectator(peerID identity.PeerID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.peers[peerID]
	if !ok {
		return false
	}
	return p.role == roleSpectator
}

// PeerCounts reports the current player/spectator occupancy.
func (c *Channel) PeerCounts() (players, spectators int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.players, c.spectators
}

// Leave disconnects every peer, stops accepting new ones, and retracts this
// node's discovery advertisement.
func (c *Channel) Leave() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.listener != nil {
			err = c.listener.Close()
		}
		c.mu.Lock()
		peers := make([]*peer, 0, len(c.peers))
		for _, p := range c.peers {
			peers = append(peers, p)
		}
		c.peers = make(map[identity.PeerID]*peer)
		c.players, c.spectators = 0, 0
		c.mu.Unlock()
		for _, p := range peers {
			p.close()
		}
		_ = c.transport.discoverer.Unadvertise(c.topic, string(c.transport.self.PeerID()))
	})
	return err
}

func (c *Channel) deliverMessage(id identity.PeerID, payload []byte) {
	c.mu.RLock()
	fn := c.onMessage
	c.mu.RUnlock()
	if fn != nil {
		fn(id, payload)
	}
}

func (c *Channel) fireConnect(id identity.PeerID) {
	c.mu.RLock()
	fn := c.onConnect
	c.mu.RUnlock()
	if fn != nil {
		fn(id)
	}
}

func (c *Channel) fireDisconnect(id identity.PeerID, cause error) {
	c.mu.RLock()
	fn := c.onDisconnect
	c.mu.RUnlock()
	if fn != nil {
		fn(id, cause)
	}
}

func (c *Channel) fireError(id identity.PeerID, cause error) {
	c.mu.RLock()
	fn := c.onError
	c.mu.RUnlock()
	if fn != nil {
		fn(id, cause)
	}
}
