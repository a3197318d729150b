package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/auth"
	"github.com/sentientforest/pears-gambit-sub000/internal/chessrules"
	"github.com/sentientforest/pears-gambit-sub000/internal/gameid"
	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
	"github.com/sentientforest/pears-gambit-sub000/internal/movelog"
	"github.com/sentientforest/pears-gambit-sub000/internal/swarm"
)

// Snapshot is what a Session hands to a Persister after every state-
// changing event, mirroring spec §3's GameSnapshot shape closely enough
// for internal/persistence to serialize directly.
type Snapshot struct {
	GameID      string
	Players     map[string]string // color -> display name/peer id
	MoveHistory []movelog.Move
	CurrentTurn string
	IsGameOver  bool
	Result      string
	StartTime   int64
	PlayerColor string
	IsHost      bool
	FEN         string
}

// Persister is the narrow interface Session depends on to durably record
// its state; internal/persistence.Store satisfies it.
type Persister interface {
	SaveGame(snapshot Snapshot) error
}

// Callbacks is the upward Session→UI interface (spec §6.5).
type Callbacks struct {
	OnGameStateChange func(State)
	OnMoveReceived    func(movelog.Move)
	OnConnectionChange func(peerID identity.PeerID, connected bool)
	OnError           func(error)
	OnGameEnd         func(result string)
}

func (c Callbacks) fireState(s State) {
	if c.OnGameStateChange != nil {
		c.OnGameStateChange(s)
	}
}
func (c Callbacks) fireMove(m movelog.Move) {
	if c.OnMoveReceived != nil {
		c.OnMoveReceived(m)
	}
}
func (c Callbacks) fireConnection(id identity.PeerID, connected bool) {
	if c.OnConnectionChange != nil {
		c.OnConnectionChange(id, connected)
	}
}
func (c Callbacks) fireError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}
func (c Callbacks) fireEnd(result string) {
	if c.OnGameEnd != nil {
		c.OnGameEnd(result)
	}
}

// Options bundles the timing knobs spec §5 names, so callers can pass
// config.Config's fields directly without this package importing config
// (avoiding a dependency a library package shouldn't need).
type Options struct {
	Now                  func() time.Time
	HandshakeTimeout      time.Duration
	ConnectTimeout        time.Duration
	GuestSyncGuard        time.Duration
	ReconnectBaseDelay    time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.GuestSyncGuard <= 0 {
		o.GuestSyncGuard = 1000 * time.Millisecond
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
	if o.ReconnectMaxDelay <= 0 {
		o.ReconnectMaxDelay = 10 * time.Second
	}
	if o.ReconnectMaxAttempts <= 0 {
		o.ReconnectMaxAttempts = 5
	}
	return o
}

// Session drives one live game's waiting→connecting→syncing→active→
// finished lifecycle (spec §4.3). All mutable state is owned by a single
// run-loop goroutine; every external call (SendMove, event delivery)
// posts a closure onto that loop rather than taking a lock directly —
// the Go realization of the "single-threaded cooperative event loop"
// spec §5 describes, grounded in internal/simulation/loop.go's
// ticker+select goroutine shape but event-driven instead of fixed-step.
type Session struct {
	gameID gameid.ID
	self   identity.Identity
	role   Role
	color  Color

	rules     chessrules.Engine
	log       *movelog.Log
	transport *swarm.Transport
	channel   *swarm.Channel
	persister Persister
	cb        Callbacks
	opts      Options
	sysLog    *logging.Logger
	verifier  *auth.Verifier

	events chan func()
	done   chan struct{}
	stop   sync.Once

	// run-loop-owned fields below; never touched from outside events<-.
	state          State
	peerID         identity.PeerID
	peerWriterID   identity.WriterID
	remoteNextIdx  uint64
	connected      bool
	currentFEN     string
	isGameOver     bool
	result         string
	seen           map[string]struct{}
	reconnAttempt  int
	reconnAddr     string
	reconnTimer    *time.Timer
	guestTimer     *time.Timer
	startTime      int64
}

// Config bundles the dependencies a Session needs; both NewHost and
// NewGuest take one.
type Config struct {
	Self      identity.Identity
	Rules     chessrules.Engine
	Transport *swarm.Transport
	Persister Persister
	Callbacks Callbacks
	Options   Options
	// Listener, if set, lets the transport accept inbound peers (the host
	// supplies one; a pure-dialing guest typically does not).
	Listener swarm.Listener
}

// NewHost creates a fresh game: generates an InviteCode/GameId, opens the
// move log, and joins the swarm topic ready to accept a guest (spec §4.3
// "Creating a game").
func NewHost(storageDir string, cfg Config) (*Session, string, error) {
	code, id, err := gameid.NewInviteCode()
	if err != nil {
		return nil, "", err
	}
	s, err := newSession(storageDir, id, RoleHost, ColorWhite, cfg, nil)
	if err != nil {
		return nil, "", err
	}
	return s, code, nil
}

// NewGuest joins an existing game by invite code (spec §4.3 "Joining a
// game"). hostAddr is the dialer-specific address of the host's listener.
func NewGuest(ctx context.Context, storageDir, inviteCode, hostAddr string, cfg Config) (*Session, error) {
	if err := gameid.Validate(inviteCode); err != nil {
		return nil, err
	}
	id := gameid.ToGameID(inviteCode)
	s, err := newSession(storageDir, id, RoleGuest, ColorBlack, cfg, nil)
	if err != nil {
		return nil, err
	}

	// The initial dial mutates session state (reconnAddr, state), so it is
	// posted onto the run loop like every other state transition rather
	// than touched directly from this constructor goroutine.
	errCh := make(chan error, 1)
	s.post(func() {
		s.reconnAddr = hostAddr
		s.transition(StateConnecting)
		_, dialErr := s.channel.DialPlayer(ctx, hostAddr)
		errCh <- dialErr
	})
	if err := <-errCh; err != nil {
		_ = s.Destroy()
		return nil, fmt.Errorf("dial host: %w", err)
	}
	return s, nil
}

// RestoreConfig carries the connection metadata Restore needs beyond what a
// Snapshot already holds, mirroring persistence.ConnectionInfo's GameKey/
// IsHost fields without this package importing internal/persistence (which
// itself imports session for the Snapshot type it serializes).
type RestoreConfig struct {
	// GameKey is the host's dial address. Required to redial when resuming
	// an unfinished guest game; ignored for a host (which relistens via
	// cfg.Listener) or a game whose Snapshot already has IsGameOver set.
	GameKey string
}

// Restore resumes a previously-saved game from a Snapshot (spec §6.5
// restoreGameState), reopening the move log at the same per-game directory
// -- movelog.Open replays whatever segments already sit on disk, so the
// session's history is already complete the moment the log opens -- and
// seeding currentFEN/isGameOver/result/startTime from the snapshot rather
// than newSession's fresh-game defaults. An unfinished host then relistens
// for its opponent exactly as NewHost does (cfg.Listener is required); an
// unfinished guest redials restore.GameKey exactly as NewGuest does. A
// finished game's session is reconstructed read-only: its log, FEN, and
// result are available through the usual accessors, but nothing dials or
// listens, since there is no opponent left to resume play with.
func Restore(ctx context.Context, storageDir string, snapshot Snapshot, restore RestoreConfig, cfg Config) (*Session, error) {
	id, err := gameid.Parse(snapshot.GameID)
	if err != nil {
		return nil, fmt.Errorf("restore game: %w", err)
	}
	role := RoleGuest
	if snapshot.IsHost {
		role = RoleHost
	}
	if !snapshot.IsGameOver {
		if role == RoleHost && cfg.Listener == nil {
			return nil, fmt.Errorf("restore hosted game: Config.Listener is required to relisten")
		}
		if role == RoleGuest && restore.GameKey == "" {
			return nil, fmt.Errorf("restore guest game: RestoreConfig.GameKey is required to redial the host")
		}
	}

	s, err := newSession(storageDir, id, role, snapshot.PlayerColor, cfg, &resumeState{
		fen:        snapshot.FEN,
		isGameOver: snapshot.IsGameOver,
		result:     snapshot.Result,
		startTime:  snapshot.StartTime,
	})
	if err != nil {
		return nil, err
	}
	if snapshot.IsGameOver || role == RoleHost {
		return s, nil
	}

	errCh := make(chan error, 1)
	s.post(func() {
		s.reconnAddr = restore.GameKey
		s.transition(StateConnecting)
		_, dialErr := s.channel.DialPlayer(ctx, restore.GameKey)
		errCh <- dialErr
	})
	if err := <-errCh; err != nil {
		_ = s.Destroy()
		return nil, fmt.Errorf("redial host: %w", err)
	}
	return s, nil
}

// resumeState overrides the fresh-game defaults newSession otherwise seeds a
// Session with; Restore passes one in, NewHost/NewGuest pass nil.
type resumeState struct {
	fen        string
	isGameOver bool
	result     string
	startTime  int64
}

func newSession(storageDir string, id gameid.ID, role Role, color Color, cfg Config, resume *resumeState) (*Session, error) {
	opts := cfg.Options.withDefaults()

	s := &Session{
		gameID:     id,
		self:       cfg.Self,
		role:       role,
		color:      color,
		rules:      cfg.Rules,
		transport:  cfg.Transport,
		persister:  cfg.Persister,
		cb:         cfg.Callbacks,
		opts:       opts,
		sysLog:     logging.WithGame(logging.L(), id.String(), cfg.Self.WriterID().String()),
		verifier:   auth.NewVerifier(opts.HandshakeTimeout),
		events:     make(chan func(), 64),
		done:       make(chan struct{}),
		state:      StateWaiting,
		currentFEN: cfg.Rules.StartingFEN(),
		seen:       make(map[string]struct{}),
		startTime:  opts.Now().UnixMilli(),
	}
	if resume != nil {
		s.currentFEN = resume.fen
		s.isGameOver = resume.isGameOver
		s.result = resume.result
		s.startTime = resume.startTime
		if resume.isGameOver {
			s.state = StateFinished
		}
	}

	// Each game gets its own subdirectory under storageDir so two games
	// sharing one daemon's storage root never mix writer indexes or
	// segment files; movelog.Open takes the cross-process directory lock
	// at this path.
	gameDir := filepath.Join(storageDir, id.String())

	// The Apply hook posts onto the run loop rather than handling the batch
	// inline, so log replication traffic is serialized with every other
	// session event the same way swarm callbacks are.
	log, err := movelog.Open(gameDir, cfg.Self.WriterID(), movelog.Hooks{
		Apply: func(batch []movelog.Entry, view *movelog.View) {
			s.post(func() { s.handleLogApply(batch, view) })
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open move log: %w", err)
	}
	s.log = log

	topic := swarm.Topic(id)
	channel, err := cfg.Transport.Join(topic, swarm.JoinOptions{Listener: cfg.Listener})
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("join swarm topic: %w", err)
	}
	s.channel = channel
	channel.OnConnect(func(peerID identity.PeerID) { s.post(func() { s.handleConnect(peerID) }) })
	channel.OnDisconnect(func(peerID identity.PeerID, cause error) { s.post(func() { s.handleDisconnect(peerID, cause) }) })
	channel.OnMessage(func(peerID identity.PeerID, payload []byte) { s.post(func() { s.handleMessage(peerID, payload) }) })
	channel.OnError(func(_ identity.PeerID, err error) { s.post(func() { s.cb.fireError(err) }) })

	go s.run()
	return s, nil
}

// GameID returns this session's game identifier.
func (s *Session) GameID() gameid.ID { return s.gameID }

// run is the session's single event-loop goroutine: every external
// trigger reaches session state only by a closure posted through
// s.events, so no lock is needed for the fields below that line in
// Session's struct definition.
func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			s.drainTimers()
			return
		}
	}
}

// post enqueues fn to run on the session goroutine. It never blocks the
// caller past the session's lifetime: once Destroy has fired, posts are
// silently dropped.
func (s *Session) post(fn func()) {
	select {
	case s.events <- fn:
	case <-s.done:
	}
}

func (s *Session) transition(next State) {
	if s.state == next {
		return
	}
	s.state = next
	s.cb.fireState(next)
}

func (s *Session) drainTimers() {
	if s.reconnTimer != nil {
		s.reconnTimer.Stop()
	}
	if s.guestTimer != nil {
		s.guestTimer.Stop()
	}
}

// Destroy tears down the session: stops the event loop, leaves the swarm
// channel, and closes the move log.
func (s *Session) Destroy() error {
	var err error
	s.stop.Do(func() {
		close(s.done)
		if s.channel != nil {
			if e := s.channel.Leave(); e != nil {
				err = e
			}
		}
		if s.log != nil {
			if e := s.log.Close(); e != nil && err == nil {
				err = e
			}
		}
	})
	return err
}
