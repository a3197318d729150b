// Package spectator implements §4.4: a read-only session that joins the
// swarm topic without a writer, requests a full history snapshot from
// whoever is already playing, applies live moves as they arrive, and lets
// the caller scrub through history. It is deliberately a simplified
// Session -- Swarm plus in-memory state only, no Log, no persistence --
// grounded in P2Poker's Table.Snapshot()/sendSnapshotTo() full-state
// transfer to a newly joined observer.
package spectator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/chessrules"
	"github.com/sentientforest/pears-gambit-sub000/internal/gameid"
	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
	"github.com/sentientforest/pears-gambit-sub000/internal/movelog"
	"github.com/sentientforest/pears-gambit-sub000/internal/swarm"
	"github.com/sentientforest/pears-gambit-sub000/internal/wire"
)

// State is the spectator's own, much smaller lifecycle: there is no
// waiting (a spectator always dials out) and no finished state of its own
// (game-over is reported through Callbacks.OnGameEnd but the spectator
// keeps observing in case a rematch reuses the topic).
type State string

const (
	StateConnecting State = "connecting"
	StateSyncing    State = "syncing"
	StateActive     State = "active"
)

// DefaultSyncTimeout is how long a spectator waits for full_game_sync
// before giving up and proceeding with whatever live moves arrive (spec
// §4.4).
const DefaultSyncTimeout = 30 * time.Second

// Callbacks is the upward Spectator→UI interface.
type Callbacks struct {
	OnStateChange    func(State)
	OnMoveAppended   func(movelog.Move)
	OnPositionChange func(index int, fen string)
	OnGameEnd        func(result string)
	OnError          func(error)
}

func (c Callbacks) fireState(s State) {
	if c.OnStateChange != nil {
		c.OnStateChange(s)
	}
}
func (c Callbacks) fireMove(m movelog.Move) {
	if c.OnMoveAppended != nil {
		c.OnMoveAppended(m)
	}
}
func (c Callbacks) firePosition(i int, fen string) {
	if c.OnPositionChange != nil {
		c.OnPositionChange(i, fen)
	}
}
func (c Callbacks) fireEnd(result string) {
	if c.OnGameEnd != nil {
		c.OnGameEnd(result)
	}
}
func (c Callbacks) fireError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

// Options bundles the spectator's timing knobs.
type Options struct {
	Now        func() time.Time
	SyncTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = DefaultSyncTimeout
	}
	return o
}

// Config bundles the dependencies a Spectator needs.
type Config struct {
	Self      identity.Identity
	Rules     chessrules.Engine
	Transport *swarm.Transport
	Callbacks Callbacks
	Options   Options
}

// Spectator is a read-only participant in a game topic (spec §4.4). All
// mutable state below the channel fields is owned by a single run-loop
// goroutine, the same closure-queue discipline internal/session uses.
type Spectator struct {
	gameID  gameid.ID
	self    identity.Identity
	rules   chessrules.Engine
	cb      Callbacks
	opts    Options
	sysLog  *logging.Logger

	transport *swarm.Transport
	channel   *swarm.Channel

	events chan func()
	done   chan struct{}
	stop   sync.Once

	// run-loop-owned fields below.
	state          State
	startingFEN    string
	moves          []movelog.Move
	currentPosition int
	currentFEN     string
	gameInfo       wire.GameInfo
	players        wire.Players
	isGameOver     bool
	result         string
	syncTimer      *time.Timer
}

// Join opens a read-only channel onto the game advertised at hostAddr and
// requests a full history sync (spec §4.4). It returns once the dial and
// handshake send have been posted; sync completion (or timeout) is
// reported asynchronously through Callbacks.OnStateChange.
func Join(ctx context.Context, inviteCode, hostAddr string, cfg Config) (*Spectator, error) {
	if err := gameid.Validate(inviteCode); err != nil {
		return nil, err
	}
	id := gameid.ToGameID(inviteCode)
	opts := cfg.Options.withDefaults()

	sp := &Spectator{
		gameID:      id,
		self:        cfg.Self,
		rules:       cfg.Rules,
		cb:          cfg.Callbacks,
		opts:        opts,
		sysLog:      logging.WithGame(logging.L(), id.String(), ""),
		transport:   cfg.Transport,
		events:      make(chan func(), 64),
		done:        make(chan struct{}),
		state:       StateConnecting,
		startingFEN: cfg.Rules.StartingFEN(),
	}
	sp.currentFEN = sp.startingFEN

	topic := swarm.Topic(id)
	channel, err := cfg.Transport.Join(topic, swarm.JoinOptions{MaxSpectators: swarm.DefaultMaxSpectators})
	if err != nil {
		return nil, fmt.Errorf("join swarm topic: %w", err)
	}
	sp.channel = channel
	channel.OnConnect(func(peerID identity.PeerID) { sp.post(func() { sp.handleConnect(peerID) }) })
	channel.OnDisconnect(func(peerID identity.PeerID, cause error) { sp.post(func() { sp.handleDisconnect(peerID, cause) }) })
	channel.OnMessage(func(peerID identity.PeerID, payload []byte) { sp.post(func() { sp.handleMessage(peerID, payload) }) })
	channel.OnError(func(_ identity.PeerID, err error) { sp.post(func() { sp.cb.fireError(err) }) })

	go sp.run()

	errCh := make(chan error, 1)
	sp.post(func() {
		_, dialErr := sp.channel.DialSpectator(ctx, hostAddr)
		errCh <- dialErr
	})
	if err := <-errCh; err != nil {
		_ = sp.Destroy()
		return nil, fmt.Errorf("dial host: %w", err)
	}
	return sp, nil
}

// GameID returns this spectator's game identifier.
func (sp *Spectator) GameID() gameid.ID { return sp.gameID }

func (sp *Spectator) run() {
	for {
		select {
		case fn := <-sp.events:
			fn()
		case <-sp.done:
			sp.drainTimers()
			return
		}
	}
}

func (sp *Spectator) post(fn func()) {
	select {
	case sp.events <- fn:
	case <-sp.done:
	}
}

func (sp *Spectator) transition(next State) {
	if sp.state == next {
		return
	}
	sp.state = next
	sp.cb.fireState(next)
}

func (sp *Spectator) drainTimers() {
	if sp.syncTimer != nil {
		sp.syncTimer.Stop()
	}
}

// Destroy tears down the spectator: stops the event loop and leaves the
// swarm channel. There is no log or persisted state to close.
func (sp *Spectator) Destroy() error {
	var err error
	sp.stop.Do(func() {
		close(sp.done)
		if sp.channel != nil {
			err = sp.channel.Leave()
		}
	})
	return err
}
