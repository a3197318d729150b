package spectator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/chessrules"
	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
	"github.com/sentientforest/pears-gambit-sub000/internal/movelog"
	"github.com/sentientforest/pears-gambit-sub000/internal/session"
	"github.com/sentientforest/pears-gambit-sub000/internal/swarm"
)

type recorder struct {
	mu        sync.Mutex
	states    []State
	moves     []movelog.Move
	positions []int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStateChange: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnMoveAppended: func(m movelog.Move) {
			r.mu.Lock()
			r.moves = append(r.moves, m)
			r.mu.Unlock()
		},
		OnPositionChange: func(i int, _ string) {
			r.mu.Lock()
			r.positions = append(r.positions, i)
			r.mu.Unlock()
		},
	}
}

func (sp *Spectator) debugState() State {
	ch := make(chan State, 1)
	sp.post(func() { ch <- sp.state })
	return <-ch
}

func waitForState(t *testing.T, sp *Spectator, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sp.debugState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, sp.debugState())
}

func waitForTotalMoves(t *testing.T, sp *Spectator, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if sp.TotalMoves() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d moves, got %d", want, sp.TotalMoves())
}

// triangle wires a host, one guest, and a spectator through a shared
// in-process network, so spectator tests can exercise a real game in
// progress rather than an empty one.
type triangle struct {
	net   *memNetwork
	host  *session.Session
	guest *session.Session
}

func newTriangle(t *testing.T) (*triangle, string) {
	t.Helper()
	net := newMemNetwork()
	hostID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate host identity: %v", err)
	}
	guestID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate guest identity: %v", err)
	}
	const hostAddr = "host-addr"
	listener := net.listen(hostAddr)

	hostCfg := session.Config{
		Self:      hostID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(hostID, net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Options:   session.Options{GuestSyncGuard: 200 * time.Millisecond},
		Listener:  listener,
	}
	host, code, err := session.NewHost(t.TempDir(), hostCfg)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	t.Cleanup(func() { _ = host.Destroy() })

	guestCfg := session.Config{
		Self:      guestID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(guestID, net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Options:   session.Options{GuestSyncGuard: 200 * time.Millisecond},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	guest, err := session.NewGuest(ctx, t.TempDir(), code, hostAddr, guestCfg)
	if err != nil {
		t.Fatalf("NewGuest: %v", err)
	}
	t.Cleanup(func() { _ = guest.Destroy() })

	return &triangle{net: net, host: host, guest: guest}, code
}

// TestJoinMidGameReceivesFullSyncAndTracksLiveMoves covers spec §8
// scenario 3: a spectator joining after moves have already been played
// reports totalMoves/currentPosition matching the host's history via
// full_game_sync, then follows a subsequent live move.
func TestJoinMidGameReceivesFullSyncAndTracksLiveMoves(t *testing.T) {
	tri, code := newTriangle(t)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := tri.host.SendMove("e2", "e4", "P", nil); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	specID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate spectator identity: %v", err)
	}
	rec := &recorder{}
	specCfg := Config{
		Self:      specID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(specID, tri.net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Callbacks: rec.callbacks(),
		Options:   Options{SyncTimeout: 2 * time.Second},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sp, err := Join(ctx, code, "host-addr", specCfg)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	t.Cleanup(func() { _ = sp.Destroy() })

	waitForState(t, sp, StateActive, 3*time.Second)
	waitForTotalMoves(t, sp, 1, 2*time.Second)
	if got := sp.CurrentPosition(); got != 1 {
		t.Fatalf("expected scrub pointer at tip (1), got %d", got)
	}

	if _, err := tri.guest.SendMove("e7", "e5", "p", nil); err != nil {
		t.Fatalf("guest SendMove: %v", err)
	}
	waitForTotalMoves(t, sp, 2, 2*time.Second)
	if got := sp.CurrentPosition(); got != 2 {
		t.Fatalf("expected scrub pointer to auto-advance to 2, got %d", got)
	}
}

// TestSetPositionReplaysHistory covers scrubbing: moving the pointer back
// replays from the starting position instead of trusting a cached FEN.
func TestSetPositionReplaysHistory(t *testing.T) {
	tri, code := newTriangle(t)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := tri.host.SendMove("e2", "e4", "P", nil); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := tri.guest.SendMove("e7", "e5", "p", nil); err != nil {
		t.Fatalf("guest SendMove: %v", err)
	}

	specID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate spectator identity: %v", err)
	}
	rec := &recorder{}
	specCfg := Config{
		Self:      specID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(specID, tri.net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Callbacks: rec.callbacks(),
		Options:   Options{SyncTimeout: 2 * time.Second},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sp, err := Join(ctx, code, "host-addr", specCfg)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	t.Cleanup(func() { _ = sp.Destroy() })

	waitForState(t, sp, StateActive, 3*time.Second)
	waitForTotalMoves(t, sp, 2, 2*time.Second)

	startFEN := chessrules.Stub{}.StartingFEN()
	fen, err := sp.SetPosition(0)
	if err != nil {
		t.Fatalf("SetPosition(0): %v", err)
	}
	if fen != startFEN {
		t.Fatalf("expected starting FEN at position 0, got %q", fen)
	}
	if got := sp.CurrentPosition(); got != 0 {
		t.Fatalf("expected pointer at 0, got %d", got)
	}

	if _, err := sp.SetPosition(2); err != nil {
		t.Fatalf("SetPosition(2): %v", err)
	}
	if got := sp.CurrentPosition(); got != 2 {
		t.Fatalf("expected pointer back at tip (2), got %d", got)
	}

	if _, err := sp.SetPosition(5); err == nil {
		t.Fatal("expected out-of-range SetPosition to fail")
	}
}
