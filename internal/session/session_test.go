package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
	"github.com/sentientforest/pears-gambit-sub000/internal/chessrules"
	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
	"github.com/sentientforest/pears-gambit-sub000/internal/movelog"
	"github.com/sentientforest/pears-gambit-sub000/internal/swarm"
	"github.com/sentientforest/pears-gambit-sub000/internal/wire"
)

// recorder is a test double for Callbacks that records every fired event
// under a mutex so test goroutines can inspect them safely.
type recorder struct {
	mu     sync.Mutex
	states []State
	moves  []movelog.Move
	errs   []error
	ends   []string
	conns  []bool
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnGameStateChange: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnMoveReceived: func(m movelog.Move) {
			r.mu.Lock()
			r.moves = append(r.moves, m)
			r.mu.Unlock()
		},
		OnConnectionChange: func(_ identity.PeerID, connected bool) {
			r.mu.Lock()
			r.conns = append(r.conns, connected)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnGameEnd: func(result string) {
			r.mu.Lock()
			r.ends = append(r.ends, result)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) lastState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return ""
	}
	return r.states[len(r.states)-1]
}

// fakePersister is a test double for Persister that keeps only the latest
// snapshot, which is all these tests need to assert on.
type fakePersister struct {
	mu    sync.Mutex
	last  Snapshot
	count int
}

func (p *fakePersister) SaveGame(s Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = s
	p.count++
	return nil
}

// debugState safely reads Session.state from outside the run loop by
// posting a closure, same as every other external Session access.
func (s *Session) debugState() State {
	ch := make(chan State, 1)
	s.post(func() { ch <- s.state })
	return <-ch
}

func testOptions() Options {
	return Options{
		HandshakeTimeout:     2 * time.Second,
		ConnectTimeout:       2 * time.Second,
		GuestSyncGuard:       200 * time.Millisecond,
		ReconnectBaseDelay:   20 * time.Millisecond,
		ReconnectMaxDelay:    100 * time.Millisecond,
		ReconnectMaxAttempts: 5,
	}
}

type pairedSessions struct {
	host      *Session
	guest     *Session
	hostRec   *recorder
	guestRec  *recorder
	hostAddr  string
	net       *memNetwork
}

func newPairedSessions(t *testing.T) *pairedSessions {
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

	hostRec := &recorder{}
	guestRec := &recorder{}
	const hostAddr = "host-addr"
	listener := net.listen(hostAddr)

	hostCfg := Config{
		Self:      hostID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(hostID, net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Persister: &fakePersister{},
		Callbacks: hostRec.callbacks(),
		Options:   testOptions(),
		Listener:  listener,
	}
	host, code, err := NewHost(t.TempDir(), hostCfg)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	t.Cleanup(func() { _ = host.Destroy() })

	guestCfg := Config{
		Self:      guestID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(guestID, net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Persister: &fakePersister{},
		Callbacks: guestRec.callbacks(),
		Options:   testOptions(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	guest, err := NewGuest(ctx, t.TempDir(), code, hostAddr, guestCfg)
	if err != nil {
		t.Fatalf("NewGuest: %v", err)
	}
	t.Cleanup(func() { _ = guest.Destroy() })

	return &pairedSessions{host: host, guest: guest, hostRec: hostRec, guestRec: guestRec, hostAddr: hostAddr, net: net}
}

func waitForState(t *testing.T, s *Session, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.debugState() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, s.debugState())
}

func waitForViewLength(t *testing.T, s *Session, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.log.View().Length() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for view length %d, got %d", want, s.log.View().Length())
}

// TestLifecycleReachesActiveAndExchangesMoves covers the host/guest happy
// path (spec §4.3): both sides converge on an empty log, transition to
// active without a game_state_request round trip, and every alternating
// move each side appends locally is observed by the other.
func TestLifecycleReachesActiveAndExchangesMoves(t *testing.T) {
	p := newPairedSessions(t)

	waitForState(t, p.host, StateActive, 2*time.Second)
	waitForState(t, p.guest, StateActive, 2*time.Second)

	type halfMove struct {
		mover          *Session
		from, to, pc string
	}
	sequence := []halfMove{
		{p.host, "e2", "e4", "P"},
		{p.guest, "e7", "e5", "p"},
		{p.host, "g1", "f3", "N"},
		{p.guest, "b8", "c6", "n"},
	}

	for i, hm := range sequence {
		if _, err := hm.mover.SendMove(hm.from, hm.to, hm.pc, nil); err != nil {
			t.Fatalf("half-move %d: SendMove: %v", i, err)
		}
		waitForViewLength(t, p.host, i+1, 2*time.Second)
		waitForViewLength(t, p.guest, i+1, 2*time.Second)
	}

	hostView := p.host.log.View().Entries()
	guestView := p.guest.log.View().Entries()
	if len(hostView) != len(sequence) || len(guestView) != len(sequence) {
		t.Fatalf("expected %d linearized entries on both sides, got host=%d guest=%d", len(sequence), len(hostView), len(guestView))
	}
	for i := range hostView {
		if hostView[i].Move.From != guestView[i].Move.From || hostView[i].Move.To != guestView[i].Move.To {
			t.Fatalf("view mismatch at %d: host=%+v guest=%+v", i, hostView[i].Move, guestView[i].Move)
		}
	}
}

// TestSendMoveRejectsWrongTurn enforces turn discipline (spec Property 3):
// the guest (black) may not move before the host's (white) opening move is
// observed.
func TestSendMoveRejectsWrongTurn(t *testing.T) {
	p := newPairedSessions(t)
	waitForState(t, p.guest, StateActive, 2*time.Second)

	_, err := p.guest.SendMove("e7", "e5", "p", nil)
	if !chesserr.Has(err, chesserr.StateViolation) {
		t.Fatalf("expected StateViolation, got %v", err)
	}
}

// TestSendMoveRejectsOutsideActiveState enforces that moves are refused
// before the session reaches active.
func TestSendMoveRejectsOutsideActiveState(t *testing.T) {
	net := newMemNetwork()
	hostID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	listener := net.listen("solo-host")
	cfg := Config{
		Self:      hostID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(hostID, net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Persister: &fakePersister{},
		Options:   testOptions(),
		Listener:  listener,
	}
	host, _, err := NewHost(t.TempDir(), cfg)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	t.Cleanup(func() { _ = host.Destroy() })

	if host.debugState() != StateWaiting {
		t.Fatalf("expected a freshly created host to start waiting, got %s", host.debugState())
	}
	_, err = host.SendMove("e2", "e4", "P", nil)
	if !chesserr.Has(err, chesserr.StateViolation) {
		t.Fatalf("expected StateViolation while waiting for a peer, got %v", err)
	}
}

// TestApplyRemoteMoveRecordDedupsDelivery covers Property 4: the same move
// delivered twice (e.g. once live, once again inside a later
// game_state_response replay) is only ever applied once.
func TestApplyRemoteMoveRecordDedupsDelivery(t *testing.T) {
	p := newPairedSessions(t)
	waitForState(t, p.guest, StateActive, 2*time.Second)

	record := wire.MoveRecord{
		Timestamp: 1234,
		From:      "e2",
		To:        "e4",
		Piece:     "P",
		Player:    "white",
		FEN:       "startpos 0 b",
		SAN:       "e2e4",
	}

	apply := func() {
		done := make(chan struct{})
		p.guest.post(func() {
			p.guest.applyRemoteMoveRecord(record)
			close(done)
		})
		<-done
	}

	apply()
	apply()

	if got := p.guest.log.View().Length(); got != 1 {
		t.Fatalf("expected exactly one applied entry after duplicate delivery, got %d", got)
	}
}

// TestApplyRemoteMoveRecordRejectsFarFutureTimestamp covers spec §3's
// move-timestamp bound: a move stamped further ahead of wall-clock now than
// maxMoveTimestampAheadMs is rejected rather than linearized.
func TestApplyRemoteMoveRecordRejectsFarFutureTimestamp(t *testing.T) {
	p := newPairedSessions(t)
	waitForState(t, p.guest, StateActive, 2*time.Second)

	rec := &recorder{}
	done := make(chan struct{})
	p.guest.post(func() {
		p.guest.cb.OnError = rec.callbacks().OnError
		p.guest.applyRemoteMoveRecord(wire.MoveRecord{
			Timestamp: time.Now().Add(time.Hour).UnixMilli(),
			From:      "e2",
			To:        "e4",
			Piece:     "P",
			Player:    "white",
			FEN:       "startpos 0 b",
			SAN:       "e2e4",
		})
		close(done)
	})
	<-done

	if got := p.guest.log.View().Length(); got != 0 {
		t.Fatalf("expected far-future move to be rejected, got %d applied entries", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) == 0 || !chesserr.Has(rec.errs[0], chesserr.MoveInvalid) {
		t.Fatalf("expected a MoveInvalid error to fire, got %+v", rec.errs)
	}
}

// TestApplyRemoteMoveRecordRejectsStaleTimestamp covers the behind-bound
// half of spec §3: once a move has been linearized, a later move stamped
// too far before it is rejected instead of corrupting ordering.
func TestApplyRemoteMoveRecordRejectsStaleTimestamp(t *testing.T) {
	p := newPairedSessions(t)
	waitForState(t, p.guest, StateActive, 2*time.Second)

	first := wire.MoveRecord{
		Timestamp: time.Now().UnixMilli(),
		From:      "e2", To: "e4", Piece: "P", Player: "white",
		FEN: "startpos 0 b", SAN: "e2e4",
	}
	stale := wire.MoveRecord{
		Timestamp: first.Timestamp - maxMoveTimestampBehindMs - 1000,
		From:      "g1", To: "f3", Piece: "N", Player: "white",
		FEN: "startpos 0 b", SAN: "g1f3",
	}

	rec := &recorder{}
	done := make(chan struct{})
	p.guest.post(func() {
		p.guest.cb.OnError = rec.callbacks().OnError
		p.guest.applyRemoteMoveRecord(first)
		p.guest.applyRemoteMoveRecord(stale)
		close(done)
	})
	<-done

	if got := p.guest.log.View().Length(); got != 1 {
		t.Fatalf("expected only the first move to be linearized, got %d", got)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.errs) == 0 || !chesserr.Has(rec.errs[0], chesserr.MoveInvalid) {
		t.Fatalf("expected a MoveInvalid error to fire for the stale move, got %+v", rec.errs)
	}
}

// TestReconnectAfterDisconnectPreservesLog covers the reconnection scenario
// (spec §4.3): a severed guest connection drops the session to waiting, the
// guest redials with backoff, and no move is lost or duplicated across the
// gap.
func TestReconnectAfterDisconnectPreservesLog(t *testing.T) {
	p := newPairedSessions(t)
	waitForState(t, p.host, StateActive, 2*time.Second)
	waitForState(t, p.guest, StateActive, 2*time.Second)

	if _, err := p.host.SendMove("e2", "e4", "P", nil); err != nil {
		t.Fatalf("SendMove: %v", err)
	}
	waitForViewLength(t, p.guest, 1, 2*time.Second)

	// Drain and sever the conn the guest's initial dial produced, simulating
	// a dropped link from both sides (net.Pipe surfaces a closed error to
	// the peer on the other end too).
	select {
	case conn := <-p.net.dialed:
		_ = conn.Close()
	case <-time.After(time.Second):
		t.Fatal("no dialed connection recorded")
	}

	waitForState(t, p.guest, StateActive, 3*time.Second)
	waitForState(t, p.host, StateActive, 3*time.Second)

	p.guestRec.mu.Lock()
	sawWaiting := false
	for _, st := range p.guestRec.states {
		if st == StateWaiting {
			sawWaiting = true
			break
		}
	}
	p.guestRec.mu.Unlock()
	if !sawWaiting {
		t.Fatal("expected the guest to pass through StateWaiting after the connection dropped")
	}

	if _, err := p.guest.SendMove("e7", "e5", "p", nil); err != nil {
		t.Fatalf("SendMove after reconnect: %v", err)
	}
	waitForViewLength(t, p.host, 2, 2*time.Second)
	waitForViewLength(t, p.guest, 2, 2*time.Second)

	if got := p.host.log.View().Length(); got != 2 {
		t.Fatalf("expected exactly 2 entries after reconnect, got %d (possible duplicate replay)", got)
	}
}

// TestRestoreResumesUnfinishedHostGame covers spec §6.5's restoreGameState:
// a host session's move log and FEN survive a Destroy + Restore round trip
// at the same storage directory, and the restored session relistens for its
// opponent rather than requiring a game_state_request replay from scratch.
func TestRestoreResumesUnfinishedHostGame(t *testing.T) {
	storageDir := t.TempDir()
	net := newMemNetwork()
	hostID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	persister := &fakePersister{}
	const addr = "resume-host-addr"

	cfg := Config{
		Self:      hostID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(hostID, net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Persister: persister,
		Callbacks: Callbacks{},
		Options:   testOptions(),
		Listener:  net.listen(addr),
	}
	sess, _, err := NewHost(storageDir, cfg)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}

	// Force active without a real opponent: SendMove only checks s.state and
	// turn discipline, neither of which depends on a connected peer.
	done := make(chan struct{})
	sess.post(func() { sess.state = StateActive; close(done) })
	<-done

	if _, err := sess.SendMove("e2", "e4", "P", nil); err != nil {
		t.Fatalf("SendMove: %v", err)
	}
	waitForViewLength(t, sess, 1, time.Second)

	persister.mu.Lock()
	snapshot := persister.last
	persister.mu.Unlock()
	if snapshot.GameID == "" || len(snapshot.MoveHistory) != 1 {
		t.Fatalf("expected a persisted snapshot with one move, got %+v", snapshot)
	}

	if err := sess.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	restoreCfg := Config{
		Self:      hostID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(hostID, net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Persister: persister,
		Callbacks: Callbacks{},
		Options:   testOptions(),
		Listener:  net.listen(addr),
	}
	restored, err := Restore(context.Background(), storageDir, snapshot, RestoreConfig{}, restoreCfg)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	t.Cleanup(func() { _ = restored.Destroy() })

	if got := restored.log.View().Length(); got != 1 {
		t.Fatalf("expected the restored log to already contain 1 entry from disk, got %d", got)
	}
	if restored.debugState() != StateWaiting {
		t.Fatalf("expected a restored unfinished host to await reconnection in StateWaiting, got %s", restored.debugState())
	}
	if restored.currentFEN != snapshot.FEN {
		t.Fatalf("expected currentFEN %q seeded from snapshot, got %q", snapshot.FEN, restored.currentFEN)
	}
}

// TestRestoreRejectsHostWithoutListener covers the fail-closed side of
// restoring an unfinished host game: without a Listener there is no way to
// ever hear from the opponent again, so Restore refuses rather than
// producing a session nothing will ever reconnect to.
func TestRestoreRejectsHostWithoutListener(t *testing.T) {
	snapshot := Snapshot{GameID: "00112233445566778899aabbccddeeff00112233445566778899aabbccddee", IsHost: true}
	_, err := Restore(context.Background(), t.TempDir(), snapshot, RestoreConfig{}, Config{
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(identity.Identity{}, newMemNetwork().dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Options:   testOptions(),
	})
	if err == nil {
		t.Fatal("expected Restore to reject a host snapshot with no Listener configured")
	}
}

// TestRestoreFinishedGameIsReadOnly covers restoring a game that already
// ended: Restore reconstructs the session's log and result without dialing
// or listening, since there is no opponent left to resume play with.
func TestRestoreFinishedGameIsReadOnly(t *testing.T) {
	storageDir := t.TempDir()
	net := newMemNetwork()
	hostID, err := identity.Generate()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	persister := &fakePersister{}

	cfg := Config{
		Self:      hostID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(hostID, net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Persister: persister,
		Callbacks: Callbacks{},
		Options:   testOptions(),
		Listener:  net.listen("resume-finished-addr"),
	}
	sess, _, err := NewHost(storageDir, cfg)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}

	done := make(chan struct{})
	sess.post(func() {
		sess.state = StateActive
		sess.isGameOver = true
		sess.result = "white_wins_by_checkmate"
		sess.persistSnapshot()
		close(done)
	})
	<-done

	persister.mu.Lock()
	snapshot := persister.last
	persister.mu.Unlock()
	if !snapshot.IsGameOver || snapshot.Result == "" {
		t.Fatalf("expected a persisted finished-game snapshot, got %+v", snapshot)
	}

	if err := sess.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	restored, err := Restore(context.Background(), storageDir, snapshot, RestoreConfig{}, Config{
		Self:      hostID,
		Rules:     chessrules.Stub{},
		Transport: swarm.NewTransport(hostID, net.dialer(), swarm.NewRegistry(), logging.NewTestLogger()),
		Persister: persister,
		Callbacks: Callbacks{},
		Options:   testOptions(),
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	t.Cleanup(func() { _ = restored.Destroy() })

	if restored.debugState() != StateFinished {
		t.Fatalf("expected StateFinished, got %s", restored.debugState())
	}
	if restored.result != snapshot.Result {
		t.Fatalf("expected result %q, got %q", snapshot.Result, restored.result)
	}
}
