package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/auth"
	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
	"github.com/sentientforest/pears-gambit-sub000/internal/movelog"
	"github.com/sentientforest/pears-gambit-sub000/internal/wire"
)

// handleConnect runs once a swarm peer has completed the transport-level
// hello and is ready for session traffic: it resolves the peer's full
// WriterID so replicated moves from them can be linearized, then sends the
// signed session-level handshake (spec §4.3 "on every onConnect").
func (s *Session) handleConnect(peerID identity.PeerID) {
	if s.channel.PeerIsSpectator(peerID) {
		// Spectators never become the tracked opponent, are never
		// authorized as a log writer, and don't receive the signed player
		// handshake; they are served via onSpectatorHandshake instead once
		// their spectator_handshake frame arrives.
		return
	}
	s.peerID = peerID
	s.connected = true
	s.reconnAttempt = 0
	if s.reconnTimer != nil {
		s.reconnTimer.Stop()
		s.reconnTimer = nil
	}

	if writerID, ok := s.channel.PeerWriterID(peerID); ok {
		s.peerWriterID = writerID
		if err := s.log.AddWriter(writerID); err != nil {
			s.cb.fireError(fmt.Errorf("authorize peer writer: %w", err))
		}
	}
	s.cb.fireConnection(peerID, true)

	claims := auth.Claims{
		GameID:      s.gameID.String(),
		PlayerColor: s.color,
		IsHost:      s.role == RoleHost,
		Timestamp:   s.opts.Now().UnixMilli(),
	}
	sig, err := auth.Sign(s.self.Private, claims)
	if err != nil {
		s.cb.fireError(fmt.Errorf("sign handshake: %w", err))
		return
	}
	s.broadcast(wire.Handshake{
		Type:        wire.TypeHandshake,
		GameID:      claims.GameID,
		PlayerColor: claims.PlayerColor,
		IsHost:      claims.IsHost,
		Timestamp:   claims.Timestamp,
		Signature:   hex.EncodeToString(sig),
	})
}

// handleDisconnect reacts to the loss of the game's sole opponent (spec
// §4.3 "Reconnection"): an active game drops to waiting and a guest
// schedules a backoff redial; a host simply waits on its still-open
// listener for the guest to reconnect.
func (s *Session) handleDisconnect(peerID identity.PeerID, cause error) {
	if peerID != s.peerID {
		return
	}
	s.connected = false
	s.peerID = ""
	s.cb.fireConnection(peerID, false)

	if s.state == StateActive {
		s.transition(StateWaiting)
		s.scheduleReconnect()
	}
	s.sysLog.Debug("peer disconnected", logging.String("peer_id", string(peerID)), logging.Error(cause))
}

// handleMessage decodes one peer frame and dispatches it to the matching
// protocol step of spec §4.3/§4.2.
func (s *Session) handleMessage(peerID identity.PeerID, payload []byte) {
	typ, msg, err := wire.Decode(payload)
	if err != nil {
		s.sysLog.Warn("malformed peer frame", logging.Error(err))
		return
	}
	switch typ {
	case wire.TypeHandshake:
		if m, ok := msg.(wire.Handshake); ok {
			s.onPeerHandshake(m)
		}
	case wire.TypeGameStateRequest:
		s.onGameStateRequest()
	case wire.TypeGameStateResponse:
		if m, ok := msg.(wire.GameStateResponse); ok {
			s.onGameStateResponse(m)
		}
	case wire.TypeMove:
		if m, ok := msg.(wire.MoveMsg); ok {
			s.onPeerMove(m)
		}
	case wire.TypeSyncComplete:
		s.onSyncComplete()
	case wire.TypeGameEnd:
		if m, ok := msg.(wire.GameEnd); ok {
			s.onGameEnd(m)
		}
	case wire.TypeSpectatorHandshake:
		if m, ok := msg.(wire.SpectatorHandshake); ok {
			s.onSpectatorHandshake(peerID, m)
		}
	default:
		s.sysLog.Debug("ignoring unrecognized message type", logging.String("type", string(typ)))
	}
}

// onPeerHandshake implements spec §4.3's post-handshake transition table.
func (s *Session) onPeerHandshake(m wire.Handshake) {
	claims := auth.Claims{GameID: m.GameID, PlayerColor: m.PlayerColor, IsHost: m.IsHost, Timestamp: m.Timestamp}
	sig, err := hex.DecodeString(m.Signature)
	if err != nil {
		s.cb.fireError(chesserr.New(chesserr.HandshakeTimeout, "malformed handshake signature", err))
		return
	}
	if err := s.verifier.Verify(s.peerWriterID.PublicKey(), claims, sig); err != nil {
		s.cb.fireError(chesserr.New(chesserr.HandshakeTimeout, "handshake verification failed", err))
		return
	}

	if s.state == StateWaiting || s.state == StateConnecting {
		s.transition(StateSyncing)
	}

	switch s.role {
	case RoleHost:
		if s.state == StateSyncing {
			s.transition(StateActive)
			s.sendSyncComplete()
		}
	case RoleGuest:
		if s.log.View().Length() == 0 {
			s.transition(StateActive)
		} else {
			s.sendGameStateRequest()
			s.startGuestSyncGuard()
		}
	}
}

// onSpectatorHandshake answers a read-only observer's join with the
// one-shot full_game_sync transfer (spec §4.4 "Handshake response (active
// player serving a spectator)"): the entire linearized move list plus the
// current FEN, sent directly to that peer rather than broadcast.
func (s *Session) onSpectatorHandshake(peerID identity.PeerID, m wire.SpectatorHandshake) {
	if !m.RequestFullSync {
		return
	}
	entries := s.log.View().Entries()
	moves := make([]wire.MoveRecord, 0, len(entries))
	for _, e := range entries {
		moves = append(moves, moveToWire(s.gameID.String(), e.Move))
	}
	payload, err := wire.Marshal(wire.FullGameSync{
		Type:        wire.TypeFullGameSync,
		GameID:      s.gameID.String(),
		MoveHistory: moves,
		CurrentFEN:  s.currentFEN,
		GameInfo: wire.GameInfo{
			IsGameOver: s.isGameOver,
			Result:     s.result,
			StartTime:  s.startTime,
		},
		Players: playersToWire(s.playersMap()),
	})
	if err != nil {
		s.cb.fireError(fmt.Errorf("encode full game sync: %w", err))
		return
	}
	s.channel.Send(peerID, payload)
}

// onGameStateRequest answers with every entry this side's log currently
// holds, linearized (spec §4.3 guest sync path).
func (s *Session) onGameStateRequest() {
	entries := s.log.View().Entries()
	moves := make([]wire.MoveRecord, 0, len(entries))
	for _, e := range entries {
		moves = append(moves, moveToWire(s.gameID.String(), e.Move))
	}
	s.broadcast(wire.GameStateResponse{
		Type:      wire.TypeGameStateResponse,
		GameID:    s.gameID.String(),
		Moves:     moves,
		GameState: string(s.state),
		Timestamp: s.opts.Now().UnixMilli(),
	})
}

// onGameStateResponse applies every move the host sent (deduplicated,
// idempotent), then completes the sync.
func (s *Session) onGameStateResponse(m wire.GameStateResponse) {
	for _, mr := range m.Moves {
		s.applyRemoteMoveRecord(mr)
	}
	if s.state == StateSyncing {
		s.transition(StateActive)
	}
	s.sendSyncComplete()
	s.stopGuestSyncGuard()
}

// onSyncComplete marks a guest's sync finished even if it had nothing to
// request (the host still confirms explicitly).
func (s *Session) onSyncComplete() {
	if s.state == StateSyncing {
		s.transition(StateActive)
	}
	s.stopGuestSyncGuard()
}

// onPeerMove applies one live move broadcast from the opponent.
func (s *Session) onPeerMove(m wire.MoveMsg) {
	if m.Move.Player == s.color {
		// Echo of our own move relayed back; never happens in a two-party
		// game but guarded against defensively.
		return
	}
	s.applyRemoteMoveRecord(m.Move)
}

// applyRemoteMoveRecord converts and ingests one peer-originated move,
// deduplicating on (timestamp, from, to, player) so a move delivered twice
// -- once live, once via a later game_state_response -- is applied once
// (spec Property 4), and rejecting one whose timestamp falls outside the
// spec §3 bound relative to the last linearized move and wall-clock now.
func (s *Session) applyRemoteMoveRecord(mr wire.MoveRecord) {
	key := dedupKey(mr.Timestamp, mr.From, mr.To, mr.Player)
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}

	prevTimestamp, hasPrev := s.prevMoveTimestamp()
	if err := validateMoveTimestamp(mr.Timestamp, prevTimestamp, hasPrev, s.opts.Now().UnixMilli()); err != nil {
		s.cb.fireError(err)
		return
	}

	move, err := moveFromWire(mr)
	if err != nil {
		s.cb.fireError(err)
		return
	}

	idx := s.remoteNextIdx
	s.remoteNextIdx++
	entry := movelog.Entry{WriterID: s.peerWriterID, WriterIndex: idx, Move: move}
	if err := s.log.IngestBatch([]movelog.Entry{entry}); err != nil {
		s.cb.fireError(fmt.Errorf("ingest peer move: %w", err))
	}
}

// onGameEnd records a game-over declared explicitly by the peer (e.g. a
// resignation, which has no corresponding checkmate move to detect).
func (s *Session) onGameEnd(m wire.GameEnd) {
	if s.isGameOver {
		return
	}
	s.isGameOver = true
	s.result = m.Result
	s.transition(StateFinished)
	s.cb.fireEnd(m.Result)
	s.persistSnapshot()
}

// handleLogApply is the movelog.Hooks.Apply callback: it runs on the
// session's own event loop (see newSession), so it may touch run-loop-owned
// fields directly.
func (s *Session) handleLogApply(batch []movelog.Entry, _ *movelog.View) {
	for _, e := range batch {
		s.currentFEN = e.Move.FEN
		s.cb.fireMove(e.Move)
		if e.Move.Checkmate && !s.isGameOver {
			s.isGameOver = true
			s.result = fmt.Sprintf("%s_wins_by_checkmate", e.Move.Player.String())
			s.transition(StateFinished)
			s.cb.fireEnd(s.result)
			s.broadcast(wire.GameEnd{Type: wire.TypeGameEnd, GameID: s.gameID.String(), Result: s.result, Timestamp: s.opts.Now().UnixMilli()})
		}
	}
	s.persistSnapshot()
}

func (s *Session) sendSyncComplete() {
	s.broadcast(wire.SyncComplete{Type: wire.TypeSyncComplete, GameID: s.gameID.String(), Timestamp: s.opts.Now().UnixMilli()})
}

func (s *Session) sendGameStateRequest() {
	s.broadcast(wire.GameStateRequest{Type: wire.TypeGameStateRequest, GameID: s.gameID.String(), Timestamp: s.opts.Now().UnixMilli()})
}

// broadcast marshals v and sends it to the game's sole opponent. A Channel
// only ever registers remote peers (never the local side), so Broadcast in
// a two-player game is equivalent to "send to the other player."
func (s *Session) broadcast(v any) {
	payload, err := wire.Marshal(v)
	if err != nil {
		s.cb.fireError(fmt.Errorf("encode message: %w", err))
		return
	}
	s.channel.Broadcast(payload)
}

// startGuestSyncGuard bounds how long a guest waits for the host's
// game_state_response before giving up and proceeding as active anyway,
// rather than wedging forever against an unresponsive host.
func (s *Session) startGuestSyncGuard() {
	s.stopGuestSyncGuard()
	s.guestTimer = time.AfterFunc(s.opts.GuestSyncGuard, func() {
		s.post(func() {
			if s.state == StateSyncing {
				s.transition(StateActive)
			}
			s.guestTimer = nil
		})
	})
}

func (s *Session) stopGuestSyncGuard() {
	if s.guestTimer != nil {
		s.guestTimer.Stop()
		s.guestTimer = nil
	}
}

// scheduleReconnect arms a backoff redial timer: 1s, 2s, 4s, 8s, capped at
// ReconnectMaxDelay, up to ReconnectMaxAttempts tries (spec §4.3
// "Reconnection"). Only a guest redials; a host's listener stays open and
// simply waits for the next inbound connection.
func (s *Session) scheduleReconnect() {
	if s.role != RoleGuest || s.reconnAddr == "" {
		return
	}
	if s.reconnAttempt >= s.opts.ReconnectMaxAttempts {
		s.cb.fireError(chesserr.New(chesserr.TransportFatal, "reconnect attempts exhausted", nil))
		return
	}
	delay := s.opts.ReconnectBaseDelay << uint(s.reconnAttempt)
	if delay > s.opts.ReconnectMaxDelay {
		delay = s.opts.ReconnectMaxDelay
	}
	s.reconnAttempt++
	if s.reconnTimer != nil {
		s.reconnTimer.Stop()
	}
	s.reconnTimer = time.AfterFunc(delay, func() {
		s.post(func() { s.attemptReconnect() })
	})
}

func (s *Session) attemptReconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
	defer cancel()
	if _, err := s.channel.DialPlayer(ctx, s.reconnAddr); err != nil {
		s.cb.fireError(chesserr.New(chesserr.TransportTransient, "reconnect attempt failed", err))
		s.scheduleReconnect()
	}
}

// persistSnapshot writes the session's current view through to the
// configured Persister, tolerating a nil Persister for tests that don't
// care about durability.
func (s *Session) persistSnapshot() {
	if s.persister == nil {
		return
	}
	entries := s.log.View().Entries()
	history := make([]movelog.Move, 0, len(entries))
	for _, e := range entries {
		history = append(history, e.Move)
	}
	snapshot := Snapshot{
		GameID:      s.gameID.String(),
		Players:     s.playersMap(),
		MoveHistory: history,
		CurrentTurn: s.currentTurnColor(),
		IsGameOver:  s.isGameOver,
		Result:      s.result,
		StartTime:   s.startTime,
		PlayerColor: s.color,
		IsHost:      s.role == RoleHost,
		FEN:         s.currentFEN,
	}
	if err := s.persister.SaveGame(snapshot); err != nil {
		s.cb.fireError(fmt.Errorf("persist snapshot: %w", err))
	}
}

func (s *Session) playersMap() map[string]string {
	m := make(map[string]string, 2)
	self := string(s.self.PeerID())
	if s.color == ColorWhite {
		m["white"] = self
	} else {
		m["black"] = self
	}
	if s.peerID != "" {
		if s.color == ColorWhite {
			m["black"] = string(s.peerID)
		} else {
			m["white"] = string(s.peerID)
		}
	}
	return m
}

func (s *Session) currentTurnColor() string {
	turn, err := s.rules.Turn(s.currentFEN)
	if err != nil {
		return ColorWhite
	}
	return turn
}
