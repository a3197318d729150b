package spectator

import (
	"fmt"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
	"github.com/sentientforest/pears-gambit-sub000/internal/movelog"
	"github.com/sentientforest/pears-gambit-sub000/internal/wire"
)

// handleConnect sends the spectator_handshake (spec §4.4) and starts the
// full-sync guard; if it fires before a full_game_sync arrives, the
// spectator proceeds active with whatever live moves show up afterward.
func (sp *Spectator) handleConnect(peerID identity.PeerID) {
	msg := wire.SpectatorHandshake{
		Type:            wire.TypeSpectatorHandshake,
		GameID:          sp.gameID.String(),
		RequestFullSync: true,
		Timestamp:       sp.opts.Now().UnixMilli(),
	}
	payload, err := wire.Marshal(msg)
	if err != nil {
		sp.cb.fireError(fmt.Errorf("marshal spectator handshake: %w", err))
		return
	}
	sp.channel.Send(peerID, payload)
	sp.transition(StateSyncing)
	sp.startSyncGuard()
}

func (sp *Spectator) handleDisconnect(_ identity.PeerID, cause error) {
	sp.sysLog.Warn("spectator peer disconnected", logging.Error(cause))
}

func (sp *Spectator) handleMessage(peerID identity.PeerID, payload []byte) {
	typ, msg, err := wire.Decode(payload)
	if err != nil {
		sp.sysLog.Warn("dropping unparseable frame", logging.Error(err))
		return
	}
	switch typ {
	case wire.TypeFullGameSync:
		if m, ok := msg.(wire.FullGameSync); ok {
			sp.onFullGameSync(m)
		}
	case wire.TypeMove:
		if m, ok := msg.(wire.MoveMsg); ok {
			sp.onMove(m)
		}
	case wire.TypeGameEnd:
		if m, ok := msg.(wire.GameEnd); ok {
			sp.onGameEnd(m)
		}
	default:
		sp.sysLog.Debug("ignoring unhandled message type", logging.String("type", string(typ)), logging.String("peer", string(peerID)))
	}
}

// onFullGameSync applies the serving player's one-shot history transfer
// (spec §4.4): the entire linearized move list plus the current FEN,
// replacing whatever partial live state the spectator had buffered.
func (sp *Spectator) onFullGameSync(m wire.FullGameSync) {
	moves := make([]movelog.Move, 0, len(m.MoveHistory))
	for _, mr := range m.MoveHistory {
		move, err := moveFromWire(mr)
		if err != nil {
			sp.sysLog.Warn("skipping malformed move in full sync", logging.Error(err))
			continue
		}
		moves = append(moves, move)
	}
	sp.moves = moves
	sp.currentFEN = m.CurrentFEN
	sp.currentPosition = len(moves)
	sp.gameInfo = m.GameInfo
	sp.players = m.Players
	sp.isGameOver = m.GameInfo.IsGameOver
	sp.result = m.GameInfo.Result

	sp.stopSyncGuard()
	sp.transition(StateActive)
	sp.cb.firePosition(sp.currentPosition, sp.currentFEN)
}

// onMove appends a live move (spec §4.4: "Live moves are appended; if the
// pointer was at the tip when a new move arrives, advance it").
func (sp *Spectator) onMove(m wire.MoveMsg) {
	move, err := moveFromWire(m.Move)
	if err != nil {
		sp.sysLog.Warn("dropping malformed live move", logging.Error(err))
		return
	}
	atTip := sp.currentPosition == len(sp.moves)
	sp.moves = append(sp.moves, move)
	sp.cb.fireMove(move)

	if sp.state != StateActive {
		// No full_game_sync arrived (or the guard already fired); treat the
		// first live move as implicit proof the swarm link is healthy.
		sp.stopSyncGuard()
		sp.transition(StateActive)
	}
	if atTip {
		sp.currentPosition = len(sp.moves)
		sp.currentFEN = move.FEN
		sp.cb.firePosition(sp.currentPosition, sp.currentFEN)
	}
}

func (sp *Spectator) onGameEnd(m wire.GameEnd) {
	sp.isGameOver = true
	sp.result = m.Result
	sp.cb.fireEnd(m.Result)
}

func (sp *Spectator) startSyncGuard() {
	sp.syncTimer = time.AfterFunc(sp.opts.SyncTimeout, func() {
		sp.post(func() {
			if sp.state == StateSyncing {
				sp.sysLog.Warn("full_game_sync timed out, proceeding with live moves only")
				sp.transition(StateActive)
			}
		})
	})
}

func (sp *Spectator) stopSyncGuard() {
	if sp.syncTimer != nil {
		sp.syncTimer.Stop()
		sp.syncTimer = nil
	}
}

// moveFromWire mirrors internal/session's converter of the same name; kept
// as a separate unexported copy since a read-only observer has no reason
// to import the player-session package (it is not a peer the log
// authorizes a writer for).
func moveFromWire(mr wire.MoveRecord) (movelog.Move, error) {
	color, err := movelog.ParseColor(mr.Player)
	if err != nil {
		return movelog.Move{}, fmt.Errorf("unknown player color in move: %w", err)
	}
	m := movelog.Move{
		Timestamp: mr.Timestamp,
		Player:    color,
		From:      mr.From,
		To:        mr.To,
		Piece:     mr.Piece,
		FEN:       mr.FEN,
		SAN:       mr.SAN,
		Check:     mr.Check,
		Checkmate: mr.Checkmate,
		GameID:    mr.GameID,
	}
	if mr.Captured != nil {
		m.Captured = *mr.Captured
	}
	if mr.Promotion != nil {
		m.Promotion = *mr.Promotion
	}
	return m, nil
}
