package session

import (
	"fmt"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
	"github.com/sentientforest/pears-gambit-sub000/internal/movelog"
	"github.com/sentientforest/pears-gambit-sub000/internal/wire"
)

// moveToWire renders a log-internal Move as the wire.MoveRecord shape
// broadcast to peers (spec §6.3).
func moveToWire(gameID string, m movelog.Move) wire.MoveRecord {
	mr := wire.MoveRecord{
		Timestamp: m.Timestamp,
		Player:    m.Player.String(),
		From:      m.From,
		To:        m.To,
		Piece:     m.Piece,
		Check:     m.Check,
		Checkmate: m.Checkmate,
		FEN:       m.FEN,
		SAN:       m.SAN,
		GameID:    gameID,
	}
	if m.Captured != "" {
		captured := m.Captured
		mr.Captured = &captured
	}
	if m.Promotion != "" {
		promotion := m.Promotion
		mr.Promotion = &promotion
	}
	return mr
}

// moveFromWire reverses moveToWire for a move record received from a peer.
func moveFromWire(mr wire.MoveRecord) (movelog.Move, error) {
	color, err := movelog.ParseColor(mr.Player)
	if err != nil {
		return movelog.Move{}, chesserr.New(chesserr.MoveInvalid, "unknown player color in peer move", err)
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

// playersToWire renders the session's color->display-name map as the fixed
// wire.Players shape sent in a full_game_sync (spec §4.4/§6.3).
func playersToWire(players map[string]string) wire.Players {
	return wire.Players{White: players["white"], Black: players["black"]}
}

// dedupKey identifies a move independent of which writer replicated it, so
// the same move arriving live and again inside a game_state_response is
// only ever applied once (spec Property 4).
func dedupKey(timestamp int64, from, to, player string) string {
	return fmt.Sprintf("%d|%s|%s|%s", timestamp, from, to, player)
}
