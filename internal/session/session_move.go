package session

import (
	"fmt"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
	"github.com/sentientforest/pears-gambit-sub000/internal/movelog"
	"github.com/sentientforest/pears-gambit-sub000/internal/wire"
)

type moveResult struct {
	move movelog.Move
	err  error
}

// Move-timestamp bounds (spec §3): a move must not trail the previous
// linearized move by more than maxMoveTimestampBehindMs, nor run ahead of
// wall-clock "now" by more than maxMoveTimestampAheadMs. The behind-bound
// tolerates modest clock skew between host and guest; the ahead-bound
// catches a forged or corrupted far-future timestamp.
const (
	maxMoveTimestampBehindMs int64 = 300000
	maxMoveTimestampAheadMs  int64 = 5000
)

// validateMoveTimestamp enforces the bound above, shared by local moves
// (applyLocalMove) and moves ingested from a peer (applyRemoteMoveRecord).
// hasPrev is false for the very first move of a game, when there is no
// preceding move to trail; the behind-bound is then trivially satisfied.
func validateMoveTimestamp(timestamp, prevTimestamp int64, hasPrev bool, now int64) error {
	if hasPrev && timestamp < prevTimestamp-maxMoveTimestampBehindMs {
		return chesserr.New(chesserr.MoveInvalid, fmt.Sprintf("move timestamp %d trails the previous move (%d) by more than %dms", timestamp, prevTimestamp, maxMoveTimestampBehindMs), nil)
	}
	if timestamp > now+maxMoveTimestampAheadMs {
		return chesserr.New(chesserr.MoveInvalid, fmt.Sprintf("move timestamp %d is more than %dms ahead of now (%d)", timestamp, maxMoveTimestampAheadMs, now), nil)
	}
	return nil
}

// prevMoveTimestamp returns the most recently linearized move's timestamp.
// ok is false before any move has been applied, e.g. the first move of a
// fresh game or the first entry of a guest's pre-sync catch-up.
func (s *Session) prevMoveTimestamp() (timestamp int64, ok bool) {
	v := s.log.View()
	n := v.Length()
	if n == 0 {
		return 0, false
	}
	e, ok := v.Get(n - 1)
	if !ok {
		return 0, false
	}
	return e.Move.Timestamp, true
}

// SendMove validates and appends a local move, broadcasts it to the
// connected opponent, and persists the resulting snapshot (spec §4.3 "Move
// submission"). It blocks until the session's run loop has processed the
// request, so the returned error reflects the actual outcome rather than
// just a successful enqueue.
func (s *Session) SendMove(from, to, piece string, promotion *byte) (movelog.Move, error) {
	resultCh := make(chan moveResult, 1)
	s.post(func() {
		move, err := s.applyLocalMove(from, to, piece, promotion)
		resultCh <- moveResult{move: move, err: err}
	})
	select {
	case res := <-resultCh:
		return res.move, res.err
	case <-s.done:
		return movelog.Move{}, chesserr.New(chesserr.StateViolation, "session destroyed", nil)
	}
}

// applyLocalMove runs on the session's event loop: it enforces turn
// discipline (spec Property 3), delegates legality to the configured rules
// engine, and appends the result to the local log. Local appends are
// reflected through Log's Apply hook (handleLogApply), which is what
// actually fires OnMoveReceived and persists the snapshot -- this keeps
// local and remote moves flowing through one code path.
func (s *Session) applyLocalMove(from, to, piece string, promotion *byte) (movelog.Move, error) {
	if s.state != StateActive {
		return movelog.Move{}, chesserr.New(chesserr.StateViolation, fmt.Sprintf("cannot move while session is %s", s.state), nil)
	}
	if from == "" || to == "" || piece == "" {
		return movelog.Move{}, chesserr.New(chesserr.MoveInvalid, "move missing required fields", nil)
	}
	turn, err := s.rules.Turn(s.currentFEN)
	if err != nil {
		return movelog.Move{}, chesserr.New(chesserr.MoveInvalid, "cannot determine turn to move", err)
	}
	if turn != s.color {
		return movelog.Move{}, chesserr.New(chesserr.StateViolation, "not this player's turn", nil)
	}

	now := s.opts.Now().UnixMilli()
	prevTimestamp, hasPrev := s.prevMoveTimestamp()
	if err := validateMoveTimestamp(now, prevTimestamp, hasPrev, now); err != nil {
		return movelog.Move{}, err
	}

	result, err := s.rules.Apply(s.currentFEN, from, to, promotion)
	if err != nil {
		return movelog.Move{}, chesserr.New(chesserr.MoveInvalid, "illegal move", err)
	}
	playerColor, err := movelog.ParseColor(s.color)
	if err != nil {
		return movelog.Move{}, chesserr.New(chesserr.MoveInvalid, "unknown player color", err)
	}

	move := movelog.Move{
		Timestamp: now,
		Player:    playerColor,
		From:      from,
		To:        to,
		Piece:     piece,
		FEN:       result.FEN,
		SAN:       result.SAN,
		Check:     result.Check,
		Checkmate: result.Checkmate,
		GameID:    s.gameID.String(),
	}
	if promotion != nil {
		move.Promotion = string(*promotion)
	}

	entry, err := s.log.Append(move)
	if err != nil {
		return movelog.Move{}, err
	}

	s.broadcast(wire.MoveMsg{
		Type:      wire.TypeMove,
		GameID:    s.gameID.String(),
		Move:      moveToWire(s.gameID.String(), entry.Move),
		Timestamp: move.Timestamp,
	})
	return entry.Move, nil
}
