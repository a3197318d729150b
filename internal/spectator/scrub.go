package spectator

import (
	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
)

type scrubResult struct {
	fen string
	err error
}

// SetPosition moves the history-scrubbing pointer to index (spec §4.4:
// "currentPosition ∈ [0, totalMoves]; moving the pointer replays moves
// from the starting FEN using the chess-rules library"). It blocks until
// the run loop has recomputed the resulting FEN.
func (sp *Spectator) SetPosition(index int) (string, error) {
	resultCh := make(chan scrubResult, 1)
	sp.post(func() {
		fen, err := sp.replayTo(index)
		resultCh <- scrubResult{fen: fen, err: err}
	})
	select {
	case res := <-resultCh:
		return res.fen, res.err
	case <-sp.done:
		return "", chesserr.New(chesserr.StateViolation, "spectator destroyed", nil)
	}
}

// replayTo runs on the event loop: it replays moves [0, index) from the
// starting position through the configured rules engine, since moves are
// self-describing but scrubbing needs the position *before* the target
// index was reached, not just the stored post-move FEN of index-1 (which
// happens to be equivalent, but replaying keeps this package's only
// dependency on chessrules explicit and exercised, matching how the
// session package itself never trusts a cached FEN without the engine
// that produced it).
func (sp *Spectator) replayTo(index int) (string, error) {
	if index < 0 || index > len(sp.moves) {
		return "", chesserr.New(chesserr.MoveInvalid, "position out of range", nil)
	}
	fen := sp.startingFEN
	for i := 0; i < index; i++ {
		m := sp.moves[i]
		var promotion *byte
		if m.Promotion != "" {
			b := m.Promotion[0]
			promotion = &b
		}
		result, err := sp.rules.Apply(fen, m.From, m.To, promotion)
		if err != nil {
			return "", chesserr.New(chesserr.MoveInvalid, "replay failed while scrubbing history", err)
		}
		fen = result.FEN
	}
	sp.currentPosition = index
	sp.currentFEN = fen
	sp.cb.firePosition(index, fen)
	return fen, nil
}

// TotalMoves reports how many moves have been observed so far.
func (sp *Spectator) TotalMoves() int {
	ch := make(chan int, 1)
	sp.post(func() { ch <- len(sp.moves) })
	return <-ch
}

// CurrentPosition reports the scrubbing pointer's current index.
func (sp *Spectator) CurrentPosition() int {
	ch := make(chan int, 1)
	sp.post(func() { ch <- sp.currentPosition })
	return <-ch
}

// CurrentFEN reports the position at the current scrubbing pointer.
func (sp *Spectator) CurrentFEN() string {
	ch := make(chan string, 1)
	sp.post(func() { ch <- sp.currentFEN })
	return <-ch
}
