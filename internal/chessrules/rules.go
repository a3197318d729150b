// Package chessrules defines the boundary interface that the game-state
// core delegates actual chess rules to (spec §1 Non-goals: "does not
// implement the chess rules"). Production callers wire in a real rules
// library; this package also ships a minimal deterministic double used by
// session and spectator tests.
package chessrules

import "fmt"

// Result describes the outcome of applying a move to a position.
type Result struct {
	FEN       string
	SAN       string
	Check     bool
	Checkmate bool
}

// Engine is the small closed interface the session and spectator packages
// depend on (spec §9: model as a trait/interface with concrete
// implementations, not an open-ended plugin point).
type Engine interface {
	// StartingFEN returns the standard initial position.
	StartingFEN() string
	// Apply validates and applies a pseudo-move (from, to, promotion) to
	// fen, returning the resulting position or an error if illegal.
	Apply(fen, from, to string, promotion *byte) (Result, error)
	// Turn reports which color is to move in fen ("white" or "black").
	Turn(fen string) (string, error)
}

// ErrIllegalMove is returned by Apply when the rules library rejects a move.
var ErrIllegalMove = fmt.Errorf("illegal move")
