package chessrules

import "fmt"

// Stub is a minimal deterministic Engine double for unit tests of session
// and spectator logic that do not themselves need real chess legality —
// only turn alternation and a stable, inspectable FEN string. It never
// rejects a move and never reports check/checkmate; callers that need to
// exercise those paths construct a Result directly.
type Stub struct{}

// StartingFEN returns a synthetic starting position recognizable in tests.
func (Stub) StartingFEN() string {
	return "startpos 0 w"
}

// Apply advances the synthetic position deterministically: it appends the
// move to a dash-joined history and flips the trailing turn marker.
func (Stub) Apply(fen, from, to string, promotion *byte) (Result, error) {
	turn, err := (Stub{}).Turn(fen)
	if err != nil {
		return Result{}, err
	}
	next := "b"
	if turn == "black" {
		next = "w"
	}
	promo := ""
	if promotion != nil {
		promo = string(*promotion)
	}
	newFEN := fmt.Sprintf("%s+%s%s%s %s", fen[:len(fen)-2], from, to, promo, next)
	san := from + to + promo
	return Result{FEN: newFEN, SAN: san, Check: false, Checkmate: false}, nil
}

// Turn reports the color to move, read from the trailing "w"/"b" marker.
func (Stub) Turn(fen string) (string, error) {
	if len(fen) < 2 {
		return "", fmt.Errorf("malformed stub fen %q", fen)
	}
	switch fen[len(fen)-1] {
	case 'w':
		return "white", nil
	case 'b':
		return "black", nil
	default:
		return "", fmt.Errorf("malformed stub fen %q", fen)
	}
}
