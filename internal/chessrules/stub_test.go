package chessrules

import "testing"

func TestStubTurnAlternates(t *testing.T) {
	var s Stub
	fen := s.StartingFEN()
	turn, err := s.Turn(fen)
	if err != nil || turn != "white" {
		t.Fatalf("expected white to move first, got %q err=%v", turn, err)
	}
	result, err := s.Apply(fen, "e2", "e4", nil)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	turn, err = s.Turn(result.FEN)
	if err != nil || turn != "black" {
		t.Fatalf("expected black to move next, got %q err=%v", turn, err)
	}
}

func TestStubTurnRejectsMalformed(t *testing.T) {
	var s Stub
	if _, err := s.Turn("garbage"); err == nil {
		t.Fatalf("expected malformed fen to error")
	}
}
