package movelog

import (
	"path/filepath"
	"testing"

	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
)

func newWriterID(t *testing.T, seed byte) identity.WriterID {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	w := id.WriterID()
	w[0] = seed // force a deterministic, distinct first byte for ordering tests
	return w
}

func move(ts int64, player Color, san string) Move {
	return Move{Timestamp: ts, Player: player, From: "e2", To: "e4", Piece: "P", FEN: "fen", SAN: san, GameID: "g1"}
}

// TestAppendRecoversAcrossReopen exercises crash-safe recovery: entries
// appended before Close must reappear, in the same linearized order, after
// reopening the same storage directory.
func TestAppendRecoversAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	white := newWriterID(t, 0x01)

	l, err := Open(dir, white, Hooks{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Append(move(100, ColorWhite, "e4")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Append(move(200, ColorWhite, "Nf3")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, white, Hooks{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.View().Length(); got != 2 {
		t.Fatalf("expected 2 recovered entries, got %d", got)
	}
	first, _ := reopened.View().Get(0)
	if first.Move.SAN != "e4" {
		t.Fatalf("expected first recovered entry e4, got %q", first.Move.SAN)
	}
}

// TestLinearizationOrdersByTimestampThenWriter is Property 2: given the same
// multiset of (writerId, entry) pairs, two independently built logs converge
// on the identical linearized order.
func TestLinearizationOrdersByTimestampThenWriter(t *testing.T) {
	white := newWriterID(t, 0x01)
	black := newWriterID(t, 0x02)

	build := func(dir string) *Log {
		l, err := Open(dir, white, Hooks{})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if err := l.AddWriter(black); err != nil {
			t.Fatalf("AddWriter: %v", err)
		}
		return l
	}

	dirA := filepath.Join(t.TempDir(), "a")
	dirB := filepath.Join(t.TempDir(), "b")
	logA := build(dirA)
	logB := build(dirB)
	defer logA.Close()
	defer logB.Close()

	whiteMove := Entry{WriterID: white, WriterIndex: 0, Move: move(100, ColorWhite, "e4")}
	blackMove := Entry{WriterID: black, WriterIndex: 0, Move: move(150, ColorBlack, "e5")}

	// Node A observes white's local append then ingests black's move.
	if _, err := logA.Append(whiteMove.Move); err != nil {
		t.Fatalf("logA.Append: %v", err)
	}
	if err := logA.IngestBatch([]Entry{blackMove}); err != nil {
		t.Fatalf("logA.IngestBatch: %v", err)
	}

	// Node B observes the same two entries delivered in the opposite order.
	if err := logB.IngestBatch([]Entry{whiteMove}); err != nil {
		t.Fatalf("logB.IngestBatch(white): %v", err)
	}
	if err := logB.IngestBatch([]Entry{blackMove}); err != nil {
		t.Fatalf("logB.IngestBatch(black): %v", err)
	}

	if logA.View().Length() != 2 || logB.View().Length() != 2 {
		t.Fatalf("expected both views to hold 2 entries, got %d and %d", logA.View().Length(), logB.View().Length())
	}
	for i := 0; i < 2; i++ {
		a, _ := logA.View().Get(i)
		b, _ := logB.View().Get(i)
		if a.Move.SAN != b.Move.SAN || a.WriterID != b.WriterID {
			t.Fatalf("view divergence at index %d: %+v vs %+v", i, a, b)
		}
	}
	first, _ := logA.View().Get(0)
	if first.Move.SAN != "e4" {
		t.Fatalf("expected earlier timestamp (e4) first, got %q", first.Move.SAN)
	}
}

// TestIngestBatchIsIdempotent is Property 1: redelivering an already-applied
// batch (e.g. after a reconnect resends unacked entries) must not duplicate
// it in the view or re-fire Apply with a duplicate entry.
func TestIngestBatchIsIdempotent(t *testing.T) {
	white := newWriterID(t, 0x01)
	black := newWriterID(t, 0x02)

	var applyCalls [][]Entry
	l, err := Open(t.TempDir(), white, Hooks{
		Apply: func(batch []Entry, _ *View) {
			applyCalls = append(applyCalls, append([]Entry(nil), batch...))
		},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()
	if err := l.AddWriter(black); err != nil {
		t.Fatalf("AddWriter: %v", err)
	}

	entry := Entry{WriterID: black, WriterIndex: 0, Move: move(100, ColorBlack, "e5")}
	if err := l.IngestBatch([]Entry{entry}); err != nil {
		t.Fatalf("first IngestBatch: %v", err)
	}
	// Redeliver the same entry (simulating a retransmit after a dropped ack).
	if err := l.IngestBatch([]Entry{entry}); err != nil {
		t.Fatalf("duplicate IngestBatch: %v", err)
	}

	if got := l.View().Length(); got != 1 {
		t.Fatalf("expected duplicate ingest to be a no-op, view length = %d", got)
	}
	if len(applyCalls) != 1 {
		t.Fatalf("expected Apply to fire exactly once, fired %d times", len(applyCalls))
	}
}

// TestIngestBatchRejectsOutOfOrderEntry ensures a gap in a writer's sequence
// (e.g. entry 2 arriving before entry 1) surfaces as a LogConflict rather
// than silently corrupting the linearization.
func TestIngestBatchRejectsOutOfOrderEntry(t *testing.T) {
	white := newWriterID(t, 0x01)
	black := newWriterID(t, 0x02)

	l, err := Open(t.TempDir(), white, Hooks{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()
	if err := l.AddWriter(black); err != nil {
		t.Fatalf("AddWriter: %v", err)
	}

	skipped := Entry{WriterID: black, WriterIndex: 1, Move: move(100, ColorBlack, "e5")}
	if err := l.IngestBatch([]Entry{skipped}); err == nil {
		t.Fatal("expected out-of-order entry to be rejected")
	}
}

// TestIngestBatchRejectsUnauthorizedWriter ensures IngestBatch refuses an
// entry from a writer that was never added via AddWriter.
func TestIngestBatchRejectsUnauthorizedWriter(t *testing.T) {
	white := newWriterID(t, 0x01)
	stranger := newWriterID(t, 0xff)

	l, err := Open(t.TempDir(), white, Hooks{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	entry := Entry{WriterID: stranger, WriterIndex: 0, Move: move(100, ColorBlack, "e5")}
	if err := l.IngestBatch([]Entry{entry}); err == nil {
		t.Fatal("expected unauthorized writer entry to be rejected")
	}
}
