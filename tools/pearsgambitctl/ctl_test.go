package pearsgambitctl

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/gameid"
	"github.com/sentientforest/pears-gambit-sub000/internal/persistence"
	"github.com/sentientforest/pears-gambit-sub000/internal/session"
)

func TestDecodeInviteDerivesGameID(t *testing.T) {
	code, id, err := gameid.NewInviteCode()
	if err != nil {
		t.Fatalf("NewInviteCode: %v", err)
	}

	info, err := DecodeInvite(code)
	if err != nil {
		t.Fatalf("DecodeInvite: %v", err)
	}
	if info.Code != code {
		t.Fatalf("unexpected code: %q", info.Code)
	}
	if info.GameID != id.String() {
		t.Fatalf("expected game id %s, got %s", id.String(), info.GameID)
	}
}

func TestDecodeInviteRejectsMalformedCode(t *testing.T) {
	if _, err := DecodeInvite("not-a-code"); err == nil {
		t.Fatal("expected an error for a malformed invite code")
	}
}

func TestListGamesReturnsNewestFirst(t *testing.T) {
	dir := t.TempDir()
	store, err := persistence.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	older := session.Snapshot{GameID: "older-game"}
	newer := session.Snapshot{GameID: "newer-game"}
	if err := store.SaveGame(older); err != nil {
		t.Fatalf("SaveGame older: %v", err)
	}
	if err := store.SaveGame(newer); err != nil {
		t.Fatalf("SaveGame newer: %v", err)
	}

	//1.- Force distinct mtimes so newest-first ordering is deterministic,
	// since both saves can otherwise land in the same filesystem-mtime tick.
	olderTime := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "older-game.chess.json"), olderTime, olderTime); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}

	games, err := ListGames(dir)
	if err != nil {
		t.Fatalf("ListGames: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("expected 2 saved games, got %d", len(games))
	}
	if games[0].GameID != "newer-game" {
		t.Fatalf("expected newest game first, got %s", games[0].GameID)
	}
}

func TestListGamesOnEmptyDirectory(t *testing.T) {
	games, err := ListGames(t.TempDir())
	if err != nil {
		t.Fatalf("ListGames: %v", err)
	}
	if len(games) != 0 {
		t.Fatalf("expected no saved games, got %d", len(games))
	}
}
