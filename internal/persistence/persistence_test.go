package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/session"
)

func TestSaveAndLoadGameRoundTrips(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	snapshot := session.Snapshot{
		GameID:      "deadbeef",
		Players:     map[string]string{"white": "alice", "black": "bob"},
		CurrentTurn: "white",
		StartTime:   1000,
		PlayerColor: "white",
		IsHost:      true,
		FEN:         "startpos 0 w",
	}
	if err := store.SaveGame(snapshot); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}
	loaded, err := store.LoadGame("deadbeef")
	if err != nil {
		t.Fatalf("LoadGame: %v", err)
	}
	if loaded.GameID != snapshot.GameID || loaded.FEN != snapshot.FEN || loaded.Players["black"] != "bob" {
		t.Fatalf("loaded snapshot mismatch: %+v", loaded)
	}
}

func TestLoadGameNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.LoadGame("missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAndLoadConnectionInfoRoundTrips(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	info := ConnectionInfo{GameID: "deadbeef", InviteCode: "dea-dbe", PlayerColor: "black", IsHost: false}
	if err := store.SaveConnectionInfo(info); err != nil {
		t.Fatalf("SaveConnectionInfo: %v", err)
	}
	loaded, err := store.LoadConnectionInfo("deadbeef")
	if err != nil {
		t.Fatalf("LoadConnectionInfo: %v", err)
	}
	if loaded != info {
		t.Fatalf("loaded connection info mismatch: %+v", loaded)
	}
}

func TestSaveGameWritesAreAtomic(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.SaveGame(session.Snapshot{GameID: "g1"}); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if e.Name() != "g1.chess.json" {
			t.Fatalf("expected no leftover temp files, found %s", e.Name())
		}
	}
}

func TestSaveGameGarbageCollectsOldestByMtime(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store, err := NewStore(dir, WithMaxSnapshots(2), WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	ids := []string{"g1", "g2", "g3"}
	for _, id := range ids {
		if err := store.SaveGame(session.Snapshot{GameID: id}); err != nil {
			t.Fatalf("SaveGame(%s): %v", id, err)
		}
		// Force distinct mtimes so the GC's newest-first ordering is
		// deterministic regardless of filesystem timestamp resolution.
		path := store.snapshotPath(id)
		clock = clock.Add(time.Minute)
		if err := os.Chtimes(path, clock, clock); err != nil {
			t.Fatalf("Chtimes: %v", err)
		}
	}

	games, err := store.ListSavedGames()
	if err != nil {
		t.Fatalf("ListSavedGames: %v", err)
	}
	if len(games) != 2 {
		t.Fatalf("expected 2 surviving snapshots after gc, got %d: %+v", len(games), games)
	}
	if _, err := store.LoadGame("g1"); err != ErrNotFound {
		t.Fatalf("expected g1 to be garbage collected, got err=%v", err)
	}
	if _, err := store.LoadGame("g3"); err != nil {
		t.Fatalf("expected g3 (most recent) to survive: %v", err)
	}

	archived, err := store.LoadArchivedGame("g1")
	if err != nil {
		t.Fatalf("expected g1 to be archived rather than lost, got err=%v", err)
	}
	if archived.GameID != "g1" {
		t.Fatalf("archived snapshot mismatch: %+v", archived)
	}
}

func TestLoadArchivedGameNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.LoadArchivedGame("never-existed"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestArchiveDirectoryIsCappedByMaxArchives(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store, err := NewStore(dir, WithMaxSnapshots(1), WithMaxArchives(2), WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	// Five saves past a retention of 1 live snapshot pushes four games
	// through the archive path; only the newest two archives should
	// survive gcArchives's own cap.
	ids := []string{"g1", "g2", "g3", "g4", "g5"}
	for _, id := range ids {
		if err := store.SaveGame(session.Snapshot{GameID: id}); err != nil {
			t.Fatalf("SaveGame(%s): %v", id, err)
		}
		clock = clock.Add(time.Minute)
		if err := os.Chtimes(store.snapshotPath(id), clock, clock); err != nil {
			// The file may already have been archived and removed by the
			// time the previous save's gc ran; that's fine, only the
			// still-live snapshot needs a forced mtime.
			_ = err
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, archiveDirName))
	if err != nil {
		t.Fatalf("ReadDir(archive): %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected archive directory capped at 2 files, got %d: %+v", len(entries), entries)
	}
}

func TestListSavedGamesOrdersNewestFirst(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.SaveGame(session.Snapshot{GameID: "older"}); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}
	older := store.snapshotPath("older")
	if err := os.Chtimes(older, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := store.SaveGame(session.Snapshot{GameID: "newer"}); err != nil {
		t.Fatalf("SaveGame: %v", err)
	}
	games, err := store.ListSavedGames()
	if err != nil {
		t.Fatalf("ListSavedGames: %v", err)
	}
	if len(games) != 2 || games[0].GameID != "newer" {
		t.Fatalf("expected newer first, got %+v", games)
	}
}
