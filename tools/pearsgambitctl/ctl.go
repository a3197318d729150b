// Package pearsgambitctl implements the operator-facing logic behind the
// pearsgambitctl CLI: invite-code inspection, listing saved games from a
// pearsgambitd state directory, and a one-shot engine smoke test.
package pearsgambitctl

import (
	"fmt"
	"sort"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/engine"
	"github.com/sentientforest/pears-gambit-sub000/internal/gameid"
	"github.com/sentientforest/pears-gambit-sub000/internal/persistence"
)

// InviteInfo is the decoded form of a human-shareable invite code.
type InviteInfo struct {
	Code   string `json:"code"`
	GameID string `json:"game_id"`
}

// DecodeInvite validates and decodes an invite code into its derived
// GameId, without needing a running daemon or state directory.
func DecodeInvite(code string) (InviteInfo, error) {
	//1.- Validate the XXX-XXX hex shape before deriving anything from it.
	if err := gameid.Validate(code); err != nil {
		return InviteInfo{}, err
	}
	id := gameid.ToGameID(code)
	return InviteInfo{Code: code, GameID: id.String()}, nil
}

// ListGames opens the persistence store rooted at stateDir read-only (by
// way of a throwaway Store, since the package has no read-only mode) and
// returns every saved game, newest first.
func ListGames(stateDir string) ([]persistence.SavedGame, error) {
	store, err := persistence.NewStore(stateDir)
	if err != nil {
		return nil, fmt.Errorf("open state directory %s: %w", stateDir, err)
	}
	games, err := store.ListSavedGames()
	if err != nil {
		return nil, err
	}
	//2.- ListSavedGames already orders newest-first; re-sort defensively
	// in case a future persistence change relaxes that guarantee.
	sort.Slice(games, func(i, j int) bool { return games[i].ModTime.After(games[j].ModTime) })
	return games, nil
}

// EngineSmokeTestResult reports the outcome of a one-shot analyzer probe.
type EngineSmokeTestResult struct {
	BinaryPath string
	BestMove   string
	Depth      int
}

// EngineSmokeTest resolves and starts an analyzer subprocess, runs a single
// bounded Analyze against the standard starting position, and shuts the
// subprocess back down. It exists so an operator can confirm an analyzer
// binary is reachable and speaks the expected protocol before wiring it
// into a long-running pearsgambitd.
func EngineSmokeTest(explicitPath string, moveTimeMs int) (EngineSmokeTestResult, error) {
	binaryPath, err := engine.Resolve(explicitPath)
	if err != nil {
		return EngineSmokeTestResult{}, fmt.Errorf("resolve analyzer binary: %w", err)
	}

	e := engine.New(binaryPath, engine.Config{
		Options: engine.Options{RequestTimeout: 10 * time.Second, AnalyzeSafety: 30 * time.Second},
	})
	if err := e.Start(); err != nil {
		return EngineSmokeTestResult{}, fmt.Errorf("start analyzer: %w", err)
	}
	defer e.Shutdown()

	if moveTimeMs <= 0 {
		moveTimeMs = 1000
	}
	result, err := e.Analyze("startpos", engine.AnalyzeOptions{MoveTimeMs: moveTimeMs})
	if err != nil {
		return EngineSmokeTestResult{}, fmt.Errorf("analyze starting position: %w", err)
	}
	return EngineSmokeTestResult{
		BinaryPath: binaryPath,
		BestMove:   result.BestMove,
		Depth:      result.LastInfo.Depth,
	}, nil
}
