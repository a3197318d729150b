package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sentientforest/pears-gambit-sub000/tools/pearsgambitctl"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "invite":
		inviteCmd(os.Args[2:])
	case "games":
		gamesCmd(os.Args[2:])
	case "engine-check":
		engineCheckCmd(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pearsgambitctl <invite|games|engine-check> [flags]")
}

func inviteCmd(args []string) {
	fs := flag.NewFlagSet("invite", flag.ExitOnError)
	code := fs.String("code", "", "invite code to decode, e.g. ab1-2cd")
	fs.Parse(args)

	if *code == "" {
		fmt.Fprintln(os.Stderr, "-code is required")
		os.Exit(2)
	}
	info, err := pearsgambitctl.DecodeInvite(*code)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("code:    %s\n", info.Code)
	fmt.Printf("game id: %s\n", info.GameID)
}

func gamesCmd(args []string) {
	fs := flag.NewFlagSet("games", flag.ExitOnError)
	stateDir := fs.String("state-dir", ".", "pearsgambitd state directory")
	fs.Parse(args)

	games, err := pearsgambitctl.ListGames(*stateDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(games) == 0 {
		fmt.Println("no saved games")
		return
	}
	for _, g := range games {
		status := "in progress"
		if g.IsGameOver {
			status = g.Result
		}
		fmt.Printf("%s  %s  %s\n", g.GameID, g.ModTime.Format("2006-01-02 15:04:05"), status)
	}
}

func engineCheckCmd(args []string) {
	fs := flag.NewFlagSet("engine-check", flag.ExitOnError)
	binaryPath := fs.String("binary", "", "explicit analyzer binary path (default: resolve automatically)")
	moveTimeMs := fs.Int("movetime", 1000, "milliseconds to search before reporting a best move")
	fs.Parse(args)

	result, err := pearsgambitctl.EngineSmokeTest(*binaryPath, *moveTimeMs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("binary:    %s\n", result.BinaryPath)
	fmt.Printf("best move: %s\n", result.BestMove)
	fmt.Printf("depth:     %d\n", result.Depth)
}
