// Command pearsgambitd runs one game session as a long-lived process:
// either hosting a fresh game and printing its invite code, or joining an
// existing one by invite code and host address. Alongside the swarm
// listener it exposes internal/httpapi's operational control surface so a
// supervisor can probe liveness/readiness and an operator can force a
// snapshot or tune the reconnect policy.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/chessrules"
	"github.com/sentientforest/pears-gambit-sub000/internal/config"
	"github.com/sentientforest/pears-gambit-sub000/internal/engine"
	"github.com/sentientforest/pears-gambit-sub000/internal/httpapi"
	"github.com/sentientforest/pears-gambit-sub000/internal/identity"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
	"github.com/sentientforest/pears-gambit-sub000/internal/movelog"
	"github.com/sentientforest/pears-gambit-sub000/internal/persistence"
	"github.com/sentientforest/pears-gambit-sub000/internal/session"
	"github.com/sentientforest/pears-gambit-sub000/internal/spectator"
	"github.com/sentientforest/pears-gambit-sub000/internal/swarm"
)

func main() {
	host := flag.Bool("host", false, "create a new game and listen for the opponent")
	listenAddr := flag.String("listen", ":7777", "address to listen on when hosting")
	joinCode := flag.String("join", "", "invite code of an existing game to join")
	hostAddr := flag.String("dial", "", "the host's address, required with -join")
	spectate := flag.Bool("spectate", false, "join -join/-dial as a read-only observer instead of a player")
	allowStubRules := flag.Bool("allow-stub-rules", false, "permit running with the built-in test-only rules stub, which never rejects an illegal move or detects checkmate (NOT safe for real games)")
	resumeGameID := flag.String("resume", "", "resume a previously saved game by its full game id instead of -host/-join")
	flag.Parse()

	modes := 0
	for _, set := range []bool{*host, *joinCode != "", *resumeGameID != ""} {
		if set {
			modes++
		}
	}
	if modes != 1 {
		fmt.Fprintln(os.Stderr, "exactly one of -host, -join, or -resume must be given")
		os.Exit(2)
	}
	if *joinCode != "" && *hostAddr == "" {
		fmt.Fprintln(os.Stderr, "-join requires -dial <host address>")
		os.Exit(2)
	}
	if *spectate && (*host || *resumeGameID != "") {
		fmt.Fprintln(os.Stderr, "-spectate is only valid alongside -join")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging setup failed:", err)
		os.Exit(1)
	}
	defer log.Sync()

	id, err := identity.LoadOrGenerate(filepath.Join(cfg.StateDir, "identity.key"))
	if err != nil {
		log.Fatal("load identity", logging.Error(err))
		os.Exit(1)
	}

	rules, err := resolveRules(*allowStubRules, log)
	if err != nil {
		log.Fatal("resolve rules engine", logging.Error(err))
		os.Exit(1)
	}

	transport := swarm.NewTransport(id, swarm.NewWSDialer(), swarm.NewRegistry(), log)

	//1.- A spectator is a much smaller commitment than a player session:
	// no persistence, no engine, no admin control surface, since it never
	// owns the log and has nothing an operator needs to force-snapshot.
	if *spectate {
		runSpectator(cfg, log, id, transport, *joinCode, *hostAddr, rules)
		return
	}

	store, err := persistence.NewStore(cfg.StateDir,
		persistence.WithMaxSnapshots(cfg.MaxSnapshots),
		persistence.WithLogger(log),
	)
	if err != nil {
		log.Fatal("open persistence store", logging.Error(err))
		os.Exit(1)
	}

	sessionOpts := session.Options{
		HandshakeTimeout:     cfg.HandshakeTimeout,
		ConnectTimeout:       cfg.ConnectTimeout,
		GuestSyncGuard:       cfg.GuestSyncGuard,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		ReconnectMaxAttempts: cfg.ReconnectMaxAttempts,
	}
	callbacks := session.Callbacks{
		OnGameStateChange: func(s session.State) { log.Info("session state changed", logging.String("state", string(s))) },
		OnConnectionChange: func(peerID identity.PeerID, connected bool) {
			log.Info("peer connection changed", logging.String("peer_id", string(peerID)), logging.Bool("connected", connected))
		},
		OnError:   func(err error) { log.Error("session error", logging.Error(err)) },
		OnGameEnd: func(result string) { log.Info("game ended", logging.String("result", result)) },
	}

	//1.- Host creates a fresh game and listens; guest dials an existing one;
	// resume reloads a saved Snapshot and relistens/redials from it instead.
	var sess *session.Session
	var inviteCode string
	switch {
	case *resumeGameID != "":
		sess, err = resumeGame(cfg, log, id, rules, transport, store, callbacks, sessionOpts, *resumeGameID, *listenAddr)
		if err != nil {
			log.Fatal("resume game", logging.Error(err))
			os.Exit(1)
		}
	case *host:
		listener, err := swarm.NewWSListener(*listenAddr)
		if err != nil {
			log.Fatal("start swarm listener", logging.Error(err))
			os.Exit(1)
		}
		sess, inviteCode, err = session.NewHost(cfg.StorageDir, session.Config{
			Self:      id,
			Rules:     rules,
			Transport: transport,
			Persister: store,
			Callbacks: callbacks,
			Options:   sessionOpts,
			Listener:  listener,
		})
		if err != nil {
			log.Fatal("create hosted game", logging.Error(err))
			os.Exit(1)
		}
		fmt.Printf("invite code: %s\n", inviteCode)
		saveConnectionInfo(store, log, sess.GameID().String(), inviteCode, *listenAddr, "white", true)
	default:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		sess, err = session.NewGuest(ctx, cfg.StorageDir, *joinCode, *hostAddr, session.Config{
			Self:      id,
			Rules:     rules,
			Transport: transport,
			Persister: store,
			Callbacks: callbacks,
			Options:   sessionOpts,
		})
		if err != nil {
			log.Fatal("join game", logging.Error(err))
			os.Exit(1)
		}
		saveConnectionInfo(store, log, sess.GameID().String(), *joinCode, *hostAddr, "black", false)
	}

	//2.- Engine wiring is best-effort: a missing or unstartable analyzer
	// disables engine features rather than failing the whole daemon.
	var analyzer *engine.Engine
	if binaryPath, err := engine.Resolve(cfg.EngineBinaryPath); err != nil {
		log.Warn("no analyzer binary available, engine features disabled", logging.Error(err))
	} else {
		analyzer = engine.New(binaryPath, engine.Config{
			Options: engine.Options{
				RequestTimeout: cfg.EngineRequestTimeout,
				AnalyzeSafety:  cfg.EngineAnalysisTimeout,
				Respawn:        true,
			},
			Log: log,
		})
		if err := analyzer.Start(); err != nil {
			log.Warn("analyzer failed to start, engine features disabled", logging.Error(err))
			analyzer = nil
		}
	}

	readiness := &daemonReadiness{session: sess, startedAt: time.Now()}
	handlerOpts := httpapi.Options{
		Logger:      log,
		Readiness:   readiness,
		Stats:       readiness.stats,
		Snapshotter: sess,
		Reconnect:   sess,
		AdminToken:  cfg.AdminToken,
		RateLimiter: httpapi.NewSlidingWindowLimiter(time.Minute, 10, nil),
	}
	if analyzer != nil {
		handlerOpts.Engine = analyzer
	}
	handlers := httpapi.NewHandlerSet(handlerOpts)
	mux := http.NewServeMux()
	handlers.Register(mux)
	controlServer := &http.Server{Addr: cfg.ControlAddr, Handler: mux}
	go func() {
		if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("control surface stopped", logging.Error(err))
		}
	}()
	log.Info("pearsgambitd started", logging.String("control_addr", cfg.ControlAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = controlServer.Shutdown(shutdownCtx)
	if analyzer != nil {
		_ = analyzer.Shutdown()
	}
	_ = sess.Destroy()
}

// daemonReadiness adapts a *session.Session to httpapi.ReadinessProvider
// and httpapi.StatsFunc.
type daemonReadiness struct {
	session   *session.Session
	startedAt time.Time
}

func (d *daemonReadiness) SessionState() string {
	return string(d.session.Status().State)
}

func (d *daemonReadiness) ConnectedPeers() int {
	players, _ := d.session.PeerCounts()
	return players
}

func (d *daemonReadiness) StartupError() error { return nil }

func (d *daemonReadiness) Uptime() time.Duration { return time.Since(d.startedAt) }

func (d *daemonReadiness) stats() (moves, spectators int) {
	st := d.session.Status()
	_, spectators = d.session.PeerCounts()
	return st.MoveCount, spectators
}

// resolveRules returns the chessrules.Engine the daemon will enforce moves
// and scrub positions against. No production-grade rules library ships in
// this module -- legality and checkmate detection are delegated to an
// external engine by design (spec §1 Non-goal) -- so chessrules.Stub, which
// never rejects an illegal move and never reports check or checkmate, is
// only ever returned when the operator explicitly opts in.
func resolveRules(allowStub bool, log *logging.Logger) (chessrules.Engine, error) {
	if !allowStub {
		return nil, fmt.Errorf("no production rules engine configured: pearsgambitd ships only chessrules.Stub, a test double that never rejects an illegal move or detects checkmate; pass -allow-stub-rules to run anyway (not safe for real games), or wire a real chessrules.Engine implementation into this binary")
	}
	log.Warn("running with the non-functional stub rules engine: illegal moves will never be rejected and checkmate will never be detected")
	return chessrules.Stub{}, nil
}

// saveConnectionInfo persists the redial metadata a later -resume needs
// (spec §4.3 step 4 "Persist ConnectionInfo", generalized to the guest path
// too since a guest must also be able to redial after a restart). A failure
// here is logged, not fatal: the game itself is already underway by the
// time this runs.
func saveConnectionInfo(store *persistence.Store, log *logging.Logger, gameID, inviteCode, gameKey, playerColor string, isHost bool) {
	err := store.SaveConnectionInfo(persistence.ConnectionInfo{
		GameID:      gameID,
		InviteCode:  inviteCode,
		GameKey:     gameKey,
		PlayerColor: playerColor,
		IsHost:      isHost,
	})
	if err != nil {
		log.Warn("failed to persist connection info, -resume will not be able to redial this game", logging.Error(err), logging.String("game_id", gameID))
	}
}

// resumeGame loads gameID's persisted Snapshot and ConnectionInfo (spec
// §6.5 restoreGameState) and hands them to session.Restore. A missing
// ConnectionInfo file is tolerated -- it only matters for an unfinished
// guest game, and session.Restore itself rejects that combination with a
// clear error rather than this function guessing at a default GameKey.
func resumeGame(cfg *config.Config, log *logging.Logger, id identity.Identity, rules chessrules.Engine, transport *swarm.Transport, store *persistence.Store, callbacks session.Callbacks, sessionOpts session.Options, gameID, listenAddr string) (*session.Session, error) {
	snapshot, err := store.LoadGame(gameID)
	if err != nil {
		return nil, fmt.Errorf("load saved game: %w", err)
	}
	connInfo, err := store.LoadConnectionInfo(gameID)
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return nil, fmt.Errorf("load connection info: %w", err)
	}

	sessCfg := session.Config{
		Self:      id,
		Rules:     rules,
		Transport: transport,
		Persister: store,
		Callbacks: callbacks,
		Options:   sessionOpts,
	}
	if snapshot.IsHost && !snapshot.IsGameOver {
		listener, err := swarm.NewWSListener(listenAddr)
		if err != nil {
			return nil, fmt.Errorf("start swarm listener: %w", err)
		}
		sessCfg.Listener = listener
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	sess, err := session.Restore(ctx, cfg.StorageDir, snapshot, session.RestoreConfig{GameKey: connInfo.GameKey}, sessCfg)
	if err != nil {
		return nil, err
	}
	log.Info("resumed saved game", logging.String("game_id", gameID), logging.Bool("is_host", snapshot.IsHost), logging.Bool("is_game_over", snapshot.IsGameOver))
	return sess, nil
}

// runSpectator dials an existing game read-only and blocks until a
// terminating signal, logging state transitions, moves, and game end
// rather than exposing an httpapi control surface -- a spectator has no
// durable state an operator would ever need to force-snapshot.
func runSpectator(cfg *config.Config, log *logging.Logger, id identity.Identity, transport *swarm.Transport, joinCode, hostAddr string, rules chessrules.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	sp, err := spectator.Join(ctx, joinCode, hostAddr, spectator.Config{
		Self:      id,
		Rules:     rules,
		Transport: transport,
		Callbacks: spectator.Callbacks{
			OnStateChange: func(s spectator.State) {
				log.Info("spectator state changed", logging.String("state", string(s)))
			},
			OnMoveAppended: func(m movelog.Move) {
				log.Info("move observed", logging.String("san", m.SAN))
			},
			OnGameEnd: func(result string) { log.Info("game ended", logging.String("result", result)) },
			OnError:   func(err error) { log.Error("spectator error", logging.Error(err)) },
		},
	})
	if err != nil {
		log.Fatal("join as spectator", logging.Error(err))
		os.Exit(1)
	}
	log.Info("pearsgambitd spectating", logging.String("game_id", sp.GameID().String()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	_ = sp.Destroy()
}
