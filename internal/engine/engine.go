// Package engine manages the lifecycle of an external chess analyzer
// subprocess and exposes a request/response interface over its
// line-oriented text protocol (spec §4.5/§6.2): uci, isready, setoption,
// position, go, stop, quit out; uciok, readyok, option, info, bestmove in.
//
// The subprocess lifecycle (exec.Command, StdinPipe/StdoutPipe, a
// generation counter guarding stale reader cleanup after a respawn, and a
// bufio.Scanner read loop) is grounded in claude-manager.go's Session,
// generalized here from JSON-lines to plain text and from an always-on
// reader to one that routes by correlation token instead of by message
// type. Respawn-after-crash backoff mirrors internal/session's own
// reconnect schedule (spec §5).
package engine

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
)

// Default timing per spec §5: "Engine correlated request: 10s default; go
// effectively bounded by depth/movetime with an outer 30s safety."
const (
	DefaultRequestTimeout = 10 * time.Second
	DefaultAnalyzeSafety  = 30 * time.Second
	shutdownGrace         = 100 * time.Millisecond

	RespawnBaseDelay   = time.Second
	RespawnMaxDelay    = 10 * time.Second
	RespawnMaxAttempts = 5
)

// InfoFrame is the parsed content of one "info" line streamed while a go is
// in flight (spec §4.5 "Info frames").
type InfoFrame struct {
	Depth     int
	SelDepth  int
	TimeMs    int64
	Nodes     int64
	NPS       int64
	MultiPV   int
	ScoreCP   *int
	ScoreMate *int
	PV        []string
}

// AnalyzeOptions configures a single Analyze call.
type AnalyzeOptions struct {
	Depth      int
	MoveTimeMs int
	Infinite   bool
}

// AnalyzeResult is the outcome of a completed Analyze call.
type AnalyzeResult struct {
	BestMove string
	Ponder   string
	LastInfo InfoFrame
}

// Callbacks are fired from the engine's reader goroutine; OnInfo streams
// intermediate search progress, OnExit fires once if the subprocess dies
// outside of an explicit Stop/Shutdown.
type Callbacks struct {
	OnInfo  func(InfoFrame)
	OnError func(error)
	OnExit  func(error)
}

func (c Callbacks) fireInfo(f InfoFrame) {
	if c.OnInfo != nil {
		c.OnInfo(f)
	}
}

func (c Callbacks) fireError(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c Callbacks) fireExit(err error) {
	if c.OnExit != nil {
		c.OnExit(err)
	}
}

// Options configures an Engine.
type Options struct {
	// RequestTimeout bounds uci/isready/stop correlated requests.
	RequestTimeout time.Duration
	// AnalyzeSafety is the outer bound on a go request regardless of
	// depth/movetime.
	AnalyzeSafety time.Duration
	// Respawn enables automatic restart with backoff after an unexpected
	// subprocess exit. Disabled by default so tests using a fake process
	// don't need to account for it unless they opt in.
	Respawn bool
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.AnalyzeSafety <= 0 {
		o.AnalyzeSafety = DefaultAnalyzeSafety
	}
	return o
}

// Config bundles everything needed to construct an Engine.
type Config struct {
	Options   Options
	Callbacks Callbacks
	Log       *logging.Logger
}

// process is the subprocess boundary the Engine depends on; the production
// implementation wraps exec.Cmd (see process.go), tests substitute an
// in-process pipe pair.
type process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Wait() error
	Kill() error
}

// spawnFunc starts a new process instance of the resolved binary.
type spawnFunc func(binaryPath string) (process, error)

// Engine owns exactly one analyzer subprocess (spec §5 "Engine has exactly
// one owner") and the pending correlated requests against it.
type Engine struct {
	opts  Options
	cb    Callbacks
	log   *logging.Logger
	spawn spawnFunc

	binaryPath string

	mu        sync.Mutex
	proc      process
	stdin     io.WriteCloser
	stdinMu   sync.Mutex
	started   bool
	procGen   int
	stopping  bool

	reqMu   sync.Mutex
	pending map[string]*pendingRequest

	infoMu   sync.Mutex
	lastInfo InfoFrame

	respawnAttempt int
	respawnTimer   *time.Timer
}

type pendingRequest struct {
	token   string
	resultC chan replyResult
	timer   *time.Timer
}

type replyResult struct {
	fields []string
	err    error
}

// New constructs an Engine bound to a resolved binary path. Use Resolve to
// determine binaryPath from an explicit path, well-known system locations,
// or PATH (spec §4.5 "Binary resolution").
func New(binaryPath string, cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = logging.L()
	}
	return &Engine{
		opts:       cfg.Options.withDefaults(),
		cb:         cfg.Callbacks,
		log:        log,
		spawn:      spawnSubprocess,
		binaryPath: binaryPath,
		pending:    make(map[string]*pendingRequest),
	}
}

// Start spawns the subprocess and performs the uci/isready handshake.
func (e *Engine) Start() error {
	if err := e.spawnLocked(); err != nil {
		return err
	}
	e.log.Info("analyzer subprocess started", logging.String("binary", sanitizedBinaryName(e.binaryPath)))
	if _, err := e.sendCorrelated("uci\n", "uciok", e.opts.RequestTimeout); err != nil {
		return fmt.Errorf("uci handshake: %w", err)
	}
	if _, err := e.sendCorrelated("isready\n", "readyok", e.opts.RequestTimeout); err != nil {
		return fmt.Errorf("isready handshake: %w", err)
	}
	return nil
}

func (e *Engine) spawnLocked() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	gen := e.procGen + 1
	e.mu.Unlock()

	proc, err := e.spawn(e.binaryPath)
	if err != nil {
		return chesserr.New(chesserr.EngineSpawnFailed, "start analyzer subprocess", err)
	}

	e.mu.Lock()
	e.proc = proc
	e.stdin = proc.Stdin()
	e.procGen = gen
	e.started = true
	e.stopping = false
	e.mu.Unlock()

	go e.readLoop(proc.Stdout(), proc, gen)
	return nil
}

// SetOption sends "setoption name N value V"; per spec this completes
// synchronously after write (no correlated reply).
func (e *Engine) SetOption(name, value string) error {
	return e.writeLine(fmt.Sprintf("setoption name %s value %s\n", name, value))
}

// SetPosition sends "position startpos [moves ...]" or "position fen <FEN>
// [moves ...]".
func (e *Engine) SetPosition(fen string, moves []string) error {
	cmd := "position "
	if fen == "" || fen == "startpos" {
		cmd += "startpos"
	} else {
		cmd += "fen " + fen
	}
	if len(moves) > 0 {
		cmd += " moves"
		for _, m := range moves {
			cmd += " " + m
		}
	}
	return e.writeLine(cmd + "\n")
}

func (e *Engine) writeLine(line string) error {
	e.stdinMu.Lock()
	defer e.stdinMu.Unlock()
	e.mu.Lock()
	stdin := e.stdin
	e.mu.Unlock()
	if stdin == nil {
		return chesserr.New(chesserr.EngineSpawnFailed, "analyzer process not running", nil)
	}
	_, err := io.WriteString(stdin, line)
	return err
}

// LastInfo returns the most recently parsed info frame.
func (e *Engine) LastInfo() InfoFrame {
	e.infoMu.Lock()
	defer e.infoMu.Unlock()
	return e.lastInfo
}

// Alive reports whether the analyzer subprocess is currently running.
func (e *Engine) Alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// LastInfoDepth returns the search depth of the most recently parsed info
// frame, for operational surfaces that only need a coarse liveness signal.
func (e *Engine) LastInfoDepth() int {
	return e.LastInfo().Depth
}
