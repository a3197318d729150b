package engine

import (
	"bufio"
	"io"
	"strings"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
	"github.com/sentientforest/pears-gambit-sub000/internal/logging"
)

// sendCorrelated writes line and blocks until the reply token closes the
// request or timeout elapses. Only one outstanding request per token is
// allowed; registering a new one cancels the older one's timer and resolves
// it with a cancellation error (spec §4.5 "a duplicate cancels the older
// one's timer").
func (e *Engine) sendCorrelated(line, token string, timeout time.Duration) ([]string, error) {
	req := &pendingRequest{token: token, resultC: make(chan replyResult, 1)}

	e.reqMu.Lock()
	if old, ok := e.pending[token]; ok {
		old.timer.Stop()
		delete(e.pending, token)
		sendNonBlocking(old.resultC, replyResult{err: chesserr.New(chesserr.EngineProtocolTimeout, "superseded by a newer request on the same token", nil)})
	}
	req.timer = time.AfterFunc(timeout, func() {
		e.reqMu.Lock()
		if e.pending[token] == req {
			delete(e.pending, token)
		}
		e.reqMu.Unlock()
		sendNonBlocking(req.resultC, replyResult{err: chesserr.New(chesserr.EngineProtocolTimeout, "analyzer did not reply to "+token+" in time", nil)})
	})
	e.pending[token] = req
	e.reqMu.Unlock()

	if err := e.writeLine(line); err != nil {
		e.reqMu.Lock()
		if e.pending[token] == req {
			delete(e.pending, token)
		}
		e.reqMu.Unlock()
		req.timer.Stop()
		return nil, err
	}

	result := <-req.resultC
	return result.fields, result.err
}

// resolve delivers a matching reply line to the pending request for token,
// if any, stopping its timer.
func (e *Engine) resolve(token string, fields []string) {
	e.reqMu.Lock()
	req, ok := e.pending[token]
	if ok {
		delete(e.pending, token)
	}
	e.reqMu.Unlock()
	if !ok {
		return
	}
	req.timer.Stop()
	sendNonBlocking(req.resultC, replyResult{fields: fields})
}

// sendNonBlocking delivers v to ch without blocking. ch is always buffered
// with capacity 1 and read at most once, but a racing timer callback that
// already lost the Stop() race may also attempt a send; dropping that
// redundant attempt instead of blocking avoids leaking the callback's
// goroutine.
func sendNonBlocking(ch chan replyResult, v replyResult) {
	select {
	case ch <- v:
	default:
	}
}

// readLoop consumes the subprocess's stdout line by line for as long as gen
// remains the current generation, dispatching each line by its leading
// token. A newer respawn bumps procGen so a stale reader never clobbers the
// state of the process that replaced it (grounded in claude-manager.go's
// gen-gated readLoop cleanup).
func (e *Engine) readLoop(stdout io.Reader, proc process, gen int) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		e.handleLine(line)
	}

	err := proc.Wait()

	e.mu.Lock()
	current := e.procGen == gen
	stopping := e.stopping
	if current {
		e.started = false
		e.proc = nil
		e.stdin = nil
	}
	e.mu.Unlock()

	if !current {
		return
	}
	if stopping {
		return
	}
	e.cb.fireExit(err)
	if e.opts.Respawn {
		e.scheduleRespawn()
	}
}

func (e *Engine) handleLine(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "uciok":
		e.resolve("uciok", fields)
	case "readyok":
		e.resolve("readyok", fields)
	case "bestmove":
		e.resolve("bestmove", fields)
	case "info":
		frame := parseInfo(fields[1:])
		e.infoMu.Lock()
		e.lastInfo = frame
		e.infoMu.Unlock()
		e.cb.fireInfo(frame)
	case "option":
		// Declarative capability advertisement; not correlated, nothing to
		// surface beyond a debug trace.
		e.log.Debug("analyzer option", logging.String("line", line))
	default:
		e.log.Debug("unhandled analyzer line", logging.String("line", line))
	}
}
