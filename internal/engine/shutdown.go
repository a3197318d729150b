package engine

import (
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
)

// Shutdown asks the analyzer to quit, gives it shutdownGrace to exit on its
// own, and kills it otherwise, never leaking the child process (spec §4.5
// "shutdown: quit, wait 100ms, kill").
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	proc := e.proc
	e.stopping = true
	e.mu.Unlock()

	e.stopRespawn()
	e.failAllPending()

	_ = e.writeLine("quit\n")

	exited := make(chan struct{})
	go func() {
		proc.Wait()
		close(exited)
	}()

	select {
	case <-exited:
		return nil
	case <-time.After(shutdownGrace):
		return proc.Kill()
	}
}

// failAllPending resolves every outstanding correlated request with a
// cancellation so callers blocked in sendCorrelated don't hang forever
// across a shutdown.
func (e *Engine) failAllPending() {
	e.reqMu.Lock()
	pending := e.pending
	e.pending = make(map[string]*pendingRequest)
	e.reqMu.Unlock()

	for _, req := range pending {
		req.timer.Stop()
		sendNonBlocking(req.resultC, replyResult{err: errShuttingDown})
	}
}

var errShuttingDown = chesserr.New(chesserr.StateViolation, "engine is shutting down", nil)
