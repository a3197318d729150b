package engine

import (
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
)

var errRespawnExhausted = chesserr.New(chesserr.EngineSpawnFailed, "analyzer respawn attempts exhausted", nil)

// scheduleRespawn arms a backoff restart after an unexpected subprocess
// exit, mirroring internal/session's reconnect schedule (spec §5: 1s, 2s,
// 4s, 8s, capped at 10s). The bot-population controller's reconcile loop
// (internal/bots/controller.go) grounds treating "process is gone" as a
// target to reconcile toward rather than a terminal failure.
func (e *Engine) scheduleRespawn() {
	e.mu.Lock()
	if e.respawnAttempt >= RespawnMaxAttempts {
		e.mu.Unlock()
		e.cb.fireError(errRespawnExhausted)
		return
	}
	delay := RespawnBaseDelay << uint(e.respawnAttempt)
	if delay > RespawnMaxDelay {
		delay = RespawnMaxDelay
	}
	e.respawnAttempt++
	if e.respawnTimer != nil {
		e.respawnTimer.Stop()
	}
	e.respawnTimer = time.AfterFunc(delay, func() {
		if err := e.Start(); err != nil {
			e.cb.fireError(err)
			e.scheduleRespawn()
		}
	})
	e.mu.Unlock()
}

// stopRespawn cancels any pending respawn timer, used on an explicit
// Shutdown so a deliberate stop never races a backoff restart.
func (e *Engine) stopRespawn() {
	e.mu.Lock()
	if e.respawnTimer != nil {
		e.respawnTimer.Stop()
		e.respawnTimer = nil
	}
	e.respawnAttempt = 0
	e.mu.Unlock()
}
