package session

import (
	"context"
	"time"

	"github.com/sentientforest/pears-gambit-sub000/internal/chesserr"
)

// Status is a point-in-time read of session state for operational
// surfaces (internal/httpapi) that must never touch run-loop-owned
// fields directly.
type Status struct {
	State     State
	Connected bool
	MoveCount int
	StartedAt int64
}

// Status reports the session's current lifecycle state, connection
// status, and move count, posting onto the run loop like SendMove so the
// read never races the fields it touches.
func (s *Session) Status() Status {
	resultCh := make(chan Status, 1)
	s.post(func() {
		resultCh <- Status{
			State:     s.state,
			Connected: s.connected,
			MoveCount: s.log.View().Length(),
			StartedAt: s.startTime,
		}
	})
	select {
	case res := <-resultCh:
		return res
	case <-s.done:
		return Status{}
	}
}

// ForceSnapshot writes the current session state through to the
// configured Persister immediately, outside the normal on-event save
// path, so an operator can force durability ahead of, say, a planned
// restart.
func (s *Session) ForceSnapshot(ctx context.Context) error {
	errCh := make(chan error, 1)
	s.post(func() {
		if s.persister == nil {
			errCh <- chesserr.New(chesserr.StateViolation, "no persister configured", nil)
			return
		}
		s.persistSnapshot()
		errCh <- nil
	})
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return chesserr.New(chesserr.StateViolation, "session destroyed", nil)
	}
}

// PeerCounts reports the connected player/spectator occupancy of the
// session's swarm channel. Channel.PeerCounts locks internally, so this
// is safe to call from any goroutine without posting onto the run loop.
func (s *Session) PeerCounts() (players, spectators int) {
	return s.channel.PeerCounts()
}

// ReconnectPolicy returns the current reconnect backoff settings.
func (s *Session) ReconnectPolicy() (maxAttempts int, baseDelayMs int) {
	resultCh := make(chan [2]int, 1)
	s.post(func() {
		resultCh <- [2]int{s.opts.ReconnectMaxAttempts, int(s.opts.ReconnectBaseDelay / time.Millisecond)}
	})
	select {
	case res := <-resultCh:
		return res[0], res[1]
	case <-s.done:
		return 0, 0
	}
}

// SetReconnectPolicy adjusts the reconnect backoff's attempt cap and base
// delay at runtime; an in-flight backoff timer keeps running on the
// schedule it was armed with and only the next scheduleReconnect call
// picks up the new values.
func (s *Session) SetReconnectPolicy(maxAttempts int, baseDelayMs int) error {
	if maxAttempts <= 0 {
		return chesserr.New(chesserr.StateViolation, "max attempts must be positive", nil)
	}
	if baseDelayMs <= 0 {
		return chesserr.New(chesserr.StateViolation, "base delay must be positive", nil)
	}
	done := make(chan struct{})
	s.post(func() {
		s.opts.ReconnectMaxAttempts = maxAttempts
		s.opts.ReconnectBaseDelay = time.Duration(baseDelayMs) * time.Millisecond
		close(done)
	})
	select {
	case <-done:
		return nil
	case <-s.done:
		return chesserr.New(chesserr.StateViolation, "session destroyed", nil)
	}
}
