// Package chesserr defines the error taxonomy shared by every component of
// the distributed game-state core: transport, log, session, engine, and
// persistence all report failures as a chesserr.Error carrying one of the
// fixed Kinds below, never as ad-hoc error strings.
package chesserr

import (
	"errors"
	"fmt"
)

// Kind identifies which class of failure occurred. Callers branch on Kind,
// never on error string contents.
type Kind string

const (
	// TransportTransient is a peer disconnect or DHT hiccup. Not surfaced
	// to the UI; triggers reconnect.
	TransportTransient Kind = "transport_transient"
	// TransportFatal is inability to join any topic. Surfaced; the session
	// moves to an error state and destroys cleanly.
	TransportFatal Kind = "transport_fatal"
	// LogConflict is an append rejected because the writer key is not
	// authorized. Fatal at session scope.
	LogConflict Kind = "log_conflict"
	// LogCorruption is an entry that fails codec decode. The offending
	// entry is skipped and the session continues.
	LogCorruption Kind = "log_corruption"
	// MoveInvalid covers missing fields, unknown player color, or
	// malformed squares. Surfaced to the caller.
	MoveInvalid Kind = "move_invalid"
	// StateViolation is an operation requested in the wrong session state.
	StateViolation Kind = "state_violation"
	// HandshakeTimeout is surfaced via OnError; the session keeps
	// retrying in the background.
	HandshakeTimeout Kind = "handshake_timeout"
	// EngineSpawnFailed means the analyzer subprocess could not be
	// started. Surfaced; the engine remains stopped.
	EngineSpawnFailed Kind = "engine_spawn_failed"
	// BinaryNotFound means no candidate engine binary resolved.
	BinaryNotFound Kind = "binary_not_found"
	// EngineProtocolTimeout means a pending correlated request was
	// rejected; subsequent requests may proceed.
	EngineProtocolTimeout Kind = "engine_protocol_timeout"
)

// Error wraps an underlying cause with a Kind so callers can branch with
// errors.Is/As while retaining the original error chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so callers can
// write errors.Is(err, chesserr.New(chesserr.MoveInvalid, "", nil)) or more
// idiomatically use Has below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// New constructs an Error of the given Kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Has reports whether err (or any error it wraps) carries the given Kind.
func Has(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Join combines accumulated problems into a single Error of the given Kind,
// mirroring the teacher's accumulated-problems-then-joined-error pattern
// for failures made of several independent problems.
func Join(kind Kind, message string, problems []string) *Error {
	if len(problems) == 0 {
		return New(kind, message, nil)
	}
	errs := make([]error, 0, len(problems))
	for _, p := range problems {
		errs = append(errs, errors.New(p))
	}
	return New(kind, message, errors.Join(errs...))
}
