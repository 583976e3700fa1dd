// Package sandboxsession implements the three-level durable sandbox
// abstraction described in spec.md §4.2: ChatSession binds a thread to
// an AbstractTerminal and a SandboxLease, decoupling durable terminal
// state from the ephemeral compute instance that backs it.
package sandboxsession

import "errors"

// Sentinel errors for session/terminal/lease lifecycle conditions.
var (
	// ErrSessionExpired indicates the ChatSession's idle or max-duration
	// policy window has elapsed.
	ErrSessionExpired = errors.New("chat session expired")

	// ErrSessionClosed indicates the ChatSession was explicitly closed.
	ErrSessionClosed = errors.New("chat session closed")

	// ErrNoActiveSession indicates no non-terminal ChatSession exists for
	// a thread.
	ErrNoActiveSession = errors.New("no active chat session")

	// ErrLeaseDead indicates a SandboxLease's instance is dead and could
	// not be recreated.
	ErrLeaseDead = errors.New("sandbox lease instance is dead")

	// ErrTerminalVersionConflict indicates a concurrent update raced the
	// terminal's version counter.
	ErrTerminalVersionConflict = errors.New("terminal state version conflict")

	// ErrThreadNotFound indicates the referenced thread does not exist.
	ErrThreadNotFound = errors.New("thread not found")
)

// ProviderErrorKind classifies failures returned by a Provider
// implementation (spec §4.2).
type ProviderErrorKind string

const (
	ProviderErrorTransient ProviderErrorKind = "transient"
	ProviderErrorAuth      ProviderErrorKind = "auth"
	ProviderErrorQuota     ProviderErrorKind = "quota"
	ProviderErrorPermanent ProviderErrorKind = "permanent"
)

// ProviderError wraps a failure from a concrete Provider implementation
// with a typed kind so callers can decide whether to retry (Transient),
// mark the lease dead (Permanent/Auth/Quota), or propagate as-is.
type ProviderError struct {
	Kind    ProviderErrorKind
	Op      string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return e.Op + ": " + string(e.Kind) + ": " + e.Cause.Error()
	}
	return e.Op + ": " + string(e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// IsFatal reports whether the error kind should mark a lease dead and
// force session closure per spec §7 ProviderFatal handling.
func (e *ProviderError) IsFatal() bool {
	switch e.Kind {
	case ProviderErrorAuth, ProviderErrorQuota, ProviderErrorPermanent:
		return true
	default:
		return false
	}
}
