package sandboxsession

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a ChatSession (spec §3, §4.2).
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionPaused  SessionStatus = "paused"
	SessionExpired SessionStatus = "expired"
	SessionClosed  SessionStatus = "closed"
)

// SessionPolicy bounds how long a ChatSession stays alive without
// activity (IdleTimeout) or regardless of activity (MaxDuration).
type SessionPolicy struct {
	IdleTimeout time.Duration
	MaxDuration time.Duration
}

// DefaultSessionPolicy matches spec §3 defaults: 30 minute idle timeout,
// 24 hour max duration.
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		IdleTimeout: 30 * time.Minute,
		MaxDuration: 24 * time.Hour,
	}
}

// SessionStore persists ChatSession records (spec §6.3 chat_sessions
// table).
type SessionStore interface {
	CreateSession(ctx context.Context, s *ChatSessionRecord) error
	GetSessionByThread(ctx context.Context, threadID string) (*ChatSessionRecord, error)
	UpdateSessionStatus(ctx context.Context, sessionID string, status SessionStatus, lastActiveAt time.Time) error
}

// ChatSessionRecord is the persisted shape of a ChatSession.
type ChatSessionRecord struct {
	SessionID    string
	ThreadID     string
	TerminalID   string
	Status       SessionStatus
	CreatedAt    time.Time
	LastActiveAt time.Time
	Policy       SessionPolicy
}

// ChatSession is the active policy window binding a thread to a
// terminal and lease. At most one non-terminal ChatSession may exist
// per thread (spec §3 invariant). Close releases the runtime but never
// the lease -- only explicit thread/lease teardown does that (spec §9
// open question, resolved in DESIGN.md).
type ChatSession struct {
	SessionID  string
	ThreadID   string
	TerminalID string
	Policy     SessionPolicy

	mu           sync.Mutex
	status       SessionStatus
	createdAt    time.Time
	lastActiveAt time.Time
	store        SessionStore
	runtime      PhysicalTerminalRuntime
}

// NewChatSession wraps a loaded record plus its bound runtime.
func NewChatSession(rec *ChatSessionRecord, store SessionStore) *ChatSession {
	return &ChatSession{
		SessionID:    rec.SessionID,
		ThreadID:     rec.ThreadID,
		TerminalID:   rec.TerminalID,
		Policy:       rec.Policy,
		status:       rec.Status,
		createdAt:    rec.CreatedAt,
		lastActiveAt: rec.LastActiveAt,
		store:        store,
	}
}

// Status returns the current session status, reaping to Expired first
// if the policy window has lazily elapsed (spec §4.2 lazy reaping on
// access).
func (s *ChatSession) Status() SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapIfExpiredLocked()
	return s.status
}

// IsExpired reports whether now - last_active_at >= idle_timeout OR
// now - created_at >= max_duration (spec §3 invariant, exact formula).
func (s *ChatSession) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isExpiredLocked(time.Now())
}

func (s *ChatSession) isExpiredLocked(now time.Time) bool {
	if s.status == SessionClosed || s.status == SessionExpired {
		return s.status == SessionExpired
	}
	if s.Policy.IdleTimeout > 0 && now.Sub(s.lastActiveAt) >= s.Policy.IdleTimeout {
		return true
	}
	if s.Policy.MaxDuration > 0 && now.Sub(s.createdAt) >= s.Policy.MaxDuration {
		return true
	}
	return false
}

func (s *ChatSession) reapIfExpiredLocked() {
	if s.status == SessionActive && s.isExpiredLocked(time.Now()) {
		s.status = SessionExpired
	}
}

// Touch extends the session by updating last_active_at and persisting
// it. Every successful tool execution triggers a touch (spec §4.2).
func (s *ChatSession) Touch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapIfExpiredLocked()
	if s.status != SessionActive {
		return fmt.Errorf("touch session %s: %w", s.SessionID, s.statusErrLocked())
	}
	s.lastActiveAt = time.Now()
	if s.store != nil {
		if err := s.store.UpdateSessionStatus(ctx, s.SessionID, s.status, s.lastActiveAt); err != nil {
			return fmt.Errorf("persist touch: %w", err)
		}
	}
	return nil
}

func (s *ChatSession) statusErrLocked() error {
	switch s.status {
	case SessionExpired:
		return ErrSessionExpired
	case SessionClosed:
		return ErrSessionClosed
	default:
		return fmt.Errorf("session status %s is not usable", s.status)
	}
}

// Pause transitions active -> paused.
func (s *ChatSession) Pause(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reapIfExpiredLocked()
	if s.status != SessionActive {
		return s.statusErrLocked()
	}
	s.status = SessionPaused
	return s.persistStatusLocked(ctx)
}

// Resume transitions paused -> active.
func (s *ChatSession) Resume(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != SessionPaused {
		return fmt.Errorf("resume session %s: status is %s, not paused", s.SessionID, s.status)
	}
	s.status = SessionActive
	s.lastActiveAt = time.Now()
	return s.persistStatusLocked(ctx)
}

// Close releases the runtime (if any) but leaves the terminal and
// lease untouched, so a later tool call on the same thread can reattach
// without losing terminal continuity or compute (spec §9 resolved open
// question).
func (s *ChatSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == SessionClosed {
		return nil
	}
	s.status = SessionClosed
	s.runtime = nil
	return s.persistStatusLocked(ctx)
}

// SetRuntime attaches the ephemeral PhysicalTerminalRuntime that
// backs this session. Not persisted -- runtimes are never durable.
func (s *ChatSession) SetRuntime(rt PhysicalTerminalRuntime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime = rt
}

// Runtime returns the currently attached runtime, or nil.
func (s *ChatSession) Runtime() PhysicalTerminalRuntime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime
}

func (s *ChatSession) persistStatusLocked(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.UpdateSessionStatus(ctx, s.SessionID, s.status, s.lastActiveAt); err != nil {
		return fmt.Errorf("persist session status: %w", err)
	}
	return nil
}
