package sandboxsession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ManagerConfig parameterizes a SandboxManager.
type ManagerConfig struct {
	Policy         SessionPolicy
	InstanceConfig InstanceConfig
	SweepInterval  time.Duration // defaults to Policy.IdleTimeout / 10
	UseRemote      bool          // false => LocalRuntime, true => RemoteWrappedRuntime
}

// Option configures a SandboxManager at construction time.
type Option func(*ManagerConfig)

// WithPolicy overrides the default session policy.
func WithPolicy(p SessionPolicy) Option {
	return func(c *ManagerConfig) { c.Policy = p }
}

// WithInstanceConfig overrides default instance creation parameters.
func WithInstanceConfig(cfg InstanceConfig) Option {
	return func(c *ManagerConfig) { c.InstanceConfig = cfg }
}

// WithSweepInterval overrides the background reaper's tick interval.
func WithSweepInterval(d time.Duration) Option {
	return func(c *ManagerConfig) { c.SweepInterval = d }
}

// WithRemote switches runtime construction to RemoteWrappedRuntime
// against the configured Provider instead of LocalRuntime.
func WithRemote(enabled bool) Option {
	return func(c *ManagerConfig) { c.UseRemote = enabled }
}

// SandboxManager orchestrates GetSandbox(thread_id) across the three
// durable levels -- ChatSession, AbstractTerminal, SandboxLease -- and
// the ephemeral PhysicalTerminalRuntime layered on top (spec §3, §4.2).
// It is the only entry point tool execution middleware should use to
// obtain a runtime for a thread.
type SandboxManager struct {
	cfg      ManagerConfig
	provider Provider
	logger   *slog.Logger

	sessions  SessionStore
	terminals TerminalStore
	leases    LeaseStore

	mu       sync.Mutex
	active   map[string]*ChatSession // threadID -> live session
	leaseObj map[string]*SandboxLease // leaseID -> live lease wrapper

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// NewSandboxManager wires a manager against its three stores and a
// concrete Provider. Call Start to launch the background sweeper.
func NewSandboxManager(provider Provider, sessions SessionStore, terminals TerminalStore, leases LeaseStore, logger *slog.Logger, opts ...Option) *SandboxManager {
	cfg := ManagerConfig{
		Policy:         DefaultSessionPolicy(),
		InstanceConfig: InstanceConfig{WorkspaceRoot: "/workspace"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = cfg.Policy.IdleTimeout / 10
		if cfg.SweepInterval <= 0 {
			cfg.SweepInterval = time.Minute
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SandboxManager{
		cfg:       cfg,
		provider:  provider,
		logger:    logger,
		sessions:  sessions,
		terminals: terminals,
		leases:    leases,
		active:    make(map[string]*ChatSession),
		leaseObj:  make(map[string]*SandboxLease),
		stopSweep: make(chan struct{}),
	}
}

// GetSandbox returns a ready-to-use runtime for threadID, creating a
// ChatSession/AbstractTerminal/SandboxLease triple on first use and
// reattaching to existing durable state thereafter. The returned
// ChatSession is always Active with a live runtime attached.
func (m *SandboxManager) GetSandbox(ctx context.Context, threadID string) (*ChatSession, PhysicalTerminalRuntime, error) {
	sess, err := m.loadOrCreateSession(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}

	switch sess.Status() {
	case SessionExpired, SessionClosed:
		sess, err = m.recreateSession(ctx, threadID, sess)
		if err != nil {
			return nil, nil, err
		}
	case SessionPaused:
		if err := sess.Resume(ctx); err != nil {
			return nil, nil, err
		}
	}

	if rt := sess.Runtime(); rt != nil {
		return sess, rt, nil
	}

	rt, err := m.attachRuntime(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	sess.SetRuntime(rt)
	return sess, rt, nil
}

func (m *SandboxManager) loadOrCreateSession(ctx context.Context, threadID string) (*ChatSession, error) {
	m.mu.Lock()
	if sess, ok := m.active[threadID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	rec, err := m.sessions.GetSessionByThread(ctx, threadID)
	if err != nil || rec == nil {
		return m.createSession(ctx, threadID)
	}
	sess := NewChatSession(rec, m.sessions)
	m.mu.Lock()
	m.active[threadID] = sess
	m.mu.Unlock()
	return sess, nil
}

func (m *SandboxManager) createSession(ctx context.Context, threadID string) (*ChatSession, error) {
	terminalID := uuid.NewString()
	leaseID := uuid.NewString()
	sessionID := uuid.NewString()
	now := time.Now()

	providerName := "local"
	if m.provider != nil {
		providerName = m.provider.Name()
	}
	if err := m.leases.CreateLease(ctx, leaseID, providerName); err != nil {
		return nil, fmt.Errorf("create lease: %w", err)
	}
	initialState := TerminalState{CWD: m.cfg.InstanceConfig.WorkspaceRoot, EnvDelta: map[string]string{}, Version: 0, UpdatedAt: now}
	if err := m.terminals.CreateTerminal(ctx, terminalID, threadID, leaseID, initialState); err != nil {
		return nil, fmt.Errorf("create terminal: %w", err)
	}

	rec := &ChatSessionRecord{
		SessionID:    sessionID,
		ThreadID:     threadID,
		TerminalID:   terminalID,
		Status:       SessionActive,
		CreatedAt:    now,
		LastActiveAt: now,
		Policy:       m.cfg.Policy,
	}
	if err := m.sessions.CreateSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sess := NewChatSession(rec, m.sessions)
	m.mu.Lock()
	m.active[threadID] = sess
	m.mu.Unlock()

	m.logger.Info("sandbox session created", "thread_id", threadID, "session_id", sessionID, "terminal_id", terminalID, "lease_id", leaseID)
	return sess, nil
}

// recreateSession replaces an expired/closed session with a fresh one
// that reuses the same AbstractTerminal (and therefore the same
// SandboxLease), preserving terminal continuity across policy-window
// boundaries.
func (m *SandboxManager) recreateSession(ctx context.Context, threadID string, old *ChatSession) (*ChatSession, error) {
	sessionID := uuid.NewString()
	now := time.Now()
	rec := &ChatSessionRecord{
		SessionID:    sessionID,
		ThreadID:     threadID,
		TerminalID:   old.TerminalID,
		Status:       SessionActive,
		CreatedAt:    now,
		LastActiveAt: now,
		Policy:       m.cfg.Policy,
	}
	if err := m.sessions.CreateSession(ctx, rec); err != nil {
		return nil, fmt.Errorf("recreate session: %w", err)
	}
	sess := NewChatSession(rec, m.sessions)
	m.mu.Lock()
	m.active[threadID] = sess
	m.mu.Unlock()
	m.logger.Info("sandbox session recreated", "thread_id", threadID, "session_id", sessionID, "terminal_id", old.TerminalID)
	return sess, nil
}

func (m *SandboxManager) attachRuntime(ctx context.Context, sess *ChatSession) (PhysicalTerminalRuntime, error) {
	terminal, err := m.terminals.GetTerminalByThread(ctx, sess.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("load terminal: %w", err)
	}

	if !m.cfg.UseRemote {
		return NewLocalRuntime(), nil
	}

	lease, err := m.loadLease(ctx, terminal.LeaseID)
	if err != nil {
		return nil, err
	}
	inst, err := lease.EnsureActiveInstance(ctx, m.cfg.InstanceConfig)
	if err != nil {
		var pe *ProviderError
		if ok := asProviderErrorOK(err, &pe); ok && pe.IsFatal() {
			_ = lease.MarkDead(ctx)
			_ = sess.Close(ctx)
		}
		return nil, err
	}
	return NewRemoteWrappedRuntime(m.provider, inst.InstanceID), nil
}

func asProviderErrorOK(err error, out **ProviderError) bool {
	pe, ok := err.(*ProviderError)
	if ok {
		*out = pe
	}
	return ok
}

func (m *SandboxManager) loadLease(ctx context.Context, leaseID string) (*SandboxLease, error) {
	m.mu.Lock()
	if l, ok := m.leaseObj[leaseID]; ok {
		m.mu.Unlock()
		return l, nil
	}
	m.mu.Unlock()

	rec, err := m.leases.GetLease(ctx, leaseID)
	if err != nil {
		return nil, fmt.Errorf("load lease: %w", err)
	}
	lease := NewSandboxLease(rec, m.provider, m.leases)
	m.mu.Lock()
	m.leaseObj[leaseID] = lease
	m.mu.Unlock()
	return lease, nil
}

// Start launches the background sweeper, which periodically reaps
// sessions whose policy window has elapsed (eager expiry), releasing
// their runtimes even when nothing requests them. Lazy reaping (on
// GetSandbox access) happens regardless of whether Start was called.
func (m *SandboxManager) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopSweep:
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

// Stop halts the background sweeper. Safe to call multiple times.
func (m *SandboxManager) Stop() {
	m.sweepOnce.Do(func() { close(m.stopSweep) })
}

func (m *SandboxManager) sweep(ctx context.Context) {
	m.mu.Lock()
	candidates := make([]*ChatSession, 0, len(m.active))
	for _, sess := range m.active {
		candidates = append(candidates, sess)
	}
	m.mu.Unlock()

	for _, sess := range candidates {
		if sess.IsExpired() {
			if err := sess.Close(ctx); err != nil {
				m.logger.Warn("sweep: failed to close expired session", "thread_id", sess.ThreadID, "error", err)
				continue
			}
			m.logger.Info("sweep: reaped expired session", "thread_id", sess.ThreadID, "session_id", sess.SessionID)
		}
	}
}
