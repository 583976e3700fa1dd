package sandboxsession

import (
	"context"
	"fmt"
	"sync"
)

// LeaseStore persists SandboxLease records (spec §6.3 sandbox_leases
// table).
type LeaseStore interface {
	CreateLease(ctx context.Context, leaseID, providerName string) error
	GetLease(ctx context.Context, leaseID string) (*LeaseRecord, error)
	UpdateLeaseInstance(ctx context.Context, leaseID string, instance *Instance) error
}

// LeaseRecord is the persisted shape of a SandboxLease, as loaded from
// the durable store.
type LeaseRecord struct {
	LeaseID      string
	ProviderName string
	Instance     *Instance // nil if never created / destroyed
}

// SandboxLease is a durable handle to a shared compute instance. A
// lease may be referenced by more than one terminal; its instance is
// ephemeral and may be paused, destroyed, and recreated many times
// while the lease identity survives (spec §3, §4.2).
type SandboxLease struct {
	LeaseID      string
	ProviderName string

	mu       sync.Mutex
	instance *Instance
	provider Provider
	store    LeaseStore
}

// NewSandboxLease constructs a lease wrapper around a loaded record.
func NewSandboxLease(rec *LeaseRecord, provider Provider, store LeaseStore) *SandboxLease {
	return &SandboxLease{
		LeaseID:      rec.LeaseID,
		ProviderName: rec.ProviderName,
		instance:     rec.Instance,
		provider:     provider,
		store:        store,
	}
}

// Instance returns the current instance snapshot, or nil if no instance
// has ever been created (or it was destroyed and not yet recreated).
func (l *SandboxLease) Instance() *Instance {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.instance == nil {
		return nil
	}
	cp := *l.instance
	return &cp
}

// EnsureActiveInstance guarantees a running instance or fails. If the
// current instance is running, it is returned as-is; if paused, it is
// resumed; if dead or absent, a new instance is created. All provider
// failures propagate as *ProviderError (spec §4.2).
func (l *SandboxLease) EnsureActiveInstance(ctx context.Context, cfg InstanceConfig) (*Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.instance != nil {
		switch l.instance.State {
		case InstanceRunning:
			cp := *l.instance
			return &cp, nil
		case InstancePaused:
			ok, err := l.provider.Resume(ctx, l.instance.InstanceID)
			if err != nil {
				return nil, asProviderError("resume", err)
			}
			if !ok {
				return nil, &ProviderError{Kind: ProviderErrorTransient, Op: "resume", Cause: fmt.Errorf("provider declined resume")}
			}
			l.instance.State = InstanceRunning
			if err := l.persistInstance(ctx); err != nil {
				return nil, err
			}
			cp := *l.instance
			return &cp, nil
		}
	}

	// dead or absent: create a new instance.
	inst, err := l.provider.CreateInstance(ctx, cfg)
	if err != nil {
		return nil, asProviderError("create_instance", err)
	}
	l.instance = inst
	if err := l.persistInstance(ctx); err != nil {
		return nil, err
	}
	cp := *l.instance
	return &cp, nil
}

// PauseInstance pauses the current instance via the provider and
// persists the resulting state.
func (l *SandboxLease) PauseInstance(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.instance == nil || l.instance.State != InstanceRunning {
		return nil
	}
	ok, err := l.provider.Pause(ctx, l.instance.InstanceID)
	if err != nil {
		return asProviderError("pause", err)
	}
	if ok {
		l.instance.State = InstancePaused
	}
	return l.persistInstance(ctx)
}

// DestroyInstance destroys the current instance via the provider. The
// lease identity survives; a later EnsureActiveInstance call recreates
// the instance.
func (l *SandboxLease) DestroyInstance(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.instance == nil {
		return nil
	}
	_, err := l.provider.Destroy(ctx, l.instance.InstanceID)
	if err != nil {
		return asProviderError("destroy", err)
	}
	l.instance.State = InstanceDead
	return l.persistInstance(ctx)
}

// MarkDead force-marks the instance dead without calling the provider,
// used when a ProviderFatal error has already been observed elsewhere
// and the instance is known lost.
func (l *SandboxLease) MarkDead(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.instance == nil {
		return nil
	}
	l.instance.State = InstanceDead
	return l.persistInstance(ctx)
}

func (l *SandboxLease) persistInstance(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	if err := l.store.UpdateLeaseInstance(ctx, l.LeaseID, l.instance); err != nil {
		return fmt.Errorf("persist lease instance: %w", err)
	}
	return nil
}

func asProviderError(op string, err error) error {
	if pe, ok := err.(*ProviderError); ok {
		return pe
	}
	return &ProviderError{Kind: ProviderErrorTransient, Op: op, Cause: err}
}
