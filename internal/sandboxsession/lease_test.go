package sandboxsession

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLeaseStore struct {
	lastInstance *Instance
}

func (f *fakeLeaseStore) CreateLease(ctx context.Context, leaseID, providerName string) error { return nil }
func (f *fakeLeaseStore) GetLease(ctx context.Context, leaseID string) (*LeaseRecord, error) {
	return &LeaseRecord{LeaseID: leaseID, ProviderName: "fake"}, nil
}
func (f *fakeLeaseStore) UpdateLeaseInstance(ctx context.Context, leaseID string, instance *Instance) error {
	f.lastInstance = instance
	return nil
}

type fakeProvider struct {
	createErr   error
	resumeOK    bool
	resumeErr   error
	createCalls int
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) CreateInstance(ctx context.Context, cfg InstanceConfig) (*Instance, error) {
	p.createCalls++
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &Instance{InstanceID: "inst-1", State: InstanceRunning, StartedAt: time.Now()}, nil
}
func (p *fakeProvider) Pause(ctx context.Context, instanceID string) (bool, error)  { return true, nil }
func (p *fakeProvider) Resume(ctx context.Context, instanceID string) (bool, error) { return p.resumeOK, p.resumeErr }
func (p *fakeProvider) Destroy(ctx context.Context, instanceID string) (bool, error) { return true, nil }
func (p *fakeProvider) Status(ctx context.Context, instanceID string) (InstanceState, error) {
	return InstanceRunning, nil
}
func (p *fakeProvider) Exec(ctx context.Context, instanceID, cmd, cwd string, env map[string]string, timeout time.Duration) (*ExecResult, error) {
	return &ExecResult{}, nil
}
func (p *fakeProvider) ReadFile(ctx context.Context, instanceID, path string) ([]byte, error) {
	return nil, nil
}
func (p *fakeProvider) WriteFile(ctx context.Context, instanceID, path string, content []byte) error {
	return nil
}
func (p *fakeProvider) ListDir(ctx context.Context, instanceID, path string) ([]string, error) {
	return nil, nil
}
func (p *fakeProvider) Metrics(ctx context.Context, instanceID string) (*MetricsSnapshot, error) {
	return &MetricsSnapshot{}, nil
}

func TestSandboxLease_EnsureActiveInstance_CreatesWhenAbsent(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeLeaseStore{}
	lease := NewSandboxLease(&LeaseRecord{LeaseID: "lease-1", ProviderName: "fake"}, provider, store)

	inst, err := lease.EnsureActiveInstance(context.Background(), InstanceConfig{})
	if err != nil {
		t.Fatalf("EnsureActiveInstance() error = %v", err)
	}
	if inst.State != InstanceRunning {
		t.Errorf("State = %v, want %v", inst.State, InstanceRunning)
	}
	if provider.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", provider.createCalls)
	}
	if store.lastInstance == nil || store.lastInstance.InstanceID != "inst-1" {
		t.Error("expected instance to be persisted")
	}
}

func TestSandboxLease_EnsureActiveInstance_ReturnsRunningAsIs(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeLeaseStore{}
	lease := NewSandboxLease(&LeaseRecord{
		LeaseID:      "lease-1",
		ProviderName: "fake",
		Instance:     &Instance{InstanceID: "inst-running", State: InstanceRunning},
	}, provider, store)

	inst, err := lease.EnsureActiveInstance(context.Background(), InstanceConfig{})
	if err != nil {
		t.Fatalf("EnsureActiveInstance() error = %v", err)
	}
	if inst.InstanceID != "inst-running" {
		t.Errorf("InstanceID = %q, want %q", inst.InstanceID, "inst-running")
	}
	if provider.createCalls != 0 {
		t.Error("should not create a new instance when one is already running")
	}
}

func TestSandboxLease_EnsureActiveInstance_ResumesPaused(t *testing.T) {
	provider := &fakeProvider{resumeOK: true}
	store := &fakeLeaseStore{}
	lease := NewSandboxLease(&LeaseRecord{
		LeaseID:      "lease-1",
		ProviderName: "fake",
		Instance:     &Instance{InstanceID: "inst-paused", State: InstancePaused},
	}, provider, store)

	inst, err := lease.EnsureActiveInstance(context.Background(), InstanceConfig{})
	if err != nil {
		t.Fatalf("EnsureActiveInstance() error = %v", err)
	}
	if inst.State != InstanceRunning {
		t.Errorf("State = %v, want %v after resume", inst.State, InstanceRunning)
	}
}

func TestSandboxLease_EnsureActiveInstance_ResumeFailurePropagatesProviderError(t *testing.T) {
	provider := &fakeProvider{resumeErr: errors.New("boom")}
	store := &fakeLeaseStore{}
	lease := NewSandboxLease(&LeaseRecord{
		LeaseID:      "lease-1",
		ProviderName: "fake",
		Instance:     &Instance{InstanceID: "inst-paused", State: InstancePaused},
	}, provider, store)

	_, err := lease.EnsureActiveInstance(context.Background(), InstanceConfig{})
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ProviderError, got %T: %v", err, err)
	}
}

func TestSandboxLease_EnsureActiveInstance_RecreatesWhenDead(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeLeaseStore{}
	lease := NewSandboxLease(&LeaseRecord{
		LeaseID:      "lease-1",
		ProviderName: "fake",
		Instance:     &Instance{InstanceID: "inst-dead", State: InstanceDead},
	}, provider, store)

	inst, err := lease.EnsureActiveInstance(context.Background(), InstanceConfig{})
	if err != nil {
		t.Fatalf("EnsureActiveInstance() error = %v", err)
	}
	if inst.InstanceID != "inst-1" {
		t.Errorf("InstanceID = %q, want a freshly created instance", inst.InstanceID)
	}
	if provider.createCalls != 1 {
		t.Errorf("createCalls = %d, want 1", provider.createCalls)
	}
}

func TestSandboxLease_MarkDead(t *testing.T) {
	provider := &fakeProvider{}
	store := &fakeLeaseStore{}
	lease := NewSandboxLease(&LeaseRecord{
		LeaseID:      "lease-1",
		ProviderName: "fake",
		Instance:     &Instance{InstanceID: "inst-1", State: InstanceRunning},
	}, provider, store)

	if err := lease.MarkDead(context.Background()); err != nil {
		t.Fatalf("MarkDead() error = %v", err)
	}
	if lease.Instance().State != InstanceDead {
		t.Errorf("State = %v, want %v", lease.Instance().State, InstanceDead)
	}
}
