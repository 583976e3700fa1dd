package sandboxsession

import (
	"context"
	"testing"
	"time"
)

type fakeTerminalStore struct {
	lastState TerminalState
}

func (f *fakeTerminalStore) CreateTerminal(ctx context.Context, terminalID, threadID, leaseID string, state TerminalState) error {
	return nil
}
func (f *fakeTerminalStore) GetTerminalByThread(ctx context.Context, threadID string) (*AbstractTerminal, error) {
	return nil, ErrThreadNotFound
}
func (f *fakeTerminalStore) UpdateTerminalState(ctx context.Context, terminalID string, state TerminalState) error {
	f.lastState = state
	return nil
}

func TestAbstractTerminal_UpdateState_IncrementsVersion(t *testing.T) {
	store := &fakeTerminalStore{}
	initial := TerminalState{CWD: "/workspace", EnvDelta: map[string]string{}, Version: 0, UpdatedAt: time.Now()}
	term := NewAbstractTerminal("term-1", "thread-1", "lease-1", initial, store)

	next, err := term.UpdateState(context.Background(), "/workspace/sub", map[string]string{"FOO": "bar"})
	if err != nil {
		t.Fatalf("UpdateState() error = %v", err)
	}
	if next.Version != 1 {
		t.Errorf("Version = %d, want 1", next.Version)
	}
	if next.CWD != "/workspace/sub" {
		t.Errorf("CWD = %q, want %q", next.CWD, "/workspace/sub")
	}
	if next.EnvDelta["FOO"] != "bar" {
		t.Errorf("EnvDelta[FOO] = %q, want %q", next.EnvDelta["FOO"], "bar")
	}

	next2, err := term.UpdateState(context.Background(), "/workspace/sub2", map[string]string{"BAZ": "qux"})
	if err != nil {
		t.Fatalf("second UpdateState() error = %v", err)
	}
	if next2.Version != 2 {
		t.Errorf("Version = %d, want 2", next2.Version)
	}
	if next2.EnvDelta["FOO"] != "bar" || next2.EnvDelta["BAZ"] != "qux" {
		t.Errorf("expected EnvDelta to merge across updates, got %v", next2.EnvDelta)
	}
}

func TestAbstractTerminal_UpdateState_RejectsRelativeCWD(t *testing.T) {
	store := &fakeTerminalStore{}
	initial := TerminalState{CWD: "/workspace", Version: 0}
	term := NewAbstractTerminal("term-1", "thread-1", "lease-1", initial, store)

	_, err := term.UpdateState(context.Background(), "relative/path", nil)
	if err == nil {
		t.Fatal("expected error for relative cwd")
	}
}

func TestAbstractTerminal_UpdateState_RejectsEmptyCWD(t *testing.T) {
	store := &fakeTerminalStore{}
	term := NewAbstractTerminal("term-1", "thread-1", "lease-1", TerminalState{CWD: "/workspace"}, store)

	if _, err := term.UpdateState(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty cwd")
	}
}

func TestAbstractTerminal_GetState_ReturnsIndependentCopy(t *testing.T) {
	store := &fakeTerminalStore{}
	initial := TerminalState{CWD: "/workspace", EnvDelta: map[string]string{"A": "1"}}
	term := NewAbstractTerminal("term-1", "thread-1", "lease-1", initial, store)

	snapshot := term.GetState()
	snapshot.EnvDelta["A"] = "mutated"

	fresh := term.GetState()
	if fresh.EnvDelta["A"] != "1" {
		t.Errorf("mutating a returned snapshot leaked into terminal state: got %q", fresh.EnvDelta["A"])
	}
}
