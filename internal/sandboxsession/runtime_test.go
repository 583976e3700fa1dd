package sandboxsession

import (
	"context"
	"strings"
	"testing"
	"time"
)

type recordingProvider struct {
	fakeProvider
	lastCmd string
	execN   int
}

func (p *recordingProvider) Exec(ctx context.Context, instanceID, cmd, cwd string, env map[string]string, timeout time.Duration) (*ExecResult, error) {
	p.lastCmd = cmd
	p.execN++
	return &ExecResult{ExitCode: 0}, nil
}

func TestRemoteWrappedRuntime_HydratesOnlyFirstExec(t *testing.T) {
	provider := &recordingProvider{}
	rt := NewRemoteWrappedRuntime(provider, "inst-1")

	if _, err := rt.Exec(context.Background(), "echo hi", "/workspace/app", map[string]string{"FOO": "bar"}, 0); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !strings.Contains(provider.lastCmd, "cd '/workspace/app'") {
		t.Errorf("first exec should hydrate cwd, got %q", provider.lastCmd)
	}
	if !strings.Contains(provider.lastCmd, "export FOO='bar'") {
		t.Errorf("first exec should hydrate env, got %q", provider.lastCmd)
	}
	if !strings.HasSuffix(provider.lastCmd, "echo hi") {
		t.Errorf("hydration prefix should precede the caller's command, got %q", provider.lastCmd)
	}

	if _, err := rt.Exec(context.Background(), "echo again", "/workspace/app", map[string]string{"FOO": "bar"}, 0); err != nil {
		t.Fatalf("second Exec() error = %v", err)
	}
	if provider.lastCmd != "echo again" {
		t.Errorf("second exec should not re-hydrate, got %q", provider.lastCmd)
	}
}

func TestShellQuote_EscapesSingleQuotes(t *testing.T) {
	got := shellQuote(`it's a test`)
	want := `'it'\''s a test'`
	if got != want {
		t.Errorf("shellQuote() = %q, want %q", got, want)
	}
}

func TestLocalRuntime_ExecCapturesExitCode(t *testing.T) {
	rt := NewLocalRuntime()
	res, err := rt.Exec(context.Background(), "exit 3", "/tmp", nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestLocalRuntime_ExecCapturesStdout(t *testing.T) {
	rt := NewLocalRuntime()
	res, err := rt.Exec(context.Background(), "echo hello", "/tmp", nil, 5*time.Second)
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello")
	}
}
