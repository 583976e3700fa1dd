package sandboxsession

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// PhysicalTerminalRuntime executes commands against the physical
// compute backing a terminal. It is always ephemeral: never persisted,
// rebuilt on every ChatSession attach (spec §3, §4.2).
type PhysicalTerminalRuntime interface {
	Exec(ctx context.Context, cmd, cwd string, env map[string]string, timeout time.Duration) (*ExecResult, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, content []byte) error
	ListDir(ctx context.Context, path string) ([]string, error)
}

// LocalRuntime executes directly on the host process's own filesystem
// and subprocess table. Each Exec starts a fresh /bin/sh -c in the
// given cwd with the env delta appended to the host environment; no
// shell process persists between calls (spec §4.2 Local variant).
type LocalRuntime struct{}

// NewLocalRuntime constructs a runtime that shells out on the local
// machine. Used for development and single-tenant deployments where no
// remote Provider is configured.
func NewLocalRuntime() *LocalRuntime { return &LocalRuntime{} }

func (r *LocalRuntime) Exec(ctx context.Context, cmdline, cwd string, env map[string]string, timeout time.Duration) (*ExecResult, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", cmdline)
	cmd.Dir = cwd
	cmd.Env = mergedEnviron(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("local exec: %w", err)
		}
	}

	return &ExecResult{ExitCode: exitCode, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

func (r *LocalRuntime) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (r *LocalRuntime) WriteFile(ctx context.Context, path string, content []byte) error {
	return os.WriteFile(path, content, 0o644)
}

func (r *LocalRuntime) ListDir(ctx context.Context, path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func mergedEnviron(delta map[string]string) []string {
	base := os.Environ()
	out := make([]string, 0, len(base)+len(delta))
	out = append(out, base...)
	for k, v := range delta {
		out = append(out, k+"="+v)
	}
	return out
}

// RemoteWrappedRuntime executes against a Provider-backed instance.
// Because the instance has no memory of prior commands' cwd/env
// between separate Exec calls, the first Exec of a session prepends a
// hydration prefix that restores the AbstractTerminal's durable state
// before running the caller's command (spec §4.2 RemoteWrapped
// hydration-on-first-exec).
type RemoteWrappedRuntime struct {
	provider   Provider
	instanceID string

	mu       sync.Mutex
	hydrated bool
}

// NewRemoteWrappedRuntime binds a runtime to a specific provider
// instance. hydrated starts false: the first Exec call hydrates.
func NewRemoteWrappedRuntime(provider Provider, instanceID string) *RemoteWrappedRuntime {
	return &RemoteWrappedRuntime{provider: provider, instanceID: instanceID}
}

func (r *RemoteWrappedRuntime) Exec(ctx context.Context, cmd, cwd string, env map[string]string, timeout time.Duration) (*ExecResult, error) {
	r.mu.Lock()
	needsHydration := !r.hydrated
	r.hydrated = true
	r.mu.Unlock()

	effectiveCmd := cmd
	if needsHydration {
		effectiveCmd = hydrationPrefix(cwd, env) + cmd
	}

	res, err := r.provider.Exec(ctx, r.instanceID, effectiveCmd, cwd, env, timeout)
	if err != nil {
		return nil, asProviderError("exec", err)
	}
	return res, nil
}

// hydrationPrefix builds a `cd <cwd> && export KEY=VAL ...` preamble so
// the remote shell's actual working directory and environment match the
// AbstractTerminal's durable record before the caller's command runs.
func hydrationPrefix(cwd string, env map[string]string) string {
	var b strings.Builder
	if cwd != "" {
		b.WriteString(fmt.Sprintf("cd %s && ", shellQuote(cwd)))
	}
	if len(env) > 0 {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf("export %s=%s && ", k, shellQuote(env[k])))
		}
	}
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (r *RemoteWrappedRuntime) ReadFile(ctx context.Context, path string) ([]byte, error) {
	b, err := r.provider.ReadFile(ctx, r.instanceID, path)
	if err != nil {
		return nil, asProviderError("read_file", err)
	}
	return b, nil
}

func (r *RemoteWrappedRuntime) WriteFile(ctx context.Context, path string, content []byte) error {
	if err := r.provider.WriteFile(ctx, r.instanceID, path, content); err != nil {
		return asProviderError("write_file", err)
	}
	return nil
}

func (r *RemoteWrappedRuntime) ListDir(ctx context.Context, path string) ([]string, error) {
	names, err := r.provider.ListDir(ctx, r.instanceID, path)
	if err != nil {
		return nil, asProviderError("list_dir", err)
	}
	return names, nil
}
