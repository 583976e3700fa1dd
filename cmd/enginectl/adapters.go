// Package main wires the runtime core packages (middleware, scheduler,
// sandboxsession, summary, observer, queue, store) into one HTTP/SSE
// process. adapters.go holds the small shims between those packages'
// narrow collaborator interfaces and the sandbox manager/tool executor
// that actually satisfy them at runtime.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/coreagent/enginectl/internal/middleware"
	"github.com/coreagent/enginectl/internal/observer"
	"github.com/coreagent/enginectl/internal/sandboxsession"
	"github.com/coreagent/enginectl/pkg/models"
)

// sandboxBackend adapts a *sandboxsession.SandboxManager to
// middleware.FileBackend and middleware.CommandRunner by resolving the
// calling thread's runtime on every call (spec §4.2: "the only entry
// point tool execution middleware should use to obtain a runtime").
type sandboxBackend struct {
	manager *sandboxsession.SandboxManager
}

func newSandboxBackend(manager *sandboxsession.SandboxManager) *sandboxBackend {
	return &sandboxBackend{manager: manager}
}

func (b *sandboxBackend) runtimeFor(ctx context.Context) (sandboxsession.PhysicalTerminalRuntime, error) {
	threadID := middleware.ThreadIDFromContext(ctx)
	if threadID == "" {
		return nil, fmt.Errorf("sandboxBackend: no thread bound to context")
	}
	_, rt, err := b.manager.GetSandbox(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("sandboxBackend: get sandbox for thread %s: %w", threadID, err)
	}
	return rt, nil
}

// Read implements middleware.FileBackend.
func (b *sandboxBackend) Read(ctx context.Context, path string) (string, error) {
	rt, err := b.runtimeFor(ctx)
	if err != nil {
		return "", err
	}
	content, err := rt.ReadFile(ctx, path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Write implements middleware.FileBackend.
func (b *sandboxBackend) Write(ctx context.Context, path, content string) error {
	rt, err := b.runtimeFor(ctx)
	if err != nil {
		return err
	}
	return rt.WriteFile(ctx, path, []byte(content))
}

// Edit implements middleware.FileBackend by reading the file, replacing
// the first occurrence of oldText with newText, and writing it back.
// There is no separate provider-side edit primitive (spec §4.1 names
// read/write/edit/list as the four injected tools, not four distinct
// backend calls), so Edit is expressed in terms of Read and Write.
func (b *sandboxBackend) Edit(ctx context.Context, path, oldText, newText string) error {
	current, err := b.Read(ctx, path)
	if err != nil {
		return err
	}
	replaced, n := replaceFirst(current, oldText, newText)
	if n == 0 {
		return fmt.Errorf("sandboxBackend: edit %s: old text not found", path)
	}
	return b.Write(ctx, path, replaced)
}

// List implements middleware.FileBackend.
func (b *sandboxBackend) List(ctx context.Context, path string) ([]string, error) {
	rt, err := b.runtimeFor(ctx)
	if err != nil {
		return nil, err
	}
	return rt.ListDir(ctx, path)
}

// Run implements middleware.CommandRunner.
func (b *sandboxBackend) Run(ctx context.Context, cmd string, timeout time.Duration) (int, string, string, error) {
	rt, err := b.runtimeFor(ctx)
	if err != nil {
		return 0, "", "", err
	}
	res, err := rt.Exec(ctx, cmd, "", nil, timeout)
	if err != nil {
		return 0, "", "", err
	}
	return res.ExitCode, res.Stdout, res.Stderr, nil
}

// replaceFirst replaces the first occurrence of old in s with new,
// reporting how many replacements were made (0 or 1).
func replaceFirst(s, old, new string) (string, int) {
	idx := indexOf(s, old)
	if idx < 0 {
		return s, 0
	}
	return s[:idx] + new + s[idx+len(old):], 1
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// unhandledToolExecutor is the terminal ToolCallFunc beneath the
// middleware chain. Every real tool name is claimed by some middleware
// (FileSystem, Command, Todo, Task) before the chain
// ever reaches the terminal, so arriving here means the model invoked
// a tool name nothing in the chain recognizes.
type unhandledToolExecutor struct{}

func (unhandledToolExecutor) Execute(ctx context.Context, inv *middleware.ToolInvocation) (*models.ToolResult, error) {
	return &models.ToolResult{
		ToolCallID: inv.ToolCallID,
		Content:    fmt.Sprintf("no middleware handles tool %q", inv.ToolName),
		IsError:    true,
	}, nil
}

// staticModelCatalog resolves model names to their published context
// window, sized from the virtual model table enginectl's config layer
// resolves against (spec §4.6 ContextMonitor sizing).
type staticModelCatalog struct {
	limits map[string]int64
}

func newStaticModelCatalog() *staticModelCatalog {
	return &staticModelCatalog{
		limits: map[string]int64{
			"claude-3-5-haiku-20241022": 200_000,
			"claude-sonnet-4-20250514":  200_000,
			"claude-opus-4-20250514":    200_000,
		},
	}
}

// seedCostCalculator registers the published per-million-token prices
// for the concrete models enginectl's virtual model table resolves to,
// so cost estimates aren't silently zero for every thread.
func seedCostCalculator(c *observer.CostCalculator) {
	c.SetPrice("claude-3-5-haiku-20241022", observer.ModelPrice{Input: 0.80, Output: 4.00})
	c.SetPrice("claude-sonnet-4-20250514", observer.ModelPrice{Input: 3.00, Output: 15.00})
	c.SetPrice("claude-opus-4-20250514", observer.ModelPrice{Input: 15.00, Output: 75.00})
}

func (c *staticModelCatalog) Info(model string) (observer.ModelInfo, bool) {
	limit, ok := c.limits[model]
	if !ok {
		return observer.ModelInfo{}, false
	}
	return observer.ModelInfo{ContextLimit: limit}, true
}
