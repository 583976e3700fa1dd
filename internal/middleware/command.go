package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coreagent/enginectl/internal/jobs"
	"github.com/coreagent/enginectl/pkg/models"
)

// CommandRunner executes a shell command against whatever runtime the
// current thread is bound to (spec §4.2 PhysicalTerminalRuntime).
type CommandRunner interface {
	Run(ctx context.Context, cmd string, timeout time.Duration) (exitCode int, stdout, stderr string, err error)
}

// CommandHook inspects a command before execution and may deny it.
// Priority ranges 1-10, higher runs first; the first deny wins (spec
// §4.1).
type CommandHook struct {
	Name     string
	Priority int
	Check    func(cmd string) (deny bool, reason string)
}

// DangerousCommandHook denies commands matching a short list of
// destructive shell idioms.
func DangerousCommandHook() CommandHook {
	denyPrefixes := []string{"rm -rf /", "mkfs", "dd if=/dev/zero", ":(){:|:&};:"}
	return CommandHook{
		Name:     "dangerous_command",
		Priority: 10,
		Check: func(cmd string) (bool, string) {
			trimmed := strings.TrimSpace(cmd)
			for _, p := range denyPrefixes {
				if strings.Contains(trimmed, p) {
					return true, fmt.Sprintf("command matches denied pattern %q", p)
				}
			}
			return false, ""
		},
	}
}

// NetworkBlockerHook denies commands that look like they reach the
// network, for deployments where Command must stay sandboxed offline.
func NetworkBlockerHook() CommandHook {
	tools := []string{"curl", "wget", "nc ", "ssh ", "scp "}
	return CommandHook{
		Name:     "network_blocker",
		Priority: 5,
		Check: func(cmd string) (bool, string) {
			for _, t := range tools {
				if strings.Contains(cmd, t) {
					return true, fmt.Sprintf("command appears to use network tool %q", strings.TrimSpace(t))
				}
			}
			return false, ""
		},
	}
}

const maxTruncatedOutputChars = 4000

// Command injects {run_command, command_status}, supporting blocking
// and non-blocking invocation, with a priority-ordered pre-execution
// hook chain (spec §4.1).
type Command struct {
	NoOp
	Runner CommandRunner
	Jobs   jobs.Store
	Hooks  []CommandHook // need not be pre-sorted; sorted once at construction
}

// NewCommand constructs the Command middleware, sorting hooks by
// descending priority once up front.
func NewCommand(runner CommandRunner, jobStore jobs.Store, hooks ...CommandHook) *Command {
	sorted := append([]CommandHook(nil), hooks...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Priority > sorted[j-1].Priority; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return &Command{Runner: runner, Jobs: jobStore, Hooks: sorted}
}

func (m *Command) Name() string { return "command" }

func (m *Command) ToolSchemas() []ToolSchema {
	return []ToolSchema{
		{Name: "run_command", Description: "Execute a shell command, blocking or non-blocking."},
		{Name: "command_status", Description: "Poll the status of a non-blocking command by its command_id."},
	}
}

// runHooks returns the first denying hook's reason, or "" if all pass.
func (m *Command) runHooks(cmd string) string {
	for _, h := range m.Hooks {
		if deny, reason := h.Check(cmd); deny {
			return fmt.Sprintf("blocked by hook %q: %s", h.Name, reason)
		}
	}
	return ""
}

func (m *Command) WrapToolCall(ctx context.Context, inv *ToolInvocation, next ToolCallFunc) (*models.ToolResult, error) {
	switch inv.ToolName {
	case "run_command":
		return m.runCommand(ctx, inv)
	case "command_status":
		return m.commandStatus(ctx, inv)
	default:
		return next(ctx, inv)
	}
}

func (m *Command) runCommand(ctx context.Context, inv *ToolInvocation) (*models.ToolResult, error) {
	cmd, _ := inv.Args["cmd"].(string)
	blocking, _ := inv.Args["blocking"].(bool)

	if reason := m.runHooks(cmd); reason != "" {
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: reason, IsError: true}, nil
	}

	if blocking {
		exitCode, stdout, stderr, err := m.Runner.Run(ctx, cmd, 0)
		if err != nil {
			return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: err.Error(), IsError: true}, nil
		}
		content := stdout
		if stderr != "" {
			content += "\n[stderr]\n" + stderr
		}
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: truncateOutput(content), IsError: exitCode != 0}, nil
	}

	jobID := uuid.NewString()
	job := &jobs.Job{ID: jobID, ToolName: "run_command", ToolCallID: inv.ToolCallID, Status: jobs.StatusQueued, CreatedAt: time.Now()}
	if err := m.Jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("command: create job: %w", err)
	}

	go m.runJobAsync(job, cmd)

	return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: fmt.Sprintf("command_id=%s", jobID)}, nil
}

func (m *Command) runJobAsync(job *jobs.Job, cmd string) {
	ctx := context.Background()
	job.Status = jobs.StatusRunning
	job.StartedAt = time.Now()
	_ = m.Jobs.Update(ctx, job)

	exitCode, stdout, stderr, err := m.Runner.Run(ctx, cmd, 0)
	job.FinishedAt = time.Now()
	content := stdout
	if stderr != "" {
		content += "\n[stderr]\n" + stderr
	}
	switch {
	case err != nil:
		job.Status = jobs.StatusFailed
		job.Error = err.Error()
	case exitCode != 0:
		job.Status = jobs.StatusFailed
		job.Result = &models.ToolResult{ToolCallID: job.ToolCallID, Content: truncateOutput(content), IsError: true}
	default:
		job.Status = jobs.StatusSucceeded
		job.Result = &models.ToolResult{ToolCallID: job.ToolCallID, Content: truncateOutput(content)}
	}
	_ = m.Jobs.Update(ctx, job)
}

func (m *Command) commandStatus(ctx context.Context, inv *ToolInvocation) (*models.ToolResult, error) {
	commandID, _ := inv.Args["command_id"].(string)
	job, err := m.Jobs.Get(ctx, commandID)
	if err != nil || job == nil {
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: "unknown command_id: " + commandID, IsError: true}, nil
	}

	switch job.Status {
	case jobs.StatusSucceeded, jobs.StatusFailed:
		if job.Result != nil {
			return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: job.Result.Content, IsError: job.Result.IsError}, nil
		}
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: job.Error, IsError: true}, nil
	default:
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: fmt.Sprintf("status=%s", job.Status)}, nil
	}
}

// truncateOutput keeps the last N characters of output, annotating how
// many lines were dropped (spec §4.1: "[truncated K lines]").
func truncateOutput(content string) string {
	if len(content) <= maxTruncatedOutputChars {
		return content
	}
	dropped := content[:len(content)-maxTruncatedOutputChars]
	droppedLines := strings.Count(dropped, "\n")
	tail := content[len(content)-maxTruncatedOutputChars:]
	return fmt.Sprintf("[truncated %d lines]\n%s", droppedLines, tail)
}
