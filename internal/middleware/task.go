package middleware

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreagent/enginectl/pkg/models"
)

// SubAgentRunner executes an isolated sub-run with its own middleware
// stack, pushing events onto eventsOut as they're produced, and
// returning the sub-agent's final text once it completes. Implemented
// by the run scheduler (spec §4.1: Task spawns "an isolated sub-run
// with its own middleware stack").
type SubAgentRunner interface {
	RunSubAgent(ctx context.Context, subagentType, prompt, description string, eventsOut chan<- *models.RunEvent) (finalText string, err error)
}

// Task injects a task(subagent_type, prompt, description) tool that
// spawns a sub-run and relays its events back to the parent's streaming
// loop via a buffered channel keyed by parent_tool_call_id. The
// scheduler's relay polls Drain until that channel exists, then ranges
// over it and re-emits each event through PrefixSubAgentEvent, which
// rewrites it to the task_ event types and stamps parent_tool_call_id.
type Task struct {
	NoOp
	Runner        SubAgentRunner
	BufferSize    int // per-sub-agent event channel capacity, default 64

	mu      sync.Mutex
	buffers map[string]chan *models.RunEvent // parentToolCallID -> channel
}

// NewTask constructs the Task middleware.
func NewTask(runner SubAgentRunner) *Task {
	return &Task{Runner: runner, BufferSize: 64, buffers: make(map[string]chan *models.RunEvent)}
}

func (m *Task) Name() string { return "task" }

func (m *Task) ToolSchemas() []ToolSchema {
	return []ToolSchema{{Name: "task", Description: "Spawn an isolated sub-agent to perform a bounded piece of work."}}
}

// Drain returns and removes the event channel for a parent_tool_call_id,
// for the parent's streaming loop to range over until it's closed.
func (m *Task) Drain(parentToolCallID string) (<-chan *models.RunEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.buffers[parentToolCallID]
	if ok {
		delete(m.buffers, parentToolCallID)
	}
	return ch, ok
}

func (m *Task) WrapToolCall(ctx context.Context, inv *ToolInvocation, next ToolCallFunc) (*models.ToolResult, error) {
	if inv.ToolName != "task" {
		return next(ctx, inv)
	}

	subagentType, _ := inv.Args["subagent_type"].(string)
	prompt, _ := inv.Args["prompt"].(string)
	description, _ := inv.Args["description"].(string)

	buf := make(chan *models.RunEvent, m.bufferSize())
	m.mu.Lock()
	m.buffers[inv.ToolCallID] = buf
	m.mu.Unlock()

	finalText, err := m.Runner.RunSubAgent(ctx, subagentType, prompt, description, buf)
	close(buf)

	if err != nil {
		return &models.ToolResult{
			ToolCallID: inv.ToolCallID,
			Content:    fmt.Sprintf("sub-agent %s failed: %v", subagentType, err),
			IsError:    true,
		}, nil
	}
	return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: finalText}, nil
}

func (m *Task) bufferSize() int {
	if m.BufferSize <= 0 {
		return 64
	}
	return m.BufferSize
}

// PrefixSubAgentEvent stamps a sub-agent-produced RunEvent with its
// parent_tool_call_id and rewrites its type with the task_ taxonomy
// the parent's stream uses, matching spec §3's RunEvent
// variants (task_start, task_text, task_tool_call, task_tool_result,
// task_done).
func PrefixSubAgentEvent(event *models.RunEvent, parentToolCallID string) *models.RunEvent {
	if event == nil {
		return nil
	}
	out := *event
	out.ParentToolCallID = parentToolCallID
	switch event.Type {
	case models.RunEventText:
		out.Type = models.RunEventTaskText
	case models.RunEventToolCall:
		out.Type = models.RunEventTaskToolCall
	case models.RunEventToolResult:
		out.Type = models.RunEventTaskToolResult
	case models.RunEventDone:
		out.Type = models.RunEventTaskDone
	}
	return &out
}
