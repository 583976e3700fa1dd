package middleware

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coreagent/enginectl/pkg/models"
)

// TodoItem is one entry in a per-thread todo list.
type TodoItem struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"` // pending, in_progress, completed
}

// Todo is purely stateful list manipulation with no I/O (spec §4.1):
// {todo_write} replaces the list wholesale, {todo_read} returns it.
type Todo struct {
	NoOp

	mu   sync.Mutex
	list map[string][]TodoItem // threadID -> items
}

// NewTodo constructs an empty Todo middleware.
func NewTodo() *Todo {
	return &Todo{list: make(map[string][]TodoItem)}
}

func (m *Todo) Name() string { return "todo" }

func (m *Todo) ToolSchemas() []ToolSchema {
	return []ToolSchema{
		{Name: "todo_write", Description: "Replace the thread's todo list."},
		{Name: "todo_read", Description: "Read the thread's current todo list."},
	}
}

func (m *Todo) WrapToolCall(ctx context.Context, inv *ToolInvocation, next ToolCallFunc) (*models.ToolResult, error) {
	switch inv.ToolName {
	case "todo_write":
		return m.write(inv)
	case "todo_read":
		return m.read(inv)
	default:
		return next(ctx, inv)
	}
}

func (m *Todo) write(inv *ToolInvocation) (*models.ToolResult, error) {
	raw, ok := inv.Args["items"]
	if !ok {
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: "missing items", IsError: true}, nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: "invalid items payload", IsError: true}, nil
	}
	var items []TodoItem
	if err := json.Unmarshal(b, &items); err != nil {
		return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: "invalid items payload: " + err.Error(), IsError: true}, nil
	}

	m.mu.Lock()
	m.list[inv.ThreadID] = items
	m.mu.Unlock()

	return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: "ok"}, nil
}

func (m *Todo) read(inv *ToolInvocation) (*models.ToolResult, error) {
	m.mu.Lock()
	items := m.list[inv.ThreadID]
	m.mu.Unlock()

	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{ToolCallID: inv.ToolCallID, Content: string(b)}, nil
}
