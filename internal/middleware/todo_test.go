package middleware

import (
	"context"
	"strings"
	"testing"
)

func TestTodo_WriteThenRead(t *testing.T) {
	mw := NewTodo()
	writeInv := &ToolInvocation{
		ThreadID:   "thread-1",
		ToolCallID: "tc1",
		ToolName:   "todo_write",
		Args: map[string]any{"items": []map[string]any{
			{"id": "1", "text": "write tests", "status": "pending"},
		}},
	}
	res, err := mw.WrapToolCall(context.Background(), writeInv, passthroughTerminal)
	if err != nil {
		t.Fatalf("write WrapToolCall() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error writing todo: %s", res.Content)
	}

	readInv := &ToolInvocation{ThreadID: "thread-1", ToolCallID: "tc2", ToolName: "todo_read"}
	res, err = mw.WrapToolCall(context.Background(), readInv, passthroughTerminal)
	if err != nil {
		t.Fatalf("read WrapToolCall() error = %v", err)
	}
	if !strings.Contains(res.Content, "write tests") {
		t.Errorf("Content = %q, want it to contain the written item", res.Content)
	}
}

func TestTodo_IsolatedPerThread(t *testing.T) {
	mw := NewTodo()
	mw.WrapToolCall(context.Background(), &ToolInvocation{
		ThreadID: "thread-a", ToolCallID: "tc1", ToolName: "todo_write",
		Args: map[string]any{"items": []map[string]any{{"id": "1", "text": "a-task", "status": "pending"}}},
	}, passthroughTerminal)

	res, _ := mw.WrapToolCall(context.Background(), &ToolInvocation{ThreadID: "thread-b", ToolCallID: "tc2", ToolName: "todo_read"}, passthroughTerminal)
	if strings.Contains(res.Content, "a-task") {
		t.Error("expected thread-b's todo list to be isolated from thread-a's")
	}
}
