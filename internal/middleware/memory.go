package middleware

import (
	"context"
)

// MemoryManager is the subset of internal/summary.Manager that Memory
// needs: given the outbound message list, return the list that should
// actually be sent, after structural pruning and any triggered
// compaction (spec §4.5).
type MemoryManager interface {
	PrepareMessages(ctx context.Context, threadID string, messages []Message) ([]Message, error)
}

// Memory orchestrates pruning and compaction ahead of every model call
// (spec §4.1, §4.5). It never touches tool calls.
type Memory struct {
	NoOp
	Manager MemoryManager
}

// NewMemory constructs the Memory middleware against a manager.
func NewMemory(manager MemoryManager) *Memory {
	return &Memory{Manager: manager}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) WrapModelCall(ctx context.Context, req *ModelRequest, next ModelCallFunc) (*ModelResponse, error) {
	threadID := ThreadIDFromContext(ctx)
	if threadID == "" || m.Manager == nil {
		return next(ctx, req)
	}

	prepared, err := m.Manager.PrepareMessages(ctx, threadID, req.Messages)
	if err != nil {
		return nil, err
	}

	augmented := *req
	augmented.Messages = prepared
	return next(ctx, &augmented)
}
