package middleware

import (
	"context"
	"strings"
	"testing"

	"github.com/coreagent/enginectl/internal/queue"
	"github.com/coreagent/enginectl/pkg/models"
)

func TestQueue_InjectsSyntheticNoteForFollowup(t *testing.T) {
	mgr := queue.NewManager()
	mgr.ForThread("thread-1").SetMode(models.QueueModeFollowup)
	mgr.Enqueue("thread-1", "do this later", nil)

	mw := NewQueue(mgr)
	ctx := WithThreadID(context.Background(), "thread-1")

	var captured *ModelRequest
	_, err := mw.WrapModelCall(ctx, &ModelRequest{}, func(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
		captured = req
		return &ModelResponse{}, nil
	})
	if err != nil {
		t.Fatalf("WrapModelCall() error = %v", err)
	}
	if len(captured.Messages) != 1 {
		t.Fatalf("expected one injected system note, got %d messages", len(captured.Messages))
	}
	if !strings.Contains(captured.Messages[0].Content, "followup") {
		t.Errorf("note = %q, want it to mention followup", captured.Messages[0].Content)
	}
}

func TestQueue_NoOpWhenNothingQueued(t *testing.T) {
	mgr := queue.NewManager()
	mw := NewQueue(mgr)
	ctx := WithThreadID(context.Background(), "thread-1")

	req := &ModelRequest{}
	var captured *ModelRequest
	_, err := mw.WrapModelCall(ctx, req, func(ctx context.Context, r *ModelRequest) (*ModelResponse, error) {
		captured = r
		return &ModelResponse{}, nil
	})
	if err != nil {
		t.Fatalf("WrapModelCall() error = %v", err)
	}
	if captured != req {
		t.Error("expected request to pass through unmodified when nothing is queued")
	}
}
