package middleware

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreagent/enginectl/internal/queue"
	"github.com/coreagent/enginectl/pkg/models"
)

// QueueObserver is the subset of internal/queue.Manager the middleware
// needs: enough to peek at depths without owning drain timing (draining
// is the scheduler's job, at its own safe points).
type QueueObserver interface {
	ForThread(threadID string) *queue.ThreadQueue
}

// Queue observes the queue manager and injects a synthetic system note
// summarizing queued-but-undelivered messages at safe turn boundaries,
// so the model is aware work is waiting without the scheduler having
// drained it yet (spec §4.1, §4.4).
type Queue struct {
	NoOp
	Observer QueueObserver
}

// NewQueue constructs the Queue middleware against a queue manager.
func NewQueue(observer QueueObserver) *Queue {
	return &Queue{Observer: observer}
}

func (m *Queue) Name() string { return "queue" }

func (m *Queue) WrapModelCall(ctx context.Context, req *ModelRequest, next ModelCallFunc) (*ModelResponse, error) {
	threadID := ThreadIDFromContext(ctx)
	if threadID == "" {
		return next(ctx, req)
	}

	tq := m.Observer.ForThread(threadID)
	depths := tq.Depths()
	if note := pendingQueueNote(depths); note != "" {
		augmented := *req
		augmented.Messages = append(append([]Message(nil), req.Messages...), Message{Role: "system", Content: note})
		return next(ctx, &augmented)
	}
	return next(ctx, req)
}

// pendingQueueNote summarizes non-empty queues (other than steer, which
// the scheduler drains and injects directly at the next safe point) as
// a single system note, or "" if nothing is waiting.
func pendingQueueNote(depths map[models.QueueTarget]int) string {
	var parts []string
	for _, target := range []models.QueueTarget{models.QueueFollowup, models.QueueCollect, models.QueueBacklog} {
		if depths[target] > 0 {
			parts = append(parts, fmt.Sprintf("%d queued in %s", depths[target], target))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "[queued user message] " + strings.Join(parts, ", ")
}
