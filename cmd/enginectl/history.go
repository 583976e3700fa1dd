package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coreagent/enginectl/internal/middleware"
	"github.com/coreagent/enginectl/internal/summary"
	"github.com/coreagent/enginectl/pkg/models"
)

// threadHistory replays a thread's durable run_events into the message
// list a new Run should be seeded with (spec §8 "session resume across
// restart"): consecutive text deltas within one run fold into a single
// assistant message, tool calls/results attach to that same turn, and
// the result is layered under any durable summary slots via
// summary.RebuildConversation so a long-lived thread doesn't replay its
// entire unsummarized history on every restart.
func (a *app) threadHistory(ctx context.Context, threadID string) ([]middleware.Message, error) {
	events, err := a.store.ListRunEventsForThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("load run events: %w", err)
	}

	tail := reconstructMessages(events)
	return summary.RebuildConversation(ctx, a.store, threadID, tail)
}

// reconstructMessages folds a flat RunEvent log into one assistant
// message per run (text deltas concatenated, tool calls/results
// attached). The scheduler never records the user's own turn as an
// event, so the result only ever holds assistant-side messages;
// callers append the new user message on top via RunWithHistory.
func reconstructMessages(events []*models.RunEvent) []middleware.Message {
	var out []middleware.Message
	var current *middleware.Message
	var runID string

	flush := func() {
		if current != nil && (current.Content != "" || len(current.ToolCalls) > 0 || len(current.ToolResults) > 0) {
			out = append(out, *current)
		}
		current = nil
	}

	for _, ev := range events {
		if ev.RunID != runID {
			flush()
			runID = ev.RunID
			current = &middleware.Message{Role: "assistant"}
		}
		switch ev.Type {
		case models.RunEventText:
			current.Content += ev.TextDelta
		case models.RunEventToolCall:
			current.ToolCalls = append(current.ToolCalls, models.ToolCall{
				ID:    ev.ToolCallID,
				Name:  ev.ToolName,
				Input: json.RawMessage(ev.ToolArgs),
			})
		case models.RunEventToolResult:
			current.ToolResults = append(current.ToolResults, models.ToolResult{
				ToolCallID: ev.ToolCallID,
				Content:    ev.ToolContent,
				IsError:    ev.ToolIsError,
			})
		case models.RunEventDone, models.RunEventError, models.RunEventCancelled:
			flush()
			current = &middleware.Message{Role: "assistant"}
		}
	}
	flush()
	return out
}
