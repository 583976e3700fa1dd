package middleware

import (
	"context"

	"github.com/coreagent/enginectl/pkg/models"
)

// RuntimeObserver is the subset of internal/observer.AgentRuntime that
// Monitor needs: record a completion's usage and produce the resulting
// status snapshot. Defined here (rather than imported) so middleware
// depends only on the shape it needs, matching the rest of the stack's
// dependency-inversion style.
type RuntimeObserver interface {
	RecordCompletion(threadID string, usage models.Usage) models.ContextUsage
	StatusEvent(threadID string) *models.RunEvent
}

// Monitor produces a status RunEvent after each LLM response, carrying
// token counts, cost, context usage, and agent state (spec §4.1).
// Since middleware doesn't own the event stream, Monitor hands each
// produced status event to its Sink (StatusSink.EmitStatus) for the
// scheduler to fold into the run's stream; it does not touch the context.
type Monitor struct {
	NoOp
	Observer RuntimeObserver
	Sink     StatusSink
}

// StatusSink receives status events as Monitor produces them. The run
// scheduler implements this to fold status events into its RunEvent
// stream.
type StatusSink interface {
	EmitStatus(threadID string, event *models.RunEvent)
}

// NewMonitor constructs the Monitor middleware.
func NewMonitor(observer RuntimeObserver, sink StatusSink) *Monitor {
	return &Monitor{Observer: observer, Sink: sink}
}

func (m *Monitor) Name() string { return "monitor" }

func (m *Monitor) WrapModelCall(ctx context.Context, req *ModelRequest, next ModelCallFunc) (*ModelResponse, error) {
	resp, err := next(ctx, req)
	if err != nil {
		return resp, err
	}

	threadID := ThreadIDFromContext(ctx)
	if threadID == "" || m.Observer == nil {
		return resp, nil
	}

	usage := usageFromResponse(resp)
	m.Observer.RecordCompletion(threadID, usage)
	if event := m.Observer.StatusEvent(threadID); event != nil && m.Sink != nil {
		m.Sink.EmitStatus(threadID, event)
	}
	return resp, nil
}

// usageFromResponse extracts token accounting from a ModelResponse.
// Providers that don't report usage inline leave this zero.
func usageFromResponse(resp *ModelResponse) models.Usage {
	if resp == nil {
		return models.Usage{}
	}
	return resp.Usage
}
