package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coreagent/enginectl/internal/middleware"
	"github.com/coreagent/enginectl/pkg/models"
)

// maxSubAgentIterations bounds a sub-run independently of the parent's
// MaxIterations: a runaway sub-agent must not be able to stall the
// parent run indefinitely.
const maxSubAgentIterations = 25

// RunSubAgent implements middleware.SubAgentRunner: it drives an
// isolated sub-run through the same chain/provider/toolExecutor the
// parent scheduler uses, on its own ephemeral thread ID so the Queue,
// Memory, and Monitor middlewares never mix its state with the parent
// thread's. Events are pushed onto eventsOut using the scheduler's base
// event taxonomy (text/tool_call/tool_result/done); the caller (Task's
// buffer consumer) is responsible for rewriting them into the
// task_-prefixed taxonomy and stamping parent_tool_call_id, per
// middleware.PrefixSubAgentEvent.
func (s *Scheduler) RunSubAgent(ctx context.Context, subagentType, prompt, description string, eventsOut chan<- *models.RunEvent) (string, error) {
	subThreadID := "subagent:" + uuid.NewString()
	ctx = middleware.WithThreadID(ctx, subThreadID)

	if err := s.chain.RunBeforeAgent(ctx, subThreadID); err != nil {
		return "", fmt.Errorf("sub-agent %s: before_agent: %w", subagentType, err)
	}
	defer s.chain.RunAfterAgent(ctx, subThreadID)

	eventsOut <- &models.RunEvent{Type: models.RunEventTaskStart, AgentState: subagentType}

	system := description
	if subagentType != "" {
		system = fmt.Sprintf("You are a %s sub-agent. %s", subagentType, description)
	}
	req := &middleware.ModelRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    system,
		Tools:     s.chain.Tools(),
		Messages:  []middleware.Message{{Role: "user", Content: prompt}},
	}

	for iteration := 0; ; iteration++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if iteration >= maxSubAgentIterations {
			return "", fmt.Errorf("sub-agent %s: exceeded %d iterations", subagentType, maxSubAgentIterations)
		}

		resp, err := s.chain.RunModelCall(ctx, req, s.subAgentModelCall(eventsOut))
		if err != nil {
			return "", fmt.Errorf("sub-agent %s: %w", subagentType, err)
		}

		if len(resp.ToolCalls) == 0 {
			eventsOut <- &models.RunEvent{Type: models.RunEventDone}
			return resp.Text, nil
		}

		req.Messages = append(req.Messages, middleware.Message{Role: "assistant", Content: resp.Text, ToolCalls: resp.ToolCalls})
		results := s.dispatchSubAgentTools(ctx, subThreadID, resp.ToolCalls, eventsOut)
		req.Messages = append(req.Messages, middleware.Message{Role: "tool", ToolResults: results})
	}
}

func (s *Scheduler) subAgentModelCall(eventsOut chan<- *models.RunEvent) middleware.ModelCallFunc {
	return func(ctx context.Context, req *middleware.ModelRequest) (*middleware.ModelResponse, error) {
		chunks, err := s.provider.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		var resp middleware.ModelResponse
		for chunk := range chunks {
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.Text != "" {
				resp.Text += chunk.Text
				eventsOut <- &models.RunEvent{Type: models.RunEventText, TextDelta: chunk.Text}
			}
			if chunk.ToolCall != nil {
				resp.ToolCalls = append(resp.ToolCalls, *chunk.ToolCall)
			}
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
			if chunk.Done {
				break
			}
		}
		return &resp, nil
	}
}

// dispatchSubAgentTools runs a sub-run's tool calls sequentially (no
// nested parallelism budget is carved out for sub-agents; they are
// expected to be small, bounded pieces of work per spec §4.1).
func (s *Scheduler) dispatchSubAgentTools(ctx context.Context, subThreadID string, calls []models.ToolCall, eventsOut chan<- *models.RunEvent) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	for i, tc := range calls {
		eventsOut <- &models.RunEvent{Type: models.RunEventToolCall, ToolCallID: tc.ID, ToolName: tc.Name, ToolArgs: string(tc.Input)}

		inv := &middleware.ToolInvocation{ThreadID: subThreadID, ToolCallID: tc.ID, ToolName: tc.Name, Args: argsFromRawMessage(tc.Input)}
		res, err := s.chain.RunToolCall(ctx, inv, func(ctx context.Context, inv *middleware.ToolInvocation) (*models.ToolResult, error) {
			return s.toolExecutor.Execute(ctx, inv)
		})
		if err != nil {
			res = &models.ToolResult{ToolCallID: tc.ID, Content: err.Error(), IsError: true}
		}
		results[i] = *res
		eventsOut <- &models.RunEvent{Type: models.RunEventToolResult, ToolCallID: res.ToolCallID, ToolContent: res.Content, ToolIsError: res.IsError}
	}
	return results
}
