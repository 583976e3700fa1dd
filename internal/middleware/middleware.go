// Package middleware implements the onion-model tool and model-call
// interception stack described in spec.md §4.1: a chain of interceptors
// wrapped around every LLM completion and every tool invocation, applied
// outermost-first going in and innermost-first coming out.
package middleware

import (
	"context"
	"fmt"

	"github.com/coreagent/enginectl/pkg/models"
)

// ModelRequest is the outbound LLM completion request a WrapModelCall
// interceptor may inspect or mutate.
type ModelRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSchema
	MaxTokens int
}

// Message mirrors one turn of conversation history.
type Message struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
	Attachments []models.Attachment

	// CacheControl, when non-empty, is a provider-specific cache
	// breakpoint annotation (e.g. "ephemeral") attached by PromptCaching.
	CacheControl string
}

// ToolSchema is the wire shape of a tool definition offered to the LLM.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ModelResponse is what a WrapModelCall interceptor receives back from
// (or on behalf of) the next link in the chain.
type ModelResponse struct {
	Text      string
	ToolCalls []models.ToolCall
	Usage     models.Usage
}

// ToolInvocation is the inbound tool call a WrapToolCall interceptor
// may reject, rewrite, or wrap.
type ToolInvocation struct {
	ThreadID   string
	RunID      string
	ToolCallID string
	ToolName   string
	Args       map[string]any
}

// ModelCallFunc is the terminal or continuing link in a model-call
// chain.
type ModelCallFunc func(ctx context.Context, req *ModelRequest) (*ModelResponse, error)

// ToolCallFunc is the terminal or continuing link in a tool-call chain.
type ToolCallFunc func(ctx context.Context, inv *ToolInvocation) (*models.ToolResult, error)

// Middleware is any value implementing a subset of the four
// interception points (spec §4.1: "a middleware is any value
// implementing wrap_model_call, wrap_tool_call, before_agent,
// after_agent — any subset"). Concrete middlewares embed NoOp and
// override only the hooks they need.
type Middleware interface {
	Name() string
	WrapModelCall(ctx context.Context, req *ModelRequest, next ModelCallFunc) (*ModelResponse, error)
	WrapToolCall(ctx context.Context, inv *ToolInvocation, next ToolCallFunc) (*models.ToolResult, error)
	BeforeAgent(ctx context.Context, threadID string) error
	AfterAgent(ctx context.Context, threadID string) error
}

// NoOp implements Middleware with pure pass-through behavior. Concrete
// middlewares embed it and override only the methods they care about,
// so each middleware's file shows exactly what it changes.
type NoOp struct{}

func (NoOp) WrapModelCall(ctx context.Context, req *ModelRequest, next ModelCallFunc) (*ModelResponse, error) {
	return next(ctx, req)
}

func (NoOp) WrapToolCall(ctx context.Context, inv *ToolInvocation, next ToolCallFunc) (*models.ToolResult, error) {
	return next(ctx, inv)
}

func (NoOp) BeforeAgent(ctx context.Context, threadID string) error { return nil }
func (NoOp) AfterAgent(ctx context.Context, threadID string) error  { return nil }

// Chain composes an ordered list of middlewares into a single
// Middleware-shaped pipeline. Index 0 is outermost: it sees the request
// first on the way in and the response last on the way out.
type Chain struct {
	stack []Middleware
}

// NewChain builds a chain from outermost to innermost middleware.
func NewChain(stack ...Middleware) *Chain {
	return &Chain{stack: stack}
}

// RunModelCall drives req through every middleware's WrapModelCall in
// order, terminating at terminal (the actual provider call).
func (c *Chain) RunModelCall(ctx context.Context, req *ModelRequest, terminal ModelCallFunc) (*ModelResponse, error) {
	next := terminal
	for i := len(c.stack) - 1; i >= 0; i-- {
		mw := c.stack[i]
		prevNext := next
		next = func(ctx context.Context, req *ModelRequest) (*ModelResponse, error) {
			return mw.WrapModelCall(ctx, req, prevNext)
		}
	}
	resp, err := next(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("model call chain: %w", err)
	}
	return resp, nil
}

// RunToolCall drives inv through every middleware's WrapToolCall in
// order, terminating at terminal (the actual tool dispatch).
func (c *Chain) RunToolCall(ctx context.Context, inv *ToolInvocation, terminal ToolCallFunc) (*models.ToolResult, error) {
	next := terminal
	for i := len(c.stack) - 1; i >= 0; i-- {
		mw := c.stack[i]
		prevNext := next
		next = func(ctx context.Context, inv *ToolInvocation) (*models.ToolResult, error) {
			return mw.WrapToolCall(ctx, inv, prevNext)
		}
	}
	res, err := next(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("tool call chain for %s: %w", inv.ToolName, err)
	}
	return res, nil
}

// RunBeforeAgent invokes every middleware's BeforeAgent hook in order,
// stopping at the first error.
func (c *Chain) RunBeforeAgent(ctx context.Context, threadID string) error {
	for _, mw := range c.stack {
		if err := mw.BeforeAgent(ctx, threadID); err != nil {
			return fmt.Errorf("before_agent[%s]: %w", mw.Name(), err)
		}
	}
	return nil
}

// RunAfterAgent invokes every middleware's AfterAgent hook in reverse
// order (innermost cleans up first), collecting but not short-circuiting
// on individual errors, and returning the first one encountered.
func (c *Chain) RunAfterAgent(ctx context.Context, threadID string) error {
	var firstErr error
	for i := len(c.stack) - 1; i >= 0; i-- {
		mw := c.stack[i]
		if err := mw.AfterAgent(ctx, threadID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("after_agent[%s]: %w", mw.Name(), err)
		}
	}
	return firstErr
}

// Tools collects the tool schemas every middleware in the chain wishes
// to inject, in chain order.
func (c *Chain) Tools() []ToolSchema {
	var out []ToolSchema
	for _, mw := range c.stack {
		if provider, ok := mw.(ToolSchemaProvider); ok {
			out = append(out, provider.ToolSchemas()...)
		}
	}
	return out
}

// ToolSchemaProvider is implemented by middlewares that inject tool
// definitions into the model request (FileSystem, Command, Search,
// Skill, Task, Todo).
type ToolSchemaProvider interface {
	ToolSchemas() []ToolSchema
}

// threadIDKey is used to carry the owning thread ID through a
// WrapModelCall/WrapToolCall chain for middlewares (Skill, Queue,
// Monitor, Memory) that need per-thread state but whose hook signatures
// are shared across every thread.
type threadIDKey struct{}

// WithThreadID stores a thread ID in the context.
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey{}, threadID)
}

// ThreadIDFromContext retrieves the thread ID stored by WithThreadID,
// or "" if none was set.
func ThreadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(threadIDKey{}).(string)
	return id
}
