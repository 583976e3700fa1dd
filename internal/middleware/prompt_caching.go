package middleware

import (
	"context"
	"strings"
)

// anthropicCacheControl is the marker Anthropic's API recognizes as a
// prompt-caching breakpoint.
const anthropicCacheControl = "ephemeral"

// PromptCaching attaches cache_control breakpoints to the first two
// system messages and the last two conversational messages of a
// request, but only when the target model is Anthropic-family. For
// every other provider it is a silent no-op (spec §4.1). Breakpoint
// selection uses stable positional indices, never content hashes, so
// caching remains effective across turns that only append messages.
type PromptCaching struct {
	NoOp
}

// NewPromptCaching constructs the prompt-caching middleware.
func NewPromptCaching() *PromptCaching { return &PromptCaching{} }

func (m *PromptCaching) Name() string { return "prompt_caching" }

func (m *PromptCaching) WrapModelCall(ctx context.Context, req *ModelRequest, next ModelCallFunc) (*ModelResponse, error) {
	if !isAnthropicModel(req.Model) {
		return next(ctx, req)
	}

	annotated := *req
	annotated.Messages = append([]Message(nil), req.Messages...)

	systemCount := 0
	for i := range annotated.Messages {
		if annotated.Messages[i].Role != "system" {
			continue
		}
		if systemCount < 2 {
			annotated.Messages[i].CacheControl = anthropicCacheControl
		}
		systemCount++
	}

	tailBreakpoints := 2
	marked := 0
	for i := len(annotated.Messages) - 1; i >= 0 && marked < tailBreakpoints; i-- {
		if annotated.Messages[i].Role == "system" {
			continue
		}
		annotated.Messages[i].CacheControl = anthropicCacheControl
		marked++
	}

	return next(ctx, &annotated)
}

// isAnthropicModel identifies Anthropic-family models by their
// conventional naming prefix, mirroring how the rest of the stack
// distinguishes provider families without a central registry lookup.
func isAnthropicModel(model string) bool {
	lower := strings.ToLower(model)
	return strings.HasPrefix(lower, "claude-") || strings.Contains(lower, "anthropic")
}
