// Package llmbridge adapts concrete LLM SDK clients to the narrow
// scheduler.Provider boundary the run scheduler speaks. Each provider in
// this package owns its own wire protocol, retry policy, and streaming
// machinery end to end; scheduler and summary only see request/response
// shapes in terms of middleware.Message and scheduler.CompletionChunk.
package llmbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/coreagent/enginectl/internal/middleware"
	"github.com/coreagent/enginectl/internal/scheduler"
	"github.com/coreagent/enginectl/internal/summary"
	"github.com/coreagent/enginectl/pkg/models"
)

// maxEmptyStreamEvents bounds how many consecutive no-op SSE events
// processStream tolerates before concluding the stream is malformed and
// bailing out rather than spinning forever.
const maxEmptyStreamEvents = 300

// AnthropicProvider speaks the Anthropic Messages API directly, over the
// official SDK, and satisfies both scheduler.Provider (the run
// scheduler's completion boundary) and summary.Provider (the compactor's
// summarization boundary) since both ultimately need the same streaming
// completion call.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
	retryDelay   time.Duration
}

var (
	_ scheduler.Provider = (*AnthropicProvider)(nil)
	_ summary.Provider   = (*AnthropicProvider)(nil)
)

// NewAnthropicProvider builds a scheduler.Provider backed by the real
// Anthropic SDK client. apiKey is required; baseURL may be empty to use
// the default endpoint.
func NewAnthropicProvider(apiKey, baseURL, defaultModel string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, errors.New("llmbridge: anthropic api key is required")
	}
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
		maxRetries:   3,
		retryDelay:   time.Second,
	}, nil
}

// Complete implements scheduler.Provider. It retries transient failures
// with exponential backoff before establishing the stream, then forwards
// every SSE event on the stream as a scheduler.CompletionChunk.
func (p *AnthropicProvider) Complete(ctx context.Context, req *middleware.ModelRequest) (<-chan scheduler.CompletionChunk, error) {
	out := make(chan scheduler.CompletionChunk)

	go func() {
		defer close(out)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			if !isRetryableError(err) {
				out <- scheduler.CompletionChunk{Err: err}
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					out <- scheduler.CompletionChunk{Err: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			out <- scheduler.CompletionChunk{Err: fmt.Errorf("llmbridge: anthropic: max retries exceeded: %w", err)}
			return
		}

		p.processStream(ctx, stream, out)
	}()

	return out, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *middleware.ModelRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("llmbridge: anthropic: convert messages: %w", err)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("llmbridge: anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return stream, nil
}

// processStream drains one SSE stream, turning each event into
// scheduler.CompletionChunks and accumulating a tool_use block's JSON
// input fragments until its content_block_stop closes it out.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- scheduler.CompletionChunk) {
	var currentToolCall *models.ToolCall
	var currentToolInput strings.Builder
	emptyEvents := 0
	var inputTokens, outputTokens int64

	send := func(c scheduler.CompletionChunk) bool {
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				inputTokens = start.Message.Usage.InputTokens
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !send(scheduler.CompletionChunk{Text: delta.Text}) {
						return
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				currentToolCall.Input = json.RawMessage(currentToolInput.String())
				if !send(scheduler.CompletionChunk{ToolCall: currentToolCall}) {
					return
				}
				currentToolCall = nil
				processed = true
			}

		case "message_delta":
			delta := event.AsMessageDelta()
			if delta.Usage.OutputTokens > 0 {
				outputTokens = delta.Usage.OutputTokens
			}
			processed = true

		case "message_stop":
			send(scheduler.CompletionChunk{
				Done: true,
				Usage: &models.Usage{
					Input:  inputTokens,
					Output: outputTokens,
					Total:  inputTokens + outputTokens,
				},
			})
			return

		case "error":
			send(scheduler.CompletionChunk{Err: errors.New("llmbridge: anthropic: stream error event")})
			return
		}

		if processed {
			emptyEvents = 0
		} else if emptyEvents++; emptyEvents >= maxEmptyStreamEvents {
			send(scheduler.CompletionChunk{Err: fmt.Errorf("llmbridge: anthropic: stream appears malformed after %d empty events", emptyEvents)})
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(scheduler.CompletionChunk{Err: fmt.Errorf("llmbridge: anthropic: %w", err)})
	}
}

// convertMessages maps middleware.Message history onto Anthropic's
// content-block message shape: text, prior tool calls, and tool results
// each become their own block within the owning turn.
func convertMessages(messages []middleware.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tr := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
		}
		for _, tc := range msg.ToolCalls {
			var input map[string]any
			if len(tc.Input) > 0 {
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", tc.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

// convertTools maps middleware.ToolSchema definitions onto Anthropic's
// tool-use schema format.
func convertTools(tools []middleware.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}

		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

// isRetryableError classifies rate limit, server, timeout, and network
// errors as transient and worth a backoff-and-retry; everything else
// (bad API key, malformed request) is treated as permanent.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}

	msg := err.Error()
	for _, substr := range []string{
		"rate_limit", "too many requests",
		"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded",
		"connection reset", "connection refused", "no such host",
	} {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// summarizeSystemPrompt instructs the model to act as a pure
// summarizer rather than a conversational agent, since Summarize reuses
// the same completion path the scheduler uses for ordinary turns.
const summarizeSystemPrompt = "You summarize conversation history concisely and factually, preserving decisions, open questions, and concrete details a reader would need to pick the conversation back up. Output only the summary text."

// Summarize implements summary.Provider: it asks the model to condense a
// message range into at most maxLength characters, draining the streamed
// response into one string rather than emitting RunEvents (a compaction
// summary is an internal artifact, not run output).
func (p *AnthropicProvider) Summarize(ctx context.Context, messages []middleware.Message, maxLength int) (string, error) {
	req := &middleware.ModelRequest{
		System:    fmt.Sprintf("%s Limit the summary to roughly %d characters.", summarizeSystemPrompt, maxLength),
		MaxTokens: 1024,
		Messages:  append([]middleware.Message(nil), messages...),
	}
	chunks, err := p.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("llmbridge: summarize: %w", err)
	}

	var out strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", fmt.Errorf("llmbridge: summarize: %w", chunk.Err)
		}
		out.WriteString(chunk.Text)
	}
	return out.String(), nil
}
