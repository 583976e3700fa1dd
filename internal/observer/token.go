// Package observer implements the runtime observer tree described in
// spec.md §4.6: TokenMonitor, CostCalculator, ContextMonitor, and
// StateMonitor composed into one AgentRuntime that emits a status
// event after every LLM response.
package observer

import "github.com/coreagent/enginectl/pkg/models"

// RawUsage is the provider-specific usage payload a response may carry
// before it's normalized into the six standard buckets. Standardized
// fields take priority; provider-specific raw fields are consulted
// only when the standardized ones are absent (spec §4.6 "extraction
// priority").
type RawUsage struct {
	// Standardized fields, as most provider SDKs now report them.
	InputTokens     *int64
	OutputTokens    *int64
	ReasoningTokens *int64
	CacheReadTokens *int64
	CacheWriteTokens *int64

	// ProviderIncludesCacheInInput is true for providers (e.g. the
	// teacher's OpenAI-shaped usage) that fold cached tokens into the
	// input count, requiring a subtraction to avoid double counting;
	// false for providers (e.g. Anthropic) that already report input
	// net of cache.
	ProviderIncludesCacheInInput bool

	// Fallback is consulted only when the standardized fields above
	// are all nil, e.g. a raw provider payload map.
	Fallback map[string]int64
}

// TokenMonitor aggregates per-response usage into the running total for
// one thread, keyed by the six spec buckets.
type TokenMonitor struct {
	total models.Usage
}

// NewTokenMonitor constructs an empty monitor.
func NewTokenMonitor() *TokenMonitor { return &TokenMonitor{} }

// Record extracts, adjusts, and accumulates one response's usage, then
// returns the extracted (non-cumulative) usage for this call.
func (m *TokenMonitor) Record(raw RawUsage) models.Usage {
	extracted := extract(raw)
	m.total.Input += extracted.Input
	m.total.Output += extracted.Output
	m.total.Reasoning += extracted.Reasoning
	m.total.CacheRead += extracted.CacheRead
	m.total.CacheCreation += extracted.CacheCreation
	m.total.Total += extracted.Total
	return extracted
}

// Total returns the cumulative usage recorded so far.
func (m *TokenMonitor) Total() models.Usage { return m.total }

func extract(raw RawUsage) models.Usage {
	var u models.Usage
	hasStandard := raw.InputTokens != nil || raw.OutputTokens != nil || raw.ReasoningTokens != nil || raw.CacheReadTokens != nil || raw.CacheWriteTokens != nil

	if hasStandard {
		if raw.InputTokens != nil {
			u.Input = *raw.InputTokens
		}
		if raw.OutputTokens != nil {
			u.Output = *raw.OutputTokens
		}
		if raw.ReasoningTokens != nil {
			u.Reasoning = *raw.ReasoningTokens
		}
		if raw.CacheReadTokens != nil {
			u.CacheRead = *raw.CacheReadTokens
		}
		if raw.CacheWriteTokens != nil {
			u.CacheCreation = *raw.CacheWriteTokens
		}
	} else {
		u.Input = raw.Fallback["input_tokens"]
		u.Output = raw.Fallback["output_tokens"]
		u.Reasoning = raw.Fallback["reasoning_tokens"]
		u.CacheRead = raw.Fallback["cache_read_tokens"]
		u.CacheCreation = raw.Fallback["cache_creation_tokens"]
	}

	// Adjustment: providers that fold cached tokens into input must be
	// subtracted to produce "adjusted input"; providers that already
	// exclude cache from input must not be double-subtracted.
	if raw.ProviderIncludesCacheInInput {
		adjusted := u.Input - u.CacheRead - u.CacheCreation
		if adjusted < 0 {
			adjusted = 0
		}
		u.Input = adjusted
	}

	u.Total = u.Input + u.Output + u.Reasoning + u.CacheRead + u.CacheCreation
	return u
}
