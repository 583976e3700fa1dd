package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreagent/enginectl/internal/middleware"
)

// splitTurnThreshold is the single-message length above which the
// compactor records two summary slots instead of one, so recovery
// never depends on reconstructing one oversized message from a single
// summary (spec §4.5 "split-turn detection").
const splitTurnThreshold = 50000

// Provider generates a summary of a message range, invoking an LLM
// (the main completion provider or a dedicated summary_model).
type Provider interface {
	Summarize(ctx context.Context, messages []middleware.Message, maxLength int) (string, error)
}

// TokenEstimator estimates the token cost of a message list. The
// concrete implementation wires a real tokenizer (see DESIGN.md); tests
// may substitute a char-count approximation.
type TokenEstimator func(messages []middleware.Message) int64

// CompactSettings parameterizes when and how compaction runs.
type CompactSettings struct {
	ContextLimit     int64
	ReserveTokens    int64
	KeepRecentTokens int64
	MaxSummaryChars  int
}

// DefaultCompactSettings returns conservative defaults; callers
// normally override ContextLimit/ReserveTokens/KeepRecentTokens from
// the active model's published context window.
func DefaultCompactSettings() CompactSettings {
	return CompactSettings{ContextLimit: 200000, ReserveTokens: 20000, KeepRecentTokens: 40000, MaxSummaryChars: 4000}
}

// Compactor implements the threshold-triggered semantic compaction
// step of the memory manager (spec §4.5).
type Compactor struct {
	Provider  Provider
	Store     Store
	Estimator TokenEstimator
	Settings  CompactSettings
}

// NewCompactor constructs a Compactor with the given collaborators.
func NewCompactor(provider Provider, store Store, estimator TokenEstimator, settings CompactSettings) *Compactor {
	return &Compactor{Provider: provider, Store: store, Estimator: estimator, Settings: settings}
}

// MaybeCompact triggers compaction when the estimated token cost of
// messages is at or above ContextLimit-ReserveTokens. It partitions
// into (head, tail) by KeepRecentTokens, summarizes head, persists the
// summary, and replaces head with one synthetic system message.
//
// If nothing triggers, messages is returned unchanged. If the LLM call
// or the store append fails, the original messages are returned
// unchanged alongside a non-empty warning describing the failure —
// compaction never drops messages without a persisted summary (spec
// §4.5).
func (c *Compactor) MaybeCompact(ctx context.Context, threadID string, messages []middleware.Message) (out []middleware.Message, warning string, err error) {
	if c.Estimator == nil || len(messages) == 0 {
		return messages, "", nil
	}
	if c.Estimator(messages) < c.Settings.ContextLimit-c.Settings.ReserveTokens {
		return messages, "", nil
	}

	splitIdx := c.partitionIndex(messages)
	if splitIdx <= 0 {
		return messages, "", nil
	}
	head, tail := messages[:splitIdx], messages[splitIdx:]

	summaries, splitErr := c.summarizeHead(ctx, head)
	if splitErr != nil {
		return messages, fmt.Sprintf("compaction aborted: %v", splitErr), nil
	}

	for _, s := range summaries {
		if _, appendErr := c.Store.Append(ctx, threadID, s); appendErr != nil {
			return messages, fmt.Sprintf("compaction aborted: failed to persist summary: %v", appendErr), nil
		}
	}

	combined := strings.Join(summaries, "\n\n")
	compacted := make([]middleware.Message, 0, len(tail)+1)
	compacted = append(compacted, middleware.Message{Role: "system", Content: combined})
	compacted = append(compacted, tail...)
	return compacted, "", nil
}

// partitionIndex finds the earliest message index whose suffix (from
// that index to the end) stays within KeepRecentTokens, so that suffix
// becomes tail and everything before it becomes head.
func (c *Compactor) partitionIndex(messages []middleware.Message) int {
	for i := 0; i < len(messages); i++ {
		if c.Estimator(messages[i:]) <= c.Settings.KeepRecentTokens {
			return i
		}
	}
	return len(messages)
}

// summarizeHead produces one summary per head, except when a single
// message in head exceeds splitTurnThreshold characters: that message
// is summarized in two halves (head-of-message, tail-of-message) so
// recovery never depends on one oversized blob.
func (c *Compactor) summarizeHead(ctx context.Context, head []middleware.Message) ([]string, error) {
	var normal []middleware.Message
	var oversized []middleware.Message
	for _, msg := range head {
		if len(msg.Content) > splitTurnThreshold {
			oversized = append(oversized, msg)
			continue
		}
		normal = append(normal, msg)
	}

	var summaries []string
	if len(normal) > 0 {
		s, err := c.Provider.Summarize(ctx, normal, c.Settings.MaxSummaryChars)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	for _, msg := range oversized {
		mid := len(msg.Content) / 2
		headHalf := middleware.Message{Role: msg.Role, Content: msg.Content[:mid]}
		tailHalf := middleware.Message{Role: msg.Role, Content: msg.Content[mid:]}
		headSummary, err := c.Provider.Summarize(ctx, []middleware.Message{headHalf}, c.Settings.MaxSummaryChars)
		if err != nil {
			return nil, err
		}
		tailSummary, err := c.Provider.Summarize(ctx, []middleware.Message{tailHalf}, c.Settings.MaxSummaryChars)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, headSummary, tailSummary)
	}
	return summaries, nil
}
