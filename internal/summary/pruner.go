// Package summary implements the memory manager described in spec.md
// §4.5: structural pruning of old tool results, threshold-triggered
// LLM-driven compaction, and durable summary persistence.
package summary

import (
	"fmt"

	"github.com/coreagent/enginectl/internal/middleware"
	"github.com/coreagent/enginectl/pkg/models"
)

// PruneSettings configures structural pruning of tool result content.
type PruneSettings struct {
	// ProtectRecent is how many of the most recent tool-result-bearing
	// messages are left untouched.
	ProtectRecent int
	// SoftTrimChars is the length above which a tool result is
	// truncated and annotated "[trimmed]".
	SoftTrimChars int
	// HardClearThreshold is the length above which a tool result's
	// content is replaced outright with a placeholder.
	HardClearThreshold int
}

// DefaultPruneSettings returns the spec defaults.
func DefaultPruneSettings() PruneSettings {
	return PruneSettings{ProtectRecent: 3, SoftTrimChars: 4000, HardClearThreshold: 20000}
}

// Prune returns a new message slice with old tool results trimmed or
// cleared, per spec §4.5. It is a pure function over the message list
// with no I/O: the input slice and its messages are never mutated, and
// a copy is only made once a change is actually needed.
func Prune(messages []middleware.Message, settings PruneSettings) []middleware.Message {
	if settings.ProtectRecent < 0 {
		settings.ProtectRecent = 0
	}

	toolResultIdx := make([]int, 0, len(messages))
	for i, msg := range messages {
		if len(msg.ToolResults) > 0 {
			toolResultIdx = append(toolResultIdx, i)
		}
	}
	if len(toolResultIdx) <= settings.ProtectRecent {
		return messages
	}

	protectFrom := len(toolResultIdx) - settings.ProtectRecent
	prunable := toolResultIdx[:protectFrom]

	out := messages
	cloned := false

	for _, idx := range prunable {
		msg := messages[idx]
		var newResults []models.ToolResult
		changedAny := false
		for j, tr := range msg.ToolResults {
			content, changed := applyThresholds(tr.Content, settings)
			if changed {
				if newResults == nil {
					newResults = append([]models.ToolResult(nil), msg.ToolResults...)
				}
				newResults[j].Content = content
				changedAny = true
			}
		}
		if !changedAny {
			continue
		}
		if !cloned {
			out = append([]middleware.Message(nil), messages...)
			cloned = true
		}
		updated := out[idx]
		updated.ToolResults = newResults
		out[idx] = updated
	}

	return out
}

func applyThresholds(content string, settings PruneSettings) (string, bool) {
	if settings.HardClearThreshold > 0 && len(content) > settings.HardClearThreshold {
		return fmt.Sprintf("[cleared: %d chars]", len(content)), true
	}
	if settings.SoftTrimChars > 0 && len(content) > settings.SoftTrimChars {
		return content[:settings.SoftTrimChars] + " [trimmed]", true
	}
	return content, false
}
