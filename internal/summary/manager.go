package summary

import (
	"context"

	"github.com/coreagent/enginectl/internal/middleware"
)

// WarningSink receives compaction warnings (e.g. "LLM summarization
// failed, conversation left untouched") so the caller can surface them
// as a status event (spec §4.5).
type WarningSink interface {
	Warn(threadID, message string)
}

// Manager composes pruning and compaction into the single
// PrepareMessages hook middleware.Memory calls on every turn boundary,
// satisfying middleware.MemoryManager.
type Manager struct {
	PruneSettings PruneSettings
	Compactor     *Compactor
	Warnings      WarningSink
}

// NewManager constructs a Manager with spec-default pruning settings.
func NewManager(compactor *Compactor, warnings WarningSink) *Manager {
	return &Manager{PruneSettings: DefaultPruneSettings(), Compactor: compactor, Warnings: warnings}
}

// PrepareMessages runs structural pruning first (cheap, pure, always
// on), then offers the result to the compactor, which no-ops unless
// the estimated token cost crosses threshold.
func (m *Manager) PrepareMessages(ctx context.Context, threadID string, messages []middleware.Message) ([]middleware.Message, error) {
	pruned := Prune(messages, m.PruneSettings)

	if m.Compactor == nil {
		return pruned, nil
	}
	compacted, warning, err := m.Compactor.MaybeCompact(ctx, threadID, pruned)
	if err != nil {
		return pruned, err
	}
	if warning != "" && m.Warnings != nil {
		m.Warnings.Warn(threadID, warning)
	}
	return compacted, nil
}
