package observer

import "github.com/coreagent/enginectl/pkg/models"

// ContextMonitor tracks message count and estimated token usage against
// a model's context window, flagging near_limit at 0.9x the limit
// (spec §4.6).
type ContextMonitor struct {
	ContextLimit int64
}

// NewContextMonitor constructs a monitor for the given context window.
func NewContextMonitor(contextLimit int64) *ContextMonitor {
	return &ContextMonitor{ContextLimit: contextLimit}
}

// nearLimitRatio is the fraction of ContextLimit above which usage is
// flagged near_limit.
const nearLimitRatio = 0.9

// Snapshot computes the current ContextUsage for messageCount messages
// totalling tokenEstimate estimated tokens.
func (m *ContextMonitor) Snapshot(messageCount int, tokenEstimate int64) models.ContextUsage {
	var ratio float64
	if m.ContextLimit > 0 {
		ratio = float64(tokenEstimate) / float64(m.ContextLimit)
	}
	return models.ContextUsage{
		MessageCount:  messageCount,
		TokenEstimate: tokenEstimate,
		ContextLimit:  m.ContextLimit,
		NearLimit:     m.ContextLimit > 0 && ratio >= nearLimitRatio,
		UsageRatio:    ratio,
	}
}
