package engineconfig

import "github.com/coreagent/enginectl/internal/summary"

// PruneSettings converts the config block to summary.PruneSettings,
// falling back to the package defaults for any zero-valued field so an
// empty `pruning: {}` block doesn't silently disable protection.
func (p PruningConfig) PruneSettings() summary.PruneSettings {
	defaults := summary.DefaultPruneSettings()
	s := summary.PruneSettings{
		ProtectRecent:      p.ProtectRecent,
		SoftTrimChars:      p.SoftTrimChars,
		HardClearThreshold: p.HardClearThreshold,
	}
	if s.ProtectRecent == 0 {
		s.ProtectRecent = defaults.ProtectRecent
	}
	if s.SoftTrimChars == 0 {
		s.SoftTrimChars = defaults.SoftTrimChars
	}
	if s.HardClearThreshold == 0 {
		s.HardClearThreshold = defaults.HardClearThreshold
	}
	return s
}

// CompactSettings converts the config block to summary.CompactSettings,
// preferring the agent's own context_limit when the compaction block
// didn't specify one.
func (c CompactionConfig) CompactSettings(agentContextLimit int64) summary.CompactSettings {
	defaults := summary.DefaultCompactSettings()
	s := summary.CompactSettings{
		ContextLimit:     c.ContextLimit,
		ReserveTokens:    c.ReserveTokens,
		KeepRecentTokens: c.KeepRecentTokens,
		MaxSummaryChars:  c.MaxSummaryChars,
	}
	if s.ContextLimit == 0 {
		s.ContextLimit = agentContextLimit
	}
	if s.ContextLimit == 0 {
		s.ContextLimit = defaults.ContextLimit
	}
	if s.ReserveTokens == 0 {
		s.ReserveTokens = defaults.ReserveTokens
	}
	if s.KeepRecentTokens == 0 {
		s.KeepRecentTokens = defaults.KeepRecentTokens
	}
	if s.MaxSummaryChars == 0 {
		s.MaxSummaryChars = defaults.MaxSummaryChars
	}
	return s
}
