// Package engineconfig implements the three-tier configuration loader
// described in spec.md §6.2: built-in defaults, a user-home config file,
// and a project-local config file, merged with different strategies per
// top-level key (deep merge for `agent`, first-found-wins for
// `sandbox`/`skills`/`mcp`).
package engineconfig

import "time"

// Config is the fully decoded, merged configuration for one enginectl
// process.
type Config struct {
	Agent AgentConfig `yaml:"agent"`

	// Tool holds per-category tool overrides: tool.<category>.enabled
	// and tool.<category>.tools.<name>.
	Tool map[string]ToolCategoryConfig `yaml:"tool"`

	// MCP, Sandbox, and Skills are first-found-wins: whichever layer
	// defines the key wins wholesale, with no merge against other
	// layers (spec.md §6.2).
	MCP     MCPConfig      `yaml:"mcp"`
	Sandbox map[string]any `yaml:"sandbox"`
	Skills  map[string]any `yaml:"skills"`
}

// AgentConfig is the `agent` block, deep-merged across all three layers.
type AgentConfig struct {
	Model         string  `yaml:"model"`
	ModelProvider string  `yaml:"model_provider"`
	APIKey        string  `yaml:"api_key"`
	BaseURL       string  `yaml:"base_url"`
	Temperature   *float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	WorkspaceRoot string  `yaml:"workspace_root"`
	// ContextLimit defaults to 100_000 tokens per spec.md §6.2.
	ContextLimit int64        `yaml:"context_limit"`
	QueueMode    string       `yaml:"queue_mode"`
	Memory       MemoryConfig `yaml:"memory"`
}

// MemoryConfig configures the memory manager (internal/summary).
type MemoryConfig struct {
	Pruning    PruningConfig    `yaml:"pruning"`
	Compaction CompactionConfig `yaml:"compaction"`
}

// PruningConfig mirrors summary.PruneSettings so it can be overridden
// field-by-field from a config file.
type PruningConfig struct {
	ProtectRecent      int `yaml:"protect_recent"`
	SoftTrimChars      int `yaml:"soft_trim_chars"`
	HardClearThreshold int `yaml:"hard_clear_threshold"`
}

// CompactionConfig mirrors summary.CompactSettings.
type CompactionConfig struct {
	ContextLimit     int64 `yaml:"context_limit"`
	ReserveTokens    int64 `yaml:"reserve_tokens"`
	KeepRecentTokens int64 `yaml:"keep_recent_tokens"`
	MaxSummaryChars  int   `yaml:"max_summary_chars"`
}

// ToolCategoryConfig is one `tool.<category>` block.
type ToolCategoryConfig struct {
	Enabled *bool          `yaml:"enabled"`
	Tools   map[string]any `yaml:"tools"`
}

// IsEnabled reports whether the category is enabled, defaulting to true
// when the category was never mentioned in any config layer.
func (t ToolCategoryConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// MCPConfig is the `mcp` block.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes one configured MCP server connection, either
// a spawned stdio subprocess or an HTTP endpoint.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	WorkDir   string            `yaml:"work_dir"`
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
	Timeout   time.Duration     `yaml:"timeout"`
	AutoStart bool              `yaml:"auto_start"`
}

// Default returns the built-in configuration defaults (merge layer 1).
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Model:        "enginectl:balanced",
			ContextLimit: 100_000,
			QueueMode:    "steer",
			Memory: MemoryConfig{
				Pruning: PruningConfig{
					ProtectRecent:      3,
					SoftTrimChars:      4000,
					HardClearThreshold: 20000,
				},
				Compaction: CompactionConfig{
					ContextLimit:     100_000,
					ReserveTokens:    10_000,
					KeepRecentTokens: 20_000,
					MaxSummaryChars:  4000,
				},
			},
		},
	}
}
