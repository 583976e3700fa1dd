package engineconfig

import "strings"

// VirtualModel is one resolved entry in the virtual model name table
// (spec.md §6.2: "<app>:mini|medium|large|...").
type VirtualModel struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// virtualModels maps the recognized virtual model suffixes to a
// concrete provider/model pair. The enginectl: prefix is stripped
// before lookup, so "enginectl:mini" and "mini" both resolve.
var virtualModels = map[string]VirtualModel{
	"mini":     {Provider: "anthropic", Model: "claude-3-5-haiku-20241022", Temperature: 0.3, MaxTokens: 4096},
	"fast":     {Provider: "anthropic", Model: "claude-3-5-haiku-20241022", Temperature: 0.3, MaxTokens: 4096},
	"medium":   {Provider: "anthropic", Model: "claude-sonnet-4-20250514", Temperature: 0.5, MaxTokens: 8192},
	"balanced": {Provider: "anthropic", Model: "claude-sonnet-4-20250514", Temperature: 0.5, MaxTokens: 8192},
	"coding":   {Provider: "anthropic", Model: "claude-sonnet-4-20250514", Temperature: 0.2, MaxTokens: 8192},
	"large":    {Provider: "anthropic", Model: "claude-opus-4-20250514", Temperature: 0.7, MaxTokens: 16384},
	"powerful": {Provider: "anthropic", Model: "claude-opus-4-20250514", Temperature: 0.7, MaxTokens: 16384},
	"max":      {Provider: "anthropic", Model: "claude-opus-4-20250514", Temperature: 1.0, MaxTokens: 32768},
	"research": {Provider: "anthropic", Model: "claude-opus-4-20250514", Temperature: 1.0, MaxTokens: 32768},
	"creative": {Provider: "anthropic", Model: "claude-opus-4-20250514", Temperature: 1.0, MaxTokens: 16384},
}

// resolveVirtualModel splits "enginectl:mini" (or bare "mini") into its
// virtual model entry, reporting ok=false for a concrete provider model
// name that isn't in the virtual table at all.
func resolveVirtualModel(name string) (VirtualModel, bool) {
	suffix := name
	if idx := strings.IndexByte(name, ':'); idx >= 0 {
		suffix = name[idx+1:]
	}
	vm, ok := virtualModels[suffix]
	return vm, ok
}

// applyModelResolution fills in ModelProvider/Temperature/MaxTokens
// from the virtual model table when agent.model names a virtual model
// and the field wasn't set explicitly, per spec.md §6.2's "inheritance
// of temperature/max_tokens".
func applyModelResolution(agent *AgentConfig) {
	vm, ok := resolveVirtualModel(agent.Model)
	if !ok {
		return
	}
	agent.Model = vm.Model
	if agent.ModelProvider == "" {
		agent.ModelProvider = vm.Provider
	}
	if agent.Temperature == nil {
		t := vm.Temperature
		agent.Temperature = &t
	}
	if agent.MaxTokens == 0 {
		agent.MaxTokens = vm.MaxTokens
	}
}
