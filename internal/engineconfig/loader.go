package engineconfig

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// configBasenames are tried in order at each layer's directory; the
// first one that exists wins for that layer.
var configBasenames = []string{"config.yaml", "config.yml", "config.json", "config.json5"}

// Load resolves the three-tier configuration described in spec.md §6.2
// for an application directory name (e.g. "enginectl", giving
// ~/.enginectl/config.* and ./.enginectl/config.*) rooted at
// projectDir (normally the current working directory).
func Load(appName, projectDir string) (*Config, error) {
	defaults := Default()
	defaultsRaw, err := structToRaw(defaults)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: encode built-in defaults: %w", err)
	}

	home, _ := os.UserHomeDir()
	var homeRaw, projectRaw map[string]any
	if home != "" {
		homeRaw, err = loadLayer(filepath.Join(home, "."+appName))
		if err != nil {
			return nil, fmt.Errorf("engineconfig: user config: %w", err)
		}
	}
	projectRaw, err = loadLayer(filepath.Join(projectDir, "."+appName))
	if err != nil {
		return nil, fmt.Errorf("engineconfig: project config: %w", err)
	}

	merged := map[string]any{}

	// agent: deep merge, lowest precedence first.
	merged["agent"] = mergeMaps(mergeMaps(asMap(defaultsRaw["agent"]), asMap(homeRaw["agent"])), asMap(projectRaw["agent"]))
	// tool: also deep-merged, same reasoning as agent (per-category,
	// per-tool overrides are additive across layers in practice).
	merged["tool"] = mergeMaps(mergeMaps(asMap(defaultsRaw["tool"]), asMap(homeRaw["tool"])), asMap(projectRaw["tool"]))

	// sandbox/skills/mcp: first-found wins wholesale, most specific
	// layer first (project, then home, then built-in).
	for _, key := range []string{"sandbox", "skills", "mcp"} {
		merged[key] = firstFound(projectRaw[key], homeRaw[key], defaultsRaw[key])
	}

	cfg, err := decodeRawConfig(merged)
	if err != nil {
		return nil, err
	}
	applyModelResolution(&cfg.Agent)
	return cfg, nil
}

// loadLayer tries each recognized basename under dir in turn and parses
// the first one found. It returns an empty map (not an error) when the
// directory or none of its config files exist.
func loadLayer(dir string) (map[string]any, error) {
	for _, name := range configBasenames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		expanded := os.ExpandEnv(string(data))
		return parseRawBytes([]byte(expanded), path)
	}
	return map[string]any{}, nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	format := strings.ToLower(filepath.Ext(pathHint))
	if format == ".json" || format == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("engineconfig: %s: expected single document", pathHint)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// mergeMaps deep-merges src into dst, recursing into nested maps and
// otherwise letting src win. Mirrors the teacher's own config merge
// helper (internal/config/loader.go).
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// firstFound returns the first non-nil, non-empty candidate, in order.
// Implements the spec's "first-found, no cross-layer merge" strategy
// for sandbox/skills/mcp.
func firstFound(candidates ...any) any {
	for _, c := range candidates {
		if m, ok := c.(map[string]any); ok && len(m) > 0 {
			return m
		}
	}
	return map[string]any{}
}

// structToRaw round-trips a typed Config through YAML into a raw map so
// it can be merged with file-sourced raw maps using the same mergeMaps
// logic.
func structToRaw(cfg Config) (map[string]any, error) {
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("engineconfig: serialize merged config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("engineconfig: decode merged config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("engineconfig: decode merged config: expected single document")
	}
	return &cfg, nil
}
