package tools

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/kinra-ai/kin-code/pkg/core"
)

// Manager holds the tools its caller registers (it does not scan the user
// or project tools directories itself), applies enable/disable filters, caches one instance per name, and exposes schemas in
// deterministic (sorted) order for LLM prompt-cache stability.
type Manager struct {
	mu      sync.RWMutex
	all     map[string]Tool
	configs map[string]core.ToolConfig
	active  map[string]struct{} // names surviving the allow/deny filter
}

func NewManager() *Manager {
	return &Manager{
		all:     make(map[string]Tool),
		configs: make(map[string]core.ToolConfig),
	}
}

// Register adds a tool to the builtin/user/project registry, in discovery
// order. Later registrations with the same name overwrite earlier ones,
// matching the builtin < user < project precedence.
func (m *Manager) Register(tool Tool, config core.ToolConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := tool.Describe().Name
	m.all[name] = tool
	m.configs[name] = config
}

// ApplyFilters narrows the active set: if enabledTools is non-empty it's a
// whitelist (glob or `re:`-prefixed regex), otherwise disabledTools is a
// blacklist applied against every discovered name.
func (m *Manager) ApplyFilters(enabledTools, disabledTools []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.sortedNamesLocked()

	if len(enabledTools) > 0 {
		active := make(map[string]struct{})
		for _, name := range names {
			matched, err := matchesAny(name, enabledTools)
			if err != nil {
				return err
			}
			if matched {
				active[name] = struct{}{}
			}
		}
		m.active = active
		return nil
	}

	active := make(map[string]struct{}, len(names))
	for _, name := range names {
		active[name] = struct{}{}
	}
	for _, name := range names {
		matched, err := matchesAny(name, disabledTools)
		if err != nil {
			return err
		}
		if matched {
			delete(active, name)
		}
	}
	m.active = active
	return nil
}

func matchesAny(name string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		if strings.HasPrefix(pattern, "re:") {
			re, err := regexp.Compile(strings.TrimPrefix(pattern, "re:"))
			if err != nil {
				return false, fmt.Errorf("invalid tool pattern %q: %w", pattern, err)
			}
			if re.MatchString(name) {
				return true, nil
			}
			continue
		}
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) sortedNamesLocked() []string {
	names := make([]string, 0, len(m.all))
	for name := range m.all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns active tool names in sorted order.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := m.sortedNamesLocked()
	if m.active == nil {
		return names
	}
	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := m.active[name]; ok {
			filtered = append(filtered, name)
		}
	}
	return filtered
}

// Get returns the cached instance for a name, or an error if it isn't
// registered or has been filtered out.
func (m *Manager) Get(name string) (Tool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active != nil {
		if _, ok := m.active[name]; !ok {
			return nil, fmt.Errorf("tool %q not found", name)
		}
	}
	tool, ok := m.all[name]
	if !ok {
		return nil, fmt.Errorf("tool %q not found", name)
	}
	return tool, nil
}

// GetToolConfig returns the permission/allowlist/denylist config for a
// tool, defaulting to ASK with no patterns if never set.
func (m *Manager) GetToolConfig(name string) core.ToolConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.configs[name]; ok {
		return cfg
	}
	return core.ToolConfig{Permission: core.PermissionAsk}
}

// SchemasForLLM returns {name, description, json_schema} triples in
// deterministic sorted order.
func (m *Manager) SchemasForLLM() []Description {
	names := m.List()
	out := make([]Description, 0, len(names))
	for _, name := range names {
		tool, err := m.Get(name)
		if err != nil {
			continue
		}
		out = append(out, tool.Describe())
	}
	return out
}

// SetToolConfig overrides the permission/allowlist/denylist record for an
// already-registered tool, e.g. applying a config.toml [tool.<name>]
// override after builtin registration.
func (m *Manager) SetToolConfig(name string, cfg core.ToolConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[name] = cfg
}

// Invalidate drops the tool's permission/allowlist/denylist record, so
// GetToolConfig falls back to ASK until SetToolConfig is called again; the
// registered tool instance itself is kept.
func (m *Manager) Invalidate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, name)
}

// ResetAll is called on context compaction; a no-op unless individual
// tools carry per-instance state worth clearing (none in this core do).
func (m *Manager) ResetAll() {}
