// Package session owns the per-session collections of named thread
// configurations and the constitution modules they select.
package session

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Adherence level bounds. Out-of-range levels are clamped, never rejected:
// this is user-adjustable UI state, not a correctness contract.
const (
	MinLevel     = 1
	MaxLevel     = 5
	DefaultLevel = 3
)

// ClampLevel forces level into [MinLevel, MaxLevel].
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// ConfiguredModule selects one constitution module for a thread config. The
// title is denormalized from the constitution catalog for display.
type ConfiguredModule struct {
	ModuleID string
	Title    string
	Level    int
}

// ThreadConfig describes how one thread should be policed before any backend
// thread exists for it. Disabled configs are skipped when dispatching runs
// but stay visible for editing. Module ids within Modules are unique.
type ThreadConfig struct {
	ID            string
	Name          string
	Modules       []ConfiguredModule
	Enabled       bool
	BoundThreadID string
	CreatedAt     time.Time
}

// Module returns the configured module with the given id.
func (tc ThreadConfig) Module(moduleID string) (ConfiguredModule, bool) {
	for _, m := range tc.Modules {
		if m.ModuleID == moduleID {
			return m, true
		}
	}
	return ConfiguredModule{}, false
}

func (tc ThreadConfig) clone() ThreadConfig {
	out := tc
	out.Modules = append([]ConfiguredModule(nil), tc.Modules...)
	return out
}

// Session groups the thread configs compared side by side. It is the unit of
// persistence.
type Session struct {
	ID            string
	Title         string
	Configs       map[string]ThreadConfig
	CreatedAt     time.Time
	LastUpdatedAt time.Time
}

func (s Session) clone() Session {
	out := s
	out.Configs = make(map[string]ThreadConfig, len(s.Configs))
	for id, cfg := range s.Configs {
		out.Configs[id] = cfg.clone()
	}
	return out
}

// OrderedConfigs returns the session's configs in creation order. The map
// itself carries no order; creation time gives dispatch and rendering a
// stable one.
func (s Session) OrderedConfigs() []ThreadConfig {
	out := make([]ThreadConfig, 0, len(s.Configs))
	for _, cfg := range s.Configs {
		out = append(out, cfg.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// EnabledConfigs returns the configs a submission fans out across.
func (s Session) EnabledConfigs() []ThreadConfig {
	all := s.OrderedConfigs()
	out := all[:0]
	for _, cfg := range all {
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out
}

// CompareSet is the legacy comparison shape: a named list of module ids that
// fans one user message out across independent configurations. Each set
// expands to one ephemeral thread config for a single comparison run.
type CompareSet struct {
	Name      string
	ModuleIDs []string
}

// ThreadConfig expands the set into an ephemeral config with every module at
// the default adherence level. Duplicate module ids collapse to one entry.
func (cs CompareSet) ThreadConfig() ThreadConfig {
	cfg := ThreadConfig{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(cs.Name),
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if cfg.Name == "" {
		cfg.Name = "Comparison"
	}
	seen := make(map[string]struct{}, len(cs.ModuleIDs))
	for _, id := range cs.ModuleIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		cfg.Modules = append(cfg.Modules, ConfiguredModule{ModuleID: id, Title: id, Level: DefaultLevel})
	}
	return cfg
}
