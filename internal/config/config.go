// Package config loads the YAML configuration and resolves the effective
// agent roster from defaults, discovery results, and user overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"roundtable/internal/logging"
	"roundtable/internal/types"
)

// Config is the top-level configuration.
type Config struct {
	Owner     string          `yaml:"owner"`
	Chat      ChatConfig      `yaml:"chat"`
	Agents    []AgentConfig   `yaml:"agents"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Cache     CacheConfig     `yaml:"cache"`
	Memory    MemoryConfig    `yaml:"memory"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ChatConfig tunes turn orchestration.
type ChatConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	HistoryWindow int `yaml:"history_window"`
	SummaryTurns  int `yaml:"summary_turns"`
}

// AgentConfig is one roster entry. An entry whose id matches a default or
// discovered agent overrides that agent field by field; any other entry
// defines a new custom agent.
type AgentConfig struct {
	ID             string            `yaml:"id"`
	Label          string            `yaml:"label"`
	Provider       string            `yaml:"provider"` // mock, local, remote
	Model          string            `yaml:"model"`
	Endpoint       string            `yaml:"endpoint"`
	APIKey         string            `yaml:"api_key"`
	ExtraHeaders   map[string]string `yaml:"extra_headers"`
	StreamMode     string            `yaml:"stream_mode"` // sse, full, none
	UseFactContext *bool             `yaml:"use_fact_context"`
}

// DiscoveryConfig controls local runtime probing.
type DiscoveryConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Endpoints []string `yaml:"endpoints"`
	Timeout   string   `yaml:"timeout"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	TTLSeconds    int    `yaml:"ttl_seconds"`
	SweepInterval string `yaml:"sweep_interval"`
}

// MemoryConfig tunes fact recall and pruning.
type MemoryConfig struct {
	FactLimit          int     `yaml:"fact_limit"`
	FeedbackBoost      float64 `yaml:"feedback_boost"`
	PruneMinConfidence float64 `yaml:"prune_min_confidence"`
	PruneStaleDays     int     `yaml:"prune_stale_days"`
	PruneMaxUsage      int     `yaml:"prune_max_usage"`
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	Debug      bool     `yaml:"debug"`
	Level      string   `yaml:"level"`
	Categories []string `yaml:"categories"`
	JSONFormat bool     `yaml:"json_format"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Owner: "user",
		Chat: ChatConfig{
			MaxConcurrent: 3,
			HistoryWindow: 30,
			SummaryTurns:  5,
		},
		Discovery: DiscoveryConfig{
			Enabled: true,
			Endpoints: []string{
				"http://localhost:11434",
				"http://localhost:1234",
			},
			Timeout: "5s",
		},
		Cache: CacheConfig{
			TTLSeconds:    604800,
			SweepInterval: "60s",
		},
		Memory: MemoryConfig{
			FactLimit:          6,
			FeedbackBoost:      0.1,
			PruneMinConfidence: 0.4,
			PruneStaleDays:     30,
			PruneMaxUsage:      1,
		},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(".roundtable", "roundtable.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultAgents returns the built-in roster: a mock agent that always works
// offline. Discovered and configured agents are layered on top.
func DefaultAgents() []types.AgentIdentity {
	return []types.AgentIdentity{
		{
			ID:         "mock-echo",
			Label:      "Echo",
			Provider:   types.ProviderMock,
			Model:      "mock-echo",
			StreamMode: types.StreamFull,
			Origin:     types.OriginMock,
		},
	}
}

// Load reads path, falling back to defaults when the file does not exist,
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if owner := os.Getenv("ROUNDTABLE_OWNER"); owner != "" {
		c.Owner = owner
	}
	if path := os.Getenv("ROUNDTABLE_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if os.Getenv("ROUNDTABLE_DEBUG") == "1" {
		c.Logging.Debug = true
		c.Logging.Level = "debug"
	}
	if key := os.Getenv("ROUNDTABLE_API_KEY"); key != "" {
		// Fills remote agents that carry no key of their own.
		for i := range c.Agents {
			if c.Agents[i].Provider == string(types.ProviderRemote) && c.Agents[i].APIKey == "" {
				c.Agents[i].APIKey = key
			}
		}
	}
}

// identity converts a roster entry to an AgentIdentity override.
func (a AgentConfig) identity() types.AgentIdentity {
	id := types.AgentIdentity{
		ID:           a.ID,
		Label:        a.Label,
		Provider:     types.Provider(a.Provider),
		Model:        a.Model,
		Endpoint:     a.Endpoint,
		APIKey:       a.APIKey,
		ExtraHeaders: a.ExtraHeaders,
		StreamMode:   types.StreamMode(a.StreamMode),
		Origin:       types.OriginCustom,
	}
	if a.UseFactContext != nil {
		id.UseFactContext = *a.UseFactContext
	}
	return id
}

// ResolveRoster layers the configuration's agent entries over the defaults
// and any discovered agents. Entries matching an existing id merge field
// by field and keep the base agent's origin; unmatched entries append as
// custom agents, base agents first, then customs in file order.
func (c *Config) ResolveRoster(discovered []types.AgentIdentity) []types.AgentIdentity {
	roster := append(DefaultAgents(), discovered...)

	index := make(map[string]int, len(roster))
	for i, a := range roster {
		index[a.ID] = i
	}

	for _, entry := range c.Agents {
		override := entry.identity()
		if i, ok := index[entry.ID]; ok {
			merged := roster[i].Merge(override)
			merged.Origin = roster[i].Origin
			if entry.UseFactContext != nil {
				merged.UseFactContext = *entry.UseFactContext
			}
			roster[i] = merged
			continue
		}
		if entry.UseFactContext == nil {
			override.UseFactContext = true
		}
		index[override.ID] = len(roster)
		roster = append(roster, override)
	}

	for _, a := range roster {
		logging.Boot("roster agent %s (%s, origin %s)", a.ID, a.Label, a.Origin)
	}
	return roster
}

// SweepInterval returns the cache sweep interval as a duration.
func (c *Config) SweepInterval() time.Duration {
	d, err := time.ParseDuration(c.Cache.SweepInterval)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// DiscoveryTimeout returns the per-endpoint probe timeout.
func (c *Config) DiscoveryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Discovery.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// PruneStaleAfter returns the fact staleness window.
func (c *Config) PruneStaleAfter() time.Duration {
	return time.Duration(c.Memory.PruneStaleDays) * 24 * time.Hour
}
