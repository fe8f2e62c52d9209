package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all reverie configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Agent card location (YAML persona file)
	AgentFile string `yaml:"agent_file"`

	// Optional settings overlay watched for live edits. Empty disables
	// the watcher.
	SettingsFile string `yaml:"settings_file"`

	// Memory store
	Store StoreConfig `yaml:"store"`

	// Vector index
	Vector VectorConfig `yaml:"vector"`

	// Embedding engine
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Model router
	Model ModelConfig `yaml:"model"`

	// Message pipeline
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Autonomous loop
	Autonomy AutonomyConfig `yaml:"autonomy"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the memory store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	DedupWindow  string `yaml:"dedup_window"`  // duplicate-append detection window
	QueryLimit   int    `yaml:"query_limit"`   // default max events per query
	BusyTimeout  int    `yaml:"busy_timeout"`  // SQLite busy_timeout in ms
}

// VectorConfig configures the ANN index.
type VectorConfig struct {
	Metric       string `yaml:"metric"`        // cosine or dot
	MaxDegree    int    `yaml:"max_degree"`    // link bound per node
	SearchWidth  int    `yaml:"search_width"`  // candidate frontier during search
	SnapshotPath string `yaml:"snapshot_path"` // empty disables snapshots
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai, ollama, or none
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	CacheSize      int    `yaml:"cache_size"` // LRU entries, 0 disables the cache
}

// ModelEndpoint configures one model backend.
type ModelEndpoint struct {
	Provider string `yaml:"provider"` // genai or openai
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"` // openai-compatible endpoints only
}

// ModelConfig configures the model router: one endpoint per tier plus the
// shared timeout/retry policy.
type ModelConfig struct {
	Fast       ModelEndpoint `yaml:"fast"`       // small_fast tier
	Deliberate ModelEndpoint `yaml:"deliberate"` // large_deliberate tier
	Timeout    string        `yaml:"timeout"`    // per-call deadline
	MaxRetries int           `yaml:"max_retries"`
}

// PipelineConfig configures the per-room run machinery.
type PipelineConfig struct {
	Workers   int `yaml:"workers"`    // concurrent room runs
	LaneDepth int `yaml:"lane_depth"` // queued events per room before backpressure
}

// AutonomyConfig configures the monologue loop.
type AutonomyConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Interval     string `yaml:"interval"`      // cycle interval, clamped to [5s, 10m]
	SettingsPoll string `yaml:"settings_poll"` // reconcile-with-settings interval
	RoomName     string `yaml:"room_name"`     // monologue room, created on first use
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"` // debug, info, warn, error
	JSON       bool            `yaml:"json"`
	File       string          `yaml:"file"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:      "reverie",
		Version:   "0.3.0",
		AgentFile: "agent.yaml",

		Store: StoreConfig{
			DatabasePath: "data/reverie.db",
			DedupWindow:  "2m",
			QueryLimit:   50,
			BusyTimeout:  5000,
		},

		Vector: VectorConfig{
			Metric:       "cosine",
			MaxDegree:    16,
			SearchWidth:  32,
			SnapshotPath: "data/reverie.index",
		},

		Embedding: EmbeddingConfig{
			Provider:       "ollama",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "nomic-embed-text",
			GenAIModel:     "gemini-embedding-001",
			CacheSize:      2048,
		},

		Model: ModelConfig{
			Fast: ModelEndpoint{
				Provider: "genai",
				Model:    "gemini-2.5-flash",
			},
			Deliberate: ModelEndpoint{
				Provider: "genai",
				Model:    "gemini-2.5-pro",
			},
			Timeout:    "60s",
			MaxRetries: 1,
		},

		Pipeline: PipelineConfig{
			Workers:   4,
			LaneDepth: 32,
		},

		Autonomy: AutonomyConfig{
			Enabled:      false,
			Interval:     "5m",
			SettingsPoll: "30s",
			RoomName:     "monologue",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults so a bare checkout still boots.
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

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
		if c.Model.Fast.Provider == "genai" && c.Model.Fast.APIKey == "" {
			c.Model.Fast.APIKey = key
		}
		if c.Model.Deliberate.Provider == "genai" && c.Model.Deliberate.APIKey == "" {
			c.Model.Deliberate.APIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		if c.Model.Fast.Provider == "openai" && c.Model.Fast.APIKey == "" {
			c.Model.Fast.APIKey = key
		}
		if c.Model.Deliberate.Provider == "openai" && c.Model.Deliberate.APIKey == "" {
			c.Model.Deliberate.APIKey = key
		}
	}
	if ep := os.Getenv("OLLAMA_ENDPOINT"); ep != "" {
		c.Embedding.OllamaEndpoint = ep
	}
	if path := os.Getenv("REVERIE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if path := os.Getenv("REVERIE_AGENT"); path != "" {
		c.AgentFile = path
	}
	if path := os.Getenv("REVERIE_SETTINGS"); path != "" {
		c.SettingsFile = path
	}
	if lvl := os.Getenv("REVERIE_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
}

// GetDedupWindow returns the duplicate-detection window as a duration.
func (c *Config) GetDedupWindow() time.Duration {
	d, err := time.ParseDuration(c.Store.DedupWindow)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetModelTimeout returns the per-call model deadline as a duration.
func (c *Config) GetModelTimeout() time.Duration {
	d, err := time.ParseDuration(c.Model.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetAutonomyInterval returns the raw configured cycle interval. Clamping
// to the allowed range happens in the loop itself.
func (c *Config) GetAutonomyInterval() time.Duration {
	d, err := time.ParseDuration(c.Autonomy.Interval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetSettingsPoll returns the settings reconcile interval as a duration.
func (c *Config) GetSettingsPoll() time.Duration {
	d, err := time.ParseDuration(c.Autonomy.SettingsPoll)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ValidMetrics lists the supported vector similarity metrics.
var ValidMetrics = []string{"cosine", "dot"}

// ValidModelProviders lists the supported model backends.
var ValidModelProviders = []string{"genai", "openai"}

// ValidEmbeddingProviders lists the supported embedding engines.
var ValidEmbeddingProviders = []string{"genai", "ollama", "none"}

// Validate checks the configuration for startup-fatal problems.
func (c *Config) Validate() error {
	valid := false
	for _, m := range ValidMetrics {
		if c.Vector.Metric == m {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid vector metric: %s (valid: %v)", c.Vector.Metric, ValidMetrics)
	}

	for _, ep := range []struct {
		name string
		cfg  ModelEndpoint
	}{
		{"model.fast", c.Model.Fast},
		{"model.deliberate", c.Model.Deliberate},
	} {
		providerOK := false
		for _, p := range ValidModelProviders {
			if ep.cfg.Provider == p {
				providerOK = true
				break
			}
		}
		if !providerOK {
			return fmt.Errorf("%s: invalid provider %q (valid: %v)", ep.name, ep.cfg.Provider, ValidModelProviders)
		}
		if ep.cfg.Model == "" {
			return fmt.Errorf("%s: model name not configured", ep.name)
		}
		if ep.cfg.APIKey == "" && ep.cfg.BaseURL == "" {
			return fmt.Errorf("%s: no API key configured (set GEMINI_API_KEY or OPENAI_API_KEY)", ep.name)
		}
	}

	providerOK := false
	for _, p := range ValidEmbeddingProviders {
		if c.Embedding.Provider == p {
			providerOK = true
			break
		}
	}
	if !providerOK {
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider, ValidEmbeddingProviders)
	}
	if c.Embedding.Provider == "genai" && c.Embedding.GenAIAPIKey == "" {
		return fmt.Errorf("embedding: genai provider requires an API key (set GEMINI_API_KEY)")
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline: workers must be positive, got %d", c.Pipeline.Workers)
	}

	return nil
}
