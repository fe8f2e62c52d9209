package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Name != "reverie" {
		t.Errorf("unexpected name: %s", cfg.Name)
	}
	if cfg.Store.DatabasePath == "" {
		t.Errorf("expected a default database path")
	}
	if cfg.Vector.Metric != "cosine" {
		t.Errorf("expected cosine default metric, got %s", cfg.Vector.Metric)
	}
	if cfg.Model.MaxRetries != 1 {
		t.Errorf("expected single retry default, got %d", cfg.Model.MaxRetries)
	}
	if cfg.Pipeline.Workers <= 0 {
		t.Errorf("expected positive worker default, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Autonomy.Enabled {
		t.Errorf("autonomy should be off by default")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing config file should not error: %v", err)
	}
	if cfg.Name != "reverie" {
		t.Fatalf("expected defaults, got name %s", cfg.Name)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reverie.yaml")
	body := []byte(`
name: dreamer
store:
  database_path: /tmp/dreamer.db
autonomy:
  enabled: true
  interval: 90s
`)
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Name != "dreamer" {
		t.Errorf("name not overridden: %s", cfg.Name)
	}
	if cfg.Store.DatabasePath != "/tmp/dreamer.db" {
		t.Errorf("database path not overridden: %s", cfg.Store.DatabasePath)
	}
	if !cfg.Autonomy.Enabled {
		t.Errorf("autonomy enable not overridden")
	}
	if got := cfg.GetAutonomyInterval(); got != 90*time.Second {
		t.Errorf("interval = %v, want 90s", got)
	}
	// Untouched sections keep their defaults.
	if cfg.Vector.MaxDegree != 16 {
		t.Errorf("vector defaults lost: %d", cfg.Vector.MaxDegree)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "reverie.yaml")

	cfg := DefaultConfig()
	cfg.Name = "saved"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Name != "saved" {
		t.Fatalf("round trip lost name: %s", loaded.Name)
	}
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.DedupWindow = "not-a-duration"
	cfg.Model.Timeout = ""
	cfg.Autonomy.SettingsPoll = "garbage"

	if got := cfg.GetDedupWindow(); got != 2*time.Minute {
		t.Errorf("dedup window fallback = %v", got)
	}
	if got := cfg.GetModelTimeout(); got != 60*time.Second {
		t.Errorf("model timeout fallback = %v", got)
	}
	if got := cfg.GetSettingsPoll(); got != 30*time.Second {
		t.Errorf("settings poll fallback = %v", got)
	}
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.Model.Fast.APIKey = "k"
	valid.Model.Deliberate.APIKey = "k"
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config with keys should validate: %v", err)
	}

	noKey := DefaultConfig()
	if err := noKey.Validate(); err == nil {
		t.Fatalf("expected error for missing model API key")
	}

	badMetric := DefaultConfig()
	badMetric.Model.Fast.APIKey = "k"
	badMetric.Model.Deliberate.APIKey = "k"
	badMetric.Vector.Metric = "euclidean"
	if err := badMetric.Validate(); err == nil {
		t.Fatalf("expected error for unsupported metric")
	}

	badProvider := DefaultConfig()
	badProvider.Model.Fast.APIKey = "k"
	badProvider.Model.Deliberate.APIKey = "k"
	badProvider.Embedding.Provider = "word2vec"
	if err := badProvider.Validate(); err == nil {
		t.Fatalf("expected error for unsupported embedding provider")
	}

	noWorkers := DefaultConfig()
	noWorkers.Model.Fast.APIKey = "k"
	noWorkers.Model.Deliberate.APIKey = "k"
	noWorkers.Pipeline.Workers = 0
	if err := noWorkers.Validate(); err == nil {
		t.Fatalf("expected error for zero pipeline workers")
	}
}

func TestLoadAgentCard(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	body := []byte(`
name: Moss
username: moss
bio:
  - Keeper of small forests.
style:
  - gentle
topics:
  - lichen
`)
	if err := os.WriteFile(path, body, 0644); err != nil {
		t.Fatalf("write agent file: %v", err)
	}

	card, err := LoadAgentCard(path)
	if err != nil {
		t.Fatalf("load agent card: %v", err)
	}
	if card.Name != "Moss" || card.Username != "moss" {
		t.Errorf("card not parsed: %+v", card)
	}
	if card.ID == "" {
		t.Errorf("expected a derived agent ID")
	}

	// Same name, same identity across loads.
	again, err := LoadAgentCard(path)
	if err != nil {
		t.Fatalf("reload agent card: %v", err)
	}
	if again.ID != card.ID {
		t.Errorf("agent ID not stable: %s vs %s", card.ID, again.ID)
	}
}

func TestLoadAgentCardMissingFile(t *testing.T) {
	card, err := LoadAgentCard(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("missing agent file should fall back to default: %v", err)
	}
	if card.Name != "reverie" {
		t.Fatalf("expected default card, got %s", card.Name)
	}
}

func TestLoadAgentCardRequiresName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte("username: ghost\n"), 0644); err != nil {
		t.Fatalf("write agent file: %v", err)
	}
	if _, err := LoadAgentCard(path); err == nil {
		t.Fatalf("expected error for missing name")
	}
}
