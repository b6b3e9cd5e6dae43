package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ARENA_PORT", "9090")
	t.Setenv("ARENA_LOG_LEVEL", "debug")
	t.Setenv("ARENA_EVAL_WORKERS", "6")
	t.Setenv("ARENA_SCORER_TIMEOUT", "5s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
	if cfg.Eval.Workers != 6 {
		t.Errorf("Eval.Workers = %d, want 6", cfg.Eval.Workers)
	}
	if cfg.Scorer.Timeout != 5*time.Second {
		t.Errorf("Scorer.Timeout = %v, want 5s", cfg.Scorer.Timeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
host: "127.0.0.1"
port: 8888
data:
  ground_truth: /srv/gt.json
eval:
  workers: 3
  empty_reference: invalid
  queue_wait: 2m
scorer:
  type: exact
  cache_type: none
log:
  level: warn
  format: json
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 8888 {
		t.Errorf("Port = %d, want 8888", cfg.Port)
	}
	if cfg.Data.GroundTruthPath != "/srv/gt.json" {
		t.Errorf("GroundTruthPath = %s", cfg.Data.GroundTruthPath)
	}
	// Unset keys keep their defaults
	if cfg.Data.UploadDir != "data/uploads" {
		t.Errorf("UploadDir = %s, want default", cfg.Data.UploadDir)
	}
	if cfg.Eval.Workers != 3 || cfg.Eval.EmptyReference != "invalid" {
		t.Errorf("Eval = %+v", cfg.Eval)
	}
	if cfg.Eval.QueueWait != 2*time.Minute {
		t.Errorf("QueueWait = %v, want 2m", cfg.Eval.QueueWait)
	}
	if cfg.Scorer.Type != "exact" || cfg.Scorer.CacheType != "none" {
		t.Errorf("Scorer = %+v", cfg.Scorer)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %s, want json", cfg.Log.Format)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("port: 7000\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARENA_PORT", "7001")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != 7001 {
		t.Errorf("Port = %d, want 7001", cfg.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = 0 }, "port must be between"},
		{"zero workers", func(c *Config) { c.Eval.Workers = 0 }, "eval.workers"},
		{"bad empty policy", func(c *Config) { c.Eval.EmptyReference = "count" }, "eval.empty_reference"},
		{"bad scorer", func(c *Config) { c.Scorer.Type = "python" }, "invalid scorer type"},
		{"http scorer needs url", func(c *Config) { c.Scorer.URL = "" }, "scorer.url"},
		{"exact scorer needs no url", func(c *Config) { c.Scorer.Type = "exact"; c.Scorer.URL = "" }, ""},
		{"bad cache", func(c *Config) { c.Scorer.CacheType = "disk" }, "invalid scorer cache"},
		{"kafka needs brokers", func(c *Config) { c.Bus.Type = "kafka" }, "kafka_brokers"},
		{"bad bus", func(c *Config) { c.Bus.Type = "nats" }, "invalid bus type"},
		{"bad level", func(c *Config) { c.Log.Level = "trace" }, "invalid log level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "invalid log format"},
		{"negative rate limit", func(c *Config) { c.Security.RateLimit = -1 }, "rate_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAddressAndLimits(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)
	cfg.Host = "localhost"
	cfg.Port = 8123
	cfg.Eval.MaxUploadMB = 2

	if got := cfg.Address(); got != "localhost:8123" {
		t.Errorf("Address() = %s", got)
	}
	if got := cfg.MaxUploadBytes(); got != 2<<20 {
		t.Errorf("MaxUploadBytes() = %d", got)
	}
}
