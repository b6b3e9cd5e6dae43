// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host string `envconfig:"ARENA_HOST" yaml:"host"`
	Port int    `envconfig:"ARENA_PORT" yaml:"port"`

	// Data locations
	Data DataConfig `yaml:"data"`

	// Evaluation configuration
	Eval EvalConfig `yaml:"eval"`

	// External scorer configuration
	Scorer ScorerConfig `yaml:"scorer"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Security configuration
	Security SecurityConfig `yaml:"security"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// DataConfig holds on-disk locations.
type DataConfig struct {
	GroundTruthPath string `envconfig:"ARENA_GROUND_TRUTH" yaml:"ground_truth"`
	UploadDir       string `envconfig:"ARENA_UPLOAD_DIR" yaml:"upload_dir"`
	DetailsDir      string `envconfig:"ARENA_DETAILS_DIR" yaml:"details_dir"`
	LeaderboardPath string `envconfig:"ARENA_LEADERBOARD_PATH" yaml:"leaderboard_path"`
}

// EvalConfig holds batch evaluation settings.
type EvalConfig struct {
	Workers        int           `envconfig:"ARENA_EVAL_WORKERS" yaml:"workers"`
	QueueWait      time.Duration `envconfig:"ARENA_EVAL_QUEUE_WAIT" yaml:"queue_wait"`
	ProgressBuffer int           `envconfig:"ARENA_PROGRESS_BUFFER" yaml:"progress_buffer"`
	EmptyReference string        `envconfig:"ARENA_EMPTY_REFERENCE" yaml:"empty_reference"` // skip or invalid
	MaxUploadMB    int           `envconfig:"ARENA_MAX_UPLOAD_MB" yaml:"max_upload_mb"`
}

// ScorerConfig holds settings for the external similarity scorer.
type ScorerConfig struct {
	Type      string        `envconfig:"ARENA_SCORER_TYPE" yaml:"type"` // http or exact
	URL       string        `envconfig:"ARENA_SCORER_URL" yaml:"url"`
	Timeout   time.Duration `envconfig:"ARENA_SCORER_TIMEOUT" yaml:"timeout"`
	CacheType string        `envconfig:"ARENA_SCORER_CACHE" yaml:"cache_type"` // none, memory or redis
	CacheSize int           `envconfig:"ARENA_SCORER_CACHE_SIZE" yaml:"cache_size"`
	CacheTTL  time.Duration `envconfig:"ARENA_SCORER_CACHE_TTL" yaml:"cache_ttl"` // 0 = no expiry
	RedisURL  string        `envconfig:"ARENA_REDIS_URL" yaml:"redis_url"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type            string `envconfig:"ARENA_BUS_TYPE" yaml:"type"`
	KafkaBrokers    string `envconfig:"ARENA_KAFKA_BROKERS" yaml:"kafka_brokers"`
	KafkaGroup      string `envconfig:"ARENA_KAFKA_GROUP" yaml:"kafka_group"`
	EventLogEnabled bool   `envconfig:"ARENA_EVENT_LOG_ENABLED" yaml:"event_log_enabled"`
	EventLogPath    string `envconfig:"ARENA_EVENT_LOG_PATH" yaml:"event_log_path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"ARENA_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"ARENA_LOG_FORMAT" yaml:"format"`
}

// SecurityConfig holds request admission settings.
type SecurityConfig struct {
	RateLimit   int    `envconfig:"ARENA_RATE_LIMIT" yaml:"rate_limit"` // submissions per minute per client, 0 = disabled
	CORSOrigins string `envconfig:"ARENA_CORS_ORIGINS" yaml:"cors_origins"`
	AdminToken  string `envconfig:"ARENA_ADMIN_TOKEN" yaml:"admin_token"` // empty = admin routes open
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	MetricsEnabled bool   `envconfig:"ARENA_METRICS_ENABLED" yaml:"metrics_enabled"`
	MetricsPath    string `envconfig:"ARENA_METRICS_PATH" yaml:"metrics_path"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	setDefaults(cfg)

	// YAML overrides defaults
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Environment wins over everything
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8000

	cfg.Data = DataConfig{
		GroundTruthPath: "data/ground_truth.json",
		UploadDir:       "data/uploads",
		DetailsDir:      "data/details",
		LeaderboardPath: "data/leaderboard.json",
	}

	cfg.Eval = EvalConfig{
		Workers:        2,
		QueueWait:      10 * time.Minute,
		ProgressBuffer: 64,
		EmptyReference: "skip",
		MaxUploadMB:    50,
	}

	cfg.Scorer = ScorerConfig{
		Type:      "http",
		URL:       "http://localhost:8500/v1/teds",
		Timeout:   30 * time.Second,
		CacheType: "memory",
		CacheSize: 10000,
		RedisURL:  "redis://localhost:6379",
	}

	cfg.Bus = BusConfig{
		Type:         "memory",
		KafkaGroup:   "tablearena",
		EventLogPath: "data/events.jsonl",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Security = SecurityConfig{
		RateLimit:   0,
		CORSOrigins: "*",
	}

	cfg.Observability = ObservabilityConfig{
		MetricsEnabled: true,
		MetricsPath:    "/metrics",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	if c.Data.GroundTruthPath == "" {
		errs = append(errs, "data.ground_truth is required")
	}
	if c.Data.UploadDir == "" || c.Data.DetailsDir == "" || c.Data.LeaderboardPath == "" {
		errs = append(errs, "data.upload_dir, data.details_dir and data.leaderboard_path are required")
	}

	// Eval validation
	if c.Eval.Workers < 1 {
		errs = append(errs, "eval.workers must be positive")
	}
	if c.Eval.ProgressBuffer < 1 {
		errs = append(errs, "eval.progress_buffer must be positive")
	}
	if c.Eval.QueueWait <= 0 {
		errs = append(errs, "eval.queue_wait must be positive")
	}
	if c.Eval.MaxUploadMB < 1 {
		errs = append(errs, "eval.max_upload_mb must be positive")
	}
	validEmpty := map[string]bool{"skip": true, "invalid": true}
	if !validEmpty[c.Eval.EmptyReference] {
		errs = append(errs, fmt.Sprintf("invalid eval.empty_reference: %s (must be skip or invalid)", c.Eval.EmptyReference))
	}

	// Scorer validation
	validScorers := map[string]bool{"http": true, "exact": true}
	if !validScorers[c.Scorer.Type] {
		errs = append(errs, fmt.Sprintf("invalid scorer type: %s (must be http or exact)", c.Scorer.Type))
	}
	if c.Scorer.Type == "http" && c.Scorer.URL == "" {
		errs = append(errs, "scorer.url is required for the http scorer")
	}
	validCaches := map[string]bool{"none": true, "memory": true, "redis": true}
	if !validCaches[c.Scorer.CacheType] {
		errs = append(errs, fmt.Sprintf("invalid scorer cache: %s (must be none, memory, or redis)", c.Scorer.CacheType))
	}
	if c.Scorer.CacheType == "memory" && c.Scorer.CacheSize < 1 {
		errs = append(errs, "scorer.cache_size must be positive")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && strings.TrimSpace(c.Bus.KafkaBrokers) == "" {
		errs = append(errs, "bus.kafka_brokers is required for the kafka bus")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Security.RateLimit < 0 {
		errs = append(errs, "security.rate_limit cannot be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Eval.MaxUploadMB) << 20
}
