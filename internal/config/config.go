package config

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var defaultsYAML embed.FS

// Config is the full application configuration, loaded once at startup
// and passed by reference to each component.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Sync     SyncConfig     `yaml:"sync"`
	AI       AIConfig       `yaml:"ai"`
}

type ServerConfig struct {
	Port        string `yaml:"port"`
	AdminSecret string `yaml:"admin_secret"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// SourceConfig configures the J-Grants API client.
type SourceConfig struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
}

// SyncConfig holds the persisted defaults for a sync run. Callers may
// override any of them per run; the merge happens once, in the sync
// engine, never downstream.
type SyncConfig struct {
	Keyword           string `yaml:"keyword"`
	Sort              string `yaml:"sort"`
	Order             string `yaml:"order"`
	Acceptance        string `yaml:"acceptance"`
	MaxImportCount    int    `yaml:"max_import_count"`
	BatchSize         int    `yaml:"batch_size"`
	BatchDelaySeconds int    `yaml:"batch_delay_seconds"`
	AutoPublish       bool   `yaml:"auto_publish"`
	UpdateExisting    bool   `yaml:"update_existing"`
	AutoSyncEnabled   bool   `yaml:"auto_sync_enabled"`
	IntervalHours     int    `yaml:"interval_hours"`
	CleanupDays       int    `yaml:"cleanup_days"`
}

// AIConfig configures the content enricher.
type AIConfig struct {
	Enabled              bool            `yaml:"enabled"`
	APIKey               string          `yaml:"api_key"`
	BaseURL              string          `yaml:"base_url"`
	Model                string          `yaml:"model"`
	TimeoutSeconds       int             `yaml:"timeout_seconds"`
	RateLimit            RateLimitConfig `yaml:"rate_limit"`
	BatchSize            int             `yaml:"batch_size"`
	BatchDelaySeconds    int             `yaml:"batch_delay_seconds"`
	RegenerateAfterHours int             `yaml:"regenerate_after_hours"`
	Steps                StepsConfig     `yaml:"steps"`
	Prompts              PromptsConfig   `yaml:"prompts"`
}

// RateLimitConfig bounds enrichment to MaxRequests calls per trailing
// WindowMinutes. A full window skips the call; it is never queued.
type RateLimitConfig struct {
	WindowMinutes int `yaml:"window_minutes"`
	MaxRequests   int `yaml:"max_requests"`
}

// StepsConfig toggles each generation step independently.
type StepsConfig struct {
	Title    bool `yaml:"title"`
	Excerpt  bool `yaml:"excerpt"`
	Body     bool `yaml:"body"`
	Category bool `yaml:"category"`
	Region   bool `yaml:"region"`
}

// PromptsConfig holds the user-prompt templates. Placeholders like
// {grant_name} are substituted from grant fields before the call.
type PromptsConfig struct {
	Title    string `yaml:"title"`
	Excerpt  string `yaml:"excerpt"`
	Body     string `yaml:"body"`
	Category string `yaml:"category"`
	Region   string `yaml:"region"`
}

// Load reads the embedded defaults, overlays an optional config file,
// and expands ${VAR} references from the environment.
func Load(path string) (*Config, error) {
	data, err := defaultsYAML.ReadFile("config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}

	if path != "" {
		override, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(override))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	return &cfg, nil
}
