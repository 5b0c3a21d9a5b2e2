// Package config loads relay settings from YAML with environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API      APIConfig      `yaml:"api"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Cache    CacheConfig    `yaml:"cache"`
	Progress ProgressConfig `yaml:"progress"`
	Listen   ListenConfig   `yaml:"listen"`
	Data     DataConfig     `yaml:"data"`
	Otel     OtelConfig     `yaml:"otel"`
}

type APIConfig struct {
	BaseURL   string        `yaml:"base_url" env:"BADGEUP_API_URL"`
	APIKey    string        `yaml:"api_key" env:"BADGEUP_API_KEY"`
	Timeout   time.Duration `yaml:"timeout" env:"BADGEUP_API_TIMEOUT"`
	MaxPages  int           `yaml:"max_pages"`
	UserAgent string        `yaml:"user_agent"`
}

type DispatchConfig struct {
	Workers   int `yaml:"workers" env:"RELAY_DISPATCH_WORKERS"`
	QueueSize int `yaml:"queue_size" env:"RELAY_DISPATCH_QUEUE"`
}

type CacheConfig struct {
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"`
	TTL                  time.Duration `yaml:"ttl"`
	FailureTTL           time.Duration `yaml:"failure_ttl"`
	RetryAttempts        uint          `yaml:"retry_attempts"`
}

type ProgressConfig struct {
	Parallelism int `yaml:"parallelism"`
}

type ListenConfig struct {
	WSAddr   string `yaml:"ws_addr" env:"RELAY_WS_ADDR"`
	HTTPAddr string `yaml:"http_addr" env:"RELAY_HTTP_ADDR"`
}

type DataConfig struct {
	Dir          string `yaml:"dir" env:"RELAY_DATA_DIR"`
	DropJournal  bool   `yaml:"drop_journal"`
	OutcomeIndex bool   `yaml:"outcome_index"`
}

type OtelConfig struct {
	Endpoint    string `yaml:"endpoint" env:"RELAY_OTEL_ENDPOINT"`
	ServiceName string `yaml:"service_name"`
}

func Defaults() Config {
	return Config{
		API: APIConfig{
			BaseURL:   "https://api.useast1.badgeup.io/v2/apps/",
			Timeout:   10 * time.Second,
			MaxPages:  1000,
			UserAgent: "badgeup-relay/1",
		},
		Dispatch: DispatchConfig{Workers: 4, QueueSize: 4096},
		Cache:    CacheConfig{MaxConcurrentFetches: 8},
		Progress: ProgressConfig{Parallelism: 8},
		Listen:   ListenConfig{WSAddr: ":8090", HTTPAddr: ":8091"},
		Data:     DataConfig{Dir: "./data/relay", DropJournal: true, OutcomeIndex: true},
		Otel:     OtelConfig{ServiceName: "badgeup-relay"},
	}
}

// Load reads path (optional), applies environment overrides, then normalizes
// and validates.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.API.BaseURL = strings.TrimSpace(c.API.BaseURL)
	c.API.APIKey = strings.TrimSpace(c.API.APIKey)
	if c.API.BaseURL != "" && !strings.HasSuffix(c.API.BaseURL, "/") {
		c.API.BaseURL += "/"
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = "badgeup-relay/1"
	}
	if c.Otel.ServiceName == "" {
		c.Otel.ServiceName = "badgeup-relay"
	}
}

func (c Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url %q must be an absolute http(s) url", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.API.MaxPages <= 0 {
		return fmt.Errorf("api.max_pages must be > 0")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("dispatch.workers must be > 0")
	}
	if c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("dispatch.queue_size must be > 0")
	}
	if c.Cache.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("cache.max_concurrent_fetches must be > 0")
	}
	if c.Cache.TTL < 0 || c.Cache.FailureTTL < 0 {
		return fmt.Errorf("cache ttls must be >= 0")
	}
	if c.Progress.Parallelism <= 0 {
		return fmt.Errorf("progress.parallelism must be > 0")
	}
	if (c.Data.DropJournal || c.Data.OutcomeIndex) && strings.TrimSpace(c.Data.Dir) == "" {
		return fmt.Errorf("data.dir must not be empty when journal or index is enabled")
	}
	return nil
}

// RequireAPIKey is checked by commands that talk to the remote.
func (c Config) RequireAPIKey() error {
	if c.API.APIKey == "" {
		return fmt.Errorf("api.api_key is empty (set BADGEUP_API_KEY)")
	}
	return nil
}
