package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mailtide/mailtide/internal/quota"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Tracking TrackingConfig `yaml:"tracking"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Quota    quota.Config   `yaml:"quota"`
	DKIM     DKIMConfig     `yaml:"dkim"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	APIKey     string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
	// QuotaPath is the BoltDB file backing quota counters
	QuotaPath string `yaml:"quota_path"`
}

type TrackingConfig struct {
	// BaseURL is the public origin links and pixels point at,
	// e.g. https://track.example.com
	BaseURL string `yaml:"base_url"`
}

type DispatchConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	Concurrency  int           `yaml:"concurrency"`
	RatePerSec   int           `yaml:"rate_per_sec"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8090"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/mailtide/mailtide.db"
	}
	if cfg.Database.QuotaPath == "" {
		cfg.Database.QuotaPath = "/var/lib/mailtide/quota.db"
	}
	if cfg.Dispatch.BatchSize == 0 {
		cfg.Dispatch.BatchSize = 100
	}
	if cfg.Dispatch.Concurrency == 0 {
		cfg.Dispatch.Concurrency = 20
	}
	if cfg.Dispatch.RatePerSec == 0 {
		cfg.Dispatch.RatePerSec = 18
	}
	if cfg.Dispatch.PollInterval == 0 {
		cfg.Dispatch.PollInterval = 15 * time.Second
	}
	if cfg.Quota.FlushInterval == 0 {
		cfg.Quota.FlushInterval = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if cfg.Tracking.BaseURL == "" {
		return fmt.Errorf("tracking.base_url is required")
	}
	if cfg.Dispatch.BatchSize < 0 || cfg.Dispatch.Concurrency < 0 || cfg.Dispatch.RatePerSec < 0 {
		return fmt.Errorf("dispatch values must not be negative")
	}
	if cfg.Dispatch.Concurrency > cfg.Dispatch.BatchSize {
		return fmt.Errorf("dispatch.concurrency (%d) must not exceed dispatch.batch_size (%d)", cfg.Dispatch.Concurrency, cfg.Dispatch.BatchSize)
	}
	if cfg.DKIM.Enabled {
		if cfg.DKIM.KeyFile == "" {
			return fmt.Errorf("dkim.key_file is required when DKIM is enabled")
		}
		if cfg.DKIM.Domain == "" {
			return fmt.Errorf("dkim.domain is required when DKIM is enabled")
		}
		if cfg.DKIM.Selector == "" {
			return fmt.Errorf("dkim.selector is required when DKIM is enabled")
		}
	}
	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}
	return nil
}
