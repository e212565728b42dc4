package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
tracking:
  base_url: https://track.example.com
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.ListenAddr != ":8090" {
		t.Errorf("ListenAddr = %s, want :8090", cfg.Server.ListenAddr)
	}
	if cfg.Dispatch.BatchSize != 100 || cfg.Dispatch.Concurrency != 20 || cfg.Dispatch.RatePerSec != 18 {
		t.Errorf("dispatch defaults = %d/%d/%d, want 100/20/18",
			cfg.Dispatch.BatchSize, cfg.Dispatch.Concurrency, cfg.Dispatch.RatePerSec)
	}
	if cfg.Dispatch.PollInterval != 15*time.Second {
		t.Errorf("PollInterval = %v, want 15s", cfg.Dispatch.PollInterval)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %s/%s, want info/json", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9000"
  api_key: secret
database:
  path: /tmp/mailtide.db
  quota_path: /tmp/quota.db
tracking:
  base_url: https://t.example.com
dispatch:
  batch_size: 50
  concurrency: 10
  rate_per_sec: 5
quota:
  messages_per_hour: 1000
  tenants:
    big:
      messages_per_hour: 50000
dkim:
  enabled: true
  key_file: /etc/mailtide/dkim.pem
  domain: example.com
  selector: mail
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIKey != "secret" {
		t.Errorf("APIKey = %s", cfg.Server.APIKey)
	}
	if cfg.Dispatch.Concurrency != 10 {
		t.Errorf("Concurrency = %d, want 10", cfg.Dispatch.Concurrency)
	}
	if cfg.Quota.MessagesPerHour != 1000 {
		t.Errorf("quota default = %d, want 1000", cfg.Quota.MessagesPerHour)
	}
	if cfg.Quota.Tenants["big"].MessagesPerHour != 50000 {
		t.Errorf("tenant override = %d, want 50000", cfg.Quota.Tenants["big"].MessagesPerHour)
	}
	if !cfg.DKIM.Enabled || cfg.DKIM.Selector != "mail" {
		t.Errorf("dkim = %+v", cfg.DKIM)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"missing tracking base url",
			`logging: {level: info}`,
			"tracking.base_url",
		},
		{
			"concurrency over batch size",
			"tracking: {base_url: https://t.example.com}\ndispatch: {batch_size: 5, concurrency: 50}",
			"must not exceed",
		},
		{
			"dkim missing key file",
			"tracking: {base_url: https://t.example.com}\ndkim: {enabled: true, domain: example.com, selector: mail}",
			"dkim.key_file",
		},
		{
			"bad logging format",
			"tracking: {base_url: https://t.example.com}\nlogging: {format: xml}",
			"logging.format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
