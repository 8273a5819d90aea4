package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return cfgPath
}

func TestLoad(t *testing.T) {
	content := `
api:
  listen_addr: ":9080"
  api_key: "test-api-key"
  cors_origins:
    - "http://localhost:5173"
  trusted_proxies:
    - "10.0.0.1"

storage:
  path: "/tmp/test.db"

settings:
  backend: redis
  redis_addr: "redis:6379"
  encryption_key: "secret"

generation:
  provider: openai
  delay: 500ms
  model: "gpt-test"

delivery:
  enabled: true
  workers: 3
  retry_interval: 1m
  smtp:
    addr: "smtp.test.com:587"
    username: "user"
    tls: implicit
  rate_limit:
    enabled: true
    recipient_domain:
      messages_per_hour: 50

logging:
  level: "debug"
  format: "text"

seed_archive: false
seed_audience: true
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.ListenAddr != ":9080" {
		t.Errorf("API.ListenAddr = %v, want :9080", cfg.API.ListenAddr)
	}
	if cfg.API.APIKey != "test-api-key" {
		t.Errorf("API.APIKey = %v, want test-api-key", cfg.API.APIKey)
	}
	if len(cfg.API.CORSOrigins) != 1 {
		t.Errorf("API.CORSOrigins = %v, want 1 entry", cfg.API.CORSOrigins)
	}
	if len(cfg.API.TrustedProxies) != 1 || cfg.API.TrustedProxies[0] != "10.0.0.1" {
		t.Errorf("API.TrustedProxies = %v, want [10.0.0.1]", cfg.API.TrustedProxies)
	}
	if cfg.Settings.Backend != "redis" {
		t.Errorf("Settings.Backend = %v, want redis", cfg.Settings.Backend)
	}
	if cfg.Settings.EncryptionKey != "secret" {
		t.Errorf("Settings.EncryptionKey = %v, want secret", cfg.Settings.EncryptionKey)
	}
	if cfg.Generation.Provider != "openai" {
		t.Errorf("Generation.Provider = %v, want openai", cfg.Generation.Provider)
	}
	if cfg.Generation.Delay != 500*time.Millisecond {
		t.Errorf("Generation.Delay = %v, want 500ms", cfg.Generation.Delay)
	}
	if cfg.Delivery.Workers != 3 {
		t.Errorf("Delivery.Workers = %v, want 3", cfg.Delivery.Workers)
	}
	if cfg.Delivery.RetryInterval != time.Minute {
		t.Errorf("Delivery.RetryInterval = %v, want 1m", cfg.Delivery.RetryInterval)
	}
	if cfg.Delivery.SMTP.TLS != "implicit" {
		t.Errorf("Delivery.SMTP.TLS = %v, want implicit", cfg.Delivery.SMTP.TLS)
	}
	if rl := cfg.Delivery.RateLimit; !rl.Enabled || rl.RecipientDomain == nil || rl.RecipientDomain.MessagesPerHour != 50 {
		t.Errorf("Delivery.RateLimit = %+v, want recipient_domain 50/h", rl)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %v, want debug", cfg.Logging.Level)
	}
	if cfg.ShouldSeedArchive() {
		t.Error("ShouldSeedArchive() = true, want false")
	}
	if !cfg.SeedAudience {
		t.Error("SeedAudience = false, want true")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "api:\n  api_key: k\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.ListenAddr != ":8080" {
		t.Errorf("API.ListenAddr = %v, want :8080", cfg.API.ListenAddr)
	}
	if cfg.Settings.Backend != "bolt" {
		t.Errorf("Settings.Backend = %v, want bolt", cfg.Settings.Backend)
	}
	if cfg.Generation.Provider != "template" {
		t.Errorf("Generation.Provider = %v, want template", cfg.Generation.Provider)
	}
	if cfg.Generation.Delay != 2*time.Second {
		t.Errorf("Generation.Delay = %v, want 2s", cfg.Generation.Delay)
	}
	if cfg.Generation.OpenAIURL != "https://api.openai.com/v1" {
		t.Errorf("Generation.OpenAIURL = %v", cfg.Generation.OpenAIURL)
	}
	if cfg.Delivery.Workers != 2 {
		t.Errorf("Delivery.Workers = %v, want 2", cfg.Delivery.Workers)
	}
	if cfg.Delivery.SMTP.TLS != "starttls" {
		t.Errorf("Delivery.SMTP.TLS = %v, want starttls", cfg.Delivery.SMTP.TLS)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %v, want /metrics", cfg.Metrics.Path)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %v, want json", cfg.Logging.Format)
	}
	if !cfg.ShouldSeedArchive() {
		t.Error("ShouldSeedArchive() = false, want true")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		return *c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "invalid log level", mutate: func(c *Config) { c.Logging.Level = "invalid" }, wantErr: true},
		{name: "invalid log format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "invalid settings backend", mutate: func(c *Config) { c.Settings.Backend = "etcd" }, wantErr: true},
		{name: "invalid provider", mutate: func(c *Config) { c.Generation.Provider = "magic" }, wantErr: true},
		{name: "negative delay", mutate: func(c *Config) { c.Generation.Delay = -time.Second }, wantErr: true},
		{name: "invalid smtp tls", mutate: func(c *Config) { c.Delivery.SMTP.TLS = "ssl" }, wantErr: true},
		{
			name: "dkim without selector",
			mutate: func(c *Config) {
				c.Delivery.DKIM = DKIMConfig{Enabled: true, KeyFile: "k.pem", Domain: "example.com"}
			},
			wantErr: true,
		},
		{
			name: "negative rate limit",
			mutate: func(c *Config) {
				c.Delivery.RateLimit.RecipientDomain = &LimitValues{MessagesPerHour: -1}
			},
			wantErr: true,
		},
		{
			name: "dkim complete",
			mutate: func(c *Config) {
				c.Delivery.DKIM = DKIMConfig{Enabled: true, Selector: "mail", KeyFile: "k.pem", Domain: "example.com"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() expected error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, `invalid: yaml: content: [`))
	if err == nil {
		t.Error("Load() expected error for invalid YAML")
	}
}
