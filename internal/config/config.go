package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	API          APIConfig        `yaml:"api"`
	Storage      StorageConfig    `yaml:"storage"`
	Settings     SettingsConfig   `yaml:"settings"`
	Generation   GenerationConfig `yaml:"generation"`
	Mailchimp    MailchimpConfig  `yaml:"mailchimp"`
	Delivery     DeliveryConfig   `yaml:"delivery"`
	Metrics      MetricsConfig    `yaml:"metrics"`
	Logging      LoggingConfig    `yaml:"logging"`
	SeedArchive  *bool            `yaml:"seed_archive"`  // Load sample newsletters into an empty archive (default: true)
	SeedAudience bool             `yaml:"seed_audience"` // Load sample subscribers into an empty audience
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	CORSOrigins    []string      `yaml:"cors_origins"`     // Allowed origins for the dashboard (empty = no CORS)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to call /api/v1 (empty = all)
	TrustedProxies []string      `yaml:"trusted_proxies"`  // Peers whose X-Forwarded-For / X-Real-IP are honoured
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// SettingsConfig selects where provider credentials and sender identity are kept
type SettingsConfig struct {
	Backend       string `yaml:"backend"` // bolt, redis, memory
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
	EncryptionKey string `yaml:"encryption_key"` // Passphrase for sealing values at rest (empty = plain text)
}

// GenerationConfig contains newsletter generation settings
type GenerationConfig struct {
	Provider   string        `yaml:"provider"`   // template, openai
	Delay      time.Duration `yaml:"delay"`      // Simulated latency of the template provider
	OpenAIURL  string        `yaml:"openai_url"` // Base URL of an OpenAI-compatible API
	Model      string        `yaml:"model"`
	MaxRetries int           `yaml:"max_retries"` // Retries on rate limit / network errors
	Timeout    time.Duration `yaml:"timeout"`
}

// MailchimpConfig contains mailing-list provider settings
type MailchimpConfig struct {
	BaseURL     string        `yaml:"base_url"`     // Override the data-center URL derived from the API key
	SyncMembers bool          `yaml:"sync_members"` // Mirror audience changes to the configured list
	Timeout     time.Duration `yaml:"timeout"`
}

// DeliveryConfig contains outbox processor settings
type DeliveryConfig struct {
	Enabled         bool            `yaml:"enabled"`
	Workers         int             `yaml:"workers"`
	RetryInterval   time.Duration   `yaml:"retry_interval"`
	MaxRetries      int             `yaml:"max_retries"`
	ProcessInterval time.Duration   `yaml:"process_interval"`
	SMTP            SMTPConfig      `yaml:"smtp"`
	DKIM            DKIMConfig      `yaml:"dkim"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains relay send quotas
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// Limit for the whole outbox
	Global *LimitValues `yaml:"global,omitempty"`

	// Limit applied to each recipient domain separately
	RecipientDomain *LimitValues `yaml:"recipient_domain,omitempty"`
}

// LimitValues contains rate limit values. Zero means unlimited.
type LimitValues struct {
	MessagesPerHour int `yaml:"messages_per_hour"`
	MessagesPerDay  int `yaml:"messages_per_day"`
}

// SMTPConfig contains relay settings used for outgoing newsletters
type SMTPConfig struct {
	Addr     string        `yaml:"addr"` // host:port, empty = log only
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	TLS      string        `yaml:"tls"` // starttls, implicit, none
	Timeout  time.Duration `yaml:"timeout"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
	Domain   string `yaml:"domain"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ListenAddr     string        `yaml:"listen_addr"`     // Default: :9090
	Path           string        `yaml:"path"`            // Default: /metrics
	FlushInterval  time.Duration `yaml:"flush_interval"`  // Default: 30s
	AllowedIPs     []string      `yaml:"allowed_ips"`     // IP addresses/CIDRs allowed to access metrics
	TrustedProxies []string      `yaml:"trusted_proxies"` // Peers whose X-Forwarded-For / X-Real-IP are honoured
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/letterbox/letterbox.db"
	}

	if c.Settings.Backend == "" {
		c.Settings.Backend = "bolt"
	}
	if c.Settings.RedisAddr == "" {
		c.Settings.RedisAddr = "localhost:6379"
	}
	if c.Settings.RedisPrefix == "" {
		c.Settings.RedisPrefix = "letterbox:"
	}

	if c.Generation.Provider == "" {
		c.Generation.Provider = "template"
	}
	if c.Generation.Delay == 0 {
		c.Generation.Delay = 2 * time.Second
	}
	if c.Generation.OpenAIURL == "" {
		c.Generation.OpenAIURL = "https://api.openai.com/v1"
	}
	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-4o-mini"
	}
	if c.Generation.MaxRetries == 0 {
		c.Generation.MaxRetries = 3
	}
	if c.Generation.Timeout == 0 {
		c.Generation.Timeout = 60 * time.Second
	}

	if c.Mailchimp.Timeout == 0 {
		c.Mailchimp.Timeout = 15 * time.Second
	}

	if c.Delivery.Workers == 0 {
		c.Delivery.Workers = 2
	}
	if c.Delivery.RetryInterval == 0 {
		c.Delivery.RetryInterval = 5 * time.Minute
	}
	if c.Delivery.MaxRetries == 0 {
		c.Delivery.MaxRetries = 5
	}
	if c.Delivery.ProcessInterval == 0 {
		c.Delivery.ProcessInterval = 10 * time.Second
	}
	if c.Delivery.SMTP.TLS == "" {
		c.Delivery.SMTP.TLS = "starttls"
	}
	if c.Delivery.SMTP.Timeout == 0 {
		c.Delivery.SMTP.Timeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 30 * time.Second
	}

	if c.SeedArchive == nil {
		seed := true
		c.SeedArchive = &seed
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	validBackends := map[string]bool{"bolt": true, "redis": true, "memory": true}
	if !validBackends[c.Settings.Backend] {
		return fmt.Errorf("invalid settings.backend: %s (must be bolt, redis, or memory)", c.Settings.Backend)
	}

	validProviders := map[string]bool{"template": true, "openai": true}
	if !validProviders[c.Generation.Provider] {
		return fmt.Errorf("invalid generation.provider: %s (must be template or openai)", c.Generation.Provider)
	}
	if c.Generation.Delay < 0 {
		return fmt.Errorf("generation.delay must not be negative")
	}

	validTLS := map[string]bool{"starttls": true, "implicit": true, "none": true}
	if !validTLS[c.Delivery.SMTP.TLS] {
		return fmt.Errorf("invalid delivery.smtp.tls: %s (must be starttls, implicit, or none)", c.Delivery.SMTP.TLS)
	}

	if err := c.validateDKIM(); err != nil {
		return err
	}

	for name, lv := range map[string]*LimitValues{
		"global":           c.Delivery.RateLimit.Global,
		"recipient_domain": c.Delivery.RateLimit.RecipientDomain,
	} {
		if lv != nil && (lv.MessagesPerHour < 0 || lv.MessagesPerDay < 0) {
			return fmt.Errorf("delivery.rate_limit.%s values must not be negative", name)
		}
	}

	return nil
}

// validateDKIM validates DKIM configuration
func (c *Config) validateDKIM() error {
	dk := c.Delivery.DKIM
	if !dk.Enabled {
		return nil
	}

	if dk.Selector == "" {
		return fmt.Errorf("delivery.dkim.selector is required when DKIM is enabled")
	}
	if dk.KeyFile == "" {
		return fmt.Errorf("delivery.dkim.key_file is required when DKIM is enabled")
	}
	if dk.Domain == "" {
		return fmt.Errorf("delivery.dkim.domain is required when DKIM is enabled")
	}

	return nil
}

// ShouldSeedArchive reports whether sample newsletters are loaded on startup
func (c *Config) ShouldSeedArchive() bool {
	return c.SeedArchive == nil || *c.SeedArchive
}
