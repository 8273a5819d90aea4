// Package settings stores provider credentials and the sender identity.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxzi/letterbox/internal/kv"
	"github.com/foxzi/letterbox/internal/metrics"
)

// Storage keys
const (
	KeyOpenAIAPIKey        = "OPENAI_API_KEY"
	KeyMailchimpAPIKey     = "MAILCHIMP_API_KEY"
	KeyMailchimpAudienceID = "MAILCHIMP_AUDIENCE_ID"
	KeySenderName          = "SENDER_NAME"
	KeySenderEmail         = "SENDER_EMAIL"
)

// Blob holds all settings. Every field is written on save.
type Blob struct {
	OpenAIAPIKey        string `json:"openaiApiKey"`
	MailchimpAPIKey     string `json:"mailchimpApiKey"`
	MailchimpAudienceID string `json:"mailchimpAudienceId"`
	SenderName          string `json:"senderName"`
	SenderEmail         string `json:"senderEmail"`
}

func (b *Blob) fields() []struct {
	key   string
	value *string
} {
	return []struct {
		key   string
		value *string
	}{
		{KeyOpenAIAPIKey, &b.OpenAIAPIKey},
		{KeyMailchimpAPIKey, &b.MailchimpAPIKey},
		{KeyMailchimpAudienceID, &b.MailchimpAudienceID},
		{KeySenderName, &b.SenderName},
		{KeySenderEmail, &b.SenderEmail},
	}
}

// Masked returns a copy with API keys reduced to their last four characters
func (b Blob) Masked() Blob {
	b.OpenAIAPIKey = mask(b.OpenAIAPIKey)
	b.MailchimpAPIKey = mask(b.MailchimpAPIKey)
	return b
}

func mask(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// Set assigns a field by its storage key
func (b *Blob) Set(key, value string) error {
	for _, f := range b.fields() {
		if f.key == key {
			*f.value = value
			return nil
		}
	}
	return fmt.Errorf("unknown setting %q", key)
}

// Keys lists the storage keys in display order
func Keys() []string {
	var b Blob
	fs := b.fields()
	keys := make([]string, len(fs))
	for i, f := range fs {
		keys[i] = f.key
	}
	return keys
}

// Service names accepted by TestConnection
const (
	ServiceOpenAI    = "openai"
	ServiceMailchimp = "mailchimp"
)

// ConnectionStatus is the outcome of a connection test
type ConnectionStatus string

const (
	StatusOK            ConnectionStatus = "ok"
	StatusInvalidKey    ConnectionStatus = "invalid_key"
	StatusUnreachable   ConnectionStatus = "unreachable"
	StatusNotConfigured ConnectionStatus = "not_configured"
	StatusUnsupported   ConnectionStatus = "unsupported"
)

// ConnectionResult describes a connection test
type ConnectionResult struct {
	Service   string           `json:"service"`
	Status    ConnectionStatus `json:"status"`
	Message   string           `json:"message,omitempty"`
	LatencyMS int64            `json:"latencyMs"`
}

// OK reports whether the provider accepted the credentials
func (r *ConnectionResult) OK() bool {
	return r.Status == StatusOK
}

// Checker performs an authenticated round trip against a provider using
// the stored settings. Errors implementing InvalidKey() bool that return
// true are reported as StatusInvalidKey.
type Checker func(ctx context.Context, blob Blob) error

// Service loads, saves and verifies settings
type Service struct {
	store    kv.Store
	logger   *slog.Logger
	mu       sync.RWMutex
	checkers map[string]Checker
}

// NewService creates a settings service over store
func NewService(store kv.Store, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		logger:   logger,
		checkers: make(map[string]Checker),
	}
}

// RegisterChecker sets the connection checker for a service
func (s *Service) RegisterChecker(service string, c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkers[service] = c
}

// Load reads all settings. Missing keys are empty strings.
func (s *Service) Load(ctx context.Context) (*Blob, error) {
	blob := &Blob{}
	for _, f := range blob.fields() {
		v, _, err := s.store.Get(ctx, f.key)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
		*f.value = v
	}
	return blob, nil
}

// Save writes every field of blob, including empty ones
func (s *Service) Save(ctx context.Context, blob *Blob) error {
	for _, f := range blob.fields() {
		if err := s.store.Set(ctx, f.key, *f.value); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	}
	s.logger.Info("settings saved")
	return nil
}

// TestConnection verifies the stored credentials for service. Provider
// failures are reported in the result; the error is only for storage failures.
func (s *Service) TestConnection(ctx context.Context, service string) (*ConnectionResult, error) {
	service = strings.ToLower(strings.TrimSpace(service))
	result := &ConnectionResult{Service: service}

	s.mu.RLock()
	checker, ok := s.checkers[service]
	s.mu.RUnlock()
	if !ok {
		result.Status = StatusUnsupported
		result.Message = fmt.Sprintf("unknown service %q", service)
		return result, nil
	}

	blob, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}

	if !configured(service, blob) {
		result.Status = StatusNotConfigured
		result.Message = "API key is not set"
		metrics.IncConnectionTests(service, string(result.Status))
		return result, nil
	}

	start := time.Now()
	err = checker(ctx, *blob)
	result.LatencyMS = time.Since(start).Milliseconds()

	var keyErr interface{ InvalidKey() bool }
	switch {
	case err == nil:
		result.Status = StatusOK
		result.Message = "connection successful"
	case errors.As(err, &keyErr) && keyErr.InvalidKey():
		result.Status = StatusInvalidKey
		result.Message = err.Error()
	default:
		result.Status = StatusUnreachable
		result.Message = err.Error()
	}

	metrics.IncConnectionTests(service, string(result.Status))
	s.logger.Info("connection tested", "service", service, "status", result.Status, "latency_ms", result.LatencyMS)
	return result, nil
}

func configured(service string, b *Blob) bool {
	switch service {
	case ServiceOpenAI:
		return b.OpenAIAPIKey != ""
	case ServiceMailchimp:
		return b.MailchimpAPIKey != ""
	}
	return true
}
