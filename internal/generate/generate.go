// Package generate produces newsletter content from a prompt.
package generate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/foxzi/letterbox/internal/config"
)

// Content is a generated newsletter
type Content struct {
	SubjectLine  string `json:"subjectLine"`
	Body         string `json:"body"`
	CallToAction string `json:"callToAction"`
}

// Generator turns a prompt into newsletter content
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Content, error)
}

// Kind classifies generation failures
type Kind string

const (
	KindNotConfigured   Kind = "not_configured"
	KindInvalidKey      Kind = "invalid_key"
	KindRateLimited     Kind = "rate_limited"
	KindNetwork         Kind = "network"
	KindUpstream        Kind = "upstream"
	KindInvalidResponse Kind = "invalid_response"
	KindCanceled        Kind = "canceled"
)

// Error is returned by generators
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// InvalidKey reports whether the provider rejected the credentials
func (e *Error) InvalidKey() bool {
	return e.Kind == KindInvalidKey || e.Kind == KindNotConfigured
}

// Temporary reports whether retrying may succeed
func (e *Error) Temporary() bool {
	switch e.Kind {
	case KindRateLimited, KindNetwork:
		return true
	case KindUpstream:
		return e.StatusCode >= 500
	}
	return false
}

// KeySource returns the current provider API key
type KeySource func(ctx context.Context) (string, error)

// New creates the generator selected by cfg
func New(cfg config.GenerationConfig, keys KeySource, logger *slog.Logger) (Generator, error) {
	switch cfg.Provider {
	case "", "template":
		return NewTemplateGenerator(cfg.Delay)
	case "openai":
		return NewOpenAIGenerator(OpenAIConfig{
			BaseURL:    cfg.OpenAIURL,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
			Timeout:    cfg.Timeout,
		}, keys, logger), nil
	}
	return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
}
