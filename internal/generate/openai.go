package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/foxzi/letterbox/internal/metrics"
	"github.com/jpillora/backoff"
)

const systemPrompt = `You write email newsletters. Reply with a JSON object with the keys
"subjectLine" (one line, may start with an emoji), "body" (Markdown, with a
greeting, a few short sections and a sign-off) and "callToAction" (one short line).`

// OpenAIConfig configures an OpenAI-compatible chat completions provider
type OpenAIConfig struct {
	BaseURL    string
	Model      string
	MaxRetries int
	Timeout    time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// OpenAIGenerator generates content with the chat completions API
type OpenAIGenerator struct {
	cfg        OpenAIConfig
	keys       KeySource
	httpClient *http.Client
	logger     *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIGenerator creates an OpenAI generator. The API key is read from
// keys on every call so that settings changes apply immediately.
func NewOpenAIGenerator(cfg OpenAIConfig, keys KeySource, logger *slog.Logger) *OpenAIGenerator {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}

	return &OpenAIGenerator{
		cfg:        cfg,
		keys:       keys,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Generate requests a newsletter for prompt, retrying rate limits and
// network failures with exponential backoff.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (*Content, error) {
	apiKey, err := g.keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read API key: %w", err)
	}
	if apiKey == "" {
		return nil, &Error{Kind: KindNotConfigured, Provider: "openai", Message: "OpenAI API key is not set"}
	}

	boff := &backoff.Backoff{
		Min:    g.cfg.MinBackoff,
		Max:    g.cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 0; ; attempt++ {
		content, err := g.complete(ctx, apiKey, prompt)
		if err == nil {
			metrics.IncGenerations("openai", "success")
			return content, nil
		}

		var genErr *Error
		if !errors.As(err, &genErr) || !genErr.Temporary() || attempt >= g.cfg.MaxRetries {
			metrics.IncGenerations("openai", string(kindOf(err)))
			return nil, err
		}

		wait := boff.Duration()
		g.logger.Warn("generation failed, retrying",
			"attempt", attempt+1,
			"kind", genErr.Kind,
			"retry_in", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &Error{Kind: KindCanceled, Provider: "openai", Err: ctx.Err()}
		case <-timer.C:
		}
	}
}

func (g *OpenAIGenerator) complete(ctx context.Context, apiKey, prompt string) (*Content, error) {
	request := chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature:    0.7,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	var response chatResponse
	if err := g.do(ctx, http.MethodPost, "/chat/completions", apiKey, request, &response); err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, &Error{Kind: KindInvalidResponse, Provider: "openai", Message: "no choices returned"}
	}

	var content Content
	raw := strings.TrimSpace(response.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Provider: "openai", Message: "content is not JSON", Err: err}
	}
	if strings.TrimSpace(content.Body) == "" {
		return nil, &Error{Kind: KindInvalidResponse, Provider: "openai", Message: "empty body"}
	}

	return &content, nil
}

// Ping verifies apiKey by listing models
func (g *OpenAIGenerator) Ping(ctx context.Context, apiKey string) error {
	return g.do(ctx, http.MethodGet, "/models", apiKey, nil, nil)
}

func (g *OpenAIGenerator) do(ctx context.Context, method, path, apiKey string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: KindCanceled, Provider: "openai", Err: ctx.Err()}
		}
		return &Error{Kind: KindNetwork, Provider: "openai", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Provider: "openai", Err: err}
	}

	if resp.StatusCode >= 400 {
		e := &Error{Provider: "openai", StatusCode: resp.StatusCode}
		var errResp chatResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Error != nil {
			e.Message = errResp.Error.Message
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			e.Kind = KindInvalidKey
		case resp.StatusCode == http.StatusTooManyRequests:
			e.Kind = KindRateLimited
		default:
			e.Kind = KindUpstream
		}
		return e
	}

	if result != nil {
		if err := json.Unmarshal(data, result); err != nil {
			return &Error{Kind: KindInvalidResponse, Provider: "openai", Err: err}
		}
	}
	return nil
}

func kindOf(err error) Kind {
	var genErr *Error
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	return KindUpstream
}
