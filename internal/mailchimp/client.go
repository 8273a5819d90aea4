// Package mailchimp is a minimal Mailchimp Marketing API client used to test
// credentials and keep the configured audience list in sync.
package mailchimp

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformedKey is returned for API keys without a data-center suffix
	ErrMalformedKey = errors.New("mailchimp API key must end with a data center, e.g. -us6")
	// ErrNotConfigured is returned when the API key or audience ID is not set
	ErrNotConfigured = errors.New("mailchimp API key and audience ID are required")
)

// APIError is an error response from the Mailchimp API
type APIError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("mailchimp: %d %s: %s", e.StatusCode, e.Title, e.Detail)
	}
	return fmt.Sprintf("mailchimp: %d %s", e.StatusCode, e.Title)
}

// InvalidKey reports whether the API rejected the credentials
func (e *APIError) InvalidKey() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

type keyError struct{ err error }

func (e keyError) Error() string { return e.err.Error() }

func (e keyError) Unwrap() error { return e.err }

func (e keyError) InvalidKey() bool { return true }

// Member is an audience list member
type Member struct {
	ID           string            `json:"id,omitempty"`
	EmailAddress string            `json:"email_address"`
	Status       string            `json:"status,omitempty"`
	StatusIfNew  string            `json:"status_if_new,omitempty"`
	MergeFields  map[string]string `json:"merge_fields,omitempty"`
	FullName     string            `json:"full_name,omitempty"`
}

// Client calls the Mailchimp Marketing API v3
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. baseURL overrides the data-center URL derived
// from the API key and is used for testing.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Ping checks that apiKey is accepted
func (c *Client) Ping(ctx context.Context, apiKey string) error {
	return c.do(ctx, apiKey, http.MethodGet, "/ping", nil, nil)
}

// UpsertMember adds or updates a subscribed member of listID
func (c *Client) UpsertMember(ctx context.Context, apiKey, listID, email, name string) error {
	member := Member{
		EmailAddress: email,
		Status:       "subscribed",
		StatusIfNew:  "subscribed",
	}
	if name != "" {
		member.MergeFields = map[string]string{"FNAME": name}
	}
	return c.do(ctx, apiKey, http.MethodPut, memberPath(listID, email), member, nil)
}

// ArchiveMember marks a member of listID as unsubscribed
func (c *Client) ArchiveMember(ctx context.Context, apiKey, listID, email string) error {
	err := c.do(ctx, apiKey, http.MethodPatch, memberPath(listID, email), Member{
		EmailAddress: email,
		Status:       "unsubscribed",
	}, nil)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// ListMembers returns up to count members of listID
func (c *Client) ListMembers(ctx context.Context, apiKey, listID string, count int) ([]Member, error) {
	if count <= 0 {
		count = 1000
	}
	q := url.Values{}
	q.Set("count", strconv.Itoa(count))
	q.Set("fields", "members.id,members.email_address,members.status,members.full_name,members.merge_fields")

	var resp struct {
		Members []Member `json:"members"`
	}
	path := "/lists/" + url.PathEscape(listID) + "/members?" + q.Encode()
	if err := c.do(ctx, apiKey, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

// SubscriberHash is the member identifier Mailchimp derives from an address
func SubscriberHash(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}

func memberPath(listID, email string) string {
	return "/lists/" + url.PathEscape(listID) + "/members/" + SubscriberHash(email)
}

// endpoint returns the API root for apiKey
func (c *Client) endpoint(apiKey string) (string, error) {
	if c.baseURL != "" {
		return c.baseURL + "/3.0", nil
	}
	i := strings.LastIndex(apiKey, "-")
	if i < 0 || i == len(apiKey)-1 {
		return "", keyError{ErrMalformedKey}
	}
	return "https://" + apiKey[i+1:] + ".api.mailchimp.com/3.0", nil
}

func (c *Client) do(ctx context.Context, apiKey, method, path string, body, result any) error {
	base, err := c.endpoint(apiKey)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth("letterbox", apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailchimp request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read mailchimp response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Title == "" {
			apiErr.Title = http.StatusText(resp.StatusCode)
		}
		apiErr.StatusCode = resp.StatusCode
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("failed to decode mailchimp response: %w", err)
		}
	}

	c.logger.Debug("mailchimp request", "method", method, "path", path, "status", resp.StatusCode)
	return nil
}
