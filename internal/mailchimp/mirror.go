package mailchimp

import (
	"context"
	"log/slog"

	"github.com/foxzi/letterbox/internal/settings"
	"github.com/foxzi/letterbox/internal/subscriber"
)

// SettingsSource returns the current provider settings
type SettingsSource func(ctx context.Context) (*settings.Blob, error)

// Mirror keeps the configured Mailchimp audience in sync with local
// subscriber changes. It is a no-op until both the API key and the audience
// ID are set.
type Mirror struct {
	client   *Client
	settings SettingsSource
	logger   *slog.Logger
}

// NewMirror creates a mirror
func NewMirror(client *Client, src SettingsSource, logger *slog.Logger) *Mirror {
	return &Mirror{client: client, settings: src, logger: logger}
}

// Subscribed upserts sub as a subscribed list member
func (m *Mirror) Subscribed(ctx context.Context, sub *subscriber.Subscriber) error {
	blob, ok, err := m.credentials(ctx)
	if !ok {
		return err
	}
	return m.client.UpsertMember(ctx, blob.MailchimpAPIKey, blob.MailchimpAudienceID, sub.Email, sub.Name)
}

// Removed unsubscribes sub from the list
func (m *Mirror) Removed(ctx context.Context, sub *subscriber.Subscriber) error {
	blob, ok, err := m.credentials(ctx)
	if !ok {
		return err
	}
	return m.client.ArchiveMember(ctx, blob.MailchimpAPIKey, blob.MailchimpAudienceID, sub.Email)
}

// Pull returns the members of the configured list
func (m *Mirror) Pull(ctx context.Context, limit int) ([]Member, error) {
	blob, ok, err := m.credentials(ctx)
	if !ok {
		if err == nil {
			err = ErrNotConfigured
		}
		return nil, err
	}
	return m.client.ListMembers(ctx, blob.MailchimpAPIKey, blob.MailchimpAudienceID, limit)
}

func (m *Mirror) credentials(ctx context.Context) (*settings.Blob, bool, error) {
	blob, err := m.settings(ctx)
	if err != nil {
		return nil, false, err
	}
	if blob.MailchimpAPIKey == "" || blob.MailchimpAudienceID == "" {
		m.logger.Debug("mailchimp mirror skipped, list not configured")
		return nil, false, nil
	}
	return blob, true, nil
}

// Checker returns a settings.Checker that pings with the stored API key
func (c *Client) Checker() settings.Checker {
	return func(ctx context.Context, blob settings.Blob) error {
		return c.Ping(ctx, blob.MailchimpAPIKey)
	}
}
