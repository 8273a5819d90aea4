// Package draft implements the newsletter composition workflow: a prompt is
// turned into content by a generator, edited, and then saved as a draft or
// sent to the audience through the delivery outbox.
package draft

import (
	"context"
	"errors"
	"time"

	"github.com/foxzi/letterbox/internal/archive"
	"github.com/foxzi/letterbox/internal/delivery"
	"github.com/foxzi/letterbox/internal/settings"
	"github.com/foxzi/letterbox/internal/subscriber"
)

// State of a draft workflow
type State string

const (
	StateIdle       State = "idle"
	StateGenerating State = "generating"
	StateGenerated  State = "generated"
	StateSaved      State = "saved"
	StateSent       State = "sent"
)

// Editable fields
const (
	FieldSubject = "subject"
	FieldBody    = "body"
	FieldCTA     = "cta"
)

var (
	ErrPromptRequired = errors.New("prompt is required")
	ErrBusy           = errors.New("content generation already in progress")
	ErrNotEditable    = errors.New("draft cannot be edited in its current state")
	ErrUnknownField   = errors.New("unknown draft field")
	ErrNoContent      = errors.New("draft has no content")
	ErrAlreadySent    = errors.New("newsletter has already been sent")
	ErrSenderRequired = errors.New("sender email is not configured")
	ErrNoRecipients   = errors.New("audience has no subscribed recipients")
	ErrNotFound       = errors.New("draft not found")

	ErrDeliveryDisabled = errors.New("delivery is disabled")
)

// Draft is a snapshot of a workflow
type Draft struct {
	ID               string    `json:"id"`
	Prompt           string    `json:"prompt"`
	GeneratedContent string    `json:"generatedContent"`
	SubjectLine      string    `json:"subjectLine"`
	CallToAction     string    `json:"callToAction"`
	State            State     `json:"state"`
	ArchiveID        int64     `json:"archiveId,omitempty"`
	Recipients       int       `json:"recipients,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// HasContent reports whether there is anything to save or send
func (d *Draft) HasContent() bool {
	return d.SubjectLine != "" || d.GeneratedContent != ""
}

// Archive records saved and sent newsletters
type Archive interface {
	RecordDraft(ctx context.Context, draftID, subject, preview string) (*archive.Record, error)
	UpdateDraft(ctx context.Context, id int64, subject, preview string) (*archive.Record, error)
	RecordSent(ctx context.Context, draftID, subject, preview string, recipients int) (*archive.Record, error)
}

// Audience lists the subscribers a newsletter is sent to
type Audience interface {
	Recipients(ctx context.Context) ([]*subscriber.Subscriber, error)
}

// SettingsLoader provides the sender identity
type SettingsLoader interface {
	Load(ctx context.Context) (*settings.Blob, error)
}

// Outbox accepts rendered emails for delivery
type Outbox interface {
	Enqueue(ctx context.Context, msgs ...*delivery.Message) error
}
