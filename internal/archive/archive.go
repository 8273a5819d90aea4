// Package archive keeps the history of sent and draft newsletters.
package archive

import (
	"context"
	"errors"
)

// Status of an archived newsletter
type Status string

const (
	StatusSent  Status = "sent"
	StatusDraft Status = "draft"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("newsletter not found")
	// ErrNotDraft is returned when updating a record that was already sent
	ErrNotDraft = errors.New("newsletter is not a draft")
)

// Record is an archived newsletter with its engagement metrics.
// Rates are percentages.
type Record struct {
	ID         int64   `json:"id"`
	Subject    string  `json:"subject"`
	SentDate   string  `json:"sentDate"`
	Status     Status  `json:"status"`
	Recipients int     `json:"recipients"`
	Opens      int     `json:"opens"`
	Clicks     int     `json:"clicks"`
	OpenRate   float64 `json:"openRate"`
	ClickRate  float64 `json:"clickRate"`
	Preview    string  `json:"preview"`
	DraftID    string  `json:"draftId,omitempty"`
}

// Stats aggregates sent newsletters
type Stats struct {
	TotalSent       int     `json:"totalSent"`
	TotalRecipients int     `json:"totalRecipients"`
	AvgOpenRate     float64 `json:"avgOpenRate"`
	AvgClickRate    float64 `json:"avgClickRate"`
}

// Store persists archive records in insertion order
type Store interface {
	Append(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id int64) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	// Update replaces an existing record, or returns ErrNotFound
	Update(ctx context.Context, rec *Record) error
}
