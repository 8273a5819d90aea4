// Package subscriber manages the newsletter audience.
package subscriber

import (
	"context"
	"errors"
)

// DateLayout is the format of join dates
const DateLayout = "2006-01-02"

// DefaultName is used when a subscriber is added without a name
const DefaultName = "Unknown"

// Status represents a subscriber's subscription status
type Status string

const (
	StatusSubscribed   Status = "subscribed"
	StatusUnsubscribed Status = "unsubscribed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusSubscribed || s == StatusUnsubscribed
}

var (
	// ErrEmailRequired is returned when the email is blank after trimming
	ErrEmailRequired = errors.New("email is required")
	// ErrInvalidEmail is returned when the email contains control characters
	ErrInvalidEmail = errors.New("email contains invalid characters")
	// ErrDuplicateEmail is returned when the email is already in the audience
	ErrDuplicateEmail = errors.New("subscriber with this email already exists")
	// ErrNotFound is returned when a subscriber does not exist
	ErrNotFound = errors.New("subscriber not found")
	// ErrInvalidStatus is returned for an unknown status value
	ErrInvalidStatus = errors.New("invalid subscriber status")
)

// Subscriber is a member of the audience
type Subscriber struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Status   Status `json:"status"`
	JoinDate string `json:"joinDate"`
}

// Counts summarises the audience by status
type Counts struct {
	Total        int `json:"total"`
	Subscribed   int `json:"subscribed"`
	Unsubscribed int `json:"unsubscribed"`
}

// Store persists subscribers. Implementations must keep insertion order,
// assign monotonically increasing IDs and enforce exact email uniqueness.
type Store interface {
	// Insert assigns sub.ID and stores it, or returns ErrDuplicateEmail
	Insert(ctx context.Context, sub *Subscriber) error
	// Delete removes and returns the subscriber, or nil if it did not exist
	Delete(ctx context.Context, id int64) (*Subscriber, error)
	// SetStatus updates the status of an existing subscriber
	SetStatus(ctx context.Context, id int64, status Status) (*Subscriber, error)
	// List returns all subscribers in insertion order
	List(ctx context.Context) ([]*Subscriber, error)
}

// Mirror receives audience changes, e.g. to keep a mailing-list provider in sync
type Mirror interface {
	Subscribed(ctx context.Context, sub *Subscriber) error
	Removed(ctx context.Context, sub *Subscriber) error
}
