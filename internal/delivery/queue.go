// Package delivery queues newsletter emails and delivers them through an
// SMTP relay with retries.
package delivery

import (
	"context"
)

// Queue defines the outbox operations
type Queue interface {
	// Enqueue atomically adds all messages to the outbox
	Enqueue(ctx context.Context, msgs ...*Message) error

	// Dequeue claims the next message for processing
	// Returns nil, nil if nothing is ready
	Dequeue(ctx context.Context) (*Message, error)

	// Update stores the message status
	Update(ctx context.Context, msg *Message) error

	// Get retrieves a message by ID, nil if absent
	Get(ctx context.Context, id string) (*Message, error)

	// List returns messages with optional filtering
	List(ctx context.Context, filter ListFilter) ([]*Message, error)

	// Stats returns outbox statistics
	Stats(ctx context.Context) (*Stats, error)
}
