package delivery

import (
	"time"
)

// MessageStatus represents the status of an outbox message
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusSending   MessageStatus = "sending"
	StatusDelivered MessageStatus = "delivered"
	StatusFailed    MessageStatus = "failed"
	StatusDeferred  MessageStatus = "deferred"
)

// Message is one newsletter email addressed to a single subscriber
type Message struct {
	ID           string        `json:"id"`
	NewsletterID int64         `json:"newsletter_id"`
	DraftID      string        `json:"draft_id,omitempty"`
	From         string        `json:"from"`
	To           string        `json:"to"`
	Data         []byte        `json:"data"` // Raw email data (RFC 5322)
	Status       MessageStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	NextRetryAt  time.Time     `json:"next_retry_at"`
	RetryCount   int           `json:"retry_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Stats represents outbox statistics
type Stats struct {
	Pending   int64 `json:"pending"`
	Sending   int64 `json:"sending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Deferred  int64 `json:"deferred"`
	Total     int64 `json:"total"`
}

// ListFilter represents filter options for listing messages
type ListFilter struct {
	Status       MessageStatus
	NewsletterID int64
	Limit        int
	Offset       int
}
