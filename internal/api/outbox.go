package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/letterbox/internal/delivery"
)

// MessageSummary is an outbox message without its body
type MessageSummary struct {
	ID           string                 `json:"id"`
	NewsletterID int64                  `json:"newsletter_id"`
	To           string                 `json:"to"`
	Status       delivery.MessageStatus `json:"status"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	RetryCount   int                    `json:"retry_count"`
	NextRetryAt  *time.Time             `json:"next_retry_at,omitempty"`
	LastError    string                 `json:"last_error,omitempty"`
}

func summarize(msg *delivery.Message) *MessageSummary {
	sum := &MessageSummary{
		ID:           msg.ID,
		NewsletterID: msg.NewsletterID,
		To:           msg.To,
		Status:       msg.Status,
		CreatedAt:    msg.CreatedAt,
		UpdatedAt:    msg.UpdatedAt,
		RetryCount:   msg.RetryCount,
		LastError:    msg.LastError,
	}
	if msg.Status == delivery.StatusDeferred {
		next := msg.NextRetryAt
		sum.NextRetryAt = &next
	}
	return sum
}

// handleListOutbox handles GET /api/v1/outbox?status=&newsletter_id=&limit=&offset=
func (s *Server) handleListOutbox(w http.ResponseWriter, r *http.Request) {
	if !s.outboxEnabled(w) {
		return
	}

	q := r.URL.Query()
	filter := delivery.ListFilter{
		Status: delivery.MessageStatus(q.Get("status")),
		Limit:  100,
	}
	if v, err := strconv.ParseInt(q.Get("newsletter_id"), 10, 64); err == nil {
		filter.NewsletterID = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 && v <= 1000 {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filter.Offset = v
	}

	msgs, err := s.deps.Outbox.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	summaries := make([]*MessageSummary, 0, len(msgs))
	for _, msg := range msgs {
		summaries = append(summaries, summarize(msg))
	}
	s.sendJSON(w, http.StatusOK, summaries)
}

// handleOutboxStats handles GET /api/v1/outbox/stats
func (s *Server) handleOutboxStats(w http.ResponseWriter, r *http.Request) {
	if !s.outboxEnabled(w) {
		return
	}

	stats, err := s.deps.Outbox.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleGetOutboxMessage handles GET /api/v1/outbox/{id}
func (s *Server) handleGetOutboxMessage(w http.ResponseWriter, r *http.Request) {
	if !s.outboxEnabled(w) {
		return
	}

	msg, err := s.deps.Outbox.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msg == nil {
		s.sendError(w, http.StatusNotFound, "not_found", "Message not found")
		return
	}
	s.sendJSON(w, http.StatusOK, summarize(msg))
}

// handleRetryOutboxMessage handles POST /api/v1/outbox/{id}/retry
func (s *Server) handleRetryOutboxMessage(w http.ResponseWriter, r *http.Request) {
	if !s.outboxEnabled(w) {
		return
	}

	retrier, ok := s.deps.Outbox.(interface {
		Retry(ctx context.Context, id string) error
	})
	if !ok {
		s.sendError(w, http.StatusNotImplemented, "unsupported", "Retry not supported")
		return
	}

	id := chi.URLParam(r, "id")
	if err := retrier.Retry(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("outbox message retried", "id", id)
	s.sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Message moved to pending queue",
	})
}

func (s *Server) outboxEnabled(w http.ResponseWriter) bool {
	if s.deps.Outbox == nil {
		s.sendError(w, http.StatusNotFound, "not_found", "Delivery is disabled")
		return false
	}
	return true
}
