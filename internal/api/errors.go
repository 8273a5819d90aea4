package api

import (
	"errors"
	"net/http"

	"github.com/foxzi/letterbox/internal/archive"
	"github.com/foxzi/letterbox/internal/delivery"
	"github.com/foxzi/letterbox/internal/draft"
	"github.com/foxzi/letterbox/internal/generate"
	"github.com/foxzi/letterbox/internal/subscriber"
)

// ErrorResponse is the error response
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

var validationErrors = []error{
	subscriber.ErrEmailRequired,
	subscriber.ErrInvalidEmail,
	subscriber.ErrInvalidStatus,
	draft.ErrPromptRequired,
	draft.ErrUnknownField,
	draft.ErrNoContent,
	draft.ErrSenderRequired,
	draft.ErrNoRecipients,
	draft.ErrDeliveryDisabled,
}

var conflictErrors = []error{
	subscriber.ErrDuplicateEmail,
	draft.ErrBusy,
	draft.ErrNotEditable,
	draft.ErrAlreadySent,
	delivery.ErrNotRetryable,
}

var notFoundErrors = []error{
	subscriber.ErrNotFound,
	archive.ErrNotFound,
	draft.ErrNotFound,
	delivery.ErrMessageNotFound,
}

// classify maps a service error to an HTTP status and error kind
func classify(err error) (status int, kind, reason string) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusBadRequest, "validation", ""
		}
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return http.StatusConflict, "conflict", ""
		}
	}
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return http.StatusNotFound, "not_found", ""
		}
	}

	var genErr *generate.Error
	if errors.As(err, &genErr) {
		if genErr.Kind == generate.KindNotConfigured {
			return http.StatusBadRequest, "validation", string(genErr.Kind)
		}
		return http.StatusBadGateway, "upstream", string(genErr.Kind)
	}

	return http.StatusInternalServerError, "internal", ""
}

// writeError sends err with the status of its kind. Internal errors are
// logged and their details hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind, reason := classify(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		message = "Internal server error"
	}

	s.sendJSON(w, status, ErrorResponse{Error: message, Kind: kind, Reason: reason})
}
