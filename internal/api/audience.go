package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/foxzi/letterbox/internal/subscriber"
)

// maxImportSize limits CSV uploads
const maxImportSize = 10 << 20

// AddSubscriberRequest is the request body for POST /api/v1/audience
type AddSubscriberRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// SetStatusRequest is the request body for PUT /api/v1/audience/{id}/status
type SetStatusRequest struct {
	Status subscriber.Status `json:"status"`
}

// SubscribersResponse is the response for GET /api/v1/audience
type SubscribersResponse struct {
	Subscribers []*subscriber.Subscriber `json:"subscribers"`
	Counts      *subscriber.Counts       `json:"counts"`
}

// handleListSubscribers handles GET /api/v1/audience?q=term
func (s *Server) handleListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := s.deps.Audience.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	counts, err := s.deps.Audience.Counts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusOK, SubscribersResponse{Subscribers: subs, Counts: counts})
}

// handleAddSubscriber handles POST /api/v1/audience
func (s *Server) handleAddSubscriber(w http.ResponseWriter, r *http.Request) {
	var req AddSubscriberRequest
	if !s.decode(w, r, &req) {
		return
	}

	sub, err := s.deps.Audience.Add(r.Context(), req.Email, req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusCreated, sub)
}

// handleRemoveSubscriber handles DELETE /api/v1/audience/{id}
func (s *Server) handleRemoveSubscriber(w http.ResponseWriter, r *http.Request) {
	id, ok := s.int64Param(w, r, "id")
	if !ok {
		return
	}

	if err := s.deps.Audience.Remove(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSetSubscriberStatus handles PUT /api/v1/audience/{id}/status
func (s *Server) handleSetSubscriberStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.int64Param(w, r, "id")
	if !ok {
		return
	}
	var req SetStatusRequest
	if !s.decode(w, r, &req) {
		return
	}

	sub, err := s.deps.Audience.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusOK, sub)
}

// handleSubscriberCounts handles GET /api/v1/audience/counts
func (s *Server) handleSubscriberCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Audience.Counts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, counts)
}

// handleImportSubscribers handles POST /api/v1/audience/import with a CSV body
func (s *Server) handleImportSubscribers(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportSize)

	result, err := s.deps.Audience.ImportCSV(r.Context(), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge, "validation",
				fmt.Sprintf("import is larger than %d bytes", tooLarge.Limit))
			return
		}
		s.sendError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	s.logger.Info("audience imported", "imported", result.Imported, "skipped", result.Skipped)
	s.sendJSON(w, http.StatusOK, result)
}

// handleExportSubscribers handles GET /api/v1/audience/export
func (s *Server) handleExportSubscribers(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.deps.Audience.ExportCSV(r.Context(), &buf); err != nil {
		s.writeError(w, r, err)
		return
	}

	filename := fmt.Sprintf("audience-%s.csv", time.Now().Format("2006-01-02"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}
