package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/letterbox/internal/archive"
	"github.com/foxzi/letterbox/internal/delivery"
	"github.com/foxzi/letterbox/internal/subscriber"
)

// recentCount is the number of newsletters shown on the dashboard
const recentCount = 3

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// LoginRequest is the request body for POST /api/v1/login
type LoginRequest struct {
	APIKey string `json:"apiKey"`
}

// DashboardResponse is the response for GET /api/v1/dashboard
type DashboardResponse struct {
	TotalNewsletters int                `json:"totalNewsletters"`
	Subscribers      int                `json:"subscribers"`
	EmailsSent       int                `json:"emailsSent"`
	OpenRate         float64            `json:"openRate"`
	Audience         *subscriber.Counts `json:"audience"`
	Stats            *archive.Stats     `json:"stats"`
	Recent           []*archive.Record  `json:"recent"`
	Outbox           *delivery.Stats    `json:"outbox,omitempty"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleLogin handles POST /api/v1/login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}

	if !s.checkKey(req.APIKey) {
		s.logger.Warn("failed login", "remote_addr", r.RemoteAddr)
		s.sendError(w, http.StatusUnauthorized, "unauthorized", "Invalid API key")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleDashboard handles GET /api/v1/dashboard
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := s.deps.Audience.Counts(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	records, err := s.deps.Archive.List(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	stats := archive.Aggregate(records)

	resp := DashboardResponse{
		TotalNewsletters: len(records),
		Subscribers:      counts.Subscribed,
		EmailsSent:       stats.TotalRecipients,
		OpenRate:         stats.AvgOpenRate,
		Audience:         counts,
		Stats:            stats,
		Recent:           recent(records, recentCount),
	}

	if s.deps.Outbox != nil {
		if outbox, err := s.deps.Outbox.Stats(ctx); err == nil {
			resp.Outbox = outbox
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// recent returns the n newest records by date, newest first
func recent(records []*archive.Record, n int) []*archive.Record {
	sorted := make([]*archive.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].SentDate != sorted[j].SentDate {
			return sorted[i].SentDate > sorted[j].SentDate
		}
		return sorted[i].ID > sorted[j].ID
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, kind, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message, Kind: kind})
}

// decode reads a JSON body into v, answering 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return false
	}
	return true
}

// int64Param parses a numeric URL parameter, answering 400 on failure
func (s *Server) int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "validation", "Invalid "+name)
		return 0, false
	}
	return id, true
}
