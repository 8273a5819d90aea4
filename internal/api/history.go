package api

import (
	"net/http"
)

// handleListHistory handles GET /api/v1/history?q=term
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Archive.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, records)
}

// handleHistoryStats handles GET /api/v1/history/stats
func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Archive.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleGetNewsletter handles GET /api/v1/history/{id}
func (s *Server) handleGetNewsletter(w http.ResponseWriter, r *http.Request) {
	id, ok := s.int64Param(w, r, "id")
	if !ok {
		return
	}

	rec, err := s.deps.Archive.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, rec)
}
