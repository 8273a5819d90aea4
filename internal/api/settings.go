package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/letterbox/internal/settings"
)

// handleGetSettings handles GET /api/v1/settings. API keys are masked
// when ?masked=true.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	blob, err := s.deps.Settings.Load(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("masked") == "true" {
		masked := blob.Masked()
		blob = &masked
	}
	s.sendJSON(w, http.StatusOK, blob)
}

// handleSaveSettings handles PUT /api/v1/settings. All fields are written.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var blob settings.Blob
	if !s.decode(w, r, &blob) {
		return
	}

	if err := s.deps.Settings.Save(r.Context(), &blob); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.sendJSON(w, http.StatusOK, blob.Masked())
}

// handleTestConnection handles POST /api/v1/settings/test/{service}
func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Settings.TestConnection(r.Context(), chi.URLParam(r, "service"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, result)
}
