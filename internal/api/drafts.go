package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/letterbox/internal/draft"
)

// GenerateRequest is the request body for POST /api/v1/drafts/{id}/generate
// and, optionally, POST /api/v1/drafts
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// EditRequest is the request body for PATCH /api/v1/drafts/{id}
type EditRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// handleListDrafts handles GET /api/v1/drafts
func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.deps.Drafts.List())
}

// handleCreateDraft handles POST /api/v1/drafts. A prompt in the body
// starts generation immediately.
func (s *Server) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}

	wf := s.deps.Drafts.Create()
	if req.Prompt == "" {
		s.sendJSON(w, http.StatusCreated, wf.Snapshot())
		return
	}

	d, err := wf.Generate(r.Context(), req.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, d)
}

// handleGetDraft handles GET /api/v1/drafts/{id}
func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.workflow(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, wf.Snapshot())
}

// handleDeleteDraft handles DELETE /api/v1/drafts/{id}
func (s *Server) handleDeleteDraft(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Drafts.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGenerateDraft handles POST /api/v1/drafts/{id}/generate
func (s *Server) handleGenerateDraft(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.workflow(w, r)
	if !ok {
		return
	}
	var req GenerateRequest
	if !s.decode(w, r, &req) {
		return
	}

	d, err := wf.Generate(r.Context(), req.Prompt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, d)
}

// handleEditDraft handles PATCH /api/v1/drafts/{id}
func (s *Server) handleEditDraft(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.workflow(w, r)
	if !ok {
		return
	}
	var req EditRequest
	if !s.decode(w, r, &req) {
		return
	}

	d, err := wf.Edit(req.Field, req.Value)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, d)
}

// handleSaveDraft handles POST /api/v1/drafts/{id}/save
func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.workflow(w, r)
	if !ok {
		return
	}

	d, err := wf.SaveDraft(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, d)
}

// handleSendDraft handles POST /api/v1/drafts/{id}/send
func (s *Server) handleSendDraft(w http.ResponseWriter, r *http.Request) {
	wf, ok := s.workflow(w, r)
	if !ok {
		return
	}

	d, err := wf.Send(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusAccepted, d)
}

func (s *Server) workflow(w http.ResponseWriter, r *http.Request) (*draft.Workflow, bool) {
	wf, err := s.deps.Drafts.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return wf, true
}
