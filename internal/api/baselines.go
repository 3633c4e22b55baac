package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"diffit/internal/diffit"
)

// baselineImageCache is long-lived: a baseline image never changes, a new
// version gets a new ID.
const baselineImageCache = "public, max-age=31536000, immutable"

func (s *Server) handleListBaselines(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		respondError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	s.listBaselines(w, r, projectID)
}

func (s *Server) listBaselines(w http.ResponseWriter, r *http.Request, projectID string) {
	includeRetired, err := parseBool(r, "include_retired")
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	page, err := s.svc.ListBaselines(r.Context(), projectID, includeRetired, parsePagination(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newPageResponse(page))
}

// handleCreateBaseline accepts a multipart form with project_id, name,
// branch, browser, viewport and the image file.
func (s *Server) handleCreateBaseline(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	image, err := readFormFile(r, "image")
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if image == nil {
		respondError(w, http.StatusBadRequest, "image is required")
		return
	}

	b, err := s.svc.CreateBaseline(r.Context(), diffit.CreateBaselineRequest{
		ProjectID: r.FormValue("project_id"),
		Name:      r.FormValue("name"),
		Branch:    strings.TrimSpace(r.FormValue("branch")),
		Browser:   strings.TrimSpace(r.FormValue("browser")),
		Viewport:  strings.TrimSpace(r.FormValue("viewport")),
		Image:     image,
	})
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

type promoteRequest struct {
	SnapshotID string `json:"snapshot_id"`
}

func (s *Server) handlePromoteSnapshot(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req promoteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if req.SnapshotID == "" {
		respondError(w, http.StatusBadRequest, "snapshot_id is required")
		return
	}
	b, err := s.svc.PromoteSnapshot(r.Context(), req.SnapshotID)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBaseline(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.GetBaseline(r.Context(), chi.URLParam(r, "baselineID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBaseline(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteBaseline(r.Context(), chi.URLParam(r, "baselineID")); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBaselineHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.svc.BaselineHistory(r.Context(), chi.URLParam(r, "baselineID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": history})
}

func (s *Server) handleBaselineImage(w http.ResponseWriter, r *http.Request) {
	width, err := parseWidth(r)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	data, err := s.svc.BaselineImage(r.Context(), chi.URLParam(r, "baselineID"), width)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondPNG(w, data, baselineImageCache)
}
