package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"diffit/internal/diffit"
)

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	page, err := s.svc.ListProjects(r.Context(), parsePagination(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newPageResponse(page))
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req diffit.CreateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	p, err := s.svc.CreateProject(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetProjectBySlug(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProjectBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req diffit.UpdateProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	p, err := s.svc.UpdateProject(r.Context(), chi.URLParam(r, "projectID"), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteProject(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListProjectBaselines(w http.ResponseWriter, r *http.Request) {
	s.listBaselines(w, r, chi.URLParam(r, "projectID"))
}
