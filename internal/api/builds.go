package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"diffit/internal/diffit"
	"diffit/internal/fs"
	"diffit/internal/model"
)

func (s *Server) handleCreateBuild(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req diffit.CreateBuildRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	b, err := s.svc.CreateBuild(r.Context(), req)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.GetBuild(r.Context(), chi.URLParam(r, "buildID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	page, err := s.svc.ListBuilds(r.Context(), chi.URLParam(r, "projectID"), r.URL.Query().Get("branch"), parsePagination(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newPageResponse(page))
}

func (s *Server) handleLatestBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.LatestBuild(r.Context(), chi.URLParam(r, "projectID"), r.URL.Query().Get("branch"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBuild(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteBuild(r.Context(), chi.URLParam(r, "buildID")); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateBuildStatusRequest struct {
	Status model.BuildStatus `json:"status"`
}

func (s *Server) handleUpdateBuildStatus(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req updateBuildStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	b, err := s.svc.UpdateBuildStatus(r.Context(), chi.URLParam(r, "buildID"), req.Status)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleFinalizeBuild(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.FinalizeBuild(r.Context(), chi.URLParam(r, "buildID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := diffit.SnapshotFilter{
		Status:       model.ProcessingStatus(q.Get("status")),
		ReviewStatus: model.ReviewStatus(q.Get("review_status")),
	}
	s.listSnapshots(w, r, filter)
}

func (s *Server) handleListChangedSnapshots(w http.ResponseWriter, r *http.Request) {
	filter := diffit.SnapshotFilter{
		ReviewStatus: model.ReviewStatus(r.URL.Query().Get("review_status")),
		ChangedOnly:  true,
	}
	s.listSnapshots(w, r, filter)
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request, filter diffit.SnapshotFilter) {
	page, err := s.svc.ListSnapshots(r.Context(), chi.URLParam(r, "buildID"), filter, parsePagination(r))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newPageResponse(page))
}

// handleUploadArchive accepts a zip of screenshots in the "file" field and
// submits every image in it to the build.
func (s *Server) handleUploadArchive(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "buildID")
	if _, err := s.svc.GetBuild(r.Context(), buildID); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if err := s.parseMultipart(w, r); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	data, err := readFormFile(r, "file")
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if data == nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}

	entries, err := fs.ReadArchive(bytes.NewReader(data), int64(len(data)), fs.DefaultIgnoreMatcher(), s.cfg.MaxUploadBytes)
	if err != nil {
		if errorStatus(err) == http.StatusInternalServerError {
			err = fmt.Errorf("%w: %w", diffit.ErrInvalidInput, err)
		}
		s.respondServiceError(w, r, err)
		return
	}
	if len(entries) == 0 {
		respondError(w, http.StatusBadRequest, "archive contains no screenshots")
		return
	}

	reqs := make([]diffit.SubmitSnapshotRequest, len(entries))
	for i, e := range entries {
		reqs[i] = diffit.SubmitSnapshotRequest{
			BuildID:  buildID,
			Name:     e.Name,
			Browser:  e.Browser,
			Viewport: e.Viewport,
			Image:    e.Data,
		}
	}
	s.logger.Info("archive uploaded", "build_id", buildID, "screenshots", len(reqs))
	respondJSON(w, http.StatusCreated, s.svc.SubmitBatch(r.Context(), reqs))
}
