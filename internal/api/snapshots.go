package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"diffit/internal/diffit"
	"diffit/internal/model"
)

// snapshotImageCache is short because a retry rewrites the images of a
// snapshot under the same URL.
const snapshotImageCache = "public, max-age=60"

type submitErrorResponse struct {
	Error    string          `json:"error"`
	Snapshot *model.Snapshot `json:"snapshot"`
}

// handleSubmitSnapshot accepts a multipart form with build_id, name, browser,
// viewport, the image file and an optional base_image file.
func (s *Server) handleSubmitSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.parseMultipart(w, r); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	image, err := readFormFile(r, "image")
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	baseImage, err := readFormFile(r, "base_image")
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	snap, err := s.svc.SubmitSnapshot(r.Context(), diffit.SubmitSnapshotRequest{
		BuildID:   r.FormValue("build_id"),
		Name:      r.FormValue("name"),
		Browser:   strings.TrimSpace(r.FormValue("browser")),
		Viewport:  strings.TrimSpace(r.FormValue("viewport")),
		Image:     image,
		BaseImage: baseImage,
	})
	if err != nil {
		if snap == nil {
			s.respondServiceError(w, r, err)
			return
		}
		// The failure is recorded on the snapshot; return both.
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("snapshot failed", "snapshot_id", snap.ID, "error", err)
		}
		respondJSON(w, status, submitErrorResponse{Error: err.Error(), Snapshot: snap})
		return
	}
	respondJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.GetSnapshot(r.Context(), chi.URLParam(r, "snapshotID"))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// reviewRequest accepts "review_status" as an alias of "action".
type reviewRequest struct {
	Action       string `json:"action"`
	ReviewStatus string `json:"review_status"`
	ReviewedBy   string `json:"reviewed_by"`
}

func (req reviewRequest) action() string {
	if req.Action != "" {
		return req.Action
	}
	return req.ReviewStatus
}

func (s *Server) handleReviewSnapshot(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	result, err := s.svc.ReviewSnapshot(r.Context(), chi.URLParam(r, "snapshotID"), req.action(), req.ReviewedBy)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type batchReviewRequest struct {
	reviewRequest
	SnapshotIDs []string `json:"snapshot_ids"`
}

type batchReviewResponse struct {
	Updated int `json:"updated"`
}

func (s *Server) handleBatchReview(w http.ResponseWriter, r *http.Request) {
	s.limitBody(w, r)
	var req batchReviewRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	updated, err := s.svc.BatchReview(r.Context(), req.SnapshotIDs, req.action(), req.ReviewedBy)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, batchReviewResponse{Updated: updated})
}

func (s *Server) handleSnapshotImage(w http.ResponseWriter, r *http.Request) {
	kind := model.ImageKind(chi.URLParam(r, "kind"))
	switch kind {
	case model.ImageBase, model.ImageComparison, model.ImageDiff:
	default:
		respondError(w, http.StatusBadRequest, "image kind must be base, comparison or diff")
		return
	}
	width, err := parseWidth(r)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	data, err := s.svc.SnapshotImage(r.Context(), chi.URLParam(r, "snapshotID"), kind, width)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondPNG(w, data, snapshotImageCache)
}
