package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"diffit/internal/diffit"
	"diffit/internal/fs"
	"diffit/internal/imaging"
	"diffit/internal/model"
	"diffit/internal/storage"
)

// pageResponse is the JSON shape of every paginated list.
type pageResponse[T any] struct {
	Data       []T `json:"data"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func newPageResponse[T any](p *model.Page[T]) pageResponse[T] {
	data := p.Items
	if data == nil {
		data = []T{}
	}
	return pageResponse[T]{
		Data:       data,
		Page:       p.Page,
		PerPage:    p.PerPage,
		Total:      p.Total,
		TotalPages: p.TotalPages,
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, diffit.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, diffit.ErrInvalidInput),
		errors.Is(err, imaging.ErrDecode),
		errors.Is(err, fs.ErrUnsafePath):
		return http.StatusBadRequest
	case errors.Is(err, diffit.ErrConflict),
		errors.Is(err, diffit.ErrBuildFinalized),
		errors.Is(err, diffit.ErrNotReady),
		errors.Is(err, diffit.ErrNotReviewable),
		errors.Is(err, diffit.ErrNotPromotable),
		errors.Is(err, diffit.ErrPromotionConflict):
		return http.StatusConflict
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, storage.ErrLocked):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respondServiceError writes err with its mapped status. Internal errors are
// logged and their details are not sent to the client.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, status, "internal server error")
		return
	}
	respondError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("invalid request body: %w", diffit.ErrInvalidInput)
	}
	return nil
}

func parsePagination(r *http.Request) model.PageParams {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	return model.NewPageParams(page, perPage)
}

func parseBool(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", name, diffit.ErrInvalidInput)
	}
	return b, nil
}

func parseWidth(r *http.Request) (int, error) {
	v := r.URL.Query().Get("width")
	if v == "" {
		return 0, nil
	}
	width, err := strconv.Atoi(v)
	if err != nil || width < 1 {
		return 0, fmt.Errorf("width must be a positive integer: %w", diffit.ErrInvalidInput)
	}
	return width, nil
}

// readFormFile returns the content of an uploaded file, or nil when the
// field is absent.
func readFormFile(r *http.Request, field string) ([]byte, error) {
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", field, diffit.ErrInvalidInput)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", field, err)
	}
	return data, nil
}

func respondPNG(w http.ResponseWriter, data []byte, cacheControl string) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
