// Package api exposes diffit.Service over HTTP as a JSON API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"diffit/internal/config"
	"diffit/internal/diffit"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	svc    *diffit.Service
	logger diffit.Logger
	cfg    config.ServerConfig
}

// NewServer creates a Server. A zero MaxUploadBytes selects the default.
func NewServer(svc *diffit.Service, logger diffit.Logger, cfg config.ServerConfig) *Server {
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = config.DefaultMaxUploadBytes
	}
	return &Server{svc: svc, logger: logger, cfg: cfg}
}

// Router builds the chi router with every route and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", s.handleListProjects)
			r.Post("/", s.handleCreateProject)
			r.Get("/slug/{slug}", s.handleGetProjectBySlug)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", s.handleGetProject)
				r.Put("/", s.handleUpdateProject)
				r.Delete("/", s.handleDeleteProject)
				r.Get("/builds", s.handleListBuilds)
				r.Get("/builds/latest", s.handleLatestBuild)
				r.Get("/baselines", s.handleListProjectBaselines)
			})
		})

		r.Route("/builds", func(r chi.Router) {
			r.Post("/", s.handleCreateBuild)
			r.Route("/{buildID}", func(r chi.Router) {
				r.Get("/", s.handleGetBuild)
				r.Delete("/", s.handleDeleteBuild)
				r.Patch("/status", s.handleUpdateBuildStatus)
				r.Post("/finalize", s.handleFinalizeBuild)
				r.Get("/snapshots", s.handleListSnapshots)
				r.Get("/snapshots/changed", s.handleListChangedSnapshots)
				r.Post("/archive", s.handleUploadArchive)
			})
		})

		r.Route("/snapshots", func(r chi.Router) {
			r.Post("/", s.handleSubmitSnapshot)
			r.Post("/batch-review", s.handleBatchReview)
			r.Route("/{snapshotID}", func(r chi.Router) {
				r.Get("/", s.handleGetSnapshot)
				r.Post("/review", s.handleReviewSnapshot)
				r.Get("/image/{kind}", s.handleSnapshotImage)
			})
		})

		r.Route("/baselines", func(r chi.Router) {
			r.Get("/", s.handleListBaselines)
			r.Post("/", s.handleCreateBaseline)
			r.Post("/from-snapshot", s.handlePromoteSnapshot)
			r.Route("/{baselineID}", func(r chi.Router) {
				r.Get("/", s.handleGetBaseline)
				r.Delete("/", s.handleDeleteBaseline)
				r.Get("/history", s.handleBaselineHistory)
				r.Get("/image", s.handleBaselineImage)
			})
		})
	})

	return r
}

// ListenAndServe serves the API on cfg.Addr until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("http server stopped")
	return nil
}

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.svc.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "degraded", Database: "disconnected"})
		return
	}
	respondJSON(w, http.StatusOK, healthResponse{Status: "ok", Database: "connected"})
}

// requestLogger logs one line per request through the application logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start).Round(time.Microsecond),
				"request_id", middleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// corsMiddleware answers preflight requests and sets the CORS headers for
// allowed origins. "*" allows every other origin without credentials.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(allowedOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			listed := origin != "" && slices.Contains(allowedOrigins, origin)
			if listed || (origin != "" && allowAll) {
				h := w.Header()
				if listed {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
					h.Set("Access-Control-Allow-Credentials", "true")
				} else {
					h.Set("Access-Control-Allow-Origin", "*")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-Id")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitBody caps the request body at the configured upload size.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
}

// parseMultipart limits and parses a multipart request body.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) error {
	s.limitBody(w, r)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return fmt.Errorf("invalid multipart form: %w", diffit.ErrInvalidInput)
	}
	return nil
}
