package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"diffit/internal/diffit"
)

// tabHandler is a custom slog.Handler that formats log records as:
//
//	<timestamp>\t<level>\t<instance>\t<message>\t<key=value ...>
type tabHandler struct {
	mu       *sync.Mutex
	w        io.Writer
	instance string
	level    slog.Leveler
	attrs    []slog.Attr
}

func newTabHandler(w io.Writer, instance string, level slog.Leveler) *tabHandler {
	return &tabHandler{mu: &sync.Mutex{}, w: w, instance: instance, level: level}
}

func (h *tabHandler) Enabled(_ context.Context, l slog.Level) bool {
	if h.level == nil {
		return true
	}
	return l >= h.level.Level()
}

func (h *tabHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")

	// Lines from concurrent requests must not interleave.
	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := fmt.Fprintf(h.w, "%s\t%s\t%s\t%s", ts, r.Level.String(), h.instance, r.Message)
	if err != nil {
		return err
	}

	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})

	_, err = fmt.Fprintln(h.w)
	return err
}

func (h *tabHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tabHandler{
		mu:       h.mu,
		w:        h.w,
		instance: h.instance,
		level:    h.level,
		attrs:    append(append([]slog.Attr{}, h.attrs...), attrs...),
	}
}

func (h *tabHandler) WithGroup(string) slog.Handler { return h }

// newLogger creates a structured logger that writes to both logDir/diffit.log
// and stderr. It returns the slog.Logger and the open log file for cleanup.
func newLogger(logDir, instance string, level slog.Level) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "diffit.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	w := io.MultiWriter(f, os.Stderr)
	return slog.New(newTabHandler(w, instance, level)), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the diffit.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

var _ diffit.Logger = (*slogAdapter)(nil)

// NewLogger adapts l into a diffit.Logger.
func NewLogger(l *slog.Logger) diffit.Logger {
	return &slogAdapter{l: l}
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
