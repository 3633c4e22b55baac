package diffit

import "diffit/internal/model"

// Logger is the structured logging surface of the service. Arguments are
// alternating key/value pairs, as with log/slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// NopLogger discards everything.
type NopLogger struct{}

func NewNopLogger() *NopLogger { return &NopLogger{} }

func (*NopLogger) Debug(string, ...any) {}
func (*NopLogger) Info(string, ...any)  {}
func (*NopLogger) Warn(string, ...any)  {}
func (*NopLogger) Error(string, ...any) {}

// fieldLogger prepends a fixed set of key/value pairs to every entry.
type fieldLogger struct {
	next   Logger
	fields []any
}

func (l fieldLogger) with(args []any) []any {
	return append(append(make([]any, 0, len(l.fields)+len(args)), l.fields...), args...)
}

func (l fieldLogger) Debug(msg string, args ...any) { l.next.Debug(msg, l.with(args)...) }
func (l fieldLogger) Info(msg string, args ...any)  { l.next.Info(msg, l.with(args)...) }
func (l fieldLogger) Warn(msg string, args ...any)  { l.next.Warn(msg, l.with(args)...) }
func (l fieldLogger) Error(msg string, args ...any) { l.next.Error(msg, l.with(args)...) }

// snapshotLogger tags entries with the identity of snap.
func snapshotLogger(l Logger, snap *model.Snapshot) Logger {
	return fieldLogger{next: l, fields: []any{
		"snapshot_id", snap.ID,
		"build_id", snap.BuildID,
		"name", snap.Name,
		"browser", snap.Browser,
		"viewport", snap.Viewport,
	}}
}
