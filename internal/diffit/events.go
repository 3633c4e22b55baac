package diffit

import (
	"context"
	"time"
)

// Event types published by the service.
const (
	EventSnapshotProcessed = "snapshot.processed"
	EventSnapshotReviewed  = "snapshot.reviewed"
	EventBaselinePromoted  = "baseline.promoted"
	EventBuildFinalized    = "build.finalized"
	EventBuildDeleted      = "build.deleted"
)

// Event notifies subscribers about a pipeline state change.
type Event struct {
	Type       string    `json:"type"`
	ProjectID  string    `json:"project_id,omitempty"`
	BuildID    string    `json:"build_id,omitempty"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	BaselineID string    `json:"baseline_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	At         time.Time `json:"at"`
}

// EventPublisher delivers events to interested consumers (dashboards, CI
// integrations). Delivery is best-effort: publish errors never fail the
// operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

func (s *Service) publish(ctx context.Context, e Event) {
	e.At = s.clock.Now()
	if err := s.events.Publish(ctx, e); err != nil {
		s.logger.Warn("event publish failed", "type", e.Type, "error", err)
	}
}
