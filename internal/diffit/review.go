package diffit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"diffit/internal/model"
)

// ParseReviewAction maps an action name onto the review status it sets.
func ParseReviewAction(action string) (model.ReviewStatus, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "approve", "approved":
		return model.ReviewApproved, nil
	case "reject", "rejected":
		return model.ReviewRejected, nil
	}
	return "", fmt.Errorf("unknown review action %q: %w", action, ErrInvalidInput)
}

// ReviewResult is the outcome of a single review decision.
type ReviewResult struct {
	Snapshot *model.Snapshot `json:"snapshot"`
	// Baseline is set when an approval promoted the snapshot.
	Baseline *model.Baseline `json:"baseline,omitempty"`
	// Warning explains why an approval did not promote the snapshot. The
	// review itself is applied regardless.
	Warning string `json:"warning,omitempty"`
}

// ReviewSnapshot approves or rejects a changed snapshot. Decisions can be
// revised; approving promotes the comparison image to the current baseline.
// Rejecting a previously approved snapshot leaves the baseline as it is.
func (s *Service) ReviewSnapshot(ctx context.Context, id, action, reviewer string) (*ReviewResult, error) {
	status, err := ParseReviewAction(action)
	if err != nil {
		return nil, err
	}

	snap, err := s.database.SetReviewStatus(ctx, id, status, stringPtr(strings.TrimSpace(reviewer)), s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("reviewing snapshot %s: %w", id, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}

	build, err := s.getBuild(ctx, snap.BuildID)
	if err != nil {
		return nil, err
	}
	result := s.applyReview(ctx, build, snap)
	if err := s.recompute(ctx, build.ID); err != nil {
		return nil, err
	}
	return result, nil
}

// applyReview runs the side effects of a stored review decision.
func (s *Service) applyReview(ctx context.Context, build *model.Build, snap *model.Snapshot) *ReviewResult {
	result := &ReviewResult{Snapshot: snap}
	log := snapshotLogger(s.logger, snap)
	log.Info("snapshot reviewed", "review_status", snap.ReviewStatus, "reviewed_by", derefString(snap.ReviewedBy))

	s.publish(ctx, Event{
		Type:       EventSnapshotReviewed,
		ProjectID:  build.ProjectID,
		BuildID:    build.ID,
		SnapshotID: snap.ID,
		Status:     string(snap.ReviewStatus),
	})

	if snap.ReviewStatus != model.ReviewApproved {
		return result
	}
	b, err := s.promote(ctx, build.ProjectID, build.Branch, snap)
	if err != nil {
		log.Warn("approved snapshot not promoted", "error", err)
		result.Warning = fmt.Sprintf("baseline not updated: %v", err)
		return result
	}
	result.Baseline = b
	return result
}

// BatchReview applies one decision to many snapshots. Every ID is handled on
// its own: unknown or unreviewable snapshots are skipped and logged. It
// returns how many snapshots were actually updated.
func (s *Service) BatchReview(ctx context.Context, ids []string, action, reviewer string) (int, error) {
	status, err := ParseReviewAction(action)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("snapshot_ids must not be empty: %w", ErrInvalidInput)
	}

	reviewedBy := stringPtr(strings.TrimSpace(reviewer))
	builds := make(map[string]*model.Build)
	seen := make(map[string]bool, len(ids))
	updated := 0

	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		snap, err := s.database.SetReviewStatus(ctx, id, status, reviewedBy, s.clock.Now())
		switch {
		case errors.Is(err, ErrNotReviewable):
			s.logger.Info("batch review skipped snapshot", "snapshot_id", id, "reason", "not reviewable")
			continue
		case err != nil:
			s.logger.Warn("batch review failed for snapshot", "snapshot_id", id, "error", err)
			continue
		case snap == nil:
			s.logger.Info("batch review skipped snapshot", "snapshot_id", id, "reason", "not found")
			continue
		}
		updated++

		build, ok := builds[snap.BuildID]
		if !ok {
			build, err = s.getBuild(ctx, snap.BuildID)
			if err != nil {
				s.logger.Warn("batch review lost build", "snapshot_id", id, "error", err)
				continue
			}
			builds[build.ID] = build
		}
		s.applyReview(ctx, build, snap)
	}

	for buildID := range builds {
		if err := s.recompute(ctx, buildID); err != nil {
			s.logger.Warn("build counters not refreshed", "build_id", buildID, "error", err)
		}
	}

	s.logger.Info("batch review applied", "action", status, "requested", len(ids), "updated", updated)
	return updated, nil
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
