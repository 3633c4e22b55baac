package diffit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"diffit/internal/model"
)

// CreateBuildRequest starts a new test run for a project.
type CreateBuildRequest struct {
	ProjectID         string `json:"project_id"`
	Branch            string `json:"branch"`
	CommitSHA         string `json:"commit_sha"`
	CommitMessage     string `json:"commit_message"`
	PullRequestNumber *int   `json:"pull_request_number"`
	// ExpectedSnapshots lets the build finalize itself once that many
	// snapshots reached a terminal status.
	ExpectedSnapshots *int `json:"expected_snapshots"`
}

// CreateBuild registers a new pending build. The branch defaults to the
// project's default branch.
func (s *Service) CreateBuild(ctx context.Context, req CreateBuildRequest) (*model.Build, error) {
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required: %w", ErrInvalidInput)
	}
	if req.ExpectedSnapshots != nil && *req.ExpectedSnapshots < 0 {
		return nil, fmt.Errorf("expected_snapshots must not be negative: %w", ErrInvalidInput)
	}
	project, err := s.getProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	branch := strings.TrimSpace(req.Branch)
	if branch == "" {
		branch = project.DefaultBranch
	}

	now := s.clock.Now()
	b := &model.Build{
		ID:                s.idgen.New(),
		ProjectID:         project.ID,
		Branch:            branch,
		CommitSHA:         stringPtr(strings.TrimSpace(req.CommitSHA)),
		CommitMessage:     stringPtr(req.CommitMessage),
		PullRequestNumber: req.PullRequestNumber,
		ExpectedSnapshots: req.ExpectedSnapshots,
		Status:            model.BuildPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.database.CreateBuild(ctx, b); err != nil {
		return nil, fmt.Errorf("creating build: %w", err)
	}

	s.logger.Info("build created", "build_id", b.ID, "project_id", b.ProjectID, "number", b.BuildNumber, "branch", b.Branch)
	return b, nil
}

// GetBuild returns a build by ID.
func (s *Service) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	return s.getBuild(ctx, id)
}

// ListBuilds returns one page of a project's builds, newest first. An empty
// branch matches every branch.
func (s *Service) ListBuilds(ctx context.Context, projectID, branch string, page model.PageParams) (*model.Page[*model.Build], error) {
	if _, err := s.getProject(ctx, projectID); err != nil {
		return nil, err
	}
	items, total, err := s.database.ListBuilds(ctx, projectID, branch, page)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	return model.NewPage(items, page, total), nil
}

// LatestBuild returns the newest build of a project on branch, which
// defaults to the project's default branch.
func (s *Service) LatestBuild(ctx context.Context, projectID, branch string) (*model.Build, error) {
	project, err := s.getProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if branch == "" {
		branch = project.DefaultBranch
	}

	b, err := s.database.LatestBuild(ctx, projectID, branch)
	if err != nil {
		return nil, fmt.Errorf("loading latest build: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("no builds on branch %s: %w", branch, ErrNotFound)
	}
	return b, nil
}

// UpdateBuildStatus sets the status of a build that has not been finalized.
// Completing a build goes through FinalizeBuild instead.
func (s *Service) UpdateBuildStatus(ctx context.Context, id string, status model.BuildStatus) (*model.Build, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown build status %q: %w", status, ErrInvalidInput)
	}
	if status == model.BuildCompleted {
		return nil, fmt.Errorf("builds are completed by finalize: %w", ErrInvalidInput)
	}

	ok, err := s.database.UpdateBuildStatus(ctx, id, status, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("updating build status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	return s.getBuild(ctx, id)
}

// RecomputeBuild rewrites the build counters from its snapshots and returns
// the refreshed build.
func (s *Service) RecomputeBuild(ctx context.Context, id string) (*model.Build, error) {
	if err := s.recompute(ctx, id); err != nil {
		return nil, err
	}
	return s.getBuild(ctx, id)
}

func (s *Service) recompute(ctx context.Context, buildID string) error {
	if err := s.database.RecomputeBuildStats(ctx, buildID, s.opts.CountUnchangedAsApproved, s.clock.Now()); err != nil {
		return fmt.Errorf("recomputing build stats: %w", err)
	}
	return nil
}

// FinalizeBuild locks the result set of a build. The build completes when
// every snapshot finished successfully and fails when any snapshot failed.
// While snapshots are still in flight it returns ErrNotReady and leaves the
// build unchanged. Finalizing a finalized build returns it unchanged.
func (s *Service) FinalizeBuild(ctx context.Context, id string) (*model.Build, error) {
	if err := s.recompute(ctx, id); err != nil {
		return nil, err
	}

	b, err := s.database.FinalizeBuild(ctx, id, decideFinalStatus, s.clock.Now())
	if err != nil {
		if errors.Is(err, ErrNotReady) {
			s.logger.Debug("build not ready", "build_id", id)
		}
		return nil, fmt.Errorf("finalizing build: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}

	s.logger.Info("build finalized", "build_id", b.ID, "status", b.Status,
		"total", b.TotalSnapshots, "changed", b.ChangedSnapshots, "approved", b.ApprovedSnapshots)
	s.publish(ctx, Event{Type: EventBuildFinalized, ProjectID: b.ProjectID, BuildID: b.ID, Status: string(b.Status)})
	return b, nil
}

// decideFinalStatus picks the status a build finalizes to.
func decideFinalStatus(c StatusCounts) (model.BuildStatus, error) {
	if n := c.InFlight(); n > 0 {
		return "", fmt.Errorf("%d snapshot(s) still in flight: %w", n, ErrNotReady)
	}
	if c[model.ProcessingFailed] > 0 {
		return model.BuildFailed, nil
	}
	return model.BuildCompleted, nil
}

// maybeAutoFinalize finalizes builds that declared how many snapshots to
// expect once all of them reached a terminal status.
func (s *Service) maybeAutoFinalize(ctx context.Context, buildID string) {
	b, err := s.database.GetBuild(ctx, buildID)
	if err != nil || b == nil || b.ExpectedSnapshots == nil || b.Status.Finalized() {
		return
	}
	counts, err := s.database.CountSnapshotsByStatus(ctx, buildID)
	if err != nil {
		s.logger.Warn("counting snapshots failed", "build_id", buildID, "error", err)
		return
	}
	if counts.InFlight() > 0 || counts.Terminal() < *b.ExpectedSnapshots {
		return
	}
	if _, err := s.FinalizeBuild(ctx, buildID); err != nil && !errors.Is(err, ErrNotReady) {
		s.logger.Warn("auto finalize failed", "build_id", buildID, "error", err)
	}
}

// DeleteBuild removes a build with its snapshots and their artifacts.
// Snapshots still being diffed finish against a missing row and their
// results are discarded.
func (s *Service) DeleteBuild(ctx context.Context, id string) error {
	b, err := s.getBuild(ctx, id)
	if err != nil {
		return err
	}

	keys, err := s.database.DeleteBuild(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting build: %w", err)
	}
	// Base images may be shared with a baseline; only snapshot-owned blobs go.
	var owned []string
	for _, key := range keys {
		if isSnapshotKey(key) {
			owned = append(owned, key)
		}
	}
	s.deleteArtifacts(ctx, owned...)

	s.logger.Info("build deleted", "build_id", id, "artifacts", len(keys))
	s.publish(ctx, Event{Type: EventBuildDeleted, ProjectID: b.ProjectID, BuildID: id})
	return nil
}
