package diffit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"diffit/internal/imaging"
	"diffit/internal/model"
)

// CreateBaselineRequest uploads a reference image directly, bypassing review.
type CreateBaselineRequest struct {
	ProjectID string
	Name      string
	Branch    string
	Browser   string
	Viewport  string
	Image     []byte
}

// ResolveBaseline returns the current baseline for an exact tuple, or
// ErrNoBaseline when the tuple has none.
func (s *Service) ResolveBaseline(ctx context.Context, tuple model.Tuple) (*model.Baseline, error) {
	head, err := s.database.GetBaselineHead(ctx, tuple)
	if err != nil {
		return nil, fmt.Errorf("loading baseline head: %w", err)
	}
	if head == nil {
		return nil, ErrNoBaseline
	}
	b, err := s.database.GetBaseline(ctx, head.CurrentBaselineID)
	if err != nil {
		return nil, fmt.Errorf("loading baseline: %w", err)
	}
	if b == nil {
		return nil, ErrNoBaseline
	}
	return b, nil
}

// resolveForBuild walks from the build's branch to the project's default
// branch and returns the first current baseline found.
func (s *Service) resolveForBuild(ctx context.Context, project *model.Project, build *model.Build, snap *model.Snapshot) (*model.Baseline, error) {
	branches := []string{build.Branch}
	if project.DefaultBranch != build.Branch {
		branches = append(branches, project.DefaultBranch)
	}
	for _, branch := range branches {
		b, err := s.ResolveBaseline(ctx, snap.Tuple(project.ID, branch))
		if errors.Is(err, ErrNoBaseline) {
			continue
		}
		return b, err
	}
	return nil, ErrNoBaseline
}

// PromoteSnapshot turns the comparison image of an approved, completed
// snapshot into the current baseline for the snapshot's tuple on its build's
// branch. The previous baseline is retired and kept for history.
func (s *Service) PromoteSnapshot(ctx context.Context, snapshotID string) (*model.Baseline, error) {
	snap, err := s.getSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, err
	}
	if snap.Status != model.ProcessingCompleted || snap.ReviewStatus != model.ReviewApproved {
		return nil, fmt.Errorf("snapshot %s is %s/%s, want completed/approved: %w",
			snap.ID, snap.Status, snap.ReviewStatus, ErrNotPromotable)
	}
	build, err := s.getBuild(ctx, snap.BuildID)
	if err != nil {
		return nil, err
	}
	return s.promote(ctx, build.ProjectID, build.Branch, snap)
}

// promote copies the snapshot's comparison image into a new baseline and
// swaps it in. Approving the same snapshot twice returns the baseline it
// already produced.
func (s *Service) promote(ctx context.Context, projectID, branch string, snap *model.Snapshot) (*model.Baseline, error) {
	if !snap.HasImage(model.ImageComparison) {
		return nil, fmt.Errorf("snapshot %s has no comparison image: %w", snap.ID, ErrNotPromotable)
	}

	tuple := snap.Tuple(projectID, branch)
	head, err := s.database.GetBaselineHead(ctx, tuple)
	if err != nil {
		return nil, fmt.Errorf("loading baseline head: %w", err)
	}
	if head != nil {
		current, err := s.database.GetBaseline(ctx, head.CurrentBaselineID)
		if err != nil {
			return nil, fmt.Errorf("loading current baseline: %w", err)
		}
		if current != nil && current.SourceSnapshotID != nil && *current.SourceSnapshotID == snap.ID {
			return current, nil
		}
	}

	data, err := s.getArtifact(ctx, snap.ImageKey(model.ImageComparison))
	if err != nil {
		return nil, err
	}

	b := &model.Baseline{
		ID:               s.idgen.New(),
		ProjectID:        projectID,
		Name:             snap.Name,
		Branch:           branch,
		Browser:          snap.Browser,
		Viewport:         snap.Viewport,
		Width:            snap.Width,
		Height:           snap.Height,
		SourceSnapshotID: &snap.ID,
	}
	if err := s.swapBaseline(ctx, b, head, data); err != nil {
		return nil, err
	}
	return b, nil
}

// CreateBaseline stores an uploaded image as the current baseline of its
// tuple. The branch defaults to the project's default branch.
func (s *Service) CreateBaseline(ctx context.Context, req CreateBaselineRequest) (*model.Baseline, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("baseline name is required: %w", ErrInvalidInput)
	}
	project, err := s.getProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(req.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	data, err := imaging.Encode(img)
	if err != nil {
		return nil, err
	}

	branch := req.Branch
	if branch == "" {
		branch = project.DefaultBranch
	}
	b := &model.Baseline{
		ID:        s.idgen.New(),
		ProjectID: project.ID,
		Name:      strings.TrimSpace(req.Name),
		Branch:    branch,
		Browser:   req.Browser,
		Viewport:  req.Viewport,
		Width:     img.Width,
		Height:    img.Height,
	}
	head, err := s.database.GetBaselineHead(ctx, b.Tuple())
	if err != nil {
		return nil, fmt.Errorf("loading baseline head: %w", err)
	}
	if err := s.swapBaseline(ctx, b, head, data); err != nil {
		return nil, err
	}
	return b, nil
}

// swapBaseline writes the image of b and makes b current, advancing the head
// from the version observed in head. The image is removed again when the
// swap is lost.
func (s *Service) swapBaseline(ctx context.Context, b *model.Baseline, head *model.BaselineHead, data []byte) error {
	b.ImageKey = BaselineImageKey(b.ProjectID, b.ID)
	b.Version = 1
	if head != nil {
		b.Version = head.Version + 1
	}
	b.IsCurrent = true
	b.CreatedAt = s.clock.Now()

	if err := s.putArtifact(ctx, b.ImageKey, data); err != nil {
		return err
	}

	if err := s.database.PromoteBaseline(ctx, b, head); err != nil {
		s.deleteArtifacts(ctx, b.ImageKey)
		if errors.Is(err, ErrPromotionConflict) {
			s.logger.Warn("baseline promotion lost race", "project_id", b.ProjectID, "name", b.Name,
				"branch", b.Branch, "browser", b.Browser, "viewport", b.Viewport)
		}
		return fmt.Errorf("promoting baseline: %w", err)
	}

	s.logger.Info("baseline promoted", "baseline_id", b.ID, "name", b.Name, "branch", b.Branch, "version", b.Version)
	s.publish(ctx, Event{Type: EventBaselinePromoted, ProjectID: b.ProjectID, BaselineID: b.ID})
	return nil
}

// GetBaseline returns a baseline by ID.
func (s *Service) GetBaseline(ctx context.Context, id string) (*model.Baseline, error) {
	return s.getBaseline(ctx, id)
}

// ListBaselines returns one page of a project's baselines. Retired versions
// are only included when includeRetired is set.
func (s *Service) ListBaselines(ctx context.Context, projectID string, includeRetired bool, page model.PageParams) (*model.Page[*model.Baseline], error) {
	if _, err := s.getProject(ctx, projectID); err != nil {
		return nil, err
	}
	items, total, err := s.database.ListBaselines(ctx, projectID, includeRetired, page)
	if err != nil {
		return nil, fmt.Errorf("listing baselines: %w", err)
	}
	return model.NewPage(items, page, total), nil
}

// BaselineHistory returns every version of the tuple the given baseline
// belongs to, newest first.
func (s *Service) BaselineHistory(ctx context.Context, id string) ([]*model.Baseline, error) {
	b, err := s.getBaseline(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := s.database.ListBaselineHistory(ctx, b.Tuple())
	if err != nil {
		return nil, fmt.Errorf("listing baseline history: %w", err)
	}
	return history, nil
}

// DeleteBaseline removes a baseline and its image. When it was current the
// tuple is left without a baseline and the next snapshot bootstraps a new one.
func (s *Service) DeleteBaseline(ctx context.Context, id string) error {
	b, err := s.getBaseline(ctx, id)
	if err != nil {
		return err
	}
	ok, err := s.database.DeleteBaseline(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting baseline: %w", err)
	}
	if !ok {
		return fmt.Errorf("baseline %s: %w", id, ErrNotFound)
	}
	s.deleteArtifacts(ctx, b.ImageKey)

	s.logger.Info("baseline deleted", "baseline_id", id, "current", b.IsCurrent)
	return nil
}
