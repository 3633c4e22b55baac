package diffit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"diffit/internal/imaging"
	"diffit/internal/model"
	"diffit/internal/pixeldiff"
)

// SubmitSnapshotRequest carries one captured screenshot into a build.
type SubmitSnapshotRequest struct {
	BuildID  string
	Name     string
	Browser  string
	Viewport string
	// Image is the encoded comparison screenshot.
	Image []byte
	// BaseImage optionally replaces the resolved baseline as the reference.
	BaseImage []byte
}

func (r *SubmitSnapshotRequest) validate() error {
	if r.BuildID == "" {
		return fmt.Errorf("build_id is required: %w", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("snapshot name is required: %w", ErrInvalidInput)
	}
	if len(r.Image) == 0 {
		return fmt.Errorf("image is required: %w", ErrInvalidInput)
	}
	return nil
}

// SubmitSnapshot registers a screenshot in its build and runs it through the
// diff pipeline before returning. Resubmitting a snapshot that already
// finished is a retry and starts it over.
//
// Decode and storage failures are recorded on the snapshot, which is
// returned together with the error. A dimension mismatch is a regular
// failed result and is not reported as an error.
func (s *Service) SubmitSnapshot(ctx context.Context, req SubmitSnapshotRequest) (*model.Snapshot, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	build, err := s.getBuild(ctx, req.BuildID)
	if err != nil {
		return nil, err
	}
	if build.Status.Finalized() {
		return nil, fmt.Errorf("build %s is %s: %w", build.ID, build.Status, ErrBuildFinalized)
	}
	project, err := s.getProject(ctx, build.ProjectID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	id := s.idgen.New()
	snap, err := s.database.RegisterSnapshot(ctx, &model.Snapshot{
		ID:           id,
		BuildID:      build.ID,
		Name:         strings.TrimSpace(req.Name),
		Browser:      req.Browser,
		Viewport:     req.Viewport,
		Status:       model.ProcessingPending,
		ReviewStatus: model.ReviewUnreviewed,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("registering snapshot: %w", err)
	}
	if err := s.recompute(ctx, build.ID); err != nil {
		return nil, err
	}

	// Once registered the snapshot must reach a terminal status even when
	// the client goes away.
	ctx = context.WithoutCancel(ctx)
	return s.process(ctx, project, build, snap, req, snap.ID != id)
}

// process diffs a registered snapshot and records the outcome.
func (s *Service) process(ctx context.Context, project *model.Project, build *model.Build, snap *model.Snapshot, req SubmitSnapshotRequest, retry bool) (*model.Snapshot, error) {
	log := snapshotLogger(s.logger, snap)

	if retry {
		log.Info("retrying snapshot")
		s.deleteArtifacts(ctx,
			SnapshotImageKey(project.ID, snap.ID, model.ImageBase),
			SnapshotImageKey(project.ID, snap.ID, model.ImageComparison),
			SnapshotImageKey(project.ID, snap.ID, model.ImageDiff),
		)
	}

	ok, err := s.database.SetSnapshotStatus(ctx, snap.ID, model.ProcessingProcessing, s.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("updating snapshot status: %w", err)
	}
	if !ok {
		log.Warn("snapshot deleted before processing")
		return snap, nil
	}
	snap.Status = model.ProcessingProcessing

	cmp, err := imaging.Decode(req.Image)
	if err != nil {
		return s.fail(ctx, build, snap, nil, model.FailureDecode, err)
	}
	snap.Width, snap.Height = cmp.Width, cmp.Height

	var written []string
	cmpKey := SnapshotImageKey(project.ID, snap.ID, model.ImageComparison)
	if err := s.storeImage(ctx, cmpKey, cmp); err != nil {
		return s.fail(ctx, build, snap, written, model.FailureStorage, err)
	}
	written = append(written, cmpKey)
	snap.ComparisonKey = &cmpKey

	var base *imaging.Image
	if len(req.BaseImage) > 0 {
		base, err = imaging.Decode(req.BaseImage)
		if err != nil {
			return s.fail(ctx, build, snap, written, model.FailureDecode, err)
		}
		baseKey := SnapshotImageKey(project.ID, snap.ID, model.ImageBase)
		if err := s.storeImage(ctx, baseKey, base); err != nil {
			return s.fail(ctx, build, snap, written, model.FailureStorage, err)
		}
		written = append(written, baseKey)
		snap.BaseImageKey = &baseKey
	} else {
		baseline, err := s.resolveForBuild(ctx, project, build, snap)
		if errors.Is(err, ErrNoBaseline) {
			return s.bootstrap(ctx, project, build, snap, written)
		}
		if err != nil {
			return s.fail(ctx, build, snap, written, model.FailureStorage, err)
		}
		data, err := s.getArtifact(ctx, baseline.ImageKey)
		if err != nil {
			return s.fail(ctx, build, snap, written, model.FailureStorage, err)
		}
		base, err = imaging.Decode(data)
		if err != nil {
			return s.fail(ctx, build, snap, written, model.FailureDecode, err)
		}
		// Snapshots own a copy of their base image.
		baseKey := SnapshotImageKey(project.ID, snap.ID, model.ImageBase)
		if err := s.putArtifact(ctx, baseKey, data); err != nil {
			return s.fail(ctx, build, snap, written, model.FailureStorage, err)
		}
		written = append(written, baseKey)
		snap.BaselineID = &baseline.ID
		snap.BaseImageKey = &baseKey
	}

	res, err := pixeldiff.Compare(base, cmp, s.opts.Diff)
	if errors.Is(err, pixeldiff.ErrDimensionMismatch) {
		log.Info("snapshot dimensions differ from base",
			"base", fmt.Sprintf("%dx%d", base.Width, base.Height),
			"comparison", fmt.Sprintf("%dx%d", cmp.Width, cmp.Height))
		reason := model.FailureDimensionMismatch
		snap.Status = model.ProcessingFailed
		snap.FailureReason = &reason
		snap.DimensionMismatch = true
		snap.DiffPercentage = 100
		snap.DiffPixels = 0
		s.finish(ctx, build, snap, written)
		return snap, nil
	}
	if err != nil {
		return s.fail(ctx, build, snap, written, model.FailureStorage, err)
	}

	diffKey := SnapshotImageKey(project.ID, snap.ID, model.ImageDiff)
	if err := s.storeImage(ctx, diffKey, res.Mask); err != nil {
		return s.fail(ctx, build, snap, written, model.FailureStorage, err)
	}
	written = append(written, diffKey)
	snap.DiffImageKey = &diffKey

	snap.Status = model.ProcessingCompleted
	snap.DiffPercentage = res.Percentage
	snap.DiffPixels = res.DiffPixels
	log.Debug("snapshot diffed", "diff_pixels", res.DiffPixels, "aa_pixels", res.AAPixels, "percentage", res.Percentage)
	s.finish(ctx, build, snap, written)
	return snap, nil
}

// bootstrap completes the first snapshot of a tuple without a diff and makes
// its image the initial baseline on the build's branch.
func (s *Service) bootstrap(ctx context.Context, project *model.Project, build *model.Build, snap *model.Snapshot, written []string) (*model.Snapshot, error) {
	snap.Status = model.ProcessingCompleted
	snap.DiffPercentage = 0
	snap.DiffPixels = 0
	if !s.finish(ctx, build, snap, written) {
		return snap, nil
	}

	b, err := s.promote(ctx, project.ID, build.Branch, snap)
	if err != nil {
		snapshotLogger(s.logger, snap).Warn("initial baseline not created", "error", err)
		return snap, nil
	}
	snapshotLogger(s.logger, snap).Info("initial baseline created", "baseline_id", b.ID, "branch", b.Branch)
	return snap, nil
}

// fail records a failed snapshot and returns it together with the cause.
func (s *Service) fail(ctx context.Context, build *model.Build, snap *model.Snapshot, written []string, reason model.FailureReason, cause error) (*model.Snapshot, error) {
	snapshotLogger(s.logger, snap).Warn("snapshot failed", "reason", reason, "error", cause)
	snap.Status = model.ProcessingFailed
	snap.FailureReason = &reason
	snap.DiffPercentage = 0
	snap.DiffPixels = 0
	s.finish(ctx, build, snap, written)
	return snap, fmt.Errorf("processing snapshot %s: %w", snap.Name, cause)
}

// finish persists the processing result, refreshes the build counters and
// finalizes the build when it has everything it expects. It reports false
// when the snapshot disappeared while it was processed; the artifacts
// written for it are removed in that case.
func (s *Service) finish(ctx context.Context, build *model.Build, snap *model.Snapshot, written []string) bool {
	snap.UpdatedAt = s.clock.Now()
	ok, err := s.database.SaveSnapshotResult(ctx, snap)
	if err != nil {
		snapshotLogger(s.logger, snap).Error("saving snapshot result failed", "error", err)
		return false
	}
	if !ok {
		snapshotLogger(s.logger, snap).Warn("snapshot deleted while processing, discarding result")
		s.deleteArtifacts(ctx, written...)
		return false
	}

	if err := s.recompute(ctx, build.ID); err != nil {
		s.logger.Warn("build counters not refreshed", "build_id", build.ID, "error", err)
	}
	s.publish(ctx, Event{
		Type:       EventSnapshotProcessed,
		ProjectID:  build.ProjectID,
		BuildID:    build.ID,
		SnapshotID: snap.ID,
		Status:     string(snap.Status),
	})
	s.maybeAutoFinalize(ctx, build.ID)
	return true
}

func (s *Service) storeImage(ctx context.Context, key string, m *imaging.Image) error {
	data, err := imaging.Encode(m)
	if err != nil {
		return err
	}
	return s.putArtifact(ctx, key, data)
}

// GetSnapshot returns a snapshot by ID.
func (s *Service) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	return s.getSnapshot(ctx, id)
}

// ListSnapshots returns one page of a build's snapshots.
func (s *Service) ListSnapshots(ctx context.Context, buildID string, filter SnapshotFilter, page model.PageParams) (*model.Page[*model.Snapshot], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", filter.Status, ErrInvalidInput)
	}
	if filter.ReviewStatus != "" && !filter.ReviewStatus.Valid() {
		return nil, fmt.Errorf("unknown review status %q: %w", filter.ReviewStatus, ErrInvalidInput)
	}
	if _, err := s.getBuild(ctx, buildID); err != nil {
		return nil, err
	}
	items, total, err := s.database.ListSnapshots(ctx, buildID, filter, page)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	return model.NewPage(items, page, total), nil
}

// SnapshotImage returns one image of a snapshot as PNG. A positive width
// scales images wider than that down.
func (s *Service) SnapshotImage(ctx context.Context, id string, kind model.ImageKind, width int) ([]byte, error) {
	snap, err := s.getSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	key := snap.ImageKey(kind)
	if key == "" {
		return nil, fmt.Errorf("snapshot %s has no %s image: %w", id, kind, ErrNotFound)
	}
	return s.loadImage(ctx, key, width)
}

// BaselineImage returns the image of a baseline as PNG.
func (s *Service) BaselineImage(ctx context.Context, id string, width int) ([]byte, error) {
	b, err := s.getBaseline(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.loadImage(ctx, b.ImageKey, width)
}

func (s *Service) loadImage(ctx context.Context, key string, width int) ([]byte, error) {
	data, err := s.getArtifact(ctx, key)
	if errors.Is(err, ErrArtifactNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil || width <= 0 {
		return data, err
	}
	m, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	if m.Width <= width {
		return data, nil
	}
	return imaging.Encode(imaging.Thumbnail(m, width))
}
