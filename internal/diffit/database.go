package diffit

import (
	"context"
	"time"

	"diffit/internal/model"
)

// SnapshotFilter narrows ListSnapshots. Zero values match everything.
type SnapshotFilter struct {
	Status       model.ProcessingStatus
	ReviewStatus model.ReviewStatus
	// ChangedOnly keeps completed snapshots with a non-zero diff.
	ChangedOnly bool
}

// StatusCounts is the number of snapshots of a build per processing status.
type StatusCounts map[model.ProcessingStatus]int

// InFlight is the number of snapshots still pending or processing.
func (c StatusCounts) InFlight() int {
	return c[model.ProcessingPending] + c[model.ProcessingProcessing]
}

// Terminal is the number of snapshots the pipeline has finished with.
func (c StatusCounts) Terminal() int {
	return c[model.ProcessingCompleted] + c[model.ProcessingFailed]
}

// Database provides the relational storage used by the service.
// Lookups return nil and no error when the row does not exist. Methods that
// enforce a state guard report it with the sentinel errors of this package.
type Database interface {
	// Project operations

	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	GetProjectBySlug(ctx context.Context, slug string) (*model.Project, error)
	ListProjects(ctx context.Context, page model.PageParams) ([]*model.Project, int, error)
	UpdateProject(ctx context.Context, p *model.Project) (bool, error)

	// DeleteProject removes the project and everything it owns. It fails with
	// ErrConflict while any build of the project is pending or processing.
	// The artifact keys of the removed snapshots and baselines are returned.
	DeleteProject(ctx context.Context, id string) ([]string, error)

	// Build operations

	// CreateBuild inserts b, assigning the next build number of its project.
	CreateBuild(ctx context.Context, b *model.Build) error
	GetBuild(ctx context.Context, id string) (*model.Build, error)
	ListBuilds(ctx context.Context, projectID, branch string, page model.PageParams) ([]*model.Build, int, error)
	LatestBuild(ctx context.Context, projectID, branch string) (*model.Build, error)

	// UpdateBuildStatus sets the status of a build that is not finalized.
	// It fails with ErrBuildFinalized otherwise.
	UpdateBuildStatus(ctx context.Context, id string, status model.BuildStatus, now time.Time) (bool, error)

	// RecomputeBuildStats rewrites the counters of a build from its snapshots
	// in a single statement. A missing build is not an error.
	RecomputeBuildStats(ctx context.Context, id string, countUnchangedAsApproved bool, now time.Time) error

	// FinalizeBuild atomically counts the snapshots of a build by status and
	// applies the status chosen by decide. Finalized builds are returned as is.
	FinalizeBuild(ctx context.Context, id string, decide func(StatusCounts) (model.BuildStatus, error), now time.Time) (*model.Build, error)

	// DeleteBuild removes the build and its snapshots and returns their artifact keys.
	DeleteBuild(ctx context.Context, id string) ([]string, error)

	// Snapshot operations

	// RegisterSnapshot records s as pending in its build. A terminal snapshot
	// with the same name, browser and viewport is reset and returned instead,
	// which is how failed snapshots are retried. It fails with ErrNotFound if
	// the build is gone, ErrBuildFinalized if the build is finalized and
	// ErrConflict if the existing snapshot is still in flight.
	RegisterSnapshot(ctx context.Context, s *model.Snapshot) (*model.Snapshot, error)
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)
	ListSnapshots(ctx context.Context, buildID string, filter SnapshotFilter, page model.PageParams) ([]*model.Snapshot, int, error)
	CountSnapshotsByStatus(ctx context.Context, buildID string) (StatusCounts, error)

	// SetSnapshotStatus moves a snapshot to the given processing status.
	SetSnapshotStatus(ctx context.Context, id string, status model.ProcessingStatus, now time.Time) (bool, error)

	// SaveSnapshotResult writes the processing fields of s. It reports false
	// when the snapshot no longer exists.
	SaveSnapshotResult(ctx context.Context, s *model.Snapshot) (bool, error)

	// SetReviewStatus applies a review decision. It fails with
	// ErrNotReviewable unless the snapshot completed with a non-zero diff.
	SetReviewStatus(ctx context.Context, id string, status model.ReviewStatus, reviewedBy *string, at time.Time) (*model.Snapshot, error)

	// Baseline operations

	GetBaselineHead(ctx context.Context, tuple model.Tuple) (*model.BaselineHead, error)
	GetBaseline(ctx context.Context, id string) (*model.Baseline, error)
	ListBaselines(ctx context.Context, projectID string, includeRetired bool, page model.PageParams) ([]*model.Baseline, int, error)
	ListBaselineHistory(ctx context.Context, tuple model.Tuple) ([]*model.Baseline, error)

	// PromoteBaseline inserts b as the current baseline of its tuple and
	// retires the baseline prev points at. The head version is advanced with a
	// compare-and-swap from prev.Version (or created when prev is nil); losing
	// the swap fails with ErrPromotionConflict and changes nothing.
	PromoteBaseline(ctx context.Context, b *model.Baseline, prev *model.BaselineHead) error

	// DeleteBaseline removes a baseline. Deleting the current baseline clears
	// the head of its tuple.
	DeleteBaseline(ctx context.Context, id string) (bool, error)

	// Ping verifies the connection.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
