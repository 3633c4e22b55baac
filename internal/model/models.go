package model

import "time"

// BuildStatus is the lifecycle state of a build.
type BuildStatus string

const (
	BuildPending    BuildStatus = "pending"
	BuildProcessing BuildStatus = "processing"
	BuildCompleted  BuildStatus = "completed"
	BuildFailed     BuildStatus = "failed"
)

// Finalized reports whether the build no longer accepts snapshots.
func (s BuildStatus) Finalized() bool {
	return s == BuildCompleted || s == BuildFailed
}

// Valid reports whether s is a known build status.
func (s BuildStatus) Valid() bool {
	switch s {
	case BuildPending, BuildProcessing, BuildCompleted, BuildFailed:
		return true
	}
	return false
}

// ProcessingStatus is the diff pipeline state of a snapshot.
type ProcessingStatus string

const (
	ProcessingPending    ProcessingStatus = "pending"
	ProcessingProcessing ProcessingStatus = "processing"
	ProcessingCompleted  ProcessingStatus = "completed"
	ProcessingFailed     ProcessingStatus = "failed"
)

// Terminal reports whether the pipeline has finished with the snapshot.
func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingCompleted || s == ProcessingFailed
}

// Valid reports whether s is a known processing status.
func (s ProcessingStatus) Valid() bool {
	switch s {
	case ProcessingPending, ProcessingProcessing, ProcessingCompleted, ProcessingFailed:
		return true
	}
	return false
}

// ReviewStatus is the human review state of a snapshot. It is independent of
// ProcessingStatus; review is only reachable once processing has completed.
type ReviewStatus string

const (
	ReviewUnreviewed ReviewStatus = "unreviewed"
	ReviewApproved   ReviewStatus = "approved"
	ReviewRejected   ReviewStatus = "rejected"
)

// Valid reports whether s is a known review status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewUnreviewed, ReviewApproved, ReviewRejected:
		return true
	}
	return false
}

// FailureReason records why a snapshot ended in ProcessingFailed.
type FailureReason string

const (
	FailureDecode            FailureReason = "decode_error"
	FailureDimensionMismatch FailureReason = "dimension_mismatch"
	FailureStorage           FailureReason = "storage_error"
)

// ImageKind names one of the image artifacts attached to a snapshot.
type ImageKind string

const (
	ImageBase       ImageKind = "base"
	ImageComparison ImageKind = "comparison"
	ImageDiff       ImageKind = "diff"
	ImageBaseline   ImageKind = "baseline"
)

// Project groups builds and baselines for one application under test.
type Project struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	RepositoryURL *string   `json:"repository_url"`
	DefaultBranch string    `json:"default_branch"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Build is one test run of a project, tied to a commit on a branch.
// The snapshot counters are derived from the build's snapshots and are only
// ever written by a recompute.
type Build struct {
	ID                string      `json:"id"`
	ProjectID         string      `json:"project_id"`
	BuildNumber       int         `json:"build_number"`
	Branch            string      `json:"branch"`
	CommitSHA         *string     `json:"commit_sha"`
	CommitMessage     *string     `json:"commit_message"`
	PullRequestNumber *int        `json:"pull_request_number"`
	ExpectedSnapshots *int        `json:"expected_snapshots"`
	Status            BuildStatus `json:"status"`
	TotalSnapshots    int         `json:"total_snapshots"`
	ChangedSnapshots  int         `json:"changed_snapshots"`
	ApprovedSnapshots int         `json:"approved_snapshots"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	FinishedAt        *time.Time  `json:"finished_at"`
}

// Snapshot is one captured screenshot of a named test case within a build,
// together with the result of comparing it against its baseline.
type Snapshot struct {
	ID                string           `json:"id"`
	BuildID           string           `json:"build_id"`
	BaselineID        *string          `json:"baseline_id"`
	Name              string           `json:"name"`
	Browser           string           `json:"browser"`
	Viewport          string           `json:"viewport"`
	Width             int              `json:"width"`
	Height            int              `json:"height"`
	BaseImageKey      *string          `json:"-"`
	ComparisonKey     *string          `json:"-"`
	DiffImageKey      *string          `json:"-"`
	DiffPercentage    float64          `json:"diff_percentage"`
	DiffPixels        int64            `json:"diff_pixels"`
	Status            ProcessingStatus `json:"status"`
	FailureReason     *FailureReason   `json:"failure_reason"`
	DimensionMismatch bool             `json:"dimension_mismatch"`
	ReviewStatus      ReviewStatus     `json:"review_status"`
	ReviewedBy        *string          `json:"reviewed_by"`
	ReviewedAt        *time.Time       `json:"reviewed_at"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// HasImage reports whether the snapshot has an artifact of the given kind.
func (s *Snapshot) HasImage(kind ImageKind) bool {
	return s.ImageKey(kind) != ""
}

// ImageKey returns the artifact key for kind, or "" when absent.
func (s *Snapshot) ImageKey(kind ImageKind) string {
	var key *string
	switch kind {
	case ImageBase:
		key = s.BaseImageKey
	case ImageComparison:
		key = s.ComparisonKey
	case ImageDiff:
		key = s.DiffImageKey
	}
	if key == nil {
		return ""
	}
	return *key
}

// Changed reports whether the snapshot completed with a visual difference.
func (s *Snapshot) Changed() bool {
	return s.Status == ProcessingCompleted && s.DiffPercentage > 0
}

// Tuple returns the baseline tuple this snapshot belongs to on branch.
func (s *Snapshot) Tuple(projectID, branch string) Tuple {
	return Tuple{
		ProjectID: projectID,
		Name:      s.Name,
		Branch:    branch,
		Browser:   s.Browser,
		Viewport:  s.Viewport,
	}
}

// Baseline is an accepted reference image for a tuple. Baselines are never
// rewritten: promotion inserts a new version and retires the previous one.
type Baseline struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	Name             string     `json:"name"`
	Branch           string     `json:"branch"`
	Browser          string     `json:"browser"`
	Viewport         string     `json:"viewport"`
	Width            int        `json:"width"`
	Height           int        `json:"height"`
	ImageKey         string     `json:"-"`
	SourceSnapshotID *string    `json:"source_snapshot_id"`
	Version          int64      `json:"version"`
	IsCurrent        bool       `json:"is_current"`
	CreatedAt        time.Time  `json:"created_at"`
	RetiredAt        *time.Time `json:"retired_at"`
}

// Tuple returns the identity this baseline is current for.
func (b *Baseline) Tuple() Tuple {
	return Tuple{
		ProjectID: b.ProjectID,
		Name:      b.Name,
		Branch:    b.Branch,
		Browser:   b.Browser,
		Viewport:  b.Viewport,
	}
}

// Tuple identifies the slot a current baseline occupies.
type Tuple struct {
	ProjectID string
	Name      string
	Branch    string
	Browser   string
	Viewport  string
}

// BaselineHead is the versioned pointer to the current baseline of a tuple.
// Version increases by one on every promotion.
type BaselineHead struct {
	Tuple
	CurrentBaselineID string
	Version           int64
}
