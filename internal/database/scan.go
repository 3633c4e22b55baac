package database

import (
	"database/sql"
	"time"

	"diffit/internal/model"
)

type scanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id, name, slug, repository_url, default_branch, created_at, updated_at`

func scanProject(row scanner) (*model.Project, error) {
	var p model.Project
	var repo sql.NullString
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &repo, &p.DefaultBranch, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.RepositoryURL = stringOrNil(repo)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

const buildColumns = `id, project_id, build_number, branch, commit_sha, commit_message,
	pull_request_number, expected_snapshots, status, total_snapshots, changed_snapshots,
	approved_snapshots, created_at, updated_at, finished_at`

func scanBuild(row scanner) (*model.Build, error) {
	var b model.Build
	var sha, msg sql.NullString
	var pr, expected sql.NullInt64
	var status string
	var finished sql.NullTime
	err := row.Scan(&b.ID, &b.ProjectID, &b.BuildNumber, &b.Branch, &sha, &msg,
		&pr, &expected, &status, &b.TotalSnapshots, &b.ChangedSnapshots,
		&b.ApprovedSnapshots, &b.CreatedAt, &b.UpdatedAt, &finished)
	if err != nil {
		return nil, err
	}
	b.CommitSHA = stringOrNil(sha)
	b.CommitMessage = stringOrNil(msg)
	b.PullRequestNumber = intOrNil(pr)
	b.ExpectedSnapshots = intOrNil(expected)
	b.Status = model.BuildStatus(status)
	b.CreatedAt = b.CreatedAt.UTC()
	b.UpdatedAt = b.UpdatedAt.UTC()
	b.FinishedAt = timeOrNil(finished)
	return &b, nil
}

const snapshotColumns = `id, build_id, baseline_id, name, browser, viewport, width, height,
	base_image_key, comparison_key, diff_image_key, diff_percentage, diff_pixels, status,
	failure_reason, dimension_mismatch, review_status, reviewed_by, reviewed_at,
	created_at, updated_at`

func scanSnapshot(row scanner) (*model.Snapshot, error) {
	var s model.Snapshot
	var baselineID, baseKey, cmpKey, diffKey, reason, reviewedBy sql.NullString
	var status, review string
	var reviewedAt sql.NullTime
	err := row.Scan(&s.ID, &s.BuildID, &baselineID, &s.Name, &s.Browser, &s.Viewport, &s.Width, &s.Height,
		&baseKey, &cmpKey, &diffKey, &s.DiffPercentage, &s.DiffPixels, &status,
		&reason, &s.DimensionMismatch, &review, &reviewedBy, &reviewedAt,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.BaselineID = stringOrNil(baselineID)
	s.BaseImageKey = stringOrNil(baseKey)
	s.ComparisonKey = stringOrNil(cmpKey)
	s.DiffImageKey = stringOrNil(diffKey)
	s.Status = model.ProcessingStatus(status)
	if reason.Valid {
		r := model.FailureReason(reason.String)
		s.FailureReason = &r
	}
	s.ReviewStatus = model.ReviewStatus(review)
	s.ReviewedBy = stringOrNil(reviewedBy)
	s.ReviewedAt = timeOrNil(reviewedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

const baselineColumns = `id, project_id, name, branch, browser, viewport, width, height,
	image_key, source_snapshot_id, version, is_current, created_at, retired_at`

func scanBaseline(row scanner) (*model.Baseline, error) {
	var b model.Baseline
	var source sql.NullString
	var retired sql.NullTime
	err := row.Scan(&b.ID, &b.ProjectID, &b.Name, &b.Branch, &b.Browser, &b.Viewport, &b.Width, &b.Height,
		&b.ImageKey, &source, &b.Version, &b.IsCurrent, &b.CreatedAt, &retired)
	if err != nil {
		return nil, err
	}
	b.SourceSnapshotID = stringOrNil(source)
	b.CreatedAt = b.CreatedAt.UTC()
	b.RetiredAt = timeOrNil(retired)
	return &b, nil
}

func stringOrNil(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func intOrNil(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func timeOrNil(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// nullString and its siblings turn optional fields into query arguments,
// with nil becoming SQL NULL.
func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
