package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"diffit/internal/diffit"
	"diffit/internal/model"
)

// buildNumberAttempts bounds retries when concurrent builds of a project
// race for the same build number.
const buildNumberAttempts = 5

// Build operations

func (s *SQLDatabase) CreateBuild(ctx context.Context, b *model.Build) error {
	var err error
	for attempt := 0; attempt < buildNumberAttempts; attempt++ {
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			next, err := s.count(ctx, tx, `
				SELECT COALESCE(MAX(build_number), 0) + 1 FROM builds WHERE project_id = ?`, b.ProjectID)
			if err != nil {
				return fmt.Errorf("allocating build number: %w", err)
			}
			_, err = s.exec(ctx, tx, `
				INSERT INTO builds (id, project_id, build_number, branch, commit_sha, commit_message,
					pull_request_number, expected_snapshots, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				b.ID, b.ProjectID, next, b.Branch, nullString(b.CommitSHA), nullString(b.CommitMessage),
				nullInt(b.PullRequestNumber), nullInt(b.ExpectedSnapshots), string(b.Status), b.CreatedAt, b.UpdatedAt)
			if err != nil {
				return err
			}
			b.BuildNumber = next
			return nil
		})
		if !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("inserting build: %w", err)
	}
	return nil
}

func (s *SQLDatabase) GetBuild(ctx context.Context, id string) (*model.Build, error) {
	return s.getBuild(ctx, s.db, id, "")
}

func (s *SQLDatabase) getBuild(ctx context.Context, ex execer, id, suffix string) (*model.Build, error) {
	b, err := scanBuild(ex.QueryRowContext(ctx, s.q(`SELECT `+buildColumns+` FROM builds WHERE id = ?`+suffix), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding build: %w", err)
	}
	return b, nil
}

func (s *SQLDatabase) ListBuilds(ctx context.Context, projectID, branch string, page model.PageParams) ([]*model.Build, int, error) {
	where := `WHERE project_id = ?`
	args := []any{projectID}
	if branch != "" {
		where += ` AND branch = ?`
		args = append(args, branch)
	}

	total, err := s.count(ctx, s.db, `SELECT COUNT(*) FROM builds `+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("counting builds: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+buildColumns+` FROM builds `+where+`
		ORDER BY build_number DESC
		LIMIT ? OFFSET ?`), append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	var result []*model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning build: %w", err)
		}
		result = append(result, b)
	}
	return result, total, rows.Err()
}

func (s *SQLDatabase) LatestBuild(ctx context.Context, projectID, branch string) (*model.Build, error) {
	b, err := scanBuild(s.db.QueryRowContext(ctx, s.q(`
		SELECT `+buildColumns+` FROM builds
		WHERE project_id = ? AND branch = ?
		ORDER BY build_number DESC
		LIMIT 1`), projectID, branch))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest build: %w", err)
	}
	return b, nil
}

func (s *SQLDatabase) UpdateBuildStatus(ctx context.Context, id string, status model.BuildStatus, now time.Time) (bool, error) {
	var finished *time.Time
	if status.Finalized() {
		finished = &now
	}

	n, err := s.exec(ctx, s.db, `
		UPDATE builds SET status = ?, finished_at = COALESCE(?, finished_at), updated_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')`,
		string(status), nullTime(finished), now, id)
	if err != nil {
		return false, fmt.Errorf("updating build status: %w", err)
	}
	if n > 0 {
		return true, nil
	}

	b, err := s.GetBuild(ctx, id)
	if err != nil || b == nil {
		return false, err
	}
	return false, fmt.Errorf("build %s is %s: %w", id, b.Status, diffit.ErrBuildFinalized)
}

func (s *SQLDatabase) RecomputeBuildStats(ctx context.Context, id string, countUnchangedAsApproved bool, now time.Time) error {
	_, err := s.exec(ctx, s.db, `
		UPDATE builds SET
			total_snapshots = (SELECT COUNT(*) FROM snapshots WHERE build_id = ?),
			changed_snapshots = (
				SELECT COUNT(*) FROM snapshots
				WHERE build_id = ? AND status = 'completed' AND diff_percentage > 0),
			approved_snapshots = (
				SELECT COUNT(*) FROM snapshots
				WHERE build_id = ? AND (review_status = 'approved'
					OR (? AND status = 'completed' AND diff_percentage = 0))),
			updated_at = ?
		WHERE id = ?`,
		id, id, id, countUnchangedAsApproved, now, id)
	if err != nil {
		return fmt.Errorf("recomputing build stats: %w", err)
	}
	return nil
}

func (s *SQLDatabase) FinalizeBuild(ctx context.Context, id string, decide func(diffit.StatusCounts) (model.BuildStatus, error), now time.Time) (*model.Build, error) {
	var result *model.Build
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		b, err := s.getBuild(ctx, tx, id, s.forUpdate())
		if err != nil || b == nil {
			return err
		}
		if b.Status.Finalized() {
			result = b
			return nil
		}

		counts, err := s.countSnapshotsByStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		status, err := decide(counts)
		if err != nil {
			return err
		}

		if _, err := s.exec(ctx, tx, `
			UPDATE builds SET status = ?, finished_at = ?, updated_at = ? WHERE id = ?`,
			string(status), now, now, id); err != nil {
			return fmt.Errorf("finalizing build: %w", err)
		}
		b.Status = status
		b.FinishedAt = &now
		b.UpdatedAt = now
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLDatabase) DeleteBuild(ctx context.Context, id string) ([]string, error) {
	var keys []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		keys, err = s.collectKeys(ctx, tx, `
			SELECT base_image_key, comparison_key, diff_image_key FROM snapshots
			WHERE build_id = ?`, id)
		if err != nil {
			return err
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM builds WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting build: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
