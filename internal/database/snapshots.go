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

// Snapshot operations

func (s *SQLDatabase) RegisterSnapshot(ctx context.Context, snap *model.Snapshot) (*model.Snapshot, error) {
	var result *model.Snapshot
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		build, err := s.getBuild(ctx, tx, snap.BuildID, s.forUpdate())
		if err != nil {
			return err
		}
		if build == nil {
			return fmt.Errorf("build %s: %w", snap.BuildID, diffit.ErrNotFound)
		}
		if build.Status.Finalized() {
			return fmt.Errorf("build %s is %s: %w", build.ID, build.Status, diffit.ErrBuildFinalized)
		}

		existing, err := s.findSnapshot(ctx, tx, `
			SELECT `+snapshotColumns+` FROM snapshots
			WHERE build_id = ? AND name = ? AND browser = ? AND viewport = ?`,
			snap.BuildID, snap.Name, snap.Browser, snap.Viewport)
		if err != nil {
			return err
		}

		switch {
		case existing != nil && !existing.Status.Terminal():
			return fmt.Errorf("snapshot %q is still %s: %w", existing.Name, existing.Status, diffit.ErrConflict)
		case existing != nil:
			if _, err := s.exec(ctx, tx, `
				UPDATE snapshots SET baseline_id = NULL, width = 0, height = 0,
					base_image_key = NULL, comparison_key = NULL, diff_image_key = NULL,
					diff_percentage = 0, diff_pixels = 0, status = ?, failure_reason = NULL,
					dimension_mismatch = ?, review_status = ?, reviewed_by = NULL, reviewed_at = NULL,
					updated_at = ?
				WHERE id = ?`,
				string(model.ProcessingPending), false, string(model.ReviewUnreviewed), snap.UpdatedAt, existing.ID); err != nil {
				return fmt.Errorf("resetting snapshot: %w", err)
			}
			result, err = s.findSnapshot(ctx, tx, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, existing.ID)
			if err != nil {
				return err
			}
		default:
			_, err := s.exec(ctx, tx, `
				INSERT INTO snapshots (id, build_id, name, browser, viewport, status, review_status,
					dimension_mismatch, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				snap.ID, snap.BuildID, snap.Name, snap.Browser, snap.Viewport,
				string(model.ProcessingPending), string(model.ReviewUnreviewed), false, snap.CreatedAt, snap.UpdatedAt)
			if isUniqueViolation(err) {
				return fmt.Errorf("snapshot %q already registered: %w", snap.Name, diffit.ErrConflict)
			}
			if err != nil {
				return fmt.Errorf("inserting snapshot: %w", err)
			}
			registered := *snap
			registered.Status = model.ProcessingPending
			registered.ReviewStatus = model.ReviewUnreviewed
			result = &registered
		}

		if _, err := s.exec(ctx, tx, `
			UPDATE builds SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(model.BuildProcessing), snap.UpdatedAt, build.ID, string(model.BuildPending)); err != nil {
			return fmt.Errorf("starting build: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLDatabase) findSnapshot(ctx context.Context, ex execer, query string, args ...any) (*model.Snapshot, error) {
	snap, err := scanSnapshot(ex.QueryRowContext(ctx, s.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLDatabase) GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	return s.findSnapshot(ctx, s.db, `SELECT `+snapshotColumns+` FROM snapshots WHERE id = ?`, id)
}

func (s *SQLDatabase) ListSnapshots(ctx context.Context, buildID string, filter diffit.SnapshotFilter, page model.PageParams) ([]*model.Snapshot, int, error) {
	where := `WHERE build_id = ?`
	args := []any{buildID}
	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ReviewStatus != "" {
		where += ` AND review_status = ?`
		args = append(args, string(filter.ReviewStatus))
	}
	if filter.ChangedOnly {
		where += ` AND status = 'completed' AND diff_percentage > 0`
	}

	total, err := s.count(ctx, s.db, `SELECT COUNT(*) FROM snapshots `+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("counting snapshots: %w", err)
	}

	order := `ORDER BY name, browser, viewport`
	if filter.ChangedOnly {
		order = `ORDER BY diff_percentage DESC, name, browser, viewport`
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+snapshotColumns+` FROM snapshots `+where+` `+order+`
		LIMIT ? OFFSET ?`), append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var result []*model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning snapshot: %w", err)
		}
		result = append(result, snap)
	}
	return result, total, rows.Err()
}

func (s *SQLDatabase) CountSnapshotsByStatus(ctx context.Context, buildID string) (diffit.StatusCounts, error) {
	return s.countSnapshotsByStatus(ctx, s.db, buildID)
}

func (s *SQLDatabase) countSnapshotsByStatus(ctx context.Context, ex execer, buildID string) (diffit.StatusCounts, error) {
	rows, err := ex.QueryContext(ctx, s.q(`
		SELECT status, COUNT(*) FROM snapshots WHERE build_id = ? GROUP BY status`), buildID)
	if err != nil {
		return nil, fmt.Errorf("counting snapshots: %w", err)
	}
	defer rows.Close()

	counts := make(diffit.StatusCounts)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning snapshot count: %w", err)
		}
		counts[model.ProcessingStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *SQLDatabase) SetSnapshotStatus(ctx context.Context, id string, status model.ProcessingStatus, now time.Time) (bool, error) {
	n, err := s.exec(ctx, s.db, `UPDATE snapshots SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), now, id)
	if err != nil {
		return false, fmt.Errorf("updating snapshot status: %w", err)
	}
	return n > 0, nil
}

func (s *SQLDatabase) SaveSnapshotResult(ctx context.Context, snap *model.Snapshot) (bool, error) {
	var reason *string
	if snap.FailureReason != nil {
		r := string(*snap.FailureReason)
		reason = &r
	}

	n, err := s.exec(ctx, s.db, `
		UPDATE snapshots SET baseline_id = ?, width = ?, height = ?,
			base_image_key = ?, comparison_key = ?, diff_image_key = ?,
			diff_percentage = ?, diff_pixels = ?, status = ?, failure_reason = ?,
			dimension_mismatch = ?, updated_at = ?
		WHERE id = ?`,
		nullString(snap.BaselineID), snap.Width, snap.Height,
		nullString(snap.BaseImageKey), nullString(snap.ComparisonKey), nullString(snap.DiffImageKey),
		snap.DiffPercentage, snap.DiffPixels, string(snap.Status), nullString(reason),
		snap.DimensionMismatch, snap.UpdatedAt, snap.ID)
	if err != nil {
		return false, fmt.Errorf("saving snapshot result: %w", err)
	}
	return n > 0, nil
}

func (s *SQLDatabase) SetReviewStatus(ctx context.Context, id string, status model.ReviewStatus, reviewedBy *string, at time.Time) (*model.Snapshot, error) {
	n, err := s.exec(ctx, s.db, `
		UPDATE snapshots SET review_status = ?, reviewed_by = ?, reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'completed' AND diff_percentage > 0`,
		string(status), nullString(reviewedBy), at, at, id)
	if err != nil {
		return nil, fmt.Errorf("updating review status: %w", err)
	}

	snap, err := s.GetSnapshot(ctx, id)
	if err != nil || snap == nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("snapshot %s is %s with %.4f%% difference: %w",
			id, snap.Status, snap.DiffPercentage, diffit.ErrNotReviewable)
	}
	return snap, nil
}
