package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"diffit/internal/diffit"
	"diffit/internal/model"
)

const tupleWhere = `project_id = ? AND name = ? AND branch = ? AND browser = ? AND viewport = ?`

func tupleArgs(t model.Tuple) []any {
	return []any{t.ProjectID, t.Name, t.Branch, t.Browser, t.Viewport}
}

// Baseline operations

func (s *SQLDatabase) GetBaselineHead(ctx context.Context, tuple model.Tuple) (*model.BaselineHead, error) {
	head := model.BaselineHead{Tuple: tuple}
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT current_baseline_id, version FROM baseline_heads WHERE `+tupleWhere),
		tupleArgs(tuple)...).Scan(&head.CurrentBaselineID, &head.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding baseline head: %w", err)
	}
	return &head, nil
}

func (s *SQLDatabase) GetBaseline(ctx context.Context, id string) (*model.Baseline, error) {
	b, err := scanBaseline(s.db.QueryRowContext(ctx, s.q(`SELECT `+baselineColumns+` FROM baselines WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding baseline: %w", err)
	}
	return b, nil
}

func (s *SQLDatabase) ListBaselines(ctx context.Context, projectID string, includeRetired bool, page model.PageParams) ([]*model.Baseline, int, error) {
	where := `WHERE project_id = ?`
	args := []any{projectID}
	if !includeRetired {
		where += ` AND is_current = ?`
		args = append(args, true)
	}

	total, err := s.count(ctx, s.db, `SELECT COUNT(*) FROM baselines `+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("counting baselines: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+baselineColumns+` FROM baselines `+where+`
		ORDER BY name, branch, browser, viewport, version DESC
		LIMIT ? OFFSET ?`), append(args, page.PerPage, page.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing baselines: %w", err)
	}
	result, err := collectBaselines(rows)
	return result, total, err
}

func (s *SQLDatabase) ListBaselineHistory(ctx context.Context, tuple model.Tuple) ([]*model.Baseline, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+baselineColumns+` FROM baselines WHERE `+tupleWhere+`
		ORDER BY version DESC, created_at DESC`), tupleArgs(tuple)...)
	if err != nil {
		return nil, fmt.Errorf("listing baseline history: %w", err)
	}
	return collectBaselines(rows)
}

func collectBaselines(rows *sql.Rows) ([]*model.Baseline, error) {
	defer rows.Close()
	var result []*model.Baseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning baseline: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// PromoteBaseline swaps the current baseline of a tuple in one transaction:
//  1. retire the baseline prev points at, unless someone already did,
//  2. insert b as the new current baseline,
//  3. advance the head from prev.Version, or create it when prev is nil.
//
// Any step that finds the tuple changed underneath it fails with
// diffit.ErrPromotionConflict and rolls everything back.
func (s *SQLDatabase) PromoteBaseline(ctx context.Context, b *model.Baseline, prev *model.BaselineHead) error {
	tuple := b.Tuple()
	conflict := func(step string) error {
		return fmt.Errorf("%s for %s/%s/%s/%s: %w", step, tuple.Name, tuple.Branch, tuple.Browser, tuple.Viewport,
			diffit.ErrPromotionConflict)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if prev != nil {
			n, err := s.exec(ctx, tx, `
				UPDATE baselines SET is_current = ?, retired_at = ?
				WHERE id = ? AND is_current = ?`,
				false, b.CreatedAt, prev.CurrentBaselineID, true)
			if err != nil {
				return fmt.Errorf("retiring baseline: %w", err)
			}
			if n == 0 {
				return conflict("previous baseline already retired")
			}
		}

		_, err := s.exec(ctx, tx, `
			INSERT INTO baselines (id, project_id, name, branch, browser, viewport, width, height,
				image_key, source_snapshot_id, version, is_current, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.ProjectID, b.Name, b.Branch, b.Browser, b.Viewport, b.Width, b.Height,
			b.ImageKey, nullString(b.SourceSnapshotID), b.Version, true, b.CreatedAt)
		if isUniqueViolation(err) {
			return conflict("another baseline is current")
		}
		if err != nil {
			return fmt.Errorf("inserting baseline: %w", err)
		}

		if prev == nil {
			_, err := s.exec(ctx, tx, `
				INSERT INTO baseline_heads (project_id, name, branch, browser, viewport, current_baseline_id, version)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				append(tupleArgs(tuple), b.ID, b.Version)...)
			if isUniqueViolation(err) {
				return conflict("baseline head created concurrently")
			}
			if err != nil {
				return fmt.Errorf("creating baseline head: %w", err)
			}
			return nil
		}

		n, err := s.exec(ctx, tx, `
			UPDATE baseline_heads SET current_baseline_id = ?, version = ?
			WHERE `+tupleWhere+` AND version = ?`,
			append(append([]any{b.ID, b.Version}, tupleArgs(tuple)...), prev.Version)...)
		if err != nil {
			return fmt.Errorf("advancing baseline head: %w", err)
		}
		if n == 0 {
			return conflict("baseline head moved")
		}
		return nil
	})
}

func (s *SQLDatabase) DeleteBaseline(ctx context.Context, id string) (bool, error) {
	// The head row goes with the baseline through its foreign key.
	n, err := s.exec(ctx, s.db, `DELETE FROM baselines WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting baseline: %w", err)
	}
	return n > 0, nil
}
