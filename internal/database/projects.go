package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"diffit/internal/diffit"
	"diffit/internal/model"
)

// Project operations

func (s *SQLDatabase) CreateProject(ctx context.Context, p *model.Project) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO projects (id, name, slug, repository_url, default_branch, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Slug, nullString(p.RepositoryURL), p.DefaultBranch, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("project slug %q already taken: %w", p.Slug, diffit.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}
	return nil
}

func (s *SQLDatabase) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return s.getProject(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
}

func (s *SQLDatabase) GetProjectBySlug(ctx context.Context, slug string) (*model.Project, error) {
	return s.getProject(ctx, `SELECT `+projectColumns+` FROM projects WHERE slug = ?`, slug)
}

func (s *SQLDatabase) getProject(ctx context.Context, query string, arg string) (*model.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx, s.q(query), arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding project: %w", err)
	}
	return p, nil
}

func (s *SQLDatabase) ListProjects(ctx context.Context, page model.PageParams) ([]*model.Project, int, error) {
	total, err := s.count(ctx, s.db, `SELECT COUNT(*) FROM projects`)
	if err != nil {
		return nil, 0, fmt.Errorf("counting projects: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+projectColumns+` FROM projects
		ORDER BY name, id
		LIMIT ? OFFSET ?`), page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var result []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning project: %w", err)
		}
		result = append(result, p)
	}
	return result, total, rows.Err()
}

func (s *SQLDatabase) UpdateProject(ctx context.Context, p *model.Project) (bool, error) {
	n, err := s.exec(ctx, s.db, `
		UPDATE projects SET name = ?, repository_url = ?, default_branch = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, nullString(p.RepositoryURL), p.DefaultBranch, p.UpdatedAt, p.ID)
	if err != nil {
		return false, fmt.Errorf("updating project: %w", err)
	}
	return n > 0, nil
}

func (s *SQLDatabase) DeleteProject(ctx context.Context, id string) ([]string, error) {
	var keys []string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		busy, err := s.count(ctx, tx, `
			SELECT COUNT(*) FROM builds
			WHERE project_id = ? AND status IN ('pending', 'processing')`, id)
		if err != nil {
			return fmt.Errorf("counting active builds: %w", err)
		}
		if busy > 0 {
			return fmt.Errorf("project has %d build(s) in progress: %w", busy, diffit.ErrConflict)
		}

		keys, err = s.collectKeys(ctx, tx, `
			SELECT base_image_key, comparison_key, diff_image_key FROM snapshots
			WHERE build_id IN (SELECT id FROM builds WHERE project_id = ?)
			UNION ALL
			SELECT image_key, NULL, NULL FROM baselines WHERE project_id = ?`, id, id)
		if err != nil {
			return err
		}

		if _, err := s.exec(ctx, tx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
			return fmt.Errorf("deleting project: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// collectKeys gathers the distinct non-null artifact keys in the three
// columns returned by query.
func (s *SQLDatabase) collectKeys(ctx context.Context, ex execer, query string, args ...any) ([]string, error) {
	rows, err := ex.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("collecting artifact keys: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	var keys []string
	for rows.Next() {
		var cols [3]sql.NullString
		if err := rows.Scan(&cols[0], &cols[1], &cols[2]); err != nil {
			return nil, fmt.Errorf("scanning artifact keys: %w", err)
		}
		for _, c := range cols {
			if c.Valid && c.String != "" && !seen[c.String] {
				seen[c.String] = true
				keys = append(keys, c.String)
			}
		}
	}
	return keys, rows.Err()
}
