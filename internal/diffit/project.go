package diffit

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"diffit/internal/model"
)

// DefaultBranch is used for projects created without one.
const DefaultBranch = "main"

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// CreateProjectRequest describes a new project. Slug is derived from Name
// when empty.
type CreateProjectRequest struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	RepositoryURL string `json:"repository_url"`
	DefaultBranch string `json:"default_branch"`
}

// UpdateProjectRequest replaces the mutable fields of a project. Empty
// fields keep their current value.
type UpdateProjectRequest struct {
	Name          string  `json:"name"`
	RepositoryURL *string `json:"repository_url"`
	DefaultBranch string  `json:"default_branch"`
}

// Slugify lowercases s and joins its alphanumeric runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		default:
			dash = true
		}
	}
	return b.String()
}

// CreateProject validates and stores a new project.
func (s *Service) CreateProject(ctx context.Context, req CreateProjectRequest) (*model.Project, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("project name is required: %w", ErrInvalidInput)
	}
	slug := req.Slug
	if slug == "" {
		slug = Slugify(name)
	}
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("slug %q must be lowercase letters, digits and dashes: %w", slug, ErrInvalidInput)
	}
	branch := strings.TrimSpace(req.DefaultBranch)
	if branch == "" {
		branch = DefaultBranch
	}

	now := s.clock.Now()
	p := &model.Project{
		ID:            s.idgen.New(),
		Name:          name,
		Slug:          slug,
		RepositoryURL: stringPtr(strings.TrimSpace(req.RepositoryURL)),
		DefaultBranch: branch,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.database.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}

	s.logger.Info("project created", "project_id", p.ID, "slug", p.Slug)
	return p, nil
}

// GetProject returns a project by ID.
func (s *Service) GetProject(ctx context.Context, id string) (*model.Project, error) {
	return s.getProject(ctx, id)
}

// GetProjectBySlug returns a project by slug.
func (s *Service) GetProjectBySlug(ctx context.Context, slug string) (*model.Project, error) {
	p, err := s.database.GetProjectBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("project %q: %w", slug, ErrNotFound)
	}
	return p, nil
}

// ListProjects returns one page of projects ordered by name.
func (s *Service) ListProjects(ctx context.Context, page model.PageParams) (*model.Page[*model.Project], error) {
	items, total, err := s.database.ListProjects(ctx, page)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return model.NewPage(items, page, total), nil
}

// UpdateProject changes the name, repository URL or default branch of a project.
func (s *Service) UpdateProject(ctx context.Context, id string, req UpdateProjectRequest) (*model.Project, error) {
	p, err := s.getProject(ctx, id)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		p.Name = name
	}
	if req.RepositoryURL != nil {
		p.RepositoryURL = stringPtr(strings.TrimSpace(*req.RepositoryURL))
	}
	if branch := strings.TrimSpace(req.DefaultBranch); branch != "" {
		p.DefaultBranch = branch
	}
	p.UpdatedAt = s.clock.Now()

	ok, err := s.database.UpdateProject(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("updating project: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// DeleteProject removes a project with its builds, snapshots, baselines and
// artifacts. Projects with builds still in progress cannot be deleted.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if _, err := s.getProject(ctx, id); err != nil {
		return err
	}

	keys, err := s.database.DeleteProject(ctx, id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	s.deleteArtifacts(ctx, keys...)

	s.logger.Info("project deleted", "project_id", id, "artifacts", len(keys))
	return nil
}
