package diffit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diffit/internal/diffit"
	"diffit/internal/model"
	"diffit/internal/testutil"
)

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Web App":           "web-app",
		"  Marketing Site ": "marketing-site",
		"API v2 -- beta!":   "api-v2-beta",
		"___":               "",
	}
	for in, want := range tests {
		assert.Equal(t, want, diffit.Slugify(in), "Slugify(%q)", in)
	}
}

func TestCreateProject(t *testing.T) {
	env := testutil.NewTestEnv(t, nil)
	ctx := context.Background()

	p, err := env.Service.CreateProject(ctx, diffit.CreateProjectRequest{Name: "Web App", RepositoryURL: "https://git.example.com/web"})
	require.NoError(t, err)
	assert.Equal(t, "web-app", p.Slug)
	assert.Equal(t, diffit.DefaultBranch, p.DefaultBranch)
	require.NotNil(t, p.RepositoryURL)

	got, err := env.Service.GetProjectBySlug(ctx, "web-app")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = env.Service.CreateProject(ctx, diffit.CreateProjectRequest{Name: "Web App"})
	assert.ErrorIs(t, err, diffit.ErrConflict)

	_, err = env.Service.CreateProject(ctx, diffit.CreateProjectRequest{Name: "x", Slug: "Not Valid"})
	assert.ErrorIs(t, err, diffit.ErrInvalidInput)

	_, err = env.Service.CreateProject(ctx, diffit.CreateProjectRequest{Name: "  "})
	assert.ErrorIs(t, err, diffit.ErrInvalidInput)
}

func TestUpdateProject(t *testing.T) {
	env := testutil.NewTestEnv(t, nil)
	ctx := context.Background()
	p, err := env.Service.CreateProject(ctx, diffit.CreateProjectRequest{Name: "Web"})
	require.NoError(t, err)

	empty := ""
	updated, err := env.Service.UpdateProject(ctx, p.ID, diffit.UpdateProjectRequest{DefaultBranch: "trunk", RepositoryURL: &empty})
	require.NoError(t, err)
	assert.Equal(t, "trunk", updated.DefaultBranch)
	assert.Equal(t, "Web", updated.Name)
	assert.Nil(t, updated.RepositoryURL)

	_, err = env.Service.UpdateProject(ctx, "missing", diffit.UpdateProjectRequest{Name: "x"})
	assert.ErrorIs(t, err, diffit.ErrNotFound)
}

func TestDeleteProject(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.submit(t, f.build.ID, "home", white(t))

	err := f.Service.DeleteProject(ctx, f.project.ID)
	assert.ErrorIs(t, err, diffit.ErrConflict, "build still processing")

	_, err = f.Service.FinalizeBuild(ctx, f.build.ID)
	require.NoError(t, err)
	require.NoError(t, f.Service.DeleteProject(ctx, f.project.ID))

	assert.Zero(t, f.Store.Len())
	_, err = f.Service.GetProject(ctx, f.project.ID)
	assert.ErrorIs(t, err, diffit.ErrNotFound)

	page, err := f.Service.ListProjects(ctx, model.NewPageParams(1, 20))
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}
