package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"diffit/internal/database/migrations"
	"diffit/internal/diffit"
	"diffit/internal/model"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestDB creates a new in-memory database with the schema applied.
func newTestDB(t *testing.T) *SQLDatabase {
	t.Helper()

	db, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func seedProject(t *testing.T, db *SQLDatabase, id string) *model.Project {
	t.Helper()
	p := &model.Project{ID: id, Name: "Project " + id, Slug: "slug-" + id, DefaultBranch: "main", CreatedAt: epoch, UpdatedAt: epoch}
	if err := db.CreateProject(context.Background(), p); err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	return p
}

func seedBuild(t *testing.T, db *SQLDatabase, projectID, id string) *model.Build {
	t.Helper()
	b := &model.Build{ID: id, ProjectID: projectID, Branch: "main", Status: model.BuildPending, CreatedAt: epoch, UpdatedAt: epoch}
	if err := db.CreateBuild(context.Background(), b); err != nil {
		t.Fatalf("CreateBuild() error = %v", err)
	}
	return b
}

func seedSnapshot(t *testing.T, db *SQLDatabase, buildID, id, name string) *model.Snapshot {
	t.Helper()
	s, err := db.RegisterSnapshot(context.Background(), &model.Snapshot{
		ID: id, BuildID: buildID, Name: name, Browser: "chrome", Viewport: "1280x720",
		Status: model.ProcessingPending, ReviewStatus: model.ReviewUnreviewed, CreatedAt: epoch, UpdatedAt: epoch,
	})
	if err != nil {
		t.Fatalf("RegisterSnapshot() error = %v", err)
	}
	return s
}

// complete stores a finished processing result for a snapshot.
func complete(t *testing.T, db *SQLDatabase, s *model.Snapshot, status model.ProcessingStatus, pct float64) {
	t.Helper()
	key := fmt.Sprintf("projects/p/snapshots/%s/comparison.png", s.ID)
	s.Status = status
	s.DiffPercentage = pct
	s.ComparisonKey = &key
	s.Width, s.Height = 10, 10
	ok, err := db.SaveSnapshotResult(context.Background(), s)
	if err != nil || !ok {
		t.Fatalf("SaveSnapshotResult() = %v, %v", ok, err)
	}
}

func TestSQLDatabase_Projects(t *testing.T) {
	ctx := context.Background()

	t.Run("returns nil when project not found", func(t *testing.T) {
		db := newTestDB(t)

		p, err := db.GetProject(ctx, "missing")
		if err != nil {
			t.Fatalf("GetProject() error = %v", err)
		}
		if p != nil {
			t.Errorf("GetProject() = %v, want nil", p)
		}
	})

	t.Run("round trips optional fields", func(t *testing.T) {
		db := newTestDB(t)
		repo := "https://git.example.com/shop"
		p := &model.Project{ID: "p1", Name: "Shop", Slug: "shop", RepositoryURL: &repo, DefaultBranch: "develop", CreatedAt: epoch, UpdatedAt: epoch}
		if err := db.CreateProject(ctx, p); err != nil {
			t.Fatalf("CreateProject() error = %v", err)
		}

		got, err := db.GetProjectBySlug(ctx, "shop")
		if err != nil || got == nil {
			t.Fatalf("GetProjectBySlug() = %v, %v", got, err)
		}
		if got.RepositoryURL == nil || *got.RepositoryURL != repo {
			t.Errorf("RepositoryURL = %v, want %q", got.RepositoryURL, repo)
		}
		if got.DefaultBranch != "develop" {
			t.Errorf("DefaultBranch = %q, want develop", got.DefaultBranch)
		}
		if !got.CreatedAt.Equal(epoch) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, epoch)
		}
	})

	t.Run("duplicate slug conflicts", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "a")

		err := db.CreateProject(ctx, &model.Project{ID: "b", Name: "B", Slug: "slug-a", DefaultBranch: "main", CreatedAt: epoch, UpdatedAt: epoch})
		if !errors.Is(err, diffit.ErrConflict) {
			t.Errorf("CreateProject() error = %v, want ErrConflict", err)
		}
	})

	t.Run("lists with total", func(t *testing.T) {
		db := newTestDB(t)
		for _, id := range []string{"c", "a", "b"} {
			seedProject(t, db, id)
		}

		items, total, err := db.ListProjects(ctx, model.PageParams{Page: 1, PerPage: 2})
		if err != nil {
			t.Fatalf("ListProjects() error = %v", err)
		}
		if total != 3 || len(items) != 2 {
			t.Fatalf("ListProjects() = %d items of %d, want 2 of 3", len(items), total)
		}
		if items[0].ID != "a" {
			t.Errorf("first project = %q, want a", items[0].ID)
		}
	})

	t.Run("delete refuses while builds are active", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		seedBuild(t, db, "p", "b1")

		if _, err := db.DeleteProject(ctx, "p"); !errors.Is(err, diffit.ErrConflict) {
			t.Errorf("DeleteProject() error = %v, want ErrConflict", err)
		}
	})

	t.Run("delete cascades and returns keys", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		seedBuild(t, db, "p", "b1")
		s := seedSnapshot(t, db, "b1", "s1", "home")
		complete(t, db, s, model.ProcessingCompleted, 0)
		if _, err := db.UpdateBuildStatus(ctx, "b1", model.BuildFailed, epoch); err != nil {
			t.Fatalf("UpdateBuildStatus() error = %v", err)
		}

		keys, err := db.DeleteProject(ctx, "p")
		if err != nil {
			t.Fatalf("DeleteProject() error = %v", err)
		}
		if len(keys) != 1 {
			t.Errorf("DeleteProject() keys = %v, want one comparison key", keys)
		}
		if got, _ := db.GetSnapshot(ctx, "s1"); got != nil {
			t.Error("snapshot survived project deletion")
		}
	})
}

func TestSQLDatabase_CreateBuild_NumbersPerProject(t *testing.T) {
	db := newTestDB(t)
	seedProject(t, db, "p")
	seedProject(t, db, "q")

	b1 := seedBuild(t, db, "p", "b1")
	b2 := seedBuild(t, db, "p", "b2")
	other := seedBuild(t, db, "q", "b3")

	if b1.BuildNumber != 1 || b2.BuildNumber != 2 {
		t.Errorf("build numbers = %d, %d, want 1, 2", b1.BuildNumber, b2.BuildNumber)
	}
	if other.BuildNumber != 1 {
		t.Errorf("other project build number = %d, want 1", other.BuildNumber)
	}

	latest, err := db.LatestBuild(context.Background(), "p", "main")
	if err != nil || latest == nil {
		t.Fatalf("LatestBuild() = %v, %v", latest, err)
	}
	if latest.ID != "b2" {
		t.Errorf("LatestBuild() = %q, want b2", latest.ID)
	}
}

func TestSQLDatabase_RegisterSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("starts the build", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		seedBuild(t, db, "p", "b1")
		seedSnapshot(t, db, "b1", "s1", "home")

		b, _ := db.GetBuild(ctx, "b1")
		if b.Status != model.BuildProcessing {
			t.Errorf("build status = %q, want processing", b.Status)
		}
	})

	t.Run("missing build", func(t *testing.T) {
		db := newTestDB(t)
		_, err := db.RegisterSnapshot(ctx, &model.Snapshot{ID: "s", BuildID: "nope", Name: "x"})
		if !errors.Is(err, diffit.ErrNotFound) {
			t.Errorf("RegisterSnapshot() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("in flight duplicate conflicts", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		seedBuild(t, db, "p", "b1")
		seedSnapshot(t, db, "b1", "s1", "home")

		_, err := db.RegisterSnapshot(ctx, &model.Snapshot{ID: "s2", BuildID: "b1", Name: "home", Browser: "chrome", Viewport: "1280x720", CreatedAt: epoch, UpdatedAt: epoch})
		if !errors.Is(err, diffit.ErrConflict) {
			t.Errorf("RegisterSnapshot() error = %v, want ErrConflict", err)
		}
	})

	t.Run("terminal duplicate is reset", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		seedBuild(t, db, "p", "b1")
		s := seedSnapshot(t, db, "b1", "s1", "home")
		complete(t, db, s, model.ProcessingFailed, 0)

		got, err := db.RegisterSnapshot(ctx, &model.Snapshot{ID: "s2", BuildID: "b1", Name: "home", Browser: "chrome", Viewport: "1280x720", CreatedAt: epoch, UpdatedAt: epoch})
		if err != nil {
			t.Fatalf("RegisterSnapshot() error = %v", err)
		}
		if got.ID != "s1" {
			t.Errorf("RegisterSnapshot() ID = %q, want existing s1", got.ID)
		}
		if got.Status != model.ProcessingPending || got.ComparisonKey != nil {
			t.Errorf("reset snapshot = %s with key %v, want pending without keys", got.Status, got.ComparisonKey)
		}
	})

	t.Run("finalized build", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		seedBuild(t, db, "p", "b1")
		if _, err := db.UpdateBuildStatus(ctx, "b1", model.BuildFailed, epoch); err != nil {
			t.Fatal(err)
		}

		_, err := db.RegisterSnapshot(ctx, &model.Snapshot{ID: "s", BuildID: "b1", Name: "x"})
		if !errors.Is(err, diffit.ErrBuildFinalized) {
			t.Errorf("RegisterSnapshot() error = %v, want ErrBuildFinalized", err)
		}
	})
}

func TestSQLDatabase_RecomputeBuildStats(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProject(t, db, "p")
	seedBuild(t, db, "p", "b1")

	changed := seedSnapshot(t, db, "b1", "s1", "a")
	complete(t, db, changed, model.ProcessingCompleted, 1.5)
	same := seedSnapshot(t, db, "b1", "s2", "b")
	complete(t, db, same, model.ProcessingCompleted, 0)
	seedSnapshot(t, db, "b1", "s3", "c")

	if _, err := db.SetReviewStatus(ctx, "s1", model.ReviewApproved, nil, epoch); err != nil {
		t.Fatalf("SetReviewStatus() error = %v", err)
	}

	tests := []struct {
		countUnchanged bool
		wantApproved   int
	}{
		{false, 1},
		{true, 2},
	}
	for _, tt := range tests {
		if err := db.RecomputeBuildStats(ctx, "b1", tt.countUnchanged, epoch); err != nil {
			t.Fatalf("RecomputeBuildStats() error = %v", err)
		}
		b, _ := db.GetBuild(ctx, "b1")
		if b.TotalSnapshots != 3 || b.ChangedSnapshots != 1 || b.ApprovedSnapshots != tt.wantApproved {
			t.Errorf("countUnchanged=%v: counters = %d/%d/%d, want 3/1/%d", tt.countUnchanged,
				b.TotalSnapshots, b.ChangedSnapshots, b.ApprovedSnapshots, tt.wantApproved)
		}
	}
}

func TestSQLDatabase_FinalizeBuild(t *testing.T) {
	ctx := context.Background()
	decide := func(c diffit.StatusCounts) (model.BuildStatus, error) {
		if c.InFlight() > 0 {
			return "", diffit.ErrNotReady
		}
		if c[model.ProcessingFailed] > 0 {
			return model.BuildFailed, nil
		}
		return model.BuildCompleted, nil
	}

	t.Run("not ready leaves build unchanged", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		seedBuild(t, db, "p", "b1")
		seedSnapshot(t, db, "b1", "s1", "a")

		if _, err := db.FinalizeBuild(ctx, "b1", decide, epoch); !errors.Is(err, diffit.ErrNotReady) {
			t.Fatalf("FinalizeBuild() error = %v, want ErrNotReady", err)
		}
		b, _ := db.GetBuild(ctx, "b1")
		if b.Status != model.BuildProcessing || b.FinishedAt != nil {
			t.Errorf("build = %s finished %v, want processing and unfinished", b.Status, b.FinishedAt)
		}
	})

	t.Run("failed snapshot fails the build", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		seedBuild(t, db, "p", "b1")
		complete(t, db, seedSnapshot(t, db, "b1", "s1", "a"), model.ProcessingFailed, 0)
		complete(t, db, seedSnapshot(t, db, "b1", "s2", "b"), model.ProcessingCompleted, 0)

		b, err := db.FinalizeBuild(ctx, "b1", decide, epoch)
		if err != nil {
			t.Fatalf("FinalizeBuild() error = %v", err)
		}
		if b.Status != model.BuildFailed || b.FinishedAt == nil {
			t.Errorf("build = %s finished %v, want failed with finished_at", b.Status, b.FinishedAt)
		}
	})

	t.Run("finalized build is returned unchanged", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		seedBuild(t, db, "p", "b1")

		first, err := db.FinalizeBuild(ctx, "b1", decide, epoch)
		if err != nil {
			t.Fatalf("FinalizeBuild() error = %v", err)
		}
		later := epoch.Add(time.Hour)
		second, err := db.FinalizeBuild(ctx, "b1", decide, later)
		if err != nil {
			t.Fatalf("second FinalizeBuild() error = %v", err)
		}
		if second.Status != first.Status || !second.FinishedAt.Equal(*first.FinishedAt) {
			t.Errorf("second finalize changed the build: %s at %v", second.Status, second.FinishedAt)
		}
	})

	t.Run("missing build", func(t *testing.T) {
		db := newTestDB(t)
		b, err := db.FinalizeBuild(ctx, "nope", decide, epoch)
		if err != nil || b != nil {
			t.Errorf("FinalizeBuild() = %v, %v, want nil, nil", b, err)
		}
	})
}

func TestSQLDatabase_SetReviewStatus(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedProject(t, db, "p")
	seedBuild(t, db, "p", "b1")
	unchanged := seedSnapshot(t, db, "b1", "s1", "a")
	complete(t, db, unchanged, model.ProcessingCompleted, 0)
	changed := seedSnapshot(t, db, "b1", "s2", "b")
	complete(t, db, changed, model.ProcessingCompleted, 2)

	if _, err := db.SetReviewStatus(ctx, "s1", model.ReviewApproved, nil, epoch); !errors.Is(err, diffit.ErrNotReviewable) {
		t.Errorf("review unchanged snapshot error = %v, want ErrNotReviewable", err)
	}

	reviewer := "ana"
	got, err := db.SetReviewStatus(ctx, "s2", model.ReviewRejected, &reviewer, epoch)
	if err != nil {
		t.Fatalf("SetReviewStatus() error = %v", err)
	}
	if got.ReviewStatus != model.ReviewRejected || got.ReviewedBy == nil || *got.ReviewedBy != "ana" {
		t.Errorf("reviewed snapshot = %s by %v", got.ReviewStatus, got.ReviewedBy)
	}

	missing, err := db.SetReviewStatus(ctx, "nope", model.ReviewApproved, nil, epoch)
	if err != nil || missing != nil {
		t.Errorf("SetReviewStatus(missing) = %v, %v, want nil, nil", missing, err)
	}
}

func TestSQLDatabase_SaveSnapshotResult_DeletedSnapshot(t *testing.T) {
	db := newTestDB(t)
	seedProject(t, db, "p")
	seedBuild(t, db, "p", "b1")
	s := seedSnapshot(t, db, "b1", "s1", "a")

	if _, err := db.DeleteBuild(context.Background(), "b1"); err != nil {
		t.Fatalf("DeleteBuild() error = %v", err)
	}
	s.Status = model.ProcessingCompleted
	ok, err := db.SaveSnapshotResult(context.Background(), s)
	if err != nil {
		t.Fatalf("SaveSnapshotResult() error = %v", err)
	}
	if ok {
		t.Error("SaveSnapshotResult() = true for a deleted snapshot")
	}
}

func newBaseline(id string, version int64) *model.Baseline {
	return &model.Baseline{
		ID: id, ProjectID: "p", Name: "home", Branch: "main", Browser: "chrome", Viewport: "1280x720",
		Width: 10, Height: 10, ImageKey: "projects/p/baselines/" + id + ".png",
		Version: version, IsCurrent: true, CreatedAt: epoch.Add(time.Duration(version) * time.Minute),
	}
}

func TestSQLDatabase_PromoteBaseline(t *testing.T) {
	ctx := context.Background()
	tuple := model.Tuple{ProjectID: "p", Name: "home", Branch: "main", Browser: "chrome", Viewport: "1280x720"}

	t.Run("creates head then advances it", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")

		if err := db.PromoteBaseline(ctx, newBaseline("b1", 1), nil); err != nil {
			t.Fatalf("first PromoteBaseline() error = %v", err)
		}
		head, err := db.GetBaselineHead(ctx, tuple)
		if err != nil || head == nil {
			t.Fatalf("GetBaselineHead() = %v, %v", head, err)
		}
		if err := db.PromoteBaseline(ctx, newBaseline("b2", 2), head); err != nil {
			t.Fatalf("second PromoteBaseline() error = %v", err)
		}

		head, _ = db.GetBaselineHead(ctx, tuple)
		if head.CurrentBaselineID != "b2" || head.Version != 2 {
			t.Errorf("head = %s v%d, want b2 v2", head.CurrentBaselineID, head.Version)
		}
		old, _ := db.GetBaseline(ctx, "b1")
		if old.IsCurrent || old.RetiredAt == nil {
			t.Errorf("previous baseline current=%v retired=%v, want retired", old.IsCurrent, old.RetiredAt)
		}

		history, err := db.ListBaselineHistory(ctx, tuple)
		if err != nil {
			t.Fatalf("ListBaselineHistory() error = %v", err)
		}
		if len(history) != 2 || history[0].ID != "b2" {
			t.Errorf("history = %d entries starting %q, want 2 starting b2", len(history), history[0].ID)
		}
	})

	t.Run("stale head loses", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		if err := db.PromoteBaseline(ctx, newBaseline("b1", 1), nil); err != nil {
			t.Fatal(err)
		}
		stale, _ := db.GetBaselineHead(ctx, tuple)

		if err := db.PromoteBaseline(ctx, newBaseline("b2", 2), stale); err != nil {
			t.Fatalf("winner PromoteBaseline() error = %v", err)
		}
		err := db.PromoteBaseline(ctx, newBaseline("b3", 2), stale)
		if !errors.Is(err, diffit.ErrPromotionConflict) {
			t.Fatalf("loser PromoteBaseline() error = %v, want ErrPromotionConflict", err)
		}

		if b, _ := db.GetBaseline(ctx, "b3"); b != nil {
			t.Error("losing baseline was inserted")
		}
		current, _, _ := db.ListBaselines(ctx, "p", false, model.NewPageParams(1, 20))
		if len(current) != 1 || current[0].ID != "b2" {
			t.Errorf("current baselines = %v, want only b2", current)
		}
	})

	t.Run("concurrent first promotion loses", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		if err := db.PromoteBaseline(ctx, newBaseline("b1", 1), nil); err != nil {
			t.Fatal(err)
		}
		err := db.PromoteBaseline(ctx, newBaseline("b2", 1), nil)
		if !errors.Is(err, diffit.ErrPromotionConflict) {
			t.Errorf("PromoteBaseline() error = %v, want ErrPromotionConflict", err)
		}
	})

	t.Run("deleting the current baseline clears the head", func(t *testing.T) {
		db := newTestDB(t)
		seedProject(t, db, "p")
		if err := db.PromoteBaseline(ctx, newBaseline("b1", 1), nil); err != nil {
			t.Fatal(err)
		}

		ok, err := db.DeleteBaseline(ctx, "b1")
		if err != nil || !ok {
			t.Fatalf("DeleteBaseline() = %v, %v", ok, err)
		}
		head, err := db.GetBaselineHead(ctx, tuple)
		if err != nil || head != nil {
			t.Errorf("GetBaselineHead() = %v, %v, want nil, nil", head, err)
		}
	})
}

func TestSQLDatabase_Rebind(t *testing.T) {
	sqlite := &SQLDatabase{dialect: migrations.SQLite}
	pg := &SQLDatabase{dialect: migrations.Postgres}
	query := "SELECT * FROM t WHERE a = ? AND b IN (?, ?)"

	if got := sqlite.q(query); got != query {
		t.Errorf("sqlite q() = %q, want unchanged", got)
	}
	want := "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)"
	if got := pg.q(query); got != want {
		t.Errorf("postgres q() = %q, want %q", got, want)
	}
}
