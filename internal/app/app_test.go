package app

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"diffit/internal/config"
	"diffit/internal/diffit"
	"diffit/internal/model"
	"diffit/internal/pixeldiff"
	"diffit/internal/storage"
	"diffit/internal/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.NewConfig("test", base)
	cfg.Database = config.DatabaseConfig{Type: "memory"}
	cfg.Storage = config.StorageConfig{Type: "memory"}
	cfg.Events = config.EventsConfig{Type: "memory"}
	return cfg
}

func noEnv(string) string { return "" }

func newTestApp(t *testing.T, cfg *config.Config, getenv func(string) string) *App {
	t.Helper()
	a, err := NewApp(context.Background(), cfg, "test", getenv)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func newBuild(t *testing.T, svc *diffit.Service) *model.Build {
	t.Helper()
	ctx := context.Background()
	p, err := svc.CreateProject(ctx, diffit.CreateProjectRequest{Name: "Storefront"})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	b, err := svc.CreateBuild(ctx, diffit.CreateBuildRequest{ProjectID: p.ID, Branch: "main"})
	if err != nil {
		t.Fatalf("CreateBuild() error = %v", err)
	}
	return b
}

func writePNG(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("creating dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestNewApp_rejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Type = "oracle"

	if _, err := NewApp(context.Background(), cfg, "test", noEnv); err == nil {
		t.Fatal("expected error for unknown database type")
	}
}

func TestServiceOptions(t *testing.T) {
	opts := ServiceOptions(config.DiffConfig{Threshold: 0.25, IncludeAA: true, Workers: 0, CountUnchangedAsApproved: true})

	if opts.Diff.Threshold != 0.25 || !opts.Diff.IncludeAA {
		t.Errorf("unexpected diff options: %+v", opts.Diff)
	}
	if !opts.CountUnchangedAsApproved {
		t.Error("CountUnchangedAsApproved not carried over")
	}
	if opts.Workers != diffit.DefaultOptions().Workers {
		t.Errorf("Workers = %d, want default %d", opts.Workers, diffit.DefaultOptions().Workers)
	}
}

func TestApp_ImportDirectory(t *testing.T) {
	a := newTestApp(t, testConfig(t), noEnv)
	build := newBuild(t, a.Service())

	dir := t.TempDir()
	white := testutil.SolidPNG(t, 20, 20, testutil.White)
	writePNG(t, filepath.Join(dir, "chrome", "1280x720", "home.png"), white)
	writePNG(t, filepath.Join(dir, "chrome", "1280x720", "cart.png"), white)
	writePNG(t, filepath.Join(dir, "drafts", "wip.png"), white)
	writePNG(t, filepath.Join(dir, ".diffitignore"), []byte("drafts\n"))

	result, err := a.ImportDirectory(context.Background(), build.ID, dir)
	if err != nil {
		t.Fatalf("ImportDirectory() error = %v", err)
	}
	if result.Submitted != 2 || result.Failed != 0 {
		t.Fatalf("Submitted = %d, Failed = %d, want 2 and 0", result.Submitted, result.Failed)
	}

	page, err := a.Service().ListSnapshots(context.Background(), build.ID, diffit.SnapshotFilter{}, model.NewPageParams(1, 20))
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("Total = %d, want 2", page.Total)
	}
	for _, snap := range page.Items {
		if snap.Browser != "chrome" || snap.Viewport != "1280x720" {
			t.Errorf("snapshot %s has browser %q viewport %q", snap.Name, snap.Browser, snap.Viewport)
		}
	}
}

func TestApp_ImportDirectory_empty(t *testing.T) {
	a := newTestApp(t, testConfig(t), noEnv)
	build := newBuild(t, a.Service())

	_, err := a.ImportDirectory(context.Background(), build.ID, t.TempDir())
	if !errors.Is(err, diffit.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestApp_encryptedStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption = config.EncryptionConfig{Type: "test"}
	ctx := context.Background()
	png := testutil.SolidPNG(t, 8, 8, testutil.Red)

	t.Run("unlocked", func(t *testing.T) {
		a := newTestApp(t, cfg, func(string) string { return "secret" })
		build := newBuild(t, a.Service())

		snap, err := a.Service().SubmitSnapshot(ctx, diffit.SubmitSnapshotRequest{BuildID: build.ID, Name: "home", Image: png})
		if err != nil {
			t.Fatalf("SubmitSnapshot() error = %v", err)
		}
		data, err := a.Service().SnapshotImage(ctx, snap.ID, model.ImageComparison, 0)
		if err != nil {
			t.Fatalf("SnapshotImage() error = %v", err)
		}
		if len(data) == 0 {
			t.Error("expected image bytes")
		}
	})

	t.Run("locked", func(t *testing.T) {
		a := newTestApp(t, cfg, noEnv)
		build := newBuild(t, a.Service())

		snap, err := a.Service().SubmitSnapshot(ctx, diffit.SubmitSnapshotRequest{BuildID: build.ID, Name: "home", Image: png})
		if err != nil {
			t.Fatalf("SubmitSnapshot() error = %v", err)
		}
		_, err = a.Service().SnapshotImage(ctx, snap.ID, model.ImageComparison, 0)
		if !errors.Is(err, storage.ErrLocked) {
			t.Fatalf("expected ErrLocked, got %v", err)
		}
	})
}

func TestCompareFiles(t *testing.T) {
	dir := t.TempDir()
	base := testutil.SolidImage(100, 100, testutil.White)
	changed := testutil.WithBlock(base, image.Rect(0, 0, 10, 10), testutil.Red)
	writePNG(t, filepath.Join(dir, "base.png"), testutil.PNG(t, base))
	writePNG(t, filepath.Join(dir, "changed.png"), testutil.PNG(t, changed))
	writePNG(t, filepath.Join(dir, "small.png"), testutil.SolidPNG(t, 10, 10, testutil.White))

	res, err := CompareFiles(filepath.Join(dir, "base.png"), filepath.Join(dir, "changed.png"), pixeldiff.DefaultOptions())
	if err != nil {
		t.Fatalf("CompareFiles() error = %v", err)
	}
	if res.DiffPixels != 100 || res.Percentage != 1 {
		t.Errorf("DiffPixels = %d, Percentage = %v, want 100 and 1", res.DiffPixels, res.Percentage)
	}

	_, err = CompareFiles(filepath.Join(dir, "base.png"), filepath.Join(dir, "small.png"), pixeldiff.DefaultOptions())
	if !errors.Is(err, pixeldiff.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	if _, err := CompareFiles(filepath.Join(dir, "missing.png"), filepath.Join(dir, "base.png"), pixeldiff.DefaultOptions()); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestApp_BackupDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database = config.DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(cfg.BaseDir, "db")}
	a := newTestApp(t, cfg, noEnv)
	newBuild(t, a.Service())

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := a.BackupDatabase(context.Background(), dest); err != nil {
		t.Fatalf("BackupDatabase() error = %v", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("backup is empty")
	}

	if err := a.BackupDatabase(context.Background(), dest); err == nil {
		t.Error("expected error when the destination exists")
	}
}
