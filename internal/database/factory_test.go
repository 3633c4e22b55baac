package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"diffit/internal/config"
)

func TestNewDatabaseFromConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("memory database", func(t *testing.T) {
		got, err := NewDatabaseFromConfig(ctx, config.DatabaseConfig{Type: "memory"}, "test-instance")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if err := got.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "db")
		got, err := NewDatabaseFromConfig(ctx, config.DatabaseConfig{Type: "sqlite", DataDir: dir}, "test-instance")
		if err != nil {
			t.Fatalf("NewDatabaseFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		want := filepath.Join(dir, "test-instance.db")
		if got.Path() != want {
			t.Errorf("Path() = %q, want %q", got.Path(), want)
		}
		if _, err := os.Stat(want); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("sqlite without data dir", func(t *testing.T) {
		if _, err := NewDatabaseFromConfig(ctx, config.DatabaseConfig{Type: "sqlite"}, "x"); err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing data_dir")
		}
	})

	t.Run("postgres without dsn", func(t *testing.T) {
		if _, err := NewDatabaseFromConfig(ctx, config.DatabaseConfig{Type: "postgres"}, "x"); err == nil {
			t.Error("NewDatabaseFromConfig() expected error for missing dsn")
		}
	})

	t.Run("unknown type", func(t *testing.T) {
		if _, err := NewDatabaseFromConfig(ctx, config.DatabaseConfig{Type: "oracle"}, "x"); err == nil {
			t.Error("NewDatabaseFromConfig() expected error for unknown type")
		}
	})
}
