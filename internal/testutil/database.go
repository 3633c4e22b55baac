package testutil

import (
	"testing"

	"diffit/internal/database"
)

// NewTestDatabase creates a new in-memory SQLite database with the schema
// migrated. The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLDatabase {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}
