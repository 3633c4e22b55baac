package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"projects", "builds", "snapshots", "baselines", "baseline_heads", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	err := CheckDBMigrationStatus(db, SQLite)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db, SQLite); err != nil {
		t.Errorf("Second MigrateUp() failed: %v", err)
	}
	if err := CheckDBMigrationStatus(db, SQLite); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestLatestVersion(t *testing.T) {
	for _, d := range []Dialect{SQLite, Postgres} {
		v, err := LatestVersion(d)
		if err != nil {
			t.Fatalf("LatestVersion(%s) error = %v", d, err)
		}
		if v < 1 {
			t.Errorf("LatestVersion(%s) = %d, want >= 1", d, v)
		}
	}

	if _, err := LatestVersion("oracle"); err == nil {
		t.Error("LatestVersion(oracle) expected error, got nil")
	}
}

func TestSchema_ForeignKeys(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO builds (id, project_id, build_number, branch, created_at, updated_at)
		VALUES ('b1', 'missing-project', 1, 'main', datetime('now'), datetime('now'))
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_OneCurrentBaselinePerTuple(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	mustExec(t, db, `INSERT INTO projects (id, name, slug, created_at, updated_at)
		VALUES ('p1', 'Shop', 'shop', datetime('now'), datetime('now'))`)

	insert := `INSERT INTO baselines (id, project_id, name, branch, browser, viewport, width, height,
		image_key, version, is_current, created_at)
		VALUES (?, 'p1', 'home', 'main', 'chrome', '1280x720', 10, 10, ?, ?, ?, datetime('now'))`

	mustExec(t, db, insert, "b1", "k1", 1, false)
	mustExec(t, db, insert, "b2", "k2", 2, true)

	if _, err := db.Exec(insert, "b3", "k3", 3, true); err == nil {
		t.Error("Expected unique violation for a second current baseline, but insert succeeded")
	}
	// Retired versions may pile up.
	mustExec(t, db, insert, "b4", "k4", 4, false)
}

func TestSchema_SnapshotTupleUnique(t *testing.T) {
	db := openTestDB(t)
	if err := MigrateUp(db, SQLite); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	mustExec(t, db, `INSERT INTO projects (id, name, slug, created_at, updated_at)
		VALUES ('p1', 'Shop', 'shop', datetime('now'), datetime('now'))`)
	mustExec(t, db, `INSERT INTO builds (id, project_id, build_number, branch, created_at, updated_at)
		VALUES ('b1', 'p1', 1, 'main', datetime('now'), datetime('now'))`)

	insert := `INSERT INTO snapshots (id, build_id, name, browser, viewport, created_at, updated_at)
		VALUES (?, 'b1', 'home', 'chrome', '1280x720', datetime('now'), datetime('now'))`
	mustExec(t, db, insert, "s1")
	if _, err := db.Exec(insert, "s2"); err == nil {
		t.Error("Expected unique violation for a duplicate snapshot, but insert succeeded")
	}
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("Exec(%q) failed: %v", query, err)
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every pooled connection would get its own in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}
	return db
}
