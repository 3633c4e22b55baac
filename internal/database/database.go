// Package database implements diffit.Database on SQLite and PostgreSQL with
// one set of hand-written queries.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/mattn/go-sqlite3"

	"diffit/internal/database/migrations"
	"diffit/internal/diffit"
)

// SQLDatabase implements diffit.Database on top of database/sql.
// Queries are written with ? placeholders and rebound for PostgreSQL.
type SQLDatabase struct {
	db      *sql.DB
	dialect migrations.Dialect
	path    string
}

// OpenSQLite opens and configures a SQLite database and brings its schema up
// to date. path can be a file path or ":memory:".
func OpenSQLite(path string) (*SQLDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db, migrations.SQLite); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDatabase{db: db, dialect: migrations.SQLite, path: path}, nil
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver and
// brings the schema up to date.
func OpenPostgres(ctx context.Context, dsn string) (*SQLDatabase, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrations.MigrateUp(db, migrations.Postgres); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLDatabase{db: db, dialect: migrations.Postgres}, nil
}

// OpenConnection opens a SQLite connection with the PRAGMAs diffit relies on.
// It is exported for tools and tests that need a configured connection
// without running migrations.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers and keeps ":memory:" databases whole.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// Dialect reports which SQL dialect the database speaks.
func (s *SQLDatabase) Dialect() migrations.Dialect {
	return s.dialect
}

// Path returns the SQLite file path, or "" for PostgreSQL.
func (s *SQLDatabase) Path() string {
	return s.path
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect)
}

// BackupTo writes a consistent copy of a SQLite database to destPath.
func (s *SQLDatabase) BackupTo(ctx context.Context, destPath string) error {
	if s.dialect != migrations.SQLite {
		return fmt.Errorf("backup is only supported for sqlite, use pg_dump for %s", s.dialect)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Ping verifies the connection.
func (s *SQLDatabase) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q rewrites ? placeholders into the form the dialect expects.
func (s *SQLDatabase) q(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate is appended to selects that must lock the row in a transaction.
func (s *SQLDatabase) forUpdate() string {
	if s.dialect == migrations.Postgres {
		return " FOR UPDATE"
	}
	return ""
}

func (s *SQLDatabase) exec(ctx context.Context, ex execer, query string, args ...any) (int64, error) {
	res, err := ex.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// inTx runs fn in a transaction that is committed when fn returns nil.
func (s *SQLDatabase) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLDatabase) count(ctx context.Context, ex execer, query string, args ...any) (int, error) {
	var n int
	if err := ex.QueryRowContext(ctx, s.q(query), args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure in either dialect.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// Compile-time check that SQLDatabase implements diffit.Database.
var _ diffit.Database = (*SQLDatabase)(nil)
