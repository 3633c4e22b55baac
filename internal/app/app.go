package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"diffit/internal/config"
	"diffit/internal/database"
	"diffit/internal/diffit"
	"diffit/internal/encryption"
	"diffit/internal/events"
	"diffit/internal/fs"
	"diffit/internal/imaging"
	"diffit/internal/pixeldiff"
	"diffit/internal/storage"
)

// App is the application layer between the CLI and diffit.Service.
// It constructs all dependencies from config, exposes the operations that
// take raw paths, and releases every resource on Close.
type App struct {
	cfg     *config.Config
	db      *database.SQLDatabase
	store   diffit.ArtifactStore
	events  diffit.EventPublisher
	service *diffit.Service
	slog    *slog.Logger
	logger  diffit.Logger
	op      *Operation
	logFile *os.File
}

// NewApp creates a fully wired App from cfg. operation names the CLI command
// being run (e.g. "serve", "import"). getenv is usually os.Getenv and is
// consulted for the encryption passphrase. The caller must call Close.
func NewApp(ctx context.Context, cfg *config.Config, operation string, getenv func(string) string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := NewOperation(operation, time.Now())
	sl, logFile, err := newLogger(cfg.LogDir, cfg.InstanceID, slog.LevelInfo)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	sl = sl.With("op", op.ID)
	logger := NewLogger(sl)

	a := &App{cfg: cfg, slog: sl, logger: logger, op: op, logFile: logFile}
	if err := a.wire(ctx, getenv); err != nil {
		a.closeResources()
		return nil, err
	}

	logger.Info("operation started", "operation", operation)
	return a, nil
}

func (a *App) wire(ctx context.Context, getenv func(string) string) error {
	db, err := database.NewDatabaseFromConfig(ctx, a.cfg.Database, a.cfg.InstanceID)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	store, err := storage.NewStoreFromConfig(ctx, a.cfg.Storage)
	if err != nil {
		return fmt.Errorf("creating artifact store: %w", err)
	}

	enc, err := encryption.NewEncryptorFromConfig(a.cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	if enc != nil {
		var dec diffit.DecryptionContext
		if passphrase := getenv(encryption.EnvPassphrase); passphrase != "" {
			dec, err = enc.Unlock(passphrase)
			if err != nil {
				return fmt.Errorf("unlocking encryption key: %w", err)
			}
		} else {
			a.logger.Warn("no encryption passphrase set, stored images cannot be read back", "env", encryption.EnvPassphrase)
		}
		store = storage.NewEncryptedStore(store, enc, dec)
	}
	if err := store.ValidateSetup(ctx); err != nil {
		return fmt.Errorf("validating artifact store: %w", err)
	}
	a.store = store

	pub, err := events.NewPublisherFromConfig(ctx, a.cfg.Events, a.logger)
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	a.events = pub

	a.service = diffit.NewService(db, store, pub, a.logger, diffit.RealClock{}, diffit.UUIDGenerator{}, ServiceOptions(a.cfg.Diff))
	return nil
}

// ServiceOptions maps the [diff] config section onto pipeline options.
func ServiceOptions(cfg config.DiffConfig) diffit.Options {
	opts := diffit.DefaultOptions()
	opts.Diff.Threshold = cfg.Threshold
	opts.Diff.IncludeAA = cfg.IncludeAA
	opts.CountUnchangedAsApproved = cfg.CountUnchangedAsApproved
	if cfg.Workers > 0 {
		opts.Workers = cfg.Workers
	}
	return opts
}

// Service returns the wired service.
func (a *App) Service() *diffit.Service { return a.service }

// Logger returns the application logger.
func (a *App) Logger() diffit.Logger { return a.logger }

// Slog returns the underlying structured logger.
func (a *App) Slog() *slog.Logger { return a.slog }

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Events returns the event publisher.
func (a *App) Events() diffit.EventPublisher { return a.events }

// Fail marks the operation as failed so Close logs it as such.
func (a *App) Fail(err error) {
	a.op.Finish(err)
}

// ImportDirectory submits every screenshot below dir into the build. The
// ignore patterns of the config and of dir's ignore file are applied.
func (a *App) ImportDirectory(ctx context.Context, buildID, dir string) (*diffit.BatchResult, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	ignore, err := fs.LoadIgnoreMatcher(absDir, a.cfg.Import.Ignore...)
	if err != nil {
		return nil, err
	}

	shots, err := fs.FindScreenshots(absDir, ignore)
	if err != nil {
		return nil, err
	}
	if len(shots) == 0 {
		return nil, fmt.Errorf("no screenshots found in %s: %w", absDir, diffit.ErrInvalidInput)
	}

	reqs := make([]diffit.SubmitSnapshotRequest, 0, len(shots))
	for _, shot := range shots {
		data, err := os.ReadFile(filepath.Join(absDir, filepath.FromSlash(shot.Path)))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", shot.Path, err)
		}
		reqs = append(reqs, diffit.SubmitSnapshotRequest{
			BuildID:  buildID,
			Name:     shot.Name,
			Browser:  shot.Browser,
			Viewport: shot.Viewport,
			Image:    data,
		})
	}
	a.logger.Info("importing screenshots", "dir", absDir, "build_id", buildID, "count", len(reqs))
	return a.service.SubmitBatch(ctx, reqs), nil
}

// BackupDatabase writes a copy of the SQLite database to destPath.
func (a *App) BackupDatabase(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("%s already exists", destPath)
	}
	return a.db.BackupTo(ctx, destPath)
}

// Close finishes the operation and closes all resources.
func (a *App) Close() error {
	a.op.Finish(nil)
	a.logger.Info("operation finished",
		"operation", a.op.Name,
		"status", a.op.Status,
		"duration", time.Since(a.op.StartedAt).Round(time.Millisecond),
	)
	return a.closeResources()
}

func (a *App) closeResources() error {
	var errs []error
	if c, ok := a.events.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing event publisher: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// CompareFiles diffs two image files without touching any database and
// returns the result. It backs the offline compare command.
func CompareFiles(basePath, cmpPath string, opts pixeldiff.Options) (*pixeldiff.Result, error) {
	base, err := decodeFile(basePath)
	if err != nil {
		return nil, err
	}
	cmp, err := decodeFile(cmpPath)
	if err != nil {
		return nil, err
	}
	return pixeldiff.Compare(base, cmp, opts)
}

func decodeFile(path string) (*imaging.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	m, err := imaging.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}
