package diffit

import (
	"context"
	"fmt"

	"diffit/internal/model"
	"diffit/internal/pixeldiff"
)

// Options tunes the pipeline.
type Options struct {
	// Diff is passed to the pixel diff engine for every comparison.
	Diff pixeldiff.Options

	// CountUnchangedAsApproved counts completed snapshots without a visual
	// change as approved in the build counters. Their review status is left
	// untouched either way, since they never need review.
	CountUnchangedAsApproved bool

	// Workers bounds how many snapshots of a batch are processed at once.
	Workers int
}

// DefaultOptions returns the pipeline defaults.
func DefaultOptions() Options {
	return Options{
		Diff:    pixeldiff.DefaultOptions(),
		Workers: 4,
	}
}

// Service is the orchestration layer behind the HTTP API and the CLI. It
// drives snapshots through the diff pipeline, applies review decisions,
// promotes baselines and keeps build counters consistent.
type Service struct {
	database Database
	store    ArtifactStore
	events   EventPublisher
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	opts     Options
}

// NewService creates a Service with the provided dependencies. A nil events
// publisher drops events.
func NewService(database Database, store ArtifactStore, events EventPublisher, logger Logger, clock Clock, idgen IDGenerator, opts Options) *Service {
	if events == nil {
		events = NopPublisher{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Service{
		database: database,
		store:    store,
		events:   events,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		opts:     opts,
	}
}

// Ping verifies that the database is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.database.Ping(ctx)
}

func (s *Service) getProject(ctx context.Context, id string) (*model.Project, error) {
	p, err := s.database.GetProject(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (s *Service) getBuild(ctx context.Context, id string) (*model.Build, error) {
	b, err := s.database.GetBuild(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading build: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func (s *Service) getSnapshot(ctx context.Context, id string) (*model.Snapshot, error) {
	snap, err := s.database.GetSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading snapshot: %w", err)
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, ErrNotFound)
	}
	return snap, nil
}

func (s *Service) getBaseline(ctx context.Context, id string) (*model.Baseline, error) {
	b, err := s.database.GetBaseline(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading baseline: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("baseline %s: %w", id, ErrNotFound)
	}
	return b, nil
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
