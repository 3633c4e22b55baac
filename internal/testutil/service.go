package testutil

import (
	"testing"

	"diffit/internal/database"
	"diffit/internal/diffit"
	"diffit/internal/events"
	"diffit/internal/storage"
)

// TestEnv bundles a Service with the fakes behind it so tests can inspect
// stored rows, blobs and published events.
type TestEnv struct {
	Service *diffit.Service
	DB      *database.SQLDatabase
	Store   *storage.MemoryStore
	Events  *events.MemoryPublisher
	Clock   *StubClock
	IDs     *StubIDGenerator
}

// NewTestEnv creates a Service on an in-memory database and store. opts
// defaults to diffit.DefaultOptions when nil.
func NewTestEnv(t *testing.T, opts *diffit.Options) *TestEnv {
	t.Helper()

	env := &TestEnv{
		DB:     NewTestDatabase(t),
		Store:  storage.NewMemoryStore(),
		Events: events.NewMemoryPublisher(),
		Clock:  FixedClock(),
		IDs:    NewStubIDGenerator(),
	}
	o := diffit.DefaultOptions()
	if opts != nil {
		o = *opts
	}
	env.Service = diffit.NewService(env.DB, env.Store, env.Events, diffit.NewNopLogger(), env.Clock, env.IDs, o)
	return env
}
