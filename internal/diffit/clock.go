package diffit

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time retrieval so pipeline timestamps are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the current UTC time truncated to microseconds, the
// precision both supported databases store.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// IDGenerator abstracts entity ID generation so tests are deterministic.
type IDGenerator interface {
	New() string
}

// UUIDGenerator produces random UUIDs for projects, builds, snapshots and baselines.
type UUIDGenerator struct{}

func (UUIDGenerator) New() string { return uuid.New().String() }
