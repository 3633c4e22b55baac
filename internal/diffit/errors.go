package diffit

import "errors"

// Sentinel errors returned by the service. Callers match them with errors.Is;
// the HTTP layer maps them onto status codes.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	// ErrBuildFinalized is returned when a snapshot is submitted to, or a
	// status change requested for, a build that is already completed or failed.
	ErrBuildFinalized = errors.New("build is finalized")

	// ErrNoBaseline means no current baseline exists for a tuple. The pipeline
	// absorbs it by bootstrapping the snapshot as the first baseline.
	ErrNoBaseline = errors.New("no baseline")

	// ErrPromotionConflict is returned when another promotion for the same
	// tuple won the race.
	ErrPromotionConflict = errors.New("baseline promotion conflict")

	// ErrNotReady is returned by FinalizeBuild while snapshots are in flight.
	ErrNotReady = errors.New("build not ready")

	ErrNotReviewable = errors.New("snapshot is not reviewable")
	ErrNotPromotable = errors.New("snapshot is not promotable")
)
