package app

import "time"

// Operation tracks one CLI invocation from start to finish. Its ID tags the
// log lines the invocation writes.
type Operation struct {
	ID        string
	Name      string
	StartedAt time.Time
	Status    string // "running", "success" or "error"
}

// NewOperation starts a new operation at now.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		ID:        now.UTC().Format("20060102T150405Z"),
		Name:      name,
		StartedAt: now,
		Status:    "running",
	}
}

// Finish records the outcome. Only the first call has an effect.
func (op *Operation) Finish(err error) {
	if op.Finished() {
		return
	}
	if err != nil {
		op.Status = "error"
		return
	}
	op.Status = "success"
}

// Finished returns true once Finish has been called.
func (op *Operation) Finished() bool {
	return op.Status != "running"
}
