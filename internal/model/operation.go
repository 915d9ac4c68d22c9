package model

import "time"

// Operation statuses.
const (
	OperationRunning = "running"
	OperationSuccess = "success"
	OperationError   = "error"
)

// Operation is one entry of the admin operations journal: an export,
// import or database backup started from the CLI.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Finished reports whether the operation has recorded an outcome.
func (op *Operation) Finished() bool {
	return op.FinishedAt != nil
}
