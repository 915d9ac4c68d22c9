package app

import (
	"context"
	"fmt"

	"statesync/internal/database"
	"statesync/internal/model"
)

// Operation is a journaled unit of work such as an export or an import.
// Starting it writes a running entry; Finish records the outcome.
type Operation struct {
	db    database.Database
	entry *model.Operation
}

func startOperation(ctx context.Context, db database.Database, name, parameters string) (*Operation, error) {
	entry, err := db.StartOperation(ctx, name, parameters)
	if err != nil {
		return nil, fmt.Errorf("journaling %s: %w", name, err)
	}
	return &Operation{db: db, entry: entry}, nil
}

// ID returns the journal id.
func (op *Operation) ID() int64 { return op.entry.ID }

// Finish marks the operation success when err is nil and error otherwise.
// It is safe to call more than once; only the first call is recorded.
func (op *Operation) Finish(ctx context.Context, err error) error {
	if op.entry.Status != model.OperationRunning {
		return nil
	}
	status := model.OperationSuccess
	if err != nil {
		status = model.OperationError
	}
	if ferr := op.db.FinishOperation(context.WithoutCancel(ctx), op.entry.ID, status); ferr != nil {
		return fmt.Errorf("finishing operation %d: %w", op.entry.ID, ferr)
	}
	op.entry.Status = status
	return nil
}
