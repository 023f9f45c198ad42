// Package store declares interfaces for persisting entity run history.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("entity run not found")

// RunStatus mirrors the entity_runs status column.
type RunStatus string

// Entity run statuses persisted in entity_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunSuccess   RunStatus = "success"
	RunError     RunStatus = "error"
	RunRecovered RunStatus = "recovered"
)

// EntityRun models one worker attempt for a restaurant within a run.
type EntityRun struct {
	RunID      uuid.UUID
	Slug       string
	Restaurant string
	PlaceID    string
	StartedAt  time.Time
	// FinishedAt is nil while the worker is still running.
	FinishedAt *time.Time
	Status     RunStatus
	// Records is the kept review count after a recovery persist.
	Records      int64
	ErrorMessage *string
}

// EntityRunRepository persists the lifecycle of each entity within a run.
type EntityRunRepository interface {
	// StartEntity inserts (or idempotently resets) the running row.
	StartEntity(ctx context.Context, run EntityRun) error
	// CompleteEntity marks the row finished with the given status.
	CompleteEntity(
		ctx context.Context,
		runID uuid.UUID,
		slug string,
		finishedAt time.Time,
		status RunStatus,
		records int64,
		errMsg *string,
	) error
	// GetEntity loads a single row or returns ErrNotFound.
	GetEntity(ctx context.Context, runID uuid.UUID, slug string) (EntityRun, error)
	// ListRun returns every row of a run ordered by start time.
	ListRun(ctx context.Context, runID uuid.UUID) ([]EntityRun, error)
}
