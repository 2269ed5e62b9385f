package store

import (
	"context"
	"errors"
	"time"

	"masterchain.app/orchestrator/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrTerminal is returned when a mutation targets a job already in a
// terminal state.
var ErrTerminal = errors.New("job is terminal")

// ErrInvalidTransition is returned when a status change is not an edge of
// the job state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// HistoryFilter narrows history listings.
type HistoryFilter struct {
	Status    model.JobStatus
	Operation model.Operation
	Since     *time.Time
	Limit     int
}

// HistoryStore archives terminal jobs and serves listHistory. The live job
// store remains the single writer; history is append-only from its
// perspective.
type HistoryStore interface {
	Archive(ctx context.Context, summary model.JobSummary) error
	ListByOwner(ctx context.Context, ownerID string, filter HistoryFilter) ([]model.JobSummary, error)
}
