// Package engine executes planned jobs: it schedules steps, enforces
// concurrency ceilings, retries transient provider failures, walks fallback
// chains, and gates step outputs through quality assessment.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"masterchain.app/orchestrator/common/id"
	"masterchain.app/orchestrator/common/logger"
	"masterchain.app/orchestrator/core/config"
	"masterchain.app/orchestrator/internal/model"
	"masterchain.app/orchestrator/internal/planner"
	"masterchain.app/orchestrator/internal/progress"
	"masterchain.app/orchestrator/internal/quality"
	"masterchain.app/orchestrator/internal/registry"
	"masterchain.app/orchestrator/internal/store"
)

var (
	ErrQuotaExceeded = errors.New("concurrent job quota exceeded")
	ErrInvalidInput  = errors.New("invalid job input")
)

// terminalRetention is how long finished jobs stay queryable in the live
// arena before the janitor evicts them. History remains available forever.
const terminalRetention = time.Hour

type SubmitRequest struct {
	OwnerID   string
	Operation model.Operation
	Tier      string
	InputRef  string
	Traits    model.InputTraits
}

// jobRun tracks an in-flight job so Cancel can reach its context.
type jobRun struct {
	cancel context.CancelCauseFunc
}

var (
	errUserCancel = errors.New("cancelled by user")
	errShutdown   = errors.New("engine shutting down")
)

type Engine struct {
	cfg       config.Config
	jobs      *store.JobStore
	history   store.HistoryStore
	planner   *planner.Planner
	assessor  *quality.Assessor
	registry  *registry.Registry
	publisher *progress.Publisher

	// global bounds simultaneously executing jobs across all owners
	global *semaphore.Weighted

	mu      sync.Mutex
	runs    map[int64]*jobRun
	active  map[string]int64 // owner -> running job count
	baseCtx context.Context

	wg sync.WaitGroup
}

func New(
	cfg config.Config,
	jobs *store.JobStore,
	history store.HistoryStore,
	pl *planner.Planner,
	assessor *quality.Assessor,
	reg *registry.Registry,
	publisher *progress.Publisher,
) *Engine {
	return &Engine{
		cfg:       cfg,
		jobs:      jobs,
		history:   history,
		planner:   pl,
		assessor:  assessor,
		registry:  reg,
		publisher: publisher,
		global:    semaphore.NewWeighted(cfg.Engine.MaxConcurrentJobs),
		runs:      make(map[int64]*jobRun),
		active:    make(map[string]int64),
		baseCtx:   context.Background(),
	}
}

// Run starts the janitor and blocks until ctx is done, then waits for
// in-flight jobs to settle. Job execution itself uses ctx as its base so
// shutdown cancels everything.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.baseCtx = ctx
	e.mu.Unlock()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Cancel every live run explicitly; a run submitted before
			// baseCtx was swapped in would otherwise never see shutdown.
			e.mu.Lock()
			for _, run := range e.runs {
				run.cancel(errShutdown)
			}
			e.mu.Unlock()
			e.wg.Wait()
			return
		case <-ticker.C:
			e.evictSettled()
		}
	}
}

// SubmitJob validates the request, enforces the owner's concurrency quota,
// and starts asynchronous execution. The returned job is a snapshot in the
// queued state.
func (e *Engine) SubmitJob(ctx context.Context, req SubmitRequest) (*model.Job, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	limits := e.cfg.Tiers.Limits(req.Tier)

	e.mu.Lock()
	if e.active[req.OwnerID] >= limits.MaxConcurrent {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: tier %s allows %d concurrent jobs", ErrQuotaExceeded, req.Tier, limits.MaxConcurrent)
	}
	e.active[req.OwnerID]++

	now := time.Now().UTC()
	job := &model.Job{
		ID:        id.New(),
		OwnerID:   req.OwnerID,
		Operation: req.Operation,
		Tier:      req.Tier,
		InputRef:  req.InputRef,
		Traits:    req.Traits,
		Status:    model.JobStatusQueued,
		Deadline:  now.Add(e.cfg.Engine.MaxProcessingTime),
		CreatedAt: now,
		UpdatedAt: now,
	}

	runCtx, cancel := context.WithCancelCause(e.baseCtx)
	e.runs[job.ID] = &jobRun{cancel: cancel}
	e.mu.Unlock()

	e.jobs.Create(job)
	snapshot, _ := e.jobs.Get(job.ID)
	e.publisher.Publish(ctx, snapshot)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(job.ID),
		OwnerID:   logger.Ptr(job.OwnerID),
		Operation: logger.Ptr(string(job.Operation)),
		Component: "engine",
	})
	slog.InfoContext(ctx, "job submitted", "tier", job.Tier, "deadline", job.Deadline)

	// Planning runs synchronously so budget and capability failures reach
	// the caller; execution is asynchronous from here on.
	if err := e.plan(ctx, job.ID); err != nil {
		failed, getErr := e.jobs.Get(job.ID)
		if getErr == nil {
			if archiveErr := e.history.Archive(ctx, store.Summary(failed)); archiveErr != nil {
				slog.ErrorContext(ctx, "archiving failed job", "error", archiveErr)
			}
			e.publisher.Publish(ctx, failed)
		}
		e.release(job.ID, job.OwnerID)
		return nil, err
	}

	e.wg.Add(1)
	go e.execute(runCtx, job.ID)

	snapshot, _ = e.jobs.Get(job.ID)
	return snapshot, nil
}

// Status returns a snapshot of the job.
func (e *Engine) Status(jobID int64) (*model.Job, error) {
	return e.jobs.Get(jobID)
}

// Subscribe returns a stream of updates for the job.
func (e *Engine) Subscribe(jobID int64) (<-chan progress.Update, func(), error) {
	if _, err := e.jobs.Get(jobID); err != nil {
		return nil, nil, err
	}
	ch, cancel := e.publisher.Subscribe(jobID)
	return ch, cancel, nil
}

// Cancel requests cancellation of a job owned by ownerID. Queued jobs are
// cancelled immediately; running jobs get their context cancelled and in
// flight provider calls a grace period to abort.
func (e *Engine) Cancel(ctx context.Context, jobID int64, ownerID string) error {
	owner, err := e.jobs.Owner(jobID)
	if err != nil {
		return err
	}
	if ownerID != "" && owner != ownerID {
		return store.ErrNotFound
	}

	snapshot, err := e.jobs.Get(jobID)
	if err != nil {
		return err
	}
	if snapshot.Status.Terminal() {
		return store.ErrTerminal
	}

	e.mu.Lock()
	run := e.runs[jobID]
	e.mu.Unlock()
	if run != nil {
		run.cancel(errUserCancel)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(jobID), Component: "engine"})
	slog.InfoContext(ctx, "cancellation requested")
	return nil
}

// ListHistory lists the owner's archived jobs.
func (e *Engine) ListHistory(ctx context.Context, ownerID string, filter store.HistoryFilter) ([]model.JobSummary, error) {
	return e.history.ListByOwner(ctx, ownerID, filter)
}

func validate(req SubmitRequest) error {
	if req.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", ErrInvalidInput)
	}
	if !req.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, req.Operation)
	}
	if !model.ValidTier(req.Tier) {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidInput, req.Tier)
	}
	if req.Operation != model.OperationGenerate && req.InputRef == "" {
		return fmt.Errorf("%w: operation %s requires input audio", ErrInvalidInput, req.Operation)
	}
	return nil
}

// release frees the owner slot and the run entry after a job settles.
func (e *Engine) release(jobID int64, ownerID string) {
	e.mu.Lock()
	if run, ok := e.runs[jobID]; ok {
		run.cancel(nil)
		delete(e.runs, jobID)
	}
	if e.active[ownerID] > 0 {
		e.active[ownerID]--
	}
	if e.active[ownerID] == 0 {
		delete(e.active, ownerID)
	}
	e.mu.Unlock()
}

// evictSettled drops terminal jobs past retention from the live arena.
func (e *Engine) evictSettled() {
	cutoff := time.Now().Add(-terminalRetention)
	for _, job := range e.jobs.All() {
		if job.Status.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			e.jobs.Remove(job.ID)
			e.publisher.Forget(job.ID)
		}
	}
}
