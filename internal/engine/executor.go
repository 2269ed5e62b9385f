package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"masterchain.app/orchestrator/common/logger"
	"masterchain.app/orchestrator/internal/model"
	"masterchain.app/orchestrator/internal/planner"
	"masterchain.app/orchestrator/internal/store"
)

// execute drives one job from queued to a terminal state. It owns the job's
// whole lifecycle: the global slot, planning, step scheduling, and terminal
// bookkeeping.
func (e *Engine) execute(ctx context.Context, jobID int64) {
	defer e.wg.Done()

	snapshot, err := e.jobs.Get(jobID)
	if err != nil {
		slog.ErrorContext(ctx, "job vanished before execution", "job_id", jobID, "error", err)
		return
	}
	defer e.release(jobID, snapshot.OwnerID)

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		JobID:     logger.Ptr(jobID),
		OwnerID:   logger.Ptr(snapshot.OwnerID),
		Operation: logger.Ptr(string(snapshot.Operation)),
		Component: "engine",
	})

	span := logger.StartSpan(ctx, "engine.execute")
	defer span.End()
	ctx = span.Context()

	deadlineCtx, cancelDeadline := context.WithDeadline(ctx, snapshot.Deadline)
	defer cancelDeadline()

	// Wait for a global execution slot. Queued jobs hold no slot; the
	// ceiling applies to executing jobs only.
	if err := e.global.Acquire(deadlineCtx, 1); err != nil {
		e.settle(ctx, jobID, deadlineCtx)
		return
	}
	defer e.global.Release(1)

	if _, err := e.jobs.Transition(jobID, model.JobStatusRunning); err != nil {
		e.settle(ctx, jobID, deadlineCtx)
		return
	}
	_, _ = e.jobs.Apply(jobID, func(job *model.Job) error {
		job.TotalCost = 0
		return nil
	})
	e.publishSnapshot(ctx, jobID)

	e.runSteps(deadlineCtx, jobID)
	e.settle(ctx, jobID, deadlineCtx)
}

// plan transitions the job to planning and builds its step plan.
func (e *Engine) plan(ctx context.Context, jobID int64) error {
	if _, err := e.jobs.Transition(jobID, model.JobStatusPlanning); err != nil {
		return err
	}
	e.publishSnapshot(ctx, jobID)

	snapshot, err := e.jobs.Get(jobID)
	if err != nil {
		return err
	}

	planErr := e.planner.Plan(ctx, snapshot)
	if planErr != nil {
		code := model.ErrCodePlanningFailed
		if errors.Is(planErr, planner.ErrBudgetExceeded) {
			code = model.ErrCodeBudgetExceeded
		}
		slog.WarnContext(ctx, "planning failed", "job_id", jobID, "error", planErr)
		_, _ = e.jobs.Apply(jobID, func(job *model.Job) error {
			if err := store.TransitionJob(job, model.JobStatusFailed); err != nil {
				return err
			}
			job.ErrorCode = code
			return nil
		})
		return planErr
	}

	_, err = e.jobs.Apply(jobID, func(job *model.Job) error {
		job.Plan = snapshot.Plan
		job.TotalCost = snapshot.TotalCost
		return nil
	})
	return err
}

// runSteps schedules plan steps respecting dependencies, running eligible
// steps concurrently, until the plan finishes or something fails.
func (e *Engine) runSteps(ctx context.Context, jobID int64) {
	for {
		if ctx.Err() != nil {
			return
		}

		snapshot, err := e.jobs.Get(jobID)
		if err != nil || snapshot.Status.Terminal() {
			return
		}

		eligible, pending := eligibleSteps(snapshot)
		if len(eligible) == 0 {
			if pending == 0 {
				return
			}
			// Pending steps whose dependencies failed can never run.
			return
		}

		var wg sync.WaitGroup
		for _, step := range eligible {
			wg.Add(1)
			go func(stepID int64) {
				defer wg.Done()
				e.runStep(ctx, jobID, stepID)
			}(step.ID)
		}
		wg.Wait()

		// Stop scheduling once any step settled the job.
		snapshot, err = e.jobs.Get(jobID)
		if err != nil || snapshot.Status.Terminal() {
			return
		}
		if planFailed(snapshot) {
			return
		}
		if planDone(snapshot) {
			return
		}
	}
}

// eligibleSteps returns steps ready to dispatch and the count of steps that
// are still pending overall.
func eligibleSteps(job *model.Job) ([]*model.Step, int) {
	succeeded := make(map[int64]bool, len(job.Plan))
	failed := false
	for _, step := range job.Plan {
		switch step.Status {
		case model.StepStatusSucceeded:
			succeeded[step.ID] = true
		case model.StepStatusFailed, model.StepStatusFallbackExhausted:
			failed = true
		}
	}

	var eligible []*model.Step
	pending := 0
	for _, step := range job.Plan {
		if step.Status != model.StepStatusPending {
			continue
		}
		pending++
		if failed {
			continue
		}
		ready := true
		for _, dep := range step.DependsOn {
			if !succeeded[dep] {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, step)
		}
	}
	return eligible, pending
}

func planDone(job *model.Job) bool {
	for _, step := range job.Plan {
		if step.Status != model.StepStatusSucceeded {
			return false
		}
	}
	return true
}

func planFailed(job *model.Job) bool {
	for _, step := range job.Plan {
		if step.Status == model.StepStatusFailed || step.Status == model.StepStatusFallbackExhausted {
			return true
		}
	}
	return false
}

// settle drives the job to its terminal state after execution stops,
// distinguishing user cancel, deadline, shutdown, provider failure, and success, then
// archives and publishes the final update.
func (e *Engine) settle(ctx context.Context, jobID int64, runCtx context.Context) {
	snapshot, err := e.jobs.Get(jobID)
	if err != nil {
		return
	}

	if !snapshot.Status.Terminal() {
		target := model.JobStatusFailed
		code := snapshot.ErrorCode

		switch {
		case errors.Is(context.Cause(runCtx), errUserCancel):
			// Grace period lets in-flight provider calls abort cleanly.
			if hasDispatched(snapshot) {
				time.Sleep(e.cfg.Engine.CancelGrace)
			}
			target = model.JobStatusCancelled
			code = model.ErrCodeCancelledByUser
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			target = model.JobStatusTimedOut
			code = model.ErrCodeJobTimeout
		case planDone(snapshot) && len(snapshot.Plan) > 0:
			target = model.JobStatusCompleted
			code = ""
		case runCtx.Err() != nil:
			// Engine shutdown, not a provider fault.
			target = model.JobStatusCancelled
			code = model.ErrCodeEngineShutdown
		default:
			if code == "" {
				code = model.ErrCodeProviderUnavailable
			}
		}

		snapshot, err = e.jobs.Apply(jobID, func(job *model.Job) error {
			if err := store.TransitionJob(job, target); err != nil {
				return err
			}
			job.ErrorCode = code
			if target == model.JobStatusCompleted {
				if last := lastStep(job); last != nil {
					job.ResultRef = last.ResultRef
				}
			}
			return nil
		})
		if err != nil {
			slog.ErrorContext(ctx, "settling job failed", "job_id", jobID, "error", err)
			return
		}
	}

	if err := e.history.Archive(ctx, store.Summary(snapshot)); err != nil {
		slog.ErrorContext(ctx, "archiving job failed", "job_id", jobID, "error", err)
	}

	e.publisher.Publish(ctx, snapshot)
	slog.InfoContext(ctx, "job settled",
		"job_id", jobID,
		"status", snapshot.Status,
		"error_code", snapshot.ErrorCode,
		"total_cost", snapshot.TotalCost)
}

func hasDispatched(job *model.Job) bool {
	for _, step := range job.Plan {
		if step.Status == model.StepStatusDispatched {
			return true
		}
	}
	return false
}

func lastStep(job *model.Job) *model.Step {
	var last *model.Step
	for _, step := range job.Plan {
		if step.Status != model.StepStatusSucceeded {
			continue
		}
		if last == nil || step.Order > last.Order {
			last = step
		}
	}
	return last
}

func (e *Engine) publishSnapshot(ctx context.Context, jobID int64) {
	if snapshot, err := e.jobs.Get(jobID); err == nil {
		e.publisher.Publish(ctx, snapshot)
	}
}
