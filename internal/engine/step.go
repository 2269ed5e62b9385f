package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"masterchain.app/orchestrator/common/logger"
	"masterchain.app/orchestrator/internal/adapter"
	"masterchain.app/orchestrator/internal/model"
	"masterchain.app/orchestrator/internal/store"
)

// runStep executes one plan step to a terminal step status: invocation with
// retries and fallbacks, then the quality gate with bounded re-runs.
func (e *Engine) runStep(ctx context.Context, jobID, stepID int64) {
	snapshot, err := e.jobs.Get(jobID)
	if err != nil {
		return
	}
	step := snapshot.StepByID(stepID)
	if step == nil || step.Status != model.StepStatusPending {
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		StepID:    logger.Ptr(stepID),
		Component: "engine",
	})

	inputRef := stepInput(snapshot, step)

	now := time.Now().UTC()
	_, err = e.jobs.Apply(jobID, func(job *model.Job) error {
		s := job.StepByID(stepID)
		if s == nil {
			return store.ErrNotFound
		}
		s.Status = model.StepStatusDispatched
		s.StartedAt = &now
		return nil
	})
	if err != nil {
		return
	}
	e.publishSnapshot(ctx, jobID)

	params := cloneParams(step.Params)

	for {
		result, kind, invkErr := e.invokeChain(ctx, jobID, step, inputRef, params)
		if result == nil {
			e.failStep(ctx, jobID, stepID, kind, invkErr)
			return
		}

		report := e.assessor.Assess(ctx, step, result)
		report.Attempt = step.QualityAttempt + 1

		passed := report.Passed
		retry := !passed && step.QualityAttempt < e.assessor.MaxRetries()
		critical := e.assessor.Critical(step.Capability)

		_, err = e.jobs.Apply(jobID, func(job *model.Job) error {
			s := job.StepByID(stepID)
			if s == nil {
				return store.ErrNotFound
			}
			s.Reports = append(s.Reports, report)
			switch {
			case passed:
				finishStep(s, result)
			case retry:
				s.QualityAttempt++
				if err := store.TransitionJob(job, model.JobStatusQualityCheck); err != nil {
					return err
				}
			case critical:
				s.Status = model.StepStatusFailed
				s.Error = fmt.Sprintf("quality %.2f below threshold %.2f", report.Overall, report.Threshold)
				finishedAt := time.Now().UTC()
				s.FinishedAt = &finishedAt
				job.ErrorCode = model.ErrCodeQualityThresholdNotMet
			default:
				s.BestEffort = true
				finishStep(s, result)
			}
			// Cost is incurred per invocation, pass or fail.
			job.TotalCost += result.Cost
			return nil
		})
		if err != nil {
			return
		}
		e.publishSnapshot(ctx, jobID)

		if !retry || passed {
			slog.InfoContext(ctx, "step finished",
				"step_id", stepID,
				"passed", passed,
				"overall", report.Overall,
				"best_effort", !passed && !critical)
			return
		}

		// Re-run with the assessor's suggested adjustments folded in.
		for k, v := range report.Suggested {
			params[k] = v
		}
		slog.InfoContext(ctx, "quality gate retry",
			"step_id", stepID,
			"quality_attempt", step.QualityAttempt+1,
			"overall", report.Overall)
		step.QualityAttempt++

		if _, err := e.jobs.Transition(jobID, model.JobStatusRunning); err != nil {
			return
		}
		e.publishSnapshot(ctx, jobID)
	}
}

// invokeChain walks the step's adapter chain: the primary adapter with
// bounded retries, then each fallback. Returns the first success, or the
// classification of the last failure.
func (e *Engine) invokeChain(ctx context.Context, jobID int64, step *model.Step, inputRef string, params map[string]any) (*adapter.Result, adapter.Kind, error) {
	chain := append([]string{step.Adapter}, step.Fallbacks...)

	lastKind := adapter.KindUnavailable
	var lastErr error

	for _, name := range chain {
		a, err := e.registry.Get(name)
		if err != nil {
			lastErr = err
			continue
		}

		ctx := logger.WithLogFields(ctx, logger.LogFields{Adapter: logger.Ptr(name)})

		for attempt := 1; attempt <= e.cfg.Engine.MaxAttempts; attempt++ {
			if ctx.Err() != nil {
				return nil, adapter.KindTimeout, ctx.Err()
			}

			_, _ = e.jobs.Apply(jobID, func(job *model.Job) error {
				s := job.StepByID(step.ID)
				if s == nil {
					return store.ErrNotFound
				}
				s.Adapter = name
				s.Attempt = attempt
				return nil
			})

			invokeCtx, cancel := context.WithTimeout(ctx, e.cfg.Providers.RequestTimeout)
			result, err := e.invoke(invokeCtx, a, adapter.Request{
				JobID:           jobID,
				StepID:          step.ID,
				Capability:      step.Capability,
				InputRef:        inputRef,
				DurationSeconds: step.Weight,
				Params:          params,
			})
			cancel()

			if err == nil {
				e.registry.Observe(name, true)
				return result, "", nil
			}

			// A cancelled or expired job says nothing about the adapter,
			// so the reliability EMA stays untouched.
			if ctx.Err() != nil {
				return nil, adapter.KindTimeout, ctx.Err()
			}
			e.registry.Observe(name, false)

			kind := adapter.Classify(err)
			lastKind, lastErr = kind, err

			switch kind {
			case adapter.KindQuota, adapter.KindInvalidInput:
				return nil, kind, err
			case adapter.KindUnavailable:
				slog.WarnContext(ctx, "provider unavailable, advancing fallback",
					"step_id", step.ID, "error", err)
			case adapter.KindTransient, adapter.KindTimeout:
				if attempt < e.cfg.Engine.MaxAttempts {
					delay := backoff(e.cfg.Engine.BackoffBase, e.cfg.Engine.BackoffCap, attempt)
					slog.WarnContext(ctx, "provider invocation failed, retrying",
						"step_id", step.ID, "attempt", attempt, "delay", delay, "error", err)
					if !sleepCtx(ctx, delay) {
						return nil, adapter.KindTimeout, ctx.Err()
					}
					continue
				}
			}
			break
		}
	}

	return nil, lastKind, lastErr
}

// invoke runs the adapter call in its own goroutine so a provider that
// ignores its context cannot wedge the step. Once the context is done the
// call gets one grace period to return before it is abandoned.
func (e *Engine) invoke(ctx context.Context, a adapter.Adapter, req adapter.Request) (*adapter.Result, error) {
	type outcome struct {
		result *adapter.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := a.Invoke(ctx, req)
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
	}

	grace := time.NewTimer(e.cfg.Engine.CancelGrace)
	defer grace.Stop()
	select {
	case out := <-done:
		return out.result, out.err
	case <-grace.C:
		return nil, fmt.Errorf("provider did not acknowledge cancellation: %w", context.Cause(ctx))
	}
}

// failStep marks the step terminal. When the run context is still live it
// also records the job-level error code; on cancel or deadline settle
// assigns the job's terminal state instead.
func (e *Engine) failStep(ctx context.Context, jobID, stepID int64, kind adapter.Kind, cause error) {
	interrupted := ctx.Err() != nil
	code := errorCodeFor(kind)
	now := time.Now().UTC()

	_, err := e.jobs.Apply(jobID, func(job *model.Job) error {
		s := job.StepByID(stepID)
		if s == nil {
			return store.ErrNotFound
		}
		s.Status = model.StepStatusFallbackExhausted
		if interrupted || kind == adapter.KindInvalidInput || kind == adapter.KindQuota {
			s.Status = model.StepStatusFailed
		}
		if cause != nil {
			s.Error = cause.Error()
		}
		s.FinishedAt = &now
		if !interrupted {
			job.ErrorCode = code
		}
		return nil
	})
	if err != nil {
		return
	}

	slog.WarnContext(ctx, "step failed",
		"step_id", stepID,
		"kind", kind,
		"error_code", code,
		"error", cause)
	e.publishSnapshot(ctx, jobID)
}

func errorCodeFor(kind adapter.Kind) model.ErrorCode {
	switch kind {
	case adapter.KindTimeout:
		return model.ErrCodeProviderTimeout
	case adapter.KindUnavailable:
		return model.ErrCodeProviderUnavailable
	case adapter.KindQuota:
		return model.ErrCodeQuotaExceeded
	case adapter.KindInvalidInput:
		return model.ErrCodeInvalidInput
	default:
		return model.ErrCodeProviderTransient
	}
}

func finishStep(s *model.Step, result *adapter.Result) {
	s.Status = model.StepStatusSucceeded
	s.ResultRef = result.OutputRef
	now := time.Now().UTC()
	s.FinishedAt = &now
}

// stepInput resolves the step's input: the output of its dependency when one
// succeeded, the job input otherwise.
func stepInput(job *model.Job, step *model.Step) string {
	for _, dep := range step.DependsOn {
		if prev := job.StepByID(dep); prev != nil && prev.ResultRef != "" {
			return prev.ResultRef
		}
	}
	return job.InputRef
}

// backoff is exponential with jitter: base * 2^(attempt-1) plus up to one
// base unit of noise, capped.
func backoff(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	delay := base << (attempt - 1)
	delay += time.Duration(rand.Int63n(int64(base)))
	if cap > 0 && delay > cap {
		delay = cap
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
