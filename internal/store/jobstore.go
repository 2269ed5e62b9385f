// Package store owns all mutable Job and Step state. Mutation goes through
// Apply under a per-job lock (single-writer discipline per job id); readers
// only ever see deep snapshots.
package store

import (
	"sync"
	"time"

	"masterchain.app/orchestrator/internal/model"
)

type jobEntry struct {
	mu  sync.Mutex
	job *model.Job
}

type JobStore struct {
	mu   sync.RWMutex
	jobs map[int64]*jobEntry
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[int64]*jobEntry)}
}

// Create registers a new job. The store takes ownership of the value; the
// caller must not retain or mutate it afterwards.
func (s *JobStore) Create(job *model.Job) {
	s.mu.Lock()
	s.jobs[job.ID] = &jobEntry{job: job}
	s.mu.Unlock()
}

// Get returns a deep snapshot of the job.
func (s *JobStore) Get(jobID int64) (*model.Job, error) {
	entry, err := s.entry(jobID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneJob(entry.job), nil
}

// Apply runs fn against the live job under its lock and returns a snapshot
// of the result. Progress is recomputed after every application so derived
// fields can never drift from step state. fn returning an error aborts the
// mutation's visibility guarantees only for its own changes; the job object
// is not copied in, so fn must either fully apply or leave state untouched.
func (s *JobStore) Apply(jobID int64, fn func(job *model.Job) error) (*model.Job, error) {
	entry, err := s.entry(jobID)
	if err != nil {
		return nil, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := fn(entry.job); err != nil {
		return nil, err
	}

	recompute(entry.job)
	entry.job.UpdatedAt = time.Now().UTC()
	return cloneJob(entry.job), nil
}

// Transition moves the job to a new status, validating the edge against the
// state machine. Terminal states are immutable.
func (s *JobStore) Transition(jobID int64, to model.JobStatus) (*model.Job, error) {
	return s.Apply(jobID, func(job *model.Job) error {
		return applyTransition(job, to)
	})
}

// applyTransition mutates status and terminal bookkeeping in place. Shared
// by Transition and by Apply callbacks that combine a transition with other
// field updates.
func applyTransition(job *model.Job, to model.JobStatus) error {
	if job.Status == to {
		return nil
	}
	if job.Status.Terminal() {
		return ErrTerminal
	}
	if !model.CanTransition(job.Status, to) {
		return ErrInvalidTransition
	}

	job.Status = to
	now := time.Now().UTC()
	if to == model.JobStatusRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if to.Terminal() {
		job.FinishedAt = &now
	}
	return nil
}

// TransitionJob is the Apply-callback form of Transition, for callers that
// batch a status change with other mutations under one lock acquisition.
func TransitionJob(job *model.Job, to model.JobStatus) error {
	return applyTransition(job, to)
}

// Owner returns the job's owner without a full snapshot.
func (s *JobStore) Owner(jobID int64) (string, error) {
	entry, err := s.entry(jobID)
	if err != nil {
		return "", err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job.OwnerID, nil
}

// Active returns snapshots of all non-terminal jobs.
func (s *JobStore) Active() []*model.Job {
	s.mu.RLock()
	entries := make([]*jobEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*model.Job
	for _, e := range entries {
		e.mu.Lock()
		if !e.job.Status.Terminal() {
			out = append(out, cloneJob(e.job))
		}
		e.mu.Unlock()
	}
	return out
}

// All returns snapshots of every job in the arena.
func (s *JobStore) All() []*model.Job {
	s.mu.RLock()
	entries := make([]*jobEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*model.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, cloneJob(e.job))
		e.mu.Unlock()
	}
	return out
}

// Remove drops a job from the live arena. Called after a terminal job has
// been archived; history remains the system of record from then on.
func (s *JobStore) Remove(jobID int64) {
	s.mu.Lock()
	delete(s.jobs, jobID)
	s.mu.Unlock()
}

func (s *JobStore) entry(jobID int64) (*jobEntry, error) {
	s.mu.RLock()
	entry, ok := s.jobs[jobID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

// recompute derives progress, current step description, and estimated
// completion from step state. Progress freezes at its last value on
// failure or cancel and never decreases otherwise.
func recompute(job *model.Job) {
	switch job.Status {
	case model.JobStatusFailed, model.JobStatusCancelled, model.JobStatusTimedOut:
		return
	case model.JobStatusCompleted:
		job.Progress = 100
		job.CurrentStep = "completed"
		return
	}

	total := job.PlanWeight()
	if total <= 0 {
		return
	}

	var done float64
	current := ""
	for _, step := range job.Plan {
		if step.Status == model.StepStatusSucceeded {
			done += step.Weight
		}
		if current == "" && step.Status == model.StepStatusDispatched {
			current = step.Description
		}
	}

	progress := 100 * done / total
	if progress > job.Progress {
		job.Progress = progress
	}
	if current != "" {
		job.CurrentStep = current
	}

	if job.Progress > 0 && job.StartedAt != nil {
		elapsed := time.Since(*job.StartedAt)
		estimatedTotal := time.Duration(float64(elapsed) * 100 / job.Progress)
		eta := job.StartedAt.Add(estimatedTotal)
		job.EstimatedCompletion = &eta
	}
}

// Summary converts a job snapshot to its archival shape.
func Summary(job *model.Job) model.JobSummary {
	return model.JobSummary{
		ID:         job.ID,
		OwnerID:    job.OwnerID,
		Operation:  job.Operation,
		Tier:       job.Tier,
		Status:     job.Status,
		ErrorCode:  job.ErrorCode,
		TotalCost:  job.TotalCost,
		StepCount:  len(job.Plan),
		ResultRef:  job.ResultRef,
		CreatedAt:  job.CreatedAt,
		FinishedAt: job.FinishedAt,
	}
}

func cloneJob(job *model.Job) *model.Job {
	out := *job
	if job.Plan != nil {
		out.Plan = make([]*model.Step, len(job.Plan))
		for i, step := range job.Plan {
			out.Plan[i] = cloneStep(step)
		}
	}
	return &out
}

func cloneStep(step *model.Step) *model.Step {
	out := *step
	if step.DependsOn != nil {
		out.DependsOn = append([]int64(nil), step.DependsOn...)
	}
	if step.Fallbacks != nil {
		out.Fallbacks = append([]string(nil), step.Fallbacks...)
	}
	if step.Params != nil {
		out.Params = make(map[string]any, len(step.Params))
		for k, v := range step.Params {
			out.Params[k] = v
		}
	}
	if step.Reports != nil {
		out.Reports = append([]model.QualityReport(nil), step.Reports...)
	}
	return &out
}
