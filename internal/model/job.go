// Package model holds the domain types shared by the planner, engine,
// registry, and stores. Types here carry no behavior beyond validation
// and derived accessors; all mutation policy lives in the store and engine.
package model

import "time"

type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusPlanning     JobStatus = "planning"
	JobStatusRunning      JobStatus = "running"
	JobStatusQualityCheck JobStatus = "quality_check"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCancelled    JobStatus = "cancelled"
	JobStatusTimedOut     JobStatus = "timed_out"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimedOut:
		return true
	}
	return false
}

type Operation string

const (
	OperationGenerate      Operation = "generate"
	OperationEnhance       Operation = "enhance"
	OperationStyleTransfer Operation = "style_transfer"
	OperationMaster        Operation = "master"
	OperationAuto          Operation = "auto"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationGenerate, OperationEnhance, OperationStyleTransfer, OperationMaster, OperationAuto:
		return true
	}
	return false
}

type ErrorCode string

const (
	ErrCodePlanningFailed         ErrorCode = "planning_failed"
	ErrCodeBudgetExceeded         ErrorCode = "budget_exceeded"
	ErrCodeProviderTransient      ErrorCode = "provider_transient"
	ErrCodeProviderUnavailable    ErrorCode = "provider_unavailable"
	ErrCodeProviderTimeout        ErrorCode = "provider_timeout"
	ErrCodeQuotaExceeded          ErrorCode = "quota_exceeded"
	ErrCodeQualityThresholdNotMet ErrorCode = "quality_threshold_not_met"
	ErrCodeJobTimeout             ErrorCode = "job_timeout"
	ErrCodeCancelledByUser        ErrorCode = "cancelled_by_user"
	ErrCodeInvalidInput           ErrorCode = "invalid_input"
	ErrCodeEngineShutdown         ErrorCode = "engine_shutdown"
)

// InputTraits describes the submitted audio, used by auto planning to pick
// a processing chain.
type InputTraits struct {
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Genre           string  `json:"genre,omitempty"`
	Mood            string  `json:"mood,omitempty"`
	NoiseLevel      float64 `json:"noise_level,omitempty"`
}

type Job struct {
	ID        int64       `json:"id,string"`
	OwnerID   string      `json:"owner_id"`
	Operation Operation   `json:"operation"`
	Tier      string      `json:"tier"`
	InputRef  string      `json:"input_ref,omitempty"`
	Traits    InputTraits `json:"traits,omitempty"`

	Status    JobStatus `json:"status"`
	Plan      []*Step   `json:"plan,omitempty"`
	TotalCost float64   `json:"total_cost"`
	ErrorCode ErrorCode `json:"error_code,omitempty"`

	CurrentStep         string     `json:"current_step,omitempty"`
	Progress            float64    `json:"progress"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	ResultRef           string     `json:"result_ref,omitempty"`

	Deadline   time.Time  `json:"deadline"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// PlanWeight is the sum of step weights, the denominator for progress.
func (j *Job) PlanWeight() float64 {
	var total float64
	for _, step := range j.Plan {
		total += step.Weight
	}
	return total
}

func (j *Job) StepByID(stepID int64) *Step {
	for _, step := range j.Plan {
		if step.ID == stepID {
			return step
		}
	}
	return nil
}

// JobSummary is the archival shape of a finished job.
type JobSummary struct {
	ID         int64      `json:"id,string"`
	OwnerID    string     `json:"owner_id"`
	Operation  Operation  `json:"operation"`
	Tier       string     `json:"tier"`
	Status     JobStatus  `json:"status"`
	ErrorCode  ErrorCode  `json:"error_code,omitempty"`
	TotalCost  float64    `json:"total_cost"`
	StepCount  int        `json:"step_count"`
	ResultRef  string     `json:"result_ref,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

var validJobTransitions = map[JobStatus][]JobStatus{
	JobStatusQueued:       {JobStatusPlanning, JobStatusCancelled, JobStatusTimedOut},
	JobStatusPlanning:     {JobStatusRunning, JobStatusFailed, JobStatusCancelled, JobStatusTimedOut},
	JobStatusRunning:      {JobStatusQualityCheck, JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimedOut},
	JobStatusQualityCheck: {JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimedOut},
}

// CanTransition reports whether the status edge from -> to is legal.
// A status can always "transition" to itself.
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return true
	}
	for _, next := range validJobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
