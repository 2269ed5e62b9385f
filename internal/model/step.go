package model

import "time"

type StepStatus string

const (
	StepStatusPending           StepStatus = "pending"
	StepStatusDispatched        StepStatus = "dispatched"
	StepStatusSucceeded         StepStatus = "succeeded"
	StepStatusFailed            StepStatus = "failed"
	StepStatusFallbackExhausted StepStatus = "fallback_exhausted"
)

func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusFallbackExhausted:
		return true
	}
	return false
}

// Step is one node of a job's plan. DependsOn lists step ids that must
// succeed before this step becomes eligible. Adapter is the currently
// selected provider; Fallbacks are tried in order when it is exhausted.
type Step struct {
	ID         int64      `json:"id,string"`
	JobID      int64      `json:"job_id,string"`
	Order      int        `json:"order"`
	DependsOn  []int64    `json:"depends_on,omitempty"`
	Capability Capability `json:"capability"`

	Adapter   string   `json:"adapter"`
	Fallbacks []string `json:"fallbacks,omitempty"`

	Attempt        int  `json:"attempt"`
	QualityAttempt int  `json:"quality_attempt"`
	BestEffort     bool `json:"best_effort,omitempty"`

	Status        StepStatus      `json:"status"`
	Params        map[string]any  `json:"params,omitempty"`
	Weight        float64         `json:"weight"`
	EstimatedCost float64         `json:"estimated_cost"`
	ResultRef     string          `json:"result_ref,omitempty"`
	Error         string          `json:"error,omitempty"`
	Reports       []QualityReport `json:"reports,omitempty"`
	Description   string          `json:"description,omitempty"`

	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
