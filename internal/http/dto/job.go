package dto

import (
	"time"

	"masterchain.app/orchestrator/internal/model"
)

type SubmitJobRequest struct {
	Operation string       `json:"operation" binding:"required"`
	Tier      string       `json:"tier" binding:"required"`
	InputRef  string       `json:"input_ref,omitempty" binding:"omitempty,max=2048"`
	Traits    TraitsInput  `json:"traits"`
}

type TraitsInput struct {
	DurationSeconds float64 `json:"duration_seconds,omitempty" binding:"omitempty,min=0"`
	Genre           string  `json:"genre,omitempty" binding:"omitempty,max=64"`
	Mood            string  `json:"mood,omitempty" binding:"omitempty,max=64"`
	NoiseLevel      float64 `json:"noise_level,omitempty" binding:"omitempty,min=0,max=1"`
}

func (t TraitsInput) ToModel() model.InputTraits {
	return model.InputTraits{
		DurationSeconds: t.DurationSeconds,
		Genre:           t.Genre,
		Mood:            t.Mood,
		NoiseLevel:      t.NoiseLevel,
	}
}

type JobResponse struct {
	ID                  int64           `json:"id,string"`
	OwnerID             string          `json:"owner_id"`
	Operation           string          `json:"operation"`
	Tier                string          `json:"tier"`
	Status              string          `json:"status"`
	Progress            float64         `json:"progress"`
	CurrentStep         string          `json:"current_step,omitempty"`
	EstimatedCompletion *time.Time      `json:"estimated_completion,omitempty"`
	ErrorCode           string          `json:"error_code,omitempty"`
	ResultRef           string          `json:"result_ref,omitempty"`
	TotalCost           float64         `json:"total_cost"`
	Steps               []StepResponse  `json:"steps,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	FinishedAt          *time.Time      `json:"finished_at,omitempty"`
}

type StepResponse struct {
	ID          int64                   `json:"id,string"`
	Order       int                     `json:"order"`
	Capability  string                  `json:"capability"`
	Adapter     string                  `json:"adapter"`
	Status      string                  `json:"status"`
	Attempt     int                     `json:"attempt"`
	BestEffort  bool                    `json:"best_effort,omitempty"`
	Description string                  `json:"description,omitempty"`
	Error       string                  `json:"error,omitempty"`
	Reports     []QualityReportResponse `json:"reports,omitempty"`
}

type QualityReportResponse struct {
	Attempt   int                `json:"attempt"`
	Scores    map[string]float64 `json:"scores"`
	Overall   float64            `json:"overall"`
	Threshold float64            `json:"threshold"`
	Passed    bool               `json:"passed"`
}

func ToJobResponse(job *model.Job) *JobResponse {
	resp := &JobResponse{
		ID:                  job.ID,
		OwnerID:             job.OwnerID,
		Operation:           string(job.Operation),
		Tier:                job.Tier,
		Status:              string(job.Status),
		Progress:            job.Progress,
		CurrentStep:         job.CurrentStep,
		EstimatedCompletion: job.EstimatedCompletion,
		ErrorCode:           string(job.ErrorCode),
		ResultRef:           job.ResultRef,
		TotalCost:           job.TotalCost,
		CreatedAt:           job.CreatedAt,
		UpdatedAt:           job.UpdatedAt,
		StartedAt:           job.StartedAt,
		FinishedAt:          job.FinishedAt,
	}
	for _, step := range job.Plan {
		resp.Steps = append(resp.Steps, toStepResponse(step))
	}
	return resp
}

func toStepResponse(step *model.Step) StepResponse {
	out := StepResponse{
		ID:          step.ID,
		Order:       step.Order,
		Capability:  string(step.Capability),
		Adapter:     step.Adapter,
		Status:      string(step.Status),
		Attempt:     step.Attempt,
		BestEffort:  step.BestEffort,
		Description: step.Description,
		Error:       step.Error,
	}
	for _, report := range step.Reports {
		out.Reports = append(out.Reports, QualityReportResponse{
			Attempt:   report.Attempt,
			Scores:    report.Scores,
			Overall:   report.Overall,
			Threshold: report.Threshold,
			Passed:    report.Passed,
		})
	}
	return out
}

type HistoryItemResponse struct {
	ID         int64      `json:"id,string"`
	Operation  string     `json:"operation"`
	Tier       string     `json:"tier"`
	Status     string     `json:"status"`
	ErrorCode  string     `json:"error_code,omitempty"`
	TotalCost  float64    `json:"total_cost"`
	StepCount  int        `json:"step_count"`
	ResultRef  string     `json:"result_ref,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func ToHistoryItemResponse(s model.JobSummary) HistoryItemResponse {
	return HistoryItemResponse{
		ID:         s.ID,
		Operation:  string(s.Operation),
		Tier:       s.Tier,
		Status:     string(s.Status),
		ErrorCode:  string(s.ErrorCode),
		TotalCost:  s.TotalCost,
		StepCount:  s.StepCount,
		ResultRef:  s.ResultRef,
		CreatedAt:  s.CreatedAt,
		FinishedAt: s.FinishedAt,
	}
}
