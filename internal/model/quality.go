package model

import "time"

// QualityReport records one assessment of a step's output. Reports are
// append-only; a re-run after a failed gate produces a new report with an
// incremented attempt.
type QualityReport struct {
	StepID     int64              `json:"step_id,string"`
	Attempt    int                `json:"attempt"`
	Scores     map[string]float64 `json:"scores"`
	Overall    float64            `json:"overall"`
	Threshold  float64            `json:"threshold"`
	Passed     bool               `json:"passed"`
	Suggested  map[string]any     `json:"suggested,omitempty"`
	AssessedAt time.Time          `json:"assessed_at"`
}
