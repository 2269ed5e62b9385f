// Package adapter defines the uniform interface between the orchestration
// engine and external AI model providers. The planner and engine depend only
// on the Adapter interface; provider wire details stay behind it.
package adapter

import (
	"context"
	"time"

	"masterchain.app/orchestrator/internal/model"
)

// Request is one provider invocation. InputRef points at a storage blob; the
// provider is expected to fetch, process, and return a new blob reference.
type Request struct {
	JobID  int64
	StepID int64

	Capability      model.Capability
	InputRef        string
	DurationSeconds float64
	Params          map[string]any
}

// Result is a successful invocation outcome.
type Result struct {
	OutputRef string
	Cost      float64
	Elapsed   time.Duration

	// Metrics carries provider-reported signal measurements (loudness,
	// dynamic range, artifact estimates). The quality assessor consumes
	// these; the engine does not interpret them.
	Metrics map[string]float64
}

// Adapter wraps one external AI provider. Invoke must honor ctx cancellation
// promptly; the engine will not wait beyond a short grace period.
type Adapter interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
	EstimateCost(req Request) float64
	Descriptor() model.ModelDescriptor
}
