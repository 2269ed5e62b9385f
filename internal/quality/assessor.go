// Package quality scores step outputs against capability thresholds and
// decides between acceptance, parameter-adjusted retry, and failure.
package quality

import (
	"context"
	"log/slog"
	"time"

	"masterchain.app/orchestrator/common/logger"
	"masterchain.app/orchestrator/core/config"
	"masterchain.app/orchestrator/internal/adapter"
	"masterchain.app/orchestrator/internal/model"
)

// Scorer computes one normalized [0,1] quality metric for a step result.
// Metrics are adapter/domain-specific and pluggable; the engine only sees
// the aggregated report.
type Scorer interface {
	Name() string
	Score(step *model.Step, result *adapter.Result) float64
}

// Weight lets a scorer contribute unevenly to the overall verdict.
type weightedScorer struct {
	scorer Scorer
	weight float64
}

type Assessor struct {
	cfg     config.QualityConfig
	scorers []weightedScorer
}

// New builds an assessor with the default metric set. Additional scorers
// can be attached with Add.
func New(cfg config.QualityConfig) *Assessor {
	a := &Assessor{cfg: cfg}
	a.Add(MetricScorer{Metric: "signal", Default: 0.75}, 1.0)
	a.Add(MetricScorer{Metric: "artifact", Default: 0.80}, 1.0)
	a.Add(MetricScorer{Metric: "fidelity", Default: 0.75}, 1.5)
	return a
}

func (a *Assessor) Add(s Scorer, weight float64) {
	if weight <= 0 {
		weight = 1.0
	}
	a.scorers = append(a.scorers, weightedScorer{scorer: s, weight: weight})
}

// Threshold returns the pass bar for a capability.
func (a *Assessor) Threshold(cap model.Capability) float64 {
	if t, ok := a.cfg.Overrides[string(cap)]; ok {
		return t
	}
	return a.cfg.Threshold
}

// Critical reports whether a below-threshold result on this capability must
// fail the step once the quality retry budget is exhausted, rather than
// being accepted best-effort.
func (a *Assessor) Critical(cap model.Capability) bool {
	for _, c := range a.cfg.Critical {
		if c == string(cap) {
			return true
		}
	}
	return false
}

// MaxRetries is the quality-gate re-dispatch budget per step.
func (a *Assessor) MaxRetries() int {
	return a.cfg.MaxRetries
}

// Assess produces an immutable report for one step attempt. On a fail with
// retry budget remaining the report carries suggested parameter deltas for
// the re-dispatch.
func (a *Assessor) Assess(ctx context.Context, step *model.Step, result *adapter.Result) model.QualityReport {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		StepID:    logger.Ptr(step.ID),
		Component: "orchestrator.quality.assessor",
	})

	scores := make(map[string]float64, len(a.scorers))
	var weighted, totalWeight float64
	for _, ws := range a.scorers {
		s := clamp01(ws.scorer.Score(step, result))
		scores[ws.scorer.Name()] = s
		weighted += s * ws.weight
		totalWeight += ws.weight
	}

	overall := 0.0
	if totalWeight > 0 {
		overall = weighted / totalWeight
	}

	threshold := a.Threshold(step.Capability)
	report := model.QualityReport{
		StepID:     step.ID,
		Attempt:    step.Attempt,
		Scores:     scores,
		Overall:    overall,
		Threshold:  threshold,
		Passed:     overall >= threshold,
		AssessedAt: time.Now().UTC(),
	}

	if !report.Passed {
		report.Suggested = suggestAdjustments(scores, threshold-overall)
	}

	slog.DebugContext(ctx, "step quality assessed",
		"overall", overall,
		"threshold", threshold,
		"passed", report.Passed)

	return report
}

// suggestAdjustments derives parameter deltas from which metrics dragged
// the score down. Providers interpret these; unknown keys are ignored.
func suggestAdjustments(scores map[string]float64, deficit float64) map[string]any {
	suggested := map[string]any{
		"quality_boost": clamp01(deficit * 2),
	}
	if scores["artifact"] < 0.6 {
		suggested["denoise"] = true
	}
	if scores["signal"] < 0.6 {
		suggested["normalize"] = true
	}
	if scores["fidelity"] < 0.6 {
		suggested["sample_quality"] = "high"
	}
	return suggested
}

// MetricScorer reads a provider-reported metric from the result, falling
// back to a neutral default when the provider did not report it.
type MetricScorer struct {
	Metric  string
	Default float64
}

func (m MetricScorer) Name() string {
	return m.Metric
}

func (m MetricScorer) Score(_ *model.Step, result *adapter.Result) float64 {
	if result == nil || result.Metrics == nil {
		return m.Default
	}
	if v, ok := result.Metrics[m.Metric]; ok {
		return v
	}
	return m.Default
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
