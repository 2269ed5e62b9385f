// Package planner turns a submitted job into an executable plan: an ordered
// set of steps with adapter assignments, fallback chains, cost estimates,
// and progress weights.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"masterchain.app/orchestrator/common/id"
	"masterchain.app/orchestrator/core/config"
	"masterchain.app/orchestrator/internal/model"
	"masterchain.app/orchestrator/internal/registry"
)

var (
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrNoCapableModel       = errors.New("no capable model available")
	ErrBudgetExceeded       = errors.New("estimated cost exceeds tier budget")
)

// maxFallbacks bounds the fallback chain per step. More candidates exist for
// popular capabilities but a step that burned through three providers is not
// going to be saved by a fourth.
const maxFallbacks = 2

// stepSpec is one planned unit before adapter assignment.
type stepSpec struct {
	capability  model.Capability
	description string
	params      map[string]any
}

type Planner struct {
	registry *registry.Registry
	assist   *Assist
	tiers    config.TiersConfig
}

// New builds a planner. assist may be nil; auto planning then uses the
// heuristic chain only.
func New(reg *registry.Registry, assist *Assist, tiers config.TiersConfig) *Planner {
	return &Planner{registry: reg, assist: assist, tiers: tiers}
}

// Plan fills job.Plan and job.TotalCost in place. The job is not yet shared
// with the engine so no locking applies here.
func (p *Planner) Plan(ctx context.Context, job *model.Job) error {
	specs, err := p.specsFor(ctx, job)
	if err != nil {
		return err
	}

	duration := job.Traits.DurationSeconds
	if duration <= 0 {
		duration = 30
	}

	var (
		steps     []*model.Step
		totalCost float64
		prevID    int64
	)
	for order, spec := range specs {
		candidates := p.registry.Candidates(spec.capability)
		if len(candidates) == 0 {
			return fmt.Errorf("%w: capability %s", ErrNoCapableModel, spec.capability)
		}

		primary := candidates[0]
		fallbacks := make([]string, 0, maxFallbacks)
		for _, c := range candidates[1:] {
			if len(fallbacks) == maxFallbacks {
				break
			}
			fallbacks = append(fallbacks, c.Name)
		}

		stepDuration := duration
		if primary.MaxDurationSeconds > 0 && stepDuration > primary.MaxDurationSeconds {
			stepDuration = primary.MaxDurationSeconds
		}
		cost := primary.CostPerSecond * stepDuration

		step := &model.Step{
			ID:            id.New(),
			JobID:         job.ID,
			Order:         order,
			Capability:    spec.capability,
			Adapter:       primary.Name,
			Fallbacks:     fallbacks,
			Status:        model.StepStatusPending,
			Params:        spec.params,
			Weight:        stepDuration,
			EstimatedCost: cost,
			Description:   spec.description,
		}
		if prevID != 0 {
			step.DependsOn = []int64{prevID}
		}
		prevID = step.ID

		steps = append(steps, step)
		totalCost += cost
	}

	limits := p.tiers.Limits(job.Tier)
	if totalCost > limits.CreditBudget {
		return fmt.Errorf("%w: estimated %.2f credits, budget %.2f", ErrBudgetExceeded, totalCost, limits.CreditBudget)
	}

	job.Plan = steps
	job.TotalCost = totalCost

	slog.InfoContext(ctx, "plan created",
		"job_id", job.ID,
		"operation", job.Operation,
		"steps", len(steps),
		"estimated_cost", totalCost)
	return nil
}

func (p *Planner) specsFor(ctx context.Context, job *model.Job) ([]stepSpec, error) {
	switch job.Operation {
	case model.OperationGenerate:
		return []stepSpec{
			{
				capability:  model.CapabilityGenerate,
				description: "generating audio",
				params:      generateParams(job.Traits),
			},
			{
				capability:  model.CapabilityMaster,
				description: "mastering generated audio",
				params:      map[string]any{"preset": "balanced_mastering"},
			},
		}, nil
	case model.OperationEnhance:
		return []stepSpec{{
			capability:  model.CapabilityEnhance,
			description: "enhancing audio",
			params:      map[string]any{"denoise": job.Traits.NoiseLevel > 0.3},
		}}, nil
	case model.OperationStyleTransfer:
		return []stepSpec{{
			capability:  model.CapabilityStyleTransfer,
			description: "transferring style",
			params:      map[string]any{"target_genre": job.Traits.Genre, "mood": job.Traits.Mood},
		}}, nil
	case model.OperationMaster:
		return []stepSpec{{
			capability:  model.CapabilityMaster,
			description: "mastering audio",
			params:      map[string]any{"preset": "balanced_mastering"},
		}}, nil
	case model.OperationAuto:
		return p.autoSpecs(ctx, job), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperation, job.Operation)
	}
}

// autoSpecs builds a processing chain from the input's traits. The LLM
// assist, when available, proposes the chain; any assist failure falls back
// to the heuristic chain silently.
func (p *Planner) autoSpecs(ctx context.Context, job *model.Job) []stepSpec {
	if p.assist != nil {
		if specs, err := p.assist.Suggest(ctx, job.Traits, p.registry.Names()); err == nil && len(specs) > 0 {
			return specs
		} else if err != nil {
			slog.WarnContext(ctx, "auto plan assist failed, using heuristics", "job_id", job.ID, "error", err)
		}
	}
	return heuristicSpecs(job.Traits)
}

// heuristicSpecs is the deterministic auto chain: optional denoise, a
// genre-shaped enhancement step, always ending in mastering.
func heuristicSpecs(traits model.InputTraits) []stepSpec {
	var specs []stepSpec

	if traits.NoiseLevel > 0.3 {
		specs = append(specs, stepSpec{
			capability:  model.CapabilityEnhance,
			description: "reducing noise",
			params:      map[string]any{"denoise": true},
		})
	}

	switch traits.Genre {
	case "electronic", "edm", "techno":
		specs = append(specs, stepSpec{
			capability:  model.CapabilityRhythm,
			description: "enhancing rhythm",
			params:      map[string]any{"electronic_enhancement": true},
		})
	case "classical", "orchestral":
		specs = append(specs, stepSpec{
			capability:  model.CapabilityMelody,
			description: "refining melody",
			params:      map[string]any{"classical_enhancement": true},
		})
	case "rock", "metal":
		specs = append(specs, stepSpec{
			capability:  model.CapabilityEnhance,
			description: "processing rock mix",
			params:      map[string]any{"rock_processing": true},
		})
	default:
		specs = append(specs, stepSpec{
			capability:  model.CapabilityEnhance,
			description: "enhancing audio",
			params:      map[string]any{"general_enhancement": true},
		})
	}

	specs = append(specs, stepSpec{
		capability:  model.CapabilityMaster,
		description: "mastering audio",
		params:      masteringParams(traits.Genre),
	})
	return specs
}

func masteringParams(genre string) map[string]any {
	switch genre {
	case "electronic", "edm", "techno":
		return map[string]any{"preset": "electronic_mastering"}
	case "classical", "orchestral":
		return map[string]any{"preset": "orchestral_mastering"}
	case "rock", "metal":
		return map[string]any{"preset": "rock_mastering"}
	default:
		return map[string]any{"preset": "balanced_mastering"}
	}
}

func generateParams(traits model.InputTraits) map[string]any {
	params := map[string]any{}
	if traits.Genre != "" {
		params["genre"] = traits.Genre
	}
	if traits.Mood != "" {
		params["mood"] = traits.Mood
	}
	duration := traits.DurationSeconds
	if duration <= 0 {
		duration = 30
	}
	params["duration"] = duration
	return params
}
