package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"masterchain.app/orchestrator/common/llm"
	"masterchain.app/orchestrator/internal/model"
)

type ChainResponse struct {
	Steps []ChainStep `json:"steps" jsonschema_description:"Ordered processing chain for the audio"`
}

type ChainStep struct {
	Capability  string `json:"capability" jsonschema:"enum=generate,enum=enhance,enum=style_transfer,enum=master,enum=melody,enum=rhythm" jsonschema_description:"Processing capability for this step"`
	Description string `json:"description" jsonschema_description:"Short human-readable description of what the step does"`
	Preset      string `json:"preset,omitempty" jsonschema_description:"Optional mastering or enhancement preset name"`
}

var chainSchema = llm.GenerateSchema[ChainResponse]()

const chainPromptVersion = "v1"

// Assist asks an LLM to propose the auto-processing chain for a piece of
// audio. It is advisory: any failure or empty proposal falls back to the
// heuristic chain upstream.
type Assist struct {
	llm llm.Client
}

func NewAssist(client llm.Client) *Assist {
	return &Assist{llm: client}
}

func (a *Assist) Suggest(ctx context.Context, traits model.InputTraits, available []string) ([]stepSpec, error) {
	prompt := buildChainPrompt(traits, available)

	var response ChainResponse
	start := time.Now()

	// Single retry only: the heuristic fallback is always available and
	// planning should not stall the job.
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		_, err = a.llm.Chat(ctx, llm.Request{
			SystemPrompt: chainSystemPrompt,
			UserPrompt:   prompt,
			SchemaName:   "chain_response",
			Schema:       chainSchema,
			Temperature:  llm.Temp(0.1),
		}, &response)
		if err == nil {
			break
		}
		if !llm.IsRetryable(ctx, err) {
			return nil, fmt.Errorf("chain suggestion: %w", err)
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("chain suggestion after 2 attempts: %w", err)
	}

	specs := make([]stepSpec, 0, len(response.Steps))
	for _, s := range response.Steps {
		cap := model.Capability(s.Capability)
		switch cap {
		case model.CapabilityGenerate, model.CapabilityEnhance, model.CapabilityStyleTransfer,
			model.CapabilityMaster, model.CapabilityMelody, model.CapabilityRhythm:
		default:
			continue
		}
		params := map[string]any{}
		if s.Preset != "" {
			params["preset"] = s.Preset
		}
		specs = append(specs, stepSpec{
			capability:  cap,
			description: s.Description,
			params:      params,
		})
	}

	// The chain must end in a mastering pass; append one if the model
	// forgot.
	if len(specs) > 0 && specs[len(specs)-1].capability != model.CapabilityMaster {
		specs = append(specs, stepSpec{
			capability:  model.CapabilityMaster,
			description: "mastering audio",
			params:      masteringParams(traits.Genre),
		})
	}

	slog.InfoContext(ctx, "chain suggested",
		"steps", len(specs),
		"latency_ms", time.Since(start).Milliseconds())
	return specs, nil
}

func buildChainPrompt(traits model.InputTraits, available []string) string {
	var sb strings.Builder

	sb.WriteString("## Audio traits\n")
	if traits.Genre != "" {
		fmt.Fprintf(&sb, "- genre: %s\n", traits.Genre)
	}
	if traits.Mood != "" {
		fmt.Fprintf(&sb, "- mood: %s\n", traits.Mood)
	}
	if traits.DurationSeconds > 0 {
		fmt.Fprintf(&sb, "- duration_seconds: %.0f\n", traits.DurationSeconds)
	}
	fmt.Fprintf(&sb, "- noise_level: %.2f\n", traits.NoiseLevel)

	if len(available) > 0 {
		sb.WriteString("\n## Available providers\n")
		for _, name := range available {
			fmt.Fprintf(&sb, "- %s\n", name)
		}
	}

	return sb.String()
}

const chainSystemPrompt = `You design audio processing chains for a music mastering service.

Given the traits of an uploaded track, propose an ordered chain of processing steps.

## Capabilities

- enhance: noise reduction, clarity, general cleanup
- rhythm: beat and rhythm enhancement (electronic genres)
- melody: melodic refinement (classical, orchestral)
- style_transfer: restyle toward a target genre
- master: final loudness, EQ and dynamics pass

## Rules

- 1 to 4 steps
- Noisy audio (noise_level above 0.3) starts with an enhance step
- The chain always ends with a master step
- Do not include generate for uploaded audio`
