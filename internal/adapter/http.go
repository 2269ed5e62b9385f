package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"masterchain.app/orchestrator/common/logger"
	"masterchain.app/orchestrator/internal/model"
)

// HTTPAdapter talks to one provider microservice over the shared convention:
// GET /health for liveness, POST /process for work. Providers respond with a
// JSON body carrying the output reference and any signal metrics.
//
// The HTTP client is the standard library's: provider services are plain
// JSON-over-HTTP with no SDK, and retry policy lives in the engine, not here.
type HTTPAdapter struct {
	descriptor model.ModelDescriptor
	baseURL    string
	client     *http.Client
}

type processRequest struct {
	JobID           int64          `json:"job_id"`
	StepID          int64          `json:"step_id"`
	Capability      string         `json:"capability"`
	InputRef        string         `json:"input_ref"`
	DurationSeconds float64        `json:"duration_seconds"`
	Parameters      map[string]any `json:"parameters,omitempty"`
}

type processResponse struct {
	OutputRef string             `json:"output_ref"`
	Cost      float64            `json:"cost"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	Error     string             `json:"error,omitempty"`
}

func NewHTTPAdapter(descriptor model.ModelDescriptor, baseURL string, timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{
		descriptor: descriptor,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) Descriptor() model.ModelDescriptor {
	return a.descriptor
}

// EstimateCost charges per second of requested output.
func (a *HTTPAdapter) EstimateCost(req Request) float64 {
	duration := req.DurationSeconds
	if duration <= 0 {
		duration = 30
	}
	return a.descriptor.CostPerSecond * duration
}

func (a *HTTPAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Adapter:   logger.Ptr(a.descriptor.Name),
		Component: "orchestrator.adapter.http",
	})

	body, err := json.Marshal(processRequest{
		JobID:           req.JobID,
		StepID:          req.StepID,
		Capability:      string(req.Capability),
		InputRef:        req.InputRef,
		DurationSeconds: req.DurationSeconds,
		Parameters:      req.Params,
	})
	if err != nil {
		return nil, InvalidInput(a.descriptor.Name, fmt.Errorf("encoding request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return nil, InvalidInput(a.descriptor.Name, fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, Timeout(a.descriptor.Name, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.WarnContext(ctx, "provider network error", "error", err)
		return nil, Transient(a.descriptor.Name, err)
	}
	defer resp.Body.Close()

	if err := a.classifyStatus(resp.StatusCode); err != nil {
		slog.WarnContext(ctx, "provider returned error status",
			"status_code", resp.StatusCode)
		return nil, err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(a.descriptor.Name, fmt.Errorf("reading response: %w", err))
	}

	var out processResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, Transient(a.descriptor.Name, fmt.Errorf("decoding response: %w", err))
	}
	if out.Error != "" {
		return nil, Transient(a.descriptor.Name, errors.New(out.Error))
	}

	elapsed := time.Since(start)
	slog.DebugContext(ctx, "provider invocation completed",
		"duration_ms", elapsed.Milliseconds(),
		"output_ref", out.OutputRef,
		"cost", out.Cost)

	cost := out.Cost
	if cost == 0 {
		cost = a.EstimateCost(req)
	}

	return &Result{
		OutputRef: out.OutputRef,
		Cost:      cost,
		Elapsed:   elapsed,
		Metrics:   out.Metrics,
	}, nil
}

// Healthy probes the provider's health endpoint.
func (a *HTTPAdapter) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (a *HTTPAdapter) classifyStatus(code int) error {
	name := a.descriptor.Name
	switch {
	case code < 400:
		return nil
	case code == http.StatusTooManyRequests:
		return Quota(name, fmt.Errorf("status %d", code))
	case code == http.StatusServiceUnavailable:
		return Unavailable(name, fmt.Errorf("status %d", code))
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return InvalidInput(name, fmt.Errorf("status %d", code))
	case code >= 500:
		return Transient(name, fmt.Errorf("status %d", code))
	default:
		return InvalidInput(name, fmt.Errorf("status %d", code))
	}
}
