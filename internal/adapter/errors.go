package adapter

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a provider failure for the engine's retry/fallback policy.
type Kind string

const (
	// KindTransient failures are retried on the same adapter with backoff.
	KindTransient Kind = "transient"
	// KindTimeout is an invocation that exceeded its deadline; treated as
	// transient up to the retry cap, then triggers fallback.
	KindTimeout Kind = "timeout"
	// KindUnavailable advances directly to the next fallback adapter.
	KindUnavailable Kind = "unavailable"
	// KindQuota fails the job; never retried inside the engine.
	KindQuota Kind = "quota"
	// KindInvalidInput fails the step immediately; retrying cannot help.
	KindInvalidInput Kind = "invalid_input"
)

// ProviderError wraps a provider failure with its classification. The raw
// provider error stays available for diagnostics via Unwrap but never
// escapes to callers as a job-level code.
type ProviderError struct {
	Kind    Kind
	Adapter string
	Err     error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Adapter, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func Transient(name string, err error) *ProviderError {
	return &ProviderError{Kind: KindTransient, Adapter: name, Err: err}
}

func Unavailable(name string, err error) *ProviderError {
	return &ProviderError{Kind: KindUnavailable, Adapter: name, Err: err}
}

func Quota(name string, err error) *ProviderError {
	return &ProviderError{Kind: KindQuota, Adapter: name, Err: err}
}

func InvalidInput(name string, err error) *ProviderError {
	return &ProviderError{Kind: KindInvalidInput, Adapter: name, Err: err}
}

func Timeout(name string, err error) *ProviderError {
	return &ProviderError{Kind: KindTimeout, Adapter: name, Err: err}
}

// Classify maps any invocation error to a Kind. Deadline expiry is a
// timeout, explicit cancellation is surfaced as-is via KindTimeout handling
// in the engine, and unclassified errors (network, parse) count as
// transient, mirroring how provider SDK errors without a response are
// treated as retryable.
func Classify(err error) Kind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}
