package providers

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want FailureReason
	}{
		{"nil", nil, FailureUnknown},
		{"timeout", errors.New("request timeout"), FailureTimeout},
		{"deadline", errors.New("context deadline exceeded"), FailureTimeout},
		{"rate limit", errors.New("rate limit exceeded"), FailureRateLimit},
		{"too many requests", errors.New("429 too many requests"), FailureRateLimit},
		{"auth", errors.New("invalid api key"), FailureAuth},
		{"billing", errors.New("insufficient quota for this billing period"), FailureBilling},
		{"model missing", errors.New(`model "nope" not found, try pulling it first`), FailureModelUnavailable},
		{"server", errors.New("502 bad gateway"), FailureServerError},
		{"connection refused", errors.New("dial tcp: connection refused"), FailureServerError},
		{"unknown", errors.New("something odd"), FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyError_ToolRejectionShapes(t *testing.T) {
	// The shapes real runtimes emit when a model cannot take
	// structured tools.
	shapes := []string{
		`registry.ollama.ai/library/llava:latest does not support tools`,
		"ollama status 400: tools are not supported by this model",
		"No endpoints found that support tool use",
		"function calling is not enabled for this model",
	}
	for _, shape := range shapes {
		if got := ClassifyError(errors.New(shape)); got != FailureToolRejection {
			t.Errorf("ClassifyError(%q) = %v, want tool_rejection", shape, got)
		}
	}
}

func TestWithStatus_KeepsToolRejection(t *testing.T) {
	// Ollama reports tool refusals with a 400; the status code must
	// not downgrade the classification to invalid_request.
	err := NewProviderError("ollama", "llava", errors.New("llava does not support tools")).WithStatus(400)
	if err.Reason != FailureToolRejection {
		t.Fatalf("Reason = %v, want tool_rejection", err.Reason)
	}
	if !IsToolRejection(err) {
		t.Fatal("IsToolRejection = false, want true")
	}
}

func TestWithStatus_Classifies(t *testing.T) {
	tests := []struct {
		status int
		want   FailureReason
	}{
		{400, FailureInvalidRequest},
		{401, FailureAuth},
		{402, FailureBilling},
		{403, FailureAuth},
		{404, FailureModelUnavailable},
		{429, FailureRateLimit},
		{500, FailureServerError},
		{503, FailureServerError},
	}
	for _, tt := range tests {
		err := NewProviderError("openai", "gpt-4o", errors.New("boom")).WithStatus(tt.status)
		if err.Reason != tt.want {
			t.Errorf("status %d: Reason = %v, want %v", tt.status, err.Reason, tt.want)
		}
	}
}

func TestProviderError_Format(t *testing.T) {
	err := NewProviderError("ollama", "llama3.2", errors.New("rate limit exceeded")).
		WithStatus(429).
		WithCode("rate_limit_error")

	msg := err.Error()
	for _, want := range []string{"[rate_limit]", "ollama", "model=llama3.2", "status=429", "code=rate_limit_error"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewProviderError("openai", "gpt-4o", cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is lost the cause")
	}

	wrapped := fmt.Errorf("request failed: %w", err)
	got, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatal("GetProviderError failed on wrapped chain")
	}
	if got.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", got.Provider)
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		NewProviderError("openai", "gpt-4o", errors.New("boom")).WithStatus(429),
		NewProviderError("openai", "gpt-4o", errors.New("boom")).WithStatus(503),
		errors.New("request timeout"),
	}
	for _, err := range retryable {
		if !IsRetryable(err) {
			t.Errorf("IsRetryable(%v) = false, want true", err)
		}
	}

	permanent := []error{
		NewProviderError("openai", "gpt-4o", errors.New("boom")).WithStatus(401),
		errors.New("invalid api key"),
		errors.New("llava does not support tools"),
		nil,
	}
	for _, err := range permanent {
		if IsRetryable(err) {
			t.Errorf("IsRetryable(%v) = true, want false", err)
		}
	}
}

func TestIsToolRejection_NonRejections(t *testing.T) {
	for _, err := range []error{
		nil,
		errors.New("invalid JSON in tool call arguments"),
		NewProviderError("openai", "gpt-4o", errors.New("bad request")).WithStatus(400),
	} {
		if IsToolRejection(err) {
			t.Errorf("IsToolRejection(%v) = true, want false", err)
		}
	}
}
