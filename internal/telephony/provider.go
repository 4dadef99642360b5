package telephony

import (
	"context"

	"callpilot/internal/calls"
)

// Provider is the provider-agnostic contract the orchestrator drives.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - Every call is bounded by the adapter's request timeout.
// - No retries here; the orchestrator owns the retry budget.
// - Errors are *ProviderError so callers can branch on Kind.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	CreateCall(ctx context.Context, req calls.CallRequest) (CreateCallResult, error)
	GetStatus(ctx context.Context, providerCallID string) (StatusResult, error)
	GetTranscript(ctx context.Context, providerCallID string) (TranscriptResult, error)
}

type CreateCallResult struct {
	ProviderCallID string `json:"provider_call_id"`
}

// StatusResult carries the provider's raw vocabulary; use MapStatus to translate.
type StatusResult struct {
	RawStatus string `json:"raw_status"`

	// DurationSeconds is nil until the provider reports one.
	DurationSeconds *int `json:"duration_seconds,omitempty"`
}

type TranscriptResult struct {
	Text string `json:"text"`
}
