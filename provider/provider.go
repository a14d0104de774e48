// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"

	"github.com/christopherkarani/inferkit/model"
)

// =============================================================================
// AVAILABILITY
// =============================================================================

// UnavailableReason is a machine-readable code refining why a provider
// cannot serve requests.
type UnavailableReason string

const (
	ReasonNone                UnavailableReason = ""
	ReasonMissingCredential   UnavailableReason = "missing_credential"
	ReasonEngineNotRunning    UnavailableReason = "engine_not_running"
	ReasonUnsupportedPlatform UnavailableReason = "unsupported_platform"
	ReasonInsufficientMemory  UnavailableReason = "insufficient_memory"
)

// Availability is the result of a readiness probe.
type Availability struct {
	// Available reports whether the provider can serve requests.
	Available bool

	// Reason refines a negative answer.
	Reason UnavailableReason

	// Detail is an optional human-readable elaboration.
	Detail string
}

// Available is the canonical positive probe result.
func AvailableNow() Availability {
	return Availability{Available: true}
}

// NotAvailable builds a negative probe result.
func NotAvailable(reason UnavailableReason, detail string) Availability {
	return Availability{Available: false, Reason: reason, Detail: detail}
}

// =============================================================================
// PROVIDER CONTRACT
// =============================================================================

// Provider is the capability set every inference backend implements.
//
// Concurrency contract: a provider instance serves one generation at a
// time; a second Generate or Stream while one is in flight fails with
// ErrOperationInProgress. Independent provider instances targeting the same
// backend are unrestricted. CancelGeneration affects only this instance's
// in-flight work.
type Provider interface {
	// Name identifies the backend (for example "ollama" or "anthropic").
	Name() string

	// IsAvailable performs a lightweight readiness check. It never blocks
	// indefinitely: implementations bound it to probe-appropriate time.
	IsAvailable() bool

	// AvailabilityStatus refines IsAvailable with a reason code when the
	// provider is unavailable.
	AvailabilityStatus(ctx context.Context) Availability

	// Generate blocks until the full response is available or an error
	// occurs. The model identifier must belong to this provider's
	// namespace, otherwise the call fails with KindInvalidInput.
	Generate(ctx context.Context, messages []model.Message, modelID string, cfg GenerateConfig) (*GenerationResult, error)

	// Stream returns a chunk channel immediately; generation work happens
	// as the stream is consumed. The channel delivers chunks in generation
	// order and closes after exactly one terminal chunk (IsComplete or
	// Err) — never both, never neither.
	Stream(ctx context.Context, messages []model.Message, modelID string, cfg GenerateConfig) <-chan GenerationChunk

	// CancelGeneration signals cooperative cancellation of the in-flight
	// generation, if any. Best-effort and asynchronous: the stream ends
	// with FinishReasonCancelled (or Generate returns ErrCancelled) within
	// a bounded number of scheduling steps. The provider remains usable
	// afterward.
	CancelGeneration()
}

// =============================================================================
// BATCH CONVENIENCE
// =============================================================================

// GenerateTexts runs one single-turn generation per prompt and collects the
// result texts. It stops at the first error. Thin pass-through sugar over
// Generate; prompts run sequentially against the provider.
func GenerateTexts(ctx context.Context, p Provider, prompts []string, modelID string, cfg GenerateConfig) ([]string, error) {
	out := make([]string, 0, len(prompts))
	for _, prompt := range prompts {
		res, err := p.Generate(ctx, []model.Message{model.NewUserMessage(prompt)}, modelID, cfg)
		if err != nil {
			return out, err
		}
		out = append(out, res.Text)
	}
	return out, nil
}
