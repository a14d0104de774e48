// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/christopherkarani/inferkit/model"
	"github.com/christopherkarani/inferkit/provider"
)

// =============================================================================
// PROVIDER
// =============================================================================

// Provider adapts the Anthropic Messages API to the unified provider
// contract. One generation at a time per instance; concurrent attempts
// fail with ErrOperationInProgress.
type Provider struct {
	config  *Config
	limiter *rate.Limiter

	busy      atomic.Bool
	cancelled atomic.Bool
}

// New creates an Anthropic provider with default configuration. The API
// key comes from the ANTHROPIC_API_KEY environment variable.
func New() *Provider {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an Anthropic provider with custom configuration.
func NewWithConfig(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	config.fillDefaults()
	config.APIKey = trimKey(config.APIKey)

	return &Provider{
		config:  config,
		limiter: newLimiter(config.RequestsPerSecond),
	}
}

// Name identifies the backend.
func (p *Provider) Name() string {
	return "anthropic"
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// IsAvailable reports whether the adapter is configured. A key that is set
// but invalid still counts as available; the failure surfaces as an
// authentication error on first use.
func (p *Provider) IsAvailable() bool {
	return p.config.APIKey != ""
}

// AvailabilityStatus refines IsAvailable with a reason code.
func (p *Provider) AvailabilityStatus(ctx context.Context) provider.Availability {
	if p.config.APIKey == "" {
		return provider.NotAvailable(provider.ReasonMissingCredential,
			"set "+envAPIKey+" or configure an API key")
	}
	return provider.AvailableNow()
}

// =============================================================================
// SINGLE-FLIGHT GATE
// =============================================================================

// acquire claims the single in-flight slot and resets the cancel flag.
func (p *Provider) acquire() error {
	if !p.busy.CompareAndSwap(false, true) {
		return provider.ErrOperationInProgress
	}
	p.cancelled.Store(false)
	return nil
}

// release frees the in-flight slot.
func (p *Provider) release() {
	p.busy.Store(false)
}

// CancelGeneration flags the in-flight generation for cancellation.
func (p *Provider) CancelGeneration() {
	p.cancelled.Store(true)
}

// validateModel rejects identifiers outside the anthropic namespace.
func validateModel(modelID string) error {
	if model.Resolve(modelID) != model.NamespaceAnthropic {
		return provider.InvalidInput("model " + modelID + " is not an Anthropic model")
	}
	return nil
}

// checkConfigured fails fast before any network traffic.
func (p *Provider) checkConfigured() error {
	if p.config.APIKey == "" {
		return provider.AuthenticationFailed("API key not configured")
	}
	return nil
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate blocks until the full response is available.
func (p *Provider) Generate(ctx context.Context, messages []model.Message, modelID string, cfg provider.GenerateConfig) (*provider.GenerationResult, error) {
	if err := p.checkConfigured(); err != nil {
		return nil, err
	}
	if err := validateModel(modelID); err != nil {
		return nil, err
	}
	if err := p.acquire(); err != nil {
		return nil, err
	}
	defer p.release()

	start := time.Now()
	resp, err := p.postMessages(ctx, translateRequest(messages, modelID, cfg))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, provider.NetworkError(err)
	}

	var msgResp messagesResponse
	if err := json.Unmarshal(body, &msgResp); err != nil {
		return nil, provider.GenerationFailed(err)
	}
	if p.cancelled.Load() {
		return nil, provider.ErrCancelled
	}

	var text strings.Builder
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	elapsed := time.Since(start)
	tokens := msgResp.Usage.OutputTokens
	tps := 0.0
	if elapsed > 0 {
		tps = float64(tokens) / elapsed.Seconds()
	}

	return &provider.GenerationResult{
		Text:            text.String(),
		TokenCount:      tokens,
		GenerationTime:  elapsed,
		TokensPerSecond: tps,
		FinishReason:    mapStopReason(msgResp.StopReason),
		Usage: &provider.Usage{
			PromptTokens:     msgResp.Usage.InputTokens,
			CompletionTokens: msgResp.Usage.OutputTokens,
		},
	}, nil
}

// =============================================================================
// STREAM
// =============================================================================

// Stream returns a chunk channel immediately; the SSE response is read by
// a background goroutine as the stream is consumed.
func (p *Provider) Stream(ctx context.Context, messages []model.Message, modelID string, cfg provider.GenerateConfig) <-chan provider.GenerationChunk {
	out := make(chan provider.GenerationChunk, 16)

	if err := p.checkConfigured(); err != nil {
		out <- provider.GenerationChunk{Err: err}
		close(out)
		return out
	}
	if err := validateModel(modelID); err != nil {
		out <- provider.GenerationChunk{Err: err}
		close(out)
		return out
	}
	if err := p.acquire(); err != nil {
		out <- provider.GenerationChunk{Err: err}
		close(out)
		return out
	}

	go func() {
		defer close(out)
		defer p.release()

		reqBody := translateRequest(messages, modelID, cfg)
		reqBody.Stream = true

		resp, err := p.postMessages(ctx, reqBody)
		if err != nil {
			out <- provider.GenerationChunk{Err: err}
			return
		}
		defer resp.Body.Close()

		p.readStream(ctx, resp.Body, out)
	}()

	return out
}
