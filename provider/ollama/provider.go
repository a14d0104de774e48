// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/christopherkarani/inferkit/detect"
	"github.com/christopherkarani/inferkit/model"
	"github.com/christopherkarani/inferkit/provider"
)

// =============================================================================
// PROVIDER
// =============================================================================

// Provider adapts the local Ollama engine to the unified provider contract.
// One generation at a time per instance; concurrent attempts fail with
// ErrOperationInProgress.
type Provider struct {
	config       *Config
	httpClient   *http.Client
	streamClient *http.Client

	busy      atomic.Bool
	cancelled atomic.Bool
}

// New creates an Ollama provider with default configuration.
func New() *Provider {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an Ollama provider with custom configuration.
func NewWithConfig(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	config.fillDefaults()

	return &Provider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		// No timeout for streaming; the request context owns its lifetime.
		streamClient: &http.Client{},
	}
}

// Name identifies the backend.
func (p *Provider) Name() string {
	return "ollama"
}

// =============================================================================
// AVAILABILITY
// =============================================================================

// IsAvailable reports whether the local engine is reachable. Bounded by the
// probe timeout.
func (p *Provider) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.ProbeTimeout)
	defer cancel()
	return p.checkRunning(ctx) == nil
}

// AvailabilityStatus refines IsAvailable with a reason code. Local checks
// (memory) run first so a stopped engine on an undersized host reports the
// hardware problem, not the transient one.
func (p *Provider) AvailabilityStatus(ctx context.Context) provider.Availability {
	if p.config.MinMemoryBytes > 0 {
		if total := detect.TotalMemoryBytes(); total > 0 && total < p.config.MinMemoryBytes {
			return provider.NotAvailable(provider.ReasonInsufficientMemory,
				"local inference needs at least "+detect.FormatBytes(p.config.MinMemoryBytes))
		}
	}
	if err := p.checkRunning(ctx); err != nil {
		return provider.NotAvailable(provider.ReasonEngineNotRunning, err.Error())
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

// CancelGeneration flags the in-flight generation for cancellation. The
// streaming loop observes the flag within one iteration.
func (p *Provider) CancelGeneration() {
	p.cancelled.Store(true)
}

// validateModel rejects identifiers outside the local namespace.
func validateModel(modelID string) error {
	if model.Resolve(modelID) != model.NamespaceLocal {
		return provider.InvalidInput("model " + modelID + " is not a local engine model")
	}
	return nil
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate blocks until the full response is available.
func (p *Provider) Generate(ctx context.Context, messages []model.Message, modelID string, cfg provider.GenerateConfig) (*provider.GenerationResult, error) {
	if err := validateModel(modelID); err != nil {
		return nil, err
	}
	if err := p.acquire(); err != nil {
		return nil, err
	}
	defer p.release()

	start := time.Now()
	resp, err := p.postChat(ctx, ChatRequest{
		Model:    model.CanonicalID(modelID),
		Messages: translateMessages(messages),
		Stream:   false,
		Options:  translateOptions(cfg),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, provider.GenerationFailed(err)
	}
	if p.cancelled.Load() {
		return nil, provider.ErrCancelled
	}

	elapsed := time.Since(start)
	if chatResp.TotalDuration > 0 {
		elapsed = time.Duration(chatResp.TotalDuration)
	}

	// Prefer the engine's own eval timing for throughput; wall clock
	// includes prompt processing and network time.
	tokens := chatResp.EvalCount
	tps := 0.0
	if chatResp.EvalDuration > 0 {
		tps = float64(tokens) / (time.Duration(chatResp.EvalDuration)).Seconds()
	} else if elapsed > 0 {
		tps = float64(tokens) / elapsed.Seconds()
	}

	return &provider.GenerationResult{
		Text:            chatResp.Message.Content,
		TokenCount:      tokens,
		GenerationTime:  elapsed,
		TokensPerSecond: tps,
		FinishReason:    mapDoneReason(chatResp.DoneReason),
		Usage: &provider.Usage{
			PromptTokens:     chatResp.PromptEvalCount,
			CompletionTokens: chatResp.EvalCount,
		},
	}, nil
}

// =============================================================================
// STREAM
// =============================================================================

// Stream returns a chunk channel immediately; the NDJSON response is read
// by a background goroutine as the stream is consumed.
func (p *Provider) Stream(ctx context.Context, messages []model.Message, modelID string, cfg provider.GenerateConfig) <-chan provider.GenerationChunk {
	out := make(chan provider.GenerationChunk, 16)

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

		resp, err := p.postChat(ctx, ChatRequest{
			Model:    model.CanonicalID(modelID),
			Messages: translateMessages(messages),
			Stream:   true,
			Options:  translateOptions(cfg),
		})
		if err != nil {
			out <- provider.GenerationChunk{Err: err}
			return
		}
		defer resp.Body.Close()

		p.readStream(ctx, resp.Body, out)
	}()

	return out
}

// readStream drives the NDJSON token loop. Exactly one terminal chunk is
// emitted on every path; nothing is read past it even if the engine keeps
// sending.
func (p *Provider) readStream(ctx context.Context, body io.Reader, out chan<- provider.GenerationChunk) {
	reader := bufio.NewReader(body)
	stats := provider.NewStatistics()

	for {
		// Both cancellation paths are consulted every iteration: the
		// caller's context and the adapter-local flag.
		if ctx.Err() != nil || p.cancelled.Load() {
			out <- provider.GenerationChunk{IsComplete: true, FinishReason: provider.FinishReasonCancelled}
			return
		}

		line, err := reader.ReadBytes('\n')
		if err != nil && len(line) == 0 {
			if err == io.EOF {
				// Engine closed without a done line; treat as a
				// normal stop so the terminal signal stays unique.
				out <- provider.GenerationChunk{IsComplete: true, FinishReason: provider.FinishReasonStop}
				return
			}
			if ctx.Err() != nil || p.cancelled.Load() {
				out <- provider.GenerationChunk{IsComplete: true, FinishReason: provider.FinishReasonCancelled}
				return
			}
			out <- provider.GenerationChunk{Err: provider.NetworkError(err)}
			return
		}
		if len(line) == 0 {
			continue
		}

		var lineResp ChatResponse
		if err := json.Unmarshal(line, &lineResp); err != nil {
			// Skip malformed lines.
			continue
		}

		if content := lineResp.Message.Content; content != "" {
			if stats.CompletionTokens == 0 {
				stats.RecordFirstToken()
			}
			stats.CompletionTokens++
			out <- provider.GenerationChunk{
				Text:            content,
				TokenCount:      1,
				TokensPerSecond: stats.Throughput(),
			}
		}

		if lineResp.Done {
			stats.Finalize()
			out <- provider.GenerationChunk{
				IsComplete:      true,
				FinishReason:    mapDoneReason(lineResp.DoneReason),
				TokensPerSecond: stats.TokensPerSecond,
			}
			return
		}
	}
}
