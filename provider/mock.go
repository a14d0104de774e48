// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/christopherkarani/inferkit/model"
)

// =============================================================================
// MOCK PROVIDER
// =============================================================================

// MockProvider implements Provider and returns deterministic responses.
// It is primarily intended for tests and examples; it honors the full
// concurrency and cancellation contract so session logic can be exercised
// without a live backend.
type MockProvider struct {
	mu        sync.Mutex
	responses []string
	next      int
	err       error

	// ChunkDelay inserts a pause before each streamed chunk so tests can
	// cancel mid-stream deterministically.
	ChunkDelay time.Duration

	busy      atomic.Bool
	cancelled atomic.Bool

	// Calls records the message history of every request, in order.
	Calls [][]model.Message
}

// NewMockProvider creates a mock that cycles through the given responses.
// With no responses it answers "Mock response".
func NewMockProvider(responses ...string) *MockProvider {
	return &MockProvider{responses: responses}
}

// FailWith makes the next calls return err instead of a response.
func (m *MockProvider) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Name identifies the backend.
func (m *MockProvider) Name() string {
	return "mock"
}

// IsAvailable always reports true.
func (m *MockProvider) IsAvailable() bool {
	return true
}

// AvailabilityStatus always reports available.
func (m *MockProvider) AvailabilityStatus(ctx context.Context) Availability {
	return AvailableNow()
}

// CancelGeneration flags the in-flight generation for cancellation.
func (m *MockProvider) CancelGeneration() {
	m.cancelled.Store(true)
}

// takeResponse records the call and returns the scripted response or error.
func (m *MockProvider) takeResponse(messages []model.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := make([]model.Message, len(messages))
	copy(recorded, messages)
	m.Calls = append(m.Calls, recorded)

	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "Mock response", nil
	}
	resp := m.responses[m.next%len(m.responses)]
	m.next++
	return resp, nil
}

// Generate returns the next scripted response as a full result.
func (m *MockProvider) Generate(ctx context.Context, messages []model.Message, modelID string, cfg GenerateConfig) (*GenerationResult, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return nil, ErrOperationInProgress
	}
	defer m.busy.Store(false)
	m.cancelled.Store(false)

	text, err := m.takeResponse(messages)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil || m.cancelled.Load() {
		return nil, ErrCancelled
	}

	tokens := len(strings.Fields(text))
	return &GenerationResult{
		Text:         text,
		TokenCount:   tokens,
		FinishReason: FinishReasonStop,
		Usage:        &Usage{CompletionTokens: tokens},
	}, nil
}

// Stream splits the next scripted response into word chunks.
func (m *MockProvider) Stream(ctx context.Context, messages []model.Message, modelID string, cfg GenerateConfig) <-chan GenerationChunk {
	out := make(chan GenerationChunk, 16)

	if !m.busy.CompareAndSwap(false, true) {
		out <- GenerationChunk{Err: ErrOperationInProgress}
		close(out)
		return out
	}
	m.cancelled.Store(false)

	go func() {
		defer close(out)
		defer m.busy.Store(false)

		text, err := m.takeResponse(messages)
		if err != nil {
			out <- GenerationChunk{Err: err}
			return
		}

		words := strings.SplitAfter(text, " ")
		stats := NewStatistics()
		for _, w := range words {
			if m.ChunkDelay > 0 {
				time.Sleep(m.ChunkDelay)
			}
			// Both cancellation paths are consulted every iteration.
			if ctx.Err() != nil || m.cancelled.Load() {
				out <- GenerationChunk{IsComplete: true, FinishReason: FinishReasonCancelled}
				return
			}
			stats.CompletionTokens++
			out <- GenerationChunk{
				Text:            w,
				TokenCount:      1,
				TokensPerSecond: stats.Throughput(),
			}
		}
		out <- GenerationChunk{IsComplete: true, FinishReason: FinishReasonStop}
	}()

	return out
}
