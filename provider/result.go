// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"strings"
	"time"
)

// =============================================================================
// FINISH REASON
// =============================================================================

// FinishReason is the enumerated cause of generation termination.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonMaxTokens     FinishReason = "max_tokens"
	FinishReasonStopSequence  FinishReason = "stop_sequence"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonCancelled     FinishReason = "cancelled"
)

// String returns the string representation of the finish reason.
func (r FinishReason) String() string {
	return string(r)
}

// =============================================================================
// GENERATION CHUNK
// =============================================================================

// GenerationChunk is one streaming unit of a generation response.
//
// A stream delivers content chunks followed by exactly one terminal chunk:
// either IsComplete is true and FinishReason is set, or Err is non-nil.
type GenerationChunk struct {
	// Text is the incremental text delta.
	Text string

	// TokenCount is the number of tokens in this delta (usually 1).
	TokenCount int

	// TokensPerSecond is a running throughput estimate, 0 until the first
	// token lands.
	TokensPerSecond float64

	// IsComplete marks the terminal chunk of a successful stream.
	IsComplete bool

	// FinishReason is set only on the terminal chunk.
	FinishReason FinishReason

	// Err is set instead of IsComplete when the stream ends in failure.
	Err error
}

// Terminal reports whether this chunk ends the stream.
func (c GenerationChunk) Terminal() bool {
	return c.IsComplete || c.Err != nil
}

// =============================================================================
// USAGE
// =============================================================================

// Usage carries the backend-reported token accounting, when available.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// =============================================================================
// GENERATION RESULT
// =============================================================================

// GenerationResult is the terminal, full-response value of a generation.
type GenerationResult struct {
	// Text is the complete generated text.
	Text string

	// TokenCount is the number of completion tokens.
	TokenCount int

	// GenerationTime is the wall-clock duration of the generation.
	GenerationTime time.Duration

	// TokensPerSecond is the completion throughput (0 when
	// GenerationTime is 0).
	TokensPerSecond float64

	// FinishReason records why generation stopped.
	FinishReason FinishReason

	// Usage is the backend's token accounting, nil when not reported.
	Usage *Usage

	// Logprobs carries per-token log probabilities when the backend
	// reports them.
	Logprobs []float64
}

// =============================================================================
// STATISTICS
// =============================================================================

// Statistics collects timing and token counts while a generation runs.
type Statistics struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	PromptTokens     int
	CompletionTokens int

	// Derived metrics, computed on Finalize.
	TTFT            time.Duration
	TotalDuration   time.Duration
	TokensPerSecond float64
}

// NewStatistics creates a Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// RecordFirstToken records when the first token was received.
func (s *Statistics) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Throughput returns the running tokens-per-second estimate.
func (s *Statistics) Throughput() float64 {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 || s.CompletionTokens == 0 {
		return 0
	}
	return float64(s.CompletionTokens) / elapsed
}

// Finalize computes the derived metrics.
func (s *Statistics) Finalize() {
	s.EndTime = time.Now()
	s.TotalDuration = s.EndTime.Sub(s.StartTime)
	if s.TotalDuration > 0 {
		s.TokensPerSecond = float64(s.CompletionTokens) / s.TotalDuration.Seconds()
	}
}

// =============================================================================
// STREAM ACCUMULATOR
// =============================================================================

// Accumulator collects streaming chunks and synthesizes the final result.
type Accumulator struct {
	text  strings.Builder
	stats *Statistics

	finishReason FinishReason
	usage        *Usage
	done         bool
	err          error
}

// NewAccumulator creates a new accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{stats: NewStatistics()}
}

// Add processes one chunk. Chunks after the terminal chunk are ignored.
func (a *Accumulator) Add(chunk GenerationChunk) {
	if a.done || a.err != nil {
		return
	}
	if chunk.Err != nil {
		a.err = chunk.Err
		return
	}
	if chunk.Text != "" {
		if a.text.Len() == 0 {
			a.stats.RecordFirstToken()
		}
		a.text.WriteString(chunk.Text)
		a.stats.CompletionTokens += chunk.TokenCount
	}
	if chunk.IsComplete {
		a.done = true
		a.finishReason = chunk.FinishReason
		a.stats.Finalize()
	}
}

// Text returns the accumulated text so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Done reports whether a terminal chunk was seen.
func (a *Accumulator) Done() bool {
	return a.done
}

// Err returns the stream error, if any.
func (a *Accumulator) Err() error {
	return a.err
}

// SetUsage records backend token accounting for the final result.
func (a *Accumulator) SetUsage(u Usage) {
	copied := u
	a.usage = &copied
}

// Result synthesizes the GenerationResult summary after the stream ends.
func (a *Accumulator) Result() *GenerationResult {
	return &GenerationResult{
		Text:            a.text.String(),
		TokenCount:      a.stats.CompletionTokens,
		GenerationTime:  a.stats.TotalDuration,
		TokensPerSecond: a.stats.TokensPerSecond,
		FinishReason:    a.finishReason,
		Usage:           a.usage,
	}
}
