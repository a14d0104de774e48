// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"net/http"
	"strings"

	"github.com/christopherkarani/inferkit/model"
	"github.com/christopherkarani/inferkit/provider"
)

// =============================================================================
// REQUEST TRANSLATION
// =============================================================================

// translateMessages converts unified messages into Ollama wire messages.
//
// Ollama accepts system turns inline, so they pass through in place. Tool
// turns are dropped: the adapter does not support tool calling yet, and per
// the adapter contract that is a silent no-op, not an error. Multi-part
// content concatenates text parts in order and carries image parts on the
// images field.
func translateMessages(messages []model.Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == model.RoleTool {
			continue
		}

		wire := Message{Role: m.Role.String(), Content: m.Text()}
		for _, img := range m.Images() {
			wire.Images = append(wire.Images, img.Data)
		}
		out = append(out, wire)
	}
	return out
}

// translateOptions converts the unified sampling config into Ollama options.
// Returns nil when everything is a backend default.
func translateOptions(cfg provider.GenerateConfig) *Options {
	cfg = cfg.Clamped()
	opts := &Options{
		Temperature:   cfg.Temperature,
		TopP:          cfg.TopP,
		TopK:          cfg.TopK,
		RepeatPenalty: cfg.RepetitionPenalty,
	}
	if cfg.MaxTokens > 0 {
		opts.NumPredict = cfg.MaxTokens
	}
	if *opts == (Options{}) {
		return nil
	}
	return opts
}

// =============================================================================
// FINISH REASON MAPPING
// =============================================================================

// doneReasons maps Ollama done_reason strings to the unified enum.
// Unrecognized strings default to stop, never an error.
var doneReasons = map[string]provider.FinishReason{
	"stop":   provider.FinishReasonStop,
	"length": provider.FinishReasonMaxTokens,
	"limit":  provider.FinishReasonMaxTokens,
}

// mapDoneReason converts a done_reason string to the unified enum.
func mapDoneReason(reason string) provider.FinishReason {
	if mapped, ok := doneReasons[strings.ToLower(strings.TrimSpace(reason))]; ok {
		return mapped
	}
	return provider.FinishReasonStop
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// engineErrorKinds maps substrings of Ollama error text to unified kinds.
// Checked in order; the first match wins.
var engineErrorKinds = []struct {
	substr string
	kind   provider.Kind
}{
	{"not found, try pulling", provider.KindInvalidInput},
	{"model not found", provider.KindInvalidInput},
	{"invalid model name", provider.KindInvalidInput},
	{"context length", provider.KindInvalidInput},
	{"out of memory", provider.KindUnavailable},
	{"connection refused", provider.KindNetwork},
}

// mapEngineError converts an engine error string into a unified error.
// Unmatched strings fall back on the HTTP status, then to the generic
// unknown kind with the original message preserved.
func mapEngineError(statusCode int, message string) error {
	lower := strings.ToLower(message)
	for _, entry := range engineErrorKinds {
		if strings.Contains(lower, entry.substr) {
			return &provider.Error{Kind: entry.kind, Message: message, StatusCode: statusCode}
		}
	}
	if statusCode == http.StatusNotFound {
		return &provider.Error{Kind: provider.KindInvalidInput, Message: message, StatusCode: statusCode}
	}
	if statusCode >= 500 {
		return provider.ServerError(statusCode, message)
	}
	return provider.UnknownProviderError("", message)
}
