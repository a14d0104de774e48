// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/christopherkarani/inferkit/model"
	"github.com/christopherkarani/inferkit/provider"
)

// =============================================================================
// REQUEST TRANSLATION
// =============================================================================

// translateRequest converts unified messages into a Messages API request.
//
// The API takes the system prompt as a dedicated request field, not a turn:
// the first system message moves there and any further system messages are
// dropped. Tool turns are dropped as well; the adapter does not support
// tool calling. Multi-part content maps to typed blocks, with images as
// base64 sources.
func translateRequest(messages []model.Message, modelID string, cfg provider.GenerateConfig) messagesRequest {
	cfg = cfg.Clamped()

	req := messagesRequest{
		Model:     model.CanonicalID(modelID),
		MaxTokens: cfg.MaxTokens,
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}

	for _, m := range messages {
		switch m.Role {
		case model.RoleSystem:
			if req.System == "" {
				req.System = m.Text()
			}
			continue
		case model.RoleTool:
			continue
		}

		req.Messages = append(req.Messages, wireMessage{
			Role:    m.Role.String(),
			Content: translateContent(m),
		})
	}

	if cfg.Temperature != 0 {
		t := cfg.Temperature
		req.Temperature = &t
	}
	if cfg.TopP != 0 {
		v := cfg.TopP
		req.TopP = &v
	}
	if cfg.TopK != 0 {
		k := cfg.TopK
		req.TopK = &k
	}

	return req
}

// translateContent maps a message's content into typed blocks.
func translateContent(m model.Message) []contentBlock {
	if !m.IsMultipart() {
		return []contentBlock{{Type: "text", Text: m.Content}}
	}

	blocks := make([]contentBlock, 0, len(m.Parts))
	for _, part := range m.Parts {
		switch part.Kind {
		case model.PartText:
			blocks = append(blocks, contentBlock{Type: "text", Text: part.Text})
		case model.PartImage:
			blocks = append(blocks, contentBlock{
				Type: "image",
				Source: &imageSource{
					Type:      "base64",
					MediaType: part.MimeType,
					Data:      part.Data,
				},
			})
		}
	}
	return blocks
}

// =============================================================================
// STOP REASON MAPPING
// =============================================================================

// stopReasons maps API stop_reason strings to the unified enum.
// Unrecognized values default to stop, never an error.
var stopReasons = map[string]provider.FinishReason{
	"end_turn":      provider.FinishReasonStop,
	"max_tokens":    provider.FinishReasonMaxTokens,
	"stop_sequence": provider.FinishReasonStopSequence,
	"refusal":       provider.FinishReasonContentFilter,
}

// mapStopReason converts a stop_reason string to the unified enum.
func mapStopReason(reason string) provider.FinishReason {
	if mapped, ok := stopReasons[reason]; ok {
		return mapped
	}
	return provider.FinishReasonStop
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// errorTypeKinds maps API error type strings to unified kinds. Types the
// table does not know fall through to the status code, then to the unknown
// kind with the message preserved.
var errorTypeKinds = map[string]provider.Kind{
	"invalid_request_error": provider.KindInvalidInput,
	"authentication_error":  provider.KindAuthentication,
	"permission_error":      provider.KindAuthentication,
	"not_found_error":       provider.KindInvalidInput,
	"request_too_large":     provider.KindInvalidInput,
	"rate_limit_error":      provider.KindRateLimited,
	"api_error":             provider.KindServer,
	"overloaded_error":      provider.KindServer,
	"timeout_error":         provider.KindTimeout,
}

// mapErrorResponse converts a non-200 API response into a unified error.
func mapErrorResponse(statusCode int, header http.Header, body []byte) error {
	message := strings.TrimSpace(string(body))
	errType := ""

	var envelope wireError
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		errType = envelope.Error.Type
	}

	if kind, ok := errorTypeKinds[errType]; ok {
		e := &provider.Error{Kind: kind, Message: message, StatusCode: statusCode}
		if kind == provider.KindRateLimited {
			e.RetryAfter = parseRetryAfter(header)
		}
		return e
	}

	// Unknown or missing error type; the status code decides.
	switch {
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return &provider.Error{Kind: provider.KindAuthentication, Message: message, StatusCode: statusCode}
	case statusCode == http.StatusTooManyRequests:
		return &provider.Error{
			Kind:       provider.KindRateLimited,
			Message:    message,
			StatusCode: statusCode,
			RetryAfter: parseRetryAfter(header),
		}
	case statusCode == http.StatusNotFound, statusCode == http.StatusBadRequest:
		return &provider.Error{Kind: provider.KindInvalidInput, Message: message, StatusCode: statusCode}
	case statusCode >= 500:
		return provider.ServerError(statusCode, message)
	}
	return provider.UnknownProviderError(errType, message)
}

// parseRetryAfter reads the Retry-After header as seconds or an HTTP date.
func parseRetryAfter(header http.Header) time.Duration {
	value := header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
