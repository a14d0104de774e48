// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

// =============================================================================
// REQUEST TYPES
// =============================================================================

// messagesRequest is the request body for the /v1/messages endpoint.
type messagesRequest struct {
	Model         string        `json:"model"`
	MaxTokens     int           `json:"max_tokens"`
	Messages      []wireMessage `json:"messages"`
	System        string        `json:"system,omitempty"`
	Temperature   *float64      `json:"temperature,omitempty"`
	TopP          *float64      `json:"top_p,omitempty"`
	TopK          *int          `json:"top_k,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

// wireMessage is one conversation turn in API format. Content is either a
// plain string or a list of typed blocks; the adapter always sends blocks.
type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// contentBlock is one typed content element.
type contentBlock struct {
	Type   string       `json:"type"` // "text" or "image"
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

// imageSource carries base64 image data.
type imageSource struct {
	Type      string `json:"type"` // always "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// messagesResponse is the non-streaming response body.
type messagesResponse struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	Role       string          `json:"role"`
	Content    []contentBlock  `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      wireUsage       `json:"usage"`
	Error      *wireErrorInner `json:"error,omitempty"`
}

// wireUsage is the API's token accounting.
type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// =============================================================================
// STREAMING EVENT TYPES
// =============================================================================

// streamEvent is the union of all SSE event payloads. The event name on the
// wire selects which fields are populated.
type streamEvent struct {
	Type string `json:"type"`

	// message_start
	Message *messagesResponse `json:"message,omitempty"`

	// content_block_start / content_block_delta / content_block_stop
	Index        int           `json:"index,omitempty"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`
	Delta        *eventDelta   `json:"delta,omitempty"`

	// message_delta
	Usage *wireUsage `json:"usage,omitempty"`

	// error
	Error *wireErrorInner `json:"error,omitempty"`
}

// eventDelta carries the incremental payload of delta events. For
// content_block_delta the Type discriminates text deltas from thinking and
// tool-input deltas; for message_delta it carries the stop reason.
type eventDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// wireError is the API's error envelope.
type wireError struct {
	Type  string         `json:"type"`
	Error wireErrorInner `json:"error"`
}

// wireErrorInner is the typed error body.
type wireErrorInner struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
