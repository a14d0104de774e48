// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether the role is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool:
		return true
	}
	return false
}

// =============================================================================
// CONTENT PARTS
// =============================================================================

// PartKind discriminates the content part union.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// ContentPart is one element of a multi-part message body.
// Exactly one of the payload fields is meaningful, selected by Kind.
type ContentPart struct {
	Kind PartKind `json:"kind"`

	// Text payload (PartText).
	Text string `json:"text,omitempty"`

	// Image payload (PartImage): base64-encoded bytes plus MIME type.
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: PartText, Text: text}
}

// ImagePart creates an image content part from base64 data and a MIME type.
func ImagePart(base64Data, mimeType string) ContentPart {
	return ContentPart{Kind: PartImage, Data: base64Data, MimeType: mimeType}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// A message body is either plain text (Content) or an ordered list of parts
// (Parts). When Parts is non-nil it takes precedence and Content is ignored.
// Messages are value types: treat them as immutable after construction.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`

	// Optional free-form metadata attached at construction time.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates a new text message with a generated ID.
func NewMessage(role Role, content string) Message {
	return Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(content string) Message {
	return NewMessage(RoleTool, content)
}

// NewPartsMessage creates a message whose body is an ordered list of parts.
// The parts slice is copied so later caller mutation cannot leak in.
func NewPartsMessage(role Role, parts []ContentPart) Message {
	copied := make([]ContentPart, len(parts))
	copy(copied, parts)
	return Message{
		ID:        generateID(),
		Role:      role,
		Parts:     copied,
		Timestamp: time.Now(),
	}
}

// WithMetadata returns a copy of the message with the metadata attached.
func (m Message) WithMetadata(meta map[string]string) Message {
	copied := make(map[string]string, len(meta))
	for k, v := range meta {
		copied[k] = v
	}
	m.Metadata = copied
	return m
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsMultipart reports whether the message body is a parts list.
func (m Message) IsMultipart() bool {
	return m.Parts != nil
}

// Text returns the textual content of the message. For multi-part messages
// the text parts are concatenated in order; image parts contribute nothing.
func (m Message) Text() string {
	if !m.IsMultipart() {
		return m.Content
	}
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// HasImages reports whether the message carries any image parts.
func (m Message) HasImages() bool {
	for _, p := range m.Parts {
		if p.Kind == PartImage {
			return true
		}
	}
	return false
}

// Images returns the image parts of the message in order.
func (m Message) Images() []ContentPart {
	var images []ContentPart
	for _, p := range m.Parts {
		if p.Kind == PartImage {
			images = append(images, p)
		}
	}
	return images
}

// IsEmpty returns true if the message has no content.
func (m Message) IsEmpty() bool {
	if m.IsMultipart() {
		return len(m.Parts) == 0
	}
	return len(m.Content) == 0
}

// Preview returns a truncated preview of the message text.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	content := m.Text()
	runes := []rune(content)
	if len(runes) <= maxLen {
		return content
	}
	return string(runes[:maxLen-3]) + "..."
}

// EstimateTokens gives a rough estimate of token count.
// Uses the approximation of ~4 characters per token.
func (m Message) EstimateTokens() int {
	return (len(m.Text()) + 3) / 4
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// generateID creates a unique message ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}
