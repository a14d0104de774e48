// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// =============================================================================
// NAMESPACE TYPE
// =============================================================================

// Namespace identifies which provider family a model identifier belongs to.
type Namespace string

const (
	// NamespaceLocal covers models served by the local inference engine.
	NamespaceLocal Namespace = "local"

	// NamespaceAnthropic covers Anthropic cloud models.
	NamespaceAnthropic Namespace = "anthropic"

	// NamespaceUnknown is returned for identifiers no rule matches.
	NamespaceUnknown Namespace = "unknown"
)

// String returns the string representation of the namespace.
func (n Namespace) String() string {
	return string(n)
}

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo contains registry metadata about a known model.
type ModelInfo struct {
	// ID is the model identifier used in API calls.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// Namespace identifies the provider family that serves the model.
	Namespace Namespace `json:"namespace"`

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int `json:"context_window"`

	// Description is a brief explanation of the model's strengths.
	Description string `json:"description"`
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// Models is the registry of known models, keyed by friendly alias.
// Both cloud API models and well-known local models are listed.
var Models = map[string]ModelInfo{
	// Anthropic Claude models
	"haiku": {
		ID:            "claude-3-5-haiku-20241022",
		Name:          "Claude 3.5 Haiku",
		Namespace:     NamespaceAnthropic,
		ContextWindow: 200000,
		Description:   "Fast and efficient for simple tasks",
	},
	"sonnet": {
		ID:            "claude-3-5-sonnet-20241022",
		Name:          "Claude 3.5 Sonnet",
		Namespace:     NamespaceAnthropic,
		ContextWindow: 200000,
		Description:   "Best balance of speed and capability",
	},
	"opus": {
		ID:            "claude-3-opus-20240229",
		Name:          "Claude 3 Opus",
		Namespace:     NamespaceAnthropic,
		ContextWindow: 200000,
		Description:   "Most capable for complex reasoning",
	},

	// Local models
	"llama3.2": {
		ID:            "llama3.2:3b",
		Name:          "Llama 3.2 3B",
		Namespace:     NamespaceLocal,
		ContextWindow: 128000,
		Description:   "Small general-purpose local model",
	},
	"qwen-coder": {
		ID:            "qwen2.5-coder:7b",
		Name:          "Qwen 2.5 Coder 7B",
		Namespace:     NamespaceLocal,
		ContextWindow: 32768,
		Description:   "Local code-focused model",
	},
	"mistral": {
		ID:            "mistral:7b",
		Name:          "Mistral 7B",
		Namespace:     NamespaceLocal,
		ContextWindow: 32768,
		Description:   "Fast local general model",
	},
}

// Lookup returns the registry entry for a friendly alias or a full model ID.
func Lookup(idOrAlias string) (ModelInfo, bool) {
	if info, ok := Models[idOrAlias]; ok {
		return info, true
	}
	for _, info := range Models {
		if info.ID == idOrAlias {
			return info, true
		}
	}
	return ModelInfo{}, false
}

// CanonicalID resolves a friendly alias to its full model identifier.
// Unknown identifiers are returned unchanged.
func CanonicalID(idOrAlias string) string {
	if info, ok := Models[idOrAlias]; ok {
		return info.ID
	}
	return idOrAlias
}

// Resolve maps a model identifier to its provider namespace.
//
// Registry entries resolve exactly; unregistered identifiers fall back to
// naming conventions ("claude-" prefixed IDs are Anthropic, "name:tag" IDs
// are local engine models). Identifiers matching no rule resolve to
// NamespaceUnknown so that adapters can reject them as invalid input.
func Resolve(modelID string) Namespace {
	if info, ok := Lookup(modelID); ok {
		return info.Namespace
	}
	if strings.HasPrefix(modelID, "claude-") {
		return NamespaceAnthropic
	}
	if strings.Contains(modelID, ":") {
		return NamespaceLocal
	}
	return NamespaceUnknown
}
