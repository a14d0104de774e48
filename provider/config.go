// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

// =============================================================================
// GENERATE CONFIG
// =============================================================================

// GenerateConfig holds sampling parameters for a generation request.
// It is an immutable value type: copy it, never share pointers to it.
// Zero values mean "use the backend default" for the optional fields.
type GenerateConfig struct {
	// MaxTokens caps the number of tokens to generate (0 = backend default).
	MaxTokens int

	// Temperature controls randomness. Clamped to [0, 2] before dispatch.
	Temperature float64

	// TopP is the nucleus-sampling cutoff. Clamped to (0, 1].
	TopP float64

	// TopK limits sampling to the K most likely tokens (0 = backend default).
	TopK int

	// RepetitionPenalty discourages repeated tokens (0 = backend default).
	RepetitionPenalty float64
}

// DefaultConfig returns the default generation configuration.
func DefaultConfig() GenerateConfig {
	return GenerateConfig{
		Temperature: 0.7,
		TopP:        0.9,
	}
}

// =============================================================================
// PRESETS
// =============================================================================

// Named presets covering the common sampling profiles.
var (
	// PresetCreative favors varied, exploratory output.
	PresetCreative = GenerateConfig{Temperature: 1.0, TopP: 0.95}

	// PresetBalanced is the general-purpose default.
	PresetBalanced = GenerateConfig{Temperature: 0.7, TopP: 0.9}

	// PresetPrecise favors deterministic, focused output.
	PresetPrecise = GenerateConfig{Temperature: 0.2, TopP: 0.9, TopK: 20}
)

// =============================================================================
// VALIDATION
// =============================================================================

// Clamped returns a copy with every parameter forced into its backend-valid
// range. Out-of-range values are clamped, never rejected.
func (c GenerateConfig) Clamped() GenerateConfig {
	if c.Temperature < 0 {
		c.Temperature = 0
	}
	if c.Temperature > 2 {
		c.Temperature = 2
	}
	if c.TopP < 0 {
		c.TopP = 0
	}
	if c.TopP > 1 {
		c.TopP = 1
	}
	if c.MaxTokens < 0 {
		c.MaxTokens = 0
	}
	if c.TopK < 0 {
		c.TopK = 0
	}
	if c.RepetitionPenalty < 0 {
		c.RepetitionPenalty = 0
	}
	return c
}

// WithMaxTokens returns a copy with the token cap set.
func (c GenerateConfig) WithMaxTokens(n int) GenerateConfig {
	c.MaxTokens = n
	return c
}

// WithTemperature returns a copy with the temperature set.
func (c GenerateConfig) WithTemperature(t float64) GenerateConfig {
	c.Temperature = t
	return c
}
