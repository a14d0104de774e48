// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama adapts the local Ollama inference engine to the unified
// provider contract.
//
// The adapter speaks Ollama's HTTP API: a JSON request to /api/chat and,
// when streaming, a newline-delimited JSON response where each line carries
// one token delta and the last line carries completion statistics. Request
// translation maps unified messages onto Ollama's wire format (system turns
// pass through inline, tool turns are dropped, image parts ride the
// "images" field) and response translation maps done_reason strings and
// engine error text onto the unified enums.
//
// # Usage
//
//	p := ollama.New()
//	if !p.IsAvailable() {
//	    // engine not running
//	}
//	res, err := p.Generate(ctx, messages, "llama3.2:3b", provider.DefaultConfig())
package ollama
