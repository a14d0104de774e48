// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package anthropic adapts the Anthropic Messages API to the unified
// provider contract.
//
// The adapter speaks the raw HTTP API: JSON requests against /v1/messages
// and Server-Sent Events for streaming. System turns travel on the
// request's dedicated system field rather than in the message list, and
// multi-part content maps to typed content blocks. API stop reasons and
// error types translate through fixed tables into the unified enums;
// values the tables do not know degrade gracefully instead of failing.
package anthropic
