// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session manages one logical conversation: its message history,
// system prompt, and generation lifecycle.
//
// A ChatSession moves between two states, Idle and Generating. At most one
// generation runs per session at a time; a second Send or Stream while one
// is in flight fails with ErrOperationInProgress rather than queueing. The
// session is the sole writer of its history and holds these invariants:
//
//   - At most one system message exists, always at index 0 when present.
//   - A completed exchange appends user and assistant messages as a pair;
//     a failed or cancelled one leaves only the user message, with partial
//     streamed text inspectable via StreamingText.
//   - Every exit path, success or failure, returns the session to Idle.
//
// All methods are safe for concurrent use.
package session
