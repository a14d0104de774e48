// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures shared by every inference
// backend: conversation messages, message content parts, and the model
// registry.
//
// # Key Types
//
//   - Message: a single conversation turn with role, content, and metadata
//   - ContentPart: one element of a multi-part message (text or image)
//   - ModelInfo: registry metadata for a known model
//   - Namespace: which provider family a model identifier belongs to
//
// Messages are immutable once created: construct them with the NewXxxMessage
// helpers and never mutate the fields afterward. Ordering and invariants
// over message lists (for example the single-system-message rule) are owned
// by the session layer, not by this package.
package model
