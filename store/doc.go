// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides SQLite-backed conversation persistence.
//
// Conversations are stored one row each with the message history encoded
// as JSON. The store supports save/load/list/search/delete plus capture of
// a live session.ChatSession snapshot. SQLite access goes through the pure
// Go driver (modernc.org/sqlite), so no cgo is required.
package store
