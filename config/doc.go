// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for inferkit.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.inferkit/config.toml
//   - ~/.inferkit/config.json
//   - Built-in defaults
//
// A file watcher built on fsnotify can reload the configuration when the
// file changes on disk; see Watcher.
package config
