// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package detect probes the host for local inference suitability.
//
// It reports platform identity, total system memory, and whether the
// local engine binary is present. Providers consult these checks when
// refining availability into a reason code.
package detect
