// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !linux && !darwin

package detect

// TotalMemoryBytes returns 0 on platforms without a memory probe; callers
// treat 0 as unknown and skip memory-based availability checks.
func TotalMemoryBytes() uint64 {
	return 0
}
