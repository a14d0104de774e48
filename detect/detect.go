// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package detect

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// =============================================================================
// PLATFORM INFO
// =============================================================================

// PlatformInfo describes the host as seen by the local inference path.
type PlatformInfo struct {
	// OS is the runtime GOOS value.
	OS string
	// Arch is the runtime GOARCH value.
	Arch string
	// TotalMemory is the total physical memory in bytes, 0 when unknown.
	TotalMemory uint64
	// EngineInstalled reports whether the local engine CLI is on PATH.
	EngineInstalled bool
}

// String returns a short human-readable platform summary.
func (p PlatformInfo) String() string {
	s := p.OS + "/" + p.Arch
	if p.TotalMemory > 0 {
		s += " (" + FormatBytes(p.TotalMemory) + " RAM)"
	}
	return s
}

var (
	platformCache   *PlatformInfo
	platformCacheMu sync.Mutex
	platformCacheAt time.Time

	platformCacheTTL = 5 * time.Minute
)

// Platform returns the host platform description. Results are cached for
// a few minutes since hardware does not change mid-process.
func Platform() PlatformInfo {
	platformCacheMu.Lock()
	defer platformCacheMu.Unlock()

	if platformCache != nil && time.Since(platformCacheAt) < platformCacheTTL {
		return *platformCache
	}

	info := PlatformInfo{
		OS:              runtime.GOOS,
		Arch:            runtime.GOARCH,
		TotalMemory:     TotalMemoryBytes(),
		EngineInstalled: EngineInstalled(),
	}

	platformCache = &info
	platformCacheAt = time.Now()
	return info
}

// ClearCache clears the cached platform info, forcing a fresh probe on
// the next Platform call.
func ClearCache() {
	platformCacheMu.Lock()
	defer platformCacheMu.Unlock()
	platformCache = nil
	platformCacheAt = time.Time{}
}

// =============================================================================
// ENGINE PRESENCE
// =============================================================================

// EngineInstalled reports whether the ollama CLI is on PATH. A missing
// binary is a stronger signal than a refused connection: the engine is
// not merely stopped, it is absent.
func EngineInstalled() bool {
	_, err := exec.LookPath("ollama")
	return err == nil
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatBytes renders a byte count as a human-readable size.
func FormatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
