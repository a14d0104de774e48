// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the capability contract every inference backend
// implements, together with the value types that cross it: sampling
// configuration, streaming chunks, final results, and the unified error
// taxonomy.
//
// # Contract
//
// A Provider exposes bulk generation (Generate), incremental generation
// (Stream), availability probes, and cooperative cancellation. The streaming
// contract is the load-bearing part: a stream delivers zero or more text
// chunks in generation order, then exactly one terminal signal — either a
// chunk with IsComplete set and a finish reason, or a chunk carrying Err —
// and the channel closes. Never both, never neither.
//
// Cancellation is cooperative. CancelGeneration sets a provider-local flag
// that the streaming loop consults on every iteration alongside the caller's
// context; on detection the stream ends with FinishReasonCancelled and a
// Generate call returns ErrCancelled. Cancelling never corrupts provider
// state: the next call starts clean.
//
// # Errors
//
// Backend-specific failures never escape an adapter. Every exit path maps to
// a *provider.Error carrying one of the Kind values; unknown backend codes
// degrade to KindUnknown with the original message preserved.
package provider
