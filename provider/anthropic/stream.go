// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/christopherkarani/inferkit/provider"
)

// =============================================================================
// SSE READER
// =============================================================================

// sseReader parses Server-Sent Events from a stream.
type sseReader struct {
	reader *bufio.Reader
}

// newSSEReader creates an SSE reader over r.
func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReader(r)}
}

// readEvent reads the next SSE event, returning the event type and joined
// data payload. Returns io.EOF when the stream ends.
func (s *sseReader) readEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			return "", nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("event:")) {
			eventType = string(bytes.TrimSpace(line[6:]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Ignore other fields (id:, retry:, comments starting with :)
	}
}

// =============================================================================
// STREAM PROCESSING
// =============================================================================

// readStream drives the SSE event loop. Exactly one terminal chunk is
// emitted on every path. Thinking and tool-input deltas are skipped; only
// text deltas carry visible output.
func (p *Provider) readStream(ctx context.Context, body io.Reader, out chan<- provider.GenerationChunk) {
	reader := newSSEReader(body)
	stats := provider.NewStatistics()

	finishReason := provider.FinishReasonStop

	for {
		// Both cancellation paths are consulted every iteration.
		if ctx.Err() != nil || p.cancelled.Load() {
			out <- provider.GenerationChunk{IsComplete: true, FinishReason: provider.FinishReasonCancelled}
			return
		}

		eventName, data, err := reader.readEvent()
		if err != nil {
			if err == io.EOF {
				// Stream closed without message_stop; finish with
				// whatever the last message_delta reported.
				stats.Finalize()
				out <- provider.GenerationChunk{
					IsComplete:      true,
					FinishReason:    finishReason,
					TokensPerSecond: stats.TokensPerSecond,
				}
				return
			}
			if ctx.Err() != nil || p.cancelled.Load() {
				out <- provider.GenerationChunk{IsComplete: true, FinishReason: provider.FinishReasonCancelled}
				return
			}
			out <- provider.GenerationChunk{Err: provider.NetworkError(err)}
			return
		}

		var event streamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			// Skip malformed events.
			continue
		}
		if eventName == "" {
			eventName = event.Type
		}

		switch eventName {
		case "content_block_delta":
			if event.Delta == nil || event.Delta.Type != "text_delta" {
				continue
			}
			if event.Delta.Text == "" {
				continue
			}
			if stats.CompletionTokens == 0 {
				stats.RecordFirstToken()
			}
			stats.CompletionTokens++
			out <- provider.GenerationChunk{
				Text:            event.Delta.Text,
				TokenCount:      1,
				TokensPerSecond: stats.Throughput(),
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				finishReason = mapStopReason(event.Delta.StopReason)
			}

		case "message_stop":
			stats.Finalize()
			out <- provider.GenerationChunk{
				IsComplete:      true,
				FinishReason:    finishReason,
				TokensPerSecond: stats.TokensPerSecond,
			}
			return

		case "error":
			message := "stream error"
			errType := ""
			if event.Error != nil {
				message = event.Error.Message
				errType = event.Error.Type
			}
			if kind, ok := errorTypeKinds[errType]; ok {
				out <- provider.GenerationChunk{Err: &provider.Error{Kind: kind, Message: message}}
			} else {
				out <- provider.GenerationChunk{Err: provider.UnknownProviderError(errType, message)}
			}
			return

		case "ping", "message_start", "content_block_start", "content_block_stop":
			// Housekeeping events carry no output.
		}
	}
}
