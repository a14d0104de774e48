// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/christopherkarani/inferkit/provider"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Config holds configuration options for the Ollama adapter.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434).
	// Note: uses an explicit IPv4 address instead of localhost to avoid
	// IPv6 resolution issues on Windows.
	BaseURL string

	// Timeout bounds non-streaming requests (default: 120s).
	Timeout time.Duration

	// ProbeTimeout bounds availability checks (default: 2s).
	ProbeTimeout time.Duration

	// MinMemoryBytes is the minimum system memory required to consider
	// the local engine usable (default: 4 GiB). Zero disables the check.
	MinMemoryBytes uint64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://127.0.0.1:11434",
		Timeout:        120 * time.Second,
		ProbeTimeout:   2 * time.Second,
		MinMemoryBytes: 4 << 30,
	}
}

// fillDefaults replaces zero values with defaults.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.ProbeTimeout == 0 {
		c.ProbeTimeout = def.ProbeTimeout
	}
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// checkRunning verifies that the engine is reachable, bounded by the probe
// timeout so availability checks never hang.
func (p *Provider) checkRunning(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL, nil)
	if err != nil {
		return provider.NetworkError(err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return provider.Timeout(p.config.ProbeTimeout)
		}
		return provider.Unavailable("ollama is not running")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.ServerError(resp.StatusCode, "unexpected status from ollama: "+resp.Status)
	}
	return nil
}

// postChat sends a chat request and returns the raw HTTP response.
// Streaming requests go through the timeout-free client; the context owns
// their lifetime.
func (p *Provider) postChat(ctx context.Context, reqBody ChatRequest) (*http.Response, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, provider.GenerationFailed(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, provider.NetworkError(err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := p.httpClient
	if reqBody.Stream {
		client = p.streamClient
	}

	resp, err := client.Do(req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			return nil, provider.ErrCancelled
		case errors.Is(err, context.DeadlineExceeded):
			return nil, provider.Timeout(p.config.Timeout)
		default:
			return nil, provider.NetworkError(err)
		}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.mapHTTPError(resp)
	}
	return resp, nil
}

// mapHTTPError converts a non-200 engine response into a unified error.
// The engine's JSON error text, when present, drives the string table;
// otherwise the status code decides.
func (p *Provider) mapHTTPError(resp *http.Response) error {
	var engErr engineError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&engErr); err == nil && engErr.Error != "" {
		return mapEngineError(resp.StatusCode, engErr.Error)
	}
	if resp.StatusCode == http.StatusNotFound {
		return provider.InvalidInput("model not found")
	}
	return provider.ServerError(resp.StatusCode, "chat request failed: "+resp.Status)
}
