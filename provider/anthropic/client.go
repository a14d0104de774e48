// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package anthropic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/christopherkarani/inferkit/provider"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the Anthropic API base URL.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is the anthropic-version header value.
	APIVersion = "2023-06-01"

	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxTokens is used when the caller does not set a budget; the
	// API requires max_tokens on every request.
	DefaultMaxTokens = 4096

	// DefaultMaxRetries is the retry budget for transient failures.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the backoff delay.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize limits how much of a response body is read.
	MaxResponseSize = 10 * 1024 * 1024
)

// envAPIKey is the environment variable consulted when no key is configured.
const envAPIKey = "ANTHROPIC_API_KEY"

// =============================================================================
// SHARED CLIENTS
// =============================================================================

var (
	// Shared HTTP client with connection pooling for all API requests.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no timeout; streaming lifetimes are
	// controlled via context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Config holds configuration options for the Anthropic adapter.
type Config struct {
	// APIKey authenticates requests. Empty falls back to the
	// ANTHROPIC_API_KEY environment variable.
	APIKey string

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string

	// Timeout bounds non-streaming requests (default: 60s).
	Timeout time.Duration

	// MaxRetries is the retry budget for transient failures (default: 3).
	MaxRetries int

	// RequestsPerSecond throttles outbound requests. Zero disables
	// client-side rate limiting.
	RequestsPerSecond float64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() *Config {
	return &Config{
		APIKey:     os.Getenv(envAPIKey),
		BaseURL:    DefaultBaseURL,
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
	}
}

// fillDefaults replaces zero values with defaults.
func (c *Config) fillDefaults() {
	if c.APIKey == "" {
		c.APIKey = os.Getenv(envAPIKey)
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// setHeaders sets the required headers for Messages API requests.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "inferkit/0.1.0")
}

// logRequest logs an outbound API request.
// Never logs headers or body; both may contain sensitive data.
func (p *Provider) logRequest(req *http.Request) {
	log.Printf("API Request: %s %s", req.Method, req.URL.Path)
}

// logResponse logs an API response with duration. Status and timing only.
func (p *Provider) logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("API Response: %d %s (%v)", resp.StatusCode, resp.Status, duration)
}

// APIKeyMasked returns the configured key with all but the edges hidden,
// safe for display.
func (p *Provider) APIKeyMasked() string {
	key := p.config.APIKey
	if len(key) < 12 {
		if key == "" {
			return "(not set)"
		}
		return "****"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// waitLimiter blocks until the client-side rate limiter admits a request.
func (p *Provider) waitLimiter(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	if err := p.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return provider.ErrCancelled
		}
		return provider.Timeout(p.config.Timeout)
	}
	return nil
}

// postMessages sends one request against /v1/messages with retry for
// transient failures. Client errors (4xx) never retry; 429 waits out the
// advertised Retry-After once before failing. The returned response has
// status 200 and an open body.
func (p *Provider) postMessages(ctx context.Context, reqBody messagesRequest) (*http.Response, error) {
	if err := p.waitLimiter(ctx); err != nil {
		return nil, err
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, provider.GenerationFailed(err)
	}

	client := sharedHTTPClient
	if reqBody.Stream {
		client = sharedStreamingClient
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, provider.ErrCancelled
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			p.config.BaseURL+"/v1/messages", bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, provider.NetworkError(err)
		}
		p.setHeaders(req)
		if reqBody.Stream {
			req.Header.Set("Accept", "text/event-stream")
			req.Header.Set("Cache-Control", "no-cache")
		}

		p.logRequest(req)
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			switch {
			case errors.Is(err, context.Canceled):
				return nil, provider.ErrCancelled
			case errors.Is(err, context.DeadlineExceeded):
				return nil, provider.Timeout(p.config.Timeout)
			}
			lastErr = provider.NetworkError(err)
			continue
		}
		p.logResponse(resp, time.Since(start))

		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		apiErr := p.readAPIError(resp)
		if !shouldRetry(apiErr) {
			return nil, apiErr
		}
		lastErr = apiErr
	}

	return nil, lastErr
}

// readAPIError drains a non-200 response into a unified error.
func (p *Provider) readAPIError(resp *http.Response) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	return mapErrorResponse(resp.StatusCode, resp.Header, body)
}

// shouldRetry reports whether a mapped API error is worth retrying.
// Rate limits and server-side failures retry; everything else is final.
func shouldRetry(err error) bool {
	switch provider.KindOf(err) {
	case provider.KindRateLimited, provider.KindServer, provider.KindNetwork:
		return true
	}
	return false
}

// calculateBackoff returns the delay before the next retry attempt.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

// newLimiter builds the client-side rate limiter, nil when disabled.
func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// trimKey normalizes a configured API key.
func trimKey(key string) string {
	return strings.TrimSpace(key)
}
