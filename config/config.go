// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/christopherkarani/inferkit/internal/util"
	"github.com/christopherkarani/inferkit/provider"
	"github.com/christopherkarani/inferkit/provider/anthropic"
	"github.com/christopherkarani/inferkit/provider/ollama"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete inferkit configuration.
type Config struct {
	// General settings
	Version      string `toml:"version" json:"version"`
	DefaultModel string `toml:"default_model" json:"default_model"`

	// Local (Ollama) configuration
	Local LocalConfig `toml:"local" json:"local"`

	// Cloud (Anthropic) configuration
	Cloud CloudConfig `toml:"cloud" json:"cloud"`

	// Generation defaults applied to new sessions
	Generation GenerationConfig `toml:"generation" json:"generation"`

	// Store configuration for conversation persistence
	Store StoreConfig `toml:"store" json:"store"`
}

// LocalConfig contains local Ollama engine configuration.
type LocalConfig struct {
	// URL is the base URL of the Ollama server
	URL string `toml:"url" json:"url"`
	// Model is the default model to use with Ollama
	Model string `toml:"model" json:"model"`
	// TimeoutSecs bounds non-streaming requests
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// ProbeTimeoutSecs bounds availability checks
	ProbeTimeoutSecs int `toml:"probe_timeout_secs" json:"probe_timeout_secs"`
	// MinMemoryGB is the minimum system memory to consider the engine
	// usable (0 disables the check)
	MinMemoryGB int `toml:"min_memory_gb" json:"min_memory_gb"`
}

// CloudConfig contains cloud provider (Anthropic) configuration.
type CloudConfig struct {
	// APIKey is the Anthropic API key. Prefer the ANTHROPIC_API_KEY
	// environment variable over storing the key on disk.
	APIKey string `toml:"api_key" json:"api_key"`
	// BaseURL overrides the API endpoint (empty = production)
	BaseURL string `toml:"base_url" json:"base_url"`
	// Model is the default cloud model to use
	Model string `toml:"model" json:"model"`
	// TimeoutSecs bounds non-streaming requests
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the retry budget for retryable failures (0-10)
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// RequestsPerSecond caps outbound request rate (0 = unlimited)
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second"`
}

// GenerationConfig contains default sampling parameters for new sessions.
type GenerationConfig struct {
	// MaxTokens caps generated tokens (0 = backend default)
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
	// Temperature controls randomness (0-2)
	Temperature float64 `toml:"temperature" json:"temperature"`
	// TopP is the nucleus-sampling cutoff (0-1]
	TopP float64 `toml:"top_p" json:"top_p"`
	// TopK limits sampling to the K most likely tokens (0 = backend default)
	TopK int `toml:"top_k" json:"top_k"`
	// RepetitionPenalty discourages repeated tokens (0 = backend default)
	RepetitionPenalty float64 `toml:"repetition_penalty" json:"repetition_penalty"`
}

// StoreConfig contains conversation persistence configuration.
type StoreConfig struct {
	// Enabled controls whether conversations are persisted
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the SQLite database path (empty = ~/.inferkit/conversations.db)
	Path string `toml:"path" json:"path"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version:      "1.0.0",
		DefaultModel: "llama3.2",

		Local: LocalConfig{
			URL:              "http://127.0.0.1:11434",
			Model:            "llama3.2",
			TimeoutSecs:      120,
			ProbeTimeoutSecs: 2,
			MinMemoryGB:      4,
		},

		Cloud: CloudConfig{
			APIKey:            "",
			BaseURL:           "",
			Model:             "claude-sonnet-4-5",
			TimeoutSecs:       60,
			MaxRetries:        3,
			RequestsPerSecond: 0, // unlimited
		},

		Generation: GenerationConfig{
			MaxTokens:   0,
			Temperature: 0.7,
			TopP:        0.9,
			TopK:        40,
		},

		Store: StoreConfig{
			Enabled: true,
			Path:    "",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the inferkit configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".inferkit"), nil
}

// PathTOML returns the path to the TOML config file.
func PathTOML() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// PathJSON returns the path to the JSON config file.
func PathJSON() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// Config files should be 0600 since they may hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	if tomlPath, err := PathTOML(); err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				return finish(cfg)
			}
		}
	}

	if jsonPath, err := PathJSON(); err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				return finish(cfg)
			}
		}
	}

	cfg, err := finish(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, loadErr
}

// LoadFromPath loads configuration from a specific file path with full
// validation. JSON files are detected by extension; everything else is
// treated as TOML.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// finish applies env overrides, defaults, and validation in load order.
func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML loads configuration from a TOML file.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON loads configuration from a JSON file.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

// fillDefaults fills in any missing values with defaults.
func (c *Config) fillDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.DefaultModel == "" {
		c.DefaultModel = defaults.DefaultModel
	}

	if c.Local.URL == "" {
		c.Local.URL = defaults.Local.URL
	}
	if c.Local.Model == "" {
		c.Local.Model = defaults.Local.Model
	}
	if c.Local.TimeoutSecs == 0 {
		c.Local.TimeoutSecs = defaults.Local.TimeoutSecs
	}
	if c.Local.ProbeTimeoutSecs == 0 {
		c.Local.ProbeTimeoutSecs = defaults.Local.ProbeTimeoutSecs
	}

	if c.Cloud.Model == "" {
		c.Cloud.Model = defaults.Cloud.Model
	}
	if c.Cloud.TimeoutSecs == 0 {
		c.Cloud.TimeoutSecs = defaults.Cloud.TimeoutSecs
	}

	if c.Generation.Temperature == 0 {
		c.Generation.Temperature = defaults.Generation.Temperature
	}
	if c.Generation.TopP == 0 {
		c.Generation.TopP = defaults.Generation.TopP
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over file values.
func (c *Config) ApplyEnvOverrides() {
	// INFERKIT_MODEL
	if model := os.Getenv("INFERKIT_MODEL"); model != "" {
		c.DefaultModel = model
	}

	// INFERKIT_OLLAMA_URL
	if u := os.Getenv("INFERKIT_OLLAMA_URL"); u != "" {
		c.Local.URL = u
	}

	// ANTHROPIC_API_KEY
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.Cloud.APIKey = key
	}

	// INFERKIT_CLOUD_MODEL
	if model := os.Getenv("INFERKIT_CLOUD_MODEL"); model != "" {
		c.Cloud.Model = model
	}

	// INFERKIT_MAX_RETRIES
	if retries := os.Getenv("INFERKIT_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			c.Cloud.MaxRetries = n
		}
	}

	// INFERKIT_STORE_PATH
	if path := os.Getenv("INFERKIT_STORE_PATH"); path != "" {
		c.Store.Path = path
	}

	// INFERKIT_NO_STORE
	if noStore := os.Getenv("INFERKIT_NO_STORE"); noStore != "" {
		c.Store.Enabled = !(noStore == "1" || strings.ToLower(noStore) == "true")
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Local.URL != "" {
		if u, err := url.Parse(c.Local.URL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "local.url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Local.URL),
			})
		}
	}

	if c.Cloud.BaseURL != "" {
		if u, err := url.Parse(c.Cloud.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "cloud.base_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Cloud.BaseURL),
			})
		}
	}

	if c.Local.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "local.timeout_secs",
			Message: "cannot be negative",
		})
	}
	if c.Cloud.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "cloud.timeout_secs",
			Message: "cannot be negative",
		})
	}

	if c.Cloud.MaxRetries < 0 || c.Cloud.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "cloud.max_retries",
			Message: fmt.Sprintf("must be 0-10, got %d", c.Cloud.MaxRetries),
		})
	}

	if c.Cloud.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{
			Field:   "cloud.requests_per_second",
			Message: "cannot be negative",
		})
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		errs = append(errs, ValidationError{
			Field:   "generation.temperature",
			Message: fmt.Sprintf("must be 0-2, got %g", c.Generation.Temperature),
		})
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		errs = append(errs, ValidationError{
			Field:   "generation.top_p",
			Message: fmt.Sprintf("must be 0-1, got %g", c.Generation.TopP),
		})
	}
	if c.Generation.MaxTokens < 0 {
		errs = append(errs, ValidationError{
			Field:   "generation.max_tokens",
			Message: "cannot be negative",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := PathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	fmt.Fprintln(file, "# inferkit configuration file")
	fmt.Fprintln(file, "# Generated by inferkit - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SaveJSON saves the configuration to a JSON file with 0600 permissions.
// Uses an atomic write so a crash mid-save cannot truncate the file.
func SaveJSON(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// PROVIDER BRIDGES
// =============================================================================

// OllamaConfig builds the local adapter configuration from this config.
func (c *Config) OllamaConfig() *ollama.Config {
	return &ollama.Config{
		BaseURL:        c.Local.URL,
		Timeout:        time.Duration(c.Local.TimeoutSecs) * time.Second,
		ProbeTimeout:   time.Duration(c.Local.ProbeTimeoutSecs) * time.Second,
		MinMemoryBytes: uint64(c.Local.MinMemoryGB) << 30,
	}
}

// AnthropicConfig builds the cloud adapter configuration from this config.
func (c *Config) AnthropicConfig() *anthropic.Config {
	return &anthropic.Config{
		APIKey:            c.Cloud.APIKey,
		BaseURL:           c.Cloud.BaseURL,
		Timeout:           time.Duration(c.Cloud.TimeoutSecs) * time.Second,
		MaxRetries:        c.Cloud.MaxRetries,
		RequestsPerSecond: c.Cloud.RequestsPerSecond,
	}
}

// GenerateConfig builds the default generation parameters from this config.
func (c *Config) GenerateConfig() provider.GenerateConfig {
	return provider.GenerateConfig{
		MaxTokens:         c.Generation.MaxTokens,
		Temperature:       c.Generation.Temperature,
		TopP:              c.Generation.TopP,
		TopK:              c.Generation.TopK,
		RepetitionPenalty: c.Generation.RepetitionPenalty,
	}
}

// StorePath returns the resolved conversation database path.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations.db"), nil
}
