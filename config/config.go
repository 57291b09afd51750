// Package config provides configuration loading and management for Imagent.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Imagent configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Gateways GatewaysConfig `yaml:"gateways"`
	Prompts  PromptsConfig  `yaml:"prompts"`
	NATS     NATSConfig     `yaml:"nats"`
	Server   ServerConfig   `yaml:"server"`
}

// PipelineConfig holds the tunables of the iterative refinement loop.
type PipelineConfig struct {
	// MaxIterations bounds the parallel enhance→generate→validate loop.
	MaxIterations int `yaml:"max_iterations"`
	// MaxStepAttempts bounds retries of a single sequential-mode step.
	MaxStepAttempts int `yaml:"max_step_attempts"`
	// PassThreshold is the integer score at or above which a validation passes.
	PassThreshold int `yaml:"pass_threshold"`
	// RateLimitEnhancement bounds concurrent enhancement calls.
	RateLimitEnhancement int `yaml:"rate_limit_enhancement"`
	// RateLimitValidation bounds concurrent validation calls.
	RateLimitValidation int `yaml:"rate_limit_validation"`
	// ValidationDelay is the pause between sequential validation calls.
	ValidationDelay time.Duration `yaml:"validation_delay"`
	// SequentialTrigger is the iteration number at which a compound request
	// falls back to sequential decomposition.
	SequentialTrigger int `yaml:"sequential_trigger"`
	// CatastrophicThreshold is the average score below which a retry restarts
	// from the original image.
	CatastrophicThreshold float64 `yaml:"catastrophic_threshold"`
	// IncrementalThreshold is the average score at or above which a retry
	// continues from the best failed edit.
	IncrementalThreshold float64 `yaml:"incremental_threshold"`
	// MaxRetries bounds the smart-retry loop.
	MaxRetries int `yaml:"max_retries"`
	// SmartRetryEnabled folds the smart-retry policy into the iteration loop.
	SmartRetryEnabled bool `yaml:"smart_retry_enabled"`
	// LockTTL is the age beyond which stale task locks are swept.
	LockTTL time.Duration `yaml:"lock_ttl"`
	// AndWords are locale-specific conjunctions normalized to commas by the
	// sequential decomposer.
	AndWords []string `yaml:"and_words"`
	// PreservationClause is appended to each decomposed step when the request
	// carries no preservation sentence of its own.
	PreservationClause string `yaml:"preservation_clause"`
	// DualValidation requires two reasoning models to agree on a pass.
	DualValidation bool `yaml:"dual_validation"`
}

// GatewaysConfig configures the three remote services.
type GatewaysConfig struct {
	Reasoning GatewayConfig `yaml:"reasoning"`
	ImageEdit GatewayConfig `yaml:"image_edit"`
	Tracker   GatewayConfig `yaml:"tracker"`
}

// GatewayConfig configures one remote endpoint.
type GatewayConfig struct {
	// URL is the gateway base URL.
	URL string `yaml:"url"`
	// APIKey authenticates requests. Usually supplied via environment.
	APIKey string `yaml:"api_key"`
	// Timeout is the per-call deadline.
	Timeout time.Duration `yaml:"timeout"`
	// PollInterval is the result-poll cadence (image-edit gateway only).
	PollInterval time.Duration `yaml:"poll_interval"`
	// PollDeadline bounds the total polling time (image-edit gateway only).
	PollDeadline time.Duration `yaml:"poll_deadline"`
}

// PromptsConfig configures where prompt documents are loaded from.
type PromptsConfig struct {
	// Dir is the local directory holding activation/research/rubric documents.
	Dir string `yaml:"dir"`
	// Bucket is the JetStream KV bucket that shadows local documents and
	// parameters for live updates. Empty disables the remote shadow.
	Bucket string `yaml:"bucket"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL (empty disables the remote prompt shadow).
	URL string `yaml:"url"`
}

// ServerConfig configures the webhook HTTP server.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`
	// TriggerFieldID is the work-tracker custom field that gates processing.
	TriggerFieldID string `yaml:"trigger_field_id"`
	// ReviewStatus is the work-tracker status used for human handoff.
	ReviewStatus string `yaml:"review_status"`
	// DedupSize bounds the webhook dedup ring.
	DedupSize int `yaml:"dedup_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			MaxIterations:         5,
			MaxStepAttempts:       2,
			PassThreshold:         8,
			RateLimitEnhancement:  3,
			RateLimitValidation:   2,
			ValidationDelay:       2 * time.Second,
			SequentialTrigger:     3,
			CatastrophicThreshold: 5.0,
			IncrementalThreshold:  8.0,
			MaxRetries:            5,
			SmartRetryEnabled:     false,
			LockTTL:               30 * time.Minute,
			AndWords:              []string{"and", "και"},
			PreservationClause:    "Keep everything else in the image exactly the same.",
			DualValidation:        false,
		},
		Gateways: GatewaysConfig{
			Reasoning: GatewayConfig{
				URL:     "https://openrouter.ai/api/v1",
				Timeout: 120 * time.Second,
			},
			ImageEdit: GatewayConfig{
				URL:          "https://api.wavespeed.ai/api/v3",
				Timeout:      60 * time.Second,
				PollInterval: 2 * time.Second,
				PollDeadline: 5 * time.Minute,
			},
			Tracker: GatewayConfig{
				URL:     "https://api.clickup.com/api/v2",
				Timeout: 30 * time.Second,
			},
		},
		Prompts: PromptsConfig{
			Dir:    "prompts",
			Bucket: "imagent-prompts",
		},
		NATS: NATSConfig{
			URL: "",
		},
		Server: ServerConfig{
			Addr:           ":8080",
			ReviewStatus:   "human review",
			DedupSize:      512,
			TriggerFieldID: "",
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Pipeline.MaxIterations < 1 {
		return fmt.Errorf("pipeline.max_iterations must be at least 1")
	}
	if c.Pipeline.MaxStepAttempts < 1 {
		return fmt.Errorf("pipeline.max_step_attempts must be at least 1")
	}
	if c.Pipeline.PassThreshold < 0 || c.Pipeline.PassThreshold > 10 {
		return fmt.Errorf("pipeline.pass_threshold must be between 0 and 10")
	}
	if c.Pipeline.RateLimitEnhancement < 1 {
		return fmt.Errorf("pipeline.rate_limit_enhancement must be at least 1")
	}
	if c.Pipeline.RateLimitValidation < 1 {
		return fmt.Errorf("pipeline.rate_limit_validation must be at least 1")
	}
	if c.Gateways.Reasoning.URL == "" {
		return fmt.Errorf("gateways.reasoning.url is required")
	}
	if c.Gateways.ImageEdit.URL == "" {
		return fmt.Errorf("gateways.image_edit.url is required")
	}
	if c.Gateways.Tracker.URL == "" {
		return fmt.Errorf("gateways.tracker.url is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, layered over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
