package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
)

// Load resolves configuration with precedence: environment variables over the
// YAML file at path (if present) over bundled defaults. An empty path loads
// defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		loaded, err := LoadFromFile(path)
		switch {
		case err == nil:
			cfg = loaded
		case errors.Is(err, fs.ErrNotExist):
			// Missing file falls back to defaults plus environment.
		default:
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the config. Variable names
// follow the deployment convention of the hosted service.
func applyEnv(c *Config) {
	envInt("MAX_ITERATIONS", &c.Pipeline.MaxIterations)
	envInt("MAX_STEP_ATTEMPTS", &c.Pipeline.MaxStepAttempts)
	envInt("VALIDATION_PASS_THRESHOLD", &c.Pipeline.PassThreshold)
	envInt("RATE_LIMIT_ENHANCEMENT", &c.Pipeline.RateLimitEnhancement)
	envInt("RATE_LIMIT_VALIDATION", &c.Pipeline.RateLimitValidation)
	envSeconds("VALIDATION_DELAY_SECONDS", &c.Pipeline.ValidationDelay)
	envInt("SEQUENTIAL_TRIGGER", &c.Pipeline.SequentialTrigger)
	envFloat("CATASTROPHIC_THRESHOLD", &c.Pipeline.CatastrophicThreshold)
	envFloat("INCREMENTAL_THRESHOLD", &c.Pipeline.IncrementalThreshold)
	envInt("MAX_RETRIES", &c.Pipeline.MaxRetries)
	envBool("SMART_RETRY_ENABLED", &c.Pipeline.SmartRetryEnabled)
	envBool("DUAL_VALIDATION", &c.Pipeline.DualValidation)
	envSeconds("LOCK_TTL_SECONDS", &c.Pipeline.LockTTL)

	envSeconds("TIMEOUT_OPENROUTER_SECONDS", &c.Gateways.Reasoning.Timeout)
	envSeconds("TIMEOUT_WAVESPEED_SECONDS", &c.Gateways.ImageEdit.Timeout)
	envSeconds("TIMEOUT_WAVESPEED_POLLING_SECONDS", &c.Gateways.ImageEdit.PollDeadline)
	envSeconds("TIMEOUT_CLICKUP_SECONDS", &c.Gateways.Tracker.Timeout)

	envString("OPENROUTER_API_KEY", &c.Gateways.Reasoning.APIKey)
	envString("WAVESPEED_API_KEY", &c.Gateways.ImageEdit.APIKey)
	envString("CLICKUP_API_KEY", &c.Gateways.Tracker.APIKey)

	envString("NATS_URL", &c.NATS.URL)
	envString("PROMPTS_DIR", &c.Prompts.Dir)
	envString("PROMPTS_BUCKET", &c.Prompts.Bucket)
	envString("LISTEN_ADDR", &c.Server.Addr)
	envString("TRIGGER_FIELD_ID", &c.Server.TriggerFieldID)
	envString("REVIEW_STATUS", &c.Server.ReviewStatus)
}

func envString(name string, dst *string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(f * float64(time.Second))
		}
	}
}
