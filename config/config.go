// Package config assembles runtime defaults the teacher's way: layered
// defaults, then environment variables, then functional options, then
// validation. It also loads the same shape from a JSON or YAML file and
// can watch that file for hot-reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RetryConfig holds configurable retry defaults. Run does not read them:
// when a caller supplies no policy, Run uses l0.DefaultRetryPolicy.
type RetryConfig struct {
	Attempts   int
	MaxRetries int // 0 means unset/no absolute cap
	Backoff    string
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// TimeoutConfig holds the stream normalizer's default timeouts.
type TimeoutConfig struct {
	InitialToken time.Duration
	InterToken   time.Duration
}

// GuardrailConfig holds the guardrail engine's default cadence.
type GuardrailConfig struct {
	CheckIntervalTokens int
	StopOnFatal         bool
}

// ContinuationConfig holds the continuation engine's defaults, including
// the opt-in distributed checkpoint store.
type ContinuationConfig struct {
	CheckpointIntervalTokens int
	Enabled                  bool
	Deduplicate              bool
	MinOverlap               int
	MaxOverlap               int
	CaseSensitive            bool
	NormalizeWhitespace      bool

	// RedisURL is the address for continuation.RedisCheckpointStore. It
	// is only stored here: nothing in the runtime reads it to switch
	// stores, so a caller builds the store itself and passes it as
	// Options.CheckpointStore. Empty by default.
	RedisURL string
}

// LoggingConfig controls telemetry.StructuredLogger.
type LoggingConfig struct {
	Level  string
	Format string
}

// TelemetryConfig controls the optional OTel provider.
type TelemetryConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
}

// Config is the full runtime configuration, built up the teacher's way:
// DefaultConfig() → LoadFromEnv() → functional Options → Validate().
type Config struct {
	Retry        RetryConfig
	Timeout      TimeoutConfig
	Guardrail    GuardrailConfig
	Continuation ContinuationConfig
	Logging      LoggingConfig
	Telemetry    TelemetryConfig
}

// DefaultConfig returns the spec's documented defaults: attempts=2,
// backoff=fixed-jitter, baseDelay=1000ms, maxDelay=5000ms, checkpoint
// every 10 tokens, dedup on when continuation is on.
func DefaultConfig() *Config {
	return &Config{
		Retry: RetryConfig{
			Attempts:  2,
			Backoff:   "fixed-jitter",
			BaseDelay: time.Second,
			MaxDelay:  5 * time.Second,
		},
		Timeout: TimeoutConfig{
			InitialToken: 30 * time.Second,
			InterToken:   15 * time.Second,
		},
		Guardrail: GuardrailConfig{
			CheckIntervalTokens: 5,
			StopOnFatal:         true,
		},
		Continuation: ContinuationConfig{
			CheckpointIntervalTokens: 10,
			Deduplicate:              true,
			MinOverlap:               1,
			MaxOverlap:               64,
			NormalizeWhitespace:      false,
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "l0",
		},
	}
}

// Option mutates a Config during NewConfig composition.
type Option func(*Config) error

// NewConfig builds a Config from defaults, environment variables, then
// applies opts in order, then validates.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("config option failed: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv overlays recognized L0_* environment variables onto cfg.
// Unrecognized or malformed values are left at their current setting.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("L0_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.Attempts = n
		}
	}
	if v := os.Getenv("L0_RETRY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxRetries = n
		}
	}
	if v := os.Getenv("L0_RETRY_BACKOFF"); v != "" {
		cfg.Retry.Backoff = v
	}
	if v := os.Getenv("L0_RETRY_BASE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.BaseDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("L0_RETRY_MAX_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retry.MaxDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("L0_TIMEOUT_INITIAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeout.InitialToken = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("L0_TIMEOUT_INTER_TOKEN_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeout.InterToken = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("L0_GUARDRAIL_CHECK_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Guardrail.CheckIntervalTokens = n
		}
	}
	if v := os.Getenv("L0_CHECKPOINT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Continuation.CheckpointIntervalTokens = n
		}
	}
	if v := os.Getenv("L0_CONTINUATION_REDIS_URL"); v != "" {
		cfg.Continuation.RedisURL = v
	}
	if v := os.Getenv("L0_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToUpper(v)
	}
	if v := os.Getenv("L0_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("L0_TELEMETRY_ENABLED"); v != "" {
		cfg.Telemetry.Enabled = v == "true"
	}
	if v := os.Getenv("L0_TELEMETRY_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
	if v := os.Getenv("L0_SERVICE_NAME"); v != "" {
		cfg.Telemetry.ServiceName = v
	}
}

// Validate checks the invariants spec.md §3 places on RetryPolicy and the
// ambient defaults this config seeds it from.
func (c *Config) Validate() error {
	validBackoffs := map[string]bool{
		"fixed": true, "fixed-jitter": true, "exponential": true, "exponential-jitter": true,
	}
	if !validBackoffs[c.Retry.Backoff] {
		return fmt.Errorf("invalid retry backoff strategy: %q", c.Retry.Backoff)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry baseDelay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry maxDelay (%s) must be >= baseDelay (%s)", c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	if c.Continuation.CheckpointIntervalTokens < 1 {
		return fmt.Errorf("checkpoint interval must be >= 1 token")
	}
	if c.Continuation.MaxOverlap < c.Continuation.MinOverlap {
		return fmt.Errorf("continuation maxOverlap must be >= minOverlap")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return fmt.Errorf("telemetry.serviceName is required when telemetry is enabled")
	}
	return nil
}

// Functional options, mirroring the teacher's With* naming convention.

func WithRetryAttempts(n int) Option {
	return func(c *Config) error { c.Retry.Attempts = n; return nil }
}

func WithRetryBackoff(strategy string) Option {
	return func(c *Config) error { c.Retry.Backoff = strategy; return nil }
}

func WithRetryDelays(base, max time.Duration) Option {
	return func(c *Config) error { c.Retry.BaseDelay, c.Retry.MaxDelay = base, max; return nil }
}

func WithTimeouts(initial, interToken time.Duration) Option {
	return func(c *Config) error { c.Timeout.InitialToken, c.Timeout.InterToken = initial, interToken; return nil }
}

func WithCheckpointInterval(tokens int) Option {
	return func(c *Config) error { c.Continuation.CheckpointIntervalTokens = tokens; return nil }
}

func WithGuardrailCheckInterval(tokens int) Option {
	return func(c *Config) error { c.Guardrail.CheckIntervalTokens = tokens; return nil }
}

func WithRedisCheckpointStore(url string) Option {
	return func(c *Config) error { c.Continuation.RedisURL = url; return nil }
}

func WithTelemetry(serviceName, endpoint string) Option {
	return func(c *Config) error {
		c.Telemetry.Enabled = true
		c.Telemetry.ServiceName = serviceName
		c.Telemetry.Endpoint = endpoint
		return nil
	}
}

func WithLogLevel(level string) Option {
	return func(c *Config) error { c.Logging.Level = strings.ToUpper(level); return nil }
}

func WithLogFormat(format string) Option {
	return func(c *Config) error { c.Logging.Format = format; return nil }
}
