package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// fileConfig is the on-disk shape, kept separate from Config so the file
// format can stay flat/readable without forcing every in-memory field to
// carry yaml/json tags.
type fileConfig struct {
	Retry struct {
		Attempts   int    `json:"attempts" yaml:"attempts"`
		MaxRetries int    `json:"maxRetries" yaml:"maxRetries"`
		Backoff    string `json:"backoff" yaml:"backoff"`
		BaseDelayMs int   `json:"baseDelayMs" yaml:"baseDelayMs"`
		MaxDelayMs  int   `json:"maxDelayMs" yaml:"maxDelayMs"`
	} `json:"retry" yaml:"retry"`
	Guardrail struct {
		CheckIntervalTokens int `json:"checkIntervalTokens" yaml:"checkIntervalTokens"`
	} `json:"guardrail" yaml:"guardrail"`
	Continuation struct {
		CheckpointIntervalTokens int    `json:"checkpointIntervalTokens" yaml:"checkpointIntervalTokens"`
		RedisURL                 string `json:"redisUrl" yaml:"redisUrl"`
	} `json:"continuation" yaml:"continuation"`
	Logging struct {
		Level  string `json:"level" yaml:"level"`
		Format string `json:"format" yaml:"format"`
	} `json:"logging" yaml:"logging"`
}

// LoadFromFile reads path and overlays its contents onto cfg. The format
// is selected by extension: .yaml/.yml use gopkg.in/yaml.v3, everything
// else (including .json) is parsed as JSON. Unlike the teacher's
// core.Config.LoadFromFile, which explicitly rejects YAML as
// "not yet supported", this implementation completes that path.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}

	c.applyFileConfig(&fc)
	return c.Validate()
}

func (c *Config) applyFileConfig(fc *fileConfig) {
	if fc.Retry.Attempts > 0 {
		c.Retry.Attempts = fc.Retry.Attempts
	}
	if fc.Retry.MaxRetries > 0 {
		c.Retry.MaxRetries = fc.Retry.MaxRetries
	}
	if fc.Retry.Backoff != "" {
		c.Retry.Backoff = fc.Retry.Backoff
	}
	if fc.Retry.BaseDelayMs > 0 {
		c.Retry.BaseDelay = msToDuration(fc.Retry.BaseDelayMs)
	}
	if fc.Retry.MaxDelayMs > 0 {
		c.Retry.MaxDelay = msToDuration(fc.Retry.MaxDelayMs)
	}
	if fc.Guardrail.CheckIntervalTokens > 0 {
		c.Guardrail.CheckIntervalTokens = fc.Guardrail.CheckIntervalTokens
	}
	if fc.Continuation.CheckpointIntervalTokens > 0 {
		c.Continuation.CheckpointIntervalTokens = fc.Continuation.CheckpointIntervalTokens
	}
	if fc.Continuation.RedisURL != "" {
		c.Continuation.RedisURL = fc.Continuation.RedisURL
	}
	if fc.Logging.Level != "" {
		c.Logging.Level = strings.ToUpper(fc.Logging.Level)
	}
	if fc.Logging.Format != "" {
		c.Logging.Format = fc.Logging.Format
	}
}
