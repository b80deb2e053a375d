// Package config loads gateway configuration from YAML with sane defaults.
// Every field can be omitted; Load overlays the file on DefaultConfig so a
// partial file only overrides what it names.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML support for strings like "5m" or "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// PoolConfig bounds the participant connection pool.
type PoolConfig struct {
	MaxPerType     int      `yaml:"max_per_type"`
	IdleTTL        Duration `yaml:"idle_ttl"`
	DialsPerSecond float64  `yaml:"dials_per_second"`
	DialBurst      int      `yaml:"dial_burst"`
}

// RateLimitConfig bounds MCP tool calls.
type RateLimitConfig struct {
	CallsPerMinute int `yaml:"calls_per_minute"`
}

// Config is the complete gateway configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// Database is the SQLite path for durable conversations; empty selects
	// the in-memory store.
	Database string `yaml:"database"`

	InactivityTimeout Duration `yaml:"inactivity_timeout"`
	TotalTimeout      Duration `yaml:"total_timeout"`
	ResponseTimeout   Duration `yaml:"response_timeout"`

	QuorumFraction     float64 `yaml:"quorum_fraction"`
	ConsensusThreshold float64 `yaml:"consensus_threshold"`
	ConsensusMaxRounds int     `yaml:"consensus_max_rounds"`
	EscalationTier     string  `yaml:"escalation_tier"`

	// RulesFile optionally points to a YAML routing rule set loaded on top of
	// the built-in rules.
	RulesFile string `yaml:"rules_file"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Pool      PoolConfig      `yaml:"pool"`
}

// DefaultConfig returns the baseline configuration: info-level JSON logging,
// in-memory storage, the standard timeout policy (5m inactivity, 1h total,
// 30s response) and a 0.5 quorum with 0.75 consensus threshold.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "json",
		InactivityTimeout:  Duration(5 * time.Minute),
		TotalTimeout:       Duration(time.Hour),
		ResponseTimeout:    Duration(30 * time.Second),
		QuorumFraction:     0.5,
		ConsensusThreshold: 0.75,
		ConsensusMaxRounds: 5,
		EscalationTier:     "coordinator",
		RateLimit:          RateLimitConfig{CallsPerMinute: 120},
		Pool: PoolConfig{
			MaxPerType:     8,
			IdleTTL:        Duration(2 * time.Minute),
			DialsPerSecond: 10,
			DialBurst:      5,
		},
	}
}

// Load reads a YAML config file on top of the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.QuorumFraction < 0 || c.QuorumFraction > 1 {
		return fmt.Errorf("quorum_fraction must be within [0, 1], got %v", c.QuorumFraction)
	}
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("consensus_threshold must be within (0, 1], got %v", c.ConsensusThreshold)
	}
	if c.ConsensusMaxRounds <= 0 {
		return fmt.Errorf("consensus_max_rounds must be positive, got %d", c.ConsensusMaxRounds)
	}
	if c.RateLimit.CallsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.calls_per_minute must be positive, got %d", c.RateLimit.CallsPerMinute)
	}
	switch c.LogFormat {
	case "", "json", "text":
	default:
		return fmt.Errorf("log_format must be json or text, got %q", c.LogFormat)
	}
	return nil
}
