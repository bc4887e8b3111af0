package ratelimit

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults applied to zero config values.
const (
	DefaultRequestsPerSecond = 100
	DefaultBurst             = 50
	DefaultEntryTTL          = time.Hour
	DefaultSweepInterval     = time.Minute
)

// ErrInvalidConfig indicates an unusable rate limit configuration.
var ErrInvalidConfig = errors.New("ratelimit: invalid config")

// Config configures the limiter.
type Config struct {
	// Enabled turns rate limiting on. A disabled limiter admits everything.
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the default identity quota.
	// Default: 100
	RequestsPerSecond int `yaml:"requests_per_second" validate:"gte=0"`

	// Burst is the default identity burst.
	// Default: 50
	Burst int `yaml:"burst" validate:"gte=0"`

	// Tools are per-tool limits. The first matching pattern applies.
	Tools []ToolLimit `yaml:"tools" validate:"dive"`

	// EntryTTL is how long an idle bucket is kept.
	// Default: 1h
	EntryTTL time.Duration `yaml:"entry_ttl" validate:"gte=0"`

	// SweepInterval is how often Run evicts idle buckets.
	// Default: 1m
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
}

// ToolLimit limits calls to the tools matching Pattern, per identity.
type ToolLimit struct {
	// Pattern is an exact tool name, a prefix ending in "*", or "*".
	Pattern string `yaml:"pattern" validate:"required"`

	// RequestsPerSecond is the quota for each (identity, tool) pair.
	RequestsPerSecond int `yaml:"requests_per_second" validate:"gt=0"`

	// Burst defaults to half of RequestsPerSecond, at least 1.
	Burst int `yaml:"burst" validate:"gte=0"`
}

// DefaultConfig returns an enabled configuration with default quotas.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
		EntryTTL:          DefaultEntryTTL,
		SweepInterval:     DefaultSweepInterval,
	}
}

// WithDefaults returns c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	if c.EntryTTL <= 0 {
		c.EntryTTL = DefaultEntryTTL
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// Validate checks the tool limits.
func (c Config) Validate() error {
	for i, tl := range c.Tools {
		if strings.TrimSpace(tl.Pattern) == "" {
			return fmt.Errorf("%w: tools[%d]: pattern is required", ErrInvalidConfig, i)
		}
		if strings.Contains(strings.TrimSuffix(tl.Pattern, "*"), "*") {
			return fmt.Errorf("%w: tools[%d]: %q: only a trailing * is supported", ErrInvalidConfig, i, tl.Pattern)
		}
		if tl.RequestsPerSecond <= 0 {
			return fmt.Errorf("%w: tools[%d]: requests_per_second must be positive", ErrInvalidConfig, i)
		}
		if tl.Burst < 0 {
			return fmt.Errorf("%w: tools[%d]: burst must not be negative", ErrInvalidConfig, i)
		}
	}
	return nil
}

// derivedBurst is the burst for a custom rate: half the rate, at least 1.
func derivedBurst(rps int) int {
	return max(1, rps/2)
}

// matchPattern reports whether value matches pattern. "*" matches
// everything and a trailing "*" matches by prefix.
func matchPattern(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == value
}

// toolLimitFor returns the first tool limit matching tool.
func (c Config) toolLimitFor(tool string) (ToolLimit, bool) {
	if tool == "" {
		return ToolLimit{}, false
	}
	for _, tl := range c.Tools {
		if matchPattern(tl.Pattern, tool) {
			return tl, true
		}
	}
	return ToolLimit{}, false
}
