// Package config holds the closed configuration record for a siaacd
// process: every recognized option is enumerated here with a literal
// default, per §9's design note on closed config objects.
//
// It is grounded on the teacher's node/config.go: a flat Config struct,
// a DefaultConfig() constructor returning literal defaults, and a
// Validate() method that fails closed on any out-of-range or unrecognized
// value before the process does any work.
package config

import (
	"errors"
	"fmt"

	"github.com/obscura-network/siaac/model"
)

// Config is every tunable this module recognizes. There is no implicit
// global configuration state anywhere else in the module (§5).
type Config struct {
	// Batch builder thresholds, per §4.10 and §9.
	BatchMaxSize   int
	BatchMaxWaitMs int64
	BatchMinSize   int
	FlushTickMs    int64

	// External call deadlines, per §5.
	ExecutorTimeoutMs int64
	RetryBaseMs       int64
	RetryCapMs        int64

	// Intent construction defaults, per §4.7 and §9.
	PrivacyLevelDefault model.PrivacyLevel

	// Anonymity pool sizing, per §3 and §9.
	AnonymityPoolDepth int
	RootWindow         int

	// Key pool provisioning, per §4.3/§4.4.
	KeyPoolSize  int
	WinternitzW  int

	// Ambient stack.
	LogLevel          string
	MetricsNamespace  string
	MetricsListenAddr string
}

// DefaultConfig returns the literal defaults enumerated in §9.
func DefaultConfig() Config {
	return Config{
		BatchMaxSize:        100,
		BatchMaxWaitMs:      60000,
		BatchMinSize:        1,
		FlushTickMs:         1000,
		ExecutorTimeoutMs:   30000,
		RetryBaseMs:         1000,
		RetryCapMs:          60000,
		PrivacyLevelDefault: model.SHIELDED,
		AnonymityPoolDepth:  20,
		RootWindow:          32,
		KeyPoolSize:         1024,
		WinternitzW:         16,
		LogLevel:            "info",
		MetricsNamespace:    "siaac",
		MetricsListenAddr:   ":9464",
	}
}

// Validate checks every field for correctness, failing loudly rather than
// silently clamping or coercing an out-of-range value.
func (c *Config) Validate() error {
	if c.BatchMaxSize <= 0 {
		return fmt.Errorf("config: batchMaxSize must be positive, got %d", c.BatchMaxSize)
	}
	if c.BatchMinSize <= 0 || c.BatchMinSize > c.BatchMaxSize {
		return fmt.Errorf("config: batchMinSize must be in (0, batchMaxSize], got %d", c.BatchMinSize)
	}
	if c.BatchMaxWaitMs <= 0 {
		return fmt.Errorf("config: batchMaxWaitMs must be positive, got %d", c.BatchMaxWaitMs)
	}
	if c.FlushTickMs <= 0 {
		return fmt.Errorf("config: flushTickMs must be positive, got %d", c.FlushTickMs)
	}
	if c.ExecutorTimeoutMs <= 0 {
		return fmt.Errorf("config: executorTimeoutMs must be positive, got %d", c.ExecutorTimeoutMs)
	}
	if c.RetryBaseMs <= 0 || c.RetryCapMs < c.RetryBaseMs {
		return fmt.Errorf("config: retryBaseMs must be positive and no greater than retryCapMs, got base=%d cap=%d", c.RetryBaseMs, c.RetryCapMs)
	}
	switch c.PrivacyLevelDefault {
	case model.TRANSPARENT, model.SHIELDED, model.COMPLIANT:
	default:
		return fmt.Errorf("config: unknown privacyLevelDefault %v", c.PrivacyLevelDefault)
	}
	if c.AnonymityPoolDepth <= 0 || c.AnonymityPoolDepth > 64 {
		return fmt.Errorf("config: anonymityPoolDepth must be in (0, 64], got %d", c.AnonymityPoolDepth)
	}
	if c.RootWindow < 0 {
		return errors.New("config: rootWindow must not be negative")
	}
	if c.KeyPoolSize <= 0 {
		return fmt.Errorf("config: keyPoolSize must be positive, got %d", c.KeyPoolSize)
	}
	switch c.WinternitzW {
	case 4, 16, 256:
	default:
		return fmt.Errorf("config: winternitzW must be one of {4, 16, 256}, got %d", c.WinternitzW)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logLevel %q", c.LogLevel)
	}
	if c.MetricsNamespace == "" {
		return errors.New("config: metricsNamespace must not be empty")
	}
	return nil
}
