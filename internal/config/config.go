// Package config holds runtime settings for the cryptovault CLI: defaults,
// overlaid by environment variables, overlaid by command-line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/illarion/cryptovault/internal/crypto"
)

// Environment variables read by LoadEnv
const (
	EnvVaultPath   = "CRYPTOVAULT_PATH"
	EnvIterations  = "CRYPTOVAULT_ITERATIONS"
	EnvLockTimeout = "CRYPTOVAULT_LOCK_TIMEOUT"
	EnvLogLevel    = "CRYPTOVAULT_LOG_LEVEL"
	EnvPassword    = "CRYPTOVAULT_PASSWORD"
)

// Config holds runtime settings.
//
// Fields:
//   - VaultPath: directory holding vault.db.
//   - Iterations: PBKDF2 iterations used for newly encrypted files.
//   - LockTimeout: how long to wait for the vault lock; 0 waits forever.
//   - LogLevel: logrus level name.
//   - RetryAttempts / RetryBase: backoff for remote backend calls.
type Config struct {
	VaultPath     string
	Iterations    int
	LockTimeout   time.Duration
	LogLevel      string
	RetryAttempts int
	RetryBase     time.Duration
}

// LoadDefaults populates Config with defaults
func (c *Config) LoadDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	c.VaultPath = filepath.Join(home, ".cryptovault")
	c.Iterations = crypto.DefaultIterations
	c.LockTimeout = 0
	c.LogLevel = "warn"
	c.RetryAttempts = 3
	c.RetryBase = 500 * time.Millisecond
}

// LoadEnv overlays values from environment variables
func (c *Config) LoadEnv(getenv func(string) string) error {
	if v := getenv(EnvVaultPath); v != "" {
		c.VaultPath = v
	}
	if v := getenv(EnvIterations); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvIterations, err)
		}
		c.Iterations = n
	}
	if v := getenv(EnvLockTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvLockTimeout, err)
		}
		c.LockTimeout = d
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate rejects settings the core would refuse later
func (c *Config) Validate() error {
	if c.VaultPath == "" {
		return fmt.Errorf("vault path is empty")
	}
	if c.Iterations < crypto.MinIterations {
		return fmt.Errorf("%w: %d iterations, minimum is %d", crypto.ErrWeakParameter, c.Iterations, crypto.MinIterations)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1")
	}
	return nil
}

// Load builds a Config from defaults and the process environment
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := cfg.LoadEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}
