// Package config loads appliance configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all tunable settings. Every field has a sensible default for
// a stock Pi 5 image; overrides come from OVERKILL_* environment variables.
type Config struct {
	// Addr is the HTTP control API listen address.
	Addr string `env:"OVERKILL_ADDR" envDefault:"0.0.0.0:8080"`

	// BootConfigPath forces a boot config location instead of the standard
	// candidate list.
	BootConfigPath string `env:"OVERKILL_BOOT_CONFIG"`

	// ArmbianEnvPath is the secondary firmware environment file.
	ArmbianEnvPath string `env:"OVERKILL_ARMBIAN_ENV" envDefault:"/boot/armbianEnv.txt"`

	// ProfileDir holds user-authored custom overclock profiles.
	ProfileDir string `env:"OVERKILL_PROFILE_DIR" envDefault:"/etc/overkill/profiles"`

	// GradePath is where the silicon grade artifact is persisted.
	GradePath string `env:"OVERKILL_GRADE_PATH" envDefault:"/etc/overkill/silicon_grade.json"`

	// TestDuration is the stress time per ladder rung.
	TestDuration time.Duration `env:"OVERKILL_TEST_DURATION" envDefault:"5m"`

	// TempThreshold fails a profile; TempAbort ends its test immediately.
	TempThreshold float64 `env:"OVERKILL_TEMP_THRESHOLD" envDefault:"85"`
	TempAbort     float64 `env:"OVERKILL_TEMP_ABORT" envDefault:"90"`

	// SentryDSN enables error reporting when set (also read by the sentry
	// SDK itself via SENTRY_DSN).
	SentryDSN string `env:"SENTRY_DSN"`
}

// Load parses the environment into a Config
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if cfg.TestDuration <= 0 {
		return cfg, fmt.Errorf("test duration must be positive, got %s", cfg.TestDuration)
	}
	if cfg.TempAbort <= cfg.TempThreshold {
		return cfg, fmt.Errorf("abort ceiling %.0f must be above stability threshold %.0f", cfg.TempAbort, cfg.TempThreshold)
	}
	return cfg, nil
}
