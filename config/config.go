// Package config loads the settings of the memq server.
//
// Values start from Default, are overlaid by MEMQ_* environment variables
// (optionally seeded from .env files), and finally by command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the server settings.
type Config struct {
	Port      int
	Region    string
	AccountID string

	LogLevel  string
	LogFormat string

	// DeleteGracePeriod keeps deleted queue names reserved. Zero disables it.
	DeleteGracePeriod time.Duration
	// MoveTaskRateCap bounds MaxNumberOfMessagesPerSecond of move tasks.
	MoveTaskRateCap int
	// RequestsPerMinute enables the per-IP throttle when positive.
	RequestsPerMinute int
	// Metrics serves GET /metrics.
	Metrics bool
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:            8080,
		Region:          "us-east-1",
		AccountID:       "000000000000",
		LogLevel:        "info",
		LogFormat:       "json",
		MoveTaskRateCap: 500,
		Metrics:         true,
	}
}

// Load reads the given .env files into the process environment and returns
// Default overlaid with the MEMQ_* variables. Files that do not exist are
// skipped; variables already set in the environment win over file values.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	cfg := Default()
	if err := FromEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv overlays MEMQ_* environment variables onto cfg.
func FromEnv(cfg *Config) error {
	if v := os.Getenv("MEMQ_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 65535 {
			return fmt.Errorf("invalid MEMQ_PORT %q", v)
		}
		cfg.Port = n
	}
	if v := os.Getenv("MEMQ_REGION"); v != "" {
		cfg.Region = v
	}
	if v := os.Getenv("MEMQ_ACCOUNT_ID"); v != "" {
		cfg.AccountID = v
	}
	if v := os.Getenv("MEMQ_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MEMQ_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("MEMQ_DELETE_GRACE_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid MEMQ_DELETE_GRACE_PERIOD %q", v)
		}
		cfg.DeleteGracePeriod = d
	}
	if v := os.Getenv("MEMQ_MOVE_TASK_RATE_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid MEMQ_MOVE_TASK_RATE_CAP %q", v)
		}
		cfg.MoveTaskRateCap = n
	}
	if v := os.Getenv("MEMQ_REQUESTS_PER_MINUTE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid MEMQ_REQUESTS_PER_MINUTE %q", v)
		}
		cfg.RequestsPerMinute = n
	}
	if v := os.Getenv("MEMQ_METRICS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid MEMQ_METRICS %q", v)
		}
		cfg.Metrics = b
	}
	return nil
}

// Addr is the listen address for Port.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
