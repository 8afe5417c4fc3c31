package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, "000000000000", cfg.AccountID)
	assert.Equal(t, 500, cfg.MoveTaskRateCap)
	assert.Zero(t, cfg.DeleteGracePeriod)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestFromEnv(t *testing.T) {
	t.Setenv("MEMQ_PORT", "9324")
	t.Setenv("MEMQ_REGION", "eu-west-1")
	t.Setenv("MEMQ_DELETE_GRACE_PERIOD", "60s")
	t.Setenv("MEMQ_MOVE_TASK_RATE_CAP", "50")
	t.Setenv("MEMQ_REQUESTS_PER_MINUTE", "600")
	t.Setenv("MEMQ_METRICS", "false")

	cfg := Default()
	require.NoError(t, FromEnv(&cfg))
	assert.Equal(t, 9324, cfg.Port)
	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, time.Minute, cfg.DeleteGracePeriod)
	assert.Equal(t, 50, cfg.MoveTaskRateCap)
	assert.Equal(t, 600, cfg.RequestsPerMinute)
	assert.False(t, cfg.Metrics)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"MEMQ_PORT":                "eighty",
		"MEMQ_DELETE_GRACE_PERIOD": "soon",
		"MEMQ_MOVE_TASK_RATE_CAP":  "0",
		"MEMQ_REQUESTS_PER_MINUTE": "-1",
		"MEMQ_METRICS":             "maybe",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			cfg := Default()
			err := FromEnv(&cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("dotenv file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(file, []byte("MEMQ_ACCOUNT_ID=111122223333\nMEMQ_LOG_FORMAT=console\n"), 0644))
		// Registered first so the values godotenv sets are cleared afterwards.
		t.Setenv("MEMQ_ACCOUNT_ID", "")
		t.Setenv("MEMQ_LOG_FORMAT", "")
		os.Unsetenv("MEMQ_ACCOUNT_ID")
		os.Unsetenv("MEMQ_LOG_FORMAT")

		cfg, err := Load(file)
		require.NoError(t, err)
		assert.Equal(t, "111122223333", cfg.AccountID)
		assert.Equal(t, "console", cfg.LogFormat)
	})

	t.Run("environment wins over file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(file, []byte("MEMQ_REGION=ap-south-1\n"), 0644))
		t.Setenv("MEMQ_REGION", "us-west-2")

		cfg, err := Load(file)
		require.NoError(t, err)
		assert.Equal(t, "us-west-2", cfg.Region)
	})

	t.Run("missing file is skipped", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}
