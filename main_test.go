package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabeth/memq/config"
)

func TestApplyFlags(t *testing.T) {
	cmd := newServeCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--port", "9324", "--delete-grace-period", "1m", "--metrics=false"}))

	cfg := config.Default()
	cfg.Region = "eu-west-1"
	require.NoError(t, applyFlags(cmd, &cfg))

	assert.Equal(t, 9324, cfg.Port)
	assert.Equal(t, time.Minute, cfg.DeleteGracePeriod)
	assert.False(t, cfg.Metrics)
	// Unset flags leave loaded values alone.
	assert.Equal(t, "eu-west-1", cfg.Region)
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)
	assert.Equal(t, "serve", serve.Name())
	assert.NotNil(t, serve.Flags().Lookup("requests-per-minute"))
}
