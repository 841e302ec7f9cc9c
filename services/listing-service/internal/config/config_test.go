package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LISTING_DB_URL", "postgres://localhost/listings")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 100, cfg.SweepBatchSize)
	assert.Equal(t, time.Second, cfg.RelayInterval)
	assert.Equal(t, 10, cfg.RelayBatchSize)
	assert.Equal(t, int64(1), cfg.BidIncrement)
	assert.Equal(t, 3, cfg.BidMaxAttempts)
	assert.False(t, cfg.RunMigrations)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LISTING_DB_URL", "postgres://localhost/listings")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SWEEP_INTERVAL", "5s")
	t.Setenv("BID_INCREMENT", "5")
	t.Setenv("RUN_MIGRATIONS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, int64(5), cfg.BidIncrement)
	assert.True(t, cfg.RunMigrations)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"Malformed duration", "SWEEP_INTERVAL", "soon"},
		{"Negative duration", "RELAY_INTERVAL", "-1s"},
		{"Malformed integer", "SWEEP_BATCH_SIZE", "many"},
		{"Zero increment", "BID_INCREMENT", "0"},
		{"Malformed boolean", "RUN_MIGRATIONS", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LISTING_DB_URL", "postgres://localhost/listings")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.ErrorContains(t, err, tt.key)
		})
	}

	t.Run("Missing database URL", func(t *testing.T) {
		t.Setenv("LISTING_DB_URL", "")

		_, err := Load()
		assert.ErrorContains(t, err, "LISTING_DB_URL")
	})
}
