package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/booking-engine/config"
)

// noEnvFile points Load at a file that does not exist.
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./data/booking.db", cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "booking.events", cfg.RabbitExchange)
	assert.Equal(t, "BK", cfg.BookingPrefix)
	assert.Equal(t, "CL", cfg.ClientPrefix)
	assert.Equal(t, 256, cfg.NotifyBuffer)
	assert.Equal(t, 1024, cfg.IdempotencyCacheSize)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.UsesMemoryStore())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_PATH", config.MemoryStore)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "console")
	t.Setenv("REQUEST_TIMEOUT", "2s")
	t.Setenv("COMMISSION_CONFIG", "/etc/booking/commission.json")

	cfg, err := config.Load(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.UsesMemoryStore())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, 2*time.Second, cfg.RequestTimeout)
	assert.Equal(t, "/etc/booking/commission.json", cfg.CommissionConfig)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"PORT":             "99999",
		"LOG_LEVEL":        "verbose",
		"LOG_FORMAT":       "xml",
		"NOTIFY_BUFFER":    "0",
		"BOOKING_PREFIX":   "B-K",
		"SHUTDOWN_TIMEOUT": "-1s",
		"READ_TIMEOUT":     "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := config.Load(noEnvFile(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	// GIVEN: A .env file setting the client prefix and port
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CLIENT_PREFIX=CX\nPORT=7070\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CLIENT_PREFIX")
		os.Unsetenv("PORT")
	})

	// AND: PORT already set in the environment
	os.Unsetenv("CLIENT_PREFIX")
	t.Setenv("PORT", "6060")

	// WHEN: Loading
	cfg, err := config.Load(path)
	require.NoError(t, err)

	// THEN: The file fills gaps but the environment wins
	assert.Equal(t, "CX", cfg.ClientPrefix)
	assert.Equal(t, 6060, cfg.Port)
}
