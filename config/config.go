// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the booking server.
type Config struct {
	Port      int
	DBPath    string // "memory" selects the in-process store
	LogLevel  string
	LogFormat string // "json" or "console"

	RabbitURL      string // empty: events go to the log
	RabbitExchange string

	CommissionConfig string // path to a commission policy JSON file
	BookingPrefix    string
	ClientPrefix     string

	NotifyBuffer         int
	IdempotencyCacheSize int

	RequestTimeout  time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// MemoryStore is the DB_PATH value that selects the in-process store.
const MemoryStore = "memory"

// Load reads configuration from environment variables, applies defaults,
// and validates values. Variables already set in the environment win over
// the .env file, which is optional.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("invalid PORT: %d out of range", port)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	logFormat := getStr("LOG_FORMAT", "json")
	if logFormat != "json" && logFormat != "console" {
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q, must be json or console", logFormat)
	}

	notifyBuffer, err := getInt("NOTIFY_BUFFER", 256)
	if err != nil || notifyBuffer <= 0 {
		return nil, fmt.Errorf("invalid NOTIFY_BUFFER: must be a positive integer")
	}

	cacheSize, err := getInt("IDEMPOTENCY_CACHE_SIZE", 1024)
	if err != nil || cacheSize <= 0 {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_CACHE_SIZE: must be a positive integer")
	}

	prefix := getStr("BOOKING_PREFIX", "BK")
	if strings.ContainsAny(prefix, " -") {
		return nil, fmt.Errorf("invalid BOOKING_PREFIX: %q must not contain spaces or dashes", prefix)
	}
	clientPrefix := getStr("CLIENT_PREFIX", "CL")
	if strings.ContainsAny(clientPrefix, " -") {
		return nil, fmt.Errorf("invalid CLIENT_PREFIX: %q must not contain spaces or dashes", clientPrefix)
	}

	cfg := &Config{
		Port:                 port,
		DBPath:               getStr("DB_PATH", "./data/booking.db"),
		LogLevel:             logLevel,
		LogFormat:            logFormat,
		RabbitURL:            getStr("RABBITMQ_URL", ""),
		RabbitExchange:       getStr("RABBITMQ_EXCHANGE", "booking.events"),
		CommissionConfig:     getStr("COMMISSION_CONFIG", ""),
		BookingPrefix:        prefix,
		ClientPrefix:         clientPrefix,
		NotifyBuffer:         notifyBuffer,
		IdempotencyCacheSize: cacheSize,
	}

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"REQUEST_TIMEOUT", 30 * time.Second, &cfg.RequestTimeout},
		{"READ_TIMEOUT", 5 * time.Second, &cfg.ReadTimeout},
		{"WRITE_TIMEOUT", 30 * time.Second, &cfg.WriteTimeout},
		{"IDLE_TIMEOUT", 60 * time.Second, &cfg.IdleTimeout},
		{"SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := getDuration(d.key, d.def)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", d.key)
		}
		*d.dst = v
	}

	return cfg, nil
}

// UsesMemoryStore reports whether the in-process store was selected.
func (c *Config) UsesMemoryStore() bool {
	return c.DBPath == MemoryStore
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
