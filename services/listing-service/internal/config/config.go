// Package config reads listing service settings from the environment
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the settings shared by the API and the worker
type Config struct {
	DatabaseURL      string
	RabbitMQURL      string
	RedisURL         string
	JWTPublicKeyPath string
	JWTIssuer        string
	HTTPAddr         string
	SweepInterval    time.Duration
	SweepBatchSize   int
	RelayInterval    time.Duration
	RelayBatchSize   int
	BidIncrement     int64
	BidMaxAttempts   int
	RunMigrations    bool
}

// LoadDotEnv loads .env.local then .env; existing variables win
func LoadDotEnv() {
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()
}

// Load reads the configuration from the environment. Unset values take their
// defaults; malformed values are errors.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:      os.Getenv("LISTING_DB_URL"),
		RabbitMQURL:      os.Getenv("RABBITMQ_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),
		JWTPublicKeyPath: os.Getenv("JWT_PUBLIC_KEY_PATH"),
		JWTIssuer:        os.Getenv("JWT_ISSUER"),
		HTTPAddr:         getEnv("HTTP_ADDR", ":8080"),
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("LISTING_DB_URL is not set")
	}

	var err error
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepBatchSize, err = intEnv("SWEEP_BATCH_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.RelayInterval, err = durationEnv("RELAY_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.RelayBatchSize, err = intEnv("RELAY_BATCH_SIZE", 10); err != nil {
		return nil, err
	}
	increment, err := intEnv("BID_INCREMENT", 1)
	if err != nil {
		return nil, err
	}
	cfg.BidIncrement = int64(increment)
	if cfg.BidMaxAttempts, err = intEnv("BID_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RunMigrations, err = boolEnv("RUN_MIGRATIONS", false); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean, got %q", key, v)
	}
	return b, nil
}
