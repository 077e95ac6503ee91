package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	AppPort string

	// Session lifecycle
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	SessionCap    int

	// Rate limiting
	RateCeiling int
	RateWindow  time.Duration

	// Downstream call timeouts
	VerifyTimeout time.Duration
	InvokeTimeout time.Duration

	// Input shape limits
	MaxCredentialLength int
	MaxEndpointLength   int

	// Optional Redis session backend. Empty addr means in-memory.
	RedisAddr     string
	RedisPassword string
}

func Load() Config {

	cfg := Config{

		AppPort: envOr("APP_PORT", "8080"),

		IdleTimeout:   envDuration("SESSION_IDLE_TIMEOUT", time.Hour),
		SweepInterval: envDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		SessionCap:    envInt("SESSION_CAP_PER_IDENTITY", 5),

		RateCeiling: envInt("RATE_LIMIT_CEILING", 60),
		RateWindow:  envDuration("RATE_LIMIT_WINDOW", time.Minute),

		VerifyTimeout: envDuration("UPSTREAM_VERIFY_TIMEOUT", 10*time.Second),
		InvokeTimeout: envDuration("UPSTREAM_INVOKE_TIMEOUT", 30*time.Second),

		MaxCredentialLength: envInt("MAX_CREDENTIAL_LENGTH", 1000),
		MaxEndpointLength:   envInt("MAX_ENDPOINT_LENGTH", 1000),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
	}

	return cfg

}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
