// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/nudge.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Table names — single source of truth, matches schema.sql
// --------------------------------------------------------------------------

const (
	NotificationsTable = "notifications"
	EngagementTable    = "notification_engagement"
	NudgeRunsTable     = "nudge_runs"
	NudgeLogsTable     = "nudge_logs"
	ClinicsTable       = "clinics"
)

// --------------------------------------------------------------------------
// Config struct — populated from environment variables
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// HTTP rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Nudge batch run
	NudgeCronSpec    string // cron schedule for the nightly run; empty disables
	NudgeBatchSize   int
	NudgeBatchPerSec float64 // batches started per second (token bucket)
	NudgeTimeout     time.Duration

	// Background sweeps
	DispatchInterval time.Duration // ProcessScheduled sweep
	CleanupInterval  time.Duration // CleanupExpired sweep

	// Delivery transports
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	PushAPIKey   string

	// Cache
	CacheEnabled bool
}

// Load reads configuration from environment variables with sensible
// defaults. DatabaseURL is validated by the binaries via RequireDB so that
// config loading itself stays side-effect free.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", envOr("NUDGE_DATABASE_URL", ""))

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		NudgeCronSpec:    envOr("NUDGE_CRON", "0 2 * * *"), // 2 AM nightly
		NudgeBatchSize:   envInt("NUDGE_BATCH_SIZE", 10),
		NudgeBatchPerSec: envFloat("NUDGE_BATCHES_PER_SEC", 1.0),
		NudgeTimeout:     time.Duration(envInt("NUDGE_CLINIC_TIMEOUT_SECONDS", 30)) * time.Second,

		DispatchInterval: time.Duration(envInt("DISPATCH_INTERVAL_SECONDS", 60)) * time.Second,
		CleanupInterval:  time.Duration(envInt("CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,

		SMTPHost:     envOr("SMTP_HOST", ""),
		SMTPPort:     envInt("SMTP_PORT", 587),
		SMTPUsername: envOr("SMTP_USERNAME", ""),
		SMTPPassword: envOr("SMTP_PASSWORD", ""),
		SMTPFrom:     envOr("SMTP_FROM", "nudges@clinicpulse.io"),
		PushAPIKey:   envOr("PUSH_API_KEY", ""),

		CacheEnabled: envBool("CACHE_ENABLED", true),
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RequireDB errors when no database is configured.
func (c *Config) RequireDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL or NUDGE_DATABASE_URL must be set")
	}
	return nil
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
