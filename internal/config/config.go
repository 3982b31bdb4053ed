// Package config provides centralized configuration loaded from environment
// variables. Shared by both cmd/api and cmd/habitctl.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Table names: single source of truth, matches sql/schema.sql
// --------------------------------------------------------------------------

const (
	UsersTable            = "users"
	ThingsTable           = "things"
	ThingAccessTable      = "thing_access"
	SchedulesTable        = "schedules"
	NotificationsTable    = "notifications"
	ImagesTable           = "images"
	StreaksTable          = "streaks"
	ScoresTable           = "scores"
	BadgeDefinitionsTable = "badge_definitions"
	BadgesTable           = "badges"
	LevelDefinitionsTable = "level_definitions"
)

// ThingEventsChannel is the LISTEN/NOTIFY channel for thing lifecycle events.
const ThingEventsChannel = "thing_events"

// --------------------------------------------------------------------------
// Config struct, populated from environment variables
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
	LogLevel    slog.Level

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Push delivery (Expo)
	PushEnabled       bool
	ExpoAccessToken   string
	PushRatePerSecond int

	// Scheduler
	RebuildHour          int // UTC hour of the daily rebuild boundary
	RebuildWorkers       int
	PersonalAlwaysActive bool // legacy activity filter, see DESIGN.md
	ListenerEnabled      bool

	// Maintenance
	CleanupInterval       time.Duration
	SweepInterval         time.Duration
	NotificationRetention time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	rebuildHour := envInt("REBUILD_HOUR", 0)
	if rebuildHour < 0 || rebuildHour > 23 {
		return nil, fmt.Errorf("REBUILD_HOUR must be between 0 and 23, got %d", rebuildHour)
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		LogLevel:    envLevel("LOG_LEVEL", slog.LevelInfo),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:8081",
			"http://localhost:19006",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		PushEnabled:       envBool("PUSH_ENABLED", true),
		ExpoAccessToken:   envOr("EXPO_ACCESS_TOKEN", ""),
		PushRatePerSecond: envInt("PUSH_RATE_PER_SECOND", 100),

		RebuildHour:          rebuildHour,
		RebuildWorkers:       envInt("REBUILD_WORKERS", 4),
		PersonalAlwaysActive: envBool("SCHEDULER_PERSONAL_ALWAYS_ACTIVE", false),
		ListenerEnabled:      envBool("LISTENER_ENABLED", true),

		CleanupInterval:       time.Duration(envInt("CLEANUP_INTERVAL_MINUTES", 60)) * time.Minute,
		SweepInterval:         time.Duration(envInt("SWEEP_INTERVAL_MINUTES", 15)) * time.Minute,
		NotificationRetention: time.Duration(envInt("NOTIFICATION_RETENTION_DAYS", 30)) * 24 * time.Hour,
	}, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
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

func envLevel(key string, fallback slog.Level) slog.Level {
	if v := os.Getenv(key); v != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(v)); err == nil {
			return l
		}
	}
	return fallback
}
