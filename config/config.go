// Package config loads server settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port              int
	StoreDriver       string
	SQLitePath        string
	DatabaseURL       string
	DatabaseMaxConns  int
	Timezone          string
	RequestTimeout    time.Duration
	ClosingWorkers    int
	SchedulerEnabled  bool
	SchedulerInterval time.Duration
	LogLevel          string
	LogFormat         string
	CORSOrigins       []string
	ServiceName       string
}

func Load() Config {
	return Config{
		Port:              getEnvInt("APP_PORT", 8080),
		StoreDriver:       getEnv("STORE_DRIVER", DriverSQLite),
		SQLitePath:        getEnv("SQLITE_PATH", "./attendance.db"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:  getEnvInt("DATABASE_MAX_CONNS", 10),
		Timezone:          getEnv("APP_TIMEZONE", "UTC"),
		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ClosingWorkers:    getEnvInt("CLOSING_WORKERS", 8),
		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", true),
		SchedulerInterval: getEnvDuration("SCHEDULER_INTERVAL", 15*time.Minute),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),
		CORSOrigins:       splitList(getEnv("CORS_ORIGINS", "*")),
		ServiceName:       getEnv("OTEL_SERVICE_NAME", "attendance-engine"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("APP_PORT must be between 1 and 65535")
	}
	switch c.StoreDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be sqlite, postgres or memory, got %q", c.StoreDriver)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("APP_TIMEZONE %q is not a known time zone: %w", c.Timezone, err)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.ClosingWorkers <= 0 {
		return fmt.Errorf("CLOSING_WORKERS must be positive")
	}
	if c.SchedulerEnabled && c.SchedulerInterval < time.Second {
		return fmt.Errorf("SCHEDULER_INTERVAL must be at least 1s")
	}
	if _, err := c.level(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	return nil
}

// Location returns the time zone that defines calendar days.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel)
	}
	return level, nil
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) Logger() *slog.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
