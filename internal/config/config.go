// Package config provides application configuration management,
// loading settings from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/stuartshay/ride-window-worker/internal/ride"
)

// Config holds all configuration for the application
type Config struct {
	// Service configuration
	ServiceName string
	Environment string
	GRPCPort    string
	HTTPPort    string

	// Database configuration
	DatabaseEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string

	// Aggregation settings
	RetentionPeriod time.Duration
	KeyField        ride.KeyField
	Workers         int
	Shards          int

	// CSV locations; job inputs and outputs are resolved inside these
	InputPath  string
	OutputPath string

	// Kafka publisher, disabled when no brokers are set
	KafkaBrokers []string
	KafkaTopic   string

	// OpenTelemetry configuration
	OTELEnabled  bool
	OTELEndpoint string

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "ride-window-worker"),
		Environment: getEnv("ENVIRONMENT", "development"),
		GRPCPort:    getEnv("GRPC_PORT", "50051"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "rides"),
		PostgresUser:     getEnv("POSTGRES_USER", "development"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "development"),

		InputPath:    getEnv("INPUT_PATH", "/data/input"),
		OutputPath:   getEnv("OUTPUT_PATH", "/data/csv"),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "ride-aggregates"),
		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}

	var err error
	cfg.DatabaseEnabled, err = parseBool("DATABASE_ENABLED", "false")
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_ENABLED: %w", err)
	}

	cfg.OTELEnabled, err = parseBool("OTEL_ENABLED", "false")
	if err != nil {
		return nil, fmt.Errorf("invalid OTEL_ENABLED: %w", err)
	}

	cfg.RetentionPeriod, err = time.ParseDuration(getEnv("RETENTION_PERIOD", "168h"))
	if err != nil {
		return nil, fmt.Errorf("invalid RETENTION_PERIOD: %w", err)
	}
	if cfg.RetentionPeriod < 0 {
		return nil, fmt.Errorf("invalid RETENTION_PERIOD: must not be negative, got %s", cfg.RetentionPeriod)
	}

	cfg.KeyField, err = ride.ParseKeyField(getEnv("KEY_FIELD", "driver"))
	if err != nil {
		return nil, fmt.Errorf("invalid KEY_FIELD: %w", err)
	}

	cfg.Workers, err = parsePositiveInt("WORKERS", "4")
	if err != nil {
		return nil, fmt.Errorf("invalid WORKERS: %w", err)
	}

	cfg.Shards, err = parsePositiveInt("SHARDS", "1")
	if err != nil {
		return nil, fmt.Errorf("invalid SHARDS: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s sslmode=disable",
		c.PostgresHost,
		c.PostgresPort,
		c.PostgresDB,
		c.PostgresUser,
		c.PostgresPassword,
	)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseBool(key, defaultValue string) (bool, error) {
	return strconv.ParseBool(getEnv(key, defaultValue))
}

func parsePositiveInt(key, defaultValue string) (int, error) {
	n, err := strconv.Atoi(getEnv(key, defaultValue))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be at least 1, got %d", n)
	}
	return n, nil
}

// splitList parses a comma separated list, dropping empty items
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
