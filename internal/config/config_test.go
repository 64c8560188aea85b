package config

import (
	"testing"
	"time"

	"github.com/stuartshay/ride-window-worker/internal/ride"
)

var envVars = []string{
	"SERVICE_NAME", "ENVIRONMENT", "GRPC_PORT", "HTTP_PORT",
	"POSTGRES_HOST", "POSTGRES_PORT", "POSTGRES_DB", "DATABASE_ENABLED",
	"RETENTION_PERIOD", "KEY_FIELD", "WORKERS", "SHARDS",
	"KAFKA_BROKERS", "KAFKA_TOPIC", "OTEL_ENABLED", "INPUT_PATH", "OUTPUT_PATH",
}

// clearEnv blanks every variable Load reads; t.Setenv restores them afterwards
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ServiceName != "ride-window-worker" {
		t.Errorf("expected ServiceName 'ride-window-worker', got '%s'", cfg.ServiceName)
	}
	if cfg.GRPCPort != "50051" {
		t.Errorf("expected GRPCPort '50051', got '%s'", cfg.GRPCPort)
	}
	if cfg.RetentionPeriod != 7*24*time.Hour {
		t.Errorf("expected RetentionPeriod 168h, got %s", cfg.RetentionPeriod)
	}
	if cfg.KeyField != ride.KeyDriver {
		t.Errorf("expected KeyField 'driver', got '%s'", cfg.KeyField)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected Workers 4, got %d", cfg.Workers)
	}
	if cfg.Shards != 1 {
		t.Errorf("expected Shards 1, got %d", cfg.Shards)
	}
	if cfg.InputPath != "/data/input" {
		t.Errorf("expected InputPath '/data/input', got '%s'", cfg.InputPath)
	}
	if cfg.DatabaseEnabled {
		t.Error("expected DatabaseEnabled false")
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("expected no Kafka brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_NAME", "test-service")
	t.Setenv("GRPC_PORT", "9999")
	t.Setenv("RETENTION_PERIOD", "72h")
	t.Setenv("KEY_FIELD", "id_client")
	t.Setenv("SHARDS", "8")
	t.Setenv("DATABASE_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ServiceName != "test-service" {
		t.Errorf("expected ServiceName 'test-service', got '%s'", cfg.ServiceName)
	}
	if cfg.GRPCPort != "9999" {
		t.Errorf("expected GRPCPort '9999', got '%s'", cfg.GRPCPort)
	}
	if cfg.RetentionPeriod != 72*time.Hour {
		t.Errorf("expected RetentionPeriod 72h, got %s", cfg.RetentionPeriod)
	}
	if cfg.KeyField != ride.KeyClient {
		t.Errorf("expected KeyField 'client', got '%s'", cfg.KeyField)
	}
	if cfg.Shards != 8 {
		t.Errorf("expected Shards 8, got %d", cfg.Shards)
	}
	if !cfg.DatabaseEnabled {
		t.Error("expected DatabaseEnabled true")
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "kafka-2:9092" {
		t.Errorf("expected two Kafka brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"RETENTION_PERIOD", "a week"},
		{"RETENTION_PERIOD", "-1h"},
		{"KEY_FIELD", "vehicle"},
		{"WORKERS", "0"},
		{"SHARDS", "many"},
		{"DATABASE_ENABLED", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%q, got nil", tt.key, tt.value)
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		PostgresHost:     "db.internal",
		PostgresPort:     "5432",
		PostgresDB:       "rides",
		PostgresUser:     "testuser",
		PostgresPassword: "testpass",
	}

	expected := "host=db.internal port=5432 dbname=rides user=testuser password=testpass sslmode=disable"
	if dsn := cfg.DatabaseDSN(); dsn != expected {
		t.Errorf("expected DSN '%s', got '%s'", expected, dsn)
	}
}
