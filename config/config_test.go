package config

import (
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
)

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"GRPC_PORT":   "50055",
		"DB_HOST":     "localhost",
		"DB_PORT":     "5432",
		"DB_USER":     "market",
		"DB_PASSWORD": "secret",
		"DB_NAME":     "market",
		"DB_SSLMODE":  "disable",
	} {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg := Load(zap.NewNop())

	if cfg.GRPCPort != "50055" || cfg.DB.Name != "market" {
		t.Fatalf("unexpected base config: %+v", cfg)
	}
	if cfg.Market.FeeRate.String() != "0.25" {
		t.Fatalf("fee rate = %s, want 0.25", cfg.Market.FeeRate)
	}
	if cfg.Redis.Enabled || cfg.Kafka.Enabled {
		t.Fatalf("integrations must be disabled by default")
	}
	if cfg.Cleanup.PurgeRetained != 30*24*time.Hour {
		t.Fatalf("retention = %v", cfg.Cleanup.PurgeRetained)
	}
}

func TestLoad_KafkaBrokers(t *testing.T) {
	setRequired(t)
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("MARKET_FEE_RATE", "0.1")

	cfg := Load(zap.NewNop())

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Fatalf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.AuditTopic != "market.audit" {
		t.Fatalf("topic = %s", cfg.Kafka.AuditTopic)
	}
	if cfg.Market.FeeRate.String() != "0.1" {
		t.Fatalf("fee rate = %s", cfg.Market.FeeRate)
	}
}

func TestLoad_MissingRequiredPanics(t *testing.T) {
	setRequired(t)
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "")
	os.Unsetenv("REDIS_ADDR")

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for missing REDIS_ADDR")
		}
	}()
	Load(zap.NewNop())
}

func TestParseDurationWithDays(t *testing.T) {
	cases := map[string]time.Duration{
		"2d":  48 * time.Hour,
		"90m": 90 * time.Minute,
		"bad": 0,
	}
	for in, want := range cases {
		if got := parseDurationWithDays(in); got != want {
			t.Errorf("parseDurationWithDays(%q) = %v, want %v", in, got, want)
		}
	}
}
