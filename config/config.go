package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"trading-service/pkg/database"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	GRPCPort string
	DB       DB
	Market   Market
	Redis    Redis
	Kafka    Kafka
	Cleanup  Cleanup
}

type DB struct {
	database.Config
}

type Market struct {
	FeeRate decimal.Decimal
}

type Redis struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type Kafka struct {
	Enabled    bool
	Brokers    []string
	AuditTopic string
}

type Cleanup struct {
	Enabled       bool
	RetireEvery   time.Duration
	PurgeEvery    time.Duration
	PurgeRetained time.Duration
}

func Load(log *zap.Logger) *Config {
	cfg := &Config{
		GRPCPort: getEnv("GRPC_PORT", log),
		DB: DB{
			Config: database.Config{
				Host:     getEnv("DB_HOST", log),
				Port:     getEnv("DB_PORT", log),
				User:     getEnv("DB_USER", log),
				Password: getEnv("DB_PASSWORD", log),
				Name:     getEnv("DB_NAME", log),
				SSLMode:  getEnv("DB_SSLMODE", log),
			},
		},
		Market: Market{
			FeeRate: decimalDefault(getEnvDefault("MARKET_FEE_RATE", "0.25"), decimal.RequireFromString("0.25"), log),
		},
		Redis: Redis{
			Enabled: getEnvDefault("REDIS_ENABLED", "false") == "true",
		},
		Kafka: Kafka{
			Enabled: getEnvDefault("KAFKA_ENABLED", "false") == "true",
		},
		Cleanup: Cleanup{
			Enabled:       getEnvDefault("CLEANUP_ENABLED", "true") == "true",
			RetireEvery:   parseDurationWithDays(getEnvDefault("CLEANUP_RETIRE_EVERY", "10m")),
			PurgeEvery:    parseDurationWithDays(getEnvDefault("CLEANUP_PURGE_EVERY", "6h")),
			PurgeRetained: parseDurationWithDays(getEnvDefault("CLEANUP_RETENTION", "30d")),
		},
	}

	// Адреса нужны только когда соответствующая интеграция включена
	if cfg.Redis.Enabled {
		cfg.Redis.Addr = getEnv("REDIS_ADDR", log)
		cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
		cfg.Redis.DB = atoiDefault(getEnvDefault("REDIS_DB", "0"), 0)
		cfg.Redis.CacheTTL = time.Duration(atoiDefault(getEnvDefault("CACHE_TTL_SECONDS", "60"), 60)) * time.Second
	}
	if cfg.Kafka.Enabled {
		cfg.Kafka.Brokers = splitList(getEnv("KAFKA_BROKERS", log))
		cfg.Kafka.AuditTopic = getEnvDefault("KAFKA_AUDIT_TOPIC", "market.audit")
	}
	return cfg
}

func getEnv(key string, log *zap.Logger) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	log.Error("Обязательная переменная окружения не установлена", zap.String("key", key))
	panic("missing required environment variable: " + key)
}

func getEnvDefault(key, def string) string {
	if val, exists := os.LookupEnv(key); exists && val != "" {
		return val
	}
	return def
}

func parseDurationWithDays(s string) time.Duration {
	if strings.HasSuffix(s, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0
		}
		return time.Duration(days) * 24 * time.Hour
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return duration
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func decimalDefault(s string, def decimal.Decimal, log *zap.Logger) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Warn("Некорректное десятичное значение, используется значение по умолчанию", zap.String("value", s), zap.Error(err))
		return def
	}
	return d
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
