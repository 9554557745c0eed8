// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/warp/pos-ledger/cash"
	"github.com/warp/pos-ledger/logging"
	"github.com/warp/pos-ledger/loyalty"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseDriver string
	DatabaseURL    string

	// Redis (empty = in-process account locks)
	RedisURL string

	// Kafka (no brokers = events are only logged)
	KafkaBrokers []string
	KafkaTopic   string

	// Per publish call, Kafka or log
	EventPublishTimeout time.Duration

	// CORS
	AllowedOrigins []string

	// Ledgers
	Loyalty          loyalty.Program
	Variance         cash.VarianceThresholds
	LowStockInterval time.Duration

	// Logging
	LogLevel string
}

// Load reads .env if present, then the environment. Malformed decimal or
// tier settings are errors; malformed durations fall back to the default.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment variables")
	}

	cfg := &Config{
		Port: getEnv("PORT", "8080"),
		Env:  getEnv("ENV", "development"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:    getEnv("DATABASE_URL", "./data/pos-ledger.db"),

		RedisURL: getEnv("REDIS_URL", ""),

		KafkaBrokers: parseStringSlice(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "pos-ledger.events"),

		EventPublishTimeout: parseDuration(getEnv("EVENT_PUBLISH_TIMEOUT", "5s"), 5*time.Second),

		AllowedOrigins: parseStringSlice(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		LowStockInterval: parseDuration(getEnv("LOW_STOCK_INTERVAL", "5m"), 5*time.Minute),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	switch cfg.LogLevel {
	case logging.LevelDebug, logging.LevelInfo, logging.LevelWarn, logging.LevelError:
	default:
		return nil, fmt.Errorf("LOG_LEVEL %q: want debug, info, warn or error", cfg.LogLevel)
	}

	program := loyalty.DefaultProgram()
	var err error
	if program.PointsPerUnit, err = parseDecimal("LOYALTY_POINTS_PER_UNIT", program.PointsPerUnit); err != nil {
		return nil, err
	}
	if program.CashbackRate, err = parseDecimal("LOYALTY_CASHBACK_RATE", program.CashbackRate); err != nil {
		return nil, err
	}
	if raw := getEnv("LOYALTY_TIERS", ""); raw != "" {
		if program.Tiers, err = loyalty.ParseTierTable(raw); err != nil {
			return nil, fmt.Errorf("LOYALTY_TIERS: %w", err)
		}
	}
	program.PointsTTL = parseDuration(getEnv("LOYALTY_POINTS_TTL", ""), loyalty.DefaultPointsTTL)
	if err := program.Validate(); err != nil {
		return nil, fmt.Errorf("loyalty program: %w", err)
	}
	cfg.Loyalty = program

	variance := cash.DefaultVarianceThresholds()
	if variance.Warning, err = parseDecimal("VARIANCE_WARNING", variance.Warning); err != nil {
		return nil, err
	}
	if variance.Critical, err = parseDecimal("VARIANCE_CRITICAL", variance.Critical); err != nil {
		return nil, err
	}
	if variance.Critical.LessThan(variance.Warning) {
		return nil, fmt.Errorf("VARIANCE_CRITICAL %s is below VARIANCE_WARNING %s", variance.Critical, variance.Warning)
	}
	cfg.Variance = variance

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func parseDuration(s string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

func parseDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseStringSlice(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}

// UseKafka reports whether events go to Kafka rather than the log.
func (c *Config) UseKafka() bool { return len(c.KafkaBrokers) > 0 }

// UseRedisLocks reports whether account locks are distributed.
func (c *Config) UseRedisLocks() bool { return c.RedisURL != "" }
