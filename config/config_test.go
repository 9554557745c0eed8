package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pos-ledger/loyalty"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DatabaseDriver)
	assert.False(t, cfg.UseKafka())
	assert.False(t, cfg.UseRedisLocks())
	assert.Equal(t, 5*time.Minute, cfg.LowStockInterval)
	assert.Equal(t, 5*time.Second, cfg.EventPublishTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, loyalty.DefaultPointsTTL, cfg.Loyalty.PointsTTL)
	assert.Len(t, cfg.Loyalty.Tiers, 3)
	assert.True(t, cfg.Variance.Warning.Equal(decimal.NewFromInt(5)))
	assert.True(t, cfg.Variance.Critical.Equal(decimal.NewFromInt(20)))
}

func TestLoad_FromEnvironment(t *testing.T) {
	// GIVEN: Every ledger setting overridden
	// WHEN: Load runs
	// THEN: The program, thresholds and transports follow the environment

	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("ALLOWED_ORIGINS", "https://pos.example.com")
	t.Setenv("LOYALTY_POINTS_PER_UNIT", "2")
	t.Setenv("LOYALTY_CASHBACK_RATE", "0.05")
	t.Setenv("LOYALTY_TIERS", "member:0:1,vip:1000:2")
	t.Setenv("LOYALTY_POINTS_TTL", "720h")
	t.Setenv("VARIANCE_WARNING", "1.50")
	t.Setenv("VARIANCE_CRITICAL", "10")
	t.Setenv("LOW_STOCK_INTERVAL", "30s")
	t.Setenv("EVENT_PUBLISH_TIMEOUT", "2s")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.True(t, cfg.UseRedisLocks())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://pos.example.com"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Loyalty.PointsPerUnit.Equal(decimal.NewFromInt(2)))
	assert.True(t, cfg.Loyalty.CashbackRate.Equal(decimal.RequireFromString("0.05")))
	require.Len(t, cfg.Loyalty.Tiers, 2)
	assert.Equal(t, "vip", cfg.Loyalty.Tiers[1].Name)
	assert.Equal(t, 720*time.Hour, cfg.Loyalty.PointsTTL)
	assert.True(t, cfg.Variance.Warning.Equal(decimal.RequireFromString("1.5")))
	assert.Equal(t, 30*time.Second, cfg.LowStockInterval)
	assert.Equal(t, 2*time.Second, cfg.EventPublishTimeout)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_RejectsBadLedgerSettings(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non numeric cashback", "LOYALTY_CASHBACK_RATE", "five percent"},
		{"cashback above one", "LOYALTY_CASHBACK_RATE", "1.5"},
		{"malformed tiers", "LOYALTY_TIERS", "gold"},
		{"tiers out of order", "LOYALTY_TIERS", "gold:2000:1.5,silver:500:1.2"},
		{"critical below warning", "VARIANCE_CRITICAL", "1"},
		{"unknown log level", "LOG_LEVEL", "chatty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
