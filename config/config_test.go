package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadEnv_Defaults(t *testing.T) {
	cfg := LoadEnv()

	assert.Equal(t, "postgres", cfg.Server.StorageDriver)
	assert.Equal(t, "omnipos_lot", cfg.Postgres.DBName)
	assert.False(t, cfg.Allocation.ExcludeExpired)
	assert.Equal(t, 30*time.Second, cfg.Allocation.AvailabilityCacheTTL)
	assert.Equal(t, "lot_ledger", cfg.Elastic.LedgerIndex)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadEnv_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")
	t.Setenv("ALLOCATION_EXCLUDE_EXPIRED", "true")
	t.Setenv("AVAILABILITY_CACHE_TTL", "2m")
	t.Setenv("POSTGRES_CONN_MAX_LIFETIME", "90")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := LoadEnv()

	assert.Equal(t, "memory", cfg.Server.StorageDriver)
	assert.True(t, cfg.Allocation.ExcludeExpired)
	assert.Equal(t, 2*time.Minute, cfg.Allocation.AvailabilityCacheTTL)
	assert.Equal(t, 90*time.Second, cfg.Postgres.ConnMaxLifetime)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestGetEnvDuration_Invalid(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvDuration("SOME_DURATION", time.Second))
}
