package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Logger     LoggerConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Elastic    ElasticsearchConfig
	Allocation AllocationConfig
}

type ServerConfig struct {
	AppEnv   string
	GRPCPort string
	// StorageDriver is "postgres" or "memory".
	StorageDriver string
	// SeedProducts registers "merchant:product" pairs with the memory store.
	SeedProducts []string
}

type LoggerConfig struct {
	Level             string
	Encoding          string
	DisableCaller     bool
	DisableStacktrace bool
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled            bool
	Brokers            []string
	OrdersTopic        string
	NotificationsTopic string
	GroupID            string
	PublishTimeout     time.Duration
}

type ElasticsearchConfig struct {
	Addresses   []string
	Username    string
	Password    string
	LedgerIndex string
}

type AllocationConfig struct {
	ExcludeExpired       bool
	AvailabilityCacheTTL time.Duration
	ReorderScanInterval  time.Duration
	ReorderLockTTL       time.Duration
}

func LoadEnv() *Config {
	return &Config{
		Server: ServerConfig{
			AppEnv:        getEnv("APP_ENV", "dev"),
			GRPCPort:      getEnv("GRPC_PORT", ":8085"),
			StorageDriver: getEnv("STORAGE_DRIVER", "postgres"),
			SeedProducts:  getEnvSlice("SEED_PRODUCTS", nil),
		},
		Logger: LoggerConfig{
			Level:             getEnv("LOGGER_LEVEL", "debug"),
			Encoding:          getEnv("LOGGER_ENCODING", "console"),
			DisableCaller:     getEnvBool("LOGGER_DISABLE_CALLER", false),
			DisableStacktrace: getEnvBool("LOGGER_DISABLE_STACKTRACE", true),
		},
		Postgres: PostgresConfig{
			Host:            getEnv("POSTGRES_HOST", "localhost"),
			Port:            getEnv("POSTGRES_PORT", "5432"),
			User:            getEnv("POSTGRES_USER", "postgres"),
			Password:        getEnv("POSTGRES_PASSWORD", "postgres"),
			DBName:          getEnv("POSTGRES_DB", "omnipos_lot"),
			SSLMode:         getEnv("POSTGRES_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("POSTGRES_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("POSTGRES_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getEnvDuration("POSTGRES_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("POSTGRES_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Enabled:            getEnvBool("KAFKA_ENABLED", true),
			Brokers:            getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			OrdersTopic:        getEnv("KAFKA_ORDERS_TOPIC", "order-events"),
			NotificationsTopic: getEnv("KAFKA_NOTIFICATIONS_TOPIC", "lot-notifications"),
			GroupID:            getEnv("KAFKA_GROUP_ID", "lot-service-group"),
			PublishTimeout:     getEnvDuration("KAFKA_PUBLISH_TIMEOUT", 5*time.Second),
		},
		Elastic: ElasticsearchConfig{
			Addresses:   getEnvSlice("ELASTICSEARCH_ADDRESSES", []string{"http://localhost:9200"}),
			Username:    getEnv("ELASTICSEARCH_USERNAME", ""),
			Password:    getEnv("ELASTICSEARCH_PASSWORD", ""),
			LedgerIndex: getEnv("ELASTICSEARCH_LEDGER_INDEX", "lot_ledger"),
		},
		Allocation: AllocationConfig{
			ExcludeExpired:       getEnvBool("ALLOCATION_EXCLUDE_EXPIRED", false),
			AvailabilityCacheTTL: getEnvDuration("AVAILABILITY_CACHE_TTL", 30*time.Second),
			ReorderScanInterval:  getEnvDuration("REORDER_SCAN_INTERVAL", 15*time.Minute),
			ReorderLockTTL:       getEnvDuration("REORDER_LOCK_TTL", 5*time.Minute),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
