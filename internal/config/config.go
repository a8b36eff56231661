// Package config loads the core's configuration from the environment,
// following the teacher's plain getenv-with-default style rather than a
// configuration framework — the core has few enough knobs that a struct
// filled in Load() stays readable.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	AccountSvc AccountServiceConfig
	Kafka      KafkaConfig
	Sweeper    SweeperConfig
	Logging    LoggingConfig
	Timezone   string
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host              string
	Port              int
	Database          string
	User              string
	Password          string
	SSLMode           string
	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   string
	ConnMaxIdleTime   string
	HealthCheckPeriod string
}

func (c DatabaseConfig) ConnectionString() string {
	return "host=" + c.Host +
		" port=" + strconv.Itoa(c.Port) +
		" user=" + c.User +
		" password=" + c.Password +
		" dbname=" + c.Database +
		" sslmode=" + c.SSLMode
}

// AccountServiceConfig configures the remote Account Service client,
// including its circuit breaker and retry budget.
type AccountServiceConfig struct {
	BaseURL                 string
	Timeout                 time.Duration
	CircuitBreakerThreshold uint32
	CircuitBreakerCooldown  time.Duration
	CircuitBreakerProbes    uint32
	MaxRetries              int
	RetryInitialInterval    time.Duration
	RetryMaxInterval        time.Duration
}

type KafkaConfig struct {
	Enabled  bool
	Brokers  []string
	ClientID string
}

// SweeperConfig controls the Scheduled Sweeper: how often it runs and how
// long a transaction may sit in PROCESSING before it's considered stuck.
type SweeperConfig struct {
	Enabled  bool
	Schedule string
	Cutoff   time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			Database:          getEnv("DB_NAME", "txcore"),
			User:              getEnv("DB_USER", "txcore"),
			Password:          getEnv("DB_PASSWORD", "txcore_dev_pass"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:      getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:      getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:   getEnv("DB_CONN_MAX_LIFETIME", "30m"),
			ConnMaxIdleTime:   getEnv("DB_CONN_MAX_IDLE_TIME", "5m"),
			HealthCheckPeriod: getEnv("DB_HEALTH_CHECK_PERIOD", "1m"),
		},
		AccountSvc: AccountServiceConfig{
			BaseURL:                 getEnv("ACCOUNT_SERVICE_URL", "http://localhost:9090"),
			Timeout:                 getEnvAsDuration("ACCOUNT_SERVICE_TIMEOUT", 5*time.Second),
			CircuitBreakerThreshold: uint32(getEnvAsInt("ACCOUNT_SERVICE_CB_THRESHOLD", 5)),
			CircuitBreakerCooldown:  getEnvAsDuration("ACCOUNT_SERVICE_CB_COOLDOWN", 30*time.Second),
			CircuitBreakerProbes:    uint32(getEnvAsInt("ACCOUNT_SERVICE_CB_PROBES", 1)),
			MaxRetries:              getEnvAsInt("ACCOUNT_SERVICE_MAX_RETRIES", 3),
			RetryInitialInterval:    getEnvAsDuration("ACCOUNT_SERVICE_RETRY_INITIAL", 100*time.Millisecond),
			RetryMaxInterval:        getEnvAsDuration("ACCOUNT_SERVICE_RETRY_MAX", 2*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:  getEnvAsBool("KAFKA_ENABLED", true),
			Brokers:  getEnvAsSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			ClientID: getEnv("KAFKA_CLIENT_ID", "txcore"),
		},
		Sweeper: SweeperConfig{
			Enabled:  getEnvAsBool("SWEEPER_ENABLED", true),
			Schedule: getEnv("SWEEPER_SCHEDULE", "*/1 * * * *"),
			Cutoff:   getEnvAsDuration("SWEEPER_CUTOFF", 10*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Timezone: getEnv("TIMEZONE", "UTC"),
	}
}

// Location resolves the configured timezone, falling back to UTC if the
// name can't be loaded (e.g. no tzdata present in a minimal container).
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return strings.Split(value, ",")
}
