package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	EventStore EventStoreConfig
	Auth       AuthConfig
	Persist    PersistConfig
	Labs       LabsConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// EventStoreConfig holds configuration for the timeline archival store
// (EventStoreDB/KurrentDB).
type EventStoreConfig struct {
	// Host is the EventStoreDB server hostname
	Host string
	// Port is the gRPC/HTTP port (default 2113)
	Port int
	// Insecure disables TLS (for development)
	Insecure bool
	// Username for authentication (optional)
	Username string
	// Password for authentication (optional)
	Password string
	// Enabled controls whether timeline events are archived at all
	Enabled bool
}

type AuthConfig struct {
	// JWTSecret signs and verifies portal bearer tokens
	JWTSecret string
	// Issuer expected in token claims
	Issuer string
}

// PersistConfig tunes the reducer's fire-and-forget section persistence.
type PersistConfig struct {
	// RetryAttempts is the number of retries after a failed section write.
	// Zero preserves the original single-attempt behavior.
	RetryAttempts int
	// RetryBackoff is the delay between retries
	RetryBackoff time.Duration
	// Timeout bounds each individual section write
	Timeout time.Duration
}

// LabsConfig configures the legacy LIS polling adapter (SQL Server).
type LabsConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	PollInterval time.Duration
	// ResultTable is the LIS table holding finalized lab results
	ResultTable string
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
			Env:  getEnv("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "portal"),
			Password: getEnv("DB_PASSWORD", "portal"),
			Database: getEnv("DB_NAME", "portal"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		EventStore: EventStoreConfig{
			Host:     getEnv("EVENTSTORE_HOST", "localhost"),
			Port:     getEnvInt("EVENTSTORE_PORT", 2113),
			Insecure: getEnvBool("EVENTSTORE_INSECURE", true),
			Username: getEnv("EVENTSTORE_USERNAME", ""),
			Password: getEnv("EVENTSTORE_PASSWORD", ""),
			Enabled:  getEnvBool("EVENTSTORE_ENABLED", true),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			Issuer:    getEnv("JWT_ISSUER", "trimwell-portal"),
		},
		Persist: PersistConfig{
			RetryAttempts: getEnvInt("PERSIST_RETRY_ATTEMPTS", 0),
			RetryBackoff:  getEnvDuration("PERSIST_RETRY_BACKOFF", 2*time.Second),
			Timeout:       getEnvDuration("PERSIST_TIMEOUT", 10*time.Second),
		},
		Labs: LabsConfig{
			Enabled:      getEnvBool("LABS_ENABLED", false),
			Host:         getEnv("LABS_DB_HOST", "localhost"),
			Port:         getEnvInt("LABS_DB_PORT", 1433),
			User:         getEnv("LABS_DB_USER", "lis_reader"),
			Password:     getEnv("LABS_DB_PASSWORD", ""),
			Database:     getEnv("LABS_DB_NAME", "lis"),
			SSLMode:      getEnv("LABS_DB_SSLMODE", "disable"),
			PollInterval: getEnvDuration("LABS_POLL_INTERVAL", 5*time.Minute),
			ResultTable:  getEnv("LABS_RESULT_TABLE", "dbo.LabResults"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
