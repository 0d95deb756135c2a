// Package config loads service configuration from the environment.
//
// Every service binary (authd, studentd, classroomd, schoold) shares the same
// configuration surface; only the service name and HTTP port differ. A .env
// file is honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/AhHanie/axion-demo/pkg/observability"
)

// Config holds all service configuration
type Config struct {
	// Service identity
	ServiceName string
	// NodeType is the bus node type this process announces under. It equals
	// the service's module name so peer calls addressed to a module reach
	// one of its replicas.
	NodeType string

	Server ServerConfig
	Redis  RedisConfig
	Token  TokenConfig
	Bus    BusConfig

	Observability ObservabilityConfig

	// PolicyFile optionally overrides the compiled-in permission tree (YAML)
	PolicyFile string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// RedisConfig holds the shared Redis connection settings.
// One Redis instance backs both the RPC bus and the document store.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	// Prefix namespaces every key and channel this deployment touches
	Prefix string
}

// TokenConfig holds the two token-class secrets and lifetimes
type TokenConfig struct {
	LongSecret    string
	ShortSecret   string
	LongTokenTTL  time.Duration
	ShortTokenTTL time.Duration
}

// BusConfig holds RPC bus tunables
type BusConfig struct {
	CallTimeout       time.Duration
	HeartbeatInterval time.Duration
	NodeTTL           time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceVersion string
	OTelInsecure       bool
}

// Load reads configuration from the environment for the named service.
// defaultPort is the service's conventional port (5111..5114).
func Load(serviceName, defaultPort string) (*Config, error) {
	// Missing .env is fine; env vars may come from the process environment.
	_ = godotenv.Load()

	cfg := &Config{
		ServiceName: serviceName,
		NodeType:    serviceName,
		Server: ServerConfig{
			Host:            getEnv("AXION_HOST", "0.0.0.0"),
			Port:            getEnv("AXION_"+strings.ToUpper(serviceName)+"_PORT", defaultPort),
			ReadTimeout:     getEnvDuration("AXION_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("AXION_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("AXION_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("AXION_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			URL:        getEnv("AXION_REDIS_URL", "redis://127.0.0.1:6379"),
			Password:   getEnv("AXION_REDIS_PASSWORD", ""),
			DB:         getEnvInt("AXION_REDIS_DB", 0),
			MaxRetries: getEnvInt("AXION_REDIS_MAX_RETRIES", 3),
			PoolSize:   getEnvInt("AXION_REDIS_POOL_SIZE", 10),
			Prefix:     getEnv("AXION_REDIS_PREFIX", "axion"),
		},
		Token: TokenConfig{
			LongSecret:    getEnv("AXION_LONG_TOKEN_SECRET", ""),
			ShortSecret:   getEnv("AXION_SHORT_TOKEN_SECRET", ""),
			LongTokenTTL:  getEnvDuration("AXION_LONG_TOKEN_TTL", 3*365*24*time.Hour),
			ShortTokenTTL: getEnvDuration("AXION_SHORT_TOKEN_TTL", 365*24*time.Hour),
		},
		Bus: BusConfig{
			CallTimeout:       getEnvDuration("AXION_BUS_CALL_TIMEOUT", 5*time.Second),
			HeartbeatInterval: getEnvDuration("AXION_BUS_HEARTBEAT", 5*time.Second),
			NodeTTL:           getEnvDuration("AXION_BUS_NODE_TTL", 15*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:           parseLogLevel(getEnv("AXION_LOG_LEVEL", "info")),
			MetricsEnabled:     getEnvBool("AXION_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("AXION_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("AXION_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceVersion: getEnv("AXION_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("AXION_OTEL_INSECURE", true),
		},
		PolicyFile: getEnv("AXION_POLICY_FILE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Token.LongSecret == "" || c.Token.ShortSecret == "" {
		return fmt.Errorf("missing token secrets: set AXION_LONG_TOKEN_SECRET and AXION_SHORT_TOKEN_SECRET")
	}
	if c.Bus.NodeTTL <= c.Bus.HeartbeatInterval {
		return fmt.Errorf("bus node TTL must exceed the heartbeat interval")
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}
	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
