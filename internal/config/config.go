// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	Nats     NatsConfig
	Engine   EngineConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port            int
	GRPCPort        int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
}

// NatsConfig holds NATS connection settings. An empty URL disables the
// notification publisher.
type NatsConfig struct {
	URL string
}

// EngineConfig tunes the orchestration and posting engine.
type EngineConfig struct {
	PollInterval        time.Duration // worker/orchestrator idle interval when no work
	TaskTimeout         time.Duration // per-task execution deadline
	LeaseDuration       time.Duration // claim lease before the reaper may reclaim
	ReaperInterval      time.Duration
	WorkersPerCap       int
	DefaultMaxRetries   int
	OrchestratorBatch   int // events drained per orchestrator poll
	AutoPostThreshold   int // fallback when a client has no threshold configured
	OCRServiceURL       string
	ReasoningServiceURL string
	CurrencyServiceURL  string
}

// Load reads configuration from environment variables, applying defaults
// suitable for local development.
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "bookkeeping-core"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("HTTP_PORT", 8080),
			GRPCPort:        getEnvInt("GRPC_PORT", 9090),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			Database:    getEnv("DB_NAME", "bookkeeping"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE", 30*time.Minute),
		},
		Nats: NatsConfig{
			URL: getEnv("NATS_URL", ""),
		},
		Engine: EngineConfig{
			PollInterval:        getEnvDuration("ENGINE_POLL_INTERVAL", 5*time.Second),
			TaskTimeout:         getEnvDuration("ENGINE_TASK_TIMEOUT", 2*time.Minute),
			LeaseDuration:       getEnvDuration("ENGINE_LEASE_DURATION", 5*time.Minute),
			ReaperInterval:      getEnvDuration("ENGINE_REAPER_INTERVAL", time.Minute),
			WorkersPerCap:       getEnvInt("ENGINE_WORKERS_PER_CAPABILITY", 2),
			DefaultMaxRetries:   getEnvInt("ENGINE_DEFAULT_MAX_RETRIES", 3),
			OrchestratorBatch:   getEnvInt("ENGINE_ORCHESTRATOR_BATCH", 50),
			AutoPostThreshold:   getEnvInt("ENGINE_AUTO_POST_THRESHOLD", 85),
			OCRServiceURL:       getEnv("OCR_SERVICE_URL", "http://localhost:9101"),
			ReasoningServiceURL: getEnv("REASONING_SERVICE_URL", "http://localhost:9102"),
			CurrencyServiceURL:  getEnv("CURRENCY_SERVICE_URL", "http://localhost:9103"),
		},
	}

	if cfg.Engine.AutoPostThreshold < 0 || cfg.Engine.AutoPostThreshold > 100 {
		return nil, fmt.Errorf("ENGINE_AUTO_POST_THRESHOLD must be within [0,100], got %d", cfg.Engine.AutoPostThreshold)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
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
