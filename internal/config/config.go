package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Event bus backends
const (
	EventBusMemory = "memory"
	EventBusRedis  = "redis"
)

// Config holds all configuration for the procflow server
type Config struct {
	// Server configuration
	HTTPPort int    `env:"PROCFLOW_HTTP_PORT" envDefault:"8080"`
	GRPCPort int    `env:"PROCFLOW_GRPC_PORT" envDefault:"9090"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Directory scanned for *.yaml graph documents at startup
	GraphsDir string `env:"PROCFLOW_GRAPHS_DIR" envDefault:"./graphs"`

	// memory or redis; redis also enables snapshot storage
	EventBus string `env:"PROCFLOW_EVENT_BUS" envDefault:"memory"`

	Redis    RedisConfig
	LLM      LLMConfig
	Workers  WorkerConfig
	Timeouts TimeoutConfig
	Storage  StorageConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`

	// Stream consumer identity
	ConsumerGroup string `env:"REDIS_CONSUMER_GROUP" envDefault:"procflow"`
	ConsumerName  string `env:"REDIS_CONSUMER_NAME" envDefault:"procflow-1"`
	StreamMaxLen  int64  `env:"REDIS_STREAM_MAX_LEN" envDefault:"10000"`
}

// LLMConfig holds agent executor configuration. Agent steps are disabled without an API key.
type LLMConfig struct {
	Provider string `env:"LLM_PROVIDER" envDefault:"anthropic"`
	APIKey   string `env:"LLM_API_KEY"`

	DefaultModel       string  `env:"LLM_DEFAULT_MODEL" envDefault:"claude-3-5-sonnet-20241022"`
	DefaultTemperature float64 `env:"LLM_DEFAULT_TEMPERATURE" envDefault:"0.7"`
	DefaultMaxTokens   int     `env:"LLM_DEFAULT_MAX_TOKENS" envDefault:"4096"`
}

// WorkerConfig holds worker pool configuration
type WorkerConfig struct {
	PoolSize            int           `env:"WORKER_POOL_SIZE" envDefault:"5"`
	HealthCheckInterval time.Duration `env:"WORKER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	RunTimeout      time.Duration `env:"TIMEOUT_RUN" envDefault:"3600s"`
	StepTimeout     time.Duration `env:"TIMEOUT_STEP" envDefault:"300s"`
	JoinTimeout     time.Duration `env:"TIMEOUT_JOIN" envDefault:"0s"`
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// StorageConfig holds run snapshot storage configuration
type StorageConfig struct {
	TTL time.Duration `env:"STORAGE_TTL" envDefault:"24h"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 1 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.GRPCPort)
	}

	switch c.EventBus {
	case EventBusMemory:
	case EventBusRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis address is required")
		}
	default:
		return fmt.Errorf("unsupported event bus: %s (must be memory or redis)", c.EventBus)
	}

	if c.LLM.APIKey != "" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	if c.Workers.HealthCheckInterval <= 0 {
		return fmt.Errorf("worker health check interval must be positive")
	}
	if c.Timeouts.RunTimeout < 0 || c.Timeouts.StepTimeout < 0 || c.Timeouts.JoinTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// AgentsEnabled reports whether agent invocations can be executed
func (c *Config) AgentsEnabled() bool {
	return c.LLM.APIKey != ""
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// GetGRPCAddr returns the gRPC server address
func (c *Config) GetGRPCAddr() string {
	return fmt.Sprintf(":%d", c.GRPCPort)
}
