// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Data API
	DataAPIURL string
	DataAPIKey string

	// Tool subprocess
	ToolCommand    string        // command spawned as the MCP tool server
	ToolArgs       []string      // extra args for the tool command
	ConnectTimeout time.Duration // readiness-marker deadline after spawn
	CallTimeout    time.Duration // per tool call
	HealthInterval time.Duration // subprocess liveness check cadence
	RestartBackoff time.Duration // delay before an automatic restart
	MaxRestarts    int           // automatic restart budget

	// Security
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string // OTLP gRPC endpoint (optional, tracing off if unset)
}

const (
	DefaultDataAPIURL     = "https://web3.nodit.io"
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultToolCommand    = "./bin/chainscout-mcp"
	DefaultConnectTimeout = 10 * time.Second
	DefaultCallTimeout    = 15 * time.Second
	DefaultHealthInterval = 30 * time.Second
	DefaultRestartBackoff = 5 * time.Second
	DefaultMaxRestarts    = 3
	DefaultRateLimit      = 100
)

// apiKeyPlaceholder is what the sample .env ships with; treating it as unset
// gives a clear error instead of 401s from the upstream.
const apiKeyPlaceholder = "your_api_key_here"

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DataAPIURL:     getEnv("DATA_API_URL", DefaultDataAPIURL),
		DataAPIKey:     os.Getenv("DATA_API_KEY"), // Required, no default
		ToolCommand:    getEnv("TOOL_COMMAND", DefaultToolCommand),
		ConnectTimeout: getEnvDuration("TOOL_CONNECT_TIMEOUT", DefaultConnectTimeout),
		CallTimeout:    getEnvDuration("TOOL_CALL_TIMEOUT", DefaultCallTimeout),
		HealthInterval: getEnvDuration("TOOL_HEALTH_INTERVAL", DefaultHealthInterval),
		RestartBackoff: getEnvDuration("TOOL_RESTART_BACKOFF", DefaultRestartBackoff),
		MaxRestarts:    int(getEnvInt64("TOOL_MAX_RESTARTS", DefaultMaxRestarts)),
		RateLimitRPS:   int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.DataAPIKey == "" || c.DataAPIKey == apiKeyPlaceholder {
		return fmt.Errorf("DATA_API_KEY is required")
	}

	if c.DataAPIURL == "" {
		return fmt.Errorf("DATA_API_URL is required")
	}

	if c.ToolCommand == "" {
		return fmt.Errorf("TOOL_COMMAND is required")
	}

	if c.MaxRestarts < 1 {
		return fmt.Errorf("TOOL_MAX_RESTARTS must be at least 1")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
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
