// Package config provides configuration for the ICEE server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Storage
	DatabaseURL string
	GraphDir    string

	// Mode selects the LLM backend; MOCK uses the mock client.
	Mode string

	// LLM settings
	LLMBaseURL   string
	LLMAPIKey    string
	LLMModel     string
	LLMTimeout   time.Duration
	LLMCostPer1K float64

	// Runtime settings
	PauseInterval time.Duration
	PolicyFile    string

	// Redis fan-out, disabled when RedisAddr is empty
	RedisAddr    string
	RedisChannel string

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Logging
	LogLevel  string
	LogFormat string

	// TraceExporter selects where node spans go: "none" or "stdout".
	TraceExporter string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:       getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:    getEnv("DATABASE_URL", "file:icee.db?cache=shared&mode=rwc"),
		GraphDir:       getEnv("GRAPH_DIR", "graphs"),
		Mode:           getEnv("ICEE_MODE", ""),
		LLMBaseURL:     getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMTimeout:     time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		LLMCostPer1K:   getEnvFloat("LLM_COST_PER_1K_TOKENS", 0),
		PauseInterval:  time.Duration(getEnvInt("PAUSE_POLL_MS", 500)) * time.Millisecond,
		PolicyFile:     getEnv("POLICY_FILE", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisChannel:   getEnv("REDIS_CHANNEL", "icee:runs"),
		PingInterval:   time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:   time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:    time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize: int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		TraceExporter:  getEnv("TRACE_EXPORTER", "none"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
