package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "graphs", cfg.GraphDir)
	assert.Equal(t, 500*time.Millisecond, cfg.PauseInterval)
	assert.Equal(t, "icee:runs", cfg.RedisChannel)
	assert.Equal(t, 30*time.Second, cfg.PingInterval)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "none", cfg.TraceExporter)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("ICEE_MODE", "MOCK")
	t.Setenv("PAUSE_POLL_MS", "50")
	t.Setenv("LLM_COST_PER_1K_TOKENS", "0.25")
	t.Setenv("LLM_TIMEOUT_MS", "not-a-number")
	t.Setenv("TRACE_EXPORTER", "stdout")

	cfg := Load()

	assert.Equal(t, 9999, cfg.HTTPPort)
	assert.Equal(t, "MOCK", cfg.Mode)
	assert.Equal(t, 50*time.Millisecond, cfg.PauseInterval)
	assert.InDelta(t, 0.25, cfg.LLMCostPer1K, 1e-9)
	assert.Equal(t, 120*time.Second, cfg.LLMTimeout)
	assert.Equal(t, "stdout", cfg.TraceExporter)
}
