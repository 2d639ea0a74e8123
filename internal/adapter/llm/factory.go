package llm

import (
	"time"

	"go.uber.org/zap"
)

// ModeMock selects the mock client.
const ModeMock = "MOCK"

// NewLLMClient creates a client for the given mode. MOCK returns a MockClient,
// anything else an HTTP client against baseURL.
func NewLLMClient(mode, baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) LLMClient {
	if mode == ModeMock {
		logger.Info("mock mode enabled, using mock LLM client")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
