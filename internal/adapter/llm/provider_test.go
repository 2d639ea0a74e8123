package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
)

func TestClientCreateChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-test", req.Model)

		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			Model:   "gpt-test-0613",
			Choices: []Choice{{Message: &ChatMessage{Role: "assistant", Content: "hello"}}},
			Usage:   &Usage{TotalTokens: 2000},
		})
	}))
	defer srv.Close()

	p := NewChatProvider("openai", NewClient(srv.URL+"/", "secret", time.Second), "gpt-test", 0.5)
	temp := 0.2
	got, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "hi", SystemPrompt: "be brief", Temperature: &temp})

	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, 2000, got.Tokens)
	assert.InDelta(t, 1.0, got.CostUSD, 1e-9)
	assert.Equal(t, "openai", got.Meta.Provider)
	assert.Equal(t, "gpt-test-0613", got.Meta.Model)
	assert.Equal(t, &temp, got.Meta.Temperature)
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		status int
		want   domain.ErrorType
	}{
		{http.StatusTooManyRequests, domain.ErrorTypeRateLimit},
		{http.StatusBadRequest, domain.ErrorTypeValidation},
		{http.StatusInternalServerError, domain.ErrorTypeLLM},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"x"}}`))
			}))
			defer srv.Close()

			p := NewChatProvider("openai", NewClient(srv.URL, "", time.Second), "m", 0)
			_, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "hi"})

			require.Error(t, err)
			assert.Equal(t, tt.want, errs.TypeOf(err))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestChatProviderWithMockClient(t *testing.T) {
	p := NewChatProvider("mock", NewMockClient(), "mock-gpt-4", 0)
	got, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "summarize this"})

	require.NoError(t, err)
	assert.Contains(t, got.Text, "summarize this")
	assert.Greater(t, got.Tokens, 0)
	assert.Equal(t, "mock-gpt-4", got.Meta.Model)
	assert.NoError(t, p.HealthCheck(context.Background()))
}

func TestChatProviderRequiresModel(t *testing.T) {
	p := NewChatProvider("mock", NewMockClient(), "", 0)
	_, err := p.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
	assert.Equal(t, domain.ErrorTypeConfig, errs.TypeOf(err))
}

func TestRouter(t *testing.T) {
	r := NewRouter("mock")
	r.Register("mock", NewChatProvider("mock", NewMockClient(), "mock-gpt-4", 0))

	got, err := r.Complete(context.Background(), &CompletionRequest{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "mock", got.Meta.Provider)

	_, err = r.Complete(context.Background(), &CompletionRequest{Provider: "ollama", Prompt: "x"})
	assert.Equal(t, domain.ErrorTypeConfig, errs.TypeOf(err))
}
