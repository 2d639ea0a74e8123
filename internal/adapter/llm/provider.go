package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
)

// CompletionRequest is a single prompt sent on behalf of an LLM node.
type CompletionRequest struct {
	Provider     string
	Model        string
	SystemPrompt string
	Prompt       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
}

// Completion is the provider's answer with accounting data.
type Completion struct {
	Text    string
	Tokens  int
	CostUSD float64
	Meta    domain.ProviderMeta
}

// Provider completes prompts.
type Provider interface {
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// ChatProvider serves completions from an LLMClient.
type ChatProvider struct {
	name         string
	client       LLMClient
	defaultModel string
	costPer1K    float64
}

// NewChatProvider creates a provider. costPer1K prices total tokens.
func NewChatProvider(name string, client LLMClient, defaultModel string, costPer1K float64) *ChatProvider {
	return &ChatProvider{name: name, client: client, defaultModel: defaultModel, costPer1K: costPer1K}
}

// Complete sends the prompt as a chat completion.
func (p *ChatProvider) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, errs.New(domain.ErrorTypeConfig, "no model configured for provider "+p.name)
	}

	messages := make([]ChatMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, ChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, ChatMessage{Role: "user", Content: req.Prompt})

	resp, err := p.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, classify(err, p.name)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil {
		return nil, errs.New(domain.ErrorTypeLLM, "provider returned no choices", errs.WithContext("provider", p.name))
	}

	tokens := 0
	if resp.Usage != nil {
		tokens = resp.Usage.TotalTokens
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return &Completion{
		Text:    resp.Choices[0].Message.Content,
		Tokens:  tokens,
		CostUSD: float64(tokens) / 1000 * p.costPer1K,
		Meta: domain.ProviderMeta{
			Provider:     p.name,
			Model:        model,
			Temperature:  req.Temperature,
			TopP:         req.TopP,
			ModelVersion: resp.SystemFingerprint,
		},
	}, nil
}

// HealthCheck reports whether the provider answers a model listing.
func (p *ChatProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	return err
}

func classify(err error, provider string) error {
	var se *StatusError
	if errors.As(err, &se) {
		typ := domain.ErrorTypeLLM
		switch {
		case se.StatusCode == http.StatusTooManyRequests:
			typ = domain.ErrorTypeRateLimit
		case se.StatusCode == http.StatusBadRequest:
			typ = domain.ErrorTypeValidation
		}
		return errs.Wrap(err, typ, errs.WithContext("provider", provider), errs.WithContext("status", se.StatusCode))
	}
	return errs.FromError(err, domain.ErrorTypeNetwork, errs.WithContext("provider", provider))
}

// Router dispatches completions to named providers.
type Router struct {
	mu        sync.RWMutex
	providers map[string]Provider
	fallback  string
}

// NewRouter creates a router; requests naming no provider go to fallback.
func NewRouter(fallback string) *Router {
	return &Router{providers: make(map[string]Provider), fallback: fallback}
}

// Register adds a provider under name, replacing any previous one.
func (r *Router) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Complete routes req by its Provider field.
func (r *Router) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	name := req.Provider
	if name == "" {
		name = r.fallback
	}
	r.mu.RLock()
	p := r.providers[name]
	r.mu.RUnlock()
	if p == nil {
		return nil, errs.New(domain.ErrorTypeConfig, fmt.Sprintf("unknown LLM provider %q", name))
	}
	return p.Complete(ctx, req)
}
