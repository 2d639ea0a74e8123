package builtin

import (
	"context"

	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/adapter/llm"
	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/executor"
)

// LLMExecutor renders the node's prompt template and completes it with the
// configured provider.
//
// Config keys: provider, model, temperature, top_p, max_tokens, system_prompt,
// prompt_template.
type LLMExecutor struct {
	provider llm.Provider
	logger   *zap.Logger
}

// NewLLMExecutor creates an LLM executor backed by provider.
func NewLLMExecutor(provider llm.Provider, logger *zap.Logger) *LLMExecutor {
	return &LLMExecutor{provider: provider, logger: logger}
}

func (e *LLMExecutor) Execute(ctx context.Context, node *domain.Node, nctx *executor.NodeContext) (*executor.Result, error) {
	if node.Config == nil {
		return nil, missingConfig(node, "config")
	}

	prompt := RenderPrompt(configString(node, "prompt_template"), nctx)
	e.logger.Debug("invoking LLM provider",
		zap.String("run_id", nctx.RunID),
		zap.String("node_id", node.ID),
		zap.String("provider", configString(node, "provider")),
		zap.String("model", configString(node, "model")))

	completion, err := e.provider.Complete(ctx, &llm.CompletionRequest{
		Provider:     configString(node, "provider"),
		Model:        configString(node, "model"),
		SystemPrompt: configString(node, "system_prompt"),
		Prompt:       prompt,
		Temperature:  floatPtr(node, "temperature"),
		TopP:         floatPtr(node, "top_p"),
		MaxTokens:    intPtr(node, "max_tokens"),
	})
	if err != nil {
		return nil, err
	}

	meta := completion.Meta
	return &executor.Result{
		Output:         completion.Text,
		Tokens:         completion.Tokens,
		CostUSD:        completion.CostUSD,
		RenderedPrompt: prompt,
		ProviderMeta:   &meta,
	}, nil
}
