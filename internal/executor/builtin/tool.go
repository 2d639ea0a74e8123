package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
	"github.com/enisisuko/ICee-agent/internal/executor"
	"github.com/enisisuko/ICee-agent/internal/policy"
	"github.com/enisisuko/ICee-agent/internal/tools"
)

const defaultToolTimeout = 30 * time.Second

// ToolInvoker calls a named tool.
type ToolInvoker interface {
	Execute(ctx context.Context, toolName string, args json.RawMessage) (json.RawMessage, error)
}

// PolicyEvaluator decides whether a tool call may proceed.
type PolicyEvaluator interface {
	Evaluate(ctx context.Context, input policy.ToolInput) (string, string, error)
}

// ToolExecutor invokes a tool with input mapped from the previous output.
//
// Config keys: tool_name (required), tool_version (default "latest"),
// timeout_ms (default 30000), input_mapping {target: source}.
type ToolExecutor struct {
	tools  ToolInvoker
	policy PolicyEvaluator
	logger *zap.Logger
}

// NewToolExecutor creates a tool executor. A nil policy allows every call.
func NewToolExecutor(invoker ToolInvoker, pol PolicyEvaluator, logger *zap.Logger) *ToolExecutor {
	return &ToolExecutor{tools: invoker, policy: pol, logger: logger}
}

func (e *ToolExecutor) Execute(ctx context.Context, node *domain.Node, nctx *executor.NodeContext) (*executor.Result, error) {
	toolName := configString(node, "tool_name")
	if toolName == "" {
		return nil, missingConfig(node, "tool_name")
	}
	version := configString(node, "tool_version")
	if version == "" {
		version = "latest"
	}
	timeout := defaultToolTimeout
	if ms, ok := configInt(node, "timeout_ms"); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}

	input := mapInput(nctx.PreviousOutput, configStringMap(node, "input_mapping"))

	if e.policy != nil {
		decision, reason, err := e.policy.Evaluate(ctx, policy.ToolInput{
			ToolName:    toolName,
			ToolVersion: version,
			RunID:       nctx.RunID,
			NodeID:      node.ID,
			Args:        input,
		})
		if err != nil {
			return nil, errs.Wrap(err, domain.ErrorTypeSystem, errs.WithNode(node.ID))
		}
		if decision == policy.DecisionBlock {
			e.logger.Warn("tool call blocked by policy",
				zap.String("run_id", nctx.RunID),
				zap.String("node_id", node.ID),
				zap.String("tool_name", toolName),
				zap.String("reason", reason))
			return nil, errs.New(domain.ErrorTypePolicyBlocked, "tool "+toolName+" blocked by policy",
				errs.WithNode(node.ID), errs.WithContext("reason", reason))
		}
	}

	args, err := json.Marshal(input)
	if err != nil {
		return nil, errs.Wrap(err, domain.ErrorTypeValidation, errs.WithNode(node.ID))
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.logger.Debug("invoking tool",
		zap.String("run_id", nctx.RunID),
		zap.String("node_id", node.ID),
		zap.String("tool_name", toolName),
		zap.String("tool_version", version))

	raw, err := e.tools.Execute(callCtx, toolName, args)
	if err != nil {
		var unknown tools.ErrUnknownTool
		if errors.As(err, &unknown) {
			return nil, errs.Wrap(err, domain.ErrorTypeConfig, errs.WithNode(node.ID))
		}
		return nil, errs.FromError(err, domain.ErrorTypeTool,
			errs.WithNode(node.ID), errs.WithContext("tool_name", toolName))
	}

	var output any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &output); err != nil {
			return nil, errs.Wrap(err, domain.ErrorTypeTool, errs.WithNode(node.ID), errs.WithContext("tool_name", toolName))
		}
	}
	return &executor.Result{Output: output}, nil
}

// mapInput projects fields of the previous output into the tool input.
// Without a mapping, or when the previous output is not an object, the
// previous output is passed through unchanged.
func mapInput(previous any, mapping map[string]string) any {
	prev, ok := previous.(map[string]any)
	if len(mapping) == 0 || !ok {
		return previous
	}
	mapped := make(map[string]any, len(mapping))
	for target, source := range mapping {
		mapped[target] = prev[source]
	}
	return mapped
}
