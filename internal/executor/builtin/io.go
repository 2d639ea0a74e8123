package builtin

import (
	"context"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/executor"
)

// InputExecutor emits the run's global input.
type InputExecutor struct{}

// Execute returns the global input, or an empty object when there is none.
func (InputExecutor) Execute(_ context.Context, _ *domain.Node, nctx *executor.NodeContext) (*executor.Result, error) {
	if nctx.GlobalInput == nil {
		return &executor.Result{Output: map[string]any{}}, nil
	}
	return &executor.Result{Output: nctx.GlobalInput}, nil
}

// OutputExecutor passes the previous node's output through as the run result.
type OutputExecutor struct{}

// Execute returns the previous output, or an empty object when there is none.
func (OutputExecutor) Execute(_ context.Context, _ *domain.Node, nctx *executor.NodeContext) (*executor.Result, error) {
	if nctx.PreviousOutput == nil {
		return &executor.Result{Output: map[string]any{}}, nil
	}
	return &executor.Result{Output: nctx.PreviousOutput}, nil
}
