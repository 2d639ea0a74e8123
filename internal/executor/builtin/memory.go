package builtin

import (
	"context"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/executor"
)

// MemoryExecutor reads from or writes to the run-scoped memory.
//
// Config keys: operation ("read" or "write", default read), key (required),
// value_field (write only: field of the previous output to store).
type MemoryExecutor struct{}

// Execute performs the configured read or write on the run memory.
func (MemoryExecutor) Execute(_ context.Context, node *domain.Node, nctx *executor.NodeContext) (*executor.Result, error) {
	key := configString(node, "key")
	if key == "" {
		return nil, missingConfig(node, "key")
	}

	if configString(node, "operation") == "write" {
		value := nctx.PreviousOutput
		if field := configString(node, "value_field"); field != "" {
			prev, _ := nctx.PreviousOutput.(map[string]any)
			value = prev[field]
		}
		nctx.Memory.Set(key, value)
		return &executor.Result{Output: map[string]any{"written": true, "key": key}}, nil
	}

	value, _ := nctx.Memory.Get(key)
	return &executor.Result{Output: map[string]any{"key": key, "value": value}}, nil
}
