// Package builtin provides the executors for the builtin node types.
package builtin

import (
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/adapter/llm"
	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/executor"
	"github.com/enisisuko/ICee-agent/internal/tools"
)

// Deps are the collaborators of the builtin executors. Zero fields fall back
// to defaults, except Provider: without it no LLM executor is registered.
type Deps struct {
	Provider  llm.Provider
	Tools     ToolInvoker
	Policy    PolicyEvaluator
	Planner   Planner
	Reflector Reflector
	Logger    *zap.Logger
}

// RegisterDefaults registers an executor for every builtin node type.
func RegisterDefaults(reg *executor.Registry, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tools == nil {
		deps.Tools = tools.DefaultRegistry
	}
	if deps.Planner == nil {
		deps.Planner = SimplePlanner
	}
	if deps.Reflector == nil {
		deps.Reflector = HeuristicReflector
	}

	execs := map[domain.NodeType]executor.Executor{
		domain.NodeTypeInput:      InputExecutor{},
		domain.NodeTypeOutput:     OutputExecutor{},
		domain.NodeTypeTool:       NewToolExecutor(deps.Tools, deps.Policy, deps.Logger.Named("tool")),
		domain.NodeTypeMemory:     MemoryExecutor{},
		domain.NodeTypePlanning:   NewPlanningExecutor(deps.Planner),
		domain.NodeTypeReflection: NewReflectionExecutor(deps.Reflector),
	}
	if deps.Provider != nil {
		execs[domain.NodeTypeLLM] = NewLLMExecutor(deps.Provider, deps.Logger.Named("llm"))
	}
	for t, e := range execs {
		if err := reg.Register(t, e); err != nil {
			return err
		}
	}
	return nil
}
