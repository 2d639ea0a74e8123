package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
	"github.com/enisisuko/ICee-agent/internal/executor"
)

// Planning modes.
const (
	PlanModeStatic      = "static"
	PlanModeProgressive = "progressive"
)

// Task is one planned unit of work.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
}

// Plan is the output of a planning node.
type Plan struct {
	Tasks      []Task `json:"tasks"`
	TotalSteps int    `json:"total_steps"`
	Strategy   string `json:"strategy"`
}

// Planner turns a goal into a plan.
type Planner func(ctx context.Context, goal any, mode string) (*Plan, error)

// PlanningExecutor plans from the previous output, or the global input for
// the first node. Config keys: mode (static or progressive).
type PlanningExecutor struct {
	plan Planner
}

// NewPlanningExecutor creates a planning executor using plan.
func NewPlanningExecutor(plan Planner) *PlanningExecutor {
	return &PlanningExecutor{plan: plan}
}

func (e *PlanningExecutor) Execute(ctx context.Context, node *domain.Node, nctx *executor.NodeContext) (*executor.Result, error) {
	mode := configString(node, "mode")
	if mode == "" {
		mode = PlanModeStatic
	}
	if mode != PlanModeStatic && mode != PlanModeProgressive {
		return nil, errs.Newf(domain.ErrorTypeConfig, "planning node %q has unknown mode %q", node.ID, mode)
	}

	var goal any = nctx.PreviousOutput
	if goal == nil {
		goal = nctx.GlobalInput
	}
	plan, err := e.plan(ctx, goal, mode)
	if err != nil {
		return nil, errs.FromError(err, domain.ErrorTypeSystem, errs.WithNode(node.ID))
	}
	out, err := toMap(plan)
	if err != nil {
		return nil, errs.Wrap(err, domain.ErrorTypeValidation, errs.WithNode(node.ID))
	}
	return &executor.Result{Output: out}, nil
}

// SimplePlanner splits the goal text into one task per sentence. In
// progressive mode only the first task is emitted while total_steps still
// counts all of them.
func SimplePlanner(_ context.Context, goal any, mode string) (*Plan, error) {
	text := goalText(goal)
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == ';' || r == '\n'
	})

	var tasks []Task
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tasks = append(tasks, Task{
			ID:          fmt.Sprintf("task_%d", len(tasks)+1),
			Description: p,
			Priority:    len(tasks) + 1,
		})
	}
	if len(tasks) == 0 {
		tasks = []Task{{ID: "task_1", Description: text, Priority: 1}}
	}

	total := len(tasks)
	if mode == PlanModeProgressive {
		tasks = tasks[:1]
	}
	return &Plan{Tasks: tasks, TotalSteps: total, Strategy: "sequential"}, nil
}

func goalText(goal any) string {
	switch g := goal.(type) {
	case string:
		return g
	case map[string]any:
		for _, key := range []string{"goal", "query", "text", "prompt"} {
			if s, ok := g[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return stringify(goal)
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
