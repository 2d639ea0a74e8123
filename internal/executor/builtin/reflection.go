package builtin

import (
	"context"
	"fmt"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
	"github.com/enisisuko/ICee-agent/internal/executor"
)

// Reflection is a judgement on a previous output.
type Reflection struct {
	ShouldRetry    bool
	Confidence     float64
	Reasoning      string
	ModifiedOutput any
}

// Reflector evaluates input against a confidence threshold.
type Reflector func(ctx context.Context, input any, threshold float64) (*Reflection, error)

// ReflectionExecutor evaluates the previous output. The threshold comes from
// guardrails.confidence_threshold, then config.confidence_threshold, then 0.7.
type ReflectionExecutor struct {
	reflect Reflector
}

// NewReflectionExecutor creates a reflection executor using reflect.
func NewReflectionExecutor(reflect Reflector) *ReflectionExecutor {
	return &ReflectionExecutor{reflect: reflect}
}

func (e *ReflectionExecutor) Execute(ctx context.Context, node *domain.Node, nctx *executor.NodeContext) (*executor.Result, error) {
	threshold := domain.DefaultConfidenceThreshold
	if node.Guardrails != nil && node.Guardrails.ConfidenceThreshold != nil {
		threshold = *node.Guardrails.ConfidenceThreshold
	} else if f, ok := configFloat(node, "confidence_threshold"); ok {
		threshold = f
	}

	r, err := e.reflect(ctx, nctx.PreviousOutput, threshold)
	if err != nil {
		return nil, errs.FromError(err, domain.ErrorTypeSystem, errs.WithNode(node.ID))
	}
	return &executor.Result{Output: map[string]any{
		"should_retry":    r.ShouldRetry,
		"confidence":      r.Confidence,
		"reasoning":       r.Reasoning,
		"modified_output": r.ModifiedOutput,
		"original":        nctx.PreviousOutput,
	}}, nil
}

// HeuristicReflector scores empty output 0 and anything else 1.
func HeuristicReflector(_ context.Context, input any, threshold float64) (*Reflection, error) {
	confidence := 1.0
	reasoning := "output present"
	if isEmpty(input) {
		confidence = 0
		reasoning = "output is empty"
	}
	return &Reflection{
		ShouldRetry: confidence < threshold,
		Confidence:  confidence,
		Reasoning:   fmt.Sprintf("%s (threshold %.2f)", reasoning, threshold),
	}, nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	}
	return false
}
