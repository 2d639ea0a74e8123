package runtime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
	"github.com/enisisuko/ICee-agent/internal/executor"
)

// execute runs the graph's nodes in array order. It is the only goroutine
// writing the run's counters, and it always removes the run from the active
// table before returning.
func (r *Runtime) execute(ctx context.Context, entry *activeRun, graph *domain.Graph, input map[string]any, firstSequence int) {
	defer r.wg.Done()
	defer r.remove(entry.runID)
	defer func() {
		if p := recover(); p != nil {
			err := errs.New(domain.ErrorTypeSystem, fmt.Sprintf("run task panicked: %v", p), errs.WithRun(entry.runID))
			r.logger.Error("run task panicked", zap.String("run_id", entry.runID), zap.Any("panic", p))
			r.failRun(ctx, entry, "", err)
		}
	}()

	memory := executor.NewMemory()
	var previous any
	var failedStep string
	var runErr error

	for i := range graph.Nodes {
		if !r.awaitRunnable(entry) {
			break
		}
		if err := r.checkBudget(entry, graph.Budget); err != nil {
			runErr = err
			break
		}
		node := &graph.Nodes[i]
		out, stepID, err := r.runNode(ctx, entry, node, firstSequence+i, memory, previous, input)
		if err != nil {
			failedStep, runErr = stepID, err
			break
		}
		previous = out
	}

	if entry.ctx.Err() != nil {
		// CancelRun already recorded the terminal state.
		return
	}
	if runErr != nil {
		r.failRun(ctx, entry, failedStep, runErr)
		return
	}
	r.completeRun(ctx, entry, previous)
}

// awaitRunnable blocks while the run is paused. It reports false once the
// run has been cancelled, including a cancellation claimed by CancelRun whose
// context has not been cancelled yet.
func (r *Runtime) awaitRunnable(entry *activeRun) bool {
	if entry.stopped() {
		return false
	}
	if entry.getState() != domain.RunStatePaused {
		return true
	}

	ticker := time.NewTicker(r.pauseInterval)
	defer ticker.Stop()
	for {
		select {
		case <-entry.ctx.Done():
			return false
		case <-ticker.C:
			if entry.getState() != domain.RunStatePaused {
				return !entry.stopped()
			}
		}
	}
}

func (r *Runtime) checkBudget(entry *activeRun, budget *domain.Budget) error {
	if budget == nil {
		return nil
	}
	tokens, cost := entry.totals()
	elapsed := r.now().Sub(entry.startedAt).Milliseconds()

	var reason string
	var limit, used any
	switch {
	case budget.MaxTokens > 0 && tokens > budget.MaxTokens:
		reason, limit, used = "max_tokens", budget.MaxTokens, tokens
	case budget.MaxCostUSD > 0 && cost > budget.MaxCostUSD:
		reason, limit, used = "max_cost_usd", budget.MaxCostUSD, cost
	case budget.MaxTimeMs > 0 && elapsed > budget.MaxTimeMs:
		reason, limit, used = "max_time_ms", budget.MaxTimeMs, elapsed
	default:
		return nil
	}
	return errs.New(domain.ErrorTypeBudgetExceeded, "run budget exceeded: "+reason,
		errs.WithRun(entry.runID),
		errs.WithContext("limit", limit),
		errs.WithContext("used", used))
}

// runNode persists a step for node, runs it and records its event. It
// returns the node output and the step id.
func (r *Runtime) runNode(ctx context.Context, entry *activeRun, node *domain.Node, sequence int, memory *executor.Memory, previous any, input map[string]any) (any, string, error) {
	runID := entry.runID
	step := &domain.Step{
		StepID:    domain.NewStepID(),
		RunID:     runID,
		NodeID:    node.ID,
		NodeType:  node.Type,
		NodeLabel: node.Label,
		State:     domain.StepStatePending,
		Sequence:  sequence,
	}
	if err := r.steps.Create(ctx, step); err != nil {
		return nil, "", errs.Wrap(err, domain.ErrorTypePersistence, errs.WithRun(runID), errs.WithNode(node.ID))
	}
	entry.setCurrentNode(node.ID)

	r.emit(domain.NotificationStepStarted, runID, domain.StepStartedPayload{
		RunID:     runID,
		StepID:    step.StepID,
		NodeID:    node.ID,
		NodeType:  node.Type,
		NodeLabel: node.Label,
		Sequence:  sequence,
		StartedAt: r.now(),
	})

	var persistErr error
	var event *domain.StepEvent
	onState := func(state domain.StepState, u domain.StepUpdate) {
		if err := r.steps.UpdateState(ctx, step.StepID, state, u); err != nil {
			r.logger.Error("failed to persist step state",
				zap.String("run_id", runID), zap.String("step_id", step.StepID), zap.Error(err))
			if persistErr == nil {
				persistErr = err
			}
		}
	}
	onEvent := func(ev *domain.StepEvent) { event = ev }

	nctx := &executor.NodeContext{
		RunID:          runID,
		StepID:         step.StepID,
		Memory:         memory,
		PreviousOutput: previous,
		GlobalInput:    input,
	}
	res, runErr := r.runner.Run(ctx, node, nctx, onEvent, onState)

	if event != nil {
		if err := r.events.Append(ctx, event); err != nil {
			r.logger.Error("failed to append step event",
				zap.String("run_id", runID), zap.String("step_id", step.StepID), zap.Error(err))
			if persistErr == nil {
				persistErr = err
			}
		}
		entry.addUsage(event.Tokens, event.CostUSD)
		r.emit(domain.NotificationStepCompleted, runID, domain.StepCompletedPayload{
			RunID:    runID,
			StepID:   step.StepID,
			NodeID:   node.ID,
			NodeType: node.Type,
			Event:    event,
		})
	}

	if runErr != nil {
		return nil, step.StepID, runErr
	}
	if persistErr != nil {
		return nil, step.StepID, errs.Wrap(persistErr, domain.ErrorTypePersistence, errs.WithRun(runID), errs.WithNode(node.ID))
	}
	if res == nil {
		return nil, step.StepID, nil
	}
	return res.Output, step.StepID, nil
}

func (r *Runtime) completeRun(ctx context.Context, entry *activeRun, previous any) {
	if !entry.finish(domain.RunStateCompleted) {
		return
	}
	now := r.now()
	tokens, cost := entry.totals()
	duration := now.Sub(entry.startedAt).Milliseconds()
	output := runOutput(previous)

	if _, err := r.runs.Complete(ctx, entry.runID, domain.RunCompletion{
		State:        domain.RunStateCompleted,
		Output:       output,
		TotalTokens:  tokens,
		TotalCostUSD: cost,
		DurationMs:   duration,
		CompletedAt:  now,
	}); err != nil {
		r.logger.Error("failed to persist run completion", zap.String("run_id", entry.runID), zap.Error(err))
	}
	r.emit(domain.NotificationRunCompleted, entry.runID, domain.RunCompletedPayload{
		RunID:        entry.runID,
		State:        domain.RunStateCompleted,
		Output:       output,
		TotalTokens:  tokens,
		TotalCostUSD: cost,
		DurationMs:   duration,
		CompletedAt:  now,
	})
	r.logger.Info("run completed",
		zap.String("run_id", entry.runID),
		zap.Int64("duration_ms", duration),
		zap.Int("total_tokens", tokens))
}

func (r *Runtime) failRun(ctx context.Context, entry *activeRun, stepID string, cause error) {
	if !entry.finish(domain.RunStateFailed) {
		return
	}
	now := r.now()
	tokens, cost := entry.totals()
	duration := now.Sub(entry.startedAt).Milliseconds()
	envelope := errs.EnvelopeOf(cause, errs.WithRun(entry.runID))

	if _, err := r.runs.Complete(ctx, entry.runID, domain.RunCompletion{
		State:        domain.RunStateFailed,
		TotalTokens:  tokens,
		TotalCostUSD: cost,
		DurationMs:   duration,
		Error:        envelope,
		CompletedAt:  now,
	}); err != nil {
		r.logger.Error("failed to persist run failure", zap.String("run_id", entry.runID), zap.Error(err))
	}
	r.emit(domain.NotificationError, entry.runID, domain.ErrorPayload{RunID: entry.runID, StepID: stepID, Error: envelope})
	r.emit(domain.NotificationRunCompleted, entry.runID, domain.RunCompletedPayload{
		RunID:        entry.runID,
		State:        domain.RunStateFailed,
		TotalTokens:  tokens,
		TotalCostUSD: cost,
		DurationMs:   duration,
		CompletedAt:  now,
	})
	r.logger.Error("run failed",
		zap.String("run_id", entry.runID),
		zap.String("error_type", string(envelope.Type)),
		zap.String("error", envelope.Message))
}

// runOutput shapes the last node output as the run result.
func runOutput(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": v}
}
