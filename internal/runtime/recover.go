package runtime

import (
	"context"

	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
)

// interruptedStates are the non-terminal states a run can be stored in.
var interruptedStates = []domain.RunState{domain.RunStateIdle, domain.RunStateRunning, domain.RunStatePaused}

// RecoverInterrupted fails every stored run left in a non-terminal state that
// this runtime does not track, such as runs that were executing when a
// previous process exited. It returns the number of runs failed. Call it at
// startup, before other processes share the store.
func (r *Runtime) RecoverInterrupted(ctx context.Context) (int, error) {
	recovered := 0
	for _, state := range interruptedStates {
		runs, err := r.runs.FindByState(ctx, state)
		if err != nil {
			return recovered, errs.Wrap(err, domain.ErrorTypePersistence)
		}
		for i := range runs {
			run := &runs[i]
			if r.lookup(run.RunID) != nil {
				continue
			}
			if r.failInterrupted(ctx, run) {
				recovered++
			}
		}
	}
	if recovered > 0 {
		r.logger.Warn("failed interrupted runs", zap.Int("count", recovered))
	}
	return recovered, nil
}

func (r *Runtime) failInterrupted(ctx context.Context, run *domain.Run) bool {
	now := r.now()
	envelope := errs.EnvelopeOf(errs.Newf(domain.ErrorTypeSystem, "run interrupted while %s", run.State), errs.WithRun(run.RunID))
	var duration int64
	if run.StartedAt != nil {
		duration = now.Sub(*run.StartedAt).Milliseconds()
	}

	ok, err := r.runs.Complete(ctx, run.RunID, domain.RunCompletion{
		State:        domain.RunStateFailed,
		TotalTokens:  run.TotalTokens,
		TotalCostUSD: run.TotalCostUSD,
		DurationMs:   duration,
		Error:        envelope,
		CompletedAt:  now,
	})
	if err != nil {
		r.logger.Error("failed to fail interrupted run", zap.String("run_id", run.RunID), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	r.emit(domain.NotificationRunCompleted, run.RunID, domain.RunCompletedPayload{
		RunID:        run.RunID,
		State:        domain.RunStateFailed,
		TotalTokens:  run.TotalTokens,
		TotalCostUSD: run.TotalCostUSD,
		DurationMs:   duration,
		CompletedAt:  now,
	})
	r.logger.Info("interrupted run failed", zap.String("run_id", run.RunID), zap.String("previous_state", string(run.State)))
	return true
}
