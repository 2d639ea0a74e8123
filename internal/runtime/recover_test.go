package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/executor"
)

func TestRecoverInterrupted(t *testing.T) {
	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.script.on("b", func(ctx context.Context, _ *domain.Node, _ *executor.NodeContext) (*executor.Result, error) {
		<-gate
		return &executor.Result{Output: "done"}, nil
	})

	ctx := context.Background()
	started := time.Now().Add(-time.Minute)
	completed := time.Now()
	for _, run := range []*domain.Run{
		{RunID: "run_running", GraphID: "g1", State: domain.RunStateRunning, TotalTokens: 7, StartedAt: &started, CreatedAt: started},
		{RunID: "run_paused", GraphID: "g1", State: domain.RunStatePaused, StartedAt: &started, CreatedAt: started},
		{RunID: "run_done", GraphID: "g1", State: domain.RunStateCompleted, StartedAt: &started, CompletedAt: &completed, CreatedAt: started},
	} {
		require.NoError(t, h.store.Runs().Create(ctx, run))
	}

	liveID, err := h.rt.StartRun(ctx, testGraph("a", "b"), nil)
	require.NoError(t, err)

	n, err := h.rt.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	running := h.run(t, "run_running")
	assert.Equal(t, domain.RunStateFailed, running.State)
	require.NotNil(t, running.Error)
	assert.Equal(t, domain.ErrorTypeSystem, running.Error.Type)
	assert.Equal(t, 7, running.TotalTokens)
	assert.GreaterOrEqual(t, running.DurationMs, int64(time.Minute/time.Millisecond))

	assert.Equal(t, domain.RunStateFailed, h.run(t, "run_paused").State)
	assert.Equal(t, domain.RunStateCompleted, h.run(t, "run_done").State)
	assert.Equal(t, domain.RunStateRunning, h.run(t, liveID).State)
	assert.Len(t, h.sink.ofType("run_running", domain.NotificationRunCompleted), 1)

	n, err = h.rt.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	close(gate)
	assert.Equal(t, domain.RunStateCompleted, drainUntil(t, h, liveID).State)
}

// drainUntil waits for run_completed of runID, skipping the recovered runs.
func drainUntil(t *testing.T, h *harness, runID string) domain.RunCompletedPayload {
	t.Helper()
	for {
		p := h.sink.waitCompleted(t)
		if p.RunID == runID {
			return p
		}
	}
}
