package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

func newTestEntry(state domain.RunState) *activeRun {
	ctx, cancel := context.WithCancel(context.Background())
	return &activeRun{runID: "run_1", ctx: ctx, cancel: cancel, state: state}
}

func TestAwaitRunnableStopsOnClaimedCancel(t *testing.T) {
	r := &Runtime{pauseInterval: time.Millisecond}

	entry := newTestEntry(domain.RunStateRunning)
	defer entry.cancel()
	assert.True(t, r.awaitRunnable(entry))

	// CancelRun claims the terminal state before cancelling the context.
	assert.True(t, entry.finish(domain.RunStateCancelled))
	assert.NoError(t, entry.ctx.Err())
	assert.False(t, r.awaitRunnable(entry))
}

func TestAwaitRunnableStopsWhilePaused(t *testing.T) {
	r := &Runtime{pauseInterval: time.Millisecond}
	entry := newTestEntry(domain.RunStatePaused)
	defer entry.cancel()

	done := make(chan bool, 1)
	go func() { done <- r.awaitRunnable(entry) }()

	select {
	case <-done:
		t.Fatal("paused run must block")
	case <-time.After(20 * time.Millisecond):
	}
	assert.True(t, entry.finish(domain.RunStateCancelled))

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("awaitRunnable did not return after cancellation was claimed")
	}
}

func TestStoppedAfterContextCancel(t *testing.T) {
	entry := newTestEntry(domain.RunStateRunning)
	assert.False(t, entry.stopped())
	entry.cancel()
	assert.True(t, entry.stopped())
}
