package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// RunSnapshot is a point-in-time view of an active run.
type RunSnapshot struct {
	RunID         string          `json:"run_id"`
	GraphID       string          `json:"graph_id"`
	State         domain.RunState `json:"state"`
	CurrentNodeID string          `json:"current_node_id,omitempty"`
	TotalTokens   int             `json:"total_tokens"`
	TotalCostUSD  float64         `json:"total_cost_usd"`
	StartedAt     time.Time       `json:"started_at"`
}

// activeRun is the in-memory state of one executing run. Counters are
// written only by the run's own task; state is shared with the control
// operations.
type activeRun struct {
	runID     string
	graphID   string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	mu            sync.Mutex
	state         domain.RunState
	currentNodeID string
	totalTokens   int
	totalCostUSD  float64
	terminated    bool
}

func (a *activeRun) getState() domain.RunState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *activeRun) setState(s domain.RunState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.terminated {
		a.state = s
	}
}

func (a *activeRun) setCurrentNode(nodeID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.currentNodeID = nodeID
}

func (a *activeRun) addUsage(tokens int, cost float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalTokens += tokens
	a.totalCostUSD += cost
}

func (a *activeRun) totals() (int, float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalTokens, a.totalCostUSD
}

// finish claims the single terminal transition of the run. Only the first
// caller gets true.
func (a *activeRun) finish(state domain.RunState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.terminated {
		return false
	}
	a.terminated = true
	a.state = state
	return true
}

// stopped reports whether the run must not start another node: its context
// is cancelled or a terminal transition has been claimed.
func (a *activeRun) stopped() bool {
	if a.ctx.Err() != nil {
		return true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminated
}

func (a *activeRun) snapshot() RunSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return RunSnapshot{
		RunID:         a.runID,
		GraphID:       a.graphID,
		State:         a.state,
		CurrentNodeID: a.currentNodeID,
		TotalTokens:   a.totalTokens,
		TotalCostUSD:  a.totalCostUSD,
		StartedAt:     a.startedAt,
	}
}
