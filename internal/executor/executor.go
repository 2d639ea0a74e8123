// Package executor defines the node executor contract, the registry that maps
// node types to executors and the retrying runner that drives a single node.
package executor

import (
	"context"
	"sync"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// Executor runs one node. Implementations must not touch persistence.
type Executor interface {
	Execute(ctx context.Context, node *domain.Node, nctx *NodeContext) (*Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, node *domain.Node, nctx *NodeContext) (*Result, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, node *domain.Node, nctx *NodeContext) (*Result, error) {
	return f(ctx, node, nctx)
}

// Result is what an executor produced for a node.
type Result struct {
	Output         any
	Tokens         int
	CostUSD        float64
	RenderedPrompt string
	ProviderMeta   *domain.ProviderMeta
}

// NodeContext is the per-invocation input handed to an executor.
type NodeContext struct {
	RunID          string
	StepID         string
	Memory         *Memory
	PreviousOutput any
	GlobalInput    map[string]any
}

// Memory is a run-scoped key/value store shared by the nodes of one run.
type Memory struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]any)}
}

// Get returns the value stored under key.
func (m *Memory) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

// Set stores value under key.
func (m *Memory) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

// Snapshot returns a shallow copy of all entries.
func (m *Memory) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = v
	}
	return out
}
