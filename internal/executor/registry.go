package executor

import (
	"fmt"
	"sort"
	"sync"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
)

// Registry stores executors keyed by node type.
type Registry struct {
	mu        sync.RWMutex
	executors map[domain.NodeType]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[domain.NodeType]Executor),
	}
}

// Register adds an executor for a node type.
func (r *Registry) Register(nodeType domain.NodeType, exec Executor) error {
	if nodeType == "" {
		return fmt.Errorf("node type is required")
	}
	if exec == nil {
		return fmt.Errorf("executor is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[nodeType]; exists {
		return fmt.Errorf("executor already registered for %s", nodeType)
	}
	r.executors[nodeType] = exec
	return nil
}

// MustRegister adds an executor or panics.
func (r *Registry) MustRegister(nodeType domain.NodeType, exec Executor) {
	if err := r.Register(nodeType, exec); err != nil {
		panic(err)
	}
}

// Lookup returns the executor for a node type. A missing executor is a
// configuration error, never retried.
func (r *Registry) Lookup(nodeType domain.NodeType) (Executor, error) {
	r.mu.RLock()
	exec := r.executors[nodeType]
	r.mu.RUnlock()
	if exec == nil {
		return nil, errs.Newf(domain.ErrorTypeConfig, "no executor registered for node type %q", nodeType)
	}
	return exec, nil
}

// Types lists registered node types in sorted order.
func (r *Registry) Types() []domain.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.NodeType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
