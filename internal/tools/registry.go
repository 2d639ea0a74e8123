// Package tools holds the server-side tools callable from TOOL nodes.
package tools

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Func runs one tool call. args is the JSON-encoded tool input.
type Func func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// namePattern accepts dotted lower-case names such as "text.upper".
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// ErrInvalidName is returned when registering a tool under a malformed name.
var ErrInvalidName = errors.New("invalid tool name")

// ErrUnknownTool is returned when no tool is registered under Name.
type ErrUnknownTool struct {
	Name string
}

func (e ErrUnknownTool) Error() string {
	return "unknown tool " + e.Name
}

// Registry maps tool names to their implementations.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Func
}

// DefaultRegistry holds the builtin tools.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Func)}
}

// Register adds fn under name. Names must be unique and match namePattern.
func (r *Registry) Register(name string, fn Func) error {
	if !namePattern.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	if fn == nil {
		return errors.Errorf("tool %s has no implementation", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[name]; dup {
		return errors.Errorf("tool %s already registered", name)
	}
	r.tools[name] = fn
	return nil
}

// MustRegister is Register for init-time wiring; it panics on error.
func (r *Registry) MustRegister(name string, fn Func) {
	if err := r.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tools[name]
	return fn, ok
}

// Execute calls the named tool. Non-empty args must be valid JSON.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	fn, ok := r.Lookup(name)
	if !ok {
		return nil, ErrUnknownTool{Name: name}
	}
	if len(args) > 0 && !json.Valid(args) {
		return nil, errors.Errorf("tool %s: arguments are not valid JSON", name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(ctx, args)
}

// Names lists the registered tools in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
