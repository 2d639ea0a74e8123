package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// MemoryStore implements Store in process memory. Records are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   map[string]*domain.Run
	order  []string
	steps  map[string]*domain.Step
	events []domain.StepEvent
	ids    map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:  make(map[string]*domain.Run),
		steps: make(map[string]*domain.Step),
		ids:   make(map[string]struct{}),
	}
}

// Runs returns the run repository.
func (s *MemoryStore) Runs() RunRepository { return memoryRuns{s} }

// Steps returns the step repository.
func (s *MemoryStore) Steps() StepRepository { return memorySteps{s} }

// Events returns the event repository.
func (s *MemoryStore) Events() EventRepository { return memoryEvents{s} }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

type memoryRuns struct{ s *MemoryStore }

func (r memoryRuns) Create(ctx context.Context, run *domain.Run) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.runs[run.RunID]; ok {
		return errors.Errorf("run %s already exists", run.RunID)
	}
	cp := copyRun(run)
	r.s.runs[run.RunID] = &cp
	r.s.order = append(r.s.order, run.RunID)
	return nil
}

func (r memoryRuns) FindByID(ctx context.Context, runID string) (*domain.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	run, ok := r.s.runs[runID]
	if !ok {
		return nil, nil
	}
	cp := copyRun(run)
	return &cp, nil
}

func (r memoryRuns) FindAll(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Run
	for i := len(r.s.order) - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, copyRun(r.s.runs[r.s.order[i]]))
	}
	return out, nil
}

func (r memoryRuns) FindByState(ctx context.Context, state domain.RunState) ([]domain.Run, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Run
	for i := len(r.s.order) - 1; i >= 0; i-- {
		if run := r.s.runs[r.s.order[i]]; run.State == state {
			out = append(out, copyRun(run))
		}
	}
	return out, nil
}

func (r memoryRuns) UpdateState(ctx context.Context, runID string, state domain.RunState) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok || run.CompletedAt != nil {
		return false, nil
	}
	run.State = state
	return true, nil
}

func (r memoryRuns) Complete(ctx context.Context, runID string, c domain.RunCompletion) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	run, ok := r.s.runs[runID]
	if !ok || run.CompletedAt != nil {
		return false, nil
	}
	completedAt := c.CompletedAt
	run.State = c.State
	run.Output = copyMap(c.Output)
	run.TotalTokens = c.TotalTokens
	run.TotalCostUSD = c.TotalCostUSD
	run.DurationMs = c.DurationMs
	run.Error = c.Error
	run.CompletedAt = &completedAt
	return true, nil
}

type memorySteps struct{ s *MemoryStore }

func (r memorySteps) Create(ctx context.Context, step *domain.Step) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insert(step)
}

func (r memorySteps) CreateMany(ctx context.Context, steps []domain.Step) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[string]struct{}, len(steps))
	for i := range steps {
		id := steps[i].StepID
		if _, dup := seen[id]; dup {
			return errors.Errorf("step %s already exists", id)
		}
		if err := r.check(&steps[i]); err != nil {
			return err
		}
		seen[id] = struct{}{}
	}
	for i := range steps {
		cp := steps[i]
		r.s.steps[cp.StepID] = &cp
	}
	return nil
}

func (r memorySteps) check(step *domain.Step) error {
	if _, ok := r.s.steps[step.StepID]; ok {
		return errors.Errorf("step %s already exists", step.StepID)
	}
	if _, ok := r.s.runs[step.RunID]; !ok {
		return errors.Errorf("step %s references unknown run %s", step.StepID, step.RunID)
	}
	return nil
}

func (r memorySteps) insert(step *domain.Step) error {
	if err := r.check(step); err != nil {
		return err
	}
	cp := *step
	r.s.steps[step.StepID] = &cp
	return nil
}

func (r memorySteps) FindByID(ctx context.Context, stepID string) (*domain.Step, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	step, ok := r.s.steps[stepID]
	if !ok {
		return nil, nil
	}
	cp := *step
	return &cp, nil
}

func (r memorySteps) FindByRunID(ctx context.Context, runID string) ([]domain.Step, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Step
	for _, step := range r.s.steps {
		if step.RunID == runID {
			out = append(out, *step)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r memorySteps) UpdateState(ctx context.Context, stepID string, state domain.StepState, u domain.StepUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	step, ok := r.s.steps[stepID]
	if !ok {
		return nil
	}
	step.State = state
	if u.StartedAt != nil {
		t := *u.StartedAt
		step.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		step.CompletedAt = &t
	}
	if u.DurationMs != nil {
		step.DurationMs = *u.DurationMs
	}
	if u.RetryCount != nil {
		step.RetryCount = *u.RetryCount
	}
	return nil
}

type memoryEvents struct{ s *MemoryStore }

func (r memoryEvents) Append(ctx context.Context, event *domain.StepEvent) error {
	return r.AppendMany(ctx, []domain.StepEvent{*event})
}

func (r memoryEvents) AppendMany(ctx context.Context, events []domain.StepEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, ok := r.s.ids[ev.EventID]; ok {
			return errors.Errorf("event %s already exists", ev.EventID)
		}
		if _, ok := seen[ev.EventID]; ok {
			return errors.Errorf("event %s already exists", ev.EventID)
		}
		if _, ok := r.s.runs[ev.RunID]; !ok {
			return errors.Errorf("event %s references unknown run %s", ev.EventID, ev.RunID)
		}
		seen[ev.EventID] = struct{}{}
	}
	for _, ev := range events {
		r.s.ids[ev.EventID] = struct{}{}
		r.s.events = append(r.s.events, copyEvent(ev))
	}
	return nil
}

func (r memoryEvents) FindByRunID(ctx context.Context, runID string) ([]domain.StepEvent, error) {
	return r.filter(func(ev *domain.StepEvent) bool { return ev.RunID == runID }), nil
}

func (r memoryEvents) FindByStepID(ctx context.Context, stepID string) ([]domain.StepEvent, error) {
	return r.filter(func(ev *domain.StepEvent) bool { return ev.StepID == stepID }), nil
}

func (r memoryEvents) FindFromStep(ctx context.Context, runID, stepID string) ([]domain.StepEvent, error) {
	stepEvents := r.filter(func(ev *domain.StepEvent) bool { return ev.RunID == runID && ev.StepID == stepID })
	if len(stepEvents) == 0 {
		return nil, nil
	}
	pivot := stepEvents[0].Timestamp
	return r.filter(func(ev *domain.StepEvent) bool {
		return ev.RunID == runID && !ev.Timestamp.Before(pivot)
	}), nil
}

func (r memoryEvents) GetRunStats(ctx context.Context, runID string) (*domain.RunStats, error) {
	var stats domain.RunStats
	for _, ev := range r.filter(func(ev *domain.StepEvent) bool { return ev.RunID == runID }) {
		stats.TotalTokens += ev.Tokens
		stats.TotalCostUSD += ev.CostUSD
		stats.EventCount++
		if ev.Error != nil {
			stats.ErrorCount++
		}
	}
	return &stats, nil
}

// filter returns matching events ordered by timestamp, then insertion.
func (r memoryEvents) filter(match func(*domain.StepEvent) bool) []domain.StepEvent {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.StepEvent
	for i := range r.s.events {
		if match(&r.s.events[i]) {
			out = append(out, copyEvent(r.s.events[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func copyRun(run *domain.Run) domain.Run {
	cp := *run
	cp.Input = copyMap(run.Input)
	cp.Output = copyMap(run.Output)
	return cp
}

// copyMap deep-copies through JSON; maps here only ever hold JSON values.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return m
	}
	return out
}

func copyEvent(ev domain.StepEvent) domain.StepEvent {
	ev.InputSnapshot = append(json.RawMessage(nil), ev.InputSnapshot...)
	ev.Output = append(json.RawMessage(nil), ev.Output...)
	return ev
}
