// Package runtime drives graph runs: sequential node execution, pause,
// resume, cancellation and forking, with every step persisted to the trace.
package runtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
	"github.com/enisisuko/ICee-agent/internal/executor"
	"github.com/enisisuko/ICee-agent/internal/notify"
	"github.com/enisisuko/ICee-agent/internal/repository"
)

// DefaultPauseInterval is how often a paused run checks whether it may continue.
const DefaultPauseInterval = 500 * time.Millisecond

var (
	// ErrRunNotActive is returned when a control operation targets a run
	// that is not tracked by this runtime.
	ErrRunNotActive = errors.New("run is not active")
	// ErrRunNotFound is returned when a persisted run does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidState is returned when a transition is not allowed from the
	// run's current state.
	ErrInvalidState = errors.New("invalid run state for operation")
)

// NodeRunner executes a single node with retries.
type NodeRunner interface {
	Run(ctx context.Context, node *domain.Node, nctx *executor.NodeContext, onEvent executor.EventFunc, onState executor.StateChangeFunc) (*executor.Result, error)
}

// Runtime owns the active-run table and the background task of every run it starts.
type Runtime struct {
	runner        NodeRunner
	runs          repository.RunRepository
	steps         repository.StepRepository
	events        repository.EventRepository
	sink          notify.Sink
	logger        *zap.Logger
	pauseInterval time.Duration
	now           func() time.Time

	mu     sync.Mutex
	active map[string]*activeRun
	wg     sync.WaitGroup
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithPauseInterval sets how often paused runs poll for resumption.
func WithPauseInterval(d time.Duration) Option {
	return func(r *Runtime) {
		if d > 0 {
			r.pauseInterval = d
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// New creates a runtime. A nil sink discards notifications.
func New(runner NodeRunner, runs repository.RunRepository, steps repository.StepRepository, events repository.EventRepository, sink notify.Sink, opts ...Option) *Runtime {
	if sink == nil {
		sink = notify.Nop
	}
	r := &Runtime{
		runner:        runner,
		runs:          runs,
		steps:         steps,
		events:        events,
		sink:          sink,
		logger:        zap.NewNop(),
		pauseInterval: DefaultPauseInterval,
		now:           time.Now,
		active:        make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// StartRun persists a new run and executes graph in the background. The
// returned run id is usable immediately; progress is observable only through
// the notification sink and the repositories.
func (r *Runtime) StartRun(ctx context.Context, graph *domain.Graph, input map[string]any) (string, error) {
	if err := checkRunnable(graph); err != nil {
		return "", err
	}
	now := r.now()
	run := &domain.Run{
		RunID:        domain.NewRunID(),
		GraphID:      graph.ID,
		GraphVersion: graphVersion(graph),
		State:        domain.RunStateIdle,
		Input:        input,
		StartedAt:    &now,
		CreatedAt:    now,
	}
	if err := r.runs.Create(ctx, run); err != nil {
		return "", errs.Wrap(err, domain.ErrorTypePersistence, errs.WithRun(run.RunID))
	}
	if err := r.launch(ctx, run, graph, 0); err != nil {
		return "", err
	}
	r.logger.Info("run started", zap.String("run_id", run.RunID), zap.String("graph_id", graph.ID))
	return run.RunID, nil
}

// PauseRun moves a RUNNING run to PAUSED. The run stops before its next node
// until it is resumed or cancelled.
func (r *Runtime) PauseRun(ctx context.Context, runID string) error {
	return r.transition(ctx, runID, domain.RunStateRunning, domain.RunStatePaused)
}

// ResumeRun moves a PAUSED run back to RUNNING.
func (r *Runtime) ResumeRun(ctx context.Context, runID string) error {
	return r.transition(ctx, runID, domain.RunStatePaused, domain.RunStateRunning)
}

func (r *Runtime) transition(ctx context.Context, runID string, from, to domain.RunState) error {
	entry := r.lookup(runID)
	if entry == nil {
		return errors.Wrapf(ErrRunNotActive, "run %s", runID)
	}

	entry.mu.Lock()
	if entry.terminated || entry.state != from {
		state := entry.state
		entry.mu.Unlock()
		return errors.Wrapf(ErrInvalidState, "run %s is %s, not %s", runID, state, from)
	}
	entry.state = to
	entry.mu.Unlock()

	if _, err := r.runs.UpdateState(ctx, runID, to); err != nil {
		r.logger.Error("failed to persist run state",
			zap.String("run_id", runID), zap.String("state", string(to)), zap.Error(err))
	}

	now := r.now()
	if to == domain.RunStatePaused {
		r.emit(domain.NotificationRunPaused, runID, domain.RunPausedPayload{RunID: runID, PausedAt: now})
		r.logger.Info("run paused", zap.String("run_id", runID))
	} else {
		r.emit(domain.NotificationRunResumed, runID, domain.RunResumedPayload{RunID: runID, ResumedAt: now})
		r.logger.Info("run resumed", zap.String("run_id", runID))
	}
	return nil
}

// CancelRun stops an active run at its next node boundary. The run is
// recorded as CANCELLED with the totals accumulated so far and removed from
// the active table immediately; a node already executing finishes and its
// step is still recorded.
func (r *Runtime) CancelRun(ctx context.Context, runID string) error {
	entry := r.lookup(runID)
	if entry == nil {
		return errors.Wrapf(ErrRunNotActive, "run %s", runID)
	}
	if !entry.finish(domain.RunStateCancelled) {
		return errors.Wrapf(ErrInvalidState, "run %s is already finishing", runID)
	}
	entry.cancel()

	now := r.now()
	tokens, cost := entry.totals()
	duration := now.Sub(entry.startedAt).Milliseconds()
	if _, err := r.runs.Complete(ctx, runID, domain.RunCompletion{
		State:        domain.RunStateCancelled,
		TotalTokens:  tokens,
		TotalCostUSD: cost,
		DurationMs:   duration,
		CompletedAt:  now,
	}); err != nil {
		r.logger.Error("failed to persist cancellation", zap.String("run_id", runID), zap.Error(err))
	}
	r.emit(domain.NotificationRunCompleted, runID, domain.RunCompletedPayload{
		RunID:        runID,
		State:        domain.RunStateCancelled,
		TotalTokens:  tokens,
		TotalCostUSD: cost,
		DurationMs:   duration,
		CompletedAt:  now,
	})
	r.remove(runID)
	r.logger.Info("run cancelled", zap.String("run_id", runID))
	return nil
}

// ForkRun starts a new run that inherits the steps of parentRunID recorded
// before fromStepID and executes graph from the fork point onward.
//
// When fromStepID is not a step of the parent the fork starts from scratch
// with the full graph. inputOverride replaces the parent's input when non-nil.
func (r *Runtime) ForkRun(ctx context.Context, parentRunID, fromStepID string, graph *domain.Graph, inputOverride map[string]any) (string, error) {
	if err := checkRunnable(graph); err != nil {
		return "", err
	}
	parent, err := r.runs.FindByID(ctx, parentRunID)
	if err != nil {
		return "", errs.Wrap(err, domain.ErrorTypePersistence, errs.WithRun(parentRunID))
	}
	if parent == nil {
		return "", errors.Wrapf(ErrRunNotFound, "parent run %s", parentRunID)
	}
	parentSteps, err := r.steps.FindByRunID(ctx, parentRunID)
	if err != nil {
		return "", errs.Wrap(err, domain.ErrorTypePersistence, errs.WithRun(parentRunID))
	}

	input := parent.Input
	if inputOverride != nil {
		input = inputOverride
	}

	now := r.now()
	run := &domain.Run{
		RunID:          domain.NewRunID(),
		GraphID:        graph.ID,
		GraphVersion:   graphVersion(graph),
		State:          domain.RunStateIdle,
		ParentRunID:    parentRunID,
		ForkFromStepID: fromStepID,
		ParentVersion:  parent.GraphVersion,
		Input:          input,
		StartedAt:      &now,
		CreatedAt:      now,
	}

	forkIndex := -1
	for i := range parentSteps {
		if parentSteps[i].StepID == fromStepID {
			forkIndex = i
			break
		}
	}

	var inherited []domain.Step
	partial := graph
	if forkIndex >= 0 {
		for _, s := range parentSteps[:forkIndex] {
			s.StepID = domain.NewStepID()
			s.RunID = run.RunID
			s.Inherited = true
			inherited = append(inherited, s)
		}
		nodeIndex := graph.NodeIndex(parentSteps[forkIndex].NodeID)
		if nodeIndex < 0 {
			r.logger.Warn("fork step node not in graph, executing full graph",
				zap.String("parent_run_id", parentRunID),
				zap.String("from_step_id", fromStepID),
				zap.String("node_id", parentSteps[forkIndex].NodeID))
		}
		partial = graph.Suffix(nodeIndex)
	} else {
		r.logger.Warn("fork step not found in parent run, starting from scratch",
			zap.String("parent_run_id", parentRunID), zap.String("from_step_id", fromStepID))
	}

	if err := r.runs.Create(ctx, run); err != nil {
		return "", errs.Wrap(err, domain.ErrorTypePersistence, errs.WithRun(run.RunID))
	}
	if err := r.steps.CreateMany(ctx, inherited); err != nil {
		r.abandon(ctx, run, err)
		return "", errs.Wrap(err, domain.ErrorTypePersistence, errs.WithRun(run.RunID))
	}

	r.emit(domain.NotificationRunForked, run.RunID, domain.RunForkedPayload{
		NewRunID:      run.RunID,
		ParentRunID:   parentRunID,
		FromStepID:    fromStepID,
		ForkStartedAt: now,
	})

	if err := r.launch(ctx, run, partial, len(inherited)); err != nil {
		return "", err
	}
	r.logger.Info("run forked",
		zap.String("run_id", run.RunID),
		zap.String("parent_run_id", parentRunID),
		zap.String("from_step_id", fromStepID),
		zap.Int("inherited_steps", len(inherited)))
	return run.RunID, nil
}

// ActiveRunIDs returns the ids of all runs currently tracked, sorted.
func (r *Runtime) ActiveRunIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveRunState returns a snapshot of an active run.
func (r *Runtime) ActiveRunState(runID string) (RunSnapshot, bool) {
	entry := r.lookup(runID)
	if entry == nil {
		return RunSnapshot{}, false
	}
	return entry.snapshot(), true
}

// Wait blocks until every run started by this runtime has finished its
// background task or ctx is done.
func (r *Runtime) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every active run and waits for their tasks to exit.
func (r *Runtime) Shutdown(ctx context.Context) error {
	for _, id := range r.ActiveRunIDs() {
		if err := r.CancelRun(ctx, id); err != nil && !errors.Is(err, ErrRunNotActive) {
			r.logger.Warn("failed to cancel run on shutdown", zap.String("run_id", id), zap.Error(err))
		}
	}
	return r.Wait(ctx)
}

// launch registers run as active, marks it RUNNING and starts its task.
func (r *Runtime) launch(ctx context.Context, run *domain.Run, graph *domain.Graph, firstSequence int) error {
	// Node executors outlive the request that started the run and are never
	// preempted by CancelRun.
	execCtx := context.WithoutCancel(ctx)
	runCtx, cancel := context.WithCancel(execCtx)

	entry := &activeRun{
		runID:     run.RunID,
		graphID:   graph.ID,
		state:     domain.RunStateIdle,
		startedAt: *run.StartedAt,
		ctx:       runCtx,
		cancel:    cancel,
	}
	r.mu.Lock()
	r.active[run.RunID] = entry
	r.mu.Unlock()

	if _, err := r.runs.UpdateState(ctx, run.RunID, domain.RunStateRunning); err != nil {
		r.remove(run.RunID)
		cancel()
		r.abandon(ctx, run, err)
		return errs.Wrap(err, domain.ErrorTypePersistence, errs.WithRun(run.RunID))
	}
	entry.setState(domain.RunStateRunning)

	r.emit(domain.NotificationRunStarted, run.RunID, domain.RunStartedPayload{
		RunID:        run.RunID,
		GraphID:      run.GraphID,
		GraphVersion: run.GraphVersion,
		StartedAt:    entry.startedAt,
	})

	r.wg.Add(1)
	go r.execute(execCtx, entry, graph, run.Input, firstSequence)
	return nil
}

// abandon marks a run that never started as FAILED.
func (r *Runtime) abandon(ctx context.Context, run *domain.Run, cause error) {
	now := r.now()
	if _, err := r.runs.Complete(ctx, run.RunID, domain.RunCompletion{
		State:       domain.RunStateFailed,
		Error:       errs.EnvelopeOf(errs.Wrap(cause, domain.ErrorTypePersistence), errs.WithRun(run.RunID)),
		CompletedAt: now,
	}); err != nil {
		r.logger.Error("failed to mark run failed", zap.String("run_id", run.RunID), zap.Error(err))
	}
}

func (r *Runtime) emit(typ domain.NotificationType, runID string, payload any) {
	r.sink.Notify(domain.Notification{Type: typ, RunID: runID, Timestamp: r.now(), Payload: payload})
}

func (r *Runtime) lookup(runID string) *activeRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[runID]
}

func (r *Runtime) remove(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, runID)
}

func checkRunnable(graph *domain.Graph) error {
	if graph == nil || len(graph.Nodes) == 0 {
		return errs.New(domain.ErrorTypeValidation, "graph has no nodes")
	}
	return nil
}

func graphVersion(g *domain.Graph) string {
	if g.Version == "" {
		return domain.DefaultGraphVersion
	}
	return g.Version
}
