package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
)

// TracerName names the tracer that records node.run spans.
const TracerName = "github.com/enisisuko/ICee-agent/internal/executor"

// StateChangeFunc receives every step state transition reported by the runner.
type StateChangeFunc func(state domain.StepState, update domain.StepUpdate)

// EventFunc receives the single terminal event of a node.
type EventFunc func(event *domain.StepEvent)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Runner executes nodes with the node's retry policy and guardrails applied.
type Runner struct {
	registry  *Registry
	sleep     SleepFunc
	now       func() time.Time
	tracer    trace.Tracer
	logger    *zap.Logger
	guardrail *outputValidator
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithSleep replaces the backoff wait.
func WithSleep(fn SleepFunc) RunnerOption {
	return func(r *Runner) { r.sleep = fn }
}

// WithClock replaces the time source used for timestamps and durations.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithTracer sets the tracer used for node spans.
func WithTracer(tracer trace.Tracer) RunnerOption {
	return func(r *Runner) { r.tracer = tracer }
}

// WithLogger sets the runner's logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner resolving executors from registry.
func NewRunner(registry *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry:  registry,
		sleep:     sleepContext,
		now:       time.Now,
		tracer:    otel.Tracer(TracerName),
		logger:    zap.NewNop(),
		guardrail: newOutputValidator(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes node and reports its lifecycle through the callbacks.
//
// onState sees RUNNING at start, RUNNING with the retry count before every
// retry and exactly one of SUCCESS or ERROR at the end. onEvent is called
// exactly once with the completion or error event. On failure the error
// returned is the one produced by the last attempt.
func (r *Runner) Run(ctx context.Context, node *domain.Node, nctx *NodeContext, onEvent EventFunc, onState StateChangeFunc) (*Result, error) {
	ctx, span := r.tracer.Start(ctx, "node.run", trace.WithAttributes(
		attribute.String("run.id", nctx.RunID),
		attribute.String("step.id", nctx.StepID),
		attribute.String("node.id", node.ID),
		attribute.String("node.type", string(node.Type)),
	))
	defer span.End()

	startedAt := r.now()
	onState(domain.StepStateRunning, domain.StepUpdate{StartedAt: &startedAt})

	exec, err := r.registry.Lookup(node.Type)
	if err != nil {
		r.fail(span, node, nctx, startedAt, 0, err, onEvent, onState)
		return nil, err
	}

	policy := node.EffectiveRetry()
	retries := 0
	for {
		res, output, err := r.attempt(ctx, exec, node, nctx)
		if err == nil {
			r.succeed(span, node, nctx, startedAt, retries, res, output, onEvent, onState)
			return res, nil
		}

		if !shouldRetry(policy, retries+1, err) {
			r.fail(span, node, nctx, startedAt, retries, err, onEvent, onState)
			return nil, err
		}
		retries++
		wait := Backoff(policy, retries)
		r.logger.Warn("node attempt failed, retrying",
			zap.String("run_id", nctx.RunID),
			zap.String("node_id", node.ID),
			zap.Int("retry", retries),
			zap.Duration("backoff", wait),
			zap.Error(err))
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("retry.count", retries),
			attribute.String("error.type", string(errs.TypeOf(err))),
		))
		rc := retries
		onState(domain.StepStateRunning, domain.StepUpdate{RetryCount: &rc})

		if serr := r.sleep(ctx, wait); serr != nil {
			r.fail(span, node, nctx, startedAt, retries, err, onEvent, onState)
			return nil, err
		}
	}
}

// attempt runs the executor once. A panic in the executor is reported as a
// SYSTEM_ERROR failure of the attempt.
func (r *Runner) attempt(ctx context.Context, exec Executor, node *domain.Node, nctx *NodeContext) (res *Result, output json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("executor panicked",
				zap.String("run_id", nctx.RunID),
				zap.String("node_id", node.ID),
				zap.Any("panic", p),
				zap.Stack("stack"))
			res, output = nil, nil
			err = errs.New(domain.ErrorTypeSystem, fmt.Sprintf("executor panicked: %v", p),
				errs.WithNode(node.ID), errs.WithRun(nctx.RunID))
		}
	}()

	res, err = exec.Execute(ctx, node, nctx)
	if err != nil {
		return nil, nil, err
	}
	if res == nil {
		res = &Result{}
	}
	if res.Output != nil {
		output, err = json.Marshal(res.Output)
		if err != nil {
			return nil, nil, errs.Wrap(err, domain.ErrorTypeValidation, errs.WithContext("reason", "output is not JSON encodable"))
		}
	}
	if err := r.guardrail.check(node, output); err != nil {
		return nil, nil, err
	}
	return res, output, nil
}

func (r *Runner) succeed(span trace.Span, node *domain.Node, nctx *NodeContext, startedAt time.Time, retries int, res *Result, output json.RawMessage, onEvent EventFunc, onState StateChangeFunc) {
	completedAt := r.now()
	duration := completedAt.Sub(startedAt).Milliseconds()

	event := r.baseEvent(node, nctx, completedAt, duration)
	event.Output = output
	event.RenderedPrompt = res.RenderedPrompt
	event.Tokens = res.Tokens
	event.CostUSD = res.CostUSD
	event.ProviderMeta = res.ProviderMeta

	span.SetAttributes(attribute.Int("node.tokens", res.Tokens), attribute.Int("node.retries", retries))
	span.SetStatus(codes.Ok, "")

	onState(domain.StepStateSuccess, domain.StepUpdate{CompletedAt: &completedAt, DurationMs: &duration, RetryCount: &retries})
	onEvent(event)
}

func (r *Runner) fail(span trace.Span, node *domain.Node, nctx *NodeContext, startedAt time.Time, retries int, err error, onEvent EventFunc, onState StateChangeFunc) {
	completedAt := r.now()
	duration := completedAt.Sub(startedAt).Milliseconds()

	event := r.baseEvent(node, nctx, completedAt, duration)
	event.Error = errs.EnvelopeOf(err, errs.WithNode(node.ID), errs.WithRun(nctx.RunID), errs.WithContext("retry_count", retries))

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	r.logger.Error("node failed",
		zap.String("run_id", nctx.RunID),
		zap.String("node_id", node.ID),
		zap.String("error_type", string(event.Error.Type)),
		zap.Int("retries", retries),
		zap.Error(err))

	onState(domain.StepStateError, domain.StepUpdate{CompletedAt: &completedAt, DurationMs: &duration, RetryCount: &retries})
	onEvent(event)
}

func (r *Runner) baseEvent(node *domain.Node, nctx *NodeContext, ts time.Time, duration int64) *domain.StepEvent {
	var input any = nctx.PreviousOutput
	if input == nil {
		input = nctx.GlobalInput
	}
	return &domain.StepEvent{
		EventID:       domain.NewEventID(),
		RunID:         nctx.RunID,
		StepID:        nctx.StepID,
		NodeID:        node.ID,
		Timestamp:     ts,
		InputSnapshot: marshalOutput(input),
		DurationMs:    duration,
	}
}

// shouldRetry decides whether the given 1-based retry may be attempted.
func shouldRetry(policy domain.RetryConfig, retry int, err error) bool {
	if retry > policy.MaxRetries {
		return false
	}
	if len(policy.RetryOnErrorTypes) == 0 {
		return true
	}
	typ := errs.TypeOf(err)
	for _, allowed := range policy.RetryOnErrorTypes {
		if allowed == typ {
			return true
		}
	}
	return false
}

// Backoff returns the wait before the given 1-based retry.
func Backoff(policy domain.RetryConfig, retry int) time.Duration {
	base := time.Duration(policy.BackoffBaseMs) * time.Millisecond
	if policy.BackoffStrategy == domain.BackoffExponential && retry > 1 {
		return base * time.Duration(int64(1)<<uint(retry-1))
	}
	return base
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func marshalOutput(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
