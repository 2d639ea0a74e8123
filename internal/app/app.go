// Package app assembles the runtime, its storage and its executors from
// configuration. It is shared by the server and the CLI.
package app

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/adapter/llm"
	"github.com/enisisuko/ICee-agent/internal/config"
	"github.com/enisisuko/ICee-agent/internal/executor"
	"github.com/enisisuko/ICee-agent/internal/executor/builtin"
	"github.com/enisisuko/ICee-agent/internal/graph"
	"github.com/enisisuko/ICee-agent/internal/notify"
	"github.com/enisisuko/ICee-agent/internal/policy"
	"github.com/enisisuko/ICee-agent/internal/repository"
	"github.com/enisisuko/ICee-agent/internal/runtime"
	"github.com/enisisuko/ICee-agent/internal/service"
	"github.com/enisisuko/ICee-agent/internal/tracing"
)

// Provider names registered with the LLM router.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// App is a fully wired engine.
type App struct {
	Store   repository.Store
	Runtime *runtime.Runtime
	Catalog *graph.Catalog
	Service *service.Service
	Tracing *sdktrace.TracerProvider
}

type options struct {
	traceWriter io.Writer
}

// Option configures New.
type Option func(*options)

// WithTraceWriter sets where the stdout trace exporter writes. Defaults to
// os.Stderr.
func WithTraceWriter(w io.Writer) Option {
	return func(o *options) { o.traceWriter = w }
}

// New opens the store, loads the graph catalog and builds the runtime with
// every builtin executor registered. Notifications go to sink. Node spans are
// recorded by a tracer provider built from cfg.TraceExporter, which Close
// shuts down.
func New(ctx context.Context, cfg *config.Config, sink notify.Sink, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{traceWriter: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	tp, err := tracing.NewProvider(ctx, cfg.TraceExporter, o.traceWriter)
	if err != nil {
		return nil, err
	}

	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		tp.Shutdown(ctx) //nolint:errcheck
		return nil, errors.Wrap(err, "open store")
	}

	policyEngine, err := policy.NewEngineFromFile(ctx, cfg.PolicyFile)
	if err != nil {
		store.Close()
		tp.Shutdown(ctx) //nolint:errcheck
		return nil, errors.Wrap(err, "load tool policy")
	}

	reg := executor.NewRegistry()
	if err := builtin.RegisterDefaults(reg, builtin.Deps{
		Provider: NewProvider(cfg, logger),
		Policy:   policyEngine,
		Logger:   logger.Named("executor"),
	}); err != nil {
		store.Close()
		tp.Shutdown(ctx) //nolint:errcheck
		return nil, errors.Wrap(err, "register executors")
	}

	catalog := graph.NewCatalog(cfg.GraphDir, logger.Named("graphs"))
	if err := catalog.Reload(); err != nil {
		store.Close()
		tp.Shutdown(ctx) //nolint:errcheck
		return nil, err
	}

	runner := executor.NewRunner(reg,
		executor.WithLogger(logger.Named("runner")),
		executor.WithTracer(tp.Tracer(executor.TracerName)))
	rt := runtime.New(runner, store.Runs(), store.Steps(), store.Events(), sink,
		runtime.WithLogger(logger.Named("runtime")),
		runtime.WithPauseInterval(cfg.PauseInterval))

	return &App{
		Store:   store,
		Runtime: rt,
		Catalog: catalog,
		Service: service.New(rt, catalog, store),
		Tracing: tp,
	}, nil
}

// NewProvider builds the LLM router. In mock mode the mock client serves
// every request.
func NewProvider(cfg *config.Config, logger *zap.Logger) llm.Provider {
	client := llm.NewLLMClient(cfg.Mode, cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMTimeout, logger)
	name := ProviderOpenAI
	if cfg.Mode == llm.ModeMock {
		name = ProviderMock
	}
	router := llm.NewRouter(name)
	router.Register(name, llm.NewChatProvider(name, client, cfg.LLMModel, cfg.LLMCostPer1K))
	return router
}

// Close cancels active runs, flushes pending spans and closes the store.
func (a *App) Close(ctx context.Context) error {
	shutdownErr := a.Runtime.Shutdown(ctx)
	if err := a.Tracing.Shutdown(ctx); err != nil && shutdownErr == nil {
		shutdownErr = errors.Wrap(err, "shutdown tracer provider")
	}
	if err := a.Store.Close(); err != nil {
		return err
	}
	return shutdownErr
}
