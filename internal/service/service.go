// Package service is the application layer shared by the HTTP and WebSocket
// transports: it resolves graphs, drives the runtime and answers queries
// against the stored trace.
package service

import (
	"context"

	"github.com/pkg/errors"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
	"github.com/enisisuko/ICee-agent/internal/graph"
	"github.com/enisisuko/ICee-agent/internal/replay"
	"github.com/enisisuko/ICee-agent/internal/repository"
	"github.com/enisisuko/ICee-agent/internal/runtime"
)

var (
	// ErrGraphNotFound is returned when a graph id is not in the catalog.
	ErrGraphNotFound = errors.New("graph not found")
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid request")
)

// DefaultListLimit is used when a listing request does not set a limit.
const DefaultListLimit = 50

// Runtime is the subset of runtime.Runtime the service drives.
type Runtime interface {
	StartRun(ctx context.Context, graph *domain.Graph, input map[string]any) (string, error)
	PauseRun(ctx context.Context, runID string) error
	ResumeRun(ctx context.Context, runID string) error
	CancelRun(ctx context.Context, runID string) error
	ForkRun(ctx context.Context, parentRunID, fromStepID string, graph *domain.Graph, inputOverride map[string]any) (string, error)
	ActiveRunIDs() []string
	ActiveRunState(runID string) (runtime.RunSnapshot, bool)
}

// Graphs looks graphs up by id.
type Graphs interface {
	Get(id string) (*domain.Graph, bool)
	List() []*domain.Graph
}

// Service ties the runtime, graph catalog and stored trace together.
type Service struct {
	runtime  Runtime
	graphs   Graphs
	store    repository.Store
	replayer *replay.Replayer
}

// New creates a Service.
func New(rt Runtime, graphs Graphs, store repository.Store) *Service {
	return &Service{
		runtime:  rt,
		graphs:   graphs,
		store:    store,
		replayer: replay.New(store.Runs(), store.Steps(), store.Events()),
	}
}

// StartRunRequest starts a run of an inline graph or a catalog graph.
type StartRunRequest struct {
	GraphID string         `json:"graph_id,omitempty"`
	Graph   *domain.Graph  `json:"graph,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
}

// ForkRunRequest forks a stored run. Without Graph or GraphID the parent's
// graph is looked up in the catalog.
type ForkRunRequest struct {
	ParentRunID   string         `json:"-"`
	FromStepID    string         `json:"from_step_id"`
	GraphID       string         `json:"graph_id,omitempty"`
	Graph         *domain.Graph  `json:"graph,omitempty"`
	InputOverride map[string]any `json:"input_override,omitempty"`
}

// ListRunsRequest filters and pages run listings.
type ListRunsRequest struct {
	State  domain.RunState
	Limit  int
	Offset int
}

// StartRun resolves the graph and starts a run.
func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (string, error) {
	g, err := s.resolveGraph(req.Graph, req.GraphID)
	if err != nil {
		return "", err
	}
	return s.runtime.StartRun(ctx, g, req.Input)
}

// ForkRun resolves the graph and forks the parent run.
func (s *Service) ForkRun(ctx context.Context, req ForkRunRequest) (string, error) {
	if req.ParentRunID == "" {
		return "", errors.Wrap(ErrInvalidRequest, "run_id is required")
	}
	if req.FromStepID == "" {
		return "", errors.Wrap(ErrInvalidRequest, "from_step_id is required")
	}
	graphID := req.GraphID
	if req.Graph == nil && graphID == "" {
		parent, err := s.store.Runs().FindByID(ctx, req.ParentRunID)
		if err != nil {
			return "", errors.Wrapf(err, "load run %s", req.ParentRunID)
		}
		if parent == nil {
			return "", errors.Wrapf(runtime.ErrRunNotFound, "parent run %s", req.ParentRunID)
		}
		graphID = parent.GraphID
	}
	g, err := s.resolveGraph(req.Graph, graphID)
	if err != nil {
		return "", err
	}
	return s.runtime.ForkRun(ctx, req.ParentRunID, req.FromStepID, g, req.InputOverride)
}

// PauseRun pauses an active run.
func (s *Service) PauseRun(ctx context.Context, runID string) error {
	return s.runtime.PauseRun(ctx, runID)
}

// ResumeRun resumes a paused run.
func (s *Service) ResumeRun(ctx context.Context, runID string) error {
	return s.runtime.ResumeRun(ctx, runID)
}

// CancelRun cancels an active run.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	return s.runtime.CancelRun(ctx, runID)
}

// ActiveRuns returns snapshots of every run the runtime is executing.
func (s *Service) ActiveRuns() []runtime.RunSnapshot {
	ids := s.runtime.ActiveRunIDs()
	out := make([]runtime.RunSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := s.runtime.ActiveRunState(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// ListRuns lists stored runs newest first, optionally filtered by state.
func (s *Service) ListRuns(ctx context.Context, req ListRunsRequest) ([]domain.Run, error) {
	if req.State != "" {
		runs, err := s.store.Runs().FindByState(ctx, req.State)
		if err != nil {
			return nil, errors.Wrap(err, "list runs")
		}
		return page(runs, req.Limit, req.Offset), nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	runs, err := s.store.Runs().FindAll(ctx, limit, req.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	return runs, nil
}

// GetRun returns a stored run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.Runs().FindByID(ctx, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "load run %s", runID)
	}
	if run == nil {
		return nil, errors.Wrapf(runtime.ErrRunNotFound, "run %s", runID)
	}
	return run, nil
}

// GetRunSteps returns the steps of a run in sequence order.
func (s *Service) GetRunSteps(ctx context.Context, runID string) ([]domain.Step, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	steps, err := s.store.Steps().FindByRunID(ctx, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "load steps of %s", runID)
	}
	return steps, nil
}

// GetRunEvents returns the events of a run. With fromStepID only events
// recorded from that step onward are returned.
func (s *Service) GetRunEvents(ctx context.Context, runID, fromStepID string) ([]domain.StepEvent, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	var (
		events []domain.StepEvent
		err    error
	)
	if fromStepID != "" {
		events, err = s.store.Events().FindFromStep(ctx, runID, fromStepID)
	} else {
		events, err = s.store.Events().FindByRunID(ctx, runID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load events of %s", runID)
	}
	return events, nil
}

// Replay reconstructs the recorded trace of a run.
func (s *Service) Replay(ctx context.Context, runID string) (*replay.Trace, error) {
	trace, err := s.replayer.Trace(ctx, runID)
	if errors.Is(err, replay.ErrRunNotFound) {
		return nil, errors.Wrapf(runtime.ErrRunNotFound, "run %s", runID)
	}
	return trace, err
}

// ListGraphs returns the catalog's graphs.
func (s *Service) ListGraphs() []*domain.Graph {
	return s.graphs.List()
}

// GetGraph returns a catalog graph.
func (s *Service) GetGraph(id string) (*domain.Graph, error) {
	g, ok := s.graphs.Get(id)
	if !ok {
		return nil, errors.Wrapf(ErrGraphNotFound, "graph %s", id)
	}
	return g, nil
}

func (s *Service) resolveGraph(inline *domain.Graph, graphID string) (*domain.Graph, error) {
	if inline != nil {
		if err := graph.Validate(inline); err != nil {
			return nil, err
		}
		return inline, nil
	}
	if graphID == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "graph or graph_id is required")
	}
	return s.GetGraph(graphID)
}

func page(runs []domain.Run, limit, offset int) []domain.Run {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(runs) {
		return []domain.Run{}
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs
}

// Kind classifies service errors for the transports.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindInvalidRequest
)

// KindOf classifies err.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, runtime.ErrRunNotActive),
		errors.Is(err, runtime.ErrRunNotFound),
		errors.Is(err, ErrGraphNotFound):
		return KindNotFound
	case errors.Is(err, runtime.ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, graph.ErrInvalidGraph),
		errs.TypeOf(err) == domain.ErrorTypeValidation:
		return KindInvalidRequest
	}
	return KindInternal
}
