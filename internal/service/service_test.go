package service

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/graph"
	"github.com/enisisuko/ICee-agent/internal/repository"
	"github.com/enisisuko/ICee-agent/internal/runtime"
)

type forkCall struct {
	parent, from string
	graph        *domain.Graph
	override     map[string]any
}

type fakeRuntime struct {
	started []*domain.Graph
	forks   []forkCall
	paused  []string
	active  map[string]runtime.RunSnapshot
	err     error
}

func (f *fakeRuntime) StartRun(_ context.Context, g *domain.Graph, _ map[string]any) (string, error) {
	f.started = append(f.started, g)
	return "run_new", f.err
}

func (f *fakeRuntime) PauseRun(_ context.Context, runID string) error {
	f.paused = append(f.paused, runID)
	return f.err
}

func (f *fakeRuntime) ResumeRun(context.Context, string) error { return f.err }
func (f *fakeRuntime) CancelRun(context.Context, string) error { return f.err }

func (f *fakeRuntime) ForkRun(_ context.Context, parent, from string, g *domain.Graph, override map[string]any) (string, error) {
	f.forks = append(f.forks, forkCall{parent, from, g, override})
	return "run_fork", f.err
}

func (f *fakeRuntime) ActiveRunIDs() []string {
	ids := make([]string, 0, len(f.active))
	for id := range f.active {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeRuntime) ActiveRunState(id string) (runtime.RunSnapshot, bool) {
	s, ok := f.active[id]
	return s, ok
}

func newTestService(t *testing.T) (*Service, *fakeRuntime, repository.Store) {
	t.Helper()
	catalog := graph.NewCatalog(t.TempDir(), nil)
	require.NoError(t, catalog.Put(&domain.Graph{ID: "chat", Nodes: []domain.Node{{ID: "in", Type: domain.NodeTypeInput, Label: "In"}}}))
	rt := &fakeRuntime{active: map[string]runtime.RunSnapshot{}}
	store := repository.NewMemoryStore()
	return New(rt, catalog, store), rt, store
}

func seedRun(t *testing.T, store repository.Store, id string, state domain.RunState, at time.Time) {
	t.Helper()
	require.NoError(t, store.Runs().Create(context.Background(), &domain.Run{
		RunID: id, GraphID: "chat", GraphVersion: "1.0.0", State: state, CreatedAt: at,
	}))
}

func TestStartRunResolvesGraph(t *testing.T) {
	svc, rt, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.StartRun(ctx, StartRunRequest{GraphID: "chat"})
	require.NoError(t, err)
	assert.Equal(t, "run_new", id)
	require.Len(t, rt.started, 1)
	assert.Equal(t, "chat", rt.started[0].ID)

	inline := &domain.Graph{ID: "inline", Nodes: []domain.Node{{ID: "a", Type: domain.NodeTypeInput}}}
	_, err = svc.StartRun(ctx, StartRunRequest{Graph: inline})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultGraphVersion, rt.started[1].Version)

	_, err = svc.StartRun(ctx, StartRunRequest{GraphID: "missing"})
	assert.True(t, errors.Is(err, ErrGraphNotFound))

	_, err = svc.StartRun(ctx, StartRunRequest{})
	assert.True(t, errors.Is(err, ErrInvalidRequest))

	_, err = svc.StartRun(ctx, StartRunRequest{Graph: &domain.Graph{ID: "empty"}})
	assert.True(t, errors.Is(err, graph.ErrInvalidGraph))
	assert.Len(t, rt.started, 2)
}

func TestForkRunUsesParentGraph(t *testing.T) {
	svc, rt, store := newTestService(t)
	ctx := context.Background()
	seedRun(t, store, "parent", domain.RunStateCompleted, time.Now())

	id, err := svc.ForkRun(ctx, ForkRunRequest{ParentRunID: "parent", FromStepID: "step_1", InputOverride: map[string]any{"q": 1}})
	require.NoError(t, err)
	assert.Equal(t, "run_fork", id)
	require.Len(t, rt.forks, 1)
	assert.Equal(t, "chat", rt.forks[0].graph.ID)
	assert.Equal(t, "step_1", rt.forks[0].from)
	assert.Equal(t, map[string]any{"q": 1}, rt.forks[0].override)

	_, err = svc.ForkRun(ctx, ForkRunRequest{ParentRunID: "ghost", FromStepID: "s"})
	assert.True(t, errors.Is(err, runtime.ErrRunNotFound))

	_, err = svc.ForkRun(ctx, ForkRunRequest{ParentRunID: "parent"})
	assert.True(t, errors.Is(err, ErrInvalidRequest))
}

func TestListRuns(t *testing.T) {
	svc, _, store := newTestService(t)
	ctx := context.Background()
	base := time.Now().UTC()
	seedRun(t, store, "r1", domain.RunStateCompleted, base)
	seedRun(t, store, "r2", domain.RunStateFailed, base.Add(time.Second))
	seedRun(t, store, "r3", domain.RunStateCompleted, base.Add(2*time.Second))

	runs, err := svc.ListRuns(ctx, ListRunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r3", runs[0].RunID)

	runs, err = svc.ListRuns(ctx, ListRunsRequest{State: domain.RunStateCompleted, Limit: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)

	runs, err = svc.ListRuns(ctx, ListRunsRequest{State: domain.RunStateCompleted, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestQueriesOnUnknownRun(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetRun(ctx, "nope")
	assert.True(t, errors.Is(err, runtime.ErrRunNotFound))
	_, err = svc.GetRunSteps(ctx, "nope")
	assert.True(t, errors.Is(err, runtime.ErrRunNotFound))
	_, err = svc.GetRunEvents(ctx, "nope", "")
	assert.True(t, errors.Is(err, runtime.ErrRunNotFound))
	_, err = svc.Replay(ctx, "nope")
	assert.True(t, errors.Is(err, runtime.ErrRunNotFound))
}

func TestActiveRunsAndControl(t *testing.T) {
	svc, rt, _ := newTestService(t)
	rt.active["run_a"] = runtime.RunSnapshot{RunID: "run_a", State: domain.RunStateRunning}

	active := svc.ActiveRuns()
	require.Len(t, active, 1)
	assert.Equal(t, domain.RunStateRunning, active[0].State)

	require.NoError(t, svc.PauseRun(context.Background(), "run_a"))
	assert.Equal(t, []string{"run_a"}, rt.paused)

	rt.err = runtime.ErrRunNotActive
	assert.True(t, errors.Is(svc.CancelRun(context.Background(), "run_a"), runtime.ErrRunNotActive))
}
