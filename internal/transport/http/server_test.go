package http

import (
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/executor"
	"github.com/enisisuko/ICee-agent/internal/graph"
	"github.com/enisisuko/ICee-agent/internal/notify"
	"github.com/enisisuko/ICee-agent/internal/repository"
	"github.com/enisisuko/ICee-agent/internal/runtime"
	"github.com/enisisuko/ICee-agent/internal/service"
)

func TestServerRoutes(t *testing.T) {
	store := repository.NewMemoryStore()
	rt := runtime.New(executor.NewRunner(executor.NewRegistry()), store.Runs(), store.Steps(), store.Events(), nil)
	svc := service.New(rt, graph.NewCatalog(t.TempDir(), nil), store)

	registry := prometheus.NewRegistry()
	metrics, err := notify.NewMetricsSink(registry)
	require.NoError(t, err)
	metrics.Notify(domain.Notification{Type: domain.NotificationRunStarted, Payload: domain.RunStartedPayload{GraphID: "chat"}})

	e := NewServer(svc, nil, registry, nil)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/health", nil))
	assert.Equal(t, nethttp.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/metrics", nil))
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `icee_runs_started_total{graph_id="chat"} 1`)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/v1/runs", nil))
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())

	// no websocket server configured
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(nethttp.MethodGet, "/v1/ws", nil))
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)
}
