package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enisisuko/ICee-agent/internal/config"
	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/hub"
	"github.com/enisisuko/ICee-agent/internal/runtime"
	"github.com/enisisuko/ICee-agent/internal/service"
)

type fakeCommands struct {
	mu        sync.Mutex
	started   []service.StartRunRequest
	forked    []service.ForkRunRequest
	cancelled []string
	pauseErr  error
}

func (f *fakeCommands) StartRun(_ context.Context, req service.StartRunRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, req)
	return "run_started_1", nil
}

func (f *fakeCommands) ForkRun(_ context.Context, req service.ForkRunRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forked = append(f.forked, req)
	return "run_forked_1", nil
}

func (f *fakeCommands) PauseRun(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauseErr
}

func (f *fakeCommands) ResumeRun(context.Context, string) error { return nil }

func (f *fakeCommands) CancelRun(_ context.Context, runID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, runID)
	return nil
}

type wsHarness struct {
	hub      *hub.Hub
	commands *fakeCommands
	url      string
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	h := hub.NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	cfg := &config.Config{
		PingInterval:   time.Second,
		WriteTimeout:   time.Second,
		ReadTimeout:    5 * time.Second,
		MaxMessageSize: 65536,
	}
	commands := &fakeCommands{}
	srv := NewServer(cfg, h, commands, nil)

	e := echo.New()
	e.GET("/v1/ws", srv.HandleWebSocket)
	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-stopped
	})
	return &wsHarness{hub: h, commands: commands, url: "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"}
}

func (h *wsHarness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return h.hub.GetConnectionCount() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestSubscribeReceivesNotifications(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeSubscribe, RunID: "run_1", RequestID: "req_1"}))
	ack := readJSON(t, conn)
	assert.Equal(t, TypeAck, ack["type"])
	assert.Equal(t, "req_1", ack["request_id"])
	assert.Equal(t, TypeSubscribe, ack["command"])

	h.hub.Notify(domain.Notification{Type: domain.NotificationRunPaused, RunID: "run_1", Timestamp: time.Now()})
	h.hub.Notify(domain.Notification{Type: domain.NotificationRunPaused, RunID: "run_other", Timestamp: time.Now()})
	h.hub.Notify(domain.Notification{Type: domain.NotificationRunResumed, RunID: "run_1", Timestamp: time.Now()})

	first := readJSON(t, conn)
	assert.Equal(t, "run_paused", first["type"])
	assert.Equal(t, "run_1", first["run_id"])
	second := readJSON(t, conn)
	assert.Equal(t, "run_resumed", second["type"])
}

func TestQuerySubscription(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "?run="+hub.AllRuns)

	require.Eventually(t, func() bool { return h.hub.HasSubscribers("anything") }, time.Second, 5*time.Millisecond)
	h.hub.Notify(domain.Notification{Type: domain.NotificationRunStarted, RunID: "run_x"})
	assert.Equal(t, "run_x", readJSON(t, conn)["run_id"])
}

func TestRunAndForkCommands(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeRun, GraphID: "chat", Input: map[string]any{"q": "hi"}}))
	ack := readJSON(t, conn)
	assert.Equal(t, TypeAck, ack["type"])
	assert.Equal(t, "run_started_1", ack["run_id"])
	assert.True(t, h.hub.HasSubscribers("run_started_1"))

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeFork, RunID: "run_started_1", FromStepID: "step_2"}))
	ack = readJSON(t, conn)
	assert.Equal(t, "run_forked_1", ack["run_id"])

	h.commands.mu.Lock()
	defer h.commands.mu.Unlock()
	require.Len(t, h.commands.started, 1)
	assert.Equal(t, "chat", h.commands.started[0].GraphID)
	require.Len(t, h.commands.forked, 1)
	assert.Equal(t, "step_2", h.commands.forked[0].FromStepID)
}

func TestControlCommands(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeCancel, RunID: "run_1"}))
	assert.Equal(t, TypeAck, readJSON(t, conn)["type"])

	h.commands.mu.Lock()
	h.commands.pauseErr = runtime.ErrInvalidState
	h.commands.mu.Unlock()
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypePause, RunID: "run_1", RequestID: "p"}))
	msg := readJSON(t, conn)
	assert.Equal(t, TypeCommandError, msg["type"])
	assert.Equal(t, ErrorCodeInvalidState, msg["code"])
	assert.Equal(t, "p", msg["request_id"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeResume}))
	assert.Equal(t, ErrorCodeInvalidMessage, readJSON(t, conn)["code"])

	h.commands.mu.Lock()
	assert.Equal(t, []string{"run_1"}, h.commands.cancelled)
	h.commands.mu.Unlock()
}

func TestInvalidMessages(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, ErrorCodeInvalidMessage, readJSON(t, conn)["code"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "teleport"}))
	msg := readJSON(t, conn)
	assert.Equal(t, TypeCommandError, msg["type"])
	assert.Contains(t, msg["message"], "teleport")
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, ErrorCodeNotFound, errorCode(runtime.ErrRunNotActive))
	assert.Equal(t, ErrorCodeNotFound, errorCode(service.ErrGraphNotFound))
	assert.Equal(t, ErrorCodeInvalidState, errorCode(runtime.ErrInvalidState))
	assert.Equal(t, ErrorCodeInvalidMessage, errorCode(service.ErrInvalidRequest))
	assert.Equal(t, ErrorCodeInternal, errorCode(context.DeadlineExceeded))
}
