package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

func TestMultiDeliversToAllAndSurvivesPanics(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	var got []domain.NotificationType
	record := SinkFunc(func(n domain.Notification) { got = append(got, n.Type) })
	boom := SinkFunc(func(domain.Notification) { panic("boom") })

	m := NewMulti(zap.New(core), boom, nil, record)
	m.Notify(domain.Notification{Type: domain.NotificationRunStarted, RunID: "run_1"})
	m.Notify(domain.Notification{Type: domain.NotificationRunPaused, RunID: "run_1"})

	assert.Equal(t, []domain.NotificationType{domain.NotificationRunStarted, domain.NotificationRunPaused}, got)
	assert.Equal(t, 2, logs.FilterMessage("notification sink panicked").Len())
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewLogSink(zap.New(core))

	s.Notify(domain.Notification{
		Type:    domain.NotificationStepStarted,
		RunID:   "run_1",
		Payload: domain.StepStartedPayload{NodeID: "llm", Sequence: 1},
	})
	s.Notify(domain.Notification{
		Type:    domain.NotificationError,
		RunID:   "run_1",
		Payload: domain.ErrorPayload{RunID: "run_1", Error: &domain.ErrorEnvelope{Type: domain.ErrorTypeTool, Message: "tool down"}},
	})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "llm", entries[0].ContextMap()["node_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "TOOL_ERROR", entries[1].ContextMap()["error_type"])
}

func TestMetricsSink(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetricsSink(reg)
	require.NoError(t, err)

	m.Notify(domain.Notification{Type: domain.NotificationRunStarted, Payload: domain.RunStartedPayload{GraphID: "chat"}})
	m.Notify(domain.Notification{Type: domain.NotificationStepCompleted, Payload: domain.StepCompletedPayload{
		NodeType: domain.NodeTypeLLM,
		Event:    &domain.StepEvent{Tokens: 42, CostUSD: 0.5, DurationMs: 1200},
	}})
	m.Notify(domain.Notification{Type: domain.NotificationStepCompleted, Payload: domain.StepCompletedPayload{
		NodeType: domain.NodeTypeTool,
		Event:    &domain.StepEvent{Error: &domain.ErrorEnvelope{Type: domain.ErrorTypeTool}},
	}})
	m.Notify(domain.Notification{Type: domain.NotificationError, Payload: domain.ErrorPayload{Error: &domain.ErrorEnvelope{Type: domain.ErrorTypeTool}}})
	m.Notify(domain.Notification{Type: domain.NotificationRunCompleted, Payload: domain.RunCompletedPayload{State: domain.RunStateFailed, DurationMs: 2000}})
	m.Notify(domain.Notification{Type: domain.NotificationRunPaused, Payload: domain.RunPausedPayload{}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsStarted.WithLabelValues("chat")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("LLM", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("TOOL", "error")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.tokens.WithLabelValues("LLM")))
	assert.InDelta(t, 0.5, testutil.ToFloat64(m.costUSD.WithLabelValues("LLM")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("TOOL_ERROR")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsCompleted.WithLabelValues("FAILED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.controls.WithLabelValues("pause")))

	// a second sink on the same registry collides
	_, err = NewMetricsSink(reg)
	assert.Error(t, err)
	_, err = NewMetricsSink(nil)
	assert.Error(t, err)
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := redis.NewIntCmd(ctx, "publish", channel, message)
	if p.err != nil {
		cmd.SetErr(p.err)
		return cmd
	}
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func TestRedisSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	s := NewRedisSink(pub, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()

	s.Notify(domain.Notification{Type: domain.NotificationRunStarted, RunID: "run_1"})
	s.Notify(domain.Notification{Type: domain.NotificationRunCompleted, RunID: "run_1"})
	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, DefaultRedisChannel, pub.channels[0])
	var n map[string]any
	require.NoError(t, json.Unmarshal(pub.messages[1], &n))
	assert.Equal(t, "run_completed", n["type"])
	assert.Equal(t, "run_1", n["run_id"])
}

func TestRedisSinkDrainsOnStopAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	pub := &fakePublisher{err: errors.New("connection refused")}
	s := NewRedisSink(pub, "custom", zap.New(core))

	for i := 0; i < redisQueueSize+1; i++ {
		s.Notify(domain.Notification{Type: domain.NotificationStepStarted, RunID: "run_1"})
	}
	assert.Equal(t, 1, logs.FilterMessage("redis notification queue full, dropping").Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))

	assert.Empty(t, s.queue)
	assert.Equal(t, redisQueueSize, logs.FilterMessage("failed to publish notification").Len())
}
