package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

func register(t *testing.T, h *Hub) *Connection {
	t.Helper()
	conn := h.NewConnection(nil)
	h.Register(conn)
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		_, ok := h.connections[conn.ID]
		return ok
	}, time.Second, 5*time.Millisecond)
	return conn
}

func receive(t *testing.T, conn *Connection) []byte {
	t.Helper()
	select {
	case msg, ok := <-conn.Send:
		if !ok {
			t.Fatalf("send channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	return nil
}

func assertNothing(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case msg := <-conn.Send:
		t.Fatalf("unexpected message: %s", msg)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestHubRoutesBySubscription(t *testing.T) {
	h := startHub(t)
	a := register(t, h)
	b := register(t, h)
	all := register(t, h)

	h.Subscribe(a, "run_1")
	h.Subscribe(b, "run_2")
	h.Subscribe(all, AllRuns)
	h.Subscribe(all, "run_1")

	assert.True(t, h.HasSubscribers("run_1"))
	assert.Equal(t, 3, h.GetConnectionCount())

	h.Broadcast("run_1", []byte("hello"))

	assert.Equal(t, "hello", string(receive(t, a)))
	assert.Equal(t, "hello", string(receive(t, all)))
	assertNothing(t, b)
	// subscribed twice, delivered once
	assertNothing(t, all)
}

func TestHubNotifyEncodesNotification(t *testing.T) {
	h := startHub(t)
	conn := register(t, h)
	h.Subscribe(conn, "run_9")

	h.Notify(domain.Notification{
		Type:  domain.NotificationRunCompleted,
		RunID: "run_9",
	})

	var got map[string]any
	require.NoError(t, json.Unmarshal(receive(t, conn), &got))
	assert.Equal(t, "run_9", got["run_id"])
	assert.Equal(t, string(domain.NotificationRunCompleted), got["type"])
}

func TestHubUnsubscribeAndUnregister(t *testing.T) {
	h := startHub(t)
	conn := register(t, h)
	h.Subscribe(conn, "run_1")
	h.Unsubscribe(conn, "run_1")
	assert.False(t, h.HasSubscribers("run_1"))

	h.Broadcast("run_1", []byte("x"))
	assertNothing(t, conn)

	h.Subscribe(conn, "run_1")
	h.Unregister(conn)
	require.Eventually(t, func() bool { return h.GetConnectionCount() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-conn.Send
	assert.False(t, ok, "send channel should be closed")
	assert.False(t, h.HasSubscribers("run_1"))
	assert.ErrorIs(t, h.SendToConnection(conn, []byte("late")), ErrConnectionClosed)
}

func TestHubSendToConnection(t *testing.T) {
	h := startHub(t)
	conn := register(t, h)

	require.NoError(t, h.SendJSONToConnection(conn, map[string]string{"type": "ack"}))
	assert.JSONEq(t, `{"type":"ack"}`, string(receive(t, conn)))

	for i := 0; i < cap(conn.Send); i++ {
		require.NoError(t, h.SendToConnection(conn, []byte("fill")))
	}
	assert.Equal(t, ErrBufferFull, h.SendToConnection(conn, []byte("overflow")))
}

func TestHubStopClosesConnections(t *testing.T) {
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	conn := register(t, h)
	cancel()
	<-stopped

	_, ok := <-conn.Send
	assert.False(t, ok)

	// no-ops once stopped
	h.Register(h.NewConnection(nil))
	h.Unregister(conn)
	assert.Equal(t, 0, h.GetConnectionCount())
}
