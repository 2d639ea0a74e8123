// Package hub provides connection management for WebSocket clients
// following run notifications.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// AllRuns subscribes a connection to every run.
const AllRuns = "*"

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	hub  *Hub
	mu   sync.Mutex
	// runs the connection follows, guarded by the hub's mutex
	runs map[string]bool
}

// Hub manages all WebSocket connections and routes run notifications to
// the connections subscribed to them.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// subscribers maps run_id (or AllRuns) to set of connection IDs
	subscribers map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *RunMessage
	done       chan struct{}

	logger *zap.Logger
	mu     sync.RWMutex
}

// RunMessage is a payload addressed to the followers of one run.
type RunMessage struct {
	RunID string
	Data  []byte
}

// NewHub creates a new Hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		connections: make(map[string]*Connection),
		subscribers: make(map[string]map[string]bool),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan *RunMessage, 256),
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			h.logger.Debug("connection registered", zap.String("conn_id", conn.ID))

		case conn := <-h.unregister:
			h.mu.Lock()
			h.drop(conn)
			h.mu.Unlock()
			h.logger.Debug("connection unregistered", zap.String("conn_id", conn.ID))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg *RunMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := make(map[string]bool)
	for _, key := range []string{msg.RunID, AllRuns} {
		for connID := range h.subscribers[key] {
			if sent[connID] {
				continue
			}
			conn, exists := h.connections[connID]
			if !exists {
				continue
			}
			sent[connID] = true
			select {
			case conn.Send <- msg.Data:
			default:
				// Buffer full, close the connection
				h.logger.Warn("connection buffer full, closing", zap.String("conn_id", connID))
				go h.Unregister(conn)
			}
		}
	}
}

// drop removes conn from every index. Callers hold h.mu.
func (h *Hub) drop(conn *Connection) {
	if _, ok := h.connections[conn.ID]; !ok {
		return
	}
	delete(h.connections, conn.ID)
	for runID := range conn.runs {
		h.removeSubscriber(runID, conn.ID)
	}
	close(conn.Send)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.connections {
		h.drop(conn)
	}
}

func (h *Hub) removeSubscriber(runID, connID string) {
	if set := h.subscribers[runID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(h.subscribers, runID)
		}
	}
}

// NewConnection creates a new connection. Register it to receive messages.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 256),
		hub:  h,
		runs: make(map[string]bool),
	}
}

// Register registers a connection with the hub. It is a no-op once the hub has stopped.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Subscribe makes conn follow runID. AllRuns follows every run.
func (h *Hub) Subscribe(conn *Connection, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn.runs[runID] = true
	if h.subscribers[runID] == nil {
		h.subscribers[runID] = make(map[string]bool)
	}
	h.subscribers[runID][conn.ID] = true
}

// Unsubscribe stops conn following runID.
func (h *Hub) Unsubscribe(conn *Connection, runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(conn.runs, runID)
	h.removeSubscriber(runID, conn.ID)
}

// Broadcast queues data for the followers of runID. It never blocks: when
// the queue is full the message is dropped.
func (h *Hub) Broadcast(runID string, data []byte) {
	select {
	case h.broadcast <- &RunMessage{RunID: runID, Data: data}:
	default:
		h.logger.Warn("broadcast queue full, dropping message", zap.String("run_id", runID))
	}
}

// BroadcastJSON sends a JSON message to the followers of runID.
func (h *Hub) BroadcastJSON(runID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(runID, data)
	return nil
}

// Notify forwards a run notification to its followers.
func (h *Hub) Notify(n domain.Notification) {
	if err := h.BroadcastJSON(n.RunID, n); err != nil {
		h.logger.Error("failed to encode notification", zap.String("run_id", n.RunID), zap.Error(err))
	}
}

// SendToConnection sends a message to a specific connection.
func (h *Hub) SendToConnection(conn *Connection, data []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.connections[conn.ID]; !ok {
		return ErrConnectionClosed
	}
	select {
	case conn.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SendJSONToConnection sends a JSON message to a specific connection.
func (h *Hub) SendJSONToConnection(conn *Connection, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return h.SendToConnection(conn, data)
}

// GetConnectionCount returns the number of active connections.
func (h *Hub) GetConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// HasSubscribers reports whether anyone follows runID, directly or through AllRuns.
func (h *Hub) HasSubscribers(runID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[runID]) > 0 || len(h.subscribers[AllRuns]) > 0
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}

// ErrConnectionClosed is returned when sending to a connection the hub no longer tracks.
var ErrConnectionClosed = errors.New("connection closed")
