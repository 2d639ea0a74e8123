// Package ws serves the live notification stream and run commands over
// WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/config"
	"github.com/enisisuko/ICee-agent/internal/hub"
	"github.com/enisisuko/ICee-agent/internal/service"
)

// commandTimeout bounds a single command against the runtime.
const commandTimeout = 30 * time.Second

// Commands is the run control surface reachable from a connection.
type Commands interface {
	StartRun(ctx context.Context, req service.StartRunRequest) (string, error)
	ForkRun(ctx context.Context, req service.ForkRunRequest) (string, error)
	PauseRun(ctx context.Context, runID string) error
	ResumeRun(ctx context.Context, runID string) error
	CancelRun(ctx context.Context, runID string) error
}

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	commands Commands
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, commands Commands, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		hub:      h,
		commands: commands,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the request and starts the connection pumps.
// Runs listed in the "run" query parameter are followed from the start.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("failed to upgrade websocket", zap.Error(err))
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)
	for _, runID := range c.QueryParams()["run"] {
		if runID != "" {
			s.hub.Subscribe(conn, runID)
		}
	}

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("websocket read error", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			break
		}

		s.handleMessage(conn, message)
	}
}

// writePump writes queued messages and pings to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("failed to write message", zap.String("conn_id", conn.ID), zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches a client message.
func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, &msg, ErrorCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		if msg.RunID == "" {
			s.sendError(conn, &msg, ErrorCodeInvalidMessage, "run_id is required")
			return
		}
		s.hub.Subscribe(conn, msg.RunID)
		s.ack(conn, &msg, msg.RunID)
	case TypeUnsubscribe:
		if msg.RunID == "" {
			s.sendError(conn, &msg, ErrorCodeInvalidMessage, "run_id is required")
			return
		}
		s.hub.Unsubscribe(conn, msg.RunID)
		s.ack(conn, &msg, msg.RunID)
	case TypeRun:
		s.handleRun(conn, &msg)
	case TypeFork:
		s.handleFork(conn, &msg)
	case TypePause, TypeResume, TypeCancel:
		s.handleControl(conn, &msg)
	default:
		s.sendError(conn, &msg, ErrorCodeInvalidMessage, "unknown message type: "+msg.Type)
	}
}

func (s *Server) handleRun(conn *hub.Connection, msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	runID, err := s.commands.StartRun(ctx, service.StartRunRequest{GraphID: msg.GraphID, Input: msg.Input})
	if err != nil {
		s.commandFailed(conn, msg, err)
		return
	}
	s.hub.Subscribe(conn, runID)
	s.ack(conn, msg, runID)
	s.logger.Info("run started over websocket", zap.String("run_id", runID), zap.String("conn_id", conn.ID))
}

func (s *Server) handleFork(conn *hub.Connection, msg *ClientMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	runID, err := s.commands.ForkRun(ctx, service.ForkRunRequest{
		ParentRunID:   msg.RunID,
		FromStepID:    msg.FromStepID,
		GraphID:       msg.GraphID,
		InputOverride: msg.InputOverride,
	})
	if err != nil {
		s.commandFailed(conn, msg, err)
		return
	}
	s.hub.Subscribe(conn, runID)
	s.ack(conn, msg, runID)
}

func (s *Server) handleControl(conn *hub.Connection, msg *ClientMessage) {
	if msg.RunID == "" {
		s.sendError(conn, msg, ErrorCodeInvalidMessage, "run_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case TypePause:
		err = s.commands.PauseRun(ctx, msg.RunID)
	case TypeResume:
		err = s.commands.ResumeRun(ctx, msg.RunID)
	case TypeCancel:
		err = s.commands.CancelRun(ctx, msg.RunID)
	}
	if err != nil {
		s.commandFailed(conn, msg, err)
		return
	}
	s.ack(conn, msg, msg.RunID)
}

func (s *Server) ack(conn *hub.Connection, msg *ClientMessage, runID string) {
	s.hub.SendJSONToConnection(conn, AckMessage{
		Type:      TypeAck,
		Ts:        time.Now().UnixMilli(),
		RequestID: msg.RequestID,
		Command:   msg.Type,
		RunID:     runID,
	})
}

func (s *Server) commandFailed(conn *hub.Connection, msg *ClientMessage, err error) {
	code := errorCode(err)
	if code == ErrorCodeInternal {
		s.logger.Error("websocket command failed", zap.String("command", msg.Type), zap.String("run_id", msg.RunID), zap.Error(err))
	}
	s.sendError(conn, msg, code, err.Error())
}

// sendError sends a command_error message to a connection.
func (s *Server) sendError(conn *hub.Connection, msg *ClientMessage, code, message string) {
	s.hub.SendJSONToConnection(conn, CommandErrorMessage{
		Type:      TypeCommandError,
		Ts:        time.Now().UnixMilli(),
		RequestID: msg.RequestID,
		RunID:     msg.RunID,
		Code:      code,
		Message:   message,
	})
}

func errorCode(err error) string {
	switch service.KindOf(err) {
	case service.KindNotFound:
		return ErrorCodeNotFound
	case service.KindInvalidState:
		return ErrorCodeInvalidState
	case service.KindInvalidRequest:
		return ErrorCodeInvalidMessage
	}
	return ErrorCodeInternal
}
