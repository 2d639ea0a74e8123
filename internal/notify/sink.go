// Package notify fans lifecycle notifications out to observers.
package notify

import (
	"go.uber.org/zap"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// Sink receives lifecycle notifications. Notify must not block for long; it
// is called from the run's own goroutine.
type Sink interface {
	Notify(n domain.Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(n domain.Notification)

// Notify calls f(n).
func (f SinkFunc) Notify(n domain.Notification) { f(n) }

// Nop discards notifications.
var Nop Sink = SinkFunc(func(domain.Notification) {})

// Multi delivers every notification to each sink in order. A panicking sink
// is logged and does not stop delivery to the rest.
type Multi struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewMulti creates a fan-out sink. Nil sinks are skipped.
func NewMulti(logger *zap.Logger, sinks ...Sink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Multi{logger: logger}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Notify implements Sink.
func (m *Multi) Notify(n domain.Notification) {
	for _, s := range m.sinks {
		m.deliver(s, n)
	}
}

func (m *Multi) deliver(s Sink, n domain.Notification) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("notification sink panicked",
				zap.String("type", string(n.Type)),
				zap.String("run_id", n.RunID),
				zap.Any("panic", r))
		}
	}()
	s.Notify(n)
}

// LogSink writes each notification as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink logging at info level, errors at warn.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Notify implements Sink.
func (s *LogSink) Notify(n domain.Notification) {
	fields := []zap.Field{
		zap.String("type", string(n.Type)),
		zap.String("run_id", n.RunID),
		zap.Time("ts", n.Timestamp),
	}
	switch p := n.Payload.(type) {
	case domain.StepStartedPayload:
		fields = append(fields, zap.String("node_id", p.NodeID), zap.Int("sequence", p.Sequence))
	case domain.StepCompletedPayload:
		fields = append(fields, zap.String("node_id", p.NodeID), zap.String("step_id", p.StepID))
	case domain.RunCompletedPayload:
		fields = append(fields, zap.String("state", string(p.State)),
			zap.Int("total_tokens", p.TotalTokens), zap.Int64("duration_ms", p.DurationMs))
	case domain.ErrorPayload:
		if p.Error != nil {
			fields = append(fields, zap.String("error_type", string(p.Error.Type)), zap.String("error", p.Error.Message))
		}
		s.logger.Warn("run notification", fields...)
		return
	}
	s.logger.Info("run notification", fields...)
}
