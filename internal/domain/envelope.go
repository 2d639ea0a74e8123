package domain

import "time"

// ErrorEnvelope is the normalized record of a failure, safe to persist and emit.
type ErrorEnvelope struct {
	ErrorID   string         `json:"error_id"`
	Type      ErrorType      `json:"type"`
	Message   string         `json:"message"`
	Stack     string         `json:"stack,omitempty"`
	NodeID    string         `json:"node_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
	Retryable bool           `json:"retryable"`
}
