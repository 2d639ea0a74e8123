package domain

import "time"

// Notification is a lifecycle message pushed to observers.
type Notification struct {
	Type      NotificationType `json:"type"`
	RunID     string           `json:"run_id"`
	Timestamp time.Time        `json:"ts"`
	Payload   any              `json:"payload"`
}

// RunStartedPayload is the payload of run_started.
type RunStartedPayload struct {
	RunID        string    `json:"run_id"`
	GraphID      string    `json:"graph_id"`
	GraphVersion string    `json:"graph_version"`
	StartedAt    time.Time `json:"started_at"`
}

// StepStartedPayload is the payload of step_started.
type StepStartedPayload struct {
	RunID     string    `json:"run_id"`
	StepID    string    `json:"step_id"`
	NodeID    string    `json:"node_id"`
	NodeType  NodeType  `json:"node_type"`
	NodeLabel string    `json:"node_label"`
	Sequence  int       `json:"sequence"`
	StartedAt time.Time `json:"started_at"`
}

// StepCompletedPayload is the payload of step_completed.
type StepCompletedPayload struct {
	RunID    string     `json:"run_id"`
	StepID   string     `json:"step_id"`
	NodeID   string     `json:"node_id"`
	NodeType NodeType   `json:"node_type"`
	Event    *StepEvent `json:"event"`
}

// RunPausedPayload is the payload of run_paused.
type RunPausedPayload struct {
	RunID    string    `json:"run_id"`
	PausedAt time.Time `json:"paused_at"`
}

// RunResumedPayload is the payload of run_resumed.
type RunResumedPayload struct {
	RunID     string    `json:"run_id"`
	ResumedAt time.Time `json:"resumed_at"`
}

// ErrorPayload is the payload of error.
type ErrorPayload struct {
	RunID  string         `json:"run_id"`
	StepID string         `json:"step_id,omitempty"`
	Error  *ErrorEnvelope `json:"error"`
}

// RunCompletedPayload is the payload of run_completed.
type RunCompletedPayload struct {
	RunID        string         `json:"run_id"`
	State        RunState       `json:"state"`
	Output       map[string]any `json:"output,omitempty"`
	TotalTokens  int            `json:"total_tokens"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	DurationMs   int64          `json:"duration_ms"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// RunForkedPayload is the payload of run_forked.
type RunForkedPayload struct {
	NewRunID      string    `json:"new_run_id"`
	ParentRunID   string    `json:"parent_run_id"`
	FromStepID    string    `json:"from_step_id"`
	ForkStartedAt time.Time `json:"fork_started_at"`
}
