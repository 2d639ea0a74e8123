package domain

import (
	"encoding/json"
	"time"
)

// Run is one execution instance of a graph.
type Run struct {
	RunID          string         `json:"run_id"`
	GraphID        string         `json:"graph_id"`
	GraphVersion   string         `json:"graph_version"`
	State          RunState       `json:"state"`
	ParentRunID    string         `json:"parent_run_id,omitempty"`
	ForkFromStepID string         `json:"fork_from_step_id,omitempty"`
	ParentVersion  string         `json:"parent_version,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Output         map[string]any `json:"output,omitempty"`
	TotalTokens    int            `json:"total_tokens"`
	TotalCostUSD   float64        `json:"total_cost_usd"`
	DurationMs     int64          `json:"duration_ms"`
	Error          *ErrorEnvelope `json:"error,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RunCompletion carries the terminal values written when a run ends.
type RunCompletion struct {
	State        RunState
	Output       map[string]any
	TotalTokens  int
	TotalCostUSD float64
	DurationMs   int64
	Error        *ErrorEnvelope
	CompletedAt  time.Time
}

// Step is one node execution within a run.
type Step struct {
	StepID      string     `json:"step_id"`
	RunID       string     `json:"run_id"`
	NodeID      string     `json:"node_id"`
	NodeType    NodeType   `json:"node_type"`
	NodeLabel   string     `json:"node_label"`
	State       StepState  `json:"state"`
	Inherited   bool       `json:"inherited"`
	RetryCount  int        `json:"retry_count"`
	Sequence    int        `json:"sequence"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
}

// StepUpdate holds the optional fields set alongside a step state change.
type StepUpdate struct {
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationMs  *int64
	RetryCount  *int
}

// StepEvent is an immutable record of a node's outcome.
type StepEvent struct {
	EventID        string          `json:"event_id"`
	RunID          string          `json:"run_id"`
	StepID         string          `json:"step_id"`
	NodeID         string          `json:"node_id"`
	Timestamp      time.Time       `json:"timestamp"`
	InputSnapshot  json.RawMessage `json:"input_snapshot,omitempty"`
	RenderedPrompt string          `json:"rendered_prompt,omitempty"`
	Output         json.RawMessage `json:"output,omitempty"`
	Error          *ErrorEnvelope  `json:"error,omitempty"`
	Tokens         int             `json:"tokens"`
	CostUSD        float64         `json:"cost_usd"`
	DurationMs     int64           `json:"duration_ms"`
	ProviderMeta   *ProviderMeta   `json:"provider_meta,omitempty"`
	CacheHit       bool            `json:"cache_hit"`
	CacheKey       string          `json:"cache_key,omitempty"`
}

// ProviderMeta records which model produced an LLM output.
type ProviderMeta struct {
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature,omitempty"`
	TopP         *float64 `json:"top_p,omitempty"`
	ModelVersion string   `json:"model_version,omitempty"`
}

// RunStats aggregates the events of a run.
type RunStats struct {
	TotalTokens  int     `json:"total_tokens"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	EventCount   int     `json:"event_count"`
	ErrorCount   int     `json:"error_count"`
}
