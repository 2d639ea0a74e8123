// Package domain defines the core domain models for the graph runtime.
package domain

// NodeType identifies which executor handles a node.
type NodeType string

const (
	NodeTypeInput      NodeType = "INPUT"
	NodeTypeOutput     NodeType = "OUTPUT"
	NodeTypeLLM        NodeType = "LLM"
	NodeTypeTool       NodeType = "TOOL"
	NodeTypeMemory     NodeType = "MEMORY"
	NodeTypePlanning   NodeType = "PLANNING"
	NodeTypeReflection NodeType = "REFLECTION"
)

// RunState represents the lifecycle state of a run.
type RunState string

const (
	RunStateIdle      RunState = "IDLE"
	RunStateRunning   RunState = "RUNNING"
	RunStatePaused    RunState = "PAUSED"
	RunStateCompleted RunState = "COMPLETED"
	RunStateFailed    RunState = "FAILED"
	RunStateCancelled RunState = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunStateCompleted, RunStateFailed, RunStateCancelled:
		return true
	}
	return false
}

// StepState represents the lifecycle state of a step.
type StepState string

const (
	StepStatePending StepState = "PENDING"
	StepStateRunning StepState = "RUNNING"
	StepStateSuccess StepState = "SUCCESS"
	StepStateError   StepState = "ERROR"
)

// BackoffStrategy controls the wait between retry attempts.
type BackoffStrategy string

const (
	BackoffFixed       BackoffStrategy = "FIXED"
	BackoffExponential BackoffStrategy = "EXPONENTIAL"
)

// CacheStrategy is carried on nodes for tooling; the runtime does not cache.
type CacheStrategy string

const (
	CacheNone      CacheStrategy = "NO_CACHE"
	CacheInputHash CacheStrategy = "INPUT_HASH"
	CacheForever   CacheStrategy = "FOREVER"
)

// ErrorType classifies failures for retry decisions and reporting.
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "VALIDATION_ERROR"
	ErrorTypeConfig         ErrorType = "CONFIG_ERROR"
	ErrorTypeLLM            ErrorType = "LLM_ERROR"
	ErrorTypeTool           ErrorType = "TOOL_ERROR"
	ErrorTypeTimeout        ErrorType = "TIMEOUT_ERROR"
	ErrorTypeRateLimit      ErrorType = "RATE_LIMIT_ERROR"
	ErrorTypeNetwork        ErrorType = "NETWORK_ERROR"
	ErrorTypePolicyBlocked  ErrorType = "POLICY_BLOCKED"
	ErrorTypeBudgetExceeded ErrorType = "BUDGET_EXCEEDED"
	ErrorTypePersistence    ErrorType = "PERSISTENCE_ERROR"
	ErrorTypeCancelled      ErrorType = "CANCELLED"
	ErrorTypeSystem         ErrorType = "SYSTEM_ERROR"
)

// NotificationType names a lifecycle notification emitted by the runtime.
type NotificationType string

const (
	NotificationRunStarted    NotificationType = "run_started"
	NotificationStepStarted   NotificationType = "step_started"
	NotificationStepCompleted NotificationType = "step_completed"
	NotificationRunPaused     NotificationType = "run_paused"
	NotificationRunResumed    NotificationType = "run_resumed"
	NotificationError         NotificationType = "error"
	NotificationRunCompleted  NotificationType = "run_completed"
	NotificationRunForked     NotificationType = "run_forked"
)
