package ws

// Message types from client to server
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeRun         = "command:run"
	TypePause       = "command:pause"
	TypeResume      = "command:resume"
	TypeCancel      = "command:cancel"
	TypeFork        = "command:fork"
)

// Message types from server to client. Run notifications are forwarded as
// domain.Notification values and are not listed here.
const (
	TypeAck          = "ack"
	TypeCommandError = "command_error"
)

// Error codes carried by command_error.
const (
	ErrorCodeInvalidMessage = "INVALID_MESSAGE"
	ErrorCodeNotFound       = "NOT_FOUND"
	ErrorCodeInvalidState   = "INVALID_STATE"
	ErrorCodeInternal       = "INTERNAL_ERROR"
)

// ClientMessage is the envelope of every client command. Fields not used by
// a command are ignored.
type ClientMessage struct {
	Type          string         `json:"type"`
	RequestID     string         `json:"request_id,omitempty"`
	RunID         string         `json:"run_id,omitempty"`
	GraphID       string         `json:"graph_id,omitempty"`
	Input         map[string]any `json:"input,omitempty"`
	FromStepID    string         `json:"from_step_id,omitempty"`
	InputOverride map[string]any `json:"input_override,omitempty"`
}

// AckMessage confirms a command. RunID is the run the command created or
// targeted.
type AckMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	Command   string `json:"command"`
	RunID     string `json:"run_id,omitempty"`
}

// CommandErrorMessage reports a rejected command.
type CommandErrorMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	RequestID string `json:"request_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}
