package domain

import "strings"

// ExecutionState is the model-reported state carried by the status endpoint.
type ExecutionState string

const (
	StatePending    ExecutionState = "PENDING"
	StateRunning    ExecutionState = "RUNNING"
	StateSucceeded  ExecutionState = "COMPLETE"
	StateFailed     ExecutionState = "FAILED"
	StateTerminated ExecutionState = "TERMINATED"
)

// Normalize maps wire spellings onto the known states.
func (s ExecutionState) Normalize() ExecutionState {
	switch v := ExecutionState(strings.ToUpper(strings.TrimSpace(string(s)))); v {
	case "SUCCEEDED", "SUCCESS", "COMPLETED":
		return StateSucceeded
	default:
		return v
	}
}

// Active reports whether polling continues for this state.
func (s ExecutionState) Active() bool {
	switch s.Normalize() {
	case StatePending, StateRunning:
		return true
	default:
		return false
	}
}

func (s ExecutionState) Terminal() bool {
	switch s.Normalize() {
	case StateSucceeded, StateFailed, StateTerminated:
		return true
	default:
		return false
	}
}

type LogLevel string

const (
	LogDebug    LogLevel = "DEBUG"
	LogInfo     LogLevel = "INFO"
	LogWarning  LogLevel = "WARNING"
	LogError    LogLevel = "ERROR"
	LogCritical LogLevel = "CRITICAL"
	LogStdout   LogLevel = "STDOUT"
	LogStderr   LogLevel = "STDERR"
)

type LogEntry struct {
	Level     LogLevel `json:"level"`
	Message   string   `json:"message"`
	Timestamp string   `json:"timestamp"`
}

// ExecutionStatus is one snapshot of the status endpoint. Each poll replaces
// the previous snapshot; Log is cumulative on the model side.
type ExecutionStatus struct {
	State     ExecutionState `json:"state"`
	Progress  *float64       `json:"progress,omitempty"`
	Message   string         `json:"message,omitempty"`
	Log       []LogEntry     `json:"log,omitempty"`
	Exception ErrorDetail    `json:"exception,omitempty"`
}

// Failure returns the model-reported error for a FAILED snapshot.
func (s ExecutionStatus) Failure() *ModelError {
	if s.State.Normalize() != StateFailed {
		return nil
	}
	return &ModelError{Detail: s.Exception}
}
