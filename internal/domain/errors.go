package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks bad caller input. Nothing has been started when it
	// is returned.
	ErrConfiguration = errors.New("configuration error")
	// ErrUnknownModelID marks a model id the manifest does not declare.
	ErrUnknownModelID = errors.New("unknown model id")
	// ErrStartupTimeout marks a container whose job server never became reachable.
	ErrStartupTimeout = errors.New("model startup timeout")
	// ErrSubmission marks a job request the model rejected.
	ErrSubmission = errors.New("job submission rejected")
	// ErrEngine marks a failed container engine operation.
	ErrEngine = errors.New("container engine error")
	// ErrUnregisteredModel marks a model path absent from the registry.
	ErrUnregisteredModel = errors.New("model not registered")
)

// ErrorDetail is the exception object a model reports with a FAILED status.
type ErrorDetail map[string]any

// ModelError is a failure reported by the model itself. It is returned as
// data alongside the run result, never as the run's error.
type ModelError struct {
	Detail ErrorDetail
}

func (e *ModelError) Error() string {
	if e == nil || len(e.Detail) == 0 {
		return "model reported failure"
	}
	for _, key := range []string{"msg", "message"} {
		if msg, ok := e.Detail[key].(string); ok && msg != "" {
			return "model reported failure: " + msg
		}
	}
	raw, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Sprintf("model reported failure: %v", map[string]any(e.Detail))
	}
	return "model reported failure: " + string(raw)
}
