package harness

import (
	"strings"

	"github.com/animus-labs/modelharness/internal/domain"
)

// ValidationError aggregates configuration issues. It matches
// domain.ErrConfiguration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "harness config invalid"
	}
	return "harness config invalid: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrConfiguration
}

func (e *ValidationError) Add(issue string) {
	if strings.TrimSpace(issue) == "" {
		return
	}
	e.Issues = append(e.Issues, issue)
}

func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}
