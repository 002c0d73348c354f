package poller

import (
	"context"

	"github.com/animus-labs/modelharness/internal/domain"
)

type Phase int

const (
	PhaseUnknown Phase = iota
	PhaseAwaitingListen
	PhaseSubmitted
	PhasePending
	PhaseRunning
	PhaseSucceeded
	PhaseFailed
	PhaseTerminated
	PhaseTerminating
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingListen:
		return "awaiting_listen"
	case PhaseSubmitted:
		return "submitted"
	case PhasePending:
		return "pending"
	case PhaseRunning:
		return "running"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	case PhaseTerminated:
		return "terminated"
	case PhaseTerminating:
		return "terminating"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// PhaseObserver is told about every phase transition, in order.
type PhaseObserver interface {
	PhaseChanged(ctx context.Context, from, to Phase, status domain.ExecutionStatus)
}

type PhaseObserverFunc func(ctx context.Context, from, to Phase, status domain.ExecutionStatus)

func (f PhaseObserverFunc) PhaseChanged(ctx context.Context, from, to Phase, status domain.ExecutionStatus) {
	f(ctx, from, to, status)
}

func phaseFor(state domain.ExecutionState) Phase {
	switch state.Normalize() {
	case domain.StatePending:
		return PhasePending
	case domain.StateRunning:
		return PhaseRunning
	case domain.StateSucceeded:
		return PhaseSucceeded
	case domain.StateFailed:
		return PhaseFailed
	case domain.StateTerminated:
		return PhaseTerminated
	default:
		return PhaseUnknown
	}
}
