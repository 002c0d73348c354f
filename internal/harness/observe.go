package harness

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/animus-labs/modelharness/internal/domain"
	"github.com/animus-labs/modelharness/internal/execution/poller"
	"github.com/animus-labs/modelharness/internal/platform/tracing"
	"github.com/animus-labs/modelharness/internal/runevents"
)

// phaseRecorder turns poller phase transitions into run events and one span
// per phase.
type phaseRecorder struct {
	events  runevents.Sink
	logger  *slog.Logger
	runID   string
	modelID string
	span    trace.Span
}

func newPhaseRecorder(events runevents.Sink, logger *slog.Logger, runID, modelID string) *phaseRecorder {
	return &phaseRecorder{events: events, logger: logger, runID: runID, modelID: modelID}
}

func (p *phaseRecorder) PhaseChanged(ctx context.Context, from, to poller.Phase, status domain.ExecutionStatus) {
	p.end()
	if to != poller.PhaseDone {
		_, p.span = tracing.StartSpan(ctx, "harness.phase."+to.String(),
			attribute.String("run.id", p.runID),
			attribute.String("phase.from", from.String()),
		)
	}

	ev := runevents.Event{
		RunID:   p.runID,
		ModelID: p.modelID,
		From:    from.String(),
		Phase:   to.String(),
		State:   string(status.State),
		Message: status.Message,
	}
	if err := p.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		p.logger.Warn("publish phase event", "phase", to.String(), "error", err)
	}
}

// end closes the open phase span, if any.
func (p *phaseRecorder) end() {
	if p.span != nil {
		p.span.End()
		p.span = nil
	}
}
