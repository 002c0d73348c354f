// Package poller drives a submitted job to a terminal state: wait for the
// model's job server, submit, then poll status while servicing the document
// store and draining new log entries.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/modelharness/internal/domain"
)

// ModelAPI is the in-container job protocol.
type ModelAPI interface {
	Probe(ctx context.Context) (*domain.ExecutionStatus, error)
	Submit(ctx context.Context, req domain.JobRequest) error
	Status(ctx context.Context) (domain.ExecutionStatus, error)
	Terminate(ctx context.Context, timeout time.Duration) error
}

// DocumentServicer applies at most one pending document request per call.
type DocumentServicer interface {
	ServeOne(ctx context.Context, timeout time.Duration) (bool, error)
}

type LogSink interface {
	Emit(entry domain.LogEntry)
}

type LogSinkFunc func(domain.LogEntry)

func (f LogSinkFunc) Emit(entry domain.LogEntry) { f(entry) }

type Config struct {
	ProbeInterval        time.Duration
	MaxProbeRetries      int
	PollInterval         time.Duration
	DocumentServeTimeout time.Duration
	TerminateTimeout     time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProbeInterval:        time.Second,
		MaxProbeRetries:      5,
		PollInterval:         500 * time.Millisecond,
		DocumentServeTimeout: 100 * time.Millisecond,
		TerminateTimeout:     10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = def.ProbeInterval
	}
	if c.MaxProbeRetries < 0 {
		c.MaxProbeRetries = def.MaxProbeRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.DocumentServeTimeout < 0 {
		c.DocumentServeTimeout = def.DocumentServeTimeout
	}
	if c.TerminateTimeout <= 0 {
		c.TerminateTimeout = def.TerminateTimeout
	}
	return c
}

// Outcome is what the poll loop observed. Status is the last snapshot that
// was retrieved successfully.
type Outcome struct {
	Status domain.ExecutionStatus
	Phase  Phase
	// Final is the last state-derived phase: succeeded, failed, terminated,
	// or pending/running when polling was interrupted.
	Final Phase
	// Interrupted is set when polling stopped before a terminal state was
	// seen, because of a transport error or cancellation.
	Interrupted  bool
	InterruptErr error
	TerminateErr error
	StatusPolls  int
}

type Poller struct {
	api     ModelAPI
	docs    DocumentServicer
	logs    LogSink
	logger  *slog.Logger
	cfg     Config
	observe PhaseObserver
}

type Option func(*Poller)

func WithLogSink(sink LogSink) Option {
	return func(p *Poller) { p.logs = sink }
}

func WithPhaseObserver(obs PhaseObserver) Option {
	return func(p *Poller) { p.observe = obs }
}

func WithConfig(cfg Config) Option {
	return func(p *Poller) { p.cfg = cfg.withDefaults() }
}

func New(api ModelAPI, docs DocumentServicer, logger *slog.Logger, opts ...Option) (*Poller, error) {
	if api == nil {
		return nil, errors.New("model api is required")
	}
	if docs == nil {
		return nil, errors.New("document servicer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		api:    api,
		docs:   docs,
		logger: logger.With("component", "poller"),
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logs == nil {
		p.logs = LogSinkFunc(p.logEntry)
	}
	return p, nil
}

func (p *Poller) Run(ctx context.Context, req domain.JobRequest) (Outcome, error) {
	out := Outcome{}
	p.enter(ctx, &out, PhaseAwaitingListen)
	probed, err := p.awaitListen(ctx)
	if err != nil {
		return out, err
	}

	if err := p.api.Submit(ctx, req); err != nil {
		return out, err
	}
	p.enter(ctx, &out, PhaseSubmitted)
	// The probe answer is the first snapshot; it stands if no poll succeeds.
	out.Status = domain.ExecutionStatus{State: domain.StatePending}
	if probed != nil && probed.State != "" {
		out.Status = *probed
	}

	p.poll(ctx, &out)

	if failure := out.Status.Failure(); failure != nil {
		p.logger.Warn("model reported failure", "error", failure.Error())
	}

	p.enter(ctx, &out, PhaseTerminating)
	out.TerminateErr = p.terminate(ctx)
	p.enter(ctx, &out, PhaseDone)
	return out, nil
}

// awaitListen probes until the job server answers and returns the status it
// answered with, which is nil for a non-status body.
func (p *Poller) awaitListen(ctx context.Context) (*domain.ExecutionStatus, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxProbeRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.cfg.ProbeInterval); err != nil {
				return nil, fmt.Errorf("wait for model server: %w", err)
			}
		}
		status, err := p.api.Probe(ctx)
		if err == nil {
			p.logger.Debug("model server is listening", "attempts", attempt+1)
			return status, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("wait for model server: %w", ctx.Err())
		}
		lastErr = err
		p.logger.Debug("model server not ready", "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("%w: no answer after %d attempts: %v", domain.ErrStartupTimeout, p.cfg.MaxProbeRetries+1, lastErr)
}

func (p *Poller) poll(ctx context.Context, out *Outcome) {
	cursor := 0
	for {
		if _, err := p.docs.ServeOne(ctx, p.cfg.DocumentServeTimeout); err != nil {
			p.interrupt(out, fmt.Errorf("service document store: %w", err))
			return
		}

		status, err := p.api.Status(ctx)
		if err != nil {
			p.interrupt(out, err)
			return
		}
		out.StatusPolls++
		out.Status = status
		cursor = p.drain(status.Log, cursor)
		out.Final = phaseFor(status.State)
		p.enter(ctx, out, out.Final)

		if !status.State.Active() {
			return
		}
		if err := sleep(ctx, p.cfg.PollInterval); err != nil {
			p.interrupt(out, err)
			return
		}
	}
}

// drain emits the entries past cursor and returns the new cursor. A log that
// shrank means the model restarted it; start over.
func (p *Poller) drain(entries []domain.LogEntry, cursor int) int {
	if cursor > len(entries) {
		cursor = 0
	}
	for _, entry := range entries[cursor:] {
		p.logs.Emit(entry)
	}
	return len(entries)
}

func (p *Poller) interrupt(out *Outcome, err error) {
	out.Interrupted = true
	out.InterruptErr = err
	p.logger.Warn("polling interrupted", "state", string(out.Status.State), "error", err)
}

func (p *Poller) terminate(ctx context.Context) error {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.TerminateTimeout+5*time.Second)
	defer cancel()
	if err := p.api.Terminate(tctx, p.cfg.TerminateTimeout); err != nil {
		p.logger.Warn("terminate request failed", "error", err)
		return err
	}
	return nil
}

func (p *Poller) enter(ctx context.Context, out *Outcome, next Phase) {
	if next == out.Phase {
		return
	}
	prev := out.Phase
	out.Phase = next
	p.logger.Debug("phase", "from", prev.String(), "to", next.String())
	if p.observe != nil {
		p.observe.PhaseChanged(ctx, prev, next, out.Status)
	}
}

func (p *Poller) logEntry(entry domain.LogEntry) {
	level := slog.LevelInfo
	switch entry.Level {
	case domain.LogDebug, domain.LogStdout:
		level = slog.LevelDebug
	case domain.LogWarning:
		level = slog.LevelWarn
	case domain.LogError, domain.LogCritical, domain.LogStderr:
		level = slog.LevelError
	}
	p.logger.Log(context.Background(), level, entry.Message, "model_level", string(entry.Level), "model_ts", entry.Timestamp)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
