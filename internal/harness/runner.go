// Package harness runs one registered model in a container to completion:
// it resolves the model, serves its documents, submits the job, polls it to
// a terminal state and always tears the container down.
package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/animus-labs/modelharness/internal/archive"
	"github.com/animus-labs/modelharness/internal/docstore"
	"github.com/animus-labs/modelharness/internal/domain"
	"github.com/animus-labs/modelharness/internal/execution/jobrequest"
	"github.com/animus-labs/modelharness/internal/execution/poller"
	"github.com/animus-labs/modelharness/internal/execution/result"
	"github.com/animus-labs/modelharness/internal/modelclient"
	"github.com/animus-labs/modelharness/internal/platform/tracing"
	"github.com/animus-labs/modelharness/internal/registry"
	"github.com/animus-labs/modelharness/internal/runevents"
	"github.com/animus-labs/modelharness/internal/runtimeexec"
)

// Archive stores the artifacts of a finished run.
type Archive interface {
	Save(ctx context.Context, run archive.Run) error
}

// LogDump receives the full container log once the run is over.
type LogDump interface {
	Section(title, body string)
}

type Deps struct {
	Registry registry.Lookup
	Engine   runtimeexec.Engine
	Logger   *slog.Logger

	// Optional.
	ModelLogs poller.LogSink
	LogDump   LogDump
	Events    runevents.Sink
	Archive   Archive

	// NewModelAPI overrides the job protocol client. Tests only.
	NewModelAPI func(baseURL string) (poller.ModelAPI, error)
	NewRunID    func() string
}

type Runner struct {
	cfg       Config
	deps      Deps
	lifecycle *runtimeexec.Manager
	logger    *slog.Logger
}

func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Registry == nil {
		return nil, errors.New("model registry is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = runevents.NopSink{}
	}
	if deps.NewRunID == nil {
		deps.NewRunID = uuid.NewString
	}
	if deps.NewModelAPI == nil {
		timeout := cfg.RequestTimeout
		deps.NewModelAPI = func(baseURL string) (poller.ModelAPI, error) {
			return modelclient.New(baseURL, timeout)
		}
	}
	lifecycle, err := runtimeexec.NewManager(deps.Engine, deps.Logger, cfg.StopGrace)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:       cfg,
		deps:      deps,
		lifecycle: lifecycle,
		logger:    deps.Logger.With("component", "harness"),
	}, nil
}

type RunOptions struct {
	// ModelID selects a model from the manifest; empty means the first.
	ModelID string
	// Ports holds initial port values keyed by port name.
	Ports map[string]any
	// Stream configures the stream service. Stream ports fail without it.
	Stream     *domain.ServiceConfig
	Mounts     []runtimeexec.Mount
	Env        map[string]string
	ExtraPorts []int
}

type Result struct {
	RunID       string                `json:"runId"`
	ModelID     string                `json:"modelId"`
	Image       string                `json:"image"`
	State       domain.ExecutionState `json:"state"`
	Documents   map[string]any        `json:"documents"`
	Failure     domain.ErrorDetail    `json:"modelError,omitempty"`
	Interrupted bool                  `json:"interrupted,omitempty"`
	Duration    time.Duration         `json:"-"`

	// ModelError is the failure the model itself reported. It is data, never
	// the error returned by RunModel.
	ModelError    *domain.ModelError     `json:"-"`
	Status        domain.ExecutionStatus `json:"-"`
	ContainerLogs string                 `json:"-"`
}

// RunModel executes the model registered for modelPath once. Errors cover
// harness failures only; a model-reported failure comes back in
// Result.ModelError with a nil error.
func (r *Runner) RunModel(ctx context.Context, modelPath string, opts RunOptions) (res Result, err error) {
	started := time.Now()
	res.RunID = r.deps.NewRunID()
	logger := r.logger.With("run_id", res.RunID)

	ctx, span := tracing.StartSpan(ctx, "harness.run_model",
		attribute.String("run.id", res.RunID),
		attribute.String("model.path", modelPath),
	)
	defer func() {
		res.Duration = time.Since(started)
		tracing.EndSpan(span, err)
	}()

	entry, err := r.deps.Registry.Lookup(ctx, modelPath)
	if err != nil {
		return res, err
	}
	res.Image = entry.Image
	if _, err := entry.Manifest.Model(opts.ModelID); err != nil {
		return res, err
	}
	if _, err := r.lifecycle.EnsureImage(ctx, entry.Image); err != nil {
		return res, err
	}

	store := docstore.New(r.deps.Logger, docstore.Config{
		Addr:           r.cfg.DocStoreAddr,
		AdvertiseHost:  r.cfg.DocStoreAdvertiseHost,
		OrganisationID: r.cfg.OrganisationID,
	})
	if err := store.Start(); err != nil {
		return res, err
	}
	defer func() {
		if cerr := store.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("close document store", "error", cerr)
		}
	}()

	built, err := jobrequest.Build(entry.Manifest, jobrequest.Options{
		ModelID:         opts.ModelID,
		InitialPorts:    opts.Ports,
		DocumentService: domain.ServiceConfig{URL: store.URL()},
		StreamService:   opts.Stream,
	})
	if err != nil {
		return res, err
	}
	res.ModelID = built.Model.ID
	span.SetAttributes(attribute.String("model.id", res.ModelID), attribute.String("model.image", entry.Image))
	logger = logger.With("model_id", res.ModelID)

	api, err := r.deps.NewModelAPI(r.cfg.ModelBaseURL())
	if err != nil {
		return res, err
	}
	phases := newPhaseRecorder(r.deps.Events, logger, res.RunID, res.ModelID)
	defer phases.end()
	pol, err := poller.New(api, store, r.deps.Logger,
		poller.WithConfig(r.cfg.Poll),
		poller.WithLogSink(r.deps.ModelLogs),
		poller.WithPhaseObserver(phases),
	)
	if err != nil {
		return res, err
	}

	container, err := r.lifecycle.Start(ctx, r.containerSpec(res.RunID, res.ModelID, entry.Image, opts))
	if err != nil {
		return res, err
	}
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			res.ContainerLogs = container.Logs(context.WithoutCancel(ctx))
			if r.deps.LogDump != nil {
				r.deps.LogDump.Section("container log", res.ContainerLogs)
			}
			container.StopAndRemove(ctx)
		})
	}
	defer release()

	logger.Info("model container started", "container_id", container.ID, "docstore_url", store.URL())
	out, err := pol.Run(ctx, built.Request)
	res.Status = out.Status
	res.State = out.Status.State.Normalize()
	if err != nil {
		if errors.Is(err, domain.ErrStartupTimeout) {
			r.reportExit(ctx, logger, container)
		}
		return res, err
	}

	assembled := result.Assemble(result.Input{
		DocumentPorts: built.DocumentPorts,
		Documents:     store.Documents(),
		InitialPorts:  opts.Ports,
		Status:        out.Status,
	})
	res.Documents = assembled.Documents
	res.ModelError = assembled.ModelError
	res.Interrupted = out.Interrupted
	if res.ModelError != nil {
		res.Failure = res.ModelError.Detail
	}
	release()

	r.finish(ctx, logger, res)
	return res, nil
}

// reportExit logs why a container never answered, when the engine knows.
func (r *Runner) reportExit(ctx context.Context, logger *slog.Logger, container *runtimeexec.Container) {
	obs, err := container.Observe(context.WithoutCancel(ctx))
	if err != nil {
		logger.Warn("inspect container", "error", err)
		return
	}
	if !obs.Running {
		logger.Error("model container exited before its job server answered", "status", obs.Status, "exit_code", obs.ExitCode)
		return
	}
	logger.Error("model container is running but its job server never answered", "status", obs.Status)
}

func (r *Runner) containerSpec(runID, modelID, image string, opts RunOptions) runtimeexec.ContainerSpec {
	return runtimeexec.ContainerSpec{
		Name:       "modelharness-" + shortRunID(runID),
		ImageRef:   image,
		Platform:   r.cfg.Platform,
		Network:    r.cfg.Network,
		JobPort:    r.cfg.ModelPort,
		HostPort:   r.cfg.HostPort,
		ExtraPorts: opts.ExtraPorts,
		Env:        opts.Env,
		Mounts:     opts.Mounts,
		Labels: map[string]string{
			"modelharness.run":   runID,
			"modelharness.model": modelID,
		},
	}
}

// finish publishes the final event and archives the run. Both are best
// effort.
func (r *Runner) finish(ctx context.Context, logger *slog.Logger, res Result) {
	ctx = context.WithoutCancel(ctx)
	logger.Info(res.describe(), "interrupted", res.Interrupted)
	ev := runevents.Event{
		RunID:   res.RunID,
		ModelID: res.ModelID,
		Phase:   "finished",
		State:   string(res.State),
	}
	if res.ModelError != nil {
		ev.Message = res.ModelError.Error()
	}
	if err := r.deps.Events.Publish(ctx, ev); err != nil {
		logger.Warn("publish run event", "error", err)
	}
	if r.deps.Archive == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := r.deps.Archive.Save(actx, archive.Run{
		ID:            res.RunID,
		Result:        res,
		Status:        res.Status,
		ContainerLogs: res.ContainerLogs,
	}); err != nil {
		logger.Warn("archive run", "error", err)
		return
	}
	logger.Info("run archived")
}

func shortRunID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// describe renders a one-line summary for logs.
func (res Result) describe() string {
	switch {
	case res.ModelError != nil:
		return fmt.Sprintf("model %s failed: %v", res.ModelID, res.ModelError)
	case res.Interrupted:
		return fmt.Sprintf("model %s interrupted in state %s", res.ModelID, res.State)
	default:
		return fmt.Sprintf("model %s finished in state %s", res.ModelID, res.State)
	}
}
