package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/animus-labs/modelharness/internal/archive"
	"github.com/animus-labs/modelharness/internal/console"
	"github.com/animus-labs/modelharness/internal/domain"
	"github.com/animus-labs/modelharness/internal/harness"
	"github.com/animus-labs/modelharness/internal/platform/env"
	"github.com/animus-labs/modelharness/internal/platform/objectstore"
	"github.com/animus-labs/modelharness/internal/platform/tracing"
	"github.com/animus-labs/modelharness/internal/runevents"
	"github.com/animus-labs/modelharness/internal/runtimeexec"
	"github.com/animus-labs/modelharness/internal/streamauth"
)

// newEngine is replaced in tests.
var newEngine = func(dockerBin string) (runtimeexec.Engine, error) {
	return runtimeexec.NewDockerExecutor(dockerBin)
}

type runFlags struct {
	model        string
	id           string
	portsFile    string
	ports        listFlag
	streamURL    string
	streamKey    string
	mounts       listFlag
	env          listFlag
	expose       listFlag
	registry     string
	registryPath string
}

func parseRunFlags(args []string, stderr io.Writer) (runFlags, error) {
	var f runFlags
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.model, "model", "", "model source directory (required)")
	fs.StringVar(&f.id, "id", "", "model id from the manifest (default: first model)")
	fs.StringVar(&f.portsFile, "ports", "", "YAML or JSON file with initial port values")
	fs.Var(&f.ports, "port", "initial port value name=value (repeatable)")
	fs.StringVar(&f.streamURL, "stream-url", "", "stream service URL")
	fs.StringVar(&f.streamKey, "stream-key", "", "stream service API key")
	fs.Var(&f.mounts, "mount", "bind mount src:dst[:ro] (repeatable)")
	fs.Var(&f.env, "env", "container environment K=V (repeatable)")
	fs.Var(&f.expose, "expose", "additional container port to publish (repeatable)")
	fs.StringVar(&f.registry, "registry", env.String("HARNESS_REGISTRY", "file"), "registry backend: file or postgres")
	fs.StringVar(&f.registryPath, "registry-path", env.String("HARNESS_REGISTRY_PATH", ""), "file registry path")
	if err := fs.Parse(args); err != nil {
		return f, err
	}
	if f.model == "" {
		return f, errors.New("-model is required")
	}
	if fs.NArg() > 0 {
		return f, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

func (f runFlags) options(ctx context.Context) (harness.RunOptions, error) {
	ports, err := loadPorts(f.portsFile, f.ports)
	if err != nil {
		return harness.RunOptions{}, err
	}
	mounts, err := parseMounts(f.mounts)
	if err != nil {
		return harness.RunOptions{}, err
	}
	envVars, err := parseAssignments(f.env)
	if err != nil {
		return harness.RunOptions{}, err
	}
	extra, err := parsePorts(f.expose)
	if err != nil {
		return harness.RunOptions{}, err
	}
	stream, err := f.stream(ctx)
	if err != nil {
		return harness.RunOptions{}, err
	}
	return harness.RunOptions{
		ModelID:    f.id,
		Ports:      ports,
		Stream:     stream,
		Mounts:     mounts,
		Env:        envVars,
		ExtraPorts: extra,
	}, nil
}

// stream resolves the stream service. A key given on the command line wins;
// otherwise one is obtained from the environment configuration.
func (f runFlags) stream(ctx context.Context) (*domain.ServiceConfig, error) {
	if f.streamURL == "" {
		if f.streamKey != "" {
			return nil, fmt.Errorf("%w: -stream-key needs -stream-url", domain.ErrConfiguration)
		}
		return nil, nil
	}
	svc := &domain.ServiceConfig{URL: f.streamURL, APIKey: f.streamKey}
	if svc.APIKey != "" {
		return svc, nil
	}
	cfg := streamauth.ConfigFromEnv()
	if !cfg.Configured() {
		return svc, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	key, err := streamauth.Credential(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("stream credential: %w", err)
	}
	svc.APIKey = key
	return svc, nil
}

func runCmd(parent context.Context, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	flags, err := parseRunFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "run: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := harness.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return exitUsage
	}

	shutdown, err := tracing.Init("modelharness", env.String("HARNESS_TRACE_EXPORTER", "none"), stderr)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		return exitUsage
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()

	opts, err := flags.options(ctx)
	if err != nil {
		logger.Error("invalid run options", "error", err)
		return exitCode(err)
	}

	reg, closeReg, err := openRegistry(ctx, flags.registry, flags.registryPath)
	if err != nil {
		logger.Error("open registry", "error", err)
		return exitCode(err)
	}
	defer closeReg()

	engine, err := newEngine(cfg.DockerBin)
	if err != nil {
		logger.Error("container engine unavailable", "error", err)
		return exitFailure
	}

	events, err := openEvents(logger)
	if err != nil {
		logger.Error("run events", "error", err)
		return exitUsage
	}
	defer events.Close()

	arch, err := openArchive()
	if err != nil {
		logger.Error("run archive", "error", err)
		return exitUsage
	}

	printer := console.NewPrinter(stderr)
	deps := harness.Deps{
		Registry:  reg,
		Engine:    engine,
		Logger:    logger,
		ModelLogs: printer,
		LogDump:   printer,
		Events:    events,
	}
	if arch != nil {
		deps.Archive = arch
	}
	runner, err := harness.NewRunner(cfg, deps)
	if err != nil {
		logger.Error("harness init failed", "error", err)
		return exitCode(err)
	}

	res, err := runner.RunModel(ctx, flags.model, opts)
	if err != nil {
		logger.Error("run failed", "run_id", res.RunID, "error", err)
		return exitCode(err)
	}
	if err := writeResult(stdout, res); err != nil {
		logger.Error("write result", "error", err)
		return exitFailure
	}
	switch {
	case res.ModelError != nil:
		return exitModelFailure
	case res.Interrupted:
		return exitFailure
	default:
		return exitOK
	}
}

func openEvents(logger *slog.Logger) (runevents.Sink, error) {
	cfg, err := runevents.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return runevents.NopSink{}, nil
	}
	sink, err := runevents.NewRedisSink(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("publishing run events", "redis_addr", cfg.Addr)
	return sink, nil
}

// openArchive returns nil when no object store is configured.
func openArchive() (*archive.Archiver, error) {
	cfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := objectstore.NewMinioStore(cfg)
	if err != nil {
		return nil, err
	}
	return archive.New(store, cfg.Bucket, cfg.Prefix)
}

func writeResult(w io.Writer, res harness.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
