// Command modelharness runs registered analysis models locally in a
// container and prints the documents they produce.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/animus-labs/modelharness/internal/domain"
	"github.com/animus-labs/modelharness/internal/platform/env"
	"github.com/animus-labs/modelharness/internal/platform/postgres"
	"github.com/animus-labs/modelharness/internal/registry"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitUsage        = 2
	exitModelFailure = 3
)

const usage = `usage:
  modelharness run -model <dir> [-id <modelId>] [-ports file.yaml] [-port name=value ...]
                   [-stream-url URL [-stream-key KEY]] [-mount src:dst[:ro] ...] [-env K=V ...]
                   [-expose port ...] [-registry file|postgres] [-registry-path path]
  modelharness register -model <dir> -image <ref> -manifest <manifest.json>
                   [-registry file|postgres] [-registry-path path]
`

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	if err := env.LoadDotEnv(env.String("HARNESS_ENV_FILE", ".env")); err != nil {
		fmt.Fprintf(stderr, "load env file: %v\n", err)
		return exitUsage
	}
	logger, err := newLogger(stderr)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}

	switch args[0] {
	case "run":
		return runCmd(ctx, logger, args[1:], stdout, stderr)
	case "register":
		return registerCmd(ctx, logger, args[1:], stderr)
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return exitUsage
	}
}

func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.String("HARNESS_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("parse HARNESS_LOG_LEVEL: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(env.String("HARNESS_LOG_FORMAT", "json")) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, errors.New("HARNESS_LOG_FORMAT must be json or text")
	}
}

// openRegistry returns the configured registry and a function releasing it.
func openRegistry(ctx context.Context, kind, path string) (registry.Registrar, func(), error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "file":
		reg, err := registry.NewFileRegistry(path)
		if err != nil {
			return nil, nil, err
		}
		return reg, func() {}, nil
	case "postgres":
		cfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
		db, err := postgres.Open(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("registry database: %w", err)
		}
		reg := registry.NewPostgresRegistry(db)
		if err := reg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return reg, func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown registry %q (want file or postgres)", domain.ErrConfiguration, kind)
	}
}

// exitCode maps a harness error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrConfiguration),
		errors.Is(err, domain.ErrUnknownModelID),
		errors.Is(err, domain.ErrUnregisteredModel):
		return exitUsage
	default:
		return exitFailure
	}
}
