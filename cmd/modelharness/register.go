package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"

	"github.com/animus-labs/modelharness/internal/platform/env"
	"github.com/animus-labs/modelharness/internal/registry"
)

func registerCmd(ctx context.Context, logger *slog.Logger, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(stderr)
	model := fs.String("model", "", "model source directory (required)")
	image := fs.String("image", "", "image reference built from the model (required)")
	manifestPath := fs.String("manifest", "", "manifest file, JSON or YAML (required)")
	kind := fs.String("registry", env.String("HARNESS_REGISTRY", "file"), "registry backend: file or postgres")
	path := fs.String("registry-path", env.String("HARNESS_REGISTRY_PATH", ""), "file registry path")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if *model == "" || *image == "" || *manifestPath == "" {
		fmt.Fprintln(stderr, "register: -model, -image and -manifest are required")
		return exitUsage
	}

	manifest, err := loadManifest(*manifestPath)
	if err != nil {
		logger.Error("invalid manifest", "error", err)
		return exitCode(err)
	}
	entry := registry.Entry{Image: *image, Manifest: manifest}
	if err := entry.Validate(); err != nil {
		logger.Error("invalid registry entry", "error", err)
		return exitCode(err)
	}

	reg, closeReg, err := openRegistry(ctx, *kind, *path)
	if err != nil {
		logger.Error("open registry", "error", err)
		return exitCode(err)
	}
	defer closeReg()

	if err := reg.Register(ctx, *model, entry); err != nil {
		logger.Error("register model", "error", err)
		return exitCode(err)
	}
	logger.Info("model registered", "model", *model, "image", *image, "models", manifest.ModelIDs())
	return exitOK
}
