// Package registry maps a model source path to the image built from it and
// the manifest describing its models.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/animus-labs/modelharness/internal/domain"
)

type Entry struct {
	Image    string          `json:"image" yaml:"image"`
	Manifest domain.Manifest `json:"manifest" yaml:"manifest"`
}

func (e Entry) Validate() error {
	if strings.TrimSpace(e.Image) == "" {
		return fmt.Errorf("%w: registry entry has no image", domain.ErrConfiguration)
	}
	if len(e.Manifest.Models) == 0 {
		return fmt.Errorf("%w: registry entry manifest has no models", domain.ErrConfiguration)
	}
	return nil
}

// Lookup resolves a registered model. Unknown paths return an error wrapping
// domain.ErrUnregisteredModel.
type Lookup interface {
	Lookup(ctx context.Context, modelPath string) (Entry, error)
}

type Registrar interface {
	Lookup
	Register(ctx context.Context, modelPath string, entry Entry) error
}

// Key normalizes a model path to the form entries are stored under: absolute,
// cleaned, forward slashes.
func Key(modelPath string) (string, error) {
	modelPath = strings.TrimSpace(modelPath)
	if modelPath == "" {
		return "", fmt.Errorf("%w: model path is required", domain.ErrConfiguration)
	}
	abs, err := filepath.Abs(modelPath)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", modelPath, err)
	}
	return filepath.ToSlash(abs), nil
}

func unregistered(key string) error {
	return fmt.Errorf("%w: %s (build and register the model first)", domain.ErrUnregisteredModel, key)
}
