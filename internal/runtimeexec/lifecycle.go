package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/animus-labs/modelharness/internal/domain"
)

const (
	defaultStopGrace      = 10 * time.Second
	defaultCleanupTimeout = 30 * time.Second
)

// Manager owns container existence for a run. Nothing else starts, stops or
// removes the container it hands out.
type Manager struct {
	engine    Engine
	logger    *slog.Logger
	stopGrace time.Duration
}

func NewManager(engine Engine, logger *slog.Logger, stopGrace time.Duration) (*Manager, error) {
	if engine == nil {
		return nil, errors.New("container engine is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if stopGrace <= 0 {
		stopGrace = defaultStopGrace
	}
	return &Manager{engine: engine, logger: logger.With("component", "lifecycle", "engine", engine.Kind()), stopGrace: stopGrace}, nil
}

// EnsureImage fails with domain.ErrEngine when imageRef is not present locally.
func (m *Manager) EnsureImage(ctx context.Context, imageRef string) (string, error) {
	id, err := m.engine.ResolveImageID(ctx, imageRef)
	if err != nil {
		if errors.Is(err, ErrImageRefNotFound) {
			return "", fmt.Errorf("%w: image %s not found, build the model first: %v", domain.ErrEngine, imageRef, err)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrEngine, err)
	}
	return id, nil
}

// Start creates and starts a container. A container that was created but
// failed to start has its output logged and is removed before the error is
// returned.
func (m *Manager) Start(ctx context.Context, spec ContainerSpec) (*Container, error) {
	id, err := m.engine.Create(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("%w: create container from %s: %v", domain.ErrEngine, spec.ImageRef, err)
	}
	c := &Container{ID: id, manager: m}
	if err := m.engine.Start(ctx, id); err != nil {
		if out := c.Logs(ctx); out != "" {
			m.logger.Error("model container failed to start", "container_id", shortID(id), "output", out)
		}
		c.StopAndRemove(ctx)
		return nil, fmt.Errorf("%w: start container %s: %v", domain.ErrEngine, shortID(id), err)
	}
	m.logger.Info("model container running", "container_id", shortID(id), "image", spec.ImageRef)
	return c, nil
}

// Container is the handle for one started container.
type Container struct {
	ID      string
	manager *Manager
	release sync.Once
}

// StopAndRemove stops the container within the grace period and force
// removes it. Only the first call does anything. It runs even if ctx is
// already cancelled, and failures are logged rather than returned so they
// never mask the run's own result.
func (c *Container) StopAndRemove(ctx context.Context) {
	if c == nil {
		return
	}
	c.release.Do(func() {
		m := c.manager
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.stopGrace+defaultCleanupTimeout)
		defer cancel()

		logger := m.logger.With("container_id", shortID(c.ID))
		if err := m.engine.Stop(cleanupCtx, c.ID, m.stopGrace); err != nil && !errors.Is(err, ErrContainerNotFound) {
			logger.Warn("container stop failed, forcing removal", "error", err)
		}
		if err := m.engine.Remove(cleanupCtx, c.ID); err != nil && !errors.Is(err, ErrContainerNotFound) {
			logger.Error("container removal failed", "error", err)
			return
		}
		logger.Info("model container removed")
	})
}

// Logs returns the container's combined output, or "" if it cannot be read.
func (c *Container) Logs(ctx context.Context) string {
	if c == nil {
		return ""
	}
	logsCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	out, err := c.manager.engine.Logs(logsCtx, c.ID)
	if err != nil {
		c.manager.logger.Warn("container logs unavailable", "container_id", shortID(c.ID), "error", err)
		return ""
	}
	return out
}

// Observe reports the container's current engine state.
func (c *Container) Observe(ctx context.Context) (Observation, error) {
	if c == nil {
		return Observation{}, errors.New("no container")
	}
	obs, err := c.manager.engine.Inspect(ctx, c.ID)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: inspect %s: %v", domain.ErrEngine, shortID(c.ID), err)
	}
	return obs, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
