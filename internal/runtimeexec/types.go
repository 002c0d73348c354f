package runtimeexec

import (
	"context"
	"errors"
	"time"
)

// Engine is the container engine surface the lifecycle manager drives.
type Engine interface {
	Kind() string
	ResolveImageID(ctx context.Context, imageRef string) (string, error)
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, containerID string) error
	Inspect(ctx context.Context, containerID string) (Observation, error)
	Stop(ctx context.Context, containerID string, grace time.Duration) error
	Remove(ctx context.Context, containerID string) error
	Logs(ctx context.Context, containerID string) (string, error)
}

type NetworkMode string

const (
	NetworkHost   NetworkMode = "host"
	NetworkBridge NetworkMode = "bridge"
)

// LoopbackAlias is the hostname a bridge-mode container uses to reach
// services running on the host.
const LoopbackAlias = "host.docker.internal"

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

type ContainerSpec struct {
	Name     string
	ImageRef string
	Platform string
	Network  NetworkMode
	// JobPort is the model server port inside the container; HostPort is
	// where it is published on the host in bridge mode.
	JobPort    int
	HostPort   int
	ExtraPorts []int
	Env        map[string]string
	Mounts     []Mount
	Labels     map[string]string
}

type Observation struct {
	Status     string
	Running    bool
	ExitCode   int
	FinishedAt time.Time
}

var ErrImageRefNotFound = errors.New("image_ref_not_found")
var ErrContainerNotFound = errors.New("container_not_found")
