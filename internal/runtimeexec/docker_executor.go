package runtimeexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DockerExecutor drives containers through the docker CLI.
type DockerExecutor struct {
	dockerBin string
}

func NewDockerExecutor(dockerBin string) (*DockerExecutor, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	return &DockerExecutor{dockerBin: dockerBin}, nil
}

func (e *DockerExecutor) Kind() string {
	return "docker"
}

func (e *DockerExecutor) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, e.dockerBin, args...)
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (e *DockerExecutor) ResolveImageID(ctx context.Context, imageRef string) (string, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return "", errors.New("image ref is required")
	}

	text, err := e.run(ctx, "image", "inspect", "--format", "{{.Id}}", imageRef)
	if err != nil {
		if isNotFound(text) {
			return "", fmt.Errorf("%w: %s", ErrImageRefNotFound, text)
		}
		return "", fmt.Errorf("docker image inspect failed: %w: %s", err, text)
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", fmt.Errorf("%w: empty docker image id", ErrImageRefNotFound)
	}
	return strings.TrimSpace(fields[0]), nil
}

func (e *DockerExecutor) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	args, err := createArgs(spec)
	if err != nil {
		return "", err
	}
	text, err := e.run(ctx, args...)
	if err != nil {
		if isNotFound(text) {
			return "", fmt.Errorf("%w: %s", ErrImageRefNotFound, text)
		}
		return "", fmt.Errorf("docker create failed: %w: %s", err, text)
	}
	// Pull progress may precede the id on stdout; the id is the last line.
	lines := strings.Split(text, "\n")
	id := strings.TrimSpace(lines[len(lines)-1])
	if id == "" {
		return "", errors.New("docker create returned no container id")
	}
	return id, nil
}

func createArgs(spec ContainerSpec) ([]string, error) {
	imageRef := strings.TrimSpace(spec.ImageRef)
	if imageRef == "" {
		return nil, errors.New("image ref is required")
	}
	if spec.JobPort <= 0 {
		return nil, errors.New("job port is required")
	}

	args := []string{"create", "--tty"}
	if name := strings.TrimSpace(spec.Name); name != "" {
		args = append(args, "--name", name)
	}
	if platform := strings.TrimSpace(spec.Platform); platform != "" {
		args = append(args, "--platform", platform)
	}

	switch spec.Network {
	case NetworkHost, "":
		args = append(args, "--network", "host")
	case NetworkBridge:
		hostPort := spec.HostPort
		if hostPort <= 0 {
			hostPort = spec.JobPort
		}
		args = append(args,
			"--add-host", LoopbackAlias+":host-gateway",
			"--publish", fmt.Sprintf("127.0.0.1:%d:%d", hostPort, spec.JobPort),
		)
		for _, p := range spec.ExtraPorts {
			args = append(args, "--publish", fmt.Sprintf("127.0.0.1:%d:%d", p, p))
		}
	default:
		return nil, fmt.Errorf("unsupported network mode %q", spec.Network)
	}

	args = append(args, "--expose", strconv.Itoa(spec.JobPort))
	for _, p := range spec.ExtraPorts {
		args = append(args, "--expose", strconv.Itoa(p))
	}

	args = append(args,
		"-e", "MODEL_PORT="+strconv.Itoa(spec.JobPort),
		"-e", "MODEL_HOST=0.0.0.0",
	)
	if len(spec.Env) > 0 {
		keys := make([]string, 0, len(spec.Env))
		for k := range spec.Env {
			key := strings.TrimSpace(k)
			if key == "" || isReservedJobEnvKey(key) {
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			args = append(args, "-e", key+"="+spec.Env[key])
		}
	}

	for _, m := range spec.Mounts {
		if m.Source == "" || m.Target == "" {
			return nil, fmt.Errorf("invalid mount %q", m.String())
		}
		args = append(args, "--volume", m.String())
	}

	if len(spec.Labels) > 0 {
		keys := make([]string, 0, len(spec.Labels))
		for k := range spec.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, key := range keys {
			args = append(args, "--label", key+"="+spec.Labels[key])
		}
	}

	args = append(args, imageRef)
	return args, nil
}

func (e *DockerExecutor) Start(ctx context.Context, containerID string) error {
	if text, err := e.run(ctx, "start", containerID); err != nil {
		return fmt.Errorf("docker start failed: %w: %s", err, text)
	}
	return nil
}

type dockerInspectState struct {
	Status     string    `json:"Status"`
	Running    bool      `json:"Running"`
	ExitCode   int       `json:"ExitCode"`
	FinishedAt time.Time `json:"FinishedAt"`
}

func (e *DockerExecutor) Inspect(ctx context.Context, containerID string) (Observation, error) {
	containerID = strings.TrimSpace(containerID)
	if containerID == "" {
		return Observation{}, errors.New("container id is required")
	}

	text, err := e.run(ctx, "inspect", "--format", "{{json .State}}", containerID)
	if err != nil {
		if isNotFound(text) {
			return Observation{}, fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return Observation{}, fmt.Errorf("docker inspect failed: %w: %s", err, text)
	}

	var state dockerInspectState
	if err := json.Unmarshal([]byte(text), &state); err != nil {
		return Observation{}, fmt.Errorf("parse docker inspect: %w", err)
	}
	return Observation{
		Status:     strings.ToLower(strings.TrimSpace(state.Status)),
		Running:    state.Running,
		ExitCode:   state.ExitCode,
		FinishedAt: state.FinishedAt,
	}, nil
}

func (e *DockerExecutor) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	if text, err := e.run(ctx, "stop", "--time", graceSeconds(grace), containerID); err != nil {
		if isNotFound(text) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return fmt.Errorf("docker stop failed: %w: %s", err, text)
	}
	return nil
}

func (e *DockerExecutor) Remove(ctx context.Context, containerID string) error {
	if text, err := e.run(ctx, "rm", "--force", "--volumes", containerID); err != nil {
		if isNotFound(text) {
			return fmt.Errorf("%w: %s", ErrContainerNotFound, containerID)
		}
		return fmt.Errorf("docker rm failed: %w: %s", err, text)
	}
	return nil
}

func (e *DockerExecutor) Logs(ctx context.Context, containerID string) (string, error) {
	text, err := e.run(ctx, "logs", containerID)
	if err != nil {
		return "", fmt.Errorf("docker logs failed: %w: %s", err, text)
	}
	return text, nil
}

func isNotFound(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "no such image") ||
		strings.Contains(lower, "no such container") ||
		strings.Contains(lower, "no such object") ||
		strings.Contains(lower, "not found")
}
