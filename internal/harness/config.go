package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/modelharness/internal/execution/poller"
	"github.com/animus-labs/modelharness/internal/platform/env"
	"github.com/animus-labs/modelharness/internal/runtimeexec"
)

const (
	defaultModelPort      = 28080
	defaultDocStorePort   = "18080"
	defaultOrganisation   = "csiro"
	defaultPlatform       = "linux/amd64"
	defaultRequestTimeout = 30 * time.Second
)

type Config struct {
	// ModelPort is the job server port inside the container.
	ModelPort int
	// HostPort is where the harness reaches the job server. Equal to
	// ModelPort in host network mode.
	HostPort  int
	ModelHost string
	Network   runtimeexec.NetworkMode
	Platform  string
	DockerBin string

	DocStoreAddr          string
	DocStoreAdvertiseHost string
	OrganisationID        string

	Poll           poller.Config
	StopGrace      time.Duration
	RequestTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ModelPort:             defaultModelPort,
		HostPort:              defaultModelPort,
		ModelHost:             "localhost",
		Network:               runtimeexec.NetworkHost,
		Platform:              defaultPlatform,
		DockerBin:             "docker",
		DocStoreAddr:          "localhost:" + defaultDocStorePort,
		DocStoreAdvertiseHost: "localhost",
		OrganisationID:        defaultOrganisation,
		Poll:                  poller.DefaultConfig(),
		StopGrace:             10 * time.Second,
		RequestTimeout:        defaultRequestTimeout,
	}
}

func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	issues := &ValidationError{}

	intVar := func(key string, dst *int) {
		v, err := env.Int(key, *dst)
		if err != nil {
			issues.Add(err.Error())
			return
		}
		*dst = v
	}
	durVar := func(key string, dst *time.Duration) {
		v, err := env.Duration(key, *dst)
		if err != nil {
			issues.Add(err.Error())
			return
		}
		*dst = v
	}

	intVar("HARNESS_MODEL_PORT", &cfg.ModelPort)
	cfg.HostPort = cfg.ModelPort
	intVar("HARNESS_HOST_PORT", &cfg.HostPort)
	cfg.ModelHost = env.String("HARNESS_MODEL_HOST", cfg.ModelHost)
	cfg.Network = runtimeexec.NetworkMode(strings.ToLower(strings.TrimSpace(env.String("HARNESS_NETWORK_MODE", string(cfg.Network)))))
	cfg.Platform = env.String("HARNESS_PLATFORM", cfg.Platform)
	cfg.DockerBin = env.String("HARNESS_DOCKER_BIN", cfg.DockerBin)

	// A bridged container reaches the host through the gateway, so the store
	// must listen beyond loopback.
	if cfg.Network == runtimeexec.NetworkBridge {
		cfg.DocStoreAddr = ":" + defaultDocStorePort
		cfg.DocStoreAdvertiseHost = runtimeexec.LoopbackAlias
	}
	cfg.DocStoreAddr = env.String("HARNESS_DOCSTORE_ADDR", cfg.DocStoreAddr)
	cfg.DocStoreAdvertiseHost = env.String("HARNESS_DOCSTORE_ADVERTISE_HOST", cfg.DocStoreAdvertiseHost)
	cfg.OrganisationID = env.String("HARNESS_ORGANISATION_ID", cfg.OrganisationID)

	durVar("HARNESS_PROBE_INTERVAL", &cfg.Poll.ProbeInterval)
	intVar("HARNESS_PROBE_RETRIES", &cfg.Poll.MaxProbeRetries)
	durVar("HARNESS_POLL_INTERVAL", &cfg.Poll.PollInterval)
	durVar("HARNESS_DOCSTORE_SERVE_TIMEOUT", &cfg.Poll.DocumentServeTimeout)
	durVar("HARNESS_TERMINATE_TIMEOUT", &cfg.Poll.TerminateTimeout)
	durVar("HARNESS_STOP_GRACE", &cfg.StopGrace)
	durVar("HARNESS_REQUEST_TIMEOUT", &cfg.RequestTimeout)

	if err := issues.OrNil(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	issues := &ValidationError{}
	if c.ModelPort < 1 || c.ModelPort > 65535 {
		issues.Add(fmt.Sprintf("HARNESS_MODEL_PORT out of range: %d", c.ModelPort))
	}
	if c.HostPort < 1 || c.HostPort > 65535 {
		issues.Add(fmt.Sprintf("HARNESS_HOST_PORT out of range: %d", c.HostPort))
	}
	switch c.Network {
	case runtimeexec.NetworkHost:
		if c.HostPort != c.ModelPort {
			issues.Add("HARNESS_HOST_PORT must equal HARNESS_MODEL_PORT in host network mode")
		}
	case runtimeexec.NetworkBridge:
	default:
		issues.Add(fmt.Sprintf("HARNESS_NETWORK_MODE must be host or bridge, got %q", c.Network))
	}
	if strings.TrimSpace(c.ModelHost) == "" {
		issues.Add("HARNESS_MODEL_HOST is required")
	}
	if strings.TrimSpace(c.Platform) == "" {
		issues.Add("HARNESS_PLATFORM is required")
	}
	if strings.TrimSpace(c.DocStoreAddr) == "" {
		issues.Add("HARNESS_DOCSTORE_ADDR is required")
	}
	if c.Poll.ProbeInterval <= 0 {
		issues.Add("HARNESS_PROBE_INTERVAL must be positive")
	}
	if c.Poll.MaxProbeRetries < 0 {
		issues.Add("HARNESS_PROBE_RETRIES must be >= 0")
	}
	if c.Poll.PollInterval <= 0 {
		issues.Add("HARNESS_POLL_INTERVAL must be positive")
	}
	if c.Poll.DocumentServeTimeout < 0 {
		issues.Add("HARNESS_DOCSTORE_SERVE_TIMEOUT must be >= 0")
	}
	if c.Poll.TerminateTimeout <= 0 {
		issues.Add("HARNESS_TERMINATE_TIMEOUT must be positive")
	}
	if c.StopGrace <= 0 {
		issues.Add("HARNESS_STOP_GRACE must be positive")
	}
	if c.RequestTimeout <= 0 {
		issues.Add("HARNESS_REQUEST_TIMEOUT must be positive")
	}
	return issues.OrNil()
}

// ModelBaseURL is where the harness reaches the container's job server.
func (c Config) ModelBaseURL() string {
	return fmt.Sprintf("http://%s:%d/", c.ModelHost, c.HostPort)
}
