package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/modelharness/internal/platform/env"
)

// Config addresses one S3-compatible bucket. An empty Endpoint disables
// archiving.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("HARNESS_ARCHIVE_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  strings.TrimSpace(env.String("HARNESS_ARCHIVE_ENDPOINT", "")),
		AccessKey: env.String("HARNESS_ARCHIVE_ACCESS_KEY", ""),
		SecretKey: env.String("HARNESS_ARCHIVE_SECRET_KEY", ""),
		Region:    env.String("HARNESS_ARCHIVE_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("HARNESS_ARCHIVE_BUCKET", "model-runs"),
		Prefix:    strings.Trim(env.String("HARNESS_ARCHIVE_PREFIX", "runs"), "/"),
	}
	if !cfg.Enabled() {
		return cfg, nil
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
