package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/modelharness/internal/domain"
	"github.com/animus-labs/modelharness/internal/runtimeexec"
)

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// parseAssignments turns name=value pairs into a map. Later pairs win.
func parseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: expected name=value, got %q", domain.ErrConfiguration, pair)
		}
		out[name] = value
	}
	return out, nil
}

// loadPorts reads initial port values from a YAML or JSON file, then applies
// the -port overrides as strings.
func loadPorts(path string, overrides []string) (map[string]any, error) {
	ports := map[string]any{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: read ports file: %v", domain.ErrConfiguration, err)
		}
		if err := yaml.Unmarshal(raw, &ports); err != nil {
			return nil, fmt.Errorf("%w: decode ports file %s: %v", domain.ErrConfiguration, path, err)
		}
		if ports == nil {
			ports = map[string]any{}
		}
	}
	kv, err := parseAssignments(overrides)
	if err != nil {
		return nil, err
	}
	for name, value := range kv {
		ports[name] = value
	}
	return ports, nil
}

func loadManifest(path string) (domain.Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: read manifest: %v", domain.ErrConfiguration, err)
	}
	var manifest domain.Manifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return domain.Manifest{}, fmt.Errorf("%w: decode manifest %s: %v", domain.ErrConfiguration, path, err)
	}
	for _, m := range manifest.Models {
		if err := m.Validate(); err != nil {
			return domain.Manifest{}, err
		}
	}
	return manifest, nil
}

func parseMounts(raw []string) ([]runtimeexec.Mount, error) {
	mounts := make([]runtimeexec.Mount, 0, len(raw))
	for _, r := range raw {
		m, err := runtimeexec.ParseMount(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
		}
		mounts = append(mounts, m)
	}
	return mounts, nil
}

func parsePorts(raw []string) ([]int, error) {
	ports := make([]int, 0, len(raw))
	for _, r := range raw {
		p, err := strconv.Atoi(strings.TrimSpace(r))
		if err != nil || p < 1 || p > 65535 {
			return nil, fmt.Errorf("%w: invalid port %q", domain.ErrConfiguration, r)
		}
		ports = append(ports, p)
	}
	return ports, nil
}
