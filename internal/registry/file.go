package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

const fileName = "registry.json"

// DefaultPath is the per-user registry file: %LOCALAPPDATA%\modelharness on
// Windows, $XDG_DATA_HOME/modelharness or ~/.local/share/modelharness
// elsewhere.
func DefaultPath() (string, error) {
	if runtime.GOOS == "windows" {
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, "modelharness", fileName), nil
		}
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "modelharness", fileName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "modelharness", fileName), nil
}

// FileRegistry keeps entries in a single JSON document keyed by model path.
type FileRegistry struct {
	path string
	mu   sync.Mutex
}

func NewFileRegistry(path string) (*FileRegistry, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	return &FileRegistry{path: path}, nil
}

func (r *FileRegistry) Path() string {
	return r.path
}

func (r *FileRegistry) Lookup(ctx context.Context, modelPath string) (Entry, error) {
	key, err := Key(modelPath)
	if err != nil {
		return Entry{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.load()
	if err != nil {
		return Entry{}, err
	}
	entry, ok := entries[key]
	if !ok {
		return Entry{}, unregistered(key)
	}
	if err := entry.Validate(); err != nil {
		return Entry{}, fmt.Errorf("registry entry %s: %w", key, err)
	}
	return entry, nil
}

// Register adds or replaces the entry for modelPath. The file is rewritten
// through a temp file and rename so readers never see a partial document.
func (r *FileRegistry) Register(ctx context.Context, modelPath string, entry Entry) error {
	key, err := Key(modelPath)
	if err != nil {
		return err
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, err := r.load()
	if err != nil {
		return err
	}
	entries[key] = entry

	raw, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

func (r *FileRegistry) load() (map[string]Entry, error) {
	raw, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	entries := map[string]Entry{}
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", r.path, err)
	}
	return entries, nil
}
