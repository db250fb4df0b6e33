// Package grants persists operator-approved capability grants and runs
// the interactive approval flow for grants a policy requests but the
// operator has not yet ruled on.
package grants

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/rill-lang/rillsec/internal/domain/capabilities"
)

// FileStore provides file-based persistence for approved grants.
type FileStore struct {
	path string
}

// NewFileStore creates a store backed by the given YAML file.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// DefaultPath returns the per-user grant store location,
// ~/.rillsec/grants.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".rillsec", "grants.yaml"), nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// storeFile is the YAML structure of the grant store.
type storeFile struct {
	Grants capabilities.GrantSet `yaml:"grants"`
}

// Load reads the approved grants. A missing file is an empty store, not
// an error.
func (s *FileStore) Load() (capabilities.GrantSet, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return capabilities.NewGrantSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read grant store: %w", err)
	}

	var file storeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse grant store: %w", err)
	}
	if file.Grants == nil {
		return capabilities.NewGrantSet(), nil
	}
	return file.Grants, nil
}

// Save writes the approved grants, creating the directory on first use.
func (s *FileStore) Save(set capabilities.GrantSet) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create grant store directory: %w", err)
	}

	data, err := yaml.MarshalWithOptions(storeFile{Grants: set}, yaml.IndentSequence(true))
	if err != nil {
		return fmt.Errorf("failed to marshal grant store: %w", err)
	}

	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write grant store: %w", err)
	}
	return nil
}
