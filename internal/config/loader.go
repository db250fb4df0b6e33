package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/rill-lang/rillsec/internal/domain/values"
	"github.com/rill-lang/rillsec/internal/engine"
)

// LoadPolicy loads and validates a policy from a YAML file.
func LoadPolicy(path string) (*Policy, error) {
	// Use os.OpenRoot so a policy path cannot traverse out of its
	// directory through symlinks.
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy directory: %w", err)
	}
	defer root.Close()

	file, err := root.Open(base)
	if err != nil {
		return nil, fmt.Errorf("failed to open policy: %w", err)
	}
	defer file.Close()

	return LoadPolicyFromReader(file)
}

// LoadPolicyFromReader loads and validates a policy from an io.Reader.
// This is useful for testing with in-memory YAML data.
func LoadPolicyFromReader(r io.Reader) (*Policy, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	// Schema first: structural errors name the offending location
	// instead of surfacing as decode failures.
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var policy Policy
	if err := yaml.UnmarshalWithOptions(raw, &policy, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to parse policy YAML: %w", err)
	}

	if err := validatePolicy(&policy); err != nil {
		return nil, err
	}
	return &policy, nil
}

// validatePolicy covers the semantic checks the schema cannot express.
func validatePolicy(p *Policy) error {
	if p.Mode != engine.ModeStrict && p.Mode != engine.ModePermissive {
		return fmt.Errorf("invalid policy: mode must be %q or %q, got %q",
			engine.ModeStrict, engine.ModePermissive, p.Mode)
	}

	if p.Threshold != "" {
		if _, err := values.NewSeverity(p.Threshold); err != nil {
			return fmt.Errorf("invalid policy: %w", err)
		}
	}

	if p.Engine != "" {
		if _, err := p.EngineSupported("1.0.0"); err != nil {
			return fmt.Errorf("invalid policy: %w", err)
		}
	}

	for i, grant := range p.Grants {
		if _, err := values.NewCapabilityType(grant.Type); err != nil {
			return fmt.Errorf("invalid policy: grant %d: %w", i, err)
		}
		for _, port := range grant.Constraint.AllowedPorts {
			if port < 1 || port > 65535 {
				return fmt.Errorf("invalid policy: grant %d: port %d out of range", i, port)
			}
		}
	}
	return nil
}
