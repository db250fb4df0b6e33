// Package config loads and validates security policies: the mode and
// severity threshold the gate enforces, the engine versions the policy is
// written for, and the capability grants minted for a run.
package config

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/rill-lang/rillsec/internal/domain/capabilities"
	"github.com/rill-lang/rillsec/internal/domain/values"
	"github.com/rill-lang/rillsec/internal/engine"
)

// Policy is one parsed policy document.
type Policy struct {
	// Version is the policy document format version.
	Version string `yaml:"version"`

	// Engine is a semver range naming the engine versions this policy
	// was written against, e.g. ">= 1.0.0, < 2.0.0".
	Engine string `yaml:"engine"`

	// Mode selects strict or permissive gating.
	Mode engine.Mode `yaml:"mode"`

	// Threshold is the severity at which strict mode blocks. Empty
	// means the default (high).
	Threshold string `yaml:"threshold"`

	// Grants are the capability grants a run under this policy starts
	// with.
	Grants capabilities.GrantSet `yaml:"grants"`
}

// SeverityThreshold returns the blocking threshold as a value object,
// defaulting to high when unset. The loader already rejected invalid
// strings.
func (p *Policy) SeverityThreshold() values.Severity {
	sev, err := values.NewSeverity(p.Threshold)
	if err != nil || sev.Equals(values.SevUnknown) {
		return values.SevHigh
	}
	return sev
}

// EngineSupported reports whether the running engine version satisfies
// the policy's engine range. An empty range accepts any version.
func (p *Policy) EngineSupported(version string) (bool, error) {
	if p.Engine == "" {
		return true, nil
	}
	constraint, err := semver.NewConstraint(p.Engine)
	if err != nil {
		return false, fmt.Errorf("invalid engine constraint %q: %w", p.Engine, err)
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid engine version %q: %w", version, err)
	}
	return constraint.Check(v), nil
}

// MintGrants converts every grant in the policy into a live token.
// A single bad grant fails the whole mint: a policy that promises a
// grant it cannot deliver is a policy error, not a partial success.
func (p *Policy) MintGrants(createdBy string) ([]*capabilities.Token, error) {
	tokens := make([]*capabilities.Token, 0, len(p.Grants))
	for i, grant := range p.Grants {
		token, err := grant.Mint(createdBy)
		if err != nil {
			return nil, fmt.Errorf("grant %d (%s): %w", i, grant.Type, err)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}
