package capabilities

import (
	"fmt"
	"time"

	"github.com/rill-lang/rillsec/internal/domain/values"
)

// GrantSpec is an operator-declared grant before it is minted into a
// token: a capability type plus the constraint bundle, as it appears in a
// policy file or an interactive approval.
type GrantSpec struct {
	Type        string     `yaml:"type" json:"type"`
	Constraint  Constraint `yaml:",inline" json:"constraint"`
	Description string     `yaml:"description" json:"description,omitempty"`
}

// Mint validates the spec and mints a live token. Grants that are already
// expired are rejected outright rather than minted dead.
func (g GrantSpec) Mint(createdBy string) (*Token, error) {
	capType, err := values.NewCapabilityType(g.Type)
	if err != nil {
		return nil, fmt.Errorf("invalid grant: %w", err)
	}
	if g.Constraint.Expired(time.Now()) {
		return nil, fmt.Errorf("invalid grant: %s expired at %s", g.Type, g.Constraint.ExpiresAt.Format(time.RFC3339))
	}
	for _, port := range g.Constraint.AllowedPorts {
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid grant: port %d out of range", port)
		}
	}
	return MintToken(capType, g.Constraint, createdBy, g.Description), nil
}

// Equals checks if two grant specs name the same grant (type + patterns).
func (g GrantSpec) Equals(other GrantSpec) bool {
	if g.Type != other.Type {
		return false
	}
	if len(g.Constraint.ResourcePatterns) != len(other.Constraint.ResourcePatterns) {
		return false
	}
	for i, p := range g.Constraint.ResourcePatterns {
		if other.Constraint.ResourcePatterns[i] != p {
			return false
		}
	}
	return true
}

// String returns a human-readable representation of the grant.
func (g GrantSpec) String() string {
	if len(g.Constraint.ResourcePatterns) == 0 {
		return g.Type + ":(unrestricted)"
	}
	out := g.Type + ":" + g.Constraint.ResourcePatterns[0]
	if len(g.Constraint.ResourcePatterns) > 1 {
		out += fmt.Sprintf(" (+%d patterns)", len(g.Constraint.ResourcePatterns)-1)
	}
	return out
}

// GrantSet is a collection of grant specs awaiting or holding approval.
type GrantSet []GrantSpec

// NewGrantSet creates a new empty GrantSet.
func NewGrantSet() GrantSet {
	return make(GrantSet, 0)
}

// Add adds a grant to the set if an equal grant is not already present.
func (s *GrantSet) Add(g GrantSpec) {
	for _, existing := range *s {
		if existing.Equals(g) {
			return
		}
	}
	*s = append(*s, g)
}

// Contains checks if the set contains an equal grant.
func (s GrantSet) Contains(g GrantSpec) bool {
	for _, existing := range s {
		if existing.Equals(g) {
			return true
		}
	}
	return false
}

// Remove removes an equal grant from the set.
func (s *GrantSet) Remove(g GrantSpec) {
	for i, existing := range *s {
		if existing.Equals(g) {
			*s = append((*s)[:i], (*s)[i+1:]...)
			return
		}
	}
}

// Missing returns the grants in s that are not present in granted.
func (s GrantSet) Missing(granted GrantSet) GrantSet {
	missing := NewGrantSet()
	for _, g := range s {
		if !granted.Contains(g) {
			missing.Add(g)
		}
	}
	return missing
}
