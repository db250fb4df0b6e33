// Package capabilities defines the domain types for capability-based
// authorization: constraints, tokens and the violations they raise.
package capabilities

import (
	"path"
	"strings"
	"time"
)

// Constraint bounds what a capability token covers. It is an immutable
// value once attached to a token; all predicates are pure.
//
// Empty slices mean unrestricted: a constraint with no resource patterns
// matches every resource, one with no allowed operations permits every
// operation, and so on. Zero-valued ceilings are "no limit".
type Constraint struct {
	ResourcePatterns  []string      `yaml:"resources" json:"resources,omitempty"`
	AllowedOperations []string      `yaml:"operations" json:"operations,omitempty"`
	ExpiresAt         time.Time     `yaml:"expires_at" json:"expires_at,omitempty"`
	MaxUsageCount     uint64        `yaml:"max_uses" json:"max_uses,omitempty"`
	MaxFileSize       int64         `yaml:"max_file_size" json:"max_file_size,omitempty"`
	MaxMemory         int64         `yaml:"max_memory" json:"max_memory,omitempty"`
	MaxCPUTime        time.Duration `yaml:"max_cpu_time" json:"max_cpu_time,omitempty"`
	AllowedHosts      []string      `yaml:"hosts" json:"hosts,omitempty"`
	AllowedPorts      []int         `yaml:"ports" json:"ports,omitempty"`
}

// MatchesResource reports whether a concrete resource is covered.
// Patterns use segment-wise glob semantics over "/": "*" matches within a
// single segment, "**" matches any number of segments (including zero).
//
// Boundary convention: a trailing "*" requires exactly one more segment,
// so "/data/*" does NOT match the literal "/data"; "/data/**" does.
func (c Constraint) MatchesResource(resource string) bool {
	if len(c.ResourcePatterns) == 0 {
		return true
	}
	for _, pattern := range c.ResourcePatterns {
		if matchPattern(pattern, resource, "/") {
			return true
		}
	}
	return false
}

// AllowsOperation reports whether the named operation is permitted.
func (c Constraint) AllowsOperation(op string) bool {
	if len(c.AllowedOperations) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOperations {
		if allowed == op {
			return true
		}
	}
	return false
}

// AllowsHost reports whether a network host is covered. Host patterns use
// the same glob semantics with "." as the segment separator, so
// "*.example.com" matches "api.example.com" but not "a.b.example.com",
// and "**.example.com" matches both.
func (c Constraint) AllowsHost(host string) bool {
	if len(c.AllowedHosts) == 0 {
		return true
	}
	for _, pattern := range c.AllowedHosts {
		if matchPattern(pattern, host, ".") {
			return true
		}
	}
	return false
}

// AllowsPort reports whether a network port is covered.
func (c Constraint) AllowsPort(port int) bool {
	if len(c.AllowedPorts) == 0 {
		return true
	}
	for _, allowed := range c.AllowedPorts {
		if allowed == port {
			return true
		}
	}
	return false
}

// Expired reports whether the constraint's expiry has passed.
// A zero ExpiresAt never expires.
func (c Constraint) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// clone returns a deep copy so a minted token cannot be mutated through
// slices shared with the caller.
func (c Constraint) clone() Constraint {
	out := c
	out.ResourcePatterns = append([]string(nil), c.ResourcePatterns...)
	out.AllowedOperations = append([]string(nil), c.AllowedOperations...)
	out.AllowedHosts = append([]string(nil), c.AllowedHosts...)
	out.AllowedPorts = append([]int(nil), c.AllowedPorts...)
	return out
}

// matchPattern matches a resource against a glob pattern segment-by-segment.
// Both sides are split on sep; "**" consumes zero or more segments, any
// other pattern segment must match exactly one resource segment via
// path.Match (which gives in-segment "*" and "?" wildcards).
func matchPattern(pattern, resource, sep string) bool {
	// Leading separators must agree ("/data" vs "data").
	if strings.HasPrefix(pattern, sep) != strings.HasPrefix(resource, sep) {
		return false
	}
	pSegs := splitSegments(pattern, sep)
	rSegs := splitSegments(resource, sep)
	return matchSegments(pSegs, rSegs)
}

func splitSegments(s, sep string) []string {
	s = strings.Trim(s, sep)
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}

func matchSegments(pattern, resource []string) bool {
	if len(pattern) == 0 {
		return len(resource) == 0
	}

	if pattern[0] == "**" {
		// Try consuming zero segments, then one, and so on.
		for skip := 0; skip <= len(resource); skip++ {
			if matchSegments(pattern[1:], resource[skip:]) {
				return true
			}
		}
		return false
	}

	if len(resource) == 0 {
		return false
	}

	matched, err := path.Match(pattern[0], resource[0])
	if err != nil || !matched {
		// Invalid pattern segments never match (deny by default).
		return false
	}
	return matchSegments(pattern[1:], resource[1:])
}
