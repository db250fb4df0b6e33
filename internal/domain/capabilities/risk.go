package capabilities

import "strings"

// Security risk assessment constants - domain knowledge about dangerous grants
var (
	// Filesystem patterns that grant access far beyond any single program's needs
	broadFilesystemPatterns = []string{
		"**", "/**", "/", "/etc/**", "/root/**", "/home/**", "/**/*",
	}

	// Binaries whose execution is equivalent to arbitrary code execution
	dangerousExecTargets = []string{
		"bash", "sh", "zsh", "fish", "/bin/bash", "/bin/sh",
		"python", "python3", "perl", "ruby", "node",
	}
)

// RiskLevel represents the security risk of granting a capability.
type RiskLevel int

const (
	// RiskLevelLow represents minimal security risk (specific, narrow permissions).
	RiskLevelLow RiskLevel = iota
	// RiskLevelMedium represents moderate security risk (network access, read-only sensitive data).
	RiskLevelMedium
	// RiskLevelHigh represents high security risk (broad permissions, arbitrary code execution).
	RiskLevelHigh
)

// String returns a human-readable representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// IsBroad returns true if this grant is overly permissive: an unrestricted
// constraint, a recursive wildcard over sensitive trees, or execution of a
// shell or interpreter.
func (g GrantSpec) IsBroad() bool {
	domain := domainOf(g.Type)

	switch domain {
	case "filesystem":
		if len(g.Constraint.ResourcePatterns) == 0 {
			return true
		}
		for _, p := range g.Constraint.ResourcePatterns {
			if containsAny(p, broadFilesystemPatterns) {
				return true
			}
		}
		return false

	case "process":
		if len(g.Constraint.ResourcePatterns) == 0 {
			return true
		}
		for _, p := range g.Constraint.ResourcePatterns {
			if p == "*" || p == "**" || containsAny(p, dangerousExecTargets) {
				return true
			}
		}
		return false

	case "network":
		if len(g.Constraint.AllowedHosts) == 0 && len(g.Constraint.ResourcePatterns) == 0 {
			return true
		}
		for _, h := range g.Constraint.AllowedHosts {
			if h == "*" || h == "**" {
				return true
			}
		}
		return false

	case "env":
		if len(g.Constraint.ResourcePatterns) == 0 {
			return true
		}
		for _, p := range g.Constraint.ResourcePatterns {
			if p == "*" || strings.HasSuffix(p, "*") && len(p) <= 5 {
				return true
			}
		}
		return false

	default:
		return false
	}
}

// Risk returns the security risk level of granting this spec.
// This drives how grants are presented to operators for approval.
func (g GrantSpec) Risk() RiskLevel {
	if g.IsBroad() {
		return RiskLevelHigh
	}

	domain := domainOf(g.Type)

	// Network access and command execution are never low risk, even when
	// narrowly scoped.
	if domain == "network" || domain == "process" {
		return RiskLevelMedium
	}

	// Reading sensitive system configuration.
	if domain == "filesystem" {
		for _, p := range g.Constraint.ResourcePatterns {
			if strings.HasPrefix(p, "/etc/") {
				return RiskLevelMedium
			}
		}
	}

	return RiskLevelLow
}

// RiskDescription returns a human-readable explanation of what granting
// this spec would let a sandboxed program do.
func (g GrantSpec) RiskDescription() string {
	domain := domainOf(g.Type)

	switch domain {
	case "filesystem":
		if g.IsBroad() {
			return "Program can access files across the whole filesystem"
		}
		for _, p := range g.Constraint.ResourcePatterns {
			if strings.HasPrefix(p, "/etc/") {
				return "Program can read sensitive system configuration"
			}
		}
		if strings.HasSuffix(g.Type, ".write") {
			return "Program can modify files on disk"
		}
		return "Program can read specific files"

	case "process":
		if g.IsBroad() {
			return "Program can execute arbitrary commands"
		}
		return "Program can execute specific commands: " + strings.Join(g.Constraint.ResourcePatterns, ", ")

	case "network":
		if g.IsBroad() {
			return "Program can connect to any host on the internet"
		}
		if len(g.Constraint.AllowedHosts) > 0 {
			return "Program can reach hosts: " + strings.Join(g.Constraint.AllowedHosts, ", ")
		}
		return "Program can make network requests to: " + strings.Join(g.Constraint.ResourcePatterns, ", ")

	case "env":
		if g.IsBroad() {
			return "Program can read ALL environment variables, including secrets and API keys from other tools"
		}
		return "Program can read environment variables: " + strings.Join(g.Constraint.ResourcePatterns, ", ")

	default:
		return "Program requires capability: " + g.String()
	}
}

// domainOf maps a capability type to its risk domain. The short names
// ("file.read", bare "exec") fold onto the vocabulary the effect shim
// uses, so every spelling of a domain is classified the same way.
func domainOf(capType string) string {
	domain := capType
	if i := strings.IndexByte(capType, '.'); i >= 0 {
		domain = capType[:i]
	}
	switch domain {
	case "file", "fs":
		return "filesystem"
	case "exec", "proc":
		return "process"
	default:
		return domain
	}
}

// containsAny checks if pattern exactly matches any string in the list
func containsAny(pattern string, list []string) bool {
	for _, item := range list {
		if pattern == item {
			return true
		}
	}
	return false
}
