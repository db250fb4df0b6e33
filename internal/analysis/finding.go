// Package analysis is the static security analyzer: a pattern layer over
// known-dangerous constructs and a data-flow layer tracking taint from
// untrusted sources to sensitive sinks. Findings feed the execution gate;
// they are never persisted.
package analysis

import (
	"fmt"
	"sort"

	"github.com/rill-lang/rillsec/internal/ast"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

// Finding is one detected dangerous construct. Immutable once produced.
type Finding struct {
	RuleID   string          `json:"rule_id"`
	Severity values.Severity `json:"severity"`
	Weakness values.Weakness `json:"weakness"`
	Pos      ast.Pos         `json:"pos"`
	Message  string          `json:"message"`

	// Trace is the source-to-sink propagation chain, set only for
	// data-flow findings.
	Trace []TraceStep `json:"trace,omitempty"`
}

// TraceStep is one hop in a taint propagation chain.
type TraceStep struct {
	Pos  ast.Pos `json:"pos"`
	Note string  `json:"note"`
}

// String renders the finding the way diagnostics are shown to users.
func (f Finding) String() string {
	return fmt.Sprintf("%s:%d:%d: [%s] %s (%s, %s)",
		f.Pos.File, f.Pos.Line, f.Pos.Col, f.RuleID, f.Message, f.Severity, f.Weakness)
}

// key identifies a finding for deduplication across analysis passes.
func (f Finding) key() string {
	return fmt.Sprintf("%s|%s|%d|%d", f.RuleID, f.Pos.File, f.Pos.Line, f.Pos.Col)
}

// sortFindings orders findings stably: by file, line, column, then rule.
func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Pos.File != b.Pos.File {
			return a.Pos.File < b.Pos.File
		}
		if a.Pos.Line != b.Pos.Line {
			return a.Pos.Line < b.Pos.Line
		}
		if a.Pos.Col != b.Pos.Col {
			return a.Pos.Col < b.Pos.Col
		}
		return a.RuleID < b.RuleID
	})
}

// MergeFindings unions finding sets from multiple passes, dropping exact
// duplicates (same rule at the same location) and restoring stable order.
// A finding present in any input pass survives: a later pass can add
// findings but never suppress earlier ones.
func MergeFindings(sets ...[]Finding) []Finding {
	seen := make(map[string]bool)
	var merged []Finding
	for _, set := range sets {
		for _, f := range set {
			if seen[f.key()] {
				continue
			}
			seen[f.key()] = true
			merged = append(merged, f)
		}
	}
	sortFindings(merged)
	return merged
}

// MaxSeverity returns the highest severity present, or SevUnknown for an
// empty set.
func MaxSeverity(findings []Finding) values.Severity {
	max := values.SevUnknown
	for _, f := range findings {
		if f.Severity.IsHigherThan(max) {
			max = f.Severity
		}
	}
	return max
}
