package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rill-lang/rillsec/internal/analysis"
)

// FindingEnv exposes finding fields for filter expression evaluation.
type FindingEnv struct {
	ID       string `expr:"id"`
	Severity string `expr:"severity"`
	Weakness string `expr:"weakness"`
	File     string `expr:"file"`
	Line     int    `expr:"line"`
	Message  string `expr:"message"`
}

// ApplyFilter keeps the findings for which the compiled expression is
// true. The program must have been compiled against FindingEnv with a
// boolean result.
func ApplyFilter(program *vm.Program, findings []analysis.Finding) ([]analysis.Finding, error) {
	if program == nil {
		return findings, nil
	}

	kept := make([]analysis.Finding, 0, len(findings))
	for _, f := range findings {
		env := FindingEnv{
			ID:       f.RuleID,
			Severity: f.Severity.String(),
			Weakness: f.Weakness.String(),
			File:     f.Pos.File,
			Line:     f.Pos.Line,
			Message:  f.Message,
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return nil, fmt.Errorf("filter expression error: %w", err)
		}
		keep, ok := out.(bool)
		if !ok {
			return nil, fmt.Errorf("filter expression must evaluate to a boolean, got %T", out)
		}
		if keep {
			kept = append(kept, f)
		}
	}
	return kept, nil
}
