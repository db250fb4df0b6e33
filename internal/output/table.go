package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/rill-lang/rillsec/internal/analysis"
	"github.com/rill-lang/rillsec/internal/engine"
)

// TableFormatter formats a gate report as a human-readable table.
type TableFormatter struct {
	writer io.Writer
}

// NewTableFormatter creates a new table formatter.
func NewTableFormatter(w io.Writer) *TableFormatter {
	return &TableFormatter{writer: w}
}

// Format writes the gate report as a table.
func (f *TableFormatter) Format(report *engine.Report) error {
	fmt.Fprintf(f.writer, "Analyzed %d unit(s), mode %s\n", report.Units, report.Mode)
	fmt.Fprintln(f.writer)

	if len(report.Findings) == 0 {
		fmt.Fprintln(f.writer, "No findings.")
		return nil
	}

	fmt.Fprintln(f.writer, "Findings:")
	fmt.Fprintln(f.writer, strings.Repeat("─", 80))
	for _, finding := range report.Findings {
		f.formatFinding(finding)
	}
	fmt.Fprintln(f.writer, strings.Repeat("─", 80))
	fmt.Fprintln(f.writer)

	f.formatSummary(report)
	return nil
}

// formatFinding formats a single finding, with its taint trace when one
// exists.
func (f *TableFormatter) formatFinding(finding analysis.Finding) {
	fmt.Fprintf(f.writer, "%s %s %s:%d:%d %s\n",
		severitySymbol(finding.Severity.String()),
		finding.RuleID,
		finding.Pos.File, finding.Pos.Line, finding.Pos.Col,
		finding.Message)

	for _, step := range finding.Trace {
		fmt.Fprintf(f.writer, "      %s:%d:%d %s\n", step.Pos.File, step.Pos.Line, step.Pos.Col, step.Note)
	}
}

// formatSummary prints finding counts per severity and the verdict.
func (f *TableFormatter) formatSummary(report *engine.Report) {
	counts := make(map[string]int)
	for _, finding := range report.Findings {
		counts[finding.Severity.String()]++
	}

	fmt.Fprint(f.writer, "Summary:")
	for _, sev := range []string{"critical", "high", "medium", "low"} {
		if counts[sev] > 0 {
			fmt.Fprintf(f.writer, " %d %s", counts[sev], sev)
		}
	}
	fmt.Fprintln(f.writer)

	if report.Blocked {
		fmt.Fprintln(f.writer, "Verdict: BLOCKED")
	} else {
		fmt.Fprintln(f.writer, "Verdict: permitted")
	}
}

func severitySymbol(severity string) string {
	switch severity {
	case "critical":
		return "✗✗"
	case "high":
		return "✗ "
	case "medium":
		return "! "
	case "low":
		return "· "
	default:
		return "  "
	}
}
