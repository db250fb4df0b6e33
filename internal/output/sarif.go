package output

import (
	"fmt"
	"io"

	"github.com/owenrumney/go-sarif/v3/pkg/report/v210/sarif"

	"github.com/rill-lang/rillsec/internal/analysis"
	"github.com/rill-lang/rillsec/internal/engine"
	"github.com/rill-lang/rillsec/internal/version"
)

// SARIFFormatter formats a gate report as SARIF 2.1.0 JSON, mapping
// analyzer rules to SARIF rules and findings to results with physical
// locations.
type SARIFFormatter struct {
	writer io.Writer
}

// NewSARIFFormatter creates a new SARIF formatter.
func NewSARIFFormatter(w io.Writer) *SARIFFormatter {
	return &SARIFFormatter{writer: w}
}

// Format writes the gate report as SARIF 2.1.0 JSON.
func (f *SARIFFormatter) Format(report *engine.Report) error {
	doc := sarif.NewReport()

	run := sarif.NewRunWithInformationURI("rillsec", "https://github.com/rill-lang/rillsec")
	toolVersion := version.Version
	run.Tool.Driver.Version = &toolVersion

	addRules(run, report.Findings)
	addResults(run, report.Findings)

	props := sarif.NewPropertyBag()
	props.Add("mode", string(report.Mode))
	props.Add("blocked", report.Blocked)
	props.Add("units", report.Units)
	run.WithProperties(props)

	doc.AddRun(run)

	if err := doc.Write(f.writer); err != nil {
		return fmt.Errorf("failed to write SARIF output: %w", err)
	}
	_, err := f.writer.Write([]byte("\n"))
	return err
}

// addRules registers each distinct rule present in the findings.
func addRules(run *sarif.Run, findings []analysis.Finding) {
	seen := make(map[string]bool)
	for _, finding := range findings {
		if seen[finding.RuleID] {
			continue
		}
		seen[finding.RuleID] = true

		title := ruleTitle(finding.RuleID)
		rule := sarif.NewReportingDescriptor().WithID(finding.RuleID)
		rule.WithName(title)
		rule.WithShortDescription(&sarif.MultiformatMessageString{Text: &title})
		rule.WithDefaultConfiguration(&sarif.ReportingConfiguration{
			Level: severityToLevel(finding.Severity.String()),
		})

		props := sarif.NewPropertyBag()
		props.Add("severity", finding.Severity.String())
		if !finding.Weakness.IsEmpty() {
			props.WithTags([]string{"security", finding.Weakness.String()})
		}
		rule.WithProperties(props)

		run.Tool.Driver.AddRule(rule)
	}
}

// addResults converts findings to SARIF results with physical locations.
func addResults(run *sarif.Run, findings []analysis.Finding) {
	for _, finding := range findings {
		result := sarif.NewRuleResult(finding.RuleID)
		result.Level = severityToLevel(finding.Severity.String())
		result.Message = sarif.NewTextMessage(finding.Message)
		result.Locations = []*sarif.Location{findingLocation(finding)}

		if len(finding.Trace) > 0 {
			props := sarif.NewPropertyBag()
			props.Add("trace", finding.Trace)
			result.WithProperties(props)
		}

		run.AddResult(result)
	}
}

func findingLocation(finding analysis.Finding) *sarif.Location {
	pLoc := sarif.NewPhysicalLocation().
		WithArtifactLocation(sarif.NewArtifactLocation().WithURI(finding.Pos.File))

	if finding.Pos.Line > 0 {
		region := sarif.NewRegion().WithStartLine(finding.Pos.Line)
		if finding.Pos.Col > 0 {
			region.WithStartColumn(finding.Pos.Col)
		}
		pLoc.WithRegion(region)
	}

	return sarif.NewLocation().WithPhysicalLocation(pLoc)
}

// ruleTitle resolves a rule ID to its title. Pattern rules carry their
// titles in the rule library; the secret and taint layers have fixed
// ones.
func ruleTitle(ruleID string) string {
	switch ruleID {
	case "RS100":
		return "embedded credential"
	case "RS200":
		return "untrusted data flow to sensitive sink"
	}
	for _, rule := range analysis.DefaultRules() {
		if rule.ID == ruleID {
			return rule.Title
		}
	}
	return ruleID
}

// severityToLevel maps finding severities to the SARIF level vocabulary.
func severityToLevel(severity string) string {
	switch severity {
	case "critical", "high":
		return "error"
	case "medium":
		return "warning"
	case "low":
		return "note"
	default:
		return "none"
	}
}
