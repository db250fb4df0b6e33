package analysis

import (
	"log/slog"

	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/rill-lang/rillsec/internal/ast"
)

// Analyzer runs all three layers over one translation unit at a time.
// It carries per-run scratch state (the taint environment), so instances
// must not be shared between goroutines; the pool mints one per worker.
type Analyzer struct {
	rules   []Rule
	secrets *detect.Detector
}

// NewAnalyzer creates an analyzer with the default rule library. A
// failure to build the secret detector degrades that one layer rather
// than failing analysis outright.
func NewAnalyzer() *Analyzer {
	detector, err := newSecretDetector()
	if err != nil {
		slog.Warn("secret detection layer disabled", "error", err)
		detector = nil
	}
	return &Analyzer{
		rules:   DefaultRules(),
		secrets: detector,
	}
}

// newAnalyzerSharing builds a worker analyzer reusing an already-built
// secret detector. Detection on distinct fragments is safe to share; the
// mutable taint scratch state is what stays per-worker.
func newAnalyzerSharing(detector *detect.Detector) *Analyzer {
	return &Analyzer{
		rules:   DefaultRules(),
		secrets: detector,
	}
}

// AnalyzeFile runs the pattern, secret and taint layers over one unit
// and returns the merged, stably-ordered findings.
func (a *Analyzer) AnalyzeFile(file *ast.File) []Finding {
	if file == nil {
		return nil
	}

	findings := a.analyzePatterns(file)
	findings = append(findings, a.analyzeSecrets(file)...)
	findings = append(findings, a.analyzeTaint(file)...)

	sortFindings(findings)
	return findings
}

// analyzePatterns walks the tree once, offering every node to every rule
// along with its ancestor chain.
func (a *Analyzer) analyzePatterns(file *ast.File) []Finding {
	var findings []Finding
	var ancestors []ast.Node

	var walk func(n ast.Node)
	walk = func(n ast.Node) {
		if n == nil {
			return
		}
		for _, rule := range a.rules {
			if msg, ok := rule.Match(n, ancestors); ok {
				findings = append(findings, Finding{
					RuleID:   rule.ID,
					Severity: rule.Severity,
					Weakness: rule.Weakness,
					Pos:      n.Position(),
					Message:  msg,
				})
			}
		}
		ancestors = append(ancestors, n)
		ast.Walk(n, func(child ast.Node) bool {
			if child == n {
				return true
			}
			walk(child)
			return false
		})
		ancestors = ancestors[:len(ancestors)-1]
	}
	walk(file)

	return findings
}
