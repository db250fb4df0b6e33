package analysis

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/rill-lang/rillsec/internal/ast"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

// The secret layer scans string literals for embedded credentials using
// the gitleaks rule set, so an API key pasted into source is caught even
// though no structural rule matches it.

// newSecretDetector builds a gitleaks detector from its bundled default
// configuration.
func newSecretDetector() (*detect.Detector, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(strings.NewReader(config.DefaultConfig)); err != nil {
		return nil, fmt.Errorf("failed to read gitleaks config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gitleaks config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("failed to translate gitleaks config: %w", err)
	}

	return detect.NewDetector(cfg), nil
}

// analyzeSecrets flags string literals containing embedded credentials.
// With no detector available (detector construction failed at startup)
// the layer is skipped; the pattern and taint layers still run.
func (a *Analyzer) analyzeSecrets(file *ast.File) []Finding {
	if a.secrets == nil {
		return nil
	}

	var findings []Finding
	ast.Walk(file, func(n ast.Node) bool {
		lit, ok := n.(*ast.BasicLit)
		if !ok || lit.Kind != ast.LitString {
			return true
		}
		// Short literals cannot hold a credential; skip the regex pass.
		if len(lit.Value) < 8 {
			return true
		}

		for _, leak := range a.secrets.Detect(detect.Fragment{Raw: lit.Value}) {
			findings = append(findings, Finding{
				RuleID:   "RS100",
				Severity: values.SevHigh,
				Weakness: values.MustNewWeakness("CWE-798"),
				Pos:      lit.Pos,
				Message:  fmt.Sprintf("string literal contains an embedded credential (%s)", leak.RuleID),
			})
		}
		return true
	})
	return findings
}
