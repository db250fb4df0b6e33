// Package engine is the execution side of the trust boundary: the gate
// that decides whether analyzed units may run, the shim that mediates
// every effect a running unit performs, and the resource ceilings a run
// operates under.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rill-lang/rillsec/internal/analysis"
	"github.com/rill-lang/rillsec/internal/ast"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

// Mode selects how the gate treats findings at or above the threshold.
type Mode string

const (
	// ModeStrict blocks execution on any finding at or above the
	// severity threshold.
	ModeStrict Mode = "strict"
	// ModePermissive reports the same findings as warnings and lets the
	// run proceed.
	ModePermissive Mode = "permissive"
)

// Optimizer rewrites units before execution. The implementation lives
// outside this module; the gate only cares that optimized output is
// re-analyzed, since a rewrite can surface constructs the original form
// hid.
type Optimizer interface {
	Optimize(ctx context.Context, files []*ast.File) ([]*ast.File, error)
}

// Report is the outcome of gating a batch of units.
type Report struct {
	Units    int                `json:"units"`
	Findings []analysis.Finding `json:"findings"`
	Blocked  bool               `json:"blocked"`
	Mode     Mode               `json:"mode"`
}

// BlockedError signals that strict-mode gating refused the batch. It
// carries only the findings that met the threshold; the full set stays
// on the report.
type BlockedError struct {
	Threshold values.Severity
	Findings  []analysis.Finding
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("execution blocked: %d finding(s) at or above %s", len(e.Findings), e.Threshold)
}

// Gate runs the analyzer over units before and after optimization and
// applies the configured blocking policy to the union of both passes.
type Gate struct {
	pool      *analysis.Pool
	mode      Mode
	threshold values.Severity
	logger    *slog.Logger
}

// NewGate builds a gate. An unknown threshold falls back to high,
// matching the default policy.
func NewGate(pool *analysis.Pool, mode Mode, threshold values.Severity) *Gate {
	if threshold.Equals(values.SevUnknown) {
		threshold = values.SevHigh
	}
	return &Gate{
		pool:      pool,
		mode:      mode,
		threshold: threshold,
		logger:    slog.Default().With("component", "gate"),
	}
}

// Check analyzes the units, optionally optimizes and re-analyzes, and
// decides. The two passes are unioned: optimization can add findings but
// never suppress one found on the original form. In strict mode a
// finding at or above the threshold returns the report together with a
// *BlockedError; in permissive mode the same findings are logged as
// warnings and the error is nil.
func (g *Gate) Check(ctx context.Context, files []*ast.File, opt Optimizer) (*Report, error) {
	pre, err := g.pool.Analyze(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("pre-optimization analysis failed: %w", err)
	}

	findings := pre
	if opt != nil {
		optimized, err := opt.Optimize(ctx, files)
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
		post, err := g.pool.Analyze(ctx, optimized)
		if err != nil {
			return nil, fmt.Errorf("post-optimization analysis failed: %w", err)
		}
		findings = analysis.MergeFindings(pre, post)
	}

	report := &Report{
		Units:    len(files),
		Findings: findings,
		Mode:     g.mode,
	}

	var gating []analysis.Finding
	for _, f := range findings {
		if f.Severity.IsHigherOrEqual(g.threshold) {
			gating = append(gating, f)
		}
	}
	if len(gating) == 0 {
		return report, nil
	}

	if g.mode == ModeStrict {
		report.Blocked = true
		g.logger.Error("blocking execution",
			"units", len(files),
			"findings", len(findings),
			"gating", len(gating),
			"threshold", g.threshold.String())
		return report, &BlockedError{Threshold: g.threshold, Findings: gating}
	}

	for _, f := range gating {
		g.logger.Warn("permitting despite finding",
			"rule", f.RuleID,
			"severity", f.Severity.String(),
			"location", fmt.Sprintf("%s:%d", f.Pos.File, f.Pos.Line))
	}
	return report, nil
}
