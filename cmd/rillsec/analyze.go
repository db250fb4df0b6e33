package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/spf13/cobra"

	"github.com/rill-lang/rillsec/internal/analysis"
	"github.com/rill-lang/rillsec/internal/ast"
	"github.com/rill-lang/rillsec/internal/config"
	"github.com/rill-lang/rillsec/internal/domain/sandbox"
	"github.com/rill-lang/rillsec/internal/engine"
	"github.com/rill-lang/rillsec/internal/infrastructure/grants"
	"github.com/rill-lang/rillsec/internal/output"
	"github.com/rill-lang/rillsec/internal/version"
)

var (
	policyPath  string
	format      string
	outFile     string
	filterExpr  string
	workers     int
	cacheSize   int
	approvalStr string
	grantStore  string
)

// analyzeCmd represents the analyze command.
var analyzeCmd = &cobra.Command{
	Use:   "analyze <unit.json> [unit.json...]",
	Short: "Analyze serialized Rill units and gate them against a policy",
	Long: `Load one or more JSON-serialized syntax trees produced by the Rill
front-end, run the static security analyzer over them, and apply the
policy's gating mode.

In strict mode any finding at or above the policy threshold blocks (exit
code 2). In permissive mode findings are reported as warnings.

Filtering:
  --filter "severity == 'critical'"        Only show critical findings
  --filter "id == 'RS200'"                 Only taint-flow findings
  --filter "file == 'main.rill' && line > 10"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(cmd.Context(), args)
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVarP(&policyPath, "policy", "p", "", "Policy file (default: built-in strict policy)")
	analyzeCmd.Flags().StringVar(&format, "format", "table", "Output format: table, json, sarif")
	analyzeCmd.Flags().StringVarP(&outFile, "output", "o", "", "Output file path (default: stdout)")
	analyzeCmd.Flags().StringVar(&filterExpr, "filter", "", "Filter expression over findings (e.g. \"severity == 'critical'\")")
	analyzeCmd.Flags().IntVar(&workers, "workers", 0, "Analysis workers (default: GOMAXPROCS)")
	analyzeCmd.Flags().IntVar(&cacheSize, "cache-size", 0, "Analysis result cache entries")
	analyzeCmd.Flags().StringVar(&approvalStr, "approval", string(grants.PolicyStandard), "Grant approval policy: strict, standard, permissive")
	analyzeCmd.Flags().StringVar(&grantStore, "grant-store", "", "Grant store path (default: ~/.rillsec/grants.yaml)")
}

// runAnalyze implements the core logic for the analyze command.
func runAnalyze(ctx context.Context, unitPaths []string) error {
	policy, err := loadPolicyOrDefault()
	if err != nil {
		return err
	}

	if err := checkEngineRange(policy); err != nil {
		return err
	}

	runCtx, err := setupRunContext(ctx, policy)
	if err != nil {
		return err
	}

	files, err := loadUnits(unitPaths)
	if err != nil {
		return err
	}
	slog.Info("units loaded", "count", len(files))

	filterProgram, err := compileFilter()
	if err != nil {
		return err
	}

	pool, err := analysis.NewPool(workers, cacheSize)
	if err != nil {
		return err
	}
	gate := engine.NewGate(pool, policy.Mode, policy.SeverityThreshold())

	report, gateErr := gate.Check(runCtx, files, nil)
	if gateErr != nil {
		var blocked *engine.BlockedError
		if !errors.As(gateErr, &blocked) {
			return gateErr
		}
	}

	report.Findings, err = engine.ApplyFilter(filterProgram, report.Findings)
	if err != nil {
		return err
	}

	if err := writeReport(report); err != nil {
		return err
	}

	// A block still surfaces after the report is written, so Execute can
	// map it to exit code 2.
	return gateErr
}

// loadPolicyOrDefault loads the policy file, or falls back to a grantless
// strict policy when none is given.
func loadPolicyOrDefault() (*config.Policy, error) {
	if policyPath == "" {
		slog.Debug("no policy file, using built-in strict defaults")
		return &config.Policy{Mode: engine.ModeStrict}, nil
	}

	policy, err := config.LoadPolicy(policyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy: %w", err)
	}
	slog.Info("policy loaded", "path", policyPath, "mode", policy.Mode, "grants", len(policy.Grants))
	return policy, nil
}

// checkEngineRange rejects a policy written for an incompatible engine.
// Development builds carry no comparable version and skip the check.
func checkEngineRange(policy *config.Policy) error {
	current := version.Get().Version
	if policy.Engine == "" || current == "dev" {
		return nil
	}
	ok, err := policy.EngineSupported(current)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("policy requires engine %q, this build is %s", policy.Engine, current)
	}
	return nil
}

// setupRunContext runs the grant approval flow and binds a sandbox
// context holding the approved, minted tokens.
func setupRunContext(ctx context.Context, policy *config.Policy) (context.Context, error) {
	storePath := grantStore
	if storePath == "" {
		var err error
		storePath, err = grants.DefaultPath()
		if err != nil {
			return nil, err
		}
	}

	keeper := grants.NewGatekeeper(
		grants.NewFileStore(storePath),
		grants.NewTerminalPrompter(),
		grants.ApprovalPolicy(approvalStr),
	)

	approved, err := keeper.Approve(policy.Grants)
	if err != nil {
		var denied *grants.DeniedError
		if !errors.As(err, &denied) {
			return nil, err
		}
		slog.Warn("continuing without denied grants", "denied", len(denied.Denied))
	}

	sbx := sandbox.NewContext("run", "rillsec")
	for _, grant := range approved {
		token, err := grant.Mint("rillsec")
		if err != nil {
			return nil, fmt.Errorf("failed to mint grant: %w", err)
		}
		if err := sbx.Grant(token); err != nil {
			return nil, err
		}
	}

	return sandbox.Bind(ctx, sbx), nil
}

// loadUnits decodes each serialized syntax tree.
func loadUnits(paths []string) ([]*ast.File, error) {
	files := make([]*ast.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read unit %s: %w", path, err)
		}
		file, err := ast.DecodeFile(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode unit %s: %w", path, err)
		}
		files = append(files, file)
	}
	return files, nil
}

// compileFilter compiles the --filter expression once at startup.
func compileFilter() (*vm.Program, error) {
	if filterExpr == "" {
		return nil, nil
	}
	program, err := expr.Compile(filterExpr,
		expr.Env(engine.FindingEnv{}),
		expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid --filter expression: %w\nExample: severity in ['critical', 'high']", err)
	}
	return program, nil
}

// writeReport renders the report to stdout or --output.
func writeReport(report *engine.Report) error {
	var writer io.Writer = os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		writer = f
	}

	formatter, err := output.NewFormatter(format, writer)
	if err != nil {
		return err
	}
	return formatter.Format(report)
}
