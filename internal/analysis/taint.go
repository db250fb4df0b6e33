package analysis

import (
	"fmt"
	"strings"

	"github.com/rill-lang/rillsec/internal/ast"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

// The data-flow layer marks fixed taint sources, propagates the marking
// through assignments, concatenation and call arguments, and flags a
// tainted value reaching a dangerous sink without passing a recognized
// sanitizer or a capability-checked call.

// Built-ins whose return value is untrusted input.
var taintSources = map[string]bool{
	"input":    true,
	"env":      true,
	"read_arg": true,
}

// Sinks where untrusted input becomes an injection. Each carries its own
// severity and weakness class.
var taintSinks = map[string]struct {
	severity values.Severity
	weakness string
}{
	"eval":        {values.SevCritical, "CWE-95"},
	"exec":        {values.SevHigh, "CWE-78"},
	"os.system":   {values.SevHigh, "CWE-78"},
	"sql.query":   {values.SevHigh, "CWE-89"},
	"net.send":    {values.SevMedium, "CWE-74"},
	"load_string": {values.SevCritical, "CWE-95"},
}

// Calls that cleanse their argument. Capability-gated io.* calls also
// count: whatever reaches them is re-checked dynamically by the gate.
var sanitizers = map[string]bool{
	"sanitize":    true,
	"shell_quote": true,
	"to_int":      true,
	"html_escape": true,
}

// taintMark records why a name is tainted and the hops it took.
type taintMark struct {
	origin ast.Pos
	steps  []TraceStep
}

// taintScope is the per-function taint environment. It is scratch state,
// which is why each worker needs a private analyzer.
type taintScope struct {
	marks map[string]*taintMark
}

func newTaintScope() *taintScope {
	return &taintScope{marks: make(map[string]*taintMark)}
}

// analyzeTaint runs the data-flow layer over one translation unit:
// each function body in its own scope, then the top-level statements.
func (a *Analyzer) analyzeTaint(file *ast.File) []Finding {
	var findings []Finding

	for _, fn := range file.Funcs {
		scope := newTaintScope()
		for _, p := range fn.Params {
			scope.marks[p.Name] = &taintMark{
				origin: p.Pos,
				steps: []TraceStep{{
					Pos:  p.Pos,
					Note: fmt.Sprintf("parameter %q is untrusted input", p.Name),
				}},
			}
		}
		if fn.Body != nil {
			findings = append(findings, scope.walkStmts(fn.Body.Stmts)...)
		}
	}

	scope := newTaintScope()
	findings = append(findings, scope.walkStmts(file.Stmts)...)

	return findings
}

func (s *taintScope) walkStmts(stmts []ast.Stmt) []Finding {
	var findings []Finding
	for _, stmt := range stmts {
		findings = append(findings, s.walkStmt(stmt)...)
	}
	return findings
}

func (s *taintScope) walkStmt(stmt ast.Stmt) []Finding {
	switch v := stmt.(type) {
	case *ast.AssignStmt:
		findings := s.checkSinks(v.Value)
		mark := s.exprTaint(v.Value)
		if v.Target == nil {
			return findings
		}
		if mark == nil {
			// Assignment of a clean value clears previous taint.
			delete(s.marks, v.Target.Name)
			return findings
		}
		derived := &taintMark{
			origin: mark.origin,
			steps: append(append([]TraceStep(nil), mark.steps...), TraceStep{
				Pos:  v.Pos,
				Note: fmt.Sprintf("assigned to %q", v.Target.Name),
			}),
		}
		s.marks[v.Target.Name] = derived
		return findings

	case *ast.ExprStmt:
		return s.checkSinks(v.X)

	case *ast.ReturnStmt:
		if v.Value != nil {
			return s.checkSinks(v.Value)
		}
		return nil

	case *ast.Block:
		return s.walkStmts(v.Stmts)

	default:
		return nil
	}
}

// checkSinks flags every sink call in the expression whose argument is
// tainted, recursing into nested calls first.
func (s *taintScope) checkSinks(e ast.Expr) []Finding {
	var findings []Finding

	ast.Walk(e, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		name := ast.AttrPath(call.Fun)
		sink, isSink := taintSinks[name]
		if !isSink {
			return true
		}
		for _, arg := range call.Args {
			mark := s.exprTaint(arg)
			if mark == nil {
				continue
			}
			trace := append(append([]TraceStep(nil), mark.steps...), TraceStep{
				Pos:  call.Pos,
				Note: fmt.Sprintf("reaches sink %q", name),
			})
			findings = append(findings, Finding{
				RuleID:   "RS200",
				Severity: sink.severity,
				Weakness: values.MustNewWeakness(sink.weakness),
				Pos:      call.Pos,
				Message:  fmt.Sprintf("untrusted input reaches %q without sanitization", name),
				Trace:    trace,
			})
		}
		return true
	})

	return findings
}

// exprTaint reports whether evaluating e yields a tainted value.
func (s *taintScope) exprTaint(e ast.Expr) *taintMark {
	switch v := e.(type) {
	case *ast.Ident:
		return s.marks[v.Name]

	case *ast.BinaryExpr:
		if mark := s.exprTaint(v.X); mark != nil {
			return s.extend(mark, v.Position(), "propagated through operator "+v.Op)
		}
		if mark := s.exprTaint(v.Y); mark != nil {
			return s.extend(mark, v.Position(), "propagated through operator "+v.Op)
		}
		return nil

	case *ast.CallExpr:
		name := ast.AttrPath(v.Fun)
		if taintSources[name] {
			return &taintMark{
				origin: v.Pos,
				steps: []TraceStep{{
					Pos:  v.Pos,
					Note: fmt.Sprintf("value produced by untrusted source %q", name),
				}},
			}
		}
		if sanitizers[name] || strings.HasPrefix(name, gatedNamespace) {
			return nil
		}
		// Other calls pass taint through from any argument.
		for _, arg := range v.Args {
			if mark := s.exprTaint(arg); mark != nil {
				return s.extend(mark, v.Pos, fmt.Sprintf("passed through call to %q", name))
			}
		}
		return nil

	case *ast.AttrExpr:
		return s.exprTaint(v.X)

	default:
		return nil
	}
}

func (s *taintScope) extend(mark *taintMark, pos ast.Pos, note string) *taintMark {
	return &taintMark{
		origin: mark.origin,
		steps:  append(append([]TraceStep(nil), mark.steps...), TraceStep{Pos: pos, Note: note}),
	}
}
