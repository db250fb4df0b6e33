package analysis

import (
	"fmt"
	"strings"

	"github.com/rill-lang/rillsec/internal/ast"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

// Rule is one structural signature of a known-dangerous construct.
// Matchers see the node plus its ancestor chain (innermost last) so
// exclusions can recognize capability-aware call sites.
type Rule struct {
	ID       string
	Severity values.Severity
	Weakness values.Weakness
	Title    string

	// Match returns a finding message when the node triggers the rule.
	Match func(n ast.Node, ancestors []ast.Node) (string, bool)
}

// Built-ins that dynamically evaluate program text.
var evalBuiltins = map[string]bool{
	"eval":           true,
	"load_string":    true,
	"compile_string": true,
}

// Attribute paths that reach host internals the sandbox does not mediate.
var unsafeInternalPaths = []string{
	"__internals__",
	"host.unsafe",
	"rt.reflect",
}

// Direct OS and network entry points that bypass the capability-aware
// standard library.
var rawEffectPaths = map[string]bool{
	"os.system":      true,
	"os.popen":       true,
	"os.remove_tree": true,
	"socket.connect": true,
	"socket.listen":  true,
	"net.raw_dial":   true,
}

// The capability-aware standard library namespace. Calls under it are the
// sanctioned effect path: mentioning a sensitive resource there is the
// whole point, not a finding.
const gatedNamespace = "io."

// Sensitive resources that should only ever appear at gated call sites.
var sensitivePathPrefixes = []string{
	"/etc/passwd",
	"/etc/shadow",
	"/root/.ssh",
	"~/.ssh",
}

// Shell metacharacters in a command literal usually mean string-built
// shell invocation.
const shellMetachars = "|;&$><`"

// DefaultRules returns the fixed pattern-rule library.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       "RS001",
			Severity: values.SevCritical,
			Weakness: values.MustNewWeakness("CWE-95"),
			Title:    "dynamic code evaluation",
			Match: func(n ast.Node, _ []ast.Node) (string, bool) {
				call, ok := n.(*ast.CallExpr)
				if !ok {
					return "", false
				}
				name := ast.AttrPath(call.Fun)
				if !evalBuiltins[name] {
					return "", false
				}
				return fmt.Sprintf("call to %q evaluates program text at run time", name), true
			},
		},
		{
			ID:       "RS002",
			Severity: values.SevCritical,
			Weakness: values.MustNewWeakness("CWE-470"),
			Title:    "reflection into unsafe host internals",
			Match: func(n ast.Node, _ []ast.Node) (string, bool) {
				attr, ok := n.(*ast.AttrExpr)
				if !ok {
					return "", false
				}
				path := ast.AttrPath(attr)
				if path == "" {
					return "", false
				}
				for _, unsafe := range unsafeInternalPaths {
					if path == unsafe || strings.Contains(path, unsafe) {
						return fmt.Sprintf("attribute chain %q reaches unmediated host internals", path), true
					}
				}
				return "", false
			},
		},
		{
			ID:       "RS003",
			Severity: values.SevHigh,
			Weakness: values.MustNewWeakness("CWE-78"),
			Title:    "direct OS or network access",
			Match: func(n ast.Node, _ []ast.Node) (string, bool) {
				call, ok := n.(*ast.CallExpr)
				if !ok {
					return "", false
				}
				name := ast.AttrPath(call.Fun)
				if !rawEffectPaths[name] {
					return "", false
				}
				return fmt.Sprintf("call to %q bypasses the capability-aware standard library", name), true
			},
		},
		{
			ID:       "RS004",
			Severity: values.SevHigh,
			Weakness: values.MustNewWeakness("CWE-77"),
			Title:    "shell metacharacters in command literal",
			Match: func(n ast.Node, ancestors []ast.Node) (string, bool) {
				lit, ok := n.(*ast.BasicLit)
				if !ok || lit.Kind != ast.LitString {
					return "", false
				}
				if !strings.ContainsAny(lit.Value, shellMetachars) {
					return "", false
				}
				// Only flag literals handed to an exec-like call.
				call, ok := enclosingCall(ancestors)
				if !ok {
					return "", false
				}
				name := ast.AttrPath(call.Fun)
				if name != "exec" && !rawEffectPaths[name] {
					return "", false
				}
				return "command literal contains shell metacharacters", true
			},
		},
		{
			ID:       "RS005",
			Severity: values.SevMedium,
			Weakness: values.MustNewWeakness("CWE-200"),
			Title:    "sensitive resource outside the gated library",
			Match: func(n ast.Node, ancestors []ast.Node) (string, bool) {
				lit, ok := n.(*ast.BasicLit)
				if !ok || lit.Kind != ast.LitString {
					return "", false
				}
				sensitive := false
				for _, prefix := range sensitivePathPrefixes {
					if strings.HasPrefix(lit.Value, prefix) {
						sensitive = true
						break
					}
				}
				if !sensitive {
					return "", false
				}
				// Exclusion: the capability-aware library may name the
				// resource; the gate decides at run time.
				if call, ok := enclosingCall(ancestors); ok {
					if strings.HasPrefix(ast.AttrPath(call.Fun), gatedNamespace) {
						return "", false
					}
				}
				return fmt.Sprintf("sensitive resource %q referenced outside the capability-aware library", lit.Value), true
			},
		},
		{
			ID:       "RS006",
			Severity: values.SevLow,
			Weakness: values.MustNewWeakness("CWE-732"),
			Title:    "world-writable permission literal",
			Match: func(n ast.Node, ancestors []ast.Node) (string, bool) {
				lit, ok := n.(*ast.BasicLit)
				if !ok || lit.Kind != ast.LitInt {
					return "", false
				}
				if lit.Value != "0777" && lit.Value != "511" && lit.Value != "0o777" {
					return "", false
				}
				call, ok := enclosingCall(ancestors)
				if !ok {
					return "", false
				}
				name := ast.AttrPath(call.Fun)
				if name != "chmod" && !strings.HasSuffix(name, ".chmod") {
					return "", false
				}
				return "file mode 0777 grants world-writable access", true
			},
		},
	}
}

// enclosingCall returns the nearest CallExpr ancestor.
func enclosingCall(ancestors []ast.Node) (*ast.CallExpr, bool) {
	for i := len(ancestors) - 1; i >= 0; i-- {
		if call, ok := ancestors[i].(*ast.CallExpr); ok {
			return call, true
		}
	}
	return nil, false
}
