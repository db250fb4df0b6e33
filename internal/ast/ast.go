// Package ast is the syntax-tree contract between the Rill front-end and
// the security core. The front-end (an external collaborator) produces
// these nodes; the analyzer only ever walks them, it never mutates.
//
// The node set is deliberately small: just enough structure for pattern
// matching and taint propagation. Anything the front-end supports beyond
// this surface is lowered before it reaches the analyzer.
package ast

// Pos is a source location inside a translation unit.
type Pos struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

// Node is implemented by every syntax-tree node.
type Node interface {
	Position() Pos
}

// Expr is implemented by expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is implemented by statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// File is one translation unit: the unit of analysis, caching and
// parallelism.
type File struct {
	Pos   Pos         `json:"pos"`
	Name  string      `json:"name"`
	Funcs []*FuncDecl `json:"funcs,omitempty"`
	Stmts []Stmt      `json:"stmts,omitempty"`
}

func (f *File) Position() Pos { return f.Pos }

// FuncDecl declares a named function.
type FuncDecl struct {
	Pos    Pos      `json:"pos"`
	Name   string   `json:"name"`
	Params []*Param `json:"params,omitempty"`
	Body   *Block   `json:"body"`
}

func (d *FuncDecl) Position() Pos { return d.Pos }

// Param is a function parameter. Parameters are taint sources: the
// analyzer assumes every argument may carry untrusted input.
type Param struct {
	Pos  Pos    `json:"pos"`
	Name string `json:"name"`
}

func (p *Param) Position() Pos { return p.Pos }

// Block is a statement sequence.
type Block struct {
	Pos   Pos    `json:"pos"`
	Stmts []Stmt `json:"stmts,omitempty"`
}

func (b *Block) Position() Pos { return b.Pos }
func (b *Block) stmtNode()     {}

// AssignStmt assigns the value of an expression to a name.
type AssignStmt struct {
	Pos    Pos    `json:"pos"`
	Target *Ident `json:"target"`
	Value  Expr   `json:"value"`
}

func (s *AssignStmt) Position() Pos { return s.Pos }
func (s *AssignStmt) stmtNode()     {}

// ExprStmt evaluates an expression for its effect.
type ExprStmt struct {
	Pos Pos  `json:"pos"`
	X   Expr `json:"x"`
}

func (s *ExprStmt) Position() Pos { return s.Pos }
func (s *ExprStmt) stmtNode()     {}

// ReturnStmt returns a value from the enclosing function.
type ReturnStmt struct {
	Pos   Pos  `json:"pos"`
	Value Expr `json:"value,omitempty"`
}

func (s *ReturnStmt) Position() Pos { return s.Pos }
func (s *ReturnStmt) stmtNode()     {}

// Ident names a variable or function.
type Ident struct {
	Pos  Pos    `json:"pos"`
	Name string `json:"name"`
}

func (e *Ident) Position() Pos { return e.Pos }
func (e *Ident) exprNode()     {}

// LitKind distinguishes literal categories.
type LitKind string

const (
	LitString LitKind = "string"
	LitInt    LitKind = "int"
	LitFloat  LitKind = "float"
	LitBool   LitKind = "bool"
)

// BasicLit is a literal value. Value holds the source text of the
// literal, unquoted for strings.
type BasicLit struct {
	Pos   Pos     `json:"pos"`
	Kind  LitKind `json:"lit_kind"`
	Value string  `json:"value"`
}

func (e *BasicLit) Position() Pos { return e.Pos }
func (e *BasicLit) exprNode()     {}

// CallExpr calls Fun with Args. Fun is an *Ident or an *AttrExpr chain.
type CallExpr struct {
	Pos  Pos    `json:"pos"`
	Fun  Expr   `json:"fun"`
	Args []Expr `json:"args,omitempty"`
}

func (e *CallExpr) Position() Pos { return e.Pos }
func (e *CallExpr) exprNode()     {}

// BinaryExpr applies a binary operator, e.g. string concatenation.
type BinaryExpr struct {
	Pos Pos    `json:"pos"`
	Op  string `json:"op"`
	X   Expr   `json:"x"`
	Y   Expr   `json:"y"`
}

func (e *BinaryExpr) Position() Pos { return e.Pos }
func (e *BinaryExpr) exprNode()     {}

// AttrExpr selects an attribute, e.g. host.unsafe or os.system.
type AttrExpr struct {
	Pos  Pos    `json:"pos"`
	X    Expr   `json:"x"`
	Name string `json:"name"`
}

func (e *AttrExpr) Position() Pos { return e.Pos }
func (e *AttrExpr) exprNode()     {}

// Walk visits n and its children in pre-order. If visit returns false the
// node's children are skipped.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}

	switch v := n.(type) {
	case *File:
		for _, fn := range v.Funcs {
			Walk(fn, visit)
		}
		for _, stmt := range v.Stmts {
			Walk(stmt, visit)
		}
	case *FuncDecl:
		for _, p := range v.Params {
			Walk(p, visit)
		}
		if v.Body != nil {
			Walk(v.Body, visit)
		}
	case *Block:
		for _, stmt := range v.Stmts {
			Walk(stmt, visit)
		}
	case *AssignStmt:
		if v.Target != nil {
			Walk(v.Target, visit)
		}
		Walk(v.Value, visit)
	case *ExprStmt:
		Walk(v.X, visit)
	case *ReturnStmt:
		if v.Value != nil {
			Walk(v.Value, visit)
		}
	case *CallExpr:
		Walk(v.Fun, visit)
		for _, arg := range v.Args {
			Walk(arg, visit)
		}
	case *BinaryExpr:
		Walk(v.X, visit)
		Walk(v.Y, visit)
	case *AttrExpr:
		Walk(v.X, visit)
	case *Param, *Ident, *BasicLit:
		// Leaves.
	}
}

// AttrPath flattens an attribute chain rooted at an identifier into its
// dotted form ("os.system"). Returns "" if the chain is not rooted at an
// identifier (e.g. a call result).
func AttrPath(e Expr) string {
	switch v := e.(type) {
	case *Ident:
		return v.Name
	case *AttrExpr:
		base := AttrPath(v.X)
		if base == "" {
			return ""
		}
		return base + "." + v.Name
	default:
		return ""
	}
}
