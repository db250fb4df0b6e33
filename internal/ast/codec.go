package ast

import (
	"encoding/json"
	"fmt"
)

// The wire encoding used by the front-end tags every statement and
// expression with a "kind" discriminator. DecodeFile is the only entry
// point the core needs; EncodeFile exists for tests and tooling.

// DecodeFile decodes one JSON-encoded translation unit.
func DecodeFile(data []byte) (*File, error) {
	var raw struct {
		Pos   Pos               `json:"pos"`
		Name  string            `json:"name"`
		Funcs []json.RawMessage `json:"funcs"`
		Stmts []json.RawMessage `json:"stmts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid syntax tree: %w", err)
	}

	file := &File{Pos: raw.Pos, Name: raw.Name}
	for _, fn := range raw.Funcs {
		decl, err := decodeFuncDecl(fn)
		if err != nil {
			return nil, err
		}
		file.Funcs = append(file.Funcs, decl)
	}
	for _, stmt := range raw.Stmts {
		s, err := decodeStmt(stmt)
		if err != nil {
			return nil, err
		}
		file.Stmts = append(file.Stmts, s)
	}
	return file, nil
}

// EncodeFile encodes a translation unit in the tagged wire form.
func EncodeFile(f *File) ([]byte, error) {
	funcs := make([]any, 0, len(f.Funcs))
	for _, fn := range f.Funcs {
		funcs = append(funcs, encodeFuncDecl(fn))
	}
	stmts := make([]any, 0, len(f.Stmts))
	for _, s := range f.Stmts {
		stmts = append(stmts, encodeStmt(s))
	}
	return json.Marshal(map[string]any{
		"pos":   f.Pos,
		"name":  f.Name,
		"funcs": funcs,
		"stmts": stmts,
	})
}

func decodeFuncDecl(data []byte) (*FuncDecl, error) {
	var raw struct {
		Pos    Pos             `json:"pos"`
		Name   string          `json:"name"`
		Params []*Param        `json:"params"`
		Body   json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid function declaration: %w", err)
	}
	decl := &FuncDecl{Pos: raw.Pos, Name: raw.Name, Params: raw.Params}
	if len(raw.Body) > 0 {
		body, err := decodeBlock(raw.Body)
		if err != nil {
			return nil, err
		}
		decl.Body = body
	}
	return decl, nil
}

func decodeBlock(data []byte) (*Block, error) {
	var raw struct {
		Pos   Pos               `json:"pos"`
		Stmts []json.RawMessage `json:"stmts"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid block: %w", err)
	}
	block := &Block{Pos: raw.Pos}
	for _, stmt := range raw.Stmts {
		s, err := decodeStmt(stmt)
		if err != nil {
			return nil, err
		}
		block.Stmts = append(block.Stmts, s)
	}
	return block, nil
}

func decodeStmt(data []byte) (Stmt, error) {
	kind, err := peekKind(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "assign":
		var raw struct {
			Pos    Pos             `json:"pos"`
			Target *Ident          `json:"target"`
			Value  json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid assign: %w", err)
		}
		value, err := decodeExpr(raw.Value)
		if err != nil {
			return nil, err
		}
		return &AssignStmt{Pos: raw.Pos, Target: raw.Target, Value: value}, nil

	case "expr":
		var raw struct {
			Pos Pos             `json:"pos"`
			X   json.RawMessage `json:"x"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid expression statement: %w", err)
		}
		x, err := decodeExpr(raw.X)
		if err != nil {
			return nil, err
		}
		return &ExprStmt{Pos: raw.Pos, X: x}, nil

	case "return":
		var raw struct {
			Pos   Pos             `json:"pos"`
			Value json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid return: %w", err)
		}
		stmt := &ReturnStmt{Pos: raw.Pos}
		if len(raw.Value) > 0 && string(raw.Value) != "null" {
			value, err := decodeExpr(raw.Value)
			if err != nil {
				return nil, err
			}
			stmt.Value = value
		}
		return stmt, nil

	case "block":
		return decodeBlock(data)

	default:
		return nil, fmt.Errorf("unknown statement kind %q", kind)
	}
}

func decodeExpr(data []byte) (Expr, error) {
	kind, err := peekKind(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "ident":
		var e Ident
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("invalid identifier: %w", err)
		}
		return &e, nil

	case "lit":
		var e BasicLit
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("invalid literal: %w", err)
		}
		return &e, nil

	case "call":
		var raw struct {
			Pos  Pos               `json:"pos"`
			Fun  json.RawMessage   `json:"fun"`
			Args []json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid call: %w", err)
		}
		fun, err := decodeExpr(raw.Fun)
		if err != nil {
			return nil, err
		}
		call := &CallExpr{Pos: raw.Pos, Fun: fun}
		for _, arg := range raw.Args {
			a, err := decodeExpr(arg)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, a)
		}
		return call, nil

	case "binary":
		var raw struct {
			Pos Pos             `json:"pos"`
			Op  string          `json:"op"`
			X   json.RawMessage `json:"x"`
			Y   json.RawMessage `json:"y"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid binary expression: %w", err)
		}
		x, err := decodeExpr(raw.X)
		if err != nil {
			return nil, err
		}
		y, err := decodeExpr(raw.Y)
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Pos: raw.Pos, Op: raw.Op, X: x, Y: y}, nil

	case "attr":
		var raw struct {
			Pos  Pos             `json:"pos"`
			X    json.RawMessage `json:"x"`
			Name string          `json:"name"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid attribute: %w", err)
		}
		x, err := decodeExpr(raw.X)
		if err != nil {
			return nil, err
		}
		return &AttrExpr{Pos: raw.Pos, X: x, Name: raw.Name}, nil

	default:
		return nil, fmt.Errorf("unknown expression kind %q", kind)
	}
}

func peekKind(data []byte) (string, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "", fmt.Errorf("invalid node: %w", err)
	}
	if probe.Kind == "" {
		return "", fmt.Errorf("node is missing its kind tag")
	}
	return probe.Kind, nil
}

func encodeStmt(s Stmt) map[string]any {
	switch v := s.(type) {
	case *AssignStmt:
		return map[string]any{"kind": "assign", "pos": v.Pos, "target": encodeExpr(v.Target), "value": encodeExpr(v.Value)}
	case *ExprStmt:
		return map[string]any{"kind": "expr", "pos": v.Pos, "x": encodeExpr(v.X)}
	case *ReturnStmt:
		out := map[string]any{"kind": "return", "pos": v.Pos}
		if v.Value != nil {
			out["value"] = encodeExpr(v.Value)
		}
		return out
	case *Block:
		stmts := make([]any, 0, len(v.Stmts))
		for _, s := range v.Stmts {
			stmts = append(stmts, encodeStmt(s))
		}
		return map[string]any{"kind": "block", "pos": v.Pos, "stmts": stmts}
	default:
		return nil
	}
}

func encodeExpr(e Expr) map[string]any {
	switch v := e.(type) {
	case *Ident:
		return map[string]any{"kind": "ident", "pos": v.Pos, "name": v.Name}
	case *BasicLit:
		return map[string]any{"kind": "lit", "pos": v.Pos, "lit_kind": v.Kind, "value": v.Value}
	case *CallExpr:
		args := make([]any, 0, len(v.Args))
		for _, a := range v.Args {
			args = append(args, encodeExpr(a))
		}
		return map[string]any{"kind": "call", "pos": v.Pos, "fun": encodeExpr(v.Fun), "args": args}
	case *BinaryExpr:
		return map[string]any{"kind": "binary", "pos": v.Pos, "op": v.Op, "x": encodeExpr(v.X), "y": encodeExpr(v.Y)}
	case *AttrExpr:
		return map[string]any{"kind": "attr", "pos": v.Pos, "x": encodeExpr(v.X), "name": v.Name}
	default:
		return nil
	}
}

func encodeFuncDecl(d *FuncDecl) map[string]any {
	params := make([]any, 0, len(d.Params))
	for _, p := range d.Params {
		params = append(params, map[string]any{"pos": p.Pos, "name": p.Name})
	}
	out := map[string]any{"pos": d.Pos, "name": d.Name, "params": params}
	if d.Body != nil {
		out["body"] = encodeStmt(d.Body)
	}
	return out
}
