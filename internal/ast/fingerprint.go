package ast

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
)

// Fingerprint returns a content hash identifying a translation unit.
// Byte-identical source parses to an identical tree and therefore an
// identical fingerprint, which is what keys the analysis result cache.
// Positions are part of the hash: two otherwise-equal trees at different
// locations must not share cached findings, since findings carry
// locations.
func Fingerprint(f *File) string {
	h := sha256.New()
	hashString(h, f.Name)
	hashPos(h, f.Pos)
	hashInt(h, len(f.Funcs))
	for _, fn := range f.Funcs {
		hashNode(h, fn)
	}
	hashInt(h, len(f.Stmts))
	for _, s := range f.Stmts {
		hashNode(h, s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashNode(h hash.Hash, n Node) {
	if n == nil {
		hashString(h, "<nil>")
		return
	}

	switch v := n.(type) {
	case *FuncDecl:
		hashString(h, "func")
		hashString(h, v.Name)
		hashPos(h, v.Pos)
		hashInt(h, len(v.Params))
		for _, p := range v.Params {
			hashString(h, p.Name)
			hashPos(h, p.Pos)
		}
		if v.Body != nil {
			hashNode(h, v.Body)
		}
	case *Block:
		hashString(h, "block")
		hashPos(h, v.Pos)
		hashInt(h, len(v.Stmts))
		for _, s := range v.Stmts {
			hashNode(h, s)
		}
	case *AssignStmt:
		hashString(h, "assign")
		hashPos(h, v.Pos)
		if v.Target != nil {
			hashString(h, v.Target.Name)
		}
		hashNode(h, v.Value)
	case *ExprStmt:
		hashString(h, "expr")
		hashPos(h, v.Pos)
		hashNode(h, v.X)
	case *ReturnStmt:
		hashString(h, "return")
		hashPos(h, v.Pos)
		if v.Value != nil {
			hashNode(h, v.Value)
		}
	case *Ident:
		hashString(h, "ident")
		hashString(h, v.Name)
		hashPos(h, v.Pos)
	case *BasicLit:
		hashString(h, "lit")
		hashString(h, string(v.Kind))
		hashString(h, v.Value)
		hashPos(h, v.Pos)
	case *CallExpr:
		hashString(h, "call")
		hashPos(h, v.Pos)
		hashNode(h, v.Fun)
		hashInt(h, len(v.Args))
		for _, a := range v.Args {
			hashNode(h, a)
		}
	case *BinaryExpr:
		hashString(h, "binary")
		hashString(h, v.Op)
		hashPos(h, v.Pos)
		hashNode(h, v.X)
		hashNode(h, v.Y)
	case *AttrExpr:
		hashString(h, "attr")
		hashString(h, v.Name)
		hashPos(h, v.Pos)
		hashNode(h, v.X)
	case *Param:
		hashString(h, "param")
		hashString(h, v.Name)
		hashPos(h, v.Pos)
	default:
		hashString(h, fmt.Sprintf("%T", n))
	}
}

// hashString writes a length-prefixed string so adjacent fields cannot
// alias each other.
func hashString(h hash.Hash, s string) {
	hashInt(h, len(s))
	h.Write([]byte(s))
}

func hashInt(h hash.Hash, v int) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func hashPos(h hash.Hash, p Pos) {
	hashString(h, p.File)
	hashInt(h, p.Line)
	hashInt(h, p.Col)
}
