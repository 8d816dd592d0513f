// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ir

// Rewriting utilities for transformation passes. All rewrites return
// new trees, preserving the provenance of every rebuilt node; the
// input trees are never mutated.

// RewriteExpr rewrites an expression bottom-up: operands are rewritten
// first, then f is applied to the rebuilt node. f returns its argument
// unchanged to keep a node.
func RewriteExpr(e Expr, f func(Expr) Expr) Expr {
	switch n := e.(type) {
	case *IntImm, *FloatImm, *BoolImm, *Var:
	case *Load:
		indices := rewriteExprs(n.indices, f)
		if indices != nil {
			e = &Load{meta: cloneMeta(n), buf: n.buf, indices: indices}
		}
	case *Binary:
		x, y := RewriteExpr(n.x, f), RewriteExpr(n.y, f)
		if x != n.x || y != n.y {
			e = &Binary{meta: cloneMeta(n), op: n.op, x: x, y: y, typ: n.typ}
		}
	case *CompareSelect:
		x, y := RewriteExpr(n.x, f), RewriteExpr(n.y, f)
		ifTrue, ifFalse := RewriteExpr(n.ifTrue, f), RewriteExpr(n.ifFalse, f)
		if x != n.x || y != n.y || ifTrue != n.ifTrue || ifFalse != n.ifFalse {
			e = &CompareSelect{meta: cloneMeta(n), op: n.op, x: x, y: y, ifTrue: ifTrue, ifFalse: ifFalse, typ: n.typ}
		}
	case *IfThenElse:
		cond := RewriteExpr(n.cond, f)
		ifTrue, ifFalse := RewriteExpr(n.ifTrue, f), RewriteExpr(n.ifFalse, f)
		if cond != n.cond || ifTrue != n.ifTrue || ifFalse != n.ifFalse {
			e = &IfThenElse{meta: cloneMeta(n), cond: cond, ifTrue: ifTrue, ifFalse: ifFalse, typ: n.typ}
		}
	case *Cast:
		x := RewriteExpr(n.x, f)
		if x != n.x {
			e = &Cast{meta: cloneMeta(n), x: x, typ: n.typ}
		}
	case *IsNaN:
		x := RewriteExpr(n.x, f)
		if x != n.x {
			e = &IsNaN{meta: cloneMeta(n), x: x}
		}
	}
	return f(e)
}

// rewriteExprs rewrites a slice of expressions, returning nil when no
// expression changed.
func rewriteExprs(exprs []Expr, f func(Expr) Expr) []Expr {
	var out []Expr
	for i, e := range exprs {
		rewritten := RewriteExpr(e, f)
		if rewritten != e && out == nil {
			out = make([]Expr, len(exprs))
			copy(out, exprs[:i])
		}
		if out != nil {
			out[i] = rewritten
		}
	}
	return out
}

// RewriteStmt rewrites every expression under a statement bottom-up,
// rebuilding the statements along the changed paths.
func RewriteStmt(s Stmt, f func(Expr) Expr) Stmt {
	switch n := s.(type) {
	case *For:
		start, stop := RewriteExpr(n.start, f), RewriteExpr(n.stop, f)
		body := RewriteStmt(n.body, f)
		if start != n.start || stop != n.stop || body != n.body {
			return &For{meta: cloneMeta(n), v: n.v, start: start, stop: stop, body: body, vectorWidth: n.vectorWidth}
		}
	case *Block:
		var stmts []Stmt
		for i, st := range n.stmts {
			rewritten := RewriteStmt(st, f)
			if rewritten != st && stmts == nil {
				stmts = make([]Stmt, len(n.stmts))
				copy(stmts, n.stmts[:i])
			}
			if stmts != nil {
				stmts[i] = rewritten
			}
		}
		if stmts != nil {
			return &Block{meta: cloneMeta(n), stmts: stmts}
		}
	case *Store:
		indices := rewriteExprs(n.indices, f)
		value := RewriteExpr(n.value, f)
		if indices != nil || value != n.value {
			if indices == nil {
				indices = n.indices
			}
			return &Store{meta: cloneMeta(n), buf: n.buf, indices: indices, value: value}
		}
	case *Let:
		value := RewriteExpr(n.value, f)
		if value != n.value {
			return &Let{meta: cloneMeta(n), v: n.v, value: value}
		}
	case *ExternalCall:
		args := rewriteExprs(n.args, f)
		if args != nil {
			return &ExternalCall{meta: cloneMeta(n), out: n.out, funcName: n.funcName, ins: n.ins, args: args}
		}
	case *Alloc, *Free:
	}
	return s
}

// SubstituteVars returns the expression with every occurrence of the
// given variables replaced by their substitution.
func SubstituteVars(e Expr, repl map[*Var]Expr) Expr {
	return RewriteExpr(e, func(e Expr) Expr {
		v, ok := e.(*Var)
		if !ok {
			return e
		}
		sub, ok := repl[v]
		if !ok {
			return e
		}
		return sub
	})
}

// SubstituteVarsInStmt returns the statement with every occurrence of
// the given variables replaced by their substitution.
func SubstituteVarsInStmt(s Stmt, repl map[*Var]Expr) Stmt {
	return RewriteStmt(s, func(e Expr) Expr {
		v, ok := e.(*Var)
		if !ok {
			return e
		}
		sub, ok := repl[v]
		if !ok {
			return e
		}
		return sub
	})
}

// ReplaceLoads returns the statement with every load of the given
// buffer replaced by fn applied to the load indices.
func ReplaceLoads(s Stmt, buf *Buf, fn func(indices []Expr) Expr) Stmt {
	return RewriteStmt(s, func(e Expr) Expr {
		load, ok := e.(*Load)
		if !ok || load.buf != buf {
			return e
		}
		return fn(load.indices)
	})
}

// Equal reports whether two expressions are structurally identical.
// Variables and buffers compare by node identity, not by name.
func Equal(x, y Expr) bool {
	if x == y {
		return true
	}
	switch xn := x.(type) {
	case *IntImm:
		yn, ok := y.(*IntImm)
		return ok && xn.typ == yn.typ && xn.value == yn.value
	case *FloatImm:
		yn, ok := y.(*FloatImm)
		return ok && xn.typ == yn.typ && xn.value == yn.value
	case *BoolImm:
		yn, ok := y.(*BoolImm)
		return ok && xn.value == yn.value
	case *Var:
		return false // identity comparison already done above.
	case *Load:
		yn, ok := y.(*Load)
		return ok && xn.buf == yn.buf && equalExprs(xn.indices, yn.indices)
	case *Binary:
		yn, ok := y.(*Binary)
		return ok && xn.op == yn.op && Equal(xn.x, yn.x) && Equal(xn.y, yn.y)
	case *CompareSelect:
		yn, ok := y.(*CompareSelect)
		return ok && xn.op == yn.op && Equal(xn.x, yn.x) && Equal(xn.y, yn.y) &&
			Equal(xn.ifTrue, yn.ifTrue) && Equal(xn.ifFalse, yn.ifFalse)
	case *IfThenElse:
		yn, ok := y.(*IfThenElse)
		return ok && Equal(xn.cond, yn.cond) && Equal(xn.ifTrue, yn.ifTrue) && Equal(xn.ifFalse, yn.ifFalse)
	case *Cast:
		yn, ok := y.(*Cast)
		return ok && xn.typ == yn.typ && Equal(xn.x, yn.x)
	case *IsNaN:
		yn, ok := y.(*IsNaN)
		return ok && Equal(xn.x, yn.x)
	}
	return false
}

func equalExprs(xs, ys []Expr) bool {
	if len(xs) != len(ys) {
		return false
	}
	for i, x := range xs {
		if !Equal(x, ys[i]) {
			return false
		}
	}
	return true
}
