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

package loopnest

import (
	"github.com/gx-org/tensorexpr/ir"
)

// Simplify folds constant expressions, applies arithmetic identities,
// removes loops with an empty iteration space, and replaces loops with
// a single iteration by their substituted body.
func (l *LoopNest) Simplify() {
	root := simplifyStmt(l.root)
	if root == nil {
		root = ir.NewBlock()
	}
	l.root = root
}

// simplifyStmt returns the simplified statement, or nil when the
// statement reduces to nothing.
func simplifyStmt(s ir.Stmt) ir.Stmt {
	switch n := s.(type) {
	case *ir.For:
		start := ir.RewriteExpr(n.Start(), foldExpr)
		stop := ir.RewriteExpr(n.Stop(), foldExpr)
		body := simplifyStmt(n.Body())
		if body == nil {
			return nil
		}
		startImm, startConst := start.(*ir.IntImm)
		stopImm, stopConst := stop.(*ir.IntImm)
		if startConst && stopConst {
			extent := stopImm.Value() - startImm.Value()
			if extent <= 0 {
				return nil
			}
			if extent == 1 {
				once := ir.SubstituteVarsInStmt(body, map[*ir.Var]ir.Expr{n.Var(): start})
				return simplifyStmt(once)
			}
		}
		if start == n.Start() && stop == n.Stop() && body == n.Body() {
			return n
		}
		return n.WithBounds(start, stop).WithBody(body)
	case *ir.Block:
		var stmts []ir.Stmt
		changed := false
		for _, st := range n.Stmts() {
			simplified := simplifyStmt(st)
			if simplified != st {
				changed = true
			}
			if simplified == nil {
				continue
			}
			if block, ok := simplified.(*ir.Block); ok {
				stmts = append(stmts, block.Stmts()...)
				changed = true
				continue
			}
			stmts = append(stmts, simplified)
		}
		if !changed {
			return n
		}
		if len(stmts) == 0 {
			return nil
		}
		if len(stmts) == 1 {
			return stmts[0]
		}
		return n.WithStmts(stmts)
	}
	return ir.RewriteStmt(s, foldExpr)
}

// foldExpr folds one expression node whose operands are already
// folded. It is applied bottom-up through ir.RewriteExpr.
func foldExpr(e ir.Expr) ir.Expr {
	switch n := e.(type) {
	case *ir.Binary:
		return foldBinary(n)
	case *ir.Cast:
		if n.X().DType() == n.DType() {
			return n.X()
		}
		if x, ok := n.X().(*ir.IntImm); ok && ir.IsInteger(n.DType()) {
			return ir.Literal(n.DType(), float64(x.Value())).Node()
		}
	}
	return e
}

func foldBinary(n *ir.Binary) ir.Expr {
	x, y := n.X(), n.Y()
	if xi, ok := x.(*ir.IntImm); ok {
		if yi, ok := y.(*ir.IntImm); ok {
			if v, ok := evalInt(n.Op(), xi.Value(), yi.Value()); ok {
				return ir.Literal(n.DType(), float64(v)).Node()
			}
		}
	}
	switch n.Op() {
	case ir.Add:
		if isZero(x) {
			return y
		}
		if isZero(y) {
			return x
		}
	case ir.Sub:
		if isZero(y) {
			return x
		}
	case ir.Mul:
		if isOne(x) {
			return y
		}
		if isOne(y) {
			return x
		}
		// Zero annihilates integers only: a float operand could
		// be NaN or infinite.
		if ir.IsInteger(n.DType()) && (isZero(x) || isZero(y)) {
			return ir.Literal(n.DType(), 0).Node()
		}
	case ir.Div:
		if isOne(y) {
			return x
		}
	}
	return n
}

func evalInt(op ir.BinaryOp, x, y int64) (int64, bool) {
	switch op {
	case ir.Add:
		return x + y, true
	case ir.Sub:
		return x - y, true
	case ir.Mul:
		return x * y, true
	case ir.Div:
		if y != 0 {
			return x / y, true
		}
	case ir.Mod:
		if y != 0 {
			return x % y, true
		}
	case ir.Max:
		return max(x, y), true
	case ir.Min:
		return min(x, y), true
	}
	return 0, false
}

func isZero(e ir.Expr) bool {
	switch n := e.(type) {
	case *ir.IntImm:
		return n.Value() == 0
	case *ir.FloatImm:
		return n.Value() == 0
	}
	return false
}

func isOne(e ir.Expr) bool {
	switch n := e.(type) {
	case *ir.IntImm:
		return n.Value() == 1
	case *ir.FloatImm:
		return n.Value() == 1
	}
	return false
}
