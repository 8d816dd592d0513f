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
	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorexpr/ir"
)

// replaceStmt rebuilds the tree with old replaced by repl, reporting
// whether old was found. Node identity locates the statement.
func replaceStmt(s, old, repl ir.Stmt) (ir.Stmt, bool) {
	if s == old {
		return repl, true
	}
	switch n := s.(type) {
	case *ir.For:
		body, ok := replaceStmt(n.Body(), old, repl)
		if ok {
			return n.WithBody(body), true
		}
	case *ir.Block:
		for i, st := range n.Stmts() {
			rewritten, ok := replaceStmt(st, old, repl)
			if !ok {
				continue
			}
			stmts := append([]ir.Stmt(nil), n.Stmts()...)
			stmts[i] = rewritten
			return n.WithStmts(stmts), true
		}
	}
	return s, false
}

func (l *LoopNest) replace(old, repl ir.Stmt) error {
	root, ok := replaceStmt(l.root, old, repl)
	if !ok {
		return errors.Errorf("the statement is not part of this loop nest")
	}
	l.root = root
	return nil
}

// SplitWithTail splits a loop into an outer loop over chunks of the
// given factor and an inner loop within each chunk. When the extent is
// not known to be a multiple of the factor, a tail loop covering the
// remaining iterations follows the split pair; the returned tail is
// nil otherwise.
func (l *LoopNest) SplitWithTail(loop *ir.For, factor int) (outer *ir.For, tail ir.Stmt, err error) {
	if err := l.raw(); err != nil {
		return nil, nil, err
	}
	if factor < 2 {
		return nil, nil, errors.Errorf("split factor must be at least 2, got %d", factor)
	}
	v := loop.Var()
	start := ir.HandleOf(loop.Start())
	stop := ir.HandleOf(loop.Stop())
	f := ir.Int(int64(factor))

	extent := int64(-1)
	startImm, startConst := loop.Start().(*ir.IntImm)
	stopImm, stopConst := loop.Stop().(*ir.IntImm)
	if startConst && stopConst {
		extent = stopImm.Value() - startImm.Value()
	}

	var outerStop ir.ExprHandle
	if extent >= 0 {
		outerStop = ir.Int(extent / int64(factor))
	} else {
		outerStop = stop.Sub(start).Div(f)
	}
	outerV := ir.NewVar(l.names.Derive(v.Name(), "outer"), dtype.Int64)
	innerV := ir.NewVar(l.names.Derive(v.Name(), "inner"), dtype.Int64)
	combined := start.Add(outerV.Handle().Mul(f)).Add(innerV.Handle())
	body := ir.SubstituteVarsInStmt(loop.Body(), map[*ir.Var]ir.Expr{v: combined.Node()})
	inner := ir.NewFor(innerV, ir.Int(0), f, body)
	outer = ir.NewFor(outerV, ir.Int(0), outerStop, inner)

	var repl ir.Stmt = outer
	if extent < 0 || extent%int64(factor) != 0 {
		// The tail reuses the original loop variable over the
		// remaining iterations, so the body needs no substitution.
		tailStart := start.Add(outerStop.Mul(f))
		tail = ir.NewFor(ir.HandleOfVar(v), tailStart, stop, loop.Body())
		repl = ir.NewBlock(outer, tail)
	}
	if err := l.replace(loop, repl); err != nil {
		return nil, nil, err
	}
	return outer, tail, nil
}

// Fuse merges two adjacent loops with identical bounds into one loop
// running both bodies. The second loop's variable is replaced by the
// first's.
func (l *LoopNest) Fuse(a, b *ir.For) (*ir.For, error) {
	if err := l.raw(); err != nil {
		return nil, err
	}
	if !ir.Equal(a.Start(), b.Start()) || !ir.Equal(a.Stop(), b.Stop()) {
		return nil, errors.Errorf("cannot fuse loops %s and %s: their bounds differ", a.Var().Name(), b.Var().Name())
	}
	second := ir.SubstituteVarsInStmt(b.Body(), map[*ir.Var]ir.Expr{b.Var(): a.Var()})
	fused := a.WithBody(ir.NewBlock(a.Body(), second))
	root, ok := fuseInTree(l.root, a, b, fused)
	if !ok {
		return nil, errors.Errorf("cannot fuse loops %s and %s: they are not adjacent in the same block", a.Var().Name(), b.Var().Name())
	}
	l.root = root
	return fused, nil
}

// fuseInTree replaces the adjacent pair (a, b) inside a block with the
// fused loop.
func fuseInTree(s ir.Stmt, a, b *ir.For, fused ir.Stmt) (ir.Stmt, bool) {
	switch n := s.(type) {
	case *ir.For:
		body, ok := fuseInTree(n.Body(), a, b, fused)
		if ok {
			return n.WithBody(body), true
		}
	case *ir.Block:
		stmts := n.Stmts()
		for i := 0; i+1 < len(stmts); i++ {
			if stmts[i] != a || stmts[i+1] != b {
				continue
			}
			out := make([]ir.Stmt, 0, len(stmts)-1)
			out = append(out, stmts[:i]...)
			out = append(out, fused)
			out = append(out, stmts[i+2:]...)
			return n.WithStmts(out), true
		}
		for i, st := range stmts {
			rewritten, ok := fuseInTree(st, a, b, fused)
			if !ok {
				continue
			}
			out := append([]ir.Stmt(nil), stmts...)
			out[i] = rewritten
			return n.WithStmts(out), true
		}
	}
	return s, false
}

// Reorder swaps a loop with the loop directly inside it. The pair must
// be perfectly nested: the outer body is the inner loop and nothing
// else. The new outer loop is returned.
func (l *LoopNest) Reorder(loop *ir.For) (*ir.For, error) {
	if err := l.raw(); err != nil {
		return nil, err
	}
	inner, ok := loop.Body().(*ir.For)
	if !ok {
		return nil, errors.Errorf("cannot reorder loop %s: its body is not a single nested loop", loop.Var().Name())
	}
	swapped := inner.WithBody(loop.WithBody(inner.Body()))
	if err := l.replace(loop, swapped); err != nil {
		return nil, err
	}
	return swapped, nil
}

// Vectorize annotates an innermost loop with a vectorization width.
// The code generators unroll the body by this width.
func (l *LoopNest) Vectorize(loop *ir.For, width int) error {
	if err := l.raw(); err != nil {
		return err
	}
	if width < 2 {
		return errors.Errorf("vector width must be at least 2, got %d", width)
	}
	nested := false
	walkStmts(loop.Body(), func(s ir.Stmt) {
		if _, ok := s.(*ir.For); ok {
			nested = true
		}
	})
	if nested {
		return errors.Errorf("cannot vectorize loop %s: only innermost loops can be vectorized", loop.Var().Name())
	}
	return l.replace(loop, loop.WithVectorWidth(width))
}

// ComputeInline removes the computation producing the buffer and
// substitutes its defining expression into every load of the buffer.
// The producer must be a single store indexed by plain loop variables.
func (l *LoopNest) ComputeInline(buf ir.BufHandle) error {
	if err := l.raw(); err != nil {
		return err
	}
	b := buf.Node()
	if l.isOutput(b) {
		return errors.Errorf("buffer %s is an output and cannot be inlined", b.Name())
	}
	var stores []*ir.Store
	walkStmts(l.root, func(s ir.Stmt) {
		if store, ok := s.(*ir.Store); ok && store.Buf() == b {
			stores = append(stores, store)
		}
	})
	if len(stores) != 1 {
		return errors.Errorf("buffer %s has %d stores, inlining requires exactly one", b.Name(), len(stores))
	}
	store := stores[0]
	vars := make([]*ir.Var, len(store.Indices()))
	seen := make(map[*ir.Var]bool)
	for i, index := range store.Indices() {
		v, ok := index.(*ir.Var)
		if !ok || seen[v] {
			return errors.Errorf("buffer %s: store index %d is not a distinct loop variable", b.Name(), i)
		}
		seen[v] = true
		vars[i] = v
	}

	stmts := l.topLevel()
	producer := -1
	for i, stmt := range stmts {
		contains := false
		walkStmts(stmt, func(s ir.Stmt) {
			if s == store {
				contains = true
			}
		})
		if !contains {
			continue
		}
		written := writtenBufs(stmt)
		if len(written) != 1 || written[0] != b {
			return errors.Errorf("buffer %s: its producer also writes other buffers and cannot be inlined", b.Name())
		}
		producer = i
		break
	}
	if producer < 0 || len(stmts) == 1 {
		return errors.Errorf("buffer %s has no consumer to inline into", b.Name())
	}
	rest := make([]ir.Stmt, 0, len(stmts)-1)
	rest = append(rest, stmts[:producer]...)
	rest = append(rest, stmts[producer+1:]...)
	l.setTopLevel(rest)
	l.root = ir.ReplaceLoads(l.root, b, func(indices []ir.Expr) ir.Expr {
		repl := make(map[*ir.Var]ir.Expr, len(vars))
		for i, v := range vars {
			repl[v] = indices[i]
		}
		return ir.SubstituteVars(store.Value(), repl)
	})
	return nil
}
