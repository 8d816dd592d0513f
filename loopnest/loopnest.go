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

// Package loopnest turns computation statements into a transformable
// loop nest and prepares it for code generation.
//
// A nest starts in the raw state, where loop transformations may be
// applied in any order. PrepareForCodegen then runs the finalization
// passes, removing dead stores and inserting the allocation statements
// for intermediate buffers. A prepared nest is frozen: preparing it a
// second time or transforming it further is an error.
package loopnest

import (
	"github.com/pkg/errors"
	"github.com/gx-org/tensorexpr/base/uname"
	"github.com/gx-org/tensorexpr/ir"
)

// LoopNest holds the root statement of a computation together with the
// buffers the computation must keep.
type LoopNest struct {
	root     ir.Stmt
	outputs  []*ir.Buf
	names    *uname.Unique
	prepared bool
}

// New returns the loop nest computing the given tensors in order. The
// output buffers are the ones surviving finalization; every other
// written buffer is an intermediate. A nil outputs slice keeps every
// tensor buffer.
func New(tensors []*ir.Tensor, outputs []ir.BufHandle) (*LoopNest, error) {
	if len(tensors) == 0 {
		return nil, errors.Errorf("a loop nest needs at least one tensor")
	}
	stmts := make([]ir.Stmt, len(tensors))
	for i, tensor := range tensors {
		stmts[i] = tensor.Stmt()
	}
	var root ir.Stmt
	if len(stmts) == 1 {
		root = stmts[0]
	} else {
		root = ir.NewBlock(stmts...)
	}
	if outputs == nil {
		outputs = make([]ir.BufHandle, len(tensors))
		for i, tensor := range tensors {
			outputs[i] = tensor.Buf()
		}
	}
	return NewFromStmt(root, outputs), nil
}

// NewFromStmt returns the loop nest over an explicit root statement.
func NewFromStmt(root ir.Stmt, outputs []ir.BufHandle) *LoopNest {
	nest := &LoopNest{root: root, names: uname.New()}
	for _, out := range outputs {
		nest.outputs = append(nest.outputs, out.Node())
	}
	for _, v := range loopVarsOf(root) {
		nest.names.Name(v.Name())
	}
	return nest
}

// RootStmt returns the current root statement of the nest.
func (l *LoopNest) RootStmt() ir.Stmt { return l.root }

// Outputs returns the buffers surviving finalization.
func (l *LoopNest) Outputs() []ir.BufHandle {
	outs := make([]ir.BufHandle, len(l.outputs))
	for i, out := range l.outputs {
		outs[i] = ir.HandleOfBuf(out)
	}
	return outs
}

// Prepared reports whether the nest has been finalized.
func (l *LoopNest) Prepared() bool { return l.prepared }

// String representation of the root statement.
func (l *LoopNest) String() string { return l.root.String() }

// PrepareForCodegen finalizes the nest: simplifies the statements,
// removes stores into buffers nothing reads, and wraps the root with
// the allocation and release of every intermediate buffer. The nest is
// frozen afterwards.
func (l *LoopNest) PrepareForCodegen() error {
	if l.prepared {
		return errors.Errorf("the loop nest has already been prepared for code generation")
	}
	l.Simplify()
	l.eliminateDeadStores()
	l.insertAllocFree()
	l.prepared = true
	return nil
}

// raw returns an error when the nest is frozen. Transformations call
// it before touching the root.
func (l *LoopNest) raw() error {
	if l.prepared {
		return errors.Errorf("the loop nest has been prepared for code generation and can no longer be transformed")
	}
	return nil
}

func (l *LoopNest) isOutput(b *ir.Buf) bool {
	for _, out := range l.outputs {
		if out == b {
			return true
		}
	}
	return false
}

// topLevel returns the ordered top-level statements of the root.
func (l *LoopNest) topLevel() []ir.Stmt {
	if block, ok := l.root.(*ir.Block); ok {
		return block.Stmts()
	}
	return []ir.Stmt{l.root}
}

func (l *LoopNest) setTopLevel(stmts []ir.Stmt) {
	if len(stmts) == 1 {
		l.root = stmts[0]
		return
	}
	if block, ok := l.root.(*ir.Block); ok {
		l.root = block.WithStmts(stmts)
		return
	}
	l.root = ir.NewBlock(stmts...)
}

// eliminateDeadStores drops top-level statements whose written buffers
// are neither outputs nor used by any other statement. Removing one
// statement can orphan another, so the pass runs to a fixed point.
func (l *LoopNest) eliminateDeadStores() {
	for {
		stmts := l.topLevel()
		kept := make([]ir.Stmt, 0, len(stmts))
		for i, stmt := range stmts {
			written := writtenBufs(stmt)
			if len(written) == 0 {
				kept = append(kept, stmt)
				continue
			}
			live := false
			for _, b := range written {
				if l.isOutput(b) {
					live = true
					break
				}
				for j, other := range stmts {
					if j != i && usesBuf(other, b) {
						live = true
						break
					}
				}
				if live {
					break
				}
			}
			if live {
				kept = append(kept, stmt)
			}
		}
		if len(kept) == len(stmts) {
			return
		}
		l.setTopLevel(kept)
	}
}

// insertAllocFree brackets the computation with the allocation and
// release of every written buffer that is not an output.
func (l *LoopNest) insertAllocFree() {
	var intermediates []*ir.Buf
	for _, b := range writtenBufs(l.root) {
		if !l.isOutput(b) {
			intermediates = append(intermediates, b)
		}
	}
	if len(intermediates) == 0 {
		return
	}
	stmts := make([]ir.Stmt, 0, len(l.topLevel())+2*len(intermediates))
	for _, b := range intermediates {
		stmts = append(stmts, ir.NewAlloc(ir.HandleOfBuf(b)))
	}
	stmts = append(stmts, l.topLevel()...)
	for _, b := range intermediates {
		stmts = append(stmts, ir.NewFree(ir.HandleOfBuf(b)))
	}
	l.root = ir.NewBlock(stmts...)
}

// LoopsFor returns the loops enclosing the store into the given
// buffer, outermost first.
func (l *LoopNest) LoopsFor(buf ir.BufHandle) []*ir.For {
	var stack, found []*ir.For
	var walk func(s ir.Stmt) bool
	walk = func(s ir.Stmt) bool {
		switch n := s.(type) {
		case *ir.For:
			stack = append(stack, n)
			done := walk(n.Body())
			stack = stack[:len(stack)-1]
			return done
		case *ir.Block:
			for _, st := range n.Stmts() {
				if walk(st) {
					return true
				}
			}
		case *ir.Store:
			if n.Buf() == buf.Node() {
				found = append([]*ir.For(nil), stack...)
				return true
			}
		case *ir.ExternalCall:
			if n.Out() == buf.Node() {
				found = append([]*ir.For(nil), stack...)
				return true
			}
		}
		return false
	}
	walk(l.root)
	return found
}

// walkStmts visits every statement of the tree depth first.
func walkStmts(s ir.Stmt, f func(ir.Stmt)) {
	f(s)
	switch n := s.(type) {
	case *ir.For:
		walkStmts(n.Body(), f)
	case *ir.Block:
		for _, st := range n.Stmts() {
			walkStmts(st, f)
		}
	}
}

// walkExprs visits every expression under the statement.
func walkExprs(s ir.Stmt, f func(ir.Expr)) {
	ir.RewriteStmt(s, func(e ir.Expr) ir.Expr {
		f(e)
		return e
	})
}

// writtenBufs returns the buffers written under the statement, in
// first-write order.
func writtenBufs(s ir.Stmt) []*ir.Buf {
	var bufs []*ir.Buf
	seen := make(map[*ir.Buf]bool)
	record := func(b *ir.Buf) {
		if !seen[b] {
			seen[b] = true
			bufs = append(bufs, b)
		}
	}
	walkStmts(s, func(st ir.Stmt) {
		switch n := st.(type) {
		case *ir.Store:
			record(n.Buf())
		case *ir.ExternalCall:
			record(n.Out())
		}
	})
	return bufs
}

// usesBuf reports whether the statement reads the buffer through a
// load or passes it to an external call.
func usesBuf(s ir.Stmt, b *ir.Buf) bool {
	used := false
	walkExprs(s, func(e ir.Expr) {
		if load, ok := e.(*ir.Load); ok && load.Buf() == b {
			used = true
		}
	})
	if used {
		return true
	}
	walkStmts(s, func(st ir.Stmt) {
		call, ok := st.(*ir.ExternalCall)
		if !ok {
			return
		}
		for _, in := range call.Ins() {
			if in == b {
				used = true
			}
		}
	})
	return used
}

// loopVarsOf returns the loop variables declared under the statement.
func loopVarsOf(s ir.Stmt) []*ir.Var {
	var vars []*ir.Var
	walkStmts(s, func(st ir.Stmt) {
		if loop, ok := st.(*ir.For); ok {
			vars = append(vars, loop.Var())
		}
	})
	return vars
}
