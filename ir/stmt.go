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

// ----------------------------------------------------------------------------
// Statement nodes.
type (
	// For iterates a loop variable from a start bound (inclusive) to a
	// stop bound (exclusive), executing its body once per value.
	For struct {
		meta
		v           *Var
		start, stop Expr
		body        Stmt
		vectorWidth int
	}

	// Block is an ordered sequence of statements.
	Block struct {
		meta
		stmts []Stmt
	}

	// Store writes the value of an expression into one buffer element.
	Store struct {
		meta
		buf     *Buf
		indices []Expr
		value   Expr
	}

	// Let binds a variable to the value of an expression for the
	// remainder of the enclosing block.
	Let struct {
		meta
		v     *Var
		value Expr
	}

	// ExternalCall invokes a named host-runtime operator with a fixed
	// output buffer, ordered input buffers and extra scalar arguments.
	// It is the single escape hatch from the pure IR world: the code
	// generator translates it into a call into the host runtime's
	// operator dispatch.
	ExternalCall struct {
		meta
		out      *Buf
		funcName string
		ins      []*Buf
		args     []Expr
	}

	// Alloc reserves memory for an intermediate buffer.
	Alloc struct {
		meta
		buf *Buf
	}

	// Free releases the memory of an intermediate buffer.
	Free struct {
		meta
		buf *Buf
	}
)

var (
	_ Stmt = (*For)(nil)
	_ Stmt = (*Block)(nil)
	_ Stmt = (*Store)(nil)
	_ Stmt = (*Let)(nil)
	_ Stmt = (*ExternalCall)(nil)
	_ Stmt = (*Alloc)(nil)
	_ Stmt = (*Free)(nil)
)

// NewFor returns a loop over [start, stop) with the given body.
func NewFor(v VarHandle, start, stop ExprHandle, body Stmt) *For {
	if !IsInteger(v.DType()) {
		constructErrorf("loop variable %s has dtype %s, want an integer", v.Name(), v.DType().String())
	}
	if !IsInteger(start.DType()) || !IsInteger(stop.DType()) {
		constructErrorf("loop %s: bounds must be integers", v.Name())
	}
	return &For{meta: newMeta(), v: v.v, start: start.expr, stop: stop.expr, body: body}
}

// Var returns the loop variable.
func (s *For) Var() *Var { return s.v }

// Start returns the inclusive lower bound.
func (s *For) Start() Expr { return s.start }

// Stop returns the exclusive upper bound.
func (s *For) Stop() Expr { return s.stop }

// Body of the loop.
func (s *For) Body() Stmt { return s.body }

// VectorWidth returns the vectorization width hint, or 0 when the loop
// is scalar.
func (s *For) VectorWidth() int { return s.vectorWidth }

// WithBody returns a new loop with the same variable, bounds and
// provenance but a different body.
func (s *For) WithBody(body Stmt) *For {
	return &For{meta: cloneMeta(s), v: s.v, start: s.start, stop: s.stop, body: body, vectorWidth: s.vectorWidth}
}

// WithBounds returns a new loop with the same variable, body and
// provenance but different bounds.
func (s *For) WithBounds(start, stop Expr) *For {
	return &For{meta: cloneMeta(s), v: s.v, start: start, stop: stop, body: s.body, vectorWidth: s.vectorWidth}
}

// WithVectorWidth returns a new loop annotated with a vectorization
// width. The code generators unroll the loop body by this width.
func (s *For) WithVectorWidth(width int) *For {
	return &For{meta: cloneMeta(s), v: s.v, start: s.start, stop: s.stop, body: s.body, vectorWidth: width}
}

// NewBlock returns an ordered sequence of statements.
func NewBlock(stmts ...Stmt) *Block {
	return &Block{meta: newMeta(), stmts: stmts}
}

// Stmts returns the statements of the block. The returned slice must
// not be mutated.
func (s *Block) Stmts() []Stmt { return s.stmts }

// WithStmts returns a new block with the given statements, keeping the
// provenance of the receiver.
func (s *Block) WithStmts(stmts []Stmt) *Block {
	return &Block{meta: cloneMeta(s), stmts: stmts}
}

// NewStore returns the statement writing value into one element of the
// buffer. The number of indices must equal the buffer rank and the
// value dtype must equal the buffer dtype.
func NewStore(buf BufHandle, indices []ExprHandle, value ExprHandle) *Store {
	if len(indices) != buf.Rank() {
		constructErrorf("buffer %s has rank %d but store uses %d indices", buf.Name(), buf.Rank(), len(indices))
	}
	if value.DType() != buf.DType() {
		constructErrorf("cannot store a %s value into buffer %s of dtype %s", value.DType().String(), buf.Name(), buf.DType().String())
	}
	indexExprs := make([]Expr, len(indices))
	for i, index := range indices {
		if !IsInteger(index.DType()) {
			constructErrorf("buffer %s: store index %d has dtype %s, want an integer", buf.Name(), i, index.DType().String())
		}
		indexExprs[i] = index.expr
	}
	return &Store{meta: newMeta(), buf: buf.b, indices: indexExprs, value: value.expr}
}

// Buf written by the store.
func (s *Store) Buf() *Buf { return s.buf }

// Indices of the written element, one per buffer dimension.
func (s *Store) Indices() []Expr { return s.indices }

// Value written into the buffer.
func (s *Store) Value() Expr { return s.value }

// NewLet binds the variable to the value of the expression for the
// remainder of the enclosing block.
func NewLet(v VarHandle, value ExprHandle) *Let {
	if v.DType() != value.DType() {
		constructErrorf("cannot bind a %s value to variable %s of dtype %s", value.DType().String(), v.Name(), v.DType().String())
	}
	return &Let{meta: newMeta(), v: v.v, value: value.expr}
}

// Var bound by the let.
func (s *Let) Var() *Var { return s.v }

// Value bound to the variable.
func (s *Let) Value() Expr { return s.value }

// NewExternalCall returns the statement calling the named host-runtime
// operator, writing its result into out. Extra scalar arguments must
// be integer expressions.
func NewExternalCall(out BufHandle, funcName string, ins []BufHandle, args []ExprHandle) *ExternalCall {
	inBufs := make([]*Buf, len(ins))
	for i, in := range ins {
		inBufs[i] = in.b
	}
	argExprs := make([]Expr, len(args))
	for i, arg := range args {
		if !IsInteger(arg.DType()) {
			constructErrorf("external call %s: scalar argument %d has dtype %s, want an integer", funcName, i, arg.DType().String())
		}
		argExprs[i] = arg.expr
	}
	return &ExternalCall{meta: newMeta(), out: out.b, funcName: funcName, ins: inBufs, args: argExprs}
}

// Out returns the output buffer of the call.
func (s *ExternalCall) Out() *Buf { return s.out }

// FuncName returns the name of the host-runtime operator.
func (s *ExternalCall) FuncName() string { return s.funcName }

// Ins returns the input buffers of the call.
func (s *ExternalCall) Ins() []*Buf { return s.ins }

// Args returns the extra scalar arguments of the call.
func (s *ExternalCall) Args() []Expr { return s.args }

// NewAlloc returns the statement reserving memory for a buffer.
func NewAlloc(buf BufHandle) *Alloc {
	return &Alloc{meta: newMeta(), buf: buf.b}
}

// Buf allocated by the statement.
func (s *Alloc) Buf() *Buf { return s.buf }

// NewFree returns the statement releasing the memory of a buffer.
func NewFree(buf BufHandle) *Free {
	return &Free{meta: newMeta(), buf: buf.b}
}

// Buf freed by the statement.
func (s *Free) Buf() *Buf { return s.buf }

// HandleOfBuf wraps a buffer node back into a handle.
func HandleOfBuf(b *Buf) BufHandle { return BufHandle{b: b} }

// HandleOfVar wraps a variable node back into a handle.
func HandleOfVar(v *Var) VarHandle { return VarHandle{v: v} }
