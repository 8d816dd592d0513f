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

import (
	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
)

// DimArg pairs a dimension extent, literal or symbolic, with the
// display name of the loop variable iterating over it.
type DimArg struct {
	extent Expr
	name   string
}

// Dim returns a dimension argument driving one loop of a computation.
func Dim(extent ExprHandle, name string) DimArg {
	if !IsInteger(extent.DType()) {
		constructErrorf("dimension %s has dtype %s, want an integer", name, extent.DType().String())
	}
	return DimArg{extent: extent.expr, name: name}
}

// Extent of the dimension.
func (d DimArg) Extent() ExprHandle { return ExprHandle{expr: d.extent} }

// Name of the loop variable iterating over the dimension.
func (d DimArg) Name() string { return d.name }

// Tensor pairs the buffer holding the result of a computation with the
// statement computing it.
type Tensor struct {
	buf  *Buf
	stmt Stmt
}

// Buf holding the result of the computation.
func (t *Tensor) Buf() BufHandle { return BufHandle{b: t.buf} }

// Stmt computing the tensor.
func (t *Tensor) Stmt() Stmt { return t.stmt }

// NewTensor pairs a buffer with the statement computing it. It is used
// by lowerings that build their statement directly, such as external
// calls.
func NewTensor(buf BufHandle, stmt Stmt) *Tensor {
	return &Tensor{buf: buf.b, stmt: stmt}
}

// loopVars declares one loop variable per dimension.
func loopVars(dims []DimArg) []VarHandle {
	vars := make([]VarHandle, len(dims))
	for i, dim := range dims {
		vars[i] = NewVar(dim.name, dtype.Int64)
	}
	return vars
}

// nestLoops wraps a statement into one loop per dimension, outermost
// dimension first.
func nestLoops(dims []DimArg, vars []VarHandle, body Stmt) Stmt {
	for i := len(dims) - 1; i >= 0; i-- {
		body = NewFor(vars[i], Int(0), dims[i].Extent().Cast(dtype.Int64), body)
	}
	return body
}

// Compute synthesizes the loop nest storing body(indices) into a new
// buffer of the given name, with one loop per dimension in the order
// given. The buffer dtype is the dtype of the body expression.
func Compute(name string, dims []DimArg, body func(indices []ExprHandle) ExprHandle) (*Tensor, error) {
	vars := loopVars(dims)
	indices := make([]ExprHandle, len(vars))
	for i, v := range vars {
		indices[i] = v.Handle()
	}
	value := body(indices)
	if value.expr == nil {
		return nil, errors.Errorf("compute %s: body returned no expression", name)
	}
	bufDims := make([]ExprHandle, len(dims))
	for i, dim := range dims {
		bufDims[i] = dim.Extent()
	}
	buf := NewBuf(name, bufDims, value.DType())
	return &Tensor{
		buf:  buf.b,
		stmt: nestLoops(dims, vars, NewStore(buf, indices, value)),
	}, nil
}

// ComputeAt synthesizes the loop nest storing body(indices) into an
// existing output buffer, at indices chosen by outIndices. It is used
// when the output layout derives from input transformations, such as a
// permutation of the iteration axes. The body dtype must equal the
// declared output dtype.
func ComputeAt(out BufHandle, dims []DimArg, outIndices func(indices []ExprHandle) []ExprHandle, body func(indices []ExprHandle) ExprHandle) (*Tensor, error) {
	vars := loopVars(dims)
	indices := make([]ExprHandle, len(vars))
	for i, v := range vars {
		indices[i] = v.Handle()
	}
	value := body(indices)
	if value.expr == nil {
		return nil, errors.Errorf("compute %s: body returned no expression", out.Name())
	}
	if value.DType() != out.DType() {
		return nil, errors.Errorf("compute %s: body has dtype %s but the output buffer is declared as %s", out.Name(), value.DType().String(), out.DType().String())
	}
	storeIndices := outIndices(indices)
	if len(storeIndices) != out.Rank() {
		return nil, errors.Errorf("compute %s: got %d output indices for a buffer of rank %d", out.Name(), len(storeIndices), out.Rank())
	}
	return &Tensor{
		buf:  out.b,
		stmt: nestLoops(dims, vars, NewStore(out, storeIndices, value)),
	}, nil
}
