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

// Buf is a named multi-dimensional buffer: an ordered sequence of
// dimension extents, each either an integer literal or a variable for
// a dynamic shape, plus an element dtype. Buffers are created once per
// kernel compilation and never mutated; they are read through Load
// expressions and written through Store statements.
type Buf struct {
	meta
	name    string
	dims    []Expr
	typ     Dtype
	strides []Expr
}

var _ Node = (*Buf)(nil)

// Name of the buffer for display.
func (b *Buf) Name() string { return b.name }

// DType of the buffer elements.
func (b *Buf) DType() Dtype { return b.typ }

// Rank of the buffer.
func (b *Buf) Rank() int { return len(b.dims) }

// Dims returns the dimension extents.
func (b *Buf) Dims() []Expr { return b.dims }

// Strides returns the element strides, or nil when the buffer uses the
// default row-major layout computed from its extents.
func (b *Buf) Strides() []Expr { return b.strides }

// BufHandle is a handle on a buffer.
type BufHandle struct {
	b *Buf
}

// NewBuf returns a new buffer with the given dimension extents. Each
// extent must be an integer expression.
func NewBuf(name string, dims []ExprHandle, dt Dtype) BufHandle {
	return newBuf(name, dims, dt, nil)
}

func newBuf(name string, dims []ExprHandle, dt Dtype, strides []ExprHandle) BufHandle {
	dimExprs := make([]Expr, len(dims))
	for i, d := range dims {
		if !IsInteger(d.DType()) {
			constructErrorf("buffer %s: dimension %d has dtype %s, want an integer", name, i, d.DType().String())
		}
		dimExprs[i] = d.expr
	}
	var strideExprs []Expr
	if strides != nil {
		if len(strides) != len(dims) {
			constructErrorf("buffer %s: got %d strides for %d dimensions", name, len(strides), len(dims))
		}
		strideExprs = make([]Expr, len(strides))
		for i, s := range strides {
			if !IsInteger(s.DType()) {
				constructErrorf("buffer %s: stride %d has dtype %s, want an integer", name, i, s.DType().String())
			}
			strideExprs[i] = s.expr
		}
	}
	return BufHandle{b: &Buf{
		meta:    newMeta(),
		name:    name,
		dims:    dimExprs,
		typ:     dt,
		strides: strideExprs,
	}}
}

// Node returns the underlying buffer node.
func (b BufHandle) Node() *Buf { return b.b }

// Name of the buffer for display.
func (b BufHandle) Name() string { return b.b.name }

// DType of the buffer elements.
func (b BufHandle) DType() Dtype { return b.b.typ }

// Rank of the buffer.
func (b BufHandle) Rank() int { return len(b.b.dims) }

// Dim returns the extent of the i-th dimension.
func (b BufHandle) Dim(i int) ExprHandle { return ExprHandle{expr: b.b.dims[i]} }

// Load returns the expression reading one buffer element. The number
// of indices must equal the buffer rank and every index must be an
// integer expression.
func (b BufHandle) Load(indices ...ExprHandle) ExprHandle {
	if len(indices) != b.Rank() {
		constructErrorf("buffer %s has rank %d but load uses %d indices", b.Name(), b.Rank(), len(indices))
	}
	indexExprs := make([]Expr, len(indices))
	for i, index := range indices {
		if !IsInteger(index.DType()) {
			constructErrorf("buffer %s: load index %d has dtype %s, want an integer", b.Name(), i, index.DType().String())
		}
		indexExprs[i] = index.expr
	}
	return ExprHandle{&Load{meta: newMeta(), buf: b.b, indices: indexExprs}}
}

// Placeholder is a buffer standing for a kernel input or output: a
// buffer handle with explicit element strides, row-major by default.
type Placeholder struct {
	BufHandle
}

// NewPlaceholder returns a placeholder with row-major strides computed
// from the dimension extents.
func NewPlaceholder(name string, dt Dtype, dims []ExprHandle) *Placeholder {
	strides := make([]ExprHandle, len(dims))
	stride := Int(1)
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = stride
		if i > 0 {
			stride = stride.Mul(dims[i].Cast(stride.DType()))
		}
	}
	return &Placeholder{BufHandle: newBuf(name, dims, dt, strides)}
}

// NewPlaceholderStrided returns a placeholder with explicit strides,
// overriding the default row-major layout.
func NewPlaceholderStrided(name string, dt Dtype, dims, strides []ExprHandle) *Placeholder {
	return &Placeholder{BufHandle: newBuf(name, dims, dt, strides)}
}
