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

// Package tensor is the host tensor runtime.
//
// A tensor is a raw byte buffer with a shape and element strides. The
// package provides stride-based views (transpose, permute, expand),
// dtype generic element kernels, and a named operator dispatch used
// both by the fallback execution path and by the code generator when
// it reaches an external call.
package tensor

import (
	"math"
	"math/rand"
	"strconv"
	"strings"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/backend/shape"
)

// goNum are the Go types of the numerical dtypes.
type goNum interface {
	dtype.Float | dtype.IntegerType
}

// Tensor is a multi-dimensional array of scalars backed by a raw host
// byte buffer. Views share the buffer of the tensor they were derived
// from; only Contiguous copies data.
type Tensor struct {
	data    []byte
	sh      *shape.Shape
	strides []int
}

// rowMajor returns the contiguous element strides of the given dims.
func rowMajor(dims []int) []int {
	strides := make([]int, len(dims))
	stride := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= dims[i]
	}
	return strides
}

// New returns a zeroed contiguous tensor.
func New(dt dtype.DataType, dims ...int) *Tensor {
	sh := &shape.Shape{DType: dt, AxisLengths: dims}
	return &Tensor{
		data:    make([]byte, sh.ByteSize()),
		sh:      sh,
		strides: rowMajor(dims),
	}
}

// FromRaw wraps raw host memory into a contiguous tensor without
// copying. The buffer size must match the shape.
func FromRaw(data []byte, sh *shape.Shape) (*Tensor, error) {
	if len(data) != sh.ByteSize() {
		return nil, errors.Errorf("buffer size is %d but shape %s requires %d bytes", len(data), sh.String(), sh.ByteSize())
	}
	return &Tensor{data: data, sh: sh, strides: rowMajor(sh.AxisLengths)}, nil
}

// toBytes reinterprets a scalar slice as raw bytes without copying.
func toBytes[T dtype.GoDataType](values []T) []byte {
	if len(values) == 0 {
		return nil
	}
	var t T
	return unsafe.Slice((*byte)(unsafe.Pointer(&values[0])), len(values)*int(unsafe.Sizeof(t)))
}

// FromSlice returns a contiguous tensor wrapping the given values.
func FromSlice[T dtype.GoDataType](values []T, dims ...int) (*Tensor, error) {
	sh := &shape.Shape{DType: dtype.Generic[T](), AxisLengths: dims}
	if sh.Size() != len(values) {
		return nil, errors.Errorf("got %d values but shape %s has %d elements", len(values), sh.String(), sh.Size())
	}
	return FromRaw(toBytes(values), sh)
}

// Data returns the elements of a contiguous tensor.
func Data[T dtype.GoDataType](t *Tensor) []T {
	return dtype.ToSlice[T](t.data)
}

// Rand returns a tensor filled with pseudo-random values, for tests:
// floats are uniform in [0, 1), integers uniform in [0, 100).
func Rand(dt dtype.DataType, dims ...int) *Tensor {
	t := New(dt, dims...)
	n := t.sh.Size()
	switch dt {
	case dtype.Float32:
		values := Data[float32](t)
		for i := 0; i < n; i++ {
			values[i] = rand.Float32()
		}
	case dtype.Float64:
		values := Data[float64](t)
		for i := 0; i < n; i++ {
			values[i] = rand.Float64()
		}
	case dtype.Int32:
		values := Data[int32](t)
		for i := 0; i < n; i++ {
			values[i] = rand.Int31n(100)
		}
	case dtype.Int64:
		values := Data[int64](t)
		for i := 0; i < n; i++ {
			values[i] = rand.Int63n(100)
		}
	}
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() *shape.Shape { return t.sh }

// DType of the tensor elements.
func (t *Tensor) DType() dtype.DataType { return t.sh.DType }

// Dims returns the dimension lengths.
func (t *Tensor) Dims() []int { return t.sh.AxisLengths }

// Rank of the tensor.
func (t *Tensor) Rank() int { return len(t.sh.AxisLengths) }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.sh.Size() }

// Strides returns the element strides.
func (t *Tensor) Strides() []int { return t.strides }

// Bytes returns the underlying buffer. For views, the buffer is shared
// with the tensor the view derives from.
func (t *Tensor) Bytes() []byte { return t.data }

// IsContiguous returns true when the elements are laid out row-major
// with no gaps.
func (t *Tensor) IsContiguous() bool {
	want := rowMajor(t.sh.AxisLengths)
	for i, s := range t.strides {
		if t.sh.AxisLengths[i] > 1 && s != want[i] {
			return false
		}
	}
	return true
}

// normAxis resolves a possibly negative axis index.
func (t *Tensor) normAxis(axis int) (int, error) {
	rank := t.Rank()
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, errors.Errorf("axis %d out of range for rank %d", axis, rank)
	}
	return axis, nil
}

// view returns a tensor sharing the data of t.
func (t *Tensor) view(dims, strides []int) *Tensor {
	return &Tensor{
		data:    t.data,
		sh:      &shape.Shape{DType: t.sh.DType, AxisLengths: dims},
		strides: strides,
	}
}

// Transpose returns a view with two axes exchanged. Axes may be
// negative to count from the last axis.
func (t *Tensor) Transpose(axis0, axis1 int) (*Tensor, error) {
	a0, err := t.normAxis(axis0)
	if err != nil {
		return nil, err
	}
	a1, err := t.normAxis(axis1)
	if err != nil {
		return nil, err
	}
	dims := append([]int{}, t.sh.AxisLengths...)
	strides := append([]int{}, t.strides...)
	dims[a0], dims[a1] = dims[a1], dims[a0]
	strides[a0], strides[a1] = strides[a1], strides[a0]
	return t.view(dims, strides), nil
}

// T returns the transposed view of a matrix.
func (t *Tensor) T() (*Tensor, error) {
	if t.Rank() != 2 {
		return nil, errors.Errorf("t expects a matrix, got rank %d", t.Rank())
	}
	return t.Transpose(0, 1)
}

// Permute returns a view with the axes reordered: axis i of the view
// is axis perm[i] of t.
func (t *Tensor) Permute(perm []int) (*Tensor, error) {
	if len(perm) != t.Rank() {
		return nil, errors.Errorf("got %d permutation indices for rank %d", len(perm), t.Rank())
	}
	seen := make([]bool, t.Rank())
	dims := make([]int, t.Rank())
	strides := make([]int, t.Rank())
	for i, p := range perm {
		p, err := t.normAxis(p)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			return nil, errors.Errorf("axis %d appears twice in permutation", p)
		}
		seen[p] = true
		dims[i] = t.sh.AxisLengths[p]
		strides[i] = t.strides[p]
	}
	return t.view(dims, strides), nil
}

// Expand returns a view broadcasting axes of length one to the given
// sizes, with stride zero on the stretched axes. A size of -1 keeps
// the axis length.
func (t *Tensor) Expand(sizes []int) (*Tensor, error) {
	if len(sizes) < t.Rank() {
		return nil, errors.Errorf("cannot expand rank %d to %d sizes", t.Rank(), len(sizes))
	}
	lead := len(sizes) - t.Rank()
	dims := make([]int, len(sizes))
	strides := make([]int, len(sizes))
	for i, size := range sizes {
		if i < lead {
			if size < 0 {
				return nil, errors.Errorf("size of new axis %d must be explicit", i)
			}
			dims[i] = size
			strides[i] = 0
			continue
		}
		cur := t.sh.AxisLengths[i-lead]
		switch {
		case size == -1 || size == cur:
			dims[i] = cur
			strides[i] = t.strides[i-lead]
		case cur == 1:
			dims[i] = size
			strides[i] = 0
		default:
			return nil, errors.Errorf("cannot expand axis %d of length %d to %d", i-lead, cur, size)
		}
	}
	return t.view(dims, strides), nil
}

// elemOffset returns the element offset of the given indices.
func (t *Tensor) elemOffset(indices []int) int {
	off := 0
	for i, index := range indices {
		off += index * t.strides[i]
	}
	return off
}

// iterIndices calls f for every index tuple of dims, in row-major
// order.
func iterIndices(dims []int, f func(indices []int)) {
	indices := make([]int, len(dims))
	for {
		f(indices)
		axis := len(dims) - 1
		for ; axis >= 0; axis-- {
			indices[axis]++
			if indices[axis] < dims[axis] {
				break
			}
			indices[axis] = 0
		}
		if axis < 0 {
			return
		}
	}
}

// Contiguous returns t when it is already contiguous, or a contiguous
// copy otherwise.
func (t *Tensor) Contiguous() *Tensor {
	if t.IsContiguous() {
		return t
	}
	out := New(t.sh.DType, t.sh.AxisLengths...)
	elemSize := dtype.Sizeof(t.sh.DType)
	i := 0
	iterIndices(t.sh.AxisLengths, func(indices []int) {
		off := t.elemOffset(indices) * elemSize
		copy(out.data[i*elemSize:(i+1)*elemSize], t.data[off:off+elemSize])
		i++
	})
	return out
}

// CopyFrom copies the elements of src into t. Both tensors must have
// the same dtype and dims; t must be contiguous.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if t.sh.DType != src.sh.DType {
		return errors.Errorf("cannot copy %s elements into a %s tensor", src.sh.DType.String(), t.sh.DType.String())
	}
	if !equalDims(t.sh.AxisLengths, src.sh.AxisLengths) {
		return errors.Errorf("cannot copy shape %s into shape %s", src.sh.String(), t.sh.String())
	}
	if !t.IsContiguous() {
		return errors.Errorf("copy destination must be contiguous")
	}
	copy(t.data, src.Contiguous().data)
	return nil
}

func equalDims(x, y []int) bool {
	if len(x) != len(y) {
		return false
	}
	for i, d := range x {
		if d != y[i] {
			return false
		}
	}
	return true
}

// floatAt returns the element at the given indices as a float64.
func (t *Tensor) floatAt(indices []int) float64 {
	off := t.elemOffset(indices)
	switch t.sh.DType {
	case dtype.Bool:
		if dtype.ToSlice[bool](t.data)[off] {
			return 1
		}
		return 0
	case dtype.Float32:
		return float64(dtype.ToSlice[float32](t.data)[off])
	case dtype.Float64:
		return dtype.ToSlice[float64](t.data)[off]
	case dtype.Int32:
		return float64(dtype.ToSlice[int32](t.data)[off])
	case dtype.Int64:
		return float64(dtype.ToSlice[int64](t.data)[off])
	case dtype.Uint32:
		return float64(dtype.ToSlice[uint32](t.data)[off])
	case dtype.Uint64:
		return float64(dtype.ToSlice[uint64](t.data)[off])
	}
	return math.NaN()
}

// String formats the tensor as its shape followed by its elements in
// row-major order. Long tensors are truncated.
func (t *Tensor) String() string {
	const maxElems = 16
	elems := make([]string, 0, maxElems+1)
	iterIndices(t.sh.AxisLengths, func(indices []int) {
		if len(elems) > maxElems {
			return
		}
		if len(elems) == maxElems {
			elems = append(elems, "...")
			return
		}
		elems = append(elems, strconv.FormatFloat(t.floatAt(indices), 'g', -1, 64))
	})
	return t.sh.String() + "{" + strings.Join(elems, ", ") + "}"
}

// AllClose reports whether two tensors have the same dtype and dims
// and all their elements are within atol of each other. NaN compares
// equal to NaN.
func (t *Tensor) AllClose(o *Tensor, atol float64) bool {
	if t.sh.DType != o.sh.DType || !equalDims(t.sh.AxisLengths, o.sh.AxisLengths) {
		return false
	}
	within := true
	iterIndices(t.sh.AxisLengths, func(indices []int) {
		x, y := t.floatAt(indices), o.floatAt(indices)
		if math.IsNaN(x) && math.IsNaN(y) {
			return
		}
		if math.Abs(x-y) > atol {
			within = false
		}
	})
	return within
}

// Equal reports whether two tensors have the same dtype, dims and
// elements.
func (t *Tensor) Equal(o *Tensor) bool {
	return t.AllClose(o, 0)
}
