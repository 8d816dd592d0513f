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

package tensor

import (
	"math"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorexpr/base/ordered"
)

// OpFunc computes a host-runtime operator: it writes its result into
// the contiguous output tensor given the ordered input tensors and
// extra integer arguments.
type OpFunc func(out *Tensor, ins []*Tensor, args []int64) error

var (
	opsMu sync.Mutex
	ops   = ordered.NewMap[string, OpFunc]()
)

// Register adds an operator to the dispatch table. Registering a name
// twice is an error.
func Register(name string, fn OpFunc) error {
	opsMu.Lock()
	defer opsMu.Unlock()
	if _, registered := ops.Load(name); registered {
		return errors.Errorf("operator %s is already registered", name)
	}
	ops.Store(name, fn)
	return nil
}

func mustRegister(name string, fn OpFunc) {
	if err := Register(name, fn); err != nil {
		panic(err)
	}
}

// Ops returns the registered operator names in registration order.
func Ops() []string {
	opsMu.Lock()
	defer opsMu.Unlock()
	names := make([]string, 0, ops.Size())
	for name := range ops.Keys() {
		names = append(names, name)
	}
	return names
}

// Dispatch runs a registered operator.
func Dispatch(name string, out *Tensor, ins []*Tensor, args []int64) error {
	opsMu.Lock()
	fn, ok := ops.Load(name)
	opsMu.Unlock()
	if !ok {
		return errors.Errorf("unknown operator %s (registered: %s)", name, strings.Join(Ops(), ", "))
	}
	if err := fn(out, ins, args); err != nil {
		return errors.Wrapf(err, "operator %s", name)
	}
	return nil
}

func init() {
	mustRegister("add", binaryOp(binaryKernel(
		func(x, y float32) float32 { return x + y },
		func(x, y float64) float64 { return x + y },
		func(x, y int32) int32 { return x + y },
		func(x, y int64) int64 { return x + y },
	)))
	mustRegister("sub", binaryOp(binaryKernel(
		func(x, y float32) float32 { return x - y },
		func(x, y float64) float64 { return x - y },
		func(x, y int32) int32 { return x - y },
		func(x, y int64) int64 { return x - y },
	)))
	mustRegister("mul", binaryOp(binaryKernel(
		func(x, y float32) float32 { return x * y },
		func(x, y float64) float64 { return x * y },
		func(x, y int32) int32 { return x * y },
		func(x, y int64) int64 { return x * y },
	)))
	mustRegister("div", binaryOp(binaryKernel(
		func(x, y float32) float32 { return x / y },
		func(x, y float64) float64 { return x / y },
		func(x, y int32) int32 { return x / y },
		func(x, y int64) int64 { return x / y },
	)))
	mustRegister("t", opT)
	mustRegister("transpose", opTranspose)
	mustRegister("permute", opPermute)
	mustRegister("expand", opExpand)
	mustRegister("nan_to_num", opNaNToNum)
	mustRegister("matmul", opMatmul)
	mustRegister("linear", opLinear)
}

// kernels groups the per-dtype implementations of a binary operator.
type kernels struct {
	f32 func(x, y float32) float32
	f64 func(x, y float64) float64
	i32 func(x, y int32) int32
	i64 func(x, y int64) int64
}

func binaryKernel(f32 func(x, y float32) float32, f64 func(x, y float64) float64, i32 func(x, y int32) int32, i64 func(x, y int64) int64) kernels {
	return kernels{f32: f32, f64: f64, i32: i32, i64: i64}
}

// applyBinary iterates op over the broadcast inputs, writing into the
// contiguous output.
func applyBinary[T goNum](out, x, y *Tensor, op func(T, T) T) {
	outValues := Data[T](out)
	xValues := dtype.ToSlice[T](x.data)
	yValues := dtype.ToSlice[T](y.data)
	i := 0
	iterIndices(out.Dims(), func(indices []int) {
		outValues[i] = op(xValues[x.elemOffset(indices)], yValues[y.elemOffset(indices)])
		i++
	})
}

// binaryOp returns the OpFunc running an elementwise binary operator
// with broadcasting.
func binaryOp(k kernels) OpFunc {
	return func(out *Tensor, ins []*Tensor, args []int64) error {
		if len(ins) != 2 {
			return errors.Errorf("got %d operands but want 2", len(ins))
		}
		x, err := ins[0].broadcastTo(out.Dims())
		if err != nil {
			return err
		}
		y, err := ins[1].broadcastTo(out.Dims())
		if err != nil {
			return err
		}
		if x.DType() != out.DType() || y.DType() != out.DType() {
			return errors.Errorf("operand dtypes %s, %s do not match output dtype %s", x.DType().String(), y.DType().String(), out.DType().String())
		}
		switch out.DType() {
		case dtype.Float32:
			applyBinary(out, x, y, k.f32)
		case dtype.Float64:
			applyBinary(out, x, y, k.f64)
		case dtype.Int32:
			applyBinary(out, x, y, k.i32)
		case dtype.Int64:
			applyBinary(out, x, y, k.i64)
		default:
			return errors.Errorf("dtype %s not supported", out.DType().String())
		}
		return nil
	}
}

// broadcastTo returns a view of t with the given dims, broadcasting
// length-one axes and prepending leading axes as needed.
func (t *Tensor) broadcastTo(dims []int) (*Tensor, error) {
	if equalDims(t.Dims(), dims) {
		return t, nil
	}
	sizes := make([]int, len(dims))
	copy(sizes, dims)
	return t.Expand(sizes)
}

func viewOp(view func(in *Tensor, args []int64) (*Tensor, error)) OpFunc {
	return func(out *Tensor, ins []*Tensor, args []int64) error {
		if len(ins) != 1 {
			return errors.Errorf("got %d operands but want 1", len(ins))
		}
		v, err := view(ins[0], args)
		if err != nil {
			return err
		}
		return out.CopyFrom(v)
	}
}

var opT = viewOp(func(in *Tensor, args []int64) (*Tensor, error) {
	return in.T()
})

var opTranspose = viewOp(func(in *Tensor, args []int64) (*Tensor, error) {
	if len(args) != 2 {
		return nil, errors.Errorf("transpose takes 2 axes, got %d", len(args))
	}
	return in.Transpose(int(args[0]), int(args[1]))
})

var opPermute = viewOp(func(in *Tensor, args []int64) (*Tensor, error) {
	perm := make([]int, len(args))
	for i, a := range args {
		perm[i] = int(a)
	}
	return in.Permute(perm)
})

var opExpand = viewOp(func(in *Tensor, args []int64) (*Tensor, error) {
	sizes := make([]int, len(args))
	for i, a := range args {
		sizes[i] = int(a)
	}
	return in.Expand(sizes)
})

// nanToNum replaces NaN with zero and infinities with the largest
// finite values of the dtype.
func nanToNum[T dtype.Float](out, in *Tensor, max T) {
	outValues := Data[T](out)
	inValues := dtype.ToSlice[T](in.data)
	i := 0
	iterIndices(out.Dims(), func(indices []int) {
		v := inValues[in.elemOffset(indices)]
		switch {
		case math.IsNaN(float64(v)):
			v = 0
		case math.IsInf(float64(v), 1):
			v = max
		case math.IsInf(float64(v), -1):
			v = -max
		}
		outValues[i] = v
		i++
	})
}

func opNaNToNum(out *Tensor, ins []*Tensor, args []int64) error {
	if len(ins) != 1 {
		return errors.Errorf("got %d operands but want 1", len(ins))
	}
	in := ins[0]
	switch out.DType() {
	case dtype.Float32:
		nanToNum(out, in, float32(math.MaxFloat32))
	case dtype.Float64:
		nanToNum(out, in, float64(math.MaxFloat64))
	default:
		return errors.Errorf("dtype %s not supported", out.DType().String())
	}
	return nil
}
