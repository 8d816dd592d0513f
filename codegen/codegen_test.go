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

package codegen_test

import (
	"testing"

	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorexpr/codegen"
	"github.com/gx-org/tensorexpr/ir"
	"github.com/gx-org/tensorexpr/tensor"
)

var allBackends = []string{codegen.Interpreter, codegen.Compiled}

func newScope(t *testing.T) *ir.KernelScope {
	t.Helper()
	scope, err := ir.NewScope()
	if err != nil {
		t.Fatalf("cannot open a kernel scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return scope
}

func construct(t *testing.T, backend string, root ir.Stmt, params []codegen.Param) codegen.CodeGen {
	t.Helper()
	cg, err := codegen.Construct(backend, root, params)
	if err != nil {
		t.Fatalf("construct with backend %s: %v", backend, err)
	}
	return cg
}

func iota32(n int) []float32 {
	values := make([]float32, n)
	for i := range values {
		values[i] = float32(i)
	}
	return values
}

func fromSlice(t *testing.T, values []float32, dims ...int) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(values, dims...)
	if err != nil {
		t.Fatalf("tensor: %v", err)
	}
	return x
}

func TestBackendsRegistered(t *testing.T) {
	for _, backend := range allBackends {
		if !codegen.Available(backend) {
			t.Errorf("backend %s is not registered", backend)
		}
	}
	if codegen.Available("no_such_backend") {
		t.Errorf("an unregistered backend reports itself as available")
	}
	if _, err := codegen.Construct("no_such_backend", nil, nil); err == nil {
		t.Errorf("no error constructing with an unregistered backend")
	}
}

func TestCallAdd(t *testing.T) {
	newScope(t)
	const n = 32
	a := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{ir.Int(n)})
	b := ir.NewPlaceholder("B", dtype.Float32, []ir.ExprHandle{ir.Int(n)})
	c, err := ir.Compute("C", []ir.DimArg{ir.Dim(ir.Int(n), "i")}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices...).Add(b.Load(indices...))
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	params := []codegen.Param{
		codegen.BufferArg{Buf: a.BufHandle},
		codegen.BufferArg{Buf: b.BufHandle},
		codegen.BufferArg{Buf: c.Buf()},
	}
	xs, ys := iota32(n), iota32(n)
	want := make([]float32, n)
	for i := range want {
		want[i] = xs[i] + ys[i]
	}
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			cg := construct(t, backend, c.Stmt(), params)
			out := tensor.New(dtype.Float32, n)
			if err := cg.Call(fromSlice(t, xs, n), fromSlice(t, ys, n), out); err != nil {
				t.Fatalf("call: %v", err)
			}
			for i, v := range tensor.Data[float32](out) {
				if v != want[i] {
					t.Fatalf("out[%d] = %v, want %v", i, v, want[i])
				}
			}
		})
	}
}

func TestCallDynamicExtent(t *testing.T) {
	newScope(t)
	size := ir.NewVar("n", dtype.Int64)
	a := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{size.Handle()})
	b := ir.NewPlaceholder("B", dtype.Float32, []ir.ExprHandle{size.Handle()})
	c, err := ir.Compute("C", []ir.DimArg{ir.Dim(size.Handle(), "i")}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices...).Sub(b.Load(indices...))
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	params := []codegen.Param{
		codegen.BufferArg{Buf: a.BufHandle},
		codegen.BufferArg{Buf: b.BufHandle},
		codegen.BufferArg{Buf: c.Buf()},
	}
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			cg := construct(t, backend, c.Stmt(), params)
			// The same callable runs for any extent binding.
			for _, n := range []int{8, 31} {
				xs := iota32(n)
				ys := make([]float32, n)
				for i := range ys {
					ys[i] = 2
				}
				out := tensor.New(dtype.Float32, n)
				if err := cg.Call(fromSlice(t, xs, n), fromSlice(t, ys, n), out); err != nil {
					t.Fatalf("call with extent %d: %v", n, err)
				}
				for i, v := range tensor.Data[float32](out) {
					if want := xs[i] - 2; v != want {
						t.Fatalf("extent %d: out[%d] = %v, want %v", n, i, v, want)
					}
				}
			}
		})
	}
}

func TestCallScalarParam(t *testing.T) {
	newScope(t)
	const n = 8
	scale := ir.NewVar("scale", dtype.Float32)
	a := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{ir.Int(n)})
	c, err := ir.Compute("C", []ir.DimArg{ir.Dim(ir.Int(n), "i")}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices...).Mul(scale.Handle())
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	params := []codegen.Param{
		codegen.BufferArg{Buf: a.BufHandle},
		codegen.VarArg{Var: scale},
		codegen.BufferArg{Buf: c.Buf()},
	}
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			cg := construct(t, backend, c.Stmt(), params)
			out := tensor.New(dtype.Float32, n)
			if err := cg.Call(fromSlice(t, iota32(n), n), float32(3), out); err != nil {
				t.Fatalf("call: %v", err)
			}
			for i, v := range tensor.Data[float32](out) {
				if want := float32(i) * 3; v != want {
					t.Fatalf("out[%d] = %v, want %v", i, v, want)
				}
			}
		})
	}
}

func TestCallRawMatchesCall(t *testing.T) {
	newScope(t)
	const n = 16
	a := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{ir.Int(n)})
	c, err := ir.Compute("C", []ir.DimArg{ir.Dim(ir.Int(n), "i")}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices...).Mul(a.Load(indices...))
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	params := []codegen.Param{
		codegen.BufferArg{Buf: a.BufHandle},
		codegen.BufferArg{Buf: c.Buf()},
	}
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			cg := construct(t, backend, c.Stmt(), params)
			in := fromSlice(t, iota32(n), n)
			checked := tensor.New(dtype.Float32, n)
			if err := cg.Call(in, checked); err != nil {
				t.Fatalf("call: %v", err)
			}
			raw := tensor.New(dtype.Float32, n)
			if err := cg.CallRaw(in.Bytes(), raw.Bytes()); err != nil {
				t.Fatalf("raw call: %v", err)
			}
			if !checked.Equal(raw) {
				t.Errorf("raw call result differs from the checked call")
			}
		})
	}
}

func TestCallValidation(t *testing.T) {
	newScope(t)
	const n = 4
	a := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{ir.Int(n)})
	c, err := ir.Compute("C", []ir.DimArg{ir.Dim(ir.Int(n), "i")}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices...)
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	cg := construct(t, codegen.Interpreter, c.Stmt(), []codegen.Param{
		codegen.BufferArg{Buf: a.BufHandle},
		codegen.BufferArg{Buf: c.Buf()},
	})
	out := tensor.New(dtype.Float32, n)
	tests := []struct {
		name string
		args []any
	}{
		{"arity", []any{out}},
		{"not a tensor", []any{42, out}},
		{"dtype", []any{tensor.New(dtype.Float64, n), out}},
		{"rank", []any{tensor.New(dtype.Float32, n, 1), out}},
		{"extent", []any{tensor.New(dtype.Float32, n+1), out}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := cg.Call(test.args...); err == nil {
				t.Errorf("no error for invalid arguments")
			}
		})
	}
}

func TestExternalCallMatmul(t *testing.T) {
	newScope(t)
	x := ir.NewPlaceholder("X", dtype.Float32, []ir.ExprHandle{ir.Int(1), ir.Int(4)})
	y := ir.NewPlaceholder("Y", dtype.Float32, []ir.ExprHandle{ir.Int(4), ir.Int(1)})
	out := ir.NewBuf("O", []ir.ExprHandle{ir.Int(1), ir.Int(1)}, dtype.Float32)
	call := ir.NewExternalCall(out, "matmul", []ir.BufHandle{x.BufHandle, y.BufHandle}, nil)
	params := []codegen.Param{
		codegen.BufferArg{Buf: x.BufHandle},
		codegen.BufferArg{Buf: y.BufHandle},
		codegen.BufferArg{Buf: out},
	}
	ones := []float32{1, 1, 1, 1}
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			cg := construct(t, backend, call, params)
			result := tensor.New(dtype.Float32, 1, 1)
			if err := cg.Call(fromSlice(t, ones, 1, 4), fromSlice(t, ones, 4, 1), result); err != nil {
				t.Fatalf("call: %v", err)
			}
			if got := tensor.Data[float32](result)[0]; got != 4 {
				t.Errorf("matmul result is %v, want 4", got)
			}
		})
	}
}

func TestVectorizedLoopMatchesScalar(t *testing.T) {
	newScope(t)
	const n = 10
	a := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{ir.Int(n)})
	c, err := ir.Compute("C", []ir.DimArg{ir.Dim(ir.Int(n), "i")}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices...).Add(ir.Float(1))
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	loop, ok := c.Stmt().(*ir.For)
	if !ok {
		t.Fatalf("root statement is %T, want *ir.For", c.Stmt())
	}
	vectorized := loop.WithVectorWidth(4)
	params := []codegen.Param{
		codegen.BufferArg{Buf: a.BufHandle},
		codegen.BufferArg{Buf: c.Buf()},
	}
	in := fromSlice(t, iota32(n), n)
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			scalarOut := tensor.New(dtype.Float32, n)
			if err := construct(t, backend, loop, params).Call(in, scalarOut); err != nil {
				t.Fatalf("scalar call: %v", err)
			}
			vectorOut := tensor.New(dtype.Float32, n)
			if err := construct(t, backend, vectorized, params).Call(in, vectorOut); err != nil {
				t.Fatalf("vectorized call: %v", err)
			}
			if !scalarOut.Equal(vectorOut) {
				t.Errorf("vectorized result differs from the scalar result")
			}
		})
	}
}

func TestCallLetBinding(t *testing.T) {
	newScope(t)
	const n = 6
	a := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{ir.Int(n)})
	c := ir.NewBuf("C", []ir.ExprHandle{ir.Int(n)}, dtype.Float32)
	bias := ir.NewVar("bias", dtype.Float32)
	i := ir.NewVar("i", dtype.Int64)
	store := ir.NewStore(c, []ir.ExprHandle{i.Handle()}, a.Load(i.Handle()).Add(bias.Handle()))
	root := ir.NewBlock(
		ir.NewLet(bias, ir.Float(2.5)),
		ir.NewFor(i, ir.Int(0), ir.Int(n), store),
	)
	params := []codegen.Param{
		codegen.BufferArg{Buf: a.BufHandle},
		codegen.BufferArg{Buf: c},
	}
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			out := tensor.New(dtype.Float32, n)
			if err := construct(t, backend, root, params).Call(fromSlice(t, iota32(n), n), out); err != nil {
				t.Fatalf("call: %v", err)
			}
			for k, v := range tensor.Data[float32](out) {
				if want := float32(k) + 2.5; v != want {
					t.Fatalf("out[%d] = %v, want %v", k, v, want)
				}
			}
		})
	}
}

func TestCallStridedPlaceholder(t *testing.T) {
	newScope(t)
	// A column-major input matrix, read through its declared strides.
	a := ir.NewPlaceholderStrided("A", dtype.Float32,
		[]ir.ExprHandle{ir.Int(2), ir.Int(2)},
		[]ir.ExprHandle{ir.Int(1), ir.Int(2)})
	c, err := ir.Compute("C", []ir.DimArg{ir.Dim(ir.Int(2), "i"), ir.Dim(ir.Int(2), "j")}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices...)
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	params := []codegen.Param{
		codegen.BufferArg{Buf: a.BufHandle},
		codegen.BufferArg{Buf: c.Buf()},
	}
	base := fromSlice(t, []float32{1, 2, 3, 4}, 2, 2)
	view, err := base.T()
	if err != nil {
		t.Fatalf("transpose: %v", err)
	}
	want := []float32{1, 3, 2, 4}
	for _, backend := range allBackends {
		t.Run(backend, func(t *testing.T) {
			cg := construct(t, backend, c.Stmt(), params)
			out := tensor.New(dtype.Float32, 2, 2)
			if err := cg.Call(view, out); err != nil {
				t.Fatalf("call: %v", err)
			}
			for k, v := range tensor.Data[float32](out) {
				if v != want[k] {
					t.Fatalf("out[%d] = %v, want %v", k, v, want[k])
				}
			}
			if err := cg.Call(base, tensor.New(dtype.Float32, 2, 2)); err == nil {
				t.Errorf("no error for a tensor whose layout does not match the declared strides")
			}
		})
	}
}

func TestDefaultVectorWidth(t *testing.T) {
	for _, dt := range []dtype.DataType{dtype.Float32, dtype.Float64, dtype.Int64} {
		if got := codegen.DefaultVectorWidth(dt); got < 1 {
			t.Errorf("vector width for %s is %d, want at least 1", dt.String(), got)
		}
	}
}
