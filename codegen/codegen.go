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

// Package codegen turns a prepared statement into a callable function.
//
// A backend consumes the root statement and an ordered parameter list
// and produces a CodeGen whose Call runs the computation on host
// tensors. Backends register themselves by name; the interpreting
// backend is always available and is the default.
package codegen

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorexpr/base/ordered"
	"github.com/gx-org/tensorexpr/ir"
	"github.com/gx-org/tensorexpr/tensor"
)

type (
	// Param declares one argument of the generated function, in call
	// order.
	Param interface {
		param()
	}

	// BufferArg binds an argument to a buffer of the computation.
	BufferArg struct {
		Buf ir.BufHandle
	}

	// VarArg binds an argument to a scalar variable, such as a dynamic
	// dimension size.
	VarArg struct {
		Var ir.VarHandle
	}
)

func (BufferArg) param() {}
func (VarArg) param()    {}

// CodeGen is a compiled computation ready to be invoked.
type CodeGen interface {
	// Call runs the computation. Arguments follow the parameter list:
	// a *tensor.Tensor for each BufferArg, an integer, float or bool
	// for each VarArg. Shapes and dtypes are validated.
	Call(args ...any) error

	// CallRaw runs the computation on raw host memory: a []byte for
	// each BufferArg, an int64, float64 or bool for each VarArg. No
	// validation is performed.
	CallRaw(args ...any) error
}

// Builder constructs the callable for a root statement and its ordered
// parameters.
type Builder func(root ir.Stmt, params []Param) (CodeGen, error)

var (
	backendsMu sync.Mutex
	backends   = ordered.NewMap[string, Builder]()
)

// RegisterBackend adds a code generation backend to the registry.
func RegisterBackend(name string, builder Builder) error {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, registered := backends.Load(name); registered {
		return errors.Errorf("backend %s is already registered", name)
	}
	backends.Store(name, builder)
	return nil
}

func mustRegisterBackend(name string, builder Builder) {
	if err := RegisterBackend(name, builder); err != nil {
		panic(err)
	}
}

// Available reports whether a backend has been registered under the
// given name.
func Available(name string) bool {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	_, ok := backends.Load(name)
	return ok
}

// Backends returns the registered backend names in registration order.
func Backends() []string {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	names := make([]string, 0, backends.Size())
	for name := range backends.Keys() {
		names = append(names, name)
	}
	return names
}

// Construct builds the callable for the statement with the named
// backend.
func Construct(name string, root ir.Stmt, params []Param) (CodeGen, error) {
	backendsMu.Lock()
	builder, ok := backends.Load(name)
	backendsMu.Unlock()
	if !ok {
		return nil, errors.Errorf("unknown backend %s (registered: %s)", name, strings.Join(Backends(), ", "))
	}
	return builder(root, params)
}

// DefaultVectorWidth returns the number of dtype lanes fitting in one
// vector register of the host.
func DefaultVectorWidth(dt dtype.DataType) int {
	size := dtype.Sizeof(dt)
	if size <= 0 {
		return 1
	}
	width := vectorBytes() / size
	if width < 1 {
		return 1
	}
	return width
}

// env holds the runtime bindings of one invocation.
type env struct {
	bufs map[*ir.Buf][]byte
	vars map[*ir.Var]scalar
}

func newEnv() *env {
	return &env{
		bufs: make(map[*ir.Buf][]byte),
		vars: make(map[*ir.Var]scalar),
	}
}

func (e *env) buffer(b *ir.Buf) ([]byte, error) {
	data, ok := e.bufs[b]
	if !ok {
		return nil, errors.Errorf("buffer %s is not bound", b.Name())
	}
	return data, nil
}

func (e *env) value(v *ir.Var) (scalar, error) {
	s, ok := e.vars[v]
	if !ok {
		return scalar{}, errors.Errorf("variable %s is not bound", v.Name())
	}
	return s, nil
}

// binder validates invocation arguments against the parameter list and
// produces the runtime environment. It is shared by the backends.
type binder struct {
	params []Param
}

func (b *binder) bindScalar(v ir.VarHandle, arg any) (scalar, error) {
	dt := v.DType()
	switch {
	case dt == dtype.Bool:
		value, ok := arg.(bool)
		if !ok {
			return scalar{}, errors.Errorf("parameter %s takes a bool, got %T", v.Name(), arg)
		}
		return boolScalar(value), nil
	case ir.IsInteger(dt):
		switch value := arg.(type) {
		case int:
			return intScalar(dt, int64(value)), nil
		case int32:
			return intScalar(dt, int64(value)), nil
		case int64:
			return intScalar(dt, value), nil
		}
		return scalar{}, errors.Errorf("parameter %s takes an integer, got %T", v.Name(), arg)
	case ir.IsFloat(dt):
		switch value := arg.(type) {
		case float32:
			return floatScalar(dt, float64(value)), nil
		case float64:
			return floatScalar(dt, value), nil
		}
		return scalar{}, errors.Errorf("parameter %s takes a float, got %T", v.Name(), arg)
	}
	return scalar{}, errors.Errorf("parameter %s has unsupported dtype %s", v.Name(), dt.String())
}

func (b *binder) bindBuffer(e *env, buf ir.BufHandle, arg any) error {
	t, ok := arg.(*tensor.Tensor)
	if !ok {
		return errors.Errorf("parameter %s takes a *tensor.Tensor, got %T", buf.Name(), arg)
	}
	if t.DType() != buf.DType() {
		return errors.Errorf("parameter %s takes %s elements, got %s", buf.Name(), buf.DType().String(), t.DType().String())
	}
	if t.Rank() != buf.Rank() {
		return errors.Errorf("parameter %s has rank %d, got rank %d", buf.Name(), buf.Rank(), t.Rank())
	}
	if declared, ok := literalStrides(buf.Node()); ok {
		for k, want := range declared {
			if t.Dims()[k] > 1 && int64(t.Strides()[k]) != want {
				return errors.Errorf("parameter %s: stride %d is %d, got %d", buf.Name(), k, want, t.Strides()[k])
			}
		}
	} else if !t.IsContiguous() {
		return errors.Errorf("parameter %s requires a contiguous tensor", buf.Name())
	}
	for k, dim := range buf.Node().Dims() {
		got := int64(t.Dims()[k])
		switch d := dim.(type) {
		case *ir.IntImm:
			if d.Value() != got {
				return errors.Errorf("parameter %s: dimension %d is %d, got %d", buf.Name(), k, d.Value(), got)
			}
		case *ir.Var:
			bound, ok := e.vars[d]
			if !ok {
				e.vars[d] = intScalar(d.DType(), got)
				continue
			}
			if bound.i != got {
				return errors.Errorf("parameter %s: dimension %d is %s = %d, got %d", buf.Name(), k, d.Name(), bound.i, got)
			}
		}
	}
	e.bufs[buf.Node()] = t.Bytes()
	return nil
}

// literalStrides returns the declared element strides of the buffer
// when they are all integer literals.
func literalStrides(b *ir.Buf) ([]int64, bool) {
	exprs := b.Strides()
	if exprs == nil {
		return nil, false
	}
	strides := make([]int64, len(exprs))
	for i, s := range exprs {
		imm, ok := s.(*ir.IntImm)
		if !ok {
			return nil, false
		}
		strides[i] = imm.Value()
	}
	return strides, true
}

// bind validates tensor arguments and binds symbolic dimensions.
func (b *binder) bind(args []any) (*env, error) {
	if len(args) != len(b.params) {
		return nil, errors.Errorf("got %d arguments but the function takes %d parameters", len(args), len(b.params))
	}
	e := newEnv()
	// Scalars first, so buffer dimension checks see bound variables.
	for i, p := range b.params {
		va, ok := p.(VarArg)
		if !ok {
			continue
		}
		s, err := b.bindScalar(va.Var, args[i])
		if err != nil {
			return nil, err
		}
		e.vars[va.Var.Node()] = s
	}
	for i, p := range b.params {
		ba, ok := p.(BufferArg)
		if !ok {
			continue
		}
		if err := b.bindBuffer(e, ba.Buf, args[i]); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// bindRaw binds raw host memory without validation.
func (b *binder) bindRaw(args []any) (*env, error) {
	if len(args) != len(b.params) {
		return nil, errors.Errorf("got %d arguments but the function takes %d parameters", len(args), len(b.params))
	}
	e := newEnv()
	for i, p := range b.params {
		switch pa := p.(type) {
		case BufferArg:
			data, ok := args[i].([]byte)
			if !ok {
				return nil, errors.Errorf("parameter %s takes a []byte, got %T", pa.Buf.Name(), args[i])
			}
			e.bufs[pa.Buf.Node()] = data
		case VarArg:
			s, err := b.bindScalar(pa.Var, args[i])
			if err != nil {
				return nil, err
			}
			e.vars[pa.Var.Node()] = s
		}
	}
	return e, nil
}
