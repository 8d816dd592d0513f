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

package codegen

import (
	"math"

	"github.com/pkg/errors"
	"github.com/gx-org/backend/shape"
	"github.com/gx-org/tensorexpr/ir"
	"github.com/gx-org/tensorexpr/tensor"
)

// Interpreter is the name of the tree-walking backend. It is always
// available and serves as the reference semantics for the others.
const Interpreter = "ireval"

func init() {
	mustRegisterBackend(Interpreter, newInterpreted)
}

// interpreted walks the statement tree on every call.
type interpreted struct {
	binder
	root ir.Stmt
}

func newInterpreted(root ir.Stmt, params []Param) (CodeGen, error) {
	return &interpreted{binder: binder{params: params}, root: root}, nil
}

// Call implements CodeGen.
func (p *interpreted) Call(args ...any) error {
	e, err := p.bind(args)
	if err != nil {
		return err
	}
	return (&evaluator{env: e}).stmt(p.root)
}

// CallRaw implements CodeGen.
func (p *interpreted) CallRaw(args ...any) error {
	e, err := p.bindRaw(args)
	if err != nil {
		return err
	}
	return (&evaluator{env: e}).stmt(p.root)
}

type evaluator struct {
	env *env
}

func (ev *evaluator) intOf(e ir.Expr) (int64, error) {
	s, err := ev.expr(e)
	if err != nil {
		return 0, err
	}
	return s.asInt(), nil
}

func (ev *evaluator) expr(e ir.Expr) (scalar, error) {
	switch n := e.(type) {
	case *ir.IntImm:
		return intScalar(n.DType(), n.Value()), nil
	case *ir.FloatImm:
		return floatScalar(n.DType(), n.Value()), nil
	case *ir.BoolImm:
		return boolScalar(n.Value()), nil
	case *ir.Var:
		return ev.env.value(n)
	case *ir.Load:
		data, err := ev.env.buffer(n.Buf())
		if err != nil {
			return scalar{}, err
		}
		off, err := ev.offset(n.Buf(), n.Indices())
		if err != nil {
			return scalar{}, err
		}
		return loadElem(n.DType(), data, off)
	case *ir.Binary:
		x, err := ev.expr(n.X())
		if err != nil {
			return scalar{}, err
		}
		y, err := ev.expr(n.Y())
		if err != nil {
			return scalar{}, err
		}
		f, err := binaryFn(n.Op(), n.DType())
		if err != nil {
			return scalar{}, err
		}
		return f(x, y)
	case *ir.CompareSelect:
		x, err := ev.expr(n.X())
		if err != nil {
			return scalar{}, err
		}
		y, err := ev.expr(n.Y())
		if err != nil {
			return scalar{}, err
		}
		ifTrue, err := ev.expr(n.IfTrue())
		if err != nil {
			return scalar{}, err
		}
		ifFalse, err := ev.expr(n.IfFalse())
		if err != nil {
			return scalar{}, err
		}
		if compareFn(n.Op(), n.X().DType())(x, y) {
			return ifTrue, nil
		}
		return ifFalse, nil
	case *ir.IfThenElse:
		cond, err := ev.expr(n.Cond())
		if err != nil {
			return scalar{}, err
		}
		ifTrue, err := ev.expr(n.IfTrue())
		if err != nil {
			return scalar{}, err
		}
		ifFalse, err := ev.expr(n.IfFalse())
		if err != nil {
			return scalar{}, err
		}
		if cond.b {
			return ifTrue, nil
		}
		return ifFalse, nil
	case *ir.Cast:
		x, err := ev.expr(n.X())
		if err != nil {
			return scalar{}, err
		}
		return castScalar(x, n.DType()), nil
	case *ir.IsNaN:
		x, err := ev.expr(n.X())
		if err != nil {
			return scalar{}, err
		}
		return boolScalar(math.IsNaN(x.f)), nil
	}
	return scalar{}, errors.Errorf("cannot evaluate expression %T", e)
}

// dims evaluates the dimension extents of a buffer.
func (ev *evaluator) dims(b *ir.Buf) ([]int, error) {
	out := make([]int, b.Rank())
	for i, dim := range b.Dims() {
		v, err := ev.intOf(dim)
		if err != nil {
			return nil, err
		}
		out[i] = int(v)
	}
	return out, nil
}

// offset computes the element offset of an access, from the buffer
// strides or from the row-major layout of its extents.
func (ev *evaluator) offset(b *ir.Buf, indices []ir.Expr) (int, error) {
	strides := make([]int64, b.Rank())
	if exprs := b.Strides(); exprs != nil {
		for i, s := range exprs {
			v, err := ev.intOf(s)
			if err != nil {
				return 0, err
			}
			strides[i] = v
		}
	} else {
		stride := int64(1)
		dims := b.Dims()
		for i := b.Rank() - 1; i >= 0; i-- {
			strides[i] = stride
			extent, err := ev.intOf(dims[i])
			if err != nil {
				return 0, err
			}
			stride *= extent
		}
	}
	off := int64(0)
	for i, index := range indices {
		v, err := ev.intOf(index)
		if err != nil {
			return 0, err
		}
		off += v * strides[i]
	}
	return int(off), nil
}

func (ev *evaluator) stmt(s ir.Stmt) error {
	switch n := s.(type) {
	case *ir.For:
		return ev.loop(n)
	case *ir.Block:
		for _, st := range n.Stmts() {
			if err := ev.stmt(st); err != nil {
				return err
			}
		}
		return nil
	case *ir.Store:
		data, err := ev.env.buffer(n.Buf())
		if err != nil {
			return err
		}
		off, err := ev.offset(n.Buf(), n.Indices())
		if err != nil {
			return err
		}
		value, err := ev.expr(n.Value())
		if err != nil {
			return err
		}
		return storeElem(n.Buf().DType(), data, off, value)
	case *ir.Let:
		value, err := ev.expr(n.Value())
		if err != nil {
			return err
		}
		ev.env.vars[n.Var()] = value
		return nil
	case *ir.ExternalCall:
		return ev.externalCall(n)
	case *ir.Alloc:
		dims, err := ev.dims(n.Buf())
		if err != nil {
			return err
		}
		sh := &shape.Shape{DType: n.Buf().DType(), AxisLengths: dims}
		ev.env.bufs[n.Buf()] = make([]byte, sh.ByteSize())
		return nil
	case *ir.Free:
		delete(ev.env.bufs, n.Buf())
		return nil
	}
	return errors.Errorf("cannot execute statement %T", s)
}

// loop runs a For statement. A vectorized loop runs its body in chunks
// of the annotated width, with a scalar remainder.
func (ev *evaluator) loop(n *ir.For) error {
	start, err := ev.intOf(n.Start())
	if err != nil {
		return err
	}
	stop, err := ev.intOf(n.Stop())
	if err != nil {
		return err
	}
	v := n.Var()
	iter := func(i int64) error {
		ev.env.vars[v] = intScalar(v.DType(), i)
		return ev.stmt(n.Body())
	}
	i := start
	if width := int64(n.VectorWidth()); width > 1 {
		for ; i+width <= stop; i += width {
			for lane := int64(0); lane < width; lane++ {
				if err := iter(i + lane); err != nil {
					return err
				}
			}
		}
	}
	for ; i < stop; i++ {
		if err := iter(i); err != nil {
			return err
		}
	}
	return nil
}

// externalCall hands a node over to the host runtime operator dispatch.
// Buffers are wrapped without copying, so the operator writes straight
// into the bound memory.
func (ev *evaluator) externalCall(n *ir.ExternalCall) error {
	wrap := func(b *ir.Buf) (*tensor.Tensor, error) {
		data, err := ev.env.buffer(b)
		if err != nil {
			return nil, err
		}
		dims, err := ev.dims(b)
		if err != nil {
			return nil, err
		}
		return tensor.FromRaw(data, &shape.Shape{DType: b.DType(), AxisLengths: dims})
	}
	out, err := wrap(n.Out())
	if err != nil {
		return err
	}
	ins := make([]*tensor.Tensor, len(n.Ins()))
	for i, in := range n.Ins() {
		if ins[i], err = wrap(in); err != nil {
			return err
		}
	}
	args := make([]int64, len(n.Args()))
	for i, arg := range n.Args() {
		if args[i], err = ev.intOf(arg); err != nil {
			return err
		}
	}
	return tensor.Dispatch(n.FuncName(), out, ins, args)
}
