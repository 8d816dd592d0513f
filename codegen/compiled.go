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

// Compiled is the name of the closure-building backend. The statement
// tree is translated once at construction into a tree of closures, so
// calls pay no per-node dispatch.
const Compiled = "compiled"

func init() {
	mustRegisterBackend(Compiled, newClosureCompiled)
}

type (
	exprFn   func(*env) (scalar, error)
	stmtFn   func(*env) error
	offsetFn func(*env) (int, error)
)

type closureCompiled struct {
	binder
	run stmtFn
}

func newClosureCompiled(root ir.Stmt, params []Param) (CodeGen, error) {
	run, err := compileStmt(root)
	if err != nil {
		return nil, err
	}
	return &closureCompiled{binder: binder{params: params}, run: run}, nil
}

// Call implements CodeGen.
func (p *closureCompiled) Call(args ...any) error {
	e, err := p.bind(args)
	if err != nil {
		return err
	}
	return p.run(e)
}

// CallRaw implements CodeGen.
func (p *closureCompiled) CallRaw(args ...any) error {
	e, err := p.bindRaw(args)
	if err != nil {
		return err
	}
	return p.run(e)
}

func constInt(e ir.Expr) (int64, bool) {
	imm, ok := e.(*ir.IntImm)
	if !ok {
		return 0, false
	}
	return imm.Value(), true
}

func compileExpr(e ir.Expr) (exprFn, error) {
	switch n := e.(type) {
	case *ir.IntImm:
		s := intScalar(n.DType(), n.Value())
		return func(*env) (scalar, error) { return s, nil }, nil
	case *ir.FloatImm:
		s := floatScalar(n.DType(), n.Value())
		return func(*env) (scalar, error) { return s, nil }, nil
	case *ir.BoolImm:
		s := boolScalar(n.Value())
		return func(*env) (scalar, error) { return s, nil }, nil
	case *ir.Var:
		return func(e *env) (scalar, error) { return e.value(n) }, nil
	case *ir.Load:
		buf, dt := n.Buf(), n.DType()
		offset, err := compileOffset(n.Buf(), n.Indices())
		if err != nil {
			return nil, err
		}
		return func(e *env) (scalar, error) {
			data, err := e.buffer(buf)
			if err != nil {
				return scalar{}, err
			}
			off, err := offset(e)
			if err != nil {
				return scalar{}, err
			}
			return loadElem(dt, data, off)
		}, nil
	case *ir.Binary:
		xf, err := compileExpr(n.X())
		if err != nil {
			return nil, err
		}
		yf, err := compileExpr(n.Y())
		if err != nil {
			return nil, err
		}
		apply, err := binaryFn(n.Op(), n.DType())
		if err != nil {
			return nil, err
		}
		return func(e *env) (scalar, error) {
			x, err := xf(e)
			if err != nil {
				return scalar{}, err
			}
			y, err := yf(e)
			if err != nil {
				return scalar{}, err
			}
			return apply(x, y)
		}, nil
	case *ir.CompareSelect:
		xf, err := compileExpr(n.X())
		if err != nil {
			return nil, err
		}
		yf, err := compileExpr(n.Y())
		if err != nil {
			return nil, err
		}
		trueF, err := compileExpr(n.IfTrue())
		if err != nil {
			return nil, err
		}
		falseF, err := compileExpr(n.IfFalse())
		if err != nil {
			return nil, err
		}
		cmp := compareFn(n.Op(), n.X().DType())
		return func(e *env) (scalar, error) {
			x, err := xf(e)
			if err != nil {
				return scalar{}, err
			}
			y, err := yf(e)
			if err != nil {
				return scalar{}, err
			}
			ifTrue, err := trueF(e)
			if err != nil {
				return scalar{}, err
			}
			ifFalse, err := falseF(e)
			if err != nil {
				return scalar{}, err
			}
			if cmp(x, y) {
				return ifTrue, nil
			}
			return ifFalse, nil
		}, nil
	case *ir.IfThenElse:
		condF, err := compileExpr(n.Cond())
		if err != nil {
			return nil, err
		}
		trueF, err := compileExpr(n.IfTrue())
		if err != nil {
			return nil, err
		}
		falseF, err := compileExpr(n.IfFalse())
		if err != nil {
			return nil, err
		}
		return func(e *env) (scalar, error) {
			cond, err := condF(e)
			if err != nil {
				return scalar{}, err
			}
			ifTrue, err := trueF(e)
			if err != nil {
				return scalar{}, err
			}
			ifFalse, err := falseF(e)
			if err != nil {
				return scalar{}, err
			}
			if cond.b {
				return ifTrue, nil
			}
			return ifFalse, nil
		}, nil
	case *ir.Cast:
		xf, err := compileExpr(n.X())
		if err != nil {
			return nil, err
		}
		dt := n.DType()
		return func(e *env) (scalar, error) {
			x, err := xf(e)
			if err != nil {
				return scalar{}, err
			}
			return castScalar(x, dt), nil
		}, nil
	case *ir.IsNaN:
		xf, err := compileExpr(n.X())
		if err != nil {
			return nil, err
		}
		return func(e *env) (scalar, error) {
			x, err := xf(e)
			if err != nil {
				return scalar{}, err
			}
			return boolScalar(math.IsNaN(x.f)), nil
		}, nil
	}
	return nil, errors.Errorf("cannot compile expression %T", e)
}

// compileOffset builds the element offset computation of an access.
// When every stride is a literal the offsets need no evaluation at
// run time.
func compileOffset(b *ir.Buf, indices []ir.Expr) (offsetFn, error) {
	indexFns := make([]exprFn, len(indices))
	for i, index := range indices {
		fn, err := compileExpr(index)
		if err != nil {
			return nil, err
		}
		indexFns[i] = fn
	}
	strideFns, constStrides, err := compileStrides(b)
	if err != nil {
		return nil, err
	}
	if constStrides != nil {
		return func(e *env) (int, error) {
			off := int64(0)
			for i, fn := range indexFns {
				v, err := fn(e)
				if err != nil {
					return 0, err
				}
				off += v.asInt() * constStrides[i]
			}
			return int(off), nil
		}, nil
	}
	return func(e *env) (int, error) {
		off := int64(0)
		strides, err := strideFns(e)
		if err != nil {
			return 0, err
		}
		for i, fn := range indexFns {
			v, err := fn(e)
			if err != nil {
				return 0, err
			}
			off += v.asInt() * strides[i]
		}
		return int(off), nil
	}, nil
}

// compileStrides returns either the literal strides of the buffer or
// the function computing them from the bound environment.
func compileStrides(b *ir.Buf) (func(*env) ([]int64, error), []int64, error) {
	if exprs := b.Strides(); exprs != nil {
		consts := make([]int64, len(exprs))
		allConst := true
		for i, s := range exprs {
			v, ok := constInt(s)
			if !ok {
				allConst = false
				break
			}
			consts[i] = v
		}
		if allConst {
			return nil, consts, nil
		}
		fns := make([]exprFn, len(exprs))
		for i, s := range exprs {
			fn, err := compileExpr(s)
			if err != nil {
				return nil, nil, err
			}
			fns[i] = fn
		}
		return func(e *env) ([]int64, error) {
			strides := make([]int64, len(fns))
			for i, fn := range fns {
				v, err := fn(e)
				if err != nil {
					return nil, err
				}
				strides[i] = v.asInt()
			}
			return strides, nil
		}, nil, nil
	}
	// Row-major from the extents.
	dimFns, constDims, err := compileDims(b)
	if err != nil {
		return nil, nil, err
	}
	rowMajor := func(dims []int64) []int64 {
		strides := make([]int64, len(dims))
		stride := int64(1)
		for i := len(dims) - 1; i >= 0; i-- {
			strides[i] = stride
			stride *= dims[i]
		}
		return strides
	}
	if constDims != nil {
		return nil, rowMajor(constDims), nil
	}
	return func(e *env) ([]int64, error) {
		dims, err := dimFns(e)
		if err != nil {
			return nil, err
		}
		return rowMajor(dims), nil
	}, nil, nil
}

// compileDims returns either the literal extents of the buffer or the
// function computing them.
func compileDims(b *ir.Buf) (func(*env) ([]int64, error), []int64, error) {
	exprs := b.Dims()
	consts := make([]int64, len(exprs))
	allConst := true
	for i, d := range exprs {
		v, ok := constInt(d)
		if !ok {
			allConst = false
			break
		}
		consts[i] = v
	}
	if allConst {
		return nil, consts, nil
	}
	fns := make([]exprFn, len(exprs))
	for i, d := range exprs {
		fn, err := compileExpr(d)
		if err != nil {
			return nil, nil, err
		}
		fns[i] = fn
	}
	return func(e *env) ([]int64, error) {
		dims := make([]int64, len(fns))
		for i, fn := range fns {
			v, err := fn(e)
			if err != nil {
				return nil, err
			}
			dims[i] = v.asInt()
		}
		return dims, nil
	}, nil, nil
}

func runtimeDims(e *env, fns func(*env) ([]int64, error), consts []int64) ([]int, error) {
	var dims64 []int64
	if consts != nil {
		dims64 = consts
	} else {
		var err error
		if dims64, err = fns(e); err != nil {
			return nil, err
		}
	}
	dims := make([]int, len(dims64))
	for i, d := range dims64 {
		dims[i] = int(d)
	}
	return dims, nil
}

func compileStmt(s ir.Stmt) (stmtFn, error) {
	switch n := s.(type) {
	case *ir.For:
		return compileFor(n)
	case *ir.Block:
		fns := make([]stmtFn, len(n.Stmts()))
		for i, st := range n.Stmts() {
			fn, err := compileStmt(st)
			if err != nil {
				return nil, err
			}
			fns[i] = fn
		}
		return func(e *env) error {
			for _, fn := range fns {
				if err := fn(e); err != nil {
					return err
				}
			}
			return nil
		}, nil
	case *ir.Store:
		buf, dt := n.Buf(), n.Buf().DType()
		offset, err := compileOffset(n.Buf(), n.Indices())
		if err != nil {
			return nil, err
		}
		value, err := compileExpr(n.Value())
		if err != nil {
			return nil, err
		}
		return func(e *env) error {
			data, err := e.buffer(buf)
			if err != nil {
				return err
			}
			off, err := offset(e)
			if err != nil {
				return err
			}
			v, err := value(e)
			if err != nil {
				return err
			}
			return storeElem(dt, data, off, v)
		}, nil
	case *ir.Let:
		v := n.Var()
		value, err := compileExpr(n.Value())
		if err != nil {
			return nil, err
		}
		return func(e *env) error {
			s, err := value(e)
			if err != nil {
				return err
			}
			e.vars[v] = s
			return nil
		}, nil
	case *ir.ExternalCall:
		return compileExternalCall(n)
	case *ir.Alloc:
		buf := n.Buf()
		dimFns, constDims, err := compileDims(buf)
		if err != nil {
			return nil, err
		}
		return func(e *env) error {
			dims, err := runtimeDims(e, dimFns, constDims)
			if err != nil {
				return err
			}
			sh := &shape.Shape{DType: buf.DType(), AxisLengths: dims}
			e.bufs[buf] = make([]byte, sh.ByteSize())
			return nil
		}, nil
	case *ir.Free:
		buf := n.Buf()
		return func(e *env) error {
			delete(e.bufs, buf)
			return nil
		}, nil
	}
	return nil, errors.Errorf("cannot compile statement %T", s)
}

// compileFor builds the loop closure. A vectorized loop runs the body
// in chunks of the annotated width with a scalar remainder, matching
// the interpreting backend.
func compileFor(n *ir.For) (stmtFn, error) {
	startF, err := compileExpr(n.Start())
	if err != nil {
		return nil, err
	}
	stopF, err := compileExpr(n.Stop())
	if err != nil {
		return nil, err
	}
	body, err := compileStmt(n.Body())
	if err != nil {
		return nil, err
	}
	v, dt := n.Var(), n.Var().DType()
	width := int64(n.VectorWidth())
	return func(e *env) error {
		startS, err := startF(e)
		if err != nil {
			return err
		}
		stopS, err := stopF(e)
		if err != nil {
			return err
		}
		start, stop := startS.asInt(), stopS.asInt()
		iter := func(i int64) error {
			e.vars[v] = intScalar(dt, i)
			return body(e)
		}
		i := start
		if width > 1 {
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
	}, nil
}

func compileExternalCall(n *ir.ExternalCall) (stmtFn, error) {
	type bufPlan struct {
		buf       *ir.Buf
		dimFns    func(*env) ([]int64, error)
		constDims []int64
	}
	plan := func(b *ir.Buf) (bufPlan, error) {
		dimFns, constDims, err := compileDims(b)
		return bufPlan{buf: b, dimFns: dimFns, constDims: constDims}, err
	}
	wrap := func(e *env, p bufPlan) (*tensor.Tensor, error) {
		data, err := e.buffer(p.buf)
		if err != nil {
			return nil, err
		}
		dims, err := runtimeDims(e, p.dimFns, p.constDims)
		if err != nil {
			return nil, err
		}
		return tensor.FromRaw(data, &shape.Shape{DType: p.buf.DType(), AxisLengths: dims})
	}

	out, err := plan(n.Out())
	if err != nil {
		return nil, err
	}
	ins := make([]bufPlan, len(n.Ins()))
	for i, in := range n.Ins() {
		if ins[i], err = plan(in); err != nil {
			return nil, err
		}
	}
	argFns := make([]exprFn, len(n.Args()))
	for i, arg := range n.Args() {
		if argFns[i], err = compileExpr(arg); err != nil {
			return nil, err
		}
	}
	name := n.FuncName()
	return func(e *env) error {
		outT, err := wrap(e, out)
		if err != nil {
			return err
		}
		inTs := make([]*tensor.Tensor, len(ins))
		for i, p := range ins {
			if inTs[i], err = wrap(e, p); err != nil {
				return err
			}
		}
		args := make([]int64, len(argFns))
		for i, fn := range argFns {
			v, err := fn(e)
			if err != nil {
				return err
			}
			args[i] = v.asInt()
		}
		return tensor.Dispatch(name, outT, inTs, args)
	}, nil
}
