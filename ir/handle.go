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
	"github.com/gx-org/backend/dtype"
)

// ExprHandle is a handle on an expression node, providing the operator
// methods used to compose expressions. The zero handle is invalid.
type ExprHandle struct {
	expr Expr
}

// HandleOf wraps an expression node into a handle.
func HandleOf(e Expr) ExprHandle {
	return ExprHandle{expr: e}
}

// Node returns the underlying expression node.
func (e ExprHandle) Node() Expr { return e.expr }

// DType of the expression.
func (e ExprHandle) DType() Dtype { return e.expr.DType() }

// String representation of the expression.
func (e ExprHandle) String() string { return e.expr.String() }

// Int returns an int64 literal.
func Int(v int64) ExprHandle {
	return ExprHandle{&IntImm{meta: newMeta(), value: v, typ: dtype.Int64}}
}

// Int32Lit returns an int32 literal.
func Int32Lit(v int32) ExprHandle {
	return ExprHandle{&IntImm{meta: newMeta(), value: int64(v), typ: dtype.Int32}}
}

// Float returns a float32 literal.
func Float(v float32) ExprHandle {
	return ExprHandle{&FloatImm{meta: newMeta(), value: float64(v), typ: dtype.Float32}}
}

// Float64Lit returns a float64 literal.
func Float64Lit(v float64) ExprHandle {
	return ExprHandle{&FloatImm{meta: newMeta(), value: v, typ: dtype.Float64}}
}

// Bool returns a boolean literal.
func Bool(v bool) ExprHandle {
	return ExprHandle{&BoolImm{meta: newMeta(), value: v}}
}

// Literal returns a literal of the given dtype.
func Literal(dt Dtype, v float64) ExprHandle {
	switch {
	case dt == dtype.Bool:
		return Bool(v != 0)
	case IsInteger(dt):
		return ExprHandle{&IntImm{meta: newMeta(), value: int64(v), typ: dt}}
	case IsFloat(dt):
		return ExprHandle{&FloatImm{meta: newMeta(), value: v, typ: dt}}
	}
	constructErrorf("cannot build a literal of dtype %s", dt.String())
	return ExprHandle{}
}

// castTo inserts a cast when the expression does not already have the
// target dtype.
func castTo(e Expr, dt Dtype) Expr {
	if e.DType() == dt {
		return e
	}
	return &Cast{meta: newMeta(), x: e, typ: dt}
}

// binaryExpr builds an arithmetic node, promoting both operands to a
// common dtype.
func binaryExpr(op BinaryOp, x, y ExprHandle) ExprHandle {
	dt, err := Promote(x.DType(), y.DType())
	if err != nil {
		constructErrorf("cannot apply %s: %v", op.String(), err)
	}
	if op == Mod && !IsInteger(dt) && !IsFloat(dt) {
		constructErrorf("cannot apply %s to dtype %s", op.String(), dt.String())
	}
	return ExprHandle{&Binary{
		meta: newMeta(),
		op:   op,
		x:    castTo(x.expr, dt),
		y:    castTo(y.expr, dt),
		typ:  dt,
	}}
}

// Add returns e + y.
func (e ExprHandle) Add(y ExprHandle) ExprHandle { return binaryExpr(Add, e, y) }

// Sub returns e - y.
func (e ExprHandle) Sub(y ExprHandle) ExprHandle { return binaryExpr(Sub, e, y) }

// Mul returns e * y.
func (e ExprHandle) Mul(y ExprHandle) ExprHandle { return binaryExpr(Mul, e, y) }

// Div returns e / y.
func (e ExprHandle) Div(y ExprHandle) ExprHandle { return binaryExpr(Div, e, y) }

// Mod returns e % y.
func (e ExprHandle) Mod(y ExprHandle) ExprHandle { return binaryExpr(Mod, e, y) }

// MaxOf returns the greater of e and y.
func (e ExprHandle) MaxOf(y ExprHandle) ExprHandle { return binaryExpr(Max, e, y) }

// MinOf returns the lesser of e and y.
func (e ExprHandle) MinOf(y ExprHandle) ExprHandle { return binaryExpr(Min, e, y) }

// Cast converts the expression to the given dtype.
func (e ExprHandle) Cast(dt Dtype) ExprHandle {
	return ExprHandle{castTo(e.expr, dt)}
}

// IsNaN tests whether the expression is NaN. The operand must be
// floating point.
func (e ExprHandle) IsNaN() ExprHandle {
	if !IsFloat(e.DType()) {
		constructErrorf("isnan requires a floating point operand, got %s", e.DType().String())
	}
	return ExprHandle{&IsNaN{meta: newMeta(), x: e.expr}}
}

// Compare returns a boolean expression comparing e with y. Operands
// are promoted to a common dtype.
func (e ExprHandle) Compare(op CompareOp, y ExprHandle) ExprHandle {
	dt, err := Promote(e.DType(), y.DType())
	if err != nil {
		constructErrorf("cannot compare: %v", err)
	}
	return ExprHandle{&CompareSelect{
		meta:    newMeta(),
		op:      op,
		x:       castTo(e.expr, dt),
		y:       castTo(y.expr, dt),
		ifTrue:  Bool(true).expr,
		ifFalse: Bool(false).expr,
		typ:     dtype.Bool,
	}}
}

// Select compares x with y and returns ifTrue when the comparison
// holds, ifFalse otherwise. Both branches are evaluated.
func Select(op CompareOp, x, y, ifTrue, ifFalse ExprHandle) ExprHandle {
	cmpType, err := Promote(x.DType(), y.DType())
	if err != nil {
		constructErrorf("cannot compare: %v", err)
	}
	dt, err := Promote(ifTrue.DType(), ifFalse.DType())
	if err != nil {
		constructErrorf("cannot select: %v", err)
	}
	return ExprHandle{&CompareSelect{
		meta:    newMeta(),
		op:      op,
		x:       castTo(x.expr, cmpType),
		y:       castTo(y.expr, cmpType),
		ifTrue:  castTo(ifTrue.expr, dt),
		ifFalse: castTo(ifFalse.expr, dt),
		typ:     dt,
	}}
}

// IfThenElse returns ifTrue when cond holds, ifFalse otherwise. The
// condition must be boolean; both branches are evaluated.
func IfThenElseExpr(cond, ifTrue, ifFalse ExprHandle) ExprHandle {
	if cond.DType() != dtype.Bool {
		constructErrorf("if-then-else condition must be boolean, got %s", cond.DType().String())
	}
	dt, err := Promote(ifTrue.DType(), ifFalse.DType())
	if err != nil {
		constructErrorf("cannot select: %v", err)
	}
	return ExprHandle{&IfThenElse{
		meta:    newMeta(),
		cond:    cond.expr,
		ifTrue:  castTo(ifTrue.expr, dt),
		ifFalse: castTo(ifFalse.expr, dt),
		typ:     dt,
	}}
}

// VarHandle is a handle on a named scalar variable.
type VarHandle struct {
	v *Var
}

// NewVar returns a new variable of the given dtype. The name is for
// display only: each call returns a distinct variable.
func NewVar(name string, dt Dtype) VarHandle {
	if dt != dtype.Bool && !IsInteger(dt) && !IsFloat(dt) {
		constructErrorf("cannot declare variable %s of dtype %s", name, dt.String())
	}
	return VarHandle{v: &Var{meta: newMeta(), name: name, typ: dt}}
}

// Node returns the underlying variable node.
func (v VarHandle) Node() *Var { return v.v }

// Name of the variable for display.
func (v VarHandle) Name() string { return v.v.name }

// DType of the variable.
func (v VarHandle) DType() Dtype { return v.v.typ }

// Handle returns the variable as an expression.
func (v VarHandle) Handle() ExprHandle { return ExprHandle{expr: v.v} }
