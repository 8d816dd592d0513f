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

// ----------------------------------------------------------------------------
// Expression nodes.
type (
	// IntImm is an integer literal.
	IntImm struct {
		meta
		value int64
		typ   Dtype
	}

	// FloatImm is a floating point literal.
	FloatImm struct {
		meta
		value float64
		typ   Dtype
	}

	// BoolImm is a boolean literal.
	BoolImm struct {
		meta
		value bool
	}

	// Var is a named scalar variable, used for loop indices and for
	// symbolic dimension sizes. Two variables sharing a display name
	// are still distinct: identity is the node itself.
	Var struct {
		meta
		name string
		typ  Dtype
	}

	// Load reads one element of a buffer.
	Load struct {
		meta
		buf     *Buf
		indices []Expr
	}

	// Binary applies an arithmetic operator to two operands of the
	// same dtype.
	Binary struct {
		meta
		op   BinaryOp
		x, y Expr
		typ  Dtype
	}

	// CompareSelect compares two operands and evaluates to one of two
	// values. Both value branches are evaluated: the node is pure and
	// branchless, there is no short-circuit.
	CompareSelect struct {
		meta
		op      CompareOp
		x, y    Expr
		ifTrue  Expr
		ifFalse Expr
		typ     Dtype
	}

	// IfThenElse evaluates to one of two values depending on a boolean
	// condition. Like CompareSelect, both branches are evaluated.
	IfThenElse struct {
		meta
		cond    Expr
		ifTrue  Expr
		ifFalse Expr
		typ     Dtype
	}

	// Cast converts a value to another dtype.
	Cast struct {
		meta
		x   Expr
		typ Dtype
	}

	// IsNaN tests whether a floating point value is NaN.
	IsNaN struct {
		meta
		x Expr
	}
)

var (
	_ Expr = (*IntImm)(nil)
	_ Expr = (*FloatImm)(nil)
	_ Expr = (*BoolImm)(nil)
	_ Expr = (*Var)(nil)
	_ Expr = (*Load)(nil)
	_ Expr = (*Binary)(nil)
	_ Expr = (*CompareSelect)(nil)
	_ Expr = (*IfThenElse)(nil)
	_ Expr = (*Cast)(nil)
	_ Expr = (*IsNaN)(nil)
)

// BinaryOp enumerates arithmetic operators.
type BinaryOp int

// Arithmetic operators.
const (
	Add BinaryOp = iota
	Sub
	Mul
	Div
	Mod
	Max
	Min
)

// String representation of the operator.
func (op BinaryOp) String() string {
	switch op {
	case Add:
		return "+"
	case Sub:
		return "-"
	case Mul:
		return "*"
	case Div:
		return "/"
	case Mod:
		return "%"
	case Max:
		return "max"
	case Min:
		return "min"
	}
	return "?"
}

// CompareOp enumerates comparison operators.
type CompareOp int

// Comparison operators.
const (
	EQ CompareOp = iota
	NE
	LT
	LE
	GT
	GE
)

// String representation of the operator.
func (op CompareOp) String() string {
	switch op {
	case EQ:
		return "=="
	case NE:
		return "!="
	case LT:
		return "<"
	case LE:
		return "<="
	case GT:
		return ">"
	case GE:
		return ">="
	}
	return "?"
}

// DType of the literal.
func (e *IntImm) DType() Dtype { return e.typ }

// Value of the literal.
func (e *IntImm) Value() int64 { return e.value }

// DType of the literal.
func (e *FloatImm) DType() Dtype { return e.typ }

// Value of the literal.
func (e *FloatImm) Value() float64 { return e.value }

// DType of the literal.
func (e *BoolImm) DType() Dtype { return dtype.Bool }

// Value of the literal.
func (e *BoolImm) Value() bool { return e.value }

// DType of the variable.
func (e *Var) DType() Dtype { return e.typ }

// Name of the variable for display. Not an identity: two distinct
// variables may share a name.
func (e *Var) Name() string { return e.name }

// DType of the loaded element.
func (e *Load) DType() Dtype { return e.buf.typ }

// Buf read by the load.
func (e *Load) Buf() *Buf { return e.buf }

// Indices of the element read, one per buffer dimension.
func (e *Load) Indices() []Expr { return e.indices }

// DType of the operation.
func (e *Binary) DType() Dtype { return e.typ }

// Op applied to the operands.
func (e *Binary) Op() BinaryOp { return e.op }

// X returns the left operand.
func (e *Binary) X() Expr { return e.x }

// Y returns the right operand.
func (e *Binary) Y() Expr { return e.y }

// DType of the selected value.
func (e *CompareSelect) DType() Dtype { return e.typ }

// Op comparing the operands.
func (e *CompareSelect) Op() CompareOp { return e.op }

// X returns the left compared operand.
func (e *CompareSelect) X() Expr { return e.x }

// Y returns the right compared operand.
func (e *CompareSelect) Y() Expr { return e.y }

// IfTrue returns the value selected when the comparison holds.
func (e *CompareSelect) IfTrue() Expr { return e.ifTrue }

// IfFalse returns the value selected when the comparison does not hold.
func (e *CompareSelect) IfFalse() Expr { return e.ifFalse }

// DType of the selected value.
func (e *IfThenElse) DType() Dtype { return e.typ }

// Cond returns the boolean condition.
func (e *IfThenElse) Cond() Expr { return e.cond }

// IfTrue returns the value selected when the condition holds.
func (e *IfThenElse) IfTrue() Expr { return e.ifTrue }

// IfFalse returns the value selected when the condition does not hold.
func (e *IfThenElse) IfFalse() Expr { return e.ifFalse }

// DType the operand is converted to.
func (e *Cast) DType() Dtype { return e.typ }

// X returns the converted operand.
func (e *Cast) X() Expr { return e.x }

// DType of the test, always boolean.
func (e *IsNaN) DType() Dtype { return dtype.Bool }

// X returns the tested operand.
func (e *IsNaN) X() Expr { return e.x }
