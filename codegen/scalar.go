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
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorexpr/ir"
)

// scalar is a runtime value of any supported dtype. Integers live in
// i, floats in f, booleans in b; the other fields are zero.
type scalar struct {
	dt dtype.DataType
	i  int64
	f  float64
	b  bool
}

func intScalar(dt dtype.DataType, v int64) scalar {
	return scalar{dt: dt, i: v}
}

// floatScalar rounds the value to the precision of the dtype, so that
// a chain of float32 operations matches what float32 hardware computes.
func floatScalar(dt dtype.DataType, v float64) scalar {
	if dt == dtype.Float32 {
		v = float64(float32(v))
	}
	return scalar{dt: dt, f: v}
}

func boolScalar(v bool) scalar {
	return scalar{dt: dtype.Bool, b: v}
}

func (s scalar) asInt() int64 {
	switch {
	case s.dt == dtype.Bool:
		if s.b {
			return 1
		}
		return 0
	case ir.IsFloat(s.dt):
		return int64(s.f)
	}
	return s.i
}

func (s scalar) asFloat() float64 {
	switch {
	case s.dt == dtype.Bool:
		if s.b {
			return 1
		}
		return 0
	case ir.IsFloat(s.dt):
		return s.f
	}
	return float64(s.i)
}

// castScalar converts a value to the target dtype.
func castScalar(s scalar, dt dtype.DataType) scalar {
	switch {
	case dt == dtype.Bool:
		return boolScalar(s.asFloat() != 0 || s.b)
	case ir.IsFloat(dt):
		return floatScalar(dt, s.asFloat())
	}
	return intScalar(dt, s.asInt())
}

// loadElem reads the element at the given offset of a raw buffer.
func loadElem(dt dtype.DataType, data []byte, off int) (scalar, error) {
	if off < 0 || off >= len(data)/dtype.Sizeof(dt) {
		return scalar{}, errors.Errorf("element offset %d out of range", off)
	}
	switch dt {
	case dtype.Bool:
		return boolScalar(dtype.ToSlice[bool](data)[off]), nil
	case dtype.Float32:
		return scalar{dt: dt, f: float64(dtype.ToSlice[float32](data)[off])}, nil
	case dtype.Float64:
		return scalar{dt: dt, f: dtype.ToSlice[float64](data)[off]}, nil
	case dtype.Int32:
		return scalar{dt: dt, i: int64(dtype.ToSlice[int32](data)[off])}, nil
	case dtype.Int64:
		return scalar{dt: dt, i: dtype.ToSlice[int64](data)[off]}, nil
	case dtype.Uint32:
		return scalar{dt: dt, i: int64(dtype.ToSlice[uint32](data)[off])}, nil
	case dtype.Uint64:
		return scalar{dt: dt, i: int64(dtype.ToSlice[uint64](data)[off])}, nil
	}
	return scalar{}, errors.Errorf("cannot load an element of dtype %s", dt.String())
}

// storeElem writes the element at the given offset of a raw buffer.
func storeElem(dt dtype.DataType, data []byte, off int, s scalar) error {
	if off < 0 || off >= len(data)/dtype.Sizeof(dt) {
		return errors.Errorf("element offset %d out of range", off)
	}
	switch dt {
	case dtype.Bool:
		dtype.ToSlice[bool](data)[off] = s.b
	case dtype.Float32:
		dtype.ToSlice[float32](data)[off] = float32(s.f)
	case dtype.Float64:
		dtype.ToSlice[float64](data)[off] = s.f
	case dtype.Int32:
		dtype.ToSlice[int32](data)[off] = int32(s.i)
	case dtype.Int64:
		dtype.ToSlice[int64](data)[off] = s.i
	case dtype.Uint32:
		dtype.ToSlice[uint32](data)[off] = uint32(s.i)
	case dtype.Uint64:
		dtype.ToSlice[uint64](data)[off] = uint64(s.i)
	default:
		return errors.Errorf("cannot store an element of dtype %s", dt.String())
	}
	return nil
}

// binaryFn resolves an arithmetic operator for a dtype once, returning
// the function applying it.
func binaryFn(op ir.BinaryOp, dt dtype.DataType) (func(x, y scalar) (scalar, error), error) {
	if ir.IsFloat(dt) {
		var f func(x, y float64) float64
		switch op {
		case ir.Add:
			f = func(x, y float64) float64 { return x + y }
		case ir.Sub:
			f = func(x, y float64) float64 { return x - y }
		case ir.Mul:
			f = func(x, y float64) float64 { return x * y }
		case ir.Div:
			f = func(x, y float64) float64 { return x / y }
		case ir.Mod:
			f = math.Mod
		case ir.Max:
			f = math.Max
		case ir.Min:
			f = math.Min
		default:
			return nil, errors.Errorf("operator %s not supported on dtype %s", op.String(), dt.String())
		}
		return func(x, y scalar) (scalar, error) {
			return floatScalar(dt, f(x.f, y.f)), nil
		}, nil
	}
	if !ir.IsInteger(dt) {
		return nil, errors.Errorf("operator %s not supported on dtype %s", op.String(), dt.String())
	}
	switch op {
	case ir.Add:
		return func(x, y scalar) (scalar, error) { return intScalar(dt, x.i+y.i), nil }, nil
	case ir.Sub:
		return func(x, y scalar) (scalar, error) { return intScalar(dt, x.i-y.i), nil }, nil
	case ir.Mul:
		return func(x, y scalar) (scalar, error) { return intScalar(dt, x.i*y.i), nil }, nil
	case ir.Div:
		return func(x, y scalar) (scalar, error) {
			if y.i == 0 {
				return scalar{}, errors.Errorf("integer division by zero")
			}
			return intScalar(dt, x.i/y.i), nil
		}, nil
	case ir.Mod:
		return func(x, y scalar) (scalar, error) {
			if y.i == 0 {
				return scalar{}, errors.Errorf("integer division by zero")
			}
			return intScalar(dt, x.i%y.i), nil
		}, nil
	case ir.Max:
		return func(x, y scalar) (scalar, error) { return intScalar(dt, max(x.i, y.i)), nil }, nil
	case ir.Min:
		return func(x, y scalar) (scalar, error) { return intScalar(dt, min(x.i, y.i)), nil }, nil
	}
	return nil, errors.Errorf("operator %s not supported on dtype %s", op.String(), dt.String())
}

// compareFn resolves a comparison operator for the promoted operand
// dtype.
func compareFn(op ir.CompareOp, dt dtype.DataType) func(x, y scalar) bool {
	if ir.IsFloat(dt) {
		switch op {
		case ir.EQ:
			return func(x, y scalar) bool { return x.f == y.f }
		case ir.NE:
			return func(x, y scalar) bool { return x.f != y.f }
		case ir.LT:
			return func(x, y scalar) bool { return x.f < y.f }
		case ir.LE:
			return func(x, y scalar) bool { return x.f <= y.f }
		case ir.GT:
			return func(x, y scalar) bool { return x.f > y.f }
		case ir.GE:
			return func(x, y scalar) bool { return x.f >= y.f }
		}
	}
	asInt := func(s scalar) int64 { return s.asInt() }
	switch op {
	case ir.EQ:
		return func(x, y scalar) bool { return asInt(x) == asInt(y) }
	case ir.NE:
		return func(x, y scalar) bool { return asInt(x) != asInt(y) }
	case ir.LT:
		return func(x, y scalar) bool { return asInt(x) < asInt(y) }
	case ir.LE:
		return func(x, y scalar) bool { return asInt(x) <= asInt(y) }
	case ir.GT:
		return func(x, y scalar) bool { return asInt(x) > asInt(y) }
	case ir.GE:
		return func(x, y scalar) bool { return asInt(x) >= asInt(y) }
	}
	return func(x, y scalar) bool { return false }
}
