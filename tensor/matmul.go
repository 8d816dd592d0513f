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
	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
	"gonum.org/v1/gonum/mat"
)

// toDense converts a matrix tensor to a gonum dense matrix.
func toDense(t *Tensor) (*mat.Dense, error) {
	if t.Rank() != 2 {
		return nil, errors.Errorf("matmul expects matrices, got rank %d", t.Rank())
	}
	t = t.Contiguous()
	rows, cols := t.Dims()[0], t.Dims()[1]
	switch t.DType() {
	case dtype.Float64:
		return mat.NewDense(rows, cols, Data[float64](t)), nil
	case dtype.Float32:
		values := Data[float32](t)
		converted := make([]float64, len(values))
		for i, v := range values {
			converted[i] = float64(v)
		}
		return mat.NewDense(rows, cols, converted), nil
	}
	return nil, errors.Errorf("matmul does not support dtype %s", t.DType().String())
}

// fromDense copies a gonum dense matrix into the output tensor.
func fromDense(out *Tensor, m *mat.Dense) error {
	rows, cols := m.Dims()
	if out.Rank() != 2 || out.Dims()[0] != rows || out.Dims()[1] != cols {
		return errors.Errorf("matmul result is %dx%d but the output shape is %s", rows, cols, out.Shape().String())
	}
	raw := m.RawMatrix().Data
	switch out.DType() {
	case dtype.Float64:
		copy(Data[float64](out), raw)
	case dtype.Float32:
		values := Data[float32](out)
		for i, v := range raw {
			values[i] = float32(v)
		}
	default:
		return errors.Errorf("matmul does not support dtype %s", out.DType().String())
	}
	return nil
}

// opMatmul multiplies two matrices.
func opMatmul(out *Tensor, ins []*Tensor, args []int64) error {
	if len(ins) != 2 {
		return errors.Errorf("got %d operands but want 2", len(ins))
	}
	x, err := toDense(ins[0])
	if err != nil {
		return err
	}
	y, err := toDense(ins[1])
	if err != nil {
		return err
	}
	var product mat.Dense
	product.Mul(x, y)
	return fromDense(out, &product)
}

// opLinear computes x matmul transpose(w), plus a bias when given a
// third operand. It is the target of the fuse-linear graph rewrite.
func opLinear(out *Tensor, ins []*Tensor, args []int64) error {
	if len(ins) != 2 && len(ins) != 3 {
		return errors.Errorf("got %d operands but want 2 or 3", len(ins))
	}
	x, err := toDense(ins[0])
	if err != nil {
		return err
	}
	w, err := toDense(ins[1])
	if err != nil {
		return err
	}
	var product mat.Dense
	product.Mul(x, w.T())
	if len(ins) == 3 {
		bias := ins[2].Contiguous()
		rows, cols := product.Dims()
		if bias.Size() != cols {
			return errors.Errorf("bias has %d elements but the result has %d columns", bias.Size(), cols)
		}
		biasValues := make([]float64, cols)
		for i := 0; i < cols; i++ {
			biasValues[i] = bias.floatAt1d(i)
		}
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				product.Set(r, c, product.At(r, c)+biasValues[c])
			}
		}
	}
	return fromDense(out, &product)
}

// floatAt1d returns the i-th element of a contiguous tensor as a
// float64, ignoring the shape.
func (t *Tensor) floatAt1d(i int) float64 {
	switch t.DType() {
	case dtype.Float32:
		return float64(Data[float32](t)[i])
	case dtype.Float64:
		return Data[float64](t)[i]
	}
	return 0
}
