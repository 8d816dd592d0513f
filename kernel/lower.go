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

package kernel

import (
	"fmt"
	"math"

	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorexpr/graph"
	"github.com/gx-org/tensorexpr/ir"
)

// axisNames gives the loop variables their display names.
var axisNames = []string{"i", "j", "k", "l", "m", "n"}

func axisName(axis int) string {
	if axis < len(axisNames) {
		return axisNames[axis]
	}
	return fmt.Sprintf("i%d", axis)
}

func dimArgs(dims []int64) []ir.DimArg {
	args := make([]ir.DimArg, len(dims))
	for i, d := range dims {
		args[i] = ir.Dim(ir.Int(d), axisName(i))
	}
	return args
}

// lowerNode translates one graph node into a tensor computation.
// Elementwise and layout operators lower to native loop nests; an
// operator with a registered custom lowering comes next; everything
// else becomes an external call into the host runtime.
func (k *Kernel) lowerNode(n *graph.Node) (*ir.Tensor, error) {
	ins := make([]ir.BufHandle, len(n.Inputs))
	for i, in := range n.Inputs {
		ins[i] = k.bufs[in]
	}
	outDims := k.dims[n.Output]
	switch n.Op {
	case "add":
		return k.lowerBinary(n, ins, outDims, ir.ExprHandle.Add)
	case "sub":
		return k.lowerBinary(n, ins, outDims, ir.ExprHandle.Sub)
	case "mul":
		return k.lowerBinary(n, ins, outDims, ir.ExprHandle.Mul)
	case "div":
		return k.lowerBinary(n, ins, outDims, ir.ExprHandle.Div)
	case "t":
		return k.lowerPermute(n, ins[0], outDims, []int64{1, 0})
	case "transpose":
		perm := identityPerm(len(outDims))
		a0, _ := normAxis(n.IArgs[0], int64(len(outDims)))
		a1, _ := normAxis(n.IArgs[1], int64(len(outDims)))
		perm[a0], perm[a1] = perm[a1], perm[a0]
		return k.lowerPermute(n, ins[0], outDims, perm)
	case "permute":
		perm := make([]int64, len(n.IArgs))
		for i, p := range n.IArgs {
			perm[i], _ = normAxis(p, int64(len(outDims)))
		}
		return k.lowerPermute(n, ins[0], outDims, perm)
	case "expand":
		return k.lowerExpand(n, ins[0], outDims)
	case "nan_to_num":
		return k.lowerNaNToNum(n, ins[0], outDims)
	}
	if custom, ok := k.opts.custom[n.Op]; ok {
		return custom(ins, outDims, n.Output.DType)
	}
	return k.lowerExternalCall(n, ins, outDims)
}

func identityPerm(rank int) []int64 {
	perm := make([]int64, rank)
	for i := range perm {
		perm[i] = int64(i)
	}
	return perm
}

// broadcastLoad loads an input at the loop indices, reading index zero
// on the axes the input broadcasts over.
func broadcastLoad(in ir.BufHandle, inDims []int64, indices []ir.ExprHandle) ir.ExprHandle {
	lead := len(indices) - len(inDims)
	loadIndices := make([]ir.ExprHandle, len(inDims))
	for a := range inDims {
		if inDims[a] == 1 {
			loadIndices[a] = ir.Int(0)
			continue
		}
		loadIndices[a] = indices[lead+a]
	}
	return in.Load(loadIndices...)
}

func (k *Kernel) lowerBinary(n *graph.Node, ins []ir.BufHandle, outDims []int64, op func(ir.ExprHandle, ir.ExprHandle) ir.ExprHandle) (*ir.Tensor, error) {
	xDims, yDims := k.dims[n.Inputs[0]], k.dims[n.Inputs[1]]
	return ir.Compute(n.Output.Name, dimArgs(outDims), func(indices []ir.ExprHandle) ir.ExprHandle {
		x := broadcastLoad(ins[0], xDims, indices)
		y := broadcastLoad(ins[1], yDims, indices)
		return op(x, y)
	})
}

// lowerPermute reads the input with the loop indices reordered so that
// output axis i iterates input axis perm[i].
func (k *Kernel) lowerPermute(n *graph.Node, in ir.BufHandle, outDims []int64, perm []int64) (*ir.Tensor, error) {
	return ir.Compute(n.Output.Name, dimArgs(outDims), func(indices []ir.ExprHandle) ir.ExprHandle {
		loadIndices := make([]ir.ExprHandle, len(indices))
		for outAxis, inAxis := range perm {
			loadIndices[inAxis] = indices[outAxis]
		}
		return in.Load(loadIndices...)
	})
}

func (k *Kernel) lowerExpand(n *graph.Node, in ir.BufHandle, outDims []int64) (*ir.Tensor, error) {
	inDims := k.dims[n.Inputs[0]]
	return ir.Compute(n.Output.Name, dimArgs(outDims), func(indices []ir.ExprHandle) ir.ExprHandle {
		return broadcastLoad(in, inDims, indices)
	})
}

// lowerNaNToNum replaces NaN with zero and clamps infinities to the
// largest finite values of the dtype.
func (k *Kernel) lowerNaNToNum(n *graph.Node, in ir.BufHandle, outDims []int64) (*ir.Tensor, error) {
	dt := n.Output.DType
	if !ir.IsFloat(dt) {
		return nil, graph.Unsupportedf("node nan_to_num: dtype %s is not floating point", dt.String())
	}
	largest := math.MaxFloat64
	if dt == dtype.Float32 {
		largest = math.MaxFloat32
	}
	return ir.Compute(n.Output.Name, dimArgs(outDims), func(indices []ir.ExprHandle) ir.ExprHandle {
		x := in.Load(indices...)
		high := ir.Literal(dt, largest)
		low := ir.Literal(dt, -largest)
		clamped := ir.Select(ir.GT, x, high, high, x)
		clamped = ir.Select(ir.LT, clamped, low, low, clamped)
		return ir.IfThenElseExpr(x.IsNaN(), ir.Literal(dt, 0), clamped)
	})
}

// lowerExternalCall hands the node over to the host runtime operator
// of the same name. Call operands are exchanged in row-major layout,
// so an input declared with another layout is repacked first.
func (k *Kernel) lowerExternalCall(n *graph.Node, ins []ir.BufHandle, outDims []int64) (*ir.Tensor, error) {
	var stmts []ir.Stmt
	for i, in := range ins {
		if declaresRowMajor(in) {
			continue
		}
		packed, err := ir.Compute(in.Name()+"_packed", dimArgs(k.dims[n.Inputs[i]]), func(indices []ir.ExprHandle) ir.ExprHandle {
			return in.Load(indices...)
		})
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, packed.Stmt())
		ins[i] = packed.Buf()
	}
	out := ir.NewBuf(n.Output.Name, dimExprs(outDims), n.Output.DType)
	args := make([]ir.ExprHandle, len(n.IArgs))
	for i, a := range n.IArgs {
		args[i] = ir.Int(a)
	}
	call := ir.NewExternalCall(out, n.Op, ins, args)
	if len(stmts) == 0 {
		return ir.NewTensor(out, call), nil
	}
	return ir.NewTensor(out, ir.NewBlock(append(stmts, call)...)), nil
}

// declaresRowMajor reports whether the buffer declares the default
// row-major layout. Symbolic strides always follow the default.
func declaresRowMajor(b ir.BufHandle) bool {
	strides := b.Node().Strides()
	if strides == nil {
		return true
	}
	dims := b.Node().Dims()
	want := int64(1)
	for i := len(strides) - 1; i >= 0; i-- {
		s, ok := strides[i].(*ir.IntImm)
		if !ok {
			return true
		}
		d, ok := dims[i].(*ir.IntImm)
		if !ok {
			return true
		}
		if d.Value() > 1 && s.Value() != want {
			return false
		}
		want *= d.Value()
	}
	return true
}

func dimExprs(dims []int64) []ir.ExprHandle {
	exprs := make([]ir.ExprHandle, len(dims))
	for i, d := range dims {
		exprs[i] = ir.Int(d)
	}
	return exprs
}
