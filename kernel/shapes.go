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
	"slices"
	"strings"

	"github.com/gx-org/tensorexpr/graph"
	"go.uber.org/multierr"
	"golang.org/x/exp/maps"
)

// inferShapes computes the dimensions of every value of the graph from
// the annotated inputs. All shape violations are reported together.
func (k *Kernel) inferShapes() error {
	var errs error
	for _, in := range k.g.Inputs() {
		if in.Dims == nil {
			errs = multierr.Append(errs, graph.Shapef("input %s has no shape annotation", in.Name))
			continue
		}
		k.dims[in] = in.Dims
	}
	if errs != nil {
		return errs
	}
	for _, n := range k.g.Nodes() {
		dims, err := k.inferNode(n)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		k.dims[n.Output] = dims
	}
	return errs
}

func (k *Kernel) inferNode(n *graph.Node) ([]int64, error) {
	ins := make([][]int64, len(n.Inputs))
	for i, in := range n.Inputs {
		dims, ok := k.dims[in]
		if !ok {
			return nil, graph.Shapef("node %s: input %s has no shape", n.Op, in.Name)
		}
		ins[i] = dims
	}
	switch n.Op {
	case "add", "sub", "mul", "div":
		if len(ins) != 2 {
			return nil, graph.Shapef("node %s takes 2 inputs, got %d", n.Op, len(ins))
		}
		return broadcastDims(n.Op, ins[0], ins[1])
	case "t":
		if len(ins) != 1 || len(ins[0]) != 2 {
			return nil, graph.Shapef("node t takes one matrix input")
		}
		return []int64{ins[0][1], ins[0][0]}, nil
	case "transpose":
		if len(ins) != 1 || len(n.IArgs) != 2 {
			return nil, graph.Shapef("node transpose takes one input and 2 axes")
		}
		return transposeDims(ins[0], n.IArgs[0], n.IArgs[1])
	case "permute":
		if len(ins) != 1 {
			return nil, graph.Shapef("node permute takes one input")
		}
		return permuteDims(ins[0], n.IArgs)
	case "expand":
		if len(ins) != 1 {
			return nil, graph.Shapef("node expand takes one input")
		}
		return expandDims(ins[0], n.IArgs)
	case "nan_to_num":
		if len(ins) != 1 {
			return nil, graph.Shapef("node nan_to_num takes one input")
		}
		return ins[0], nil
	case "matmul":
		if len(ins) != 2 {
			return nil, graph.Shapef("node matmul takes 2 inputs, got %d", len(ins))
		}
		return matmulDims(ins[0], ins[1])
	case "linear":
		return linearDims(ins)
	}
	if _, ok := k.opts.custom[n.Op]; ok {
		// Custom lowerings are shape preserving over their first
		// input.
		return ins[0], nil
	}
	// A pre-annotated output shape lets any operator known to the host
	// runtime go through the external call tier.
	if n.Output.Dims != nil {
		return n.Output.Dims, nil
	}
	if len(k.opts.custom) > 0 {
		known := maps.Keys(k.opts.custom)
		slices.Sort(known)
		return nil, graph.Unsupportedf("operator %s cannot be lowered (custom lowerings: %s)", n.Op, strings.Join(known, ", "))
	}
	return nil, graph.Unsupportedf("operator %s cannot be lowered", n.Op)
}

// broadcastDims aligns two shapes on their trailing axes; an axis of
// length one stretches to the other operand's length.
func broadcastDims(op string, x, y []int64) ([]int64, error) {
	rank := max(len(x), len(y))
	out := make([]int64, rank)
	for i := 1; i <= rank; i++ {
		dx, dy := int64(1), int64(1)
		if i <= len(x) {
			dx = x[len(x)-i]
		}
		if i <= len(y) {
			dy = y[len(y)-i]
		}
		switch {
		case dx == dy, dy == 1:
			out[rank-i] = dx
		case dx == 1:
			out[rank-i] = dy
		default:
			return nil, graph.Shapef("node %s: cannot broadcast axis lengths %d and %d", op, dx, dy)
		}
	}
	return out, nil
}

func normAxis(axis, rank int64) (int64, error) {
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return 0, graph.Shapef("axis %d out of range for rank %d", axis, rank)
	}
	return axis, nil
}

func transposeDims(in []int64, axis0, axis1 int64) ([]int64, error) {
	a0, err := normAxis(axis0, int64(len(in)))
	if err != nil {
		return nil, err
	}
	a1, err := normAxis(axis1, int64(len(in)))
	if err != nil {
		return nil, err
	}
	out := append([]int64(nil), in...)
	out[a0], out[a1] = out[a1], out[a0]
	return out, nil
}

func permuteDims(in []int64, perm []int64) ([]int64, error) {
	if len(perm) != len(in) {
		return nil, graph.Shapef("node permute: got %d axes for rank %d", len(perm), len(in))
	}
	out := make([]int64, len(in))
	seen := make([]bool, len(in))
	for i, p := range perm {
		a, err := normAxis(p, int64(len(in)))
		if err != nil {
			return nil, err
		}
		if seen[a] {
			return nil, graph.Shapef("node permute: axis %d appears twice", a)
		}
		seen[a] = true
		out[i] = in[a]
	}
	return out, nil
}

func expandDims(in []int64, sizes []int64) ([]int64, error) {
	if len(sizes) < len(in) {
		return nil, graph.Shapef("node expand: cannot expand rank %d to %d sizes", len(in), len(sizes))
	}
	lead := len(sizes) - len(in)
	out := make([]int64, len(sizes))
	for i, size := range sizes {
		if i < lead {
			if size < 0 {
				return nil, graph.Shapef("node expand: size of new axis %d must be explicit", i)
			}
			out[i] = size
			continue
		}
		cur := in[i-lead]
		switch {
		case size == -1 || size == cur:
			out[i] = cur
		case cur == 1:
			out[i] = size
		default:
			return nil, graph.Shapef("node expand: cannot expand axis %d of length %d to %d", i-lead, cur, size)
		}
	}
	return out, nil
}

func matmulDims(x, y []int64) ([]int64, error) {
	if len(x) != 2 || len(y) != 2 {
		return nil, graph.Shapef("node matmul takes matrices, got ranks %d and %d", len(x), len(y))
	}
	if x[1] != y[0] {
		return nil, graph.Shapef("node matmul: inner axes %d and %d do not match", x[1], y[0])
	}
	return []int64{x[0], y[1]}, nil
}

func linearDims(ins [][]int64) ([]int64, error) {
	if len(ins) != 2 && len(ins) != 3 {
		return nil, graph.Shapef("node linear takes 2 or 3 inputs, got %d", len(ins))
	}
	x, w := ins[0], ins[1]
	if len(x) != 2 || len(w) != 2 {
		return nil, graph.Shapef("node linear takes matrices, got ranks %d and %d", len(x), len(w))
	}
	if x[1] != w[1] {
		return nil, graph.Shapef("node linear: feature axes %d and %d do not match", x[1], w[1])
	}
	if len(ins) == 3 {
		bias := ins[2]
		if len(bias) != 1 || bias[0] != w[0] {
			return nil, graph.Shapef("node linear: bias shape does not match %d output features", w[0])
		}
	}
	return []int64{x[0], w[0]}, nil
}
