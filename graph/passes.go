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

package graph

import (
	"github.com/gx-org/tensorexpr/tensor"
)

// AnnotateInputShapes copies the shapes of the example tensors onto
// the graph inputs. The examples follow the input order; a nil entry
// is only valid for a self input that is removed or already annotated.
func AnnotateInputShapes(g *Graph, examples []*tensor.Tensor) error {
	if len(examples) != len(g.inputs) {
		return Shapef("got %d example tensors for %d graph inputs", len(examples), len(g.inputs))
	}
	for i, in := range g.inputs {
		example := examples[i]
		if example == nil {
			if !in.IsSelf {
				return Shapef("input %s has no example tensor", in.Name)
			}
			if len(g.Consumers(in)) > 0 {
				return Unsupportedf("self input %s is used by the graph but has no shape", in.Name)
			}
			continue
		}
		if in.IsSelf {
			return Unsupportedf("cannot annotate self input %s with a tensor", in.Name)
		}
		if in.DType != example.DType() {
			return Shapef("input %s has dtype %s but the example is %s", in.Name, in.DType.String(), example.DType().String())
		}
		in.Dims = make([]int64, example.Rank())
		in.Strides = make([]int64, example.Rank())
		for k, d := range example.Dims() {
			in.Dims[k] = int64(d)
		}
		for k, s := range example.Strides() {
			in.Strides[k] = int64(s)
		}
	}
	return nil
}

// RemoveUnusedSelfParam drops the self input of a traced method when
// no node reads it. A used self input is kept untouched.
func RemoveUnusedSelfParam(g *Graph) {
	if len(g.inputs) == 0 || !g.inputs[0].IsSelf {
		return
	}
	if len(g.Consumers(g.inputs[0])) > 0 {
		return
	}
	g.inputs = g.inputs[1:]
}

// FuseLinear rewrites the pattern matmul(x, t(w)) followed by an
// addition of a bias into a single linear(x, w, b) node, and
// matmul(x, t(w)) alone into linear(x, w). The fused node keeps the
// provenance of the matmul it replaces.
func FuseLinear(g *Graph) {
	for changed := true; changed; {
		changed = false
		for _, n := range g.nodes {
			if n.Op != "matmul" || len(n.Inputs) != 2 {
				continue
			}
			transpose := g.Producer(n.Inputs[1])
			if transpose == nil || transpose.Op != "t" {
				continue
			}
			if fuseOneLinear(g, n, transpose) {
				changed = true
				break
			}
		}
	}
}

func fuseOneLinear(g *Graph, matmul, transpose *Node) bool {
	x, w := matmul.Inputs[0], transpose.Inputs[0]
	fused := &Node{
		Op:     "linear",
		Inputs: []*Value{x, w},
		Output: matmul.Output,
		Origin: matmul.Origin,
	}
	remove := map[*Node]bool{matmul: true}
	// The fused node replaces the matmul, or the bias addition when
	// one is absorbed, so its inputs are always defined before it.
	anchor := matmul

	// Absorb a bias addition when the matmul result feeds exactly one
	// add and nothing else.
	consumers := g.Consumers(matmul.Output)
	if len(consumers) == 1 && consumers[0].Op == "add" && !g.IsOutput(matmul.Output) {
		add := consumers[0]
		var bias *Value
		switch {
		case add.Inputs[0] == matmul.Output:
			bias = add.Inputs[1]
		case add.Inputs[1] == matmul.Output:
			bias = add.Inputs[0]
		}
		if bias != nil {
			fused.Inputs = []*Value{x, w, bias}
			fused.Output = add.Output
			remove[add] = true
			anchor = add
		}
	}

	// The transpose disappears with the matmul unless someone else
	// still reads its output.
	if len(g.Consumers(transpose.Output)) == 1 && !g.IsOutput(transpose.Output) {
		remove[transpose] = true
	}

	nodes := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		if n == anchor {
			nodes = append(nodes, fused)
			continue
		}
		if remove[n] {
			continue
		}
		nodes = append(nodes, n)
	}
	g.nodes = nodes
	return true
}
