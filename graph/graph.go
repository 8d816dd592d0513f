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

// Package graph represents a traced tensor computation as a flat list
// of operator nodes over named values.
//
// A graph is the front end of kernel compilation: rewrite passes clean
// it up and the kernel package lowers it to loop nests. Values carry
// their dtype always and their dimensions once annotated; provenance
// records attached to the nodes survive rewriting and lowering.
package graph

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorexpr/base/uname"
	"github.com/gx-org/tensorexpr/ir"
	"go.uber.org/multierr"
)

type (
	// Value is an edge of the graph: a graph input or the output of a
	// node. Dims is nil until the value is annotated or inferred.
	Value struct {
		Name    string
		DType   dtype.DataType
		Dims    []int64
		Strides []int64

		// IsSelf marks the enclosing module object of a traced
		// method. It is not a tensor and cannot be lowered; passes
		// remove it when unused.
		IsSelf bool
	}

	// Node applies a named operator to input values, producing one
	// output value. IArgs are extra integer arguments, such as the
	// axes of a transpose.
	Node struct {
		Op     string
		Inputs []*Value
		Output *Value
		IArgs  []int64
		Origin *ir.Origin
	}

	// Graph is an ordered list of nodes over a set of input values.
	Graph struct {
		inputs  []*Value
		outputs []*Value
		nodes   []*Node
		names   *uname.Unique
	}
)

// New returns an empty graph.
func New() *Graph {
	return &Graph{names: uname.New()}
}

// Input declares a graph input. A nil dims slice leaves the input
// unannotated.
func (g *Graph) Input(name string, dt dtype.DataType, dims []int64) *Value {
	v := &Value{Name: g.names.Name(name), DType: dt, Dims: dims}
	g.inputs = append(g.inputs, v)
	return v
}

// SelfInput declares the module object of a traced method as the first
// graph input.
func (g *Graph) SelfInput(name string) *Value {
	v := &Value{Name: g.names.Name(name), IsSelf: true}
	g.inputs = append(g.inputs, v)
	return v
}

// Apply appends a node running the operator over the inputs and
// returns its output value. The node records its provenance.
func (g *Graph) Apply(op string, ins []*Value, iargs []int64) *Value {
	out := &Value{Name: g.names.Name(op), DType: firstDType(ins)}
	g.nodes = append(g.nodes, &Node{
		Op:     op,
		Inputs: ins,
		Output: out,
		IArgs:  iargs,
		Origin: &ir.Origin{Op: op, SourceRange: fmt.Sprintf("%%%s", out.Name)},
	})
	return out
}

func firstDType(ins []*Value) dtype.DataType {
	for _, in := range ins {
		if !in.IsSelf {
			return in.DType
		}
	}
	return dtype.Invalid
}

// SetOutputs declares the values the graph returns.
func (g *Graph) SetOutputs(outs ...*Value) {
	g.outputs = outs
}

// Inputs of the graph, in declaration order.
func (g *Graph) Inputs() []*Value { return g.inputs }

// Outputs of the graph.
func (g *Graph) Outputs() []*Value { return g.outputs }

// Nodes of the graph, in execution order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// Producer returns the node computing the value, or nil for inputs.
func (g *Graph) Producer(v *Value) *Node {
	for _, n := range g.nodes {
		if n.Output == v {
			return n
		}
	}
	return nil
}

// Consumers returns the nodes reading the value.
func (g *Graph) Consumers(v *Value) []*Node {
	var consumers []*Node
	for _, n := range g.nodes {
		for _, in := range n.Inputs {
			if in == v {
				consumers = append(consumers, n)
				break
			}
		}
	}
	return consumers
}

// IsOutput reports whether the value is returned by the graph.
func (g *Graph) IsOutput(v *Value) bool {
	for _, out := range g.outputs {
		if out == v {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of the graph: every node
// input is a graph input or the output of an earlier node, and every
// graph output is defined. All violations are reported together.
func (g *Graph) Validate() error {
	defined := make(map[*Value]bool)
	for _, in := range g.inputs {
		defined[in] = true
	}
	var err error
	for i, n := range g.nodes {
		for _, in := range n.Inputs {
			if !defined[in] {
				err = multierr.Append(err, errors.Errorf("node %d (%s): input %s is not defined before use", i, n.Op, in.Name))
			}
		}
		defined[n.Output] = true
	}
	for _, out := range g.outputs {
		if !defined[out] {
			err = multierr.Append(err, errors.Errorf("output %s is not defined by the graph", out.Name))
		}
	}
	if len(g.outputs) == 0 {
		err = multierr.Append(err, errors.Errorf("the graph has no outputs"))
	}
	return err
}

// String returns a textual listing of the graph.
func (g *Graph) String() string {
	var sb strings.Builder
	names := make([]string, len(g.inputs))
	for i, in := range g.inputs {
		names[i] = in.Name
	}
	fmt.Fprintf(&sb, "graph(%s):\n", strings.Join(names, ", "))
	for _, n := range g.nodes {
		ins := make([]string, len(n.Inputs))
		for i, in := range n.Inputs {
			ins[i] = "%" + in.Name
		}
		fmt.Fprintf(&sb, "  %%%s = %s(%s", n.Output.Name, n.Op, strings.Join(ins, ", "))
		if len(n.IArgs) > 0 {
			args := make([]string, len(n.IArgs))
			for i, a := range n.IArgs {
				args[i] = fmt.Sprintf("%d", a)
			}
			fmt.Fprintf(&sb, "; %s", strings.Join(args, ", "))
		}
		sb.WriteString(")\n")
	}
	outs := make([]string, len(g.outputs))
	for i, out := range g.outputs {
		outs[i] = "%" + out.Name
	}
	fmt.Fprintf(&sb, "  return (%s)\n", strings.Join(outs, ", "))
	return sb.String()
}
