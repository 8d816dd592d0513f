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

// Package kernel compiles a traced graph into a callable computation.
//
// New validates the graph, infers the shape of every value, lowers the
// nodes to loop nests and builds the callable with a code generation
// backend. Run executes the compiled kernel; Fallback executes the
// graph node by node through the host runtime operator dispatch, as a
// reference and as an escape hatch when compilation is not wanted.
package kernel

import (
	"github.com/pkg/errors"
	"github.com/gx-org/backend/shape"
	"github.com/gx-org/tensorexpr/codegen"
	"github.com/gx-org/tensorexpr/graph"
	"github.com/gx-org/tensorexpr/ir"
	"github.com/gx-org/tensorexpr/loopnest"
	"github.com/gx-org/tensorexpr/tensor"
)

// CustomLowering builds the tensor computation of one operator, given
// its input buffers and the inferred output dimensions and dtype.
type CustomLowering func(ins []ir.BufHandle, outDims []int64, outDtype ir.Dtype) (*ir.Tensor, error)

type options struct {
	backend   string
	custom    map[string]CustomLowering
	vectorize bool
}

// Option configures kernel compilation.
type Option func(*options)

// WithBackend selects the code generation backend. The default is the
// interpreting backend.
func WithBackend(name string) Option {
	return func(o *options) { o.backend = name }
}

// WithCustomLowering overrides the lowering of an operator without a
// native loop nest translation. An operator covered by the native
// table keeps its native lowering.
func WithCustomLowering(op string, fn CustomLowering) Option {
	return func(o *options) {
		if o.custom == nil {
			o.custom = make(map[string]CustomLowering)
		}
		o.custom[op] = fn
	}
}

// WithVectorize annotates the innermost loop of every lowered node
// with the vector width of the host.
func WithVectorize() Option {
	return func(o *options) { o.vectorize = true }
}

// Kernel is a compiled graph.
type Kernel struct {
	g    *graph.Graph
	opts options

	dims map[*graph.Value][]int64
	bufs map[*graph.Value]ir.BufHandle

	cg        codegen.CodeGen
	outShapes []*shape.Shape
}

// New compiles the graph. The graph inputs must be annotated with
// their shapes; use graph.AnnotateInputShapes with example tensors
// when they are not.
func New(g *graph.Graph, opts ...Option) (*Kernel, error) {
	k := &Kernel{
		g:    g,
		opts: options{backend: codegen.Interpreter},
		dims: make(map[*graph.Value][]int64),
		bufs: make(map[*graph.Value]ir.BufHandle),
	}
	for _, opt := range opts {
		opt(&k.opts)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	graph.RemoveUnusedSelfParam(g)
	for _, in := range g.Inputs() {
		if in.IsSelf {
			return nil, graph.Unsupportedf("input %s: a used module object cannot be lowered", in.Name)
		}
	}
	if err := k.inferShapes(); err != nil {
		return nil, err
	}
	if err := k.build(); err != nil {
		return nil, err
	}
	for _, out := range g.Outputs() {
		dims := make([]int, len(k.dims[out]))
		for i, d := range k.dims[out] {
			dims[i] = int(d)
		}
		k.outShapes = append(k.outShapes, &shape.Shape{DType: out.DType, AxisLengths: dims})
	}
	return k, nil
}

// build lowers the graph inside a kernel scope and constructs the
// callable. The scope closes when lowering is done: execution only
// reads the finished statement tree.
func (k *Kernel) build() error {
	scope, err := ir.NewScope()
	if err != nil {
		return err
	}
	defer scope.Close()
	return ir.Guarded(func() error {
		for _, in := range k.g.Inputs() {
			var placeholder *ir.Placeholder
			if in.Strides != nil {
				placeholder = ir.NewPlaceholderStrided(in.Name, in.DType, dimExprs(in.Dims), dimExprs(in.Strides))
			} else {
				placeholder = ir.NewPlaceholder(in.Name, in.DType, dimExprs(in.Dims))
			}
			k.bufs[in] = placeholder.BufHandle
		}
		tensors := make([]*ir.Tensor, 0, len(k.g.Nodes()))
		for _, n := range k.g.Nodes() {
			scope.SetOrigin(n.Origin)
			lowered, err := k.lowerNode(n)
			if err != nil {
				return err
			}
			k.bufs[n.Output] = lowered.Buf()
			tensors = append(tensors, lowered)
		}
		scope.SetOrigin(nil)

		// Every output parameter must bind its own buffer: an output
		// that is also an input, or a value returned twice, is
		// materialized through a copy.
		isInput := make(map[*ir.Buf]bool)
		for _, in := range k.g.Inputs() {
			isInput[k.bufs[in].Node()] = true
		}
		outputs := make([]ir.BufHandle, len(k.g.Outputs()))
		bound := make(map[*ir.Buf]bool)
		for i, out := range k.g.Outputs() {
			buf := k.bufs[out]
			if isInput[buf.Node()] || bound[buf.Node()] {
				copied, err := ir.Compute(out.Name+"_out", dimArgs(k.dims[out]), func(indices []ir.ExprHandle) ir.ExprHandle {
					return buf.Load(indices...)
				})
				if err != nil {
					return err
				}
				tensors = append(tensors, copied)
				buf = copied.Buf()
			}
			bound[buf.Node()] = true
			outputs[i] = buf
		}
		nest, err := loopnest.New(tensors, outputs)
		if err != nil {
			return err
		}
		if k.opts.vectorize {
			k.vectorize(nest)
		}
		if err := nest.PrepareForCodegen(); err != nil {
			return err
		}

		params := make([]codegen.Param, 0, len(k.g.Inputs())+len(outputs))
		for _, in := range k.g.Inputs() {
			params = append(params, codegen.BufferArg{Buf: k.bufs[in]})
		}
		for _, out := range outputs {
			params = append(params, codegen.BufferArg{Buf: out})
		}
		k.cg, err = codegen.Construct(k.opts.backend, nest.RootStmt(), params)
		return err
	})
}

// vectorize annotates the innermost loop of every lowered node with
// the host vector width. Loops that cannot be vectorized, such as the
// enclosing loops of another loop, are left scalar.
func (k *Kernel) vectorize(nest *loopnest.LoopNest) {
	for _, n := range k.g.Nodes() {
		buf := k.bufs[n.Output]
		loops := nest.LoopsFor(buf)
		if len(loops) == 0 {
			continue
		}
		width := codegen.DefaultVectorWidth(buf.DType())
		if width < 2 {
			continue
		}
		innermost := loops[len(loops)-1]
		if err := nest.Vectorize(innermost, width); err != nil {
			continue
		}
	}
}

// Run executes the compiled kernel on the inputs, allocating and
// returning the output tensors.
func (k *Kernel) Run(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != len(k.g.Inputs()) {
		return nil, errors.Errorf("got %d inputs but the kernel takes %d", len(inputs), len(k.g.Inputs()))
	}
	outputs := make([]*tensor.Tensor, len(k.outShapes))
	args := make([]any, 0, len(inputs)+len(outputs))
	for _, in := range inputs {
		args = append(args, in)
	}
	for i, sh := range k.outShapes {
		outputs[i] = tensor.New(sh.DType, sh.AxisLengths...)
		args = append(args, outputs[i])
	}
	if err := k.cg.Call(args...); err != nil {
		return nil, err
	}
	return outputs, nil
}

// Fallback executes the graph without the compiled kernel, one host
// runtime operator dispatch per node.
func (k *Kernel) Fallback(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != len(k.g.Inputs()) {
		return nil, errors.Errorf("got %d inputs but the kernel takes %d", len(inputs), len(k.g.Inputs()))
	}
	values := make(map[*graph.Value]*tensor.Tensor)
	for i, in := range k.g.Inputs() {
		values[in] = inputs[i]
	}
	for _, n := range k.g.Nodes() {
		dims := make([]int, len(k.dims[n.Output]))
		for i, d := range k.dims[n.Output] {
			dims[i] = int(d)
		}
		out := tensor.New(n.Output.DType, dims...)
		ins := make([]*tensor.Tensor, len(n.Inputs))
		for i, in := range n.Inputs {
			ins[i] = values[in]
		}
		if err := tensor.Dispatch(n.Op, out, ins, n.IArgs); err != nil {
			return nil, err
		}
		values[n.Output] = out
	}
	outputs := make([]*tensor.Tensor, len(k.g.Outputs()))
	for i, out := range k.g.Outputs() {
		outputs[i] = values[out]
	}
	return outputs, nil
}
