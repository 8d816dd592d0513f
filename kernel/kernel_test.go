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

package kernel_test

import (
	"math"
	"testing"

	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorexpr/codegen"
	"github.com/gx-org/tensorexpr/graph"
	"github.com/gx-org/tensorexpr/ir"
	"github.com/gx-org/tensorexpr/kernel"
	"github.com/gx-org/tensorexpr/tensor"
)

const atol = 2e-3

// checkAgainstFallback compiles the graph with the given options and
// checks that running the kernel produces the same outputs as the node
// by node fallback execution.
func checkAgainstFallback(t *testing.T, g *graph.Graph, inputs []*tensor.Tensor, opts ...kernel.Option) {
	t.Helper()
	k, err := kernel.New(g, opts...)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	got, err := k.Run(inputs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want, err := k.Fallback(inputs)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("kernel returned %d outputs, fallback %d", len(got), len(want))
	}
	for i := range got {
		if !got[i].AllClose(want[i], atol) {
			t.Errorf("output %d: kernel and fallback disagree:\nkernel:   %v\nfallback: %v", i, got[i], want[i])
		}
	}
}

func TestRunElementwiseChain(t *testing.T) {
	g := graph.New()
	a := g.Input("a", dtype.Float32, []int64{2, 3})
	b := g.Input("b", dtype.Float32, []int64{2, 3})
	c := g.Input("c", dtype.Float32, []int64{3})
	sum := g.Apply("add", []*graph.Value{a, b}, nil)
	g.SetOutputs(g.Apply("mul", []*graph.Value{sum, c}, nil))

	inputs := []*tensor.Tensor{
		tensor.Rand(dtype.Float32, 2, 3),
		tensor.Rand(dtype.Float32, 2, 3),
		tensor.Rand(dtype.Float32, 3),
	}
	checkAgainstFallback(t, g, inputs)
}

func TestRunBroadcast(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, []int64{4, 1})
	y := g.Input("y", dtype.Float32, []int64{1, 5})
	g.SetOutputs(g.Apply("sub", []*graph.Value{x, y}, nil))

	inputs := []*tensor.Tensor{
		tensor.Rand(dtype.Float32, 4, 1),
		tensor.Rand(dtype.Float32, 1, 5),
	}
	checkAgainstFallback(t, g, inputs)
}

func TestRunViewOps(t *testing.T) {
	tests := []struct {
		op    string
		dims  []int64
		iargs []int64
	}{
		{op: "t", dims: []int64{2, 3}},
		{op: "transpose", dims: []int64{2, 3, 4}, iargs: []int64{0, 2}},
		{op: "transpose", dims: []int64{2, 3, 4}, iargs: []int64{-1, 0}},
		{op: "permute", dims: []int64{2, 3, 4}, iargs: []int64{2, 0, 1}},
		{op: "expand", dims: []int64{3, 1}, iargs: []int64{3, 4}},
		{op: "expand", dims: []int64{3, 1}, iargs: []int64{2, -1, 4}},
	}
	for _, test := range tests {
		t.Run(test.op, func(t *testing.T) {
			g := graph.New()
			x := g.Input("x", dtype.Float32, test.dims)
			g.SetOutputs(g.Apply(test.op, []*graph.Value{x}, test.iargs))
			dims := make([]int, len(test.dims))
			for i, d := range test.dims {
				dims[i] = int(d)
			}
			checkAgainstFallback(t, g, []*tensor.Tensor{tensor.Rand(dtype.Float32, dims...)})
		})
	}
}

func TestRunNaNToNum(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, []int64{4})
	g.SetOutputs(g.Apply("nan_to_num", []*graph.Value{x}, nil))

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	in, err := tensor.FromSlice([]float32{nan, inf, -inf, 1.5}, 4)
	if err != nil {
		t.Fatal(err)
	}
	checkAgainstFallback(t, g, []*tensor.Tensor{in})
}

func TestRunMatmul(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, []int64{2, 4})
	y := g.Input("y", dtype.Float32, []int64{4, 3})
	g.SetOutputs(g.Apply("matmul", []*graph.Value{x, y}, nil))

	inputs := []*tensor.Tensor{
		tensor.Rand(dtype.Float32, 2, 4),
		tensor.Rand(dtype.Float32, 4, 3),
	}
	checkAgainstFallback(t, g, inputs)
}

func TestRunFusedLinear(t *testing.T) {
	build := func() *graph.Graph {
		g := graph.New()
		x := g.Input("x", dtype.Float32, []int64{2, 3})
		w := g.Input("w", dtype.Float32, []int64{4, 3})
		b := g.Input("b", dtype.Float32, []int64{4})
		wt := g.Apply("t", []*graph.Value{w}, nil)
		mm := g.Apply("matmul", []*graph.Value{x, wt}, nil)
		g.SetOutputs(g.Apply("add", []*graph.Value{mm, b}, nil))
		return g
	}
	inputs := []*tensor.Tensor{
		tensor.Rand(dtype.Float32, 2, 3),
		tensor.Rand(dtype.Float32, 4, 3),
		tensor.Rand(dtype.Float32, 4),
	}

	unfused, err := kernel.New(build())
	if err != nil {
		t.Fatalf("compile unfused: %v", err)
	}
	want, err := unfused.Run(inputs)
	if err != nil {
		t.Fatalf("run unfused: %v", err)
	}

	g := build()
	graph.FuseLinear(g)
	if len(g.Nodes()) != 1 {
		t.Fatalf("fusion left %d nodes, want 1:\n%s", len(g.Nodes()), g)
	}
	fused, err := kernel.New(g)
	if err != nil {
		t.Fatalf("compile fused: %v", err)
	}
	got, err := fused.Run(inputs)
	if err != nil {
		t.Fatalf("run fused: %v", err)
	}
	if !got[0].AllClose(want[0], atol) {
		t.Errorf("fused and unfused kernels disagree:\nfused:   %v\nunfused: %v", got[0], want[0])
	}
}

func TestRunWithAnnotation(t *testing.T) {
	g := graph.New()
	g.SelfInput("self")
	x := g.Input("x", dtype.Float32, nil)
	y := g.Input("y", dtype.Float32, nil)
	g.SetOutputs(g.Apply("add", []*graph.Value{x, y}, nil))

	if _, err := kernel.New(g); err == nil {
		t.Fatalf("no error compiling a graph with unannotated inputs")
	}
	examples := []*tensor.Tensor{
		nil,
		tensor.Rand(dtype.Float32, 2, 2),
		tensor.Rand(dtype.Float32, 2, 2),
	}
	if err := graph.AnnotateInputShapes(g, examples); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	checkAgainstFallback(t, g, examples[1:])
}

func TestNewRejectsUsedSelf(t *testing.T) {
	g := graph.New()
	self := g.SelfInput("self")
	x := g.Input("x", dtype.Float32, []int64{2})
	g.SetOutputs(g.Apply("forward", []*graph.Value{self, x}, nil))
	_, err := kernel.New(g)
	if _, ok := err.(*graph.UnsupportedError); !ok {
		t.Errorf("got %T (%v), want *graph.UnsupportedError", err, err)
	}
}

func TestCustomLowering(t *testing.T) {
	build := func() *graph.Graph {
		g := graph.New()
		x := g.Input("x", dtype.Float32, []int64{8})
		g.SetOutputs(g.Apply("square", []*graph.Value{x}, nil))
		return g
	}
	if _, err := kernel.New(build()); err == nil {
		t.Fatalf("no error compiling an unknown operator without a custom lowering")
	} else if _, ok := err.(*graph.UnsupportedError); !ok {
		t.Fatalf("got %T (%v), want *graph.UnsupportedError", err, err)
	}

	square := func(ins []ir.BufHandle, outDims []int64, outDtype ir.Dtype) (*ir.Tensor, error) {
		dims := make([]ir.DimArg, len(outDims))
		for i, d := range outDims {
			dims[i] = ir.Dim(ir.Int(d), "i")
		}
		return ir.Compute("square", dims, func(indices []ir.ExprHandle) ir.ExprHandle {
			x := ins[0].Load(indices...)
			return x.Mul(x)
		})
	}
	k, err := kernel.New(build(), kernel.WithCustomLowering("square", square))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	in, err := tensor.FromSlice([]float32{0, 1, 2, 3, -1, -2, 0.5, 8}, 8)
	if err != nil {
		t.Fatal(err)
	}
	outs, err := k.Run([]*tensor.Tensor{in})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := tensor.Data[float32](outs[0])
	for i, x := range tensor.Data[float32](in) {
		if want := x * x; got[i] != want {
			t.Errorf("square(%v) = %v, want %v", x, got[i], want)
		}
	}
}

func TestRunCompiledBackend(t *testing.T) {
	g := graph.New()
	a := g.Input("a", dtype.Float32, []int64{3, 3})
	b := g.Input("b", dtype.Float32, []int64{3, 3})
	div := g.Apply("div", []*graph.Value{a, b}, nil)
	g.SetOutputs(g.Apply("nan_to_num", []*graph.Value{div}, nil))

	inputs := []*tensor.Tensor{
		tensor.Rand(dtype.Float32, 3, 3),
		tensor.Rand(dtype.Float32, 3, 3),
	}
	checkAgainstFallback(t, g, inputs, kernel.WithBackend(codegen.Compiled))
}

func TestRunVectorized(t *testing.T) {
	g := graph.New()
	a := g.Input("a", dtype.Float32, []int64{5, 37})
	b := g.Input("b", dtype.Float32, []int64{5, 37})
	g.SetOutputs(g.Apply("mul", []*graph.Value{a, b}, nil))

	inputs := []*tensor.Tensor{
		tensor.Rand(dtype.Float32, 5, 37),
		tensor.Rand(dtype.Float32, 5, 37),
	}
	for _, backend := range []string{codegen.Interpreter, codegen.Compiled} {
		t.Run(backend, func(t *testing.T) {
			checkAgainstFallback(t, g, inputs, kernel.WithBackend(backend), kernel.WithVectorize())
		})
	}
}

func TestRunArityMismatch(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, []int64{2})
	g.SetOutputs(g.Apply("nan_to_num", []*graph.Value{x}, nil))
	k, err := kernel.New(g)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := k.Run(nil); err == nil {
		t.Errorf("no error running with no inputs")
	}
}

func init() {
	neg := func(out *tensor.Tensor, ins []*tensor.Tensor, args []int64) error {
		values := tensor.Data[float32](ins[0].Contiguous())
		result := tensor.Data[float32](out)
		for i, v := range values {
			result[i] = -v
		}
		return nil
	}
	if err := tensor.Register("neg", neg); err != nil {
		panic(err)
	}
}

func TestRunAnnotatedExternalOp(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, []int64{4})
	out := g.Apply("neg", []*graph.Value{x}, nil)
	out.Dims = []int64{4}
	g.SetOutputs(out)
	checkAgainstFallback(t, g, []*tensor.Tensor{tensor.Rand(dtype.Float32, 4)})
}

func TestRunPassthroughOutput(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, []int64{2, 3})
	y := g.Input("y", dtype.Float32, []int64{2, 3})
	sum := g.Apply("add", []*graph.Value{x, y}, nil)
	g.SetOutputs(sum, x)

	inputs := []*tensor.Tensor{
		tensor.Rand(dtype.Float32, 2, 3),
		tensor.Rand(dtype.Float32, 2, 3),
	}
	checkAgainstFallback(t, g, inputs)
}

func TestRunDuplicateOutputs(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, []int64{5})
	y := g.Input("y", dtype.Float32, []int64{5})
	sum := g.Apply("add", []*graph.Value{x, y}, nil)
	g.SetOutputs(sum, sum)

	inputs := []*tensor.Tensor{
		tensor.Rand(dtype.Float32, 5),
		tensor.Rand(dtype.Float32, 5),
	}
	checkAgainstFallback(t, g, inputs)
}

func TestRunStridedInput(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, nil)
	y := g.Input("y", dtype.Float32, nil)
	g.SetOutputs(g.Apply("add", []*graph.Value{x, y}, nil))

	base := tensor.Rand(dtype.Float32, 3, 2)
	view, err := base.T()
	if err != nil {
		t.Fatalf("transpose: %v", err)
	}
	inputs := []*tensor.Tensor{view, tensor.Rand(dtype.Float32, 2, 3)}
	if err := graph.AnnotateInputShapes(g, inputs); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	checkAgainstFallback(t, g, inputs)

	k, err := kernel.New(g)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if _, err := k.Run([]*tensor.Tensor{tensor.Rand(dtype.Float32, 2, 3), inputs[1]}); err == nil {
		t.Errorf("no error running with a layout that does not match the annotation")
	}
}

func TestRunStridedMatmul(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, nil)
	y := g.Input("y", dtype.Float32, nil)
	g.SetOutputs(g.Apply("matmul", []*graph.Value{x, y}, nil))

	base := tensor.Rand(dtype.Float32, 4, 2)
	view, err := base.T()
	if err != nil {
		t.Fatalf("transpose: %v", err)
	}
	inputs := []*tensor.Tensor{view, tensor.Rand(dtype.Float32, 4, 3)}
	if err := graph.AnnotateInputShapes(g, inputs); err != nil {
		t.Fatalf("annotate: %v", err)
	}
	checkAgainstFallback(t, g, inputs)
}

func TestRunMultipleOutputs(t *testing.T) {
	g := graph.New()
	x := g.Input("x", dtype.Float32, []int64{2, 3})
	y := g.Input("y", dtype.Float32, []int64{2, 3})
	sum := g.Apply("add", []*graph.Value{x, y}, nil)
	diff := g.Apply("sub", []*graph.Value{x, y}, nil)
	g.SetOutputs(sum, diff)

	inputs := []*tensor.Tensor{
		tensor.Rand(dtype.Float32, 2, 3),
		tensor.Rand(dtype.Float32, 2, 3),
	}
	checkAgainstFallback(t, g, inputs)
}
