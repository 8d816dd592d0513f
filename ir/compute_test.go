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

package ir_test

import (
	"strings"
	"testing"

	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorexpr/ir"
)

func TestComputeBuildsOneLoopPerDimension(t *testing.T) {
	newScope(t)
	a := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{ir.Int(3), ir.Int(4)})
	c, err := ir.Compute("C", []ir.DimArg{
		ir.Dim(ir.Int(3), "i"),
		ir.Dim(ir.Int(4), "j"),
	}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices...).Mul(ir.Float(2))
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got := c.Buf().DType(); got != dtype.Float32 {
		t.Errorf("output dtype is %s but want %s", got.String(), dtype.Float32.String())
	}
	if got := c.Buf().Rank(); got != 2 {
		t.Errorf("output rank is %d but want 2", got)
	}
	printed := c.Stmt().String()
	for _, want := range []string{"for (i", "for (j", "C[i, j] ="} {
		if !strings.Contains(printed, want) {
			t.Errorf("statement %q does not contain %q", printed, want)
		}
	}
	outer, ok := c.Stmt().(*ir.For)
	if !ok {
		t.Fatalf("root statement is %T, want *ir.For", c.Stmt())
	}
	if _, ok := outer.Body().(*ir.For); !ok {
		t.Errorf("loop body is %T, want the inner *ir.For", outer.Body())
	}
}

func TestComputeSymbolicExtent(t *testing.T) {
	newScope(t)
	n := ir.NewVar("n", dtype.Int64)
	a := ir.NewPlaceholder("A", dtype.Float64, []ir.ExprHandle{n.Handle()})
	c, err := ir.Compute("C", []ir.DimArg{ir.Dim(n.Handle(), "i")}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices...)
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	outer, ok := c.Stmt().(*ir.For)
	if !ok {
		t.Fatalf("root statement is %T, want *ir.For", c.Stmt())
	}
	if got := outer.Stop().String(); !strings.Contains(got, "n") {
		t.Errorf("loop bound %q does not reference the symbolic extent", got)
	}
}

func TestComputeAtChoosesOutputIndices(t *testing.T) {
	newScope(t)
	a := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{ir.Int(3), ir.Int(4)})
	out := ir.NewBuf("T", []ir.ExprHandle{ir.Int(4), ir.Int(3)}, dtype.Float32)
	c, err := ir.ComputeAt(out, []ir.DimArg{
		ir.Dim(ir.Int(4), "i"),
		ir.Dim(ir.Int(3), "j"),
	}, func(indices []ir.ExprHandle) []ir.ExprHandle {
		return indices
	}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return a.Load(indices[1], indices[0])
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if !strings.Contains(c.Stmt().String(), "A[j, i]") {
		t.Errorf("statement %q does not transpose the load indices", c.Stmt().String())
	}
}

func TestComputeAtDtypeMismatch(t *testing.T) {
	newScope(t)
	out := ir.NewBuf("C", []ir.ExprHandle{ir.Int(4)}, dtype.Float32)
	_, err := ir.ComputeAt(out, []ir.DimArg{ir.Dim(ir.Int(4), "i")}, func(indices []ir.ExprHandle) []ir.ExprHandle {
		return indices
	}, func(indices []ir.ExprHandle) ir.ExprHandle {
		return ir.Int(1)
	})
	if err == nil {
		t.Errorf("no error for a body dtype incompatible with the output buffer")
	}
}

func TestGuardedConvertsPanics(t *testing.T) {
	newScope(t)
	err := ir.Guarded(func() error {
		ir.Bool(true).Add(ir.Int(1))
		return nil
	})
	if err == nil {
		t.Errorf("no error from a guarded construction failure")
	}
}
