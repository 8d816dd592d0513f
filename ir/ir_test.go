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

func newScope(t *testing.T) *ir.KernelScope {
	t.Helper()
	scope, err := ir.NewScope()
	if err != nil {
		t.Fatalf("cannot create scope: %v", err)
	}
	t.Cleanup(scope.Close)
	return scope
}

// wantConstructPanic runs f and checks that it panics with a
// construction error.
func wantConstructPanic(t *testing.T, what string, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Errorf("%s: no construction panic", what)
			return
		}
		if _, ok := r.(*ir.ConstructError); !ok {
			t.Errorf("%s: panicked with %T, want *ir.ConstructError", what, r)
		}
	}()
	f()
}

func TestNoActiveScope(t *testing.T) {
	wantConstructPanic(t, "variable outside scope", func() {
		ir.NewVar("n", dtype.Int32)
	})
	wantConstructPanic(t, "literal outside scope", func() {
		ir.Int(42)
	})
}

func TestScopeNesting(t *testing.T) {
	newScope(t)
	if _, err := ir.NewScope(); err == nil {
		t.Errorf("nested scope creation returned no error")
	}
}

func TestScopeCloseThenReopen(t *testing.T) {
	scope, err := ir.NewScope()
	if err != nil {
		t.Fatalf("cannot create scope: %v", err)
	}
	scope.Close()
	scope2, err := ir.NewScope()
	if err != nil {
		t.Fatalf("cannot create a scope after closing the previous one: %v", err)
	}
	scope2.Close()
}

func TestScopeCountsNodes(t *testing.T) {
	scope := newScope(t)
	ir.Int(1).Add(ir.Int(2))
	if scope.NumNodes() < 3 {
		t.Errorf("scope has %d nodes, want at least 3", scope.NumNodes())
	}
}

func TestPromote(t *testing.T) {
	tests := []struct {
		x, y    ir.Dtype
		want    ir.Dtype
		wantErr bool
	}{
		{x: dtype.Float32, y: dtype.Float32, want: dtype.Float32},
		{x: dtype.Float32, y: dtype.Float64, want: dtype.Float64},
		{x: dtype.Int32, y: dtype.Int64, want: dtype.Int64},
		{x: dtype.Int64, y: dtype.Float32, want: dtype.Float32},
		{x: dtype.Uint32, y: dtype.Uint64, want: dtype.Uint64},
		{x: dtype.Bool, y: dtype.Float32, wantErr: true},
		{x: dtype.Int32, y: dtype.Uint32, wantErr: true},
	}
	for _, test := range tests {
		got, err := ir.Promote(test.x, test.y)
		if test.wantErr {
			if err == nil {
				t.Errorf("Promote(%s, %s): no error", test.x.String(), test.y.String())
			}
			continue
		}
		if err != nil {
			t.Errorf("Promote(%s, %s): %v", test.x.String(), test.y.String(), err)
			continue
		}
		if got != test.want {
			t.Errorf("Promote(%s, %s) = %s but want %s", test.x.String(), test.y.String(), got.String(), test.want.String())
		}
	}
}

func TestBinaryPromotionInsertsCast(t *testing.T) {
	newScope(t)
	x := ir.Float(1).Cast(dtype.Float64)
	y := ir.Int(2)
	sum := x.Add(y)
	if got := sum.DType(); got != dtype.Float64 {
		t.Errorf("sum dtype is %s but want %s", got.String(), dtype.Float64.String())
	}
	if !strings.Contains(sum.String(), dtype.Float64.String()) {
		t.Errorf("expected a cast in %q", sum.String())
	}
}

func TestBoolArithmeticPanics(t *testing.T) {
	newScope(t)
	wantConstructPanic(t, "bool + float", func() {
		ir.Bool(true).Add(ir.Float(1))
	})
}

func TestLoadRankMismatch(t *testing.T) {
	newScope(t)
	buf := ir.NewBuf("A", []ir.ExprHandle{ir.Int(4), ir.Int(4)}, dtype.Float32)
	wantConstructPanic(t, "load with wrong rank", func() {
		buf.Load(ir.Int(0))
	})
}

func TestLoadIndexDtype(t *testing.T) {
	newScope(t)
	buf := ir.NewBuf("A", []ir.ExprHandle{ir.Int(4)}, dtype.Float32)
	wantConstructPanic(t, "load with float index", func() {
		buf.Load(ir.Float(0))
	})
}

func TestStoreDtypeMismatch(t *testing.T) {
	newScope(t)
	buf := ir.NewBuf("A", []ir.ExprHandle{ir.Int(4)}, dtype.Float32)
	wantConstructPanic(t, "store with mismatched dtype", func() {
		ir.NewStore(buf, []ir.ExprHandle{ir.Int(0)}, ir.Int(1))
	})
}

func TestVarIdentityNotName(t *testing.T) {
	newScope(t)
	x := ir.NewVar("i", dtype.Int64)
	y := ir.NewVar("i", dtype.Int64)
	if x.Node() == y.Node() {
		t.Errorf("two variables with the same name share a node")
	}
	if !ir.Equal(x.Handle().Node(), x.Handle().Node()) {
		t.Errorf("a variable is not equal to itself")
	}
	if ir.Equal(x.Handle().Node(), y.Handle().Node()) {
		t.Errorf("two distinct variables compare equal")
	}
}

func TestIfThenElseRequiresBool(t *testing.T) {
	newScope(t)
	wantConstructPanic(t, "non-boolean condition", func() {
		ir.IfThenElseExpr(ir.Int(1), ir.Float(1), ir.Float(2))
	})
}

func TestPlaceholderRowMajorStrides(t *testing.T) {
	newScope(t)
	p := ir.NewPlaceholder("A", dtype.Float32, []ir.ExprHandle{ir.Int(3), ir.Int(4)})
	strides := p.Node().Strides()
	if len(strides) != 2 {
		t.Fatalf("got %d strides, want 2", len(strides))
	}
	inner, ok := strides[1].(*ir.IntImm)
	if !ok || inner.Value() != 1 {
		t.Errorf("innermost stride is %s, want 1", strides[1].String())
	}
}

func TestRewritePreservesOrigin(t *testing.T) {
	scope := newScope(t)
	origin := &ir.Origin{Op: "add", SourceRange: "model.py:12"}
	scope.SetOrigin(origin)
	sum := ir.Int(1).Add(ir.Int(2))
	scope.SetOrigin(nil)

	rewritten := ir.RewriteExpr(sum.Node(), func(e ir.Expr) ir.Expr {
		imm, ok := e.(*ir.IntImm)
		if !ok || imm.Value() != 2 {
			return e
		}
		return ir.Int(3).Node()
	})
	if ir.Equal(rewritten, sum.Node()) {
		t.Fatalf("rewrite returned an identical tree")
	}
	if got := rewritten.Origin(); got != origin {
		t.Errorf("rewritten node has origin %s but want %s", got.String(), origin.String())
	}
}
