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

package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// String representation of the literal.
func (e *IntImm) String() string { return strconv.FormatInt(e.value, 10) }

// String representation of the literal.
func (e *FloatImm) String() string {
	s := strconv.FormatFloat(e.value, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// String representation of the literal.
func (e *BoolImm) String() string { return strconv.FormatBool(e.value) }

// String representation of the variable.
func (e *Var) String() string { return e.name }

func indexList(indices []Expr) string {
	strs := make([]string, len(indices))
	for i, index := range indices {
		strs[i] = index.String()
	}
	return strings.Join(strs, ", ")
}

// String representation of the load.
func (e *Load) String() string {
	return fmt.Sprintf("%s[%s]", e.buf.name, indexList(e.indices))
}

// String representation of the operation.
func (e *Binary) String() string {
	switch e.op {
	case Max, Min:
		return fmt.Sprintf("%s(%s, %s)", e.op.String(), e.x.String(), e.y.String())
	}
	return fmt.Sprintf("(%s %s %s)", e.x.String(), e.op.String(), e.y.String())
}

// String representation of the select.
func (e *CompareSelect) String() string {
	return fmt.Sprintf("((%s %s %s) ? %s : %s)", e.x.String(), e.op.String(), e.y.String(), e.ifTrue.String(), e.ifFalse.String())
}

// String representation of the select.
func (e *IfThenElse) String() string {
	return fmt.Sprintf("(%s ? %s : %s)", e.cond.String(), e.ifTrue.String(), e.ifFalse.String())
}

// String representation of the cast.
func (e *Cast) String() string {
	return fmt.Sprintf("%s(%s)", e.typ.String(), e.x.String())
}

// String representation of the test.
func (e *IsNaN) String() string {
	return fmt.Sprintf("isnan(%s)", e.x.String())
}

type printer struct {
	sb     strings.Builder
	indent int
}

func (p *printer) line(format string, args ...any) {
	p.sb.WriteString(strings.Repeat("  ", p.indent))
	fmt.Fprintf(&p.sb, format, args...)
	p.sb.WriteString("\n")
}

func (p *printer) stmt(s Stmt) {
	switch n := s.(type) {
	case *For:
		header := fmt.Sprintf("for (%s = %s; %s < %s; %s++)", n.v.name, n.start.String(), n.v.name, n.stop.String(), n.v.name)
		if n.vectorWidth > 0 {
			header += fmt.Sprintf(" /* vectorize x%d */", n.vectorWidth)
		}
		p.line("%s {", header)
		p.indent++
		p.stmt(n.body)
		p.indent--
		p.line("}")
	case *Block:
		for _, st := range n.stmts {
			p.stmt(st)
		}
	case *Store:
		p.line("%s[%s] = %s;", n.buf.name, indexList(n.indices), n.value.String())
	case *Let:
		p.line("let %s = %s;", n.v.name, n.value.String())
	case *ExternalCall:
		ins := make([]string, len(n.ins))
		for i, in := range n.ins {
			ins[i] = in.name
		}
		call := fmt.Sprintf("%s = %s(%s", n.out.name, n.funcName, strings.Join(ins, ", "))
		if len(n.args) > 0 {
			call += "; " + indexList(n.args)
		}
		p.line("%s);", call)
	case *Alloc:
		p.line("alloc(%s[%s]);", n.buf.name, indexList(n.buf.dims))
	case *Free:
		p.line("free(%s);", n.buf.name)
	default:
		p.line("<unknown stmt>")
	}
}

func stmtString(s Stmt) string {
	p := &printer{}
	p.stmt(s)
	return p.sb.String()
}

// String representation of the loop.
func (s *For) String() string { return stmtString(s) }

// String representation of the block.
func (s *Block) String() string { return stmtString(s) }

// String representation of the store.
func (s *Store) String() string { return stmtString(s) }

// String representation of the binding.
func (s *Let) String() string { return stmtString(s) }

// String representation of the call.
func (s *ExternalCall) String() string { return stmtString(s) }

// String representation of the allocation.
func (s *Alloc) String() string { return stmtString(s) }

// String representation of the release.
func (s *Free) String() string { return stmtString(s) }
