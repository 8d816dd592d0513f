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

// Package ir is the tensor expression Intermediate Representation (IR).
//
// The IR has two families of nodes: expressions, which are typed scalar
// computations (literals, variables, buffer loads, arithmetic, selects,
// casts), and statements, which structure those computations into loop
// nests (loops, blocks, stores, let bindings, external calls).
//
// Expressions are trees, not DAGs: every node owns its operands and no
// node appears twice in a tree. Nodes are immutable once constructed;
// transformations build new trees instead of mutating existing ones.
//
// Every node is allocated within an active [KernelScope]. Constructing a
// node without an active scope is a programming error and panics with a
// [*ConstructError], as does constructing malformed IR (rank mismatch,
// incompatible dtypes).
package ir

import "github.com/gx-org/backend/dtype"

// Dtype is the scalar type attached to every expression and buffer.
type Dtype = dtype.DataType

type (
	// Node in the tree.
	Node interface {
		// node marks a structure as a node structure.
		// It prevents external implementations of the interface.
		node()

		// Origin returns the provenance of the node. May be nil.
		Origin() *Origin
	}

	// Expr is a typed expression node.
	Expr interface {
		Node

		// DType of the value computed by the expression.
		DType() Dtype

		// String representation of the expression.
		String() string
	}

	// Stmt is a statement node.
	Stmt interface {
		Node

		// String representation of the statement.
		String() string
	}
)

// Origin records where a node comes from, typically the graph operator
// it was lowered from. Provenance is carried through every rewrite and
// has no effect on semantics.
type Origin struct {
	// Op is the name of the originating graph operator.
	Op string

	// SourceRange locates the operator in the captured program, if known.
	SourceRange string
}

func (o *Origin) String() string {
	if o == nil {
		return "<unknown>"
	}
	if o.SourceRange == "" {
		return o.Op
	}
	return o.Op + "@" + o.SourceRange
}

// meta is the state shared by all nodes.
type meta struct {
	origin *Origin
}

func (m meta) node() {}

// Origin returns the provenance of the node. May be nil.
func (m meta) Origin() *Origin { return m.origin }

// newMeta checks that a scope is active, accounts for the new node and
// attaches the scope's current origin.
func newMeta() meta {
	return meta{origin: registerNode(nil)}
}

// cloneMeta accounts for a new node built by a rewrite, keeping the
// provenance of the node it replaces.
func cloneMeta(of Node) meta {
	return meta{origin: registerNode(of.Origin())}
}
