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
	"sync"

	"github.com/pkg/errors"
)

var (
	scopeMu sync.Mutex

	// current is the active scope. All node constructions are attached
	// to it; constructing a node while it is nil is a programming error.
	current *KernelScope
)

// KernelScope owns every IR node constructed while it is active.
//
// Exactly one scope may be active at a time; nesting is disallowed.
// Closing the scope deactivates it: no further nodes can be built and
// handles into the scope must no longer be used. Node memory itself is
// reclaimed by the garbage collector once the last handle is dropped,
// so the scope is the final owner without manual lifetime tracking.
type KernelScope struct {
	numNodes int
	closed   bool
	origin   *Origin
}

// NewScope activates a new kernel scope.
// It returns an error if a scope is already active.
func NewScope() (*KernelScope, error) {
	scopeMu.Lock()
	defer scopeMu.Unlock()
	if current != nil {
		return nil, errors.Errorf("a kernel scope is already active: scopes cannot be nested")
	}
	current = &KernelScope{}
	return current, nil
}

// Close deactivates the scope. Closing an already closed scope is a no-op.
func (s *KernelScope) Close() {
	scopeMu.Lock()
	defer scopeMu.Unlock()
	s.closed = true
	if current == s {
		current = nil
	}
}

// NumNodes returns the number of nodes allocated within the scope.
func (s *KernelScope) NumNodes() int {
	scopeMu.Lock()
	defer scopeMu.Unlock()
	return s.numNodes
}

// SetOrigin attaches a provenance record to every node constructed in
// the scope from this point on, until the next call to SetOrigin.
// A nil origin clears the record.
func (s *KernelScope) SetOrigin(o *Origin) {
	scopeMu.Lock()
	defer scopeMu.Unlock()
	s.origin = o
}

// registerNode accounts for a new node in the active scope.
// The given origin takes precedence over the scope's current origin.
func registerNode(o *Origin) *Origin {
	scopeMu.Lock()
	defer scopeMu.Unlock()
	if current == nil {
		panic(&ConstructError{msg: "no active kernel scope: IR nodes can only be constructed while a KernelScope is active"})
	}
	current.numNodes++
	if o != nil {
		return o
	}
	return current.origin
}

// ConstructError reports malformed IR (rank mismatch, incompatible
// dtypes) or arena misuse (construction outside an active scope).
// It is raised as a panic at the point of construction: such errors are
// programming errors, never deferred and never silently recovered.
type ConstructError struct {
	msg string
}

// Error returns the error message.
func (e *ConstructError) Error() string { return e.msg }

// constructErrorf panics with a construction error.
func constructErrorf(format string, args ...any) {
	panic(&ConstructError{msg: fmt.Sprintf(format, args...)})
}

// Guarded runs f, converting a construction panic into a returned error.
// Other panic values are passed through.
func Guarded(f func() error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ce, ok := r.(*ConstructError)
		if !ok {
			panic(r)
		}
		err = ce
	}()
	return f()
}
