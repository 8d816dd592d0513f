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

import "fmt"

// ShapeError reports a missing or inconsistent shape annotation.
type ShapeError struct {
	msg string
}

// Shapef returns a shape error.
func Shapef(format string, args ...any) *ShapeError {
	return &ShapeError{msg: fmt.Sprintf(format, args...)}
}

// Error returns the error message.
func (e *ShapeError) Error() string { return e.msg }

// UnsupportedError reports a graph construct the compiler cannot
// lower. Callers fall back to direct operator dispatch when they see
// it.
type UnsupportedError struct {
	msg string
}

// Unsupportedf returns an unsupported construct error.
func Unsupportedf(format string, args ...any) *UnsupportedError {
	return &UnsupportedError{msg: fmt.Sprintf(format, args...)}
}

// Error returns the error message.
func (e *UnsupportedError) Error() string { return e.msg }
