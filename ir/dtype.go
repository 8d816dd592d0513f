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
	"github.com/pkg/errors"
	"github.com/gx-org/backend/dtype"
)

// IsFloat returns true for floating point dtypes.
func IsFloat(dt Dtype) bool {
	return dt == dtype.Float32 || dt == dtype.Float64
}

// IsInteger returns true for integer dtypes, signed or unsigned.
func IsInteger(dt Dtype) bool {
	switch dt {
	case dtype.Int32, dtype.Int64, dtype.Uint32, dtype.Uint64:
		return true
	}
	return false
}

// IsSigned returns true for signed integer dtypes.
func IsSigned(dt Dtype) bool {
	return dt == dtype.Int32 || dt == dtype.Int64
}

// width returns the promotion width of a numerical dtype.
func width(dt Dtype) int {
	switch dt {
	case dtype.Int32, dtype.Uint32, dtype.Float32:
		return 32
	case dtype.Int64, dtype.Uint64, dtype.Float64:
		return 64
	}
	return 0
}

// Promote returns the dtype of a binary operation between the two given
// dtypes. Integers widen; floating point dominates integers; mixing
// signed with unsigned integers, or booleans with anything, requires an
// explicit cast.
func Promote(x, y Dtype) (Dtype, error) {
	if x == y {
		return x, nil
	}
	if x == dtype.Bool || y == dtype.Bool {
		return dtype.Invalid, errors.Errorf("cannot promote %s with %s: explicit cast required", x.String(), y.String())
	}
	xFloat, yFloat := IsFloat(x), IsFloat(y)
	switch {
	case xFloat && yFloat:
		if width(x) >= width(y) {
			return x, nil
		}
		return y, nil
	case xFloat:
		return x, nil
	case yFloat:
		return y, nil
	}
	if IsSigned(x) != IsSigned(y) {
		return dtype.Invalid, errors.Errorf("cannot promote %s with %s: explicit cast required between signed and unsigned", x.String(), y.String())
	}
	if width(x) >= width(y) {
		return x, nil
	}
	return y, nil
}
