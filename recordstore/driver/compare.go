// Copyright 2019 The RecordStore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Useful comparison functions.

package driver

import (
	"bytes"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"time"
)

// CompareTimes returns -1, 1 or 0 depending on whether t1 is before, after or
// equal to t2.
func CompareTimes(t1, t2 time.Time) int {
	switch {
	case t1.Before(t2):
		return -1
	case t1.After(t2):
		return 1
	default:
		return 0
	}
}

// CompareNumbers returns -1, 1 or 0 depending on whether n1 is less than,
// greater than or equal to n2. n1 and n2 must be signed integer, unsigned
// integer, or floating-point values, but they need not be the same type.
//
// If both types are integers or both floating-point, CompareNumbers behaves
// like Go comparisons on those types. If one operand is integer and the other
// is floating-point, CompareNumbers correctly compares the mathematical values
// of the numbers, without loss of precision.
func CompareNumbers(n1, n2 interface{}) (int, error) {
	v1, ok := n1.(reflect.Value)
	if !ok {
		v1 = reflect.ValueOf(n1)
	}
	v2, ok := n2.(reflect.Value)
	if !ok {
		v2 = reflect.ValueOf(n2)
	}
	f1, err := toBigFloat(v1)
	if err != nil {
		return 0, err
	}
	f2, err := toBigFloat(v2)
	if err != nil {
		return 0, err
	}
	return f1.Cmp(f2), nil
}

func toBigFloat(x reflect.Value) (*big.Float, error) {
	var f big.Float
	switch x.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f.SetInt64(x.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		f.SetUint64(x.Uint())
	case reflect.Float32, reflect.Float64:
		f.SetFloat64(x.Float())
	default:
		typ := "nil"
		if x.IsValid() {
			typ = fmt.Sprint(x.Type())
		}
		return nil, fmt.Errorf("%v of type %s is not a number", x, typ)
	}
	return &f, nil
}

// Compare returns -1, 1 or 0 depending on whether v1 is less than, greater
// than or equal to v2, under a total order covering nil, numbers, strings,
// booleans, byte slices and times. nil orders before every non-nil value, and
// two nils are equal; callers that sort descending must apply the direction
// only to the non-nil outcome so that absent values stay first.
//
// Values of kinds outside the order, or two values of incomparable kinds,
// result in an error.
func Compare(v1, v2 interface{}) (int, error) {
	if v1 == nil && v2 == nil {
		return 0, nil
	}
	if v1 == nil {
		return -1, nil
	}
	if v2 == nil {
		return 1, nil
	}
	if t1, ok := v1.(time.Time); ok {
		t2, ok := v2.(time.Time)
		if !ok {
			return 0, fmt.Errorf("cannot compare %v with time %v", v2, t1)
		}
		return CompareTimes(t1, t2), nil
	}
	if b1, ok := v1.([]byte); ok {
		b2, ok := v2.([]byte)
		if !ok {
			return 0, fmt.Errorf("cannot compare %v with bytes %q", v2, b1)
		}
		return bytes.Compare(b1, b2), nil
	}
	r1 := reflect.ValueOf(v1)
	r2 := reflect.ValueOf(v2)
	if isNumeric(r1.Kind()) && isNumeric(r2.Kind()) {
		return CompareNumbers(r1, r2)
	}
	if r1.Kind() != r2.Kind() {
		return 0, fmt.Errorf("cannot compare %s with %s", r1.Type(), r2.Type())
	}
	switch r1.Kind() {
	case reflect.String:
		return strings.Compare(r1.String(), r2.String()), nil
	case reflect.Bool:
		b1, b2 := r1.Bool(), r2.Bool()
		switch {
		case b1 == b2:
			return 0, nil
		case b2:
			return -1, nil
		default:
			return 1, nil
		}
	default:
		return 0, fmt.Errorf("cannot compare values of kind %s", r1.Kind())
	}
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
