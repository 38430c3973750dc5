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

package driver

import (
	"reflect"

	"recordstore.dev/gcerrors"
	"recordstore.dev/internal/fields"
	"recordstore.dev/internal/gcerr"
)

// A Record is a lightweight wrapper around either a map[string]interface{} or a
// struct pointer. It provides operations to get and set fields and field paths.
type Record struct {
	Origin interface{}            // the argument to NewRecord
	m      map[string]interface{} // nil if it's a *struct
	s      reflect.Value          // the struct reflected
	fields fields.List            // for structs
}

// NewRecord creates a new record from r, which must be a non-nil
// map[string]interface{} or struct pointer.
func NewRecord(r interface{}) (Record, error) {
	if r == nil {
		return Record{}, gcerr.Newf(gcerr.InvalidArgument, nil, "record cannot be nil")
	}
	if m, ok := r.(map[string]interface{}); ok {
		if m == nil {
			return Record{}, gcerr.Newf(gcerr.InvalidArgument, nil, "record map cannot be nil")
		}
		return Record{Origin: r, m: m}, nil
	}
	v := reflect.ValueOf(r)
	t := v.Type()
	if t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return Record{}, gcerr.Newf(gcerr.InvalidArgument, nil, "expecting *struct or map[string]interface{}, got %s", t)
	}
	t = t.Elem()
	if v.IsNil() {
		return Record{}, gcerr.Newf(gcerr.InvalidArgument, nil, "record struct pointer cannot be nil")
	}
	fields, err := fieldCache.Fields(t)
	if err != nil {
		return Record{}, err
	}
	return Record{Origin: r, s: v.Elem(), fields: fields}, nil
}

// GetField returns the value of the named record field.
func (r Record) GetField(field string) (interface{}, error) {
	if r.m != nil {
		x, ok := r.m[field]
		if !ok {
			return nil, gcerr.Newf(gcerr.NotFound, nil, "field %q not found in map", field)
		}
		return x, nil
	}
	v, err := r.structField(field)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// getRecord gets the value of the given field path, which must be a record.
// If create is true, it creates intermediate records as needed.
func (r Record) getRecord(fp []string, create bool) (Record, error) {
	if len(fp) == 0 {
		return r, nil
	}
	x, err := r.GetField(fp[0])
	if err != nil {
		if create && gcerrors.Code(err) == gcerrors.NotFound {
			x = map[string]interface{}{}
			if err := r.SetField(fp[0], x); err != nil {
				return Record{}, err
			}
		} else {
			return Record{}, err
		}
	}
	r2, err := NewRecord(x)
	if err != nil {
		return Record{}, err
	}
	return r2.getRecord(fp[1:], create)
}

// Get returns the value of the given field path in the record.
func (r Record) Get(fp []string) (interface{}, error) {
	r2, err := r.getRecord(fp[:len(fp)-1], false)
	if err != nil {
		return nil, err
	}
	return r2.GetField(fp[len(fp)-1])
}

func (r Record) structField(name string) (reflect.Value, error) {
	// Case-insensitive match, so stores that fold field names can still
	// populate the struct.
	f := r.fields.MatchFold(name)
	if f == nil {
		return reflect.Value{}, gcerr.Newf(gcerr.NotFound, nil, "field %q not found in struct type %s", name, r.s.Type())
	}
	fv, ok := fieldByIndex(r.s, f.Index)
	if !ok {
		return reflect.Value{}, gcerr.Newf(gcerr.InvalidArgument, nil, "nil embedded pointer; cannot get field %q from %s",
			name, r.s.Type())
	}
	return fv, nil
}

// Set sets the value of the field path in the record.
// This creates sub-maps as necessary, if possible.
func (r Record) Set(fp []string, val interface{}) error {
	r2, err := r.getRecord(fp[:len(fp)-1], true)
	if err != nil {
		return err
	}
	return r2.SetField(fp[len(fp)-1], val)
}

// SetField sets the field to value in the record.
func (r Record) SetField(field string, value interface{}) error {
	if r.m != nil {
		r.m[field] = value
		return nil
	}
	v, err := r.structField(field)
	if err != nil {
		return err
	}
	if !v.CanSet() {
		return gcerr.Newf(gcerr.InvalidArgument, nil, "cannot set field %s in struct of type %s: not addressable",
			field, r.s.Type())
	}
	v.Set(reflect.ValueOf(value))
	return nil
}

// FieldNames returns names of the top-level fields of r.
func (r Record) FieldNames() []string {
	var names []string
	if r.m != nil {
		for k := range r.m {
			names = append(names, k)
		}
	} else {
		for _, f := range r.fields {
			names = append(names, f.Name)
		}
	}
	return names
}

// Encode encodes the record using the given Encoder.
func (r Record) Encode(e Encoder) error {
	if r.m != nil {
		return encodeMap(reflect.ValueOf(r.m), e)
	}
	return encodeStructWithFields(r.s, r.fields, e)
}

// Decode decodes the record using the given Decoder.
func (r Record) Decode(dec Decoder) error {
	if r.m != nil {
		return decodeMap(reflect.ValueOf(r.m), dec)
	}
	return decodeStruct(r.s, dec)
}

// HasField returns whether or not r has a certain field.
func (r Record) HasField(field string) bool {
	return r.hasField(field, true)
}

// HasFieldFold is like HasField but matches case-insensitively for struct
// field.
func (r Record) HasFieldFold(field string) bool {
	return r.hasField(field, false)
}

func (r Record) hasField(field string, exactMatch bool) bool {
	if r.m != nil {
		_, ok := r.m[field]
		return ok
	}
	if exactMatch {
		return r.fields.MatchExact(field) != nil
	}
	return r.fields.MatchFold(field) != nil
}
