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

// Package fields provides a view of the fields of a struct type that follows
// the Go visibility and field-dominance rules used by encoding/json, with
// support for struct tags and a per-type cache.
package fields

import (
	"reflect"
	"sort"
	"strings"
	"sync"
)

// A Field records information about a single struct field.
type Field struct {
	Name        string       // effective field name
	NameFromTag bool         // did Name come from a tag?
	Type        reflect.Type // field type
	Index       []int        // index sequence, for reflect.Value.FieldByIndex
	ParsedTag   interface{}  // third return value of the parseTag function

	nameBytes []byte
	equalFold func(s, t []byte) bool
}

// A ParseTagFunc is a function that accepts a struct tag and returns the
// properties of the tag: the tag's name, whether to keep the field, and
// additional parsed properties.
type ParseTagFunc func(reflect.StructTag) (name string, keep bool, other interface{}, err error)

// A ValidateFunc is a function that accepts a reflect.Type and returns an
// error if the struct type is invalid in any way.
type ValidateFunc func(reflect.Type) error

// A LeafTypesFunc is a function that accepts a reflect.Type and returns true
// if the struct type is a leaf, that is, if its fields should not be
// considered when enumerating the fields of an enclosing struct.
type LeafTypesFunc func(reflect.Type) bool

// A Cache records information about the fields of struct types.
//
// A Cache is safe for use by multiple goroutines.
type Cache struct {
	parseTag  ParseTagFunc
	validate  ValidateFunc
	leafTypes LeafTypesFunc
	cache     sync.Map // from reflect.Type to cacheValue
}

type cacheValue struct {
	fields List
	err    error
}

// NewCache constructs a Cache.
//
// Its first argument should be a function that accepts a struct tag and
// returns four values: an alternative name for the field extracted from the
// tag, a boolean saying whether to keep the field or ignore it, additional
// data that is stored with the field information to avoid having to parse the
// tag again, and an error.
//
// The second argument should be a function that reports whether a type is
// valid; it may be nil. The third argument should be a function that reports
// whether a type's fields should not be enumerated; it may also be nil.
func NewCache(parseTag ParseTagFunc, validate ValidateFunc, leafTypes LeafTypesFunc) *Cache {
	if parseTag == nil {
		parseTag = func(reflect.StructTag) (string, bool, interface{}, error) {
			return "", true, nil, nil
		}
	}
	if validate == nil {
		validate = func(reflect.Type) error { return nil }
	}
	if leafTypes == nil {
		leafTypes = func(reflect.Type) bool { return false }
	}
	return &Cache{
		parseTag:  parseTag,
		validate:  validate,
		leafTypes: leafTypes,
	}
}

// A List is a list of Fields.
type List []Field

// MatchExact returns the field in the list whose name exactly matches the
// given name, or nil if there is no such field.
func (l List) MatchExact(name string) *Field {
	return l.MatchBytes([]byte(name), true)
}

// MatchFold returns the field in the list with the best fold (case-insensitive)
// match for name, or nil if there is none. An exact match always wins over a
// fold match.
func (l List) MatchFold(name string) *Field {
	return l.MatchBytes([]byte(name), false)
}

// MatchBytes is identical to MatchExact or MatchFold, depending on exact,
// except that the argument is a []byte.
func (l List) MatchBytes(name []byte, exact bool) *Field {
	var f *Field
	for i := range l {
		ff := &l[i]
		if string(ff.nameBytes) == string(name) {
			return ff
		}
		if !exact && f == nil && ff.equalFold(ff.nameBytes, name) {
			f = ff
		}
	}
	return f
}

// Fields returns all the exported fields of t, which must be a struct type. It
// follows the standard Go rules for embedded fields, modified by the presence
// of tags. The result is sorted lexicographically by index.
//
// These rules apply in the absence of tags:
// Anonymous struct fields are treated as if their inner exported fields were
// fields in the outer struct (embedding). The result has one field for each
// name and a breadth-first depth. If two fields at the same depth have the
// same name, neither is included.
//
// The addition of tags modifies these rules as follows: a field's tag name is
// used as its name. A tagged field always dominates an untagged field with
// the same name, at any depth.
func (c *Cache) Fields(t reflect.Type) (List, error) {
	if t.Kind() != reflect.Struct {
		panic("fields: Fields of non-struct type")
	}
	return c.cachedTypeFields(t)
}

func (c *Cache) cachedTypeFields(t reflect.Type) (List, error) {
	if cv, ok := c.cache.Load(t); ok {
		v := cv.(cacheValue)
		return v.fields, v.err
	}
	fields, err := c.typeFields(t)
	cv, _ := c.cache.LoadOrStore(t, cacheValue{List(fields), err})
	v := cv.(cacheValue)
	return v.fields, v.err
}

func (c *Cache) typeFields(t reflect.Type) ([]Field, error) {
	fields, err := c.listFields(t)
	if err != nil {
		return nil, err
	}
	sort.Sort(byName(fields))

	// Delete all fields that are hidden by the Go rules for embedded fields.
	// The fields are sorted in primary order of name, secondary order of field
	// index length. Loop over names; for each name, delete hidden fields by
	// choosing the one dominant field that survives.
	var out []Field
	for advance, i := 0, 0; i < len(fields); i += advance {
		fi := fields[i]
		name := fi.Name
		for advance = 1; i+advance < len(fields); advance++ {
			fj := fields[i+advance]
			if fj.Name != name {
				break
			}
		}
		if advance == 1 {
			out = append(out, fi)
			continue
		}
		dominant, ok := dominantField(fields[i : i+advance])
		if ok {
			out = append(out, dominant)
		}
	}
	sort.Sort(byIndex(out))
	return out, nil
}

func (c *Cache) listFields(t reflect.Type) ([]Field, error) {
	// This uses the same condition that the Go language does: there must be a
	// unique instance of the match at a given depth level. If there are
	// multiple instances of a match at the same depth, they annihilate each
	// other and inhibit any possible match at a lower level. The algorithm is
	// breadth first search, one depth level at a time.

	// The current and next slices are work queues:
	// current lists the fields to visit on this depth level,
	// and next lists the fields on the next lower level.
	current := []fieldScan{}
	next := []fieldScan{{typ: t}}

	// Keep track of visited types, to avoid infinite recursion.
	visited := map[reflect.Type]bool{}

	var fields []Field
	for len(next) > 0 {
		current, next = next, current[:0]
		for _, scan := range current {
			t := scan.typ
			if visited[t] {
				continue
			}
			visited[t] = true
			if err := c.validate(t); err != nil {
				return nil, err
			}
			for i := 0; i < t.NumField(); i++ {
				f := t.Field(i)
				exported := f.PkgPath == ""

				// If a named field is unexported, ignore it. An anonymous
				// unexported field is processed, because it may contain
				// exported fields, which are visible.
				if !exported && !f.Anonymous {
					continue
				}
				tagName, keep, other, err := c.parseTag(f.Tag)
				if err != nil {
					return nil, err
				}
				if !keep {
					continue
				}
				ft := f.Type
				if ft.Name() == "" && ft.Kind() == reflect.Ptr {
					ft = ft.Elem()
				}
				if tagName != "" || !f.Anonymous || ft.Kind() != reflect.Struct || c.leafTypes(ft) {
					if !exported {
						continue
					}
					name := tagName
					if name == "" {
						name = f.Name
					}
					fields = append(fields, newField(name, tagName != "", f.Type,
						append(append([]int(nil), scan.index...), i), other))
					continue
				}
				// Queue embedded struct fields for processing with next level.
				next = append(next, fieldScan{ft, append(append([]int(nil), scan.index...), i)})
			}
		}
	}
	return fields, nil
}

// A fieldScan represents an item on the fieldByNameFunc scan work list.
type fieldScan struct {
	typ   reflect.Type
	index []int
}

func newField(name string, nameFromTag bool, typ reflect.Type, index []int, parsedTag interface{}) Field {
	nameBytes := []byte(name)
	return Field{
		Name:        name,
		NameFromTag: nameFromTag,
		Type:        typ,
		Index:       index,
		ParsedTag:   parsedTag,
		nameBytes:   nameBytes,
		equalFold:   foldFunc(nameBytes),
	}
}

// dominantField looks through the fields, all of which are known to have the
// same name, to find the single field that dominates the others using Go's
// embedding rules, modified by the presence of tags. If there are multiple
// top-level fields, the are no dominant field: This condition is an error in
// Go and we skip all the fields.
func dominantField(fs []Field) (Field, bool) {
	// The fields are sorted in increasing index-length order, then by
	// presence of tag. That means that the first field is the dominant one.
	// We need only check for error cases: two fields at top level, either
	// both tagged or neither tagged.
	if len(fs) > 1 && len(fs[0].Index) == len(fs[1].Index) && fs[0].NameFromTag == fs[1].NameFromTag {
		return Field{}, false
	}
	return fs[0], true
}

// byName sorts fields using the following criteria, in order:
// 1. name
// 2. embedding depth
// 3. tag presence (preferring a tagged field)
// 4. index sequence.
type byName []Field

func (x byName) Len() int { return len(x) }

func (x byName) Swap(i, j int) { x[i], x[j] = x[j], x[i] }

func (x byName) Less(i, j int) bool {
	if x[i].Name != x[j].Name {
		return x[i].Name < x[j].Name
	}
	if len(x[i].Index) != len(x[j].Index) {
		return len(x[i].Index) < len(x[j].Index)
	}
	if x[i].NameFromTag != x[j].NameFromTag {
		return x[i].NameFromTag
	}
	return byIndex(x).Less(i, j)
}

// byIndex sorts fields by index sequence.
type byIndex []Field

func (x byIndex) Len() int { return len(x) }

func (x byIndex) Swap(i, j int) { x[i], x[j] = x[j], x[i] }

func (x byIndex) Less(i, j int) bool {
	xi, xj := x[i].Index, x[j].Index
	ln := len(xi)
	if l := len(xj); l < ln {
		ln = l
	}
	for k := 0; k < ln; k++ {
		if xi[k] != xj[k] {
			return xi[k] < xj[k]
		}
	}
	return len(xi) < len(xj)
}

// ParseStandardTag extracts the sub-tag named by key, then parses it using the
// de facto standard format introduced in encoding/json:
//
//	"-" means "ignore this tag", unless followed by options.
//	"<name>" provides an alternative name for the field
//	"<name>,opt1,opt2,..." specifies options after the name.
//
// The options are returned as a []string.
func ParseStandardTag(key string, t reflect.StructTag) (name string, keep bool, options []string) {
	s := t.Get(key)
	parts := strings.Split(s, ",")
	if parts[0] == "-" && len(parts) == 1 {
		return "", false, nil
	}
	if len(parts) > 1 {
		options = parts[1:]
	}
	return parts[0], true, options
}
