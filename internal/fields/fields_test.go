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

package fields

import (
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

type embed1 struct {
	Em1    int
	Dup    int
	Shadow int
}

type embed2 struct {
	Dup int
}

type S1 struct {
	Exported   int
	unexported int
	Shadow     int
	embed1
	*embed2
}

func fieldNames(l List) []string {
	var names []string
	for _, f := range l {
		names = append(names, f.Name)
	}
	return names
}

func TestFieldsNoTags(t *testing.T) {
	c := NewCache(nil, nil, nil)
	got, err := c.Fields(reflect.TypeOf(S1{}))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Exported", "Shadow", "Em1"}
	if diff := cmp.Diff(want, fieldNames(got), cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("field names mismatch (-want +got):\n%s", diff)
	}
	// Dup appears at the same depth in embed1 and embed2, so it is dropped.
	if f := got.MatchExact("Dup"); f != nil {
		t.Errorf("MatchExact(Dup) = %+v, want nil", f)
	}
	// Shadow at the top level wins over the embedded one.
	if f := got.MatchExact("Shadow"); f == nil || len(f.Index) != 1 {
		t.Errorf("MatchExact(Shadow) = %+v, want top-level field", f)
	}
}

type S2 struct {
	NoTag     int
	Tagged    int `f:"tag"`
	Omitted   int `f:"-"`
	OnlyOpts  int `f:",opt"`
	unexpTag  int `f:"unexp"`
	Tag                       // embedded, tag dominance
	Untaggable int `f:"Dom"` // tag name dominates embedded field name
}

type Tag struct {
	Dom int
}

func parseF(t reflect.StructTag) (string, bool, interface{}, error) {
	name, keep, opts := ParseStandardTag("f", t)
	return name, keep, opts, nil
}

func TestFieldsWithTags(t *testing.T) {
	c := NewCache(parseF, nil, nil)
	got, err := c.Fields(reflect.TypeOf(S2{}))
	if err != nil {
		t.Fatal(err)
	}
	byName := map[string]*Field{}
	for i := range got {
		byName[got[i].Name] = &got[i]
	}
	if _, ok := byName["Omitted"]; ok {
		t.Error(`field with tag "-" was kept`)
	}
	if _, ok := byName["unexp"]; ok {
		t.Error("unexported tagged field was kept")
	}
	if f, ok := byName["tag"]; !ok || !f.NameFromTag {
		t.Errorf("Tagged: got %+v, want tag name", f)
	}
	if f, ok := byName["OnlyOpts"]; !ok {
		t.Error("OnlyOpts missing")
	} else if opts, _ := f.ParsedTag.([]string); len(opts) != 1 || opts[0] != "opt" {
		t.Errorf("OnlyOpts options = %v, want [opt]", opts)
	}
	// The tagged top-level field named Dom dominates the embedded Tag.Dom.
	if f := got.MatchExact("Dom"); f == nil || !f.NameFromTag {
		t.Errorf("MatchExact(Dom) = %+v, want tagged field", f)
	}
}

func TestMatchFold(t *testing.T) {
	c := NewCache(nil, nil, nil)
	got, err := c.Fields(reflect.TypeOf(struct{ PlayerID int }{}))
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"PlayerID", "playerid", "PLAYERID"} {
		if f := got.MatchFold(name); f == nil {
			t.Errorf("MatchFold(%q) = nil, want field", name)
		}
	}
	if f := got.MatchExact("playerid"); f != nil {
		t.Errorf("MatchExact(playerid) = %+v, want nil", f)
	}
}

func TestParseStandardTag(t *testing.T) {
	for _, test := range []struct {
		tag      string
		name     string
		keep     bool
		options  []string
	}{
		{`f:"name"`, "name", true, nil},
		{`f:"name,opt1,opt2"`, "name", true, []string{"opt1", "opt2"}},
		{`f:"-"`, "", false, nil},
		{`f:",omitempty"`, "", true, []string{"omitempty"}},
		{``, "", true, nil},
	} {
		name, keep, options := ParseStandardTag("f", reflect.StructTag(test.tag))
		if name != test.name || keep != test.keep || !cmp.Equal(options, test.options) {
			t.Errorf("ParseStandardTag(%q) = (%q, %t, %v), want (%q, %t, %v)",
				test.tag, name, keep, options, test.name, test.keep, test.options)
		}
	}
}
