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

package recordstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"recordstore.dev/gcerrors"
	"recordstore.dev/recordstore/driver"
)

func TestToDriverFilter(t *testing.T) {
	for _, test := range []struct {
		cond    Condition
		want    driver.Filter
		wantErr bool
	}{
		{
			Condition{"a.b", ">", 7},
			driver.Filter{FieldPath: []string{"a", "b"}, Op: ">", Value: 7},
			false,
		},
		{
			Condition{"x", "=", "three"},
			driver.Filter{FieldPath: []string{"x"}, Op: "=", Value: "three"},
			false,
		},
		{
			Condition{"x", "=", true},
			driver.Filter{FieldPath: []string{"x"}, Op: "=", Value: true},
			false,
		},
		{
			Condition{"t", "<=", time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)},
			driver.Filter{FieldPath: []string{"t"}, Op: "<=", Value: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)},
			false,
		},
		// Bad field path.
		{Condition{".a", "=", 1}, driver.Filter{}, true},
		// Bad operator.
		{Condition{"a", "!=", 1}, driver.Filter{}, true},
		// Bad values.
		{Condition{"a", "=", nil}, driver.Filter{}, true},
		{Condition{"a", "=", []int{1}}, driver.Filter{}, true},
		{Condition{"a", "=", map[string]int{"a": 1}}, driver.Filter{}, true},
		{Condition{"a", "=", 1 + 2i}, driver.Filter{}, true},
	} {
		got, err := toDriverFilter(test.cond)
		if test.wantErr {
			if gcerrors.Code(err) != gcerrors.InvalidArgument {
				t.Errorf("%+v: got error %v, want InvalidArgument", test.cond, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%+v: got error %v, want nil", test.cond, err)
			continue
		}
		if !cmp.Equal(got, test.want) {
			t.Errorf("%+v: got %+v, want %+v", test.cond, got, test.want)
		}
	}
}

func TestQueryGroups(t *testing.T) {
	c := newCollection(fakeDriverCollection{})
	q := c.Query().
		Where("a", "=", 1).
		WhereEither(Condition{"b", ">", 2}, Condition{"c", "<", 3}).
		Where("d", "=", 4)
	if q.err != nil {
		t.Fatal(q.err)
	}
	want := []driver.FilterGroup{
		{Op: driver.All, Filters: []driver.Filter{
			{FieldPath: []string{"a"}, Op: "=", Value: 1},
			{FieldPath: []string{"d"}, Op: "=", Value: 4},
		}},
		{Op: driver.Either, Filters: []driver.Filter{
			{FieldPath: []string{"b"}, Op: ">", Value: 2},
			{FieldPath: []string{"c"}, Op: "<", Value: 3},
		}},
	}
	if diff := cmp.Diff(q.dq.Groups, want); diff != "" {
		t.Error(diff)
	}
}

func TestInvalidQuery(t *testing.T) {
	ctx := context.Background()
	c := newCollection(fakeDriverCollection{})

	for _, test := range []struct {
		desc string
		q    *Query
	}{
		{"empty field path", c.Query().Where("", ">", 1)},
		{"invalid field path", c.Query().Where(".a", "=", 1)},
		{"invalid operator", c.Query().Where("a", "~", 1)},
		{"nil value", c.Query().Where("a", "=", nil)},
		{"slice value", c.Query().Where("a", "=", []int{1})},
		{"invalid condition in WhereEither", c.Query().WhereEither(Condition{"a", "=", 1}, Condition{"b", "!", 2})},
		{"zero limit", c.Query().Limit(0)},
		{"negative limit", c.Query().Limit(-1)},
		{"two limits", c.Query().Limit(1).Limit(2)},
		{"zero batch size", c.Query().BatchSize(0)},
		{"empty IDs", c.Query().ByID()},
		{"nil ID", c.Query().ByID("a", nil)},
		{"ByID with Where", c.Query().ByID("a").Where("f", "=", 1)},
		{"ByID with WhereEither", c.Query().ByID("a").WhereEither(Condition{"f", "=", 1})},
		{"empty OrderBy field", c.Query().OrderBy("", Ascending)},
		{"invalid direction", c.Query().OrderBy("a", "down")},
		{"two OrderBys", c.Query().Where("a", ">", 1).OrderBy("a", Ascending).OrderBy("a", Descending)},
		{"OrderBy field not in filter", c.Query().Where("a", ">", 1).OrderBy("b", Ascending)},
		{"bad get field path", c.Query().Where("a", ">", 1)},
	} {
		var iter *RecordIterator
		if test.desc == "bad get field path" {
			iter = test.q.Get(ctx, "a..b")
		} else {
			iter = test.q.Get(ctx)
		}
		err := iter.Next(ctx, map[string]interface{}{})
		if gcerrors.Code(err) != gcerrors.InvalidArgument {
			t.Errorf("%s: got %v, want InvalidArgument", test.desc, err)
		}
		// Repeating the call gives the same error.
		err2 := iter.Next(ctx, map[string]interface{}{})
		if gcerrors.Code(err2) != gcerrors.InvalidArgument {
			t.Errorf("%s: second Next: got %v, want InvalidArgument", test.desc, err2)
		}
	}
}

func TestValidQuery(t *testing.T) {
	ctx := context.Background()
	c := newCollection(fakeDriverCollection{})
	for _, test := range []struct {
		desc string
		q    *Query
	}{
		{"no clauses", c.Query()},
		{"where", c.Query().Where("a", "=", 1)},
		{"where either", c.Query().WhereEither(Condition{"a", "=", 1}, Condition{"a", "=", 2})},
		{"by id", c.Query().ByID("k1", "k2")},
		{"order by filtered field", c.Query().Where("a", ">", 1).OrderBy("a", Descending)},
		{"order by field in either group", c.Query().WhereEither(Condition{"b", "=", 1}).OrderBy("b", Ascending)},
		{"limit and batch size", c.Query().Where("a", "=", 1).Limit(5).BatchSize(10)},
		{"include inactive", c.Query().IncludeInactive()},
	} {
		iter := test.q.Get(ctx)
		if err := iter.Next(ctx, map[string]interface{}{}); err != nil {
			t.Errorf("%s: got %v, want nil", test.desc, err)
		}
	}
}
