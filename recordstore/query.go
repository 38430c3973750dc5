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
	"io"
	"reflect"
	"time"

	"recordstore.dev/internal/gcerr"
	"recordstore.dev/recordstore/driver"
)

// Query represents a query over a collection.
type Query struct {
	coll     *Collection
	dq       *driver.Query
	allGroup int // index in dq.Groups of the implicit conjunction group, or -1
	err      error
}

// Query creates a new Query over the collection.
func (c *Collection) Query() *Query {
	return &Query{coll: c, dq: &driver.Query{}, allGroup: -1}
}

// A Condition is a single comparison of a field path against a value. It is
// used to build the disjunctive branches of WhereEither.
type Condition struct {
	FieldPath FieldPath
	Op        string
	Value     interface{}
}

// Where expresses a condition on the query. All Where conditions must hold for
// a record to be returned.
// Valid ops are: "=", ">", "<", ">=", "<=".
// Valid values are strings, integers, floating-point numbers, and time.Time values.
func (q *Query) Where(fp FieldPath, op string, value interface{}) *Query {
	if q.err != nil {
		return q
	}
	f, err := toDriverFilter(Condition{fp, op, value})
	if err != nil {
		q.err = err
		return q
	}
	if q.allGroup < 0 {
		q.dq.Groups = append(q.dq.Groups, driver.FilterGroup{Op: driver.All})
		q.allGroup = len(q.dq.Groups) - 1
	}
	g := &q.dq.Groups[q.allGroup]
	g.Filters = append(g.Filters, f)
	return q
}

// WhereEither expresses a disjunction: at least one of the conditions must hold
// for a record to be returned. A query can combine WhereEither with Where and
// with further WhereEither calls; the groups are ANDed together.
//
// WhereEither with no conditions does not constrain the query.
func (q *Query) WhereEither(conds ...Condition) *Query {
	if q.err != nil {
		return q
	}
	g := driver.FilterGroup{Op: driver.Either}
	for _, c := range conds {
		f, err := toDriverFilter(c)
		if err != nil {
			q.err = err
			return q
		}
		g.Filters = append(g.Filters, f)
	}
	q.dq.Groups = append(q.dq.Groups, g)
	return q
}

// ByID restricts the query to the records with the given identifiers. The
// records are returned in the order of ids; identifiers that do not refer to a
// record are skipped. ByID cannot be combined with Where or WhereEither.
func (q *Query) ByID(ids ...interface{}) *Query {
	if q.err != nil {
		return q
	}
	if len(ids) == 0 {
		return q.invalidf("ByID: no identifiers")
	}
	for _, id := range ids {
		if id == nil {
			return q.invalidf("ByID: nil identifier")
		}
	}
	q.dq.IDs = append(q.dq.IDs, ids...)
	return q
}

func toDriverFilter(c Condition) (driver.Filter, error) {
	pfp, err := parseFieldPath(c.FieldPath)
	if err != nil {
		return driver.Filter{}, err
	}
	if !validOp[c.Op] {
		return driver.Filter{}, gcerr.Newf(gcerr.InvalidArgument, nil,
			"invalid filter operator: %q. Use one of: =, >, <, >=, <=", c.Op)
	}
	if !validFilterValue(c.Value) {
		return driver.Filter{}, gcerr.Newf(gcerr.InvalidArgument, nil, "invalid filter value: %v", c.Value)
	}
	return driver.Filter{FieldPath: pfp, Op: c.Op, Value: c.Value}, nil
}

var validOp = map[string]bool{
	"=":  true,
	">":  true,
	"<":  true,
	">=": true,
	"<=": true,
}

func validFilterValue(v interface{}) bool {
	if v == nil {
		return false
	}
	if _, ok := v.(time.Time); ok {
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.String:
		return true
	case reflect.Bool:
		return true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	case reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// Limit will limit the results to at most n records.
// n must be positive.
// It is an error to specify Limit more than once in a Get query.
func (q *Query) Limit(n int) *Query {
	if q.err != nil {
		return q
	}
	if n <= 0 {
		return q.invalidf("limit value of %d must be greater than zero", n)
	}
	if q.dq.Limit > 0 {
		return q.invalidf("query can have at most one limit clause")
	}
	q.dq.Limit = n
	return q
}

// BatchSize sets the maximum number of records retrieved from the service in
// one round trip. It does not affect which records the query returns, only how
// many service calls it takes to retrieve them. n must be positive.
func (q *Query) BatchSize(n int) *Query {
	if q.err != nil {
		return q
	}
	if n <= 0 {
		return q.invalidf("batch size of %d must be greater than zero", n)
	}
	q.dq.BatchSize = n
	return q
}

// IncludeInactive makes the query return archived and deleted records as well
// as active ones. By default only active records are returned.
func (q *Query) IncludeInactive() *Query {
	if q.err != nil {
		return q
	}
	q.dq.IncludeInactive = true
	return q
}

// Ascending and Descending are constants for use in the OrderBy method.
const (
	Ascending  = "asc"
	Descending = "desc"
)

// OrderBy specifies that the returned records appear sorted by the given field in
// the given direction. Records without the field sort first regardless of the
// direction.
// A query can have at most one OrderBy clause. If it has none, the order of returned
// records is unspecified.
// If a query has a Where clause and an OrderBy clause, the OrderBy clause's field
// must appear in a Where clause.
func (q *Query) OrderBy(field, direction string) *Query {
	if q.err != nil {
		return q
	}
	if field == "" {
		return q.invalidf("OrderBy: empty field")
	}
	if direction != Ascending && direction != Descending {
		return q.invalidf("OrderBy: direction must be one of %q or %q", Ascending, Descending)
	}
	if q.dq.OrderByField != "" {
		return q.invalidf("a query can have at most one OrderBy")
	}
	q.dq.OrderByField = field
	q.dq.OrderAscending = (direction == Ascending)
	return q
}

// BeforeQuery takes a callback function that will be called before the Query is
// executed to the underlying service's query functionality. The callback takes
// a parameter, asFunc, that converts its argument to driver-specific types.
func (q *Query) BeforeQuery(f func(asFunc func(interface{}) bool) error) *Query {
	q.dq.BeforeQuery = f
	return q
}

// Get returns an iterator for retrieving the records specified by the query. If
// field paths are provided, only those paths are set in the resulting records.
//
// Call Stop on the iterator when finished.
func (q *Query) Get(ctx context.Context, fps ...FieldPath) *RecordIterator {
	return q.get(ctx, true, fps...)
}

// get implements Get, with optional OpenCensus tracing so it can be used internally.
func (q *Query) get(ctx context.Context, oc bool, fps ...FieldPath) *RecordIterator {
	dcoll := q.coll.driver
	if err := q.initGet(fps); err != nil {
		return &RecordIterator{err: wrapError(dcoll, err)}
	}

	var err error
	if oc {
		ctx = q.coll.tracer.Start(ctx, "Query.Get")
		defer func() { q.coll.tracer.End(ctx, err) }()
	}
	it, err := dcoll.RunGetQuery(ctx, q.dq)
	return &RecordIterator{iter: it, coll: q.coll, err: wrapError(dcoll, err)}
}

func (q *Query) initGet(fps []FieldPath) error {
	if q.err != nil {
		return q.err
	}
	if err := q.coll.checkClosed(); err != nil {
		return errClosed
	}
	pfps, err := parseFieldPaths(fps)
	if err != nil {
		return err
	}
	q.dq.FieldPaths = pfps
	if len(q.dq.IDs) > 0 && len(q.dq.Groups) > 0 {
		return gcerr.Newf(gcerr.InvalidArgument, nil, "ByID cannot be combined with Where or WhereEither")
	}
	if q.dq.OrderByField != "" && len(q.dq.Groups) > 0 {
		found := false
		for _, g := range q.dq.Groups {
			for _, f := range g.Filters {
				if driver.FieldPathEqualsField(f.FieldPath, q.dq.OrderByField) {
					found = true
					break
				}
			}
		}
		if !found {
			return gcerr.Newf(gcerr.InvalidArgument, nil, "OrderBy field %s must appear in a Where clause",
				q.dq.OrderByField)
		}
	}
	return nil
}

func (q *Query) invalidf(format string, args ...interface{}) *Query {
	q.err = gcerr.Newf(gcerr.InvalidArgument, nil, format, args...)
	return q
}

// RecordIterator iterates over records.
//
// Always call Stop on the iterator.
type RecordIterator struct {
	iter driver.RecordIterator
	coll *Collection
	err  error // already wrapped
}

// Next stores the next record in dst. It returns io.EOF if there are no more
// records.
// Once Next returns an error, it will always return the same error.
func (it *RecordIterator) Next(ctx context.Context, dst Record) error {
	if it.err != nil {
		return it.err
	}
	if err := it.coll.checkClosed(); err != nil {
		it.err = err
		return it.err
	}
	drec, err := driver.NewRecord(dst)
	if err != nil {
		it.err = wrapError(it.coll.driver, err)
		return it.err
	}
	it.err = wrapError(it.coll.driver, it.iter.Next(ctx, drec))
	return it.err
}

// Stop stops the iterator. Calling Next on a stopped iterator will return io.EOF, or
// the error that Next previously returned.
func (it *RecordIterator) Stop() {
	if it.err != nil {
		return
	}
	it.err = io.EOF
	it.iter.Stop()
}

// As converts i to driver-specific types.
// See the driver package documentation for the specific types supported
// for that driver.
func (it *RecordIterator) As(i interface{}) bool {
	if i == nil || it.iter == nil {
		return false
	}
	return it.iter.As(i)
}

// Plan describes how the query would be executed if its Get method were called with
// the given field paths. Plan uses only information available to the client, so it
// cannot know whether a service uses indexes or scans internally.
func (q *Query) Plan(fps ...FieldPath) (string, error) {
	if err := q.initGet(fps); err != nil {
		return "", err
	}
	return q.coll.driver.QueryPlan(q.dq)
}
