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

package gcpdatastore

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"recordstore.dev/internal/gcerr"
	"recordstore.dev/recordstore/driver"
)

func (c *collection) RunGetQuery(ctx context.Context, q *driver.Query) (driver.RecordIterator, error) {
	if len(q.IDs) > 0 {
		return c.runLookupQuery(ctx, q)
	}
	plan, err := c.planQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	return &queryIterator{c: c, q: q, plan: plan}, nil
}

// queryPlan is the translation of one driver.Query into native Datastore
// queries: one per disjunctive clause of the predicate's disjunctive normal
// form, plus whether records must be re-checked locally after decoding.
type queryPlan struct {
	ns        string
	clauses   []*clauseQuery
	localEval bool // records must pass the full predicate locally
	keysOnly  bool
}

type clauseQuery struct {
	pq          *pb.Query
	nativeLimit int // pushed-down limit, 0 for none
}

func (c *collection) planQuery(ctx context.Context, q *driver.Query) (*queryPlan, error) {
	ns := c.namespace(ctx)
	clauses := expandGroups(q.Groups)
	plan := &queryPlan{ns: ns}
	for _, cl := range clauses {
		native, local := splitFilters(cl)
		if len(local) > 0 {
			plan.localEval = true
		}
		if q.OrderByField != "" {
			if ineq := inequalityProperty(native); ineq != "" && ineq != q.OrderByField {
				return nil, gcerr.Newf(gcerr.InvalidArgument, nil,
					"OrderBy field %q must match the inequality filter field %q", q.OrderByField, ineq)
			}
		}
		pq, err := c.queryToProto(native, q, ns)
		if err != nil {
			return nil, err
		}
		plan.clauses = append(plan.clauses, &clauseQuery{pq: pq})
	}
	if plan.localEval && !c.opts.AllowLocalFilters {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil,
			"query requires local filters; set Options.AllowLocalFilters to true to enable")
	}
	// Lifecycle filtering happens locally, so a record fetched from the
	// service may still be discarded. The native limit can only be pushed
	// down when every fetched record is emitted.
	if q.Limit > 0 && !plan.localEval && q.IncludeInactive {
		for _, cq := range plan.clauses {
			cq.nativeLimit = q.Limit
		}
	}
	// A __key__ projection never returns the lifecycle flags or any other
	// property, so it is only usable when nothing is filtered locally.
	if len(q.FieldPaths) > 0 && !plan.localEval && q.IncludeInactive && c.keyField != "" {
		plan.keysOnly = true
		for _, fp := range q.FieldPaths {
			if !driver.FieldPathEqualsField(fp, c.keyField) {
				plan.keysOnly = false
				break
			}
		}
		if plan.keysOnly {
			proj := []*pb.Projection{{Property: &pb.PropertyReference{Name: "__key__"}}}
			for _, cq := range plan.clauses {
				cq.pq.Projection = proj
			}
		}
	}
	return plan, nil
}

// expandGroups expands the conjunction of filter groups into disjunctive
// normal form: a set of clauses, each a plain conjunction of filters, whose
// disjunction is equivalent to the original predicate. All conjunctive
// groups merge into every clause; each non-empty disjunctive group
// multiplies the clause set by its filters (a full cross-product). Empty
// groups are vacuously true and contribute nothing. With no groups at all
// the result is one empty clause, a plain scan.
func expandGroups(groups []driver.FilterGroup) [][]driver.Filter {
	var all []driver.Filter
	var eithers []driver.FilterGroup
	for _, g := range groups {
		switch g.Op {
		case driver.All:
			all = append(all, g.Filters...)
		case driver.Either:
			if len(g.Filters) > 0 {
				eithers = append(eithers, g)
			}
		default:
			panic(fmt.Sprintf("unknown filter group operator %v", g.Op))
		}
	}
	clauses := [][]driver.Filter{all}
	for _, g := range eithers {
		next := make([][]driver.Filter, 0, len(clauses)*len(g.Filters))
		for _, cl := range clauses {
			for _, f := range g.Filters {
				nc := make([]driver.Filter, len(cl), len(cl)+1)
				copy(nc, cl)
				next = append(next, append(nc, f))
			}
		}
		clauses = next
	}
	return clauses
}

// splitFilters separates a conjunctive clause into the filters we can send
// to the Datastore service and those we must evaluate here on the client.
func splitFilters(fs []driver.Filter) (sendToDatastore, evaluateLocally []driver.Filter) {
	// Enforce that only one property can have an inequality.
	var rangeFP []string
	for _, f := range fs {
		if f.Op == driver.EqualOp {
			sendToDatastore = append(sendToDatastore, f)
		} else {
			if rangeFP == nil || driver.FieldPathsEqual(rangeFP, f.FieldPath) {
				// Multiple inequality filters on the same property are OK.
				rangeFP = f.FieldPath
				sendToDatastore = append(sendToDatastore, f)
			} else {
				evaluateLocally = append(evaluateLocally, f)
			}
		}
	}
	return sendToDatastore, evaluateLocally
}

// inequalityProperty returns the dotted property path of the clause's
// inequality filters, or "" if the clause has none.
func inequalityProperty(fs []driver.Filter) string {
	for _, f := range fs {
		if f.Op != driver.EqualOp {
			return strings.Join(f.FieldPath, ".")
		}
	}
	return ""
}

// queryToProto converts one conjunctive clause into a Datastore query.
func (c *collection) queryToProto(clause []driver.Filter, q *driver.Query, ns string) (*pb.Query, error) {
	pq := &pb.Query{Kind: []*pb.KindExpression{{Name: c.kind}}}
	var pfs []*pb.Filter
	for _, f := range clause {
		pf, err := c.filterToProto(f, ns)
		if err != nil {
			return nil, err
		}
		pfs = append(pfs, pf)
	}
	// Datastore has composite AND only. A single filter is used directly.
	if len(pfs) == 1 {
		pq.Filter = pfs[0]
	} else if len(pfs) > 1 {
		pq.Filter = &pb.Filter{
			FilterType: &pb.Filter_CompositeFilter{CompositeFilter: &pb.CompositeFilter{
				Op:      pb.CompositeFilter_AND,
				Filters: pfs,
			}},
		}
	}
	if q.OrderByField != "" {
		name := q.OrderByField
		if c.keyField != "" && name == c.keyField {
			name = "__key__"
		}
		dir := pb.PropertyOrder_DESCENDING
		if q.OrderAscending {
			dir = pb.PropertyOrder_ASCENDING
		}
		pq.Order = []*pb.PropertyOrder{{
			Property:  &pb.PropertyReference{Name: name},
			Direction: dir,
		}}
	}
	return pq, nil
}

func (c *collection) filterToProto(f driver.Filter, ns string) (*pb.Filter, error) {
	op, err := opToProto(f.Op)
	if err != nil {
		return nil, err
	}
	var name string
	var val *pb.Value
	// Filters on the key field translate to filters on __key__.
	if c.keyField != "" && driver.FieldPathEqualsField(f.FieldPath, c.keyField) {
		k, err := c.newKey(f.Value, ns)
		if err != nil {
			return nil, err
		}
		name = "__key__"
		val = &pb.Value{ValueType: &pb.Value_KeyValue{KeyValue: k}}
	} else {
		name = strings.Join(f.FieldPath, ".")
		val, err = encodeValue(f.Value)
		if err != nil {
			return nil, err
		}
	}
	return &pb.Filter{
		FilterType: &pb.Filter_PropertyFilter{PropertyFilter: &pb.PropertyFilter{
			Property: &pb.PropertyReference{Name: name},
			Op:       op,
			Value:    val,
		}},
	}, nil
}

func opToProto(op string) (pb.PropertyFilter_Operator, error) {
	switch op {
	case driver.EqualOp:
		return pb.PropertyFilter_EQUAL, nil
	case "<":
		return pb.PropertyFilter_LESS_THAN, nil
	case "<=":
		return pb.PropertyFilter_LESS_THAN_OR_EQUAL, nil
	case ">":
		return pb.PropertyFilter_GREATER_THAN, nil
	case ">=":
		return pb.PropertyFilter_GREATER_THAN_OR_EQUAL, nil
	default:
		return 0, gcerr.Newf(gcerr.InvalidArgument, nil, "invalid operator: %q", op)
	}
}

////////////////////////////////////////////////////////////////
// Local predicate evaluation.

// evaluateGroups reports whether the record satisfies the conjunction of
// all filter groups. A conjunctive group holds when every filter matches;
// a disjunctive group holds when any filter matches. Empty groups of either
// kind hold vacuously.
func evaluateGroups(groups []driver.FilterGroup, rec driver.Record) bool {
	for _, g := range groups {
		switch g.Op {
		case driver.All:
			for _, f := range g.Filters {
				if !evaluateFilter(f, rec) {
					return false
				}
			}
		case driver.Either:
			if len(g.Filters) == 0 {
				continue
			}
			ok := false
			for _, f := range g.Filters {
				if evaluateFilter(f, rec) {
					ok = true
					break
				}
			}
			if !ok {
				return false
			}
		default:
			panic(fmt.Sprintf("unknown filter group operator %v", g.Op))
		}
	}
	return true
}

// evaluateFilter reports whether the filter is true of the record.
// A missing field fails closed, as does a comparison between values
// of different kinds.
func evaluateFilter(f driver.Filter, rec driver.Record) bool {
	val, err := rec.Get(f.FieldPath)
	if err != nil || val == nil {
		return false
	}
	cmp, err := driver.Compare(val, f.Value)
	if err != nil {
		return false
	}
	return applyComparison(f.Op, cmp)
}

// op is one of the five permitted operators ("=", "<", etc.)
// c is the result of driver.Compare or the like.
func applyComparison(op string, c int) bool {
	switch op {
	case driver.EqualOp:
		return c == 0
	case ">":
		return c > 0
	case "<":
		return c < 0
	case ">=":
		return c >= 0
	case "<=":
		return c <= 0
	default:
		panic("bad op")
	}
}

// isActive reports whether the decoded record is active: neither lifecycle
// flag is true. Records without the flag fields are active.
func (c *collection) isActive(rec driver.Record) bool {
	for _, field := range []string{c.opts.ArchivedField, c.opts.DeletedField} {
		v, err := rec.GetField(field)
		if err != nil {
			continue
		}
		if b, ok := v.(bool); ok && b {
			return false
		}
	}
	return true
}

// decodeToMap decodes an entity result into a fresh map-backed record, for
// local filter evaluation and sorting.
func (c *collection) decodeToMap(er *pb.EntityResult) (driver.Record, error) {
	rec, err := driver.NewRecord(map[string]interface{}{})
	if err != nil {
		return driver.Record{}, err
	}
	if err := c.decodeEntity(er, rec, nil); err != nil {
		return driver.Record{}, err
	}
	return rec, nil
}

////////////////////////////////////////////////////////////////
// Native query execution.

// queryIterator runs the plan's native queries in clause order, paginating
// each one through the batch end cursor. The concatenation of the clause
// result streams is the result sequence; there is no global merge across
// clauses.
type queryIterator struct {
	c    *collection
	q    *driver.Query
	plan *queryPlan

	curr          int // index of the current clause
	started       bool
	clauseDone    bool
	clauseFetched int
	cursor        []byte

	buf       []*pb.EntityResult
	count     int // records emitted
	lastBatch *pb.QueryResultBatch
	stopped   bool
}

func (it *queryIterator) Next(ctx context.Context, rec driver.Record) error {
	if it.stopped {
		return io.EOF
	}
	for {
		if it.q.Limit > 0 && it.count >= it.q.Limit {
			return io.EOF
		}
		if len(it.buf) == 0 {
			if it.clauseDone {
				it.curr++
				it.started = false
				it.clauseDone = false
				it.clauseFetched = 0
				it.cursor = nil
			}
			if it.curr >= len(it.plan.clauses) {
				return io.EOF
			}
			if err := it.fetchBatch(ctx); err != nil {
				return err
			}
			continue
		}
		er := it.buf[0]
		it.buf = it.buf[1:]
		if it.plan.localEval || !it.q.IncludeInactive {
			mrec, err := it.c.decodeToMap(er)
			if err != nil {
				return err
			}
			if it.plan.localEval && !evaluateGroups(it.q.Groups, mrec) {
				continue
			}
			if !it.q.IncludeInactive && !it.c.isActive(mrec) {
				continue
			}
		}
		if err := it.c.decodeEntity(er, rec, it.q.FieldPaths); err != nil {
			return err
		}
		it.count++
		return nil
	}
}

// fetchBatch issues one RunQuery RPC for the current clause and buffers its
// batch. It decides, from the batch's MoreResults state and the pushed-down
// limit, whether the clause has more batches.
func (it *queryIterator) fetchBatch(ctx context.Context) error {
	cq := it.plan.clauses[it.curr]
	pq := cq.pq
	pq.StartCursor = it.cursor

	// The per-RPC result count is bounded by the query batch size and by
	// what remains of the pushed-down limit.
	rpcLimit := it.q.BatchSize
	if cq.nativeLimit > 0 {
		rem := cq.nativeLimit - it.clauseFetched
		if rem <= 0 {
			it.clauseDone = true
			return nil
		}
		if rpcLimit == 0 || rem < rpcLimit {
			rpcLimit = rem
		}
	}
	pq.Limit = nil
	if rpcLimit > 0 {
		pq.Limit = wrapperspb.Int32(int32(rpcLimit))
	}

	req := &pb.RunQueryRequest{
		ProjectId:   it.c.projectID,
		PartitionId: &pb.PartitionId{ProjectId: it.c.projectID, NamespaceId: it.plan.ns},
		QueryType:   &pb.RunQueryRequest_Query{Query: pq},
	}
	if !it.started && it.q.BeforeQuery != nil {
		if err := it.q.BeforeQuery(driver.AsFunc(req)); err != nil {
			return err
		}
	}
	it.started = true
	resp, err := it.c.client.RunQuery(ctx, req)
	if err != nil {
		return err
	}
	batch := resp.Batch
	it.lastBatch = batch
	it.buf = append(it.buf, batch.EntityResults...)
	it.clauseFetched += len(batch.EntityResults)
	it.cursor = batch.EndCursor

	switch batch.MoreResults {
	case pb.QueryResultBatch_NOT_FINISHED:
		// The batch is partial; keep paging through the end cursor.
	case pb.QueryResultBatch_MORE_RESULTS_AFTER_LIMIT, pb.QueryResultBatch_MORE_RESULTS_AFTER_CURSOR:
		// The service stopped at our per-RPC limit. The clause is done only
		// if that limit was the pushed-down query limit.
		if cq.nativeLimit > 0 && it.clauseFetched >= cq.nativeLimit {
			it.clauseDone = true
		}
	default:
		it.clauseDone = true
	}
	return nil
}

func (it *queryIterator) Stop() { it.stopped = true }

func (it *queryIterator) As(i interface{}) bool {
	if it.lastBatch == nil {
		return false
	}
	p, ok := i.(**pb.QueryResultBatch)
	if !ok {
		return false
	}
	*p = it.lastBatch
	return true
}

////////////////////////////////////////////////////////////////
// Identifier queries.

// lookupResult pairs an entity result with its fully decoded form, used for
// filtering and sorting before the caller's records are populated.
type lookupResult struct {
	er  *pb.EntityResult
	rec driver.Record
}

// runLookupQuery runs a query with identifiers as a batch Lookup: found
// records come back in identifier order and absent identifiers are skipped.
// Predicate, lifecycle filtering, ordering and the limit are applied in
// memory, since Lookup supports none of them natively.
func (c *collection) runLookupQuery(ctx context.Context, q *driver.Query) (driver.RecordIterator, error) {
	ns := c.namespace(ctx)
	keys := make([]*pb.Key, 0, len(q.IDs))
	for _, id := range q.IDs {
		k, err := c.newKey(id, ns)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	found := map[interface{}]*pb.EntityResult{}
	var lastResp *pb.LookupResponse
	for len(keys) > 0 {
		n := len(keys)
		if n > maxLookupKeys {
			n = maxLookupKeys
		}
		req := &pb.LookupRequest{ProjectId: c.projectID, Keys: keys[:n]}
		if q.BeforeQuery != nil {
			if err := q.BeforeQuery(driver.AsFunc(req)); err != nil {
				return nil, err
			}
		}
		f, resp, err := c.lookup(ctx, req)
		if err != nil {
			return nil, err
		}
		for k, er := range f {
			found[k] = er
		}
		lastResp = resp
		keys = keys[n:]
	}

	var results []lookupResult
	for _, id := range q.IDs {
		er := found[normalizeID(id)]
		if er == nil {
			continue
		}
		rec, err := c.decodeToMap(er)
		if err != nil {
			return nil, err
		}
		if len(q.Groups) > 0 && !evaluateGroups(q.Groups, rec) {
			continue
		}
		if !q.IncludeInactive && !c.isActive(rec) {
			continue
		}
		results = append(results, lookupResult{er: er, rec: rec})
	}
	if q.OrderByField != "" {
		if err := sortResults(results, q.OrderByField, q.OrderAscending); err != nil {
			return nil, err
		}
	}
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return &lookupIterator{c: c, q: q, results: results, resp: lastResp}, nil
}

// normalizeID maps the kinds a caller may use as identifiers onto the
// representations of key IDs: string names and int64 numeric IDs.
func normalizeID(id interface{}) interface{} {
	rv := reflect.ValueOf(id)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	default:
		return id
	}
}

// sortResults sorts the results by the named field. An absent or null value
// sorts first regardless of direction; the direction reverses only the
// non-null comparisons. A value of an unsupported kind is an error before
// any reordering happens.
func sortResults(results []lookupResult, field string, ascending bool) error {
	value := func(r lookupResult) interface{} {
		v, err := r.rec.GetField(field)
		if err != nil {
			return nil
		}
		return v
	}
	for _, r := range results {
		if v := value(r); v != nil {
			if _, err := driver.Compare(v, v); err != nil {
				return err
			}
		}
	}
	var sortErr error
	sort.SliceStable(results, func(i, j int) bool {
		a, b := value(results[i]), value(results[j])
		if a == nil {
			return b != nil
		}
		if b == nil {
			return false
		}
		cmp, err := driver.Compare(a, b)
		if err != nil {
			if sortErr == nil {
				sortErr = err
			}
			return false
		}
		if !ascending {
			cmp = -cmp
		}
		return cmp < 0
	})
	return sortErr
}

type lookupIterator struct {
	c       *collection
	q       *driver.Query
	results []lookupResult
	resp    *pb.LookupResponse
	err     error
}

func (it *lookupIterator) Next(ctx context.Context, rec driver.Record) error {
	if it.err != nil {
		return it.err
	}
	if len(it.results) == 0 {
		it.err = io.EOF
		return it.err
	}
	r := it.results[0]
	it.results = it.results[1:]
	return it.c.decodeEntity(r.er, rec, it.q.FieldPaths)
}

func (it *lookupIterator) Stop() { it.err = io.EOF }

func (it *lookupIterator) As(i interface{}) bool {
	if it.resp == nil {
		return false
	}
	p, ok := i.(**pb.LookupResponse)
	if !ok {
		return false
	}
	*p = it.resp
	return true
}

// QueryPlan implements driver.Collection.QueryPlan.
func (c *collection) QueryPlan(q *driver.Query) (string, error) {
	if len(q.IDs) > 0 {
		return fmt.Sprintf("Lookup of %d keys", len(q.IDs)), nil
	}
	plan, err := c.planQuery(context.Background(), q)
	if err != nil {
		return "", err
	}
	s := fmt.Sprintf("%d native queries", len(plan.clauses))
	if len(plan.clauses) == 1 {
		s = "1 native query"
	}
	if plan.localEval {
		s += " with local filtering"
	}
	return s, nil
}
