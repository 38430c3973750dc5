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

// Package gcpdatastore provides a recordstore implementation backed by Google
// Cloud Datastore.
// Use OpenCollection to construct a *recordstore.Collection.
//
// Recordstore types not supported by Cloud Datastore:
//   - unsigned integers: encoded as int64s
//
// Datastore types not supported by Recordstore:
//   - entity references other than keys
//
// # URLs
//
// For recordstore.OpenCollection, gcpdatastore registers for the scheme
// "gcpdatastore".
// The default URL opener will create a connection using default credentials
// from the environment, as described in
// https://cloud.google.com/docs/authentication/production.
// To customize the URL opener, or for more details on the URL format,
// see URLOpener.
//
// # As
//
// gcpdatastore exposes the following types for as functions.
// The pb package is cloud.google.com/go/datastore/apiv1/datastorepb.
// The vkit package is cloud.google.com/go/datastore/apiv1.
//   - Collection.As: *vkit.Client
//   - ActionList.BeforeDo: *pb.LookupRequest or *pb.CommitRequest
//   - Query.BeforeQuery: *pb.RunQueryRequest or *pb.LookupRequest
//     (identifier queries)
//   - RecordIterator: *pb.QueryResultBatch (native queries) or
//     *pb.LookupResponse (identifier queries)
//   - Error: *google.golang.org/grpc/status.Status
//
// # Queries
//
// Cloud Datastore has no native disjunction, so a query whose predicate
// contains WhereEither clauses is expanded into one native query per
// disjunctive clause; the clause result streams are concatenated in clause
// order with no global merge.
//
// Datastore allows only one property in a query to be compared with an
// inequality operator (one other than "="). This driver sends the first
// inequality property to Datastore and evaluates the remaining inequality
// filters locally, which requires Options.AllowLocalFilters. When an ordering
// is pushed down natively, its property must match the native inequality
// property; otherwise the query fails before any RPC is made.
//
// Records carry two lifecycle flags, named by Options.ArchivedField and
// Options.DeletedField. A record is active if neither flag is true, and
// queries return only active records unless Query.IncludeInactive is set.
// Entities without the flag properties are active.
package gcpdatastore // import "recordstore.dev/recordstore/gcpdatastore"

import (
	"context"
	"encoding/binary"
	"os"
	"reflect"
	"time"

	vkit "cloud.google.com/go/datastore/apiv1"
	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"github.com/google/wire"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"recordstore.dev/gcerrors"
	"recordstore.dev/gcp"
	"recordstore.dev/internal/gcerr"
	"recordstore.dev/internal/useragent"
	"recordstore.dev/recordstore"
	"recordstore.dev/recordstore/driver"
)

// Dial returns a client to use with Cloud Datastore and a clean-up function
// to close the client after use.
// If the 'DATASTORE_EMULATOR_HOST' environment variable is set the client
// connects to the emulator by overriding the default endpoint.
func Dial(ctx context.Context, ts gcp.TokenSource) (*vkit.Client, func(), error) {
	opts := []option.ClientOption{
		useragent.ClientOption("recordstore"),
	}
	if host := os.Getenv("DATASTORE_EMULATOR_HOST"); host != "" {
		conn, err := grpc.DialContext(ctx, host, grpc.WithInsecure())
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts,
			option.WithEndpoint(host),
			option.WithGRPCConn(conn),
		)
	} else {
		opts = append(opts, option.WithTokenSource(ts))
	}
	c, err := vkit.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { c.Close() }, nil
}

// Set holds Wire providers for this package.
var Set = wire.NewSet(
	Dial,
	wire.Struct(new(URLOpener), "Client"),
)

// Cloud Datastore service limits.
// See https://cloud.google.com/datastore/docs/concepts/limits.
const (
	// The maximum number of keys in one Lookup call.
	maxLookupKeys = 1000
	// The maximum number of mutations in one Commit call.
	maxCommitMutations = 500
	// Indexed string and blob properties longer than this are stored
	// with indexing excluded.
	maxIndexedValueBytes = 1500
)

type collection struct {
	keyField  string
	keyFunc   func(recordstore.Record) interface{}
	client    *vkit.Client
	projectID string
	kind      string
	opts      *Options
}

// Options contains optional arguments to the OpenCollection functions.
type Options struct {
	// The Datastore namespace for all keys and queries. Ignored if
	// NamespaceFunc is set.
	Namespace string

	// NamespaceFunc returns the Datastore namespace to use for a call.
	// It is consulted before every key or query construction, so a single
	// collection can serve multiple tenants by deriving the namespace
	// from values in the context.
	NamespaceFunc func(ctx context.Context) string

	// The name of the field holding the record revision.
	// Defaults to recordstore.DefaultRevisionField.
	RevisionField string

	// The name of the boolean field that marks a record archived.
	// Defaults to "Archived".
	ArchivedField string

	// The name of the boolean field that marks a record deleted.
	// Defaults to "Deleted".
	DeletedField string

	// If true, allow queries that require client-side evaluation of filters
	// (Where clauses) to run.
	AllowLocalFilters bool

	// The maximum number of RPCs that can be in progress for a single call to
	// ActionList.Do.
	// If less than 1, there is no limit.
	MaxOutstandingActionRPCs int
}

// OpenCollection creates a *recordstore.Collection representing entities of
// the given kind in the given project.
//
// gcpdatastore requires that a single field, keyField, be designated the
// primary key. Its values must be strings or signed integers, and must be
// unique over all records in the collection. The primary key must be
// provided to retrieve a record.
func OpenCollection(client *vkit.Client, projectID, kind, keyField string, opts *Options) (*recordstore.Collection, error) {
	c, err := newCollection(client, projectID, kind, keyField, nil, opts)
	if err != nil {
		return nil, err
	}
	return recordstore.NewCollection(c), nil
}

// OpenCollectionWithKeyFunc creates a *recordstore.Collection representing
// entities of the given kind in the given project.
//
// The keyFunc argument is a function that accepts a record and returns the
// value to be used for the record's primary key, either a string or a signed
// integer. It should return nil if the record is missing the information to
// construct a key. This will cause all actions, even Create, to fail.
func OpenCollectionWithKeyFunc(client *vkit.Client, projectID, kind string, keyFunc func(recordstore.Record) interface{}, opts *Options) (*recordstore.Collection, error) {
	c, err := newCollection(client, projectID, kind, "", keyFunc, opts)
	if err != nil {
		return nil, err
	}
	return recordstore.NewCollection(c), nil
}

func newCollection(client *vkit.Client, projectID, kind, keyField string, keyFunc func(recordstore.Record) interface{}, opts *Options) (*collection, error) {
	if keyField == "" && keyFunc == nil {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "one of keyField or keyFunc must be provided")
	}
	if projectID == "" || kind == "" {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "projectID and kind must be provided")
	}
	if opts == nil {
		opts = &Options{}
	}
	if opts.RevisionField == "" {
		opts.RevisionField = recordstore.DefaultRevisionField
	}
	if opts.ArchivedField == "" {
		opts.ArchivedField = "Archived"
	}
	if opts.DeletedField == "" {
		opts.DeletedField = "Deleted"
	}
	return &collection{
		client:    client,
		projectID: projectID,
		kind:      kind,
		keyField:  keyField,
		keyFunc:   keyFunc,
		opts:      opts,
	}, nil
}

// Key returns the record key, if present. This is either the value of the
// field called c.keyField, or the result of calling c.keyFunc. Valid keys
// are strings and signed integers.
func (c *collection) Key(rec driver.Record) (interface{}, error) {
	var v interface{}
	if c.keyField != "" {
		var err error
		v, err = rec.GetField(c.keyField)
		if err != nil || v == nil {
			// missing field is not an error
			return nil, nil
		}
	} else {
		v = c.keyFunc(rec.Origin)
		if v == nil {
			return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "missing record key")
		}
	}
	// Use the reflect kind so types whose underlying type is string or int
	// are usable as keys.
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		s := rv.String()
		if s == "" { // empty string is the same as missing
			return nil, nil
		}
		return s, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i == 0 { // a Datastore numeric ID is never zero
			return nil, nil
		}
		return i, nil
	default:
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil,
			"key %v of type %[1]T is not a string or a signed integer", v)
	}
}

func (c *collection) RevisionField() string {
	return c.opts.RevisionField
}

// namespace resolves the Datastore namespace for a call. It is consulted
// before every key or query construction.
func (c *collection) namespace(ctx context.Context) string {
	if c.opts.NamespaceFunc != nil {
		return c.opts.NamespaceFunc(ctx)
	}
	return c.opts.Namespace
}

// newKey translates a record key into a Datastore key in the given namespace.
// A nil id produces an incomplete key, to be completed by the service.
func (c *collection) newKey(id interface{}, ns string) (*pb.Key, error) {
	pe := &pb.Key_PathElement{Kind: c.kind}
	if id != nil {
		rv := reflect.ValueOf(id)
		switch rv.Kind() {
		case reflect.String:
			pe.IdType = &pb.Key_PathElement_Name{Name: rv.String()}
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			pe.IdType = &pb.Key_PathElement_Id{Id: rv.Int()}
		default:
			return nil, gcerr.Newf(gcerr.InvalidArgument, nil,
				"key %v of type %[1]T is not a string or a signed integer", id)
		}
	}
	return &pb.Key{
		PartitionId: &pb.PartitionId{ProjectId: c.projectID, NamespaceId: ns},
		Path:        []*pb.Key_PathElement{pe},
	}, nil
}

// keyID returns the name or numeric ID of a Datastore key, or nil if the
// key is incomplete.
func keyID(k *pb.Key) interface{} {
	if k == nil || len(k.Path) == 0 {
		return nil
	}
	switch id := k.Path[len(k.Path)-1].IdType.(type) {
	case *pb.Key_PathElement_Name:
		return id.Name
	case *pb.Key_PathElement_Id:
		return id.Id
	default:
		return nil
	}
}

// RunActions implements driver.RunActions.
func (c *collection) RunActions(ctx context.Context, actions []*driver.Action, opts *driver.RunActionsOptions) driver.ActionListError {
	errs := make([]error, len(actions))
	beforeGets, gets, writes, afterGets := driver.GroupActions(actions)
	// runGets does not issue concurrent RPCs, so it doesn't need a throttle.
	c.runGets(ctx, beforeGets, errs, opts)

	// Updates are transactional read-modify-writes and run concurrently.
	// All other writes become mutations, committed in chunks sequentially.
	var updates, others []*driver.Action
	for _, a := range writes {
		if a.Kind == driver.Update {
			updates = append(updates, a)
		} else {
			others = append(others, a)
		}
	}
	calls := c.buildCommitCalls(ctx, others, errs)
	t := driver.NewThrottle(c.opts.MaxOutstandingActionRPCs)
	if len(calls) > 0 {
		t.Acquire()
		go func() {
			defer t.Release()
			for _, call := range calls {
				c.doCommitCall(ctx, call, errs, opts)
			}
		}()
	}
	for _, a := range updates {
		a := a
		t.Acquire()
		go func() {
			defer t.Release()
			errs[a.Index] = c.runUpdate(ctx, a, opts)
		}()
	}
	t.Acquire()
	c.runGets(ctx, gets, errs, opts)
	t.Release()
	t.Wait()
	c.runGets(ctx, afterGets, errs, opts)
	return driver.NewActionListError(errs)
}

// runGets executes a group of Get actions with the Lookup RPC.
// It makes multiple calls when the actions have different field paths or
// exceed the Lookup key limit.
func (c *collection) runGets(ctx context.Context, actions []*driver.Action, errs []error, opts *driver.RunActionsOptions) {
	for _, group := range driver.GroupByFieldPath(actions) {
		for len(group) > 0 {
			n := len(group)
			if n > maxLookupKeys {
				n = maxLookupKeys
			}
			c.batchGet(ctx, group[:n], errs, opts)
			group = group[n:]
		}
	}
}

// batchGet runs a single batch of Get actions, all of which have the same
// set of field paths. Results are matched to actions by key, so the request
// order of the actions is preserved. Populates errs, a slice of per-action
// errors indexed by the original action list position.
func (c *collection) batchGet(ctx context.Context, gets []*driver.Action, errs []error, opts *driver.RunActionsOptions) {
	setErr := func(err error) {
		for _, g := range gets {
			errs[g.Index] = err
		}
	}

	ns := c.namespace(ctx)
	keys := make([]*pb.Key, 0, len(gets))
	for _, a := range gets {
		k, err := c.newKey(a.Key, ns)
		if err != nil {
			setErr(err)
			return
		}
		keys = append(keys, k)
	}
	req := &pb.LookupRequest{
		ProjectId: c.projectID,
		Keys:      keys,
	}
	if opts.BeforeDo != nil {
		if err := opts.BeforeDo(driver.AsFunc(req)); err != nil {
			setErr(err)
			return
		}
	}
	found, _, err := c.lookup(ctx, req)
	if err != nil {
		setErr(err)
		return
	}
	for _, a := range gets {
		er := found[a.Key]
		if er == nil {
			errs[a.Index] = gcerr.Newf(gcerr.NotFound, nil, "record with key %v not found", a.Key)
			continue
		}
		errs[a.Index] = c.decodeEntity(er, a.Doc, a.FieldPaths)
	}
}

// lookup calls the Lookup RPC, re-requesting deferred keys with backoff
// until the service has answered for every key. It returns the found
// entities indexed by key ID, and the most recent response.
func (c *collection) lookup(ctx context.Context, req *pb.LookupRequest) (map[interface{}]*pb.EntityResult, *pb.LookupResponse, error) {
	found := map[interface{}]*pb.EntityResult{}
	delay := 100 * time.Millisecond
	var resp *pb.LookupResponse
	for {
		var err error
		resp, err = c.client.Lookup(ctx, req)
		if err != nil {
			return nil, nil, err
		}
		for _, er := range resp.Found {
			found[keyID(er.Entity.Key)] = er
		}
		if len(resp.Deferred) == 0 {
			return found, resp, nil
		}
		// The service could not answer for all keys in this call.
		if err := gax.Sleep(ctx, delay); err != nil {
			return nil, nil, err
		}
		delay *= 2
		req.Keys = resp.Deferred
	}
}

// commitCall holds one chunk of mutations for a Commit RPC and the actions
// they came from, in parallel order.
type commitCall struct {
	muts    []*pb.Mutation
	actions []*driver.Action
}

// buildCommitCalls converts write actions into mutations, chunked at the
// Commit mutation limit. The chunks must be committed sequentially, each
// awaited before the next, so that a record's writes land in list order.
func (c *collection) buildCommitCalls(ctx context.Context, actions []*driver.Action, errs []error) []*commitCall {
	ns := c.namespace(ctx)
	var calls []*commitCall
	cur := &commitCall{}
	for _, a := range actions {
		mut, err := c.actionToMutation(a, ns)
		if err != nil {
			errs[a.Index] = err
			continue
		}
		cur.muts = append(cur.muts, mut)
		cur.actions = append(cur.actions, a)
		if len(cur.muts) == maxCommitMutations {
			calls = append(calls, cur)
			cur = &commitCall{}
		}
	}
	if len(cur.muts) > 0 {
		calls = append(calls, cur)
	}
	return calls
}

// actionToMutation converts a write action into a Datastore mutation:
// Insert for Create, Update for Replace, Upsert for Put, Delete for Delete.
// If the record carries a revision, it becomes a BaseVersion precondition.
func (c *collection) actionToMutation(a *driver.Action, ns string) (*pb.Mutation, error) {
	key, err := c.newKey(a.Key, ns)
	if err != nil {
		return nil, err
	}
	if a.Key == nil && a.Kind == driver.Create && c.keyField == "" {
		// Incomplete keys require a key field to write the allocated ID back into.
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "missing record key")
	}
	mut := &pb.Mutation{}
	if a.Kind == driver.Delete {
		mut.Operation = &pb.Mutation_Delete{Delete: key}
	} else {
		ent, err := c.encodeRecord(a.Doc)
		if err != nil {
			return nil, err
		}
		ent.Key = key
		switch a.Kind {
		case driver.Create:
			mut.Operation = &pb.Mutation_Insert{Insert: ent}
		case driver.Replace:
			mut.Operation = &pb.Mutation_Update{Update: ent}
		case driver.Put:
			mut.Operation = &pb.Mutation_Upsert{Upsert: ent}
		default:
			return nil, gcerr.Newf(gcerr.Internal, nil, "bad action %+v", a)
		}
	}
	if a.Kind != driver.Create {
		rev, err := c.recordRevision(a.Doc)
		if err != nil {
			return nil, err
		}
		if rev != 0 {
			mut.ConflictDetectionStrategy = &pb.Mutation_BaseVersion{BaseVersion: rev}
		}
	}
	return mut, nil
}

// doCommitCall calls the Commit RPC with one chunk of mutations and handles
// the results.
func (c *collection) doCommitCall(ctx context.Context, call *commitCall, errs []error, opts *driver.RunActionsOptions) {
	mrs, err := c.commit(ctx, call.muts, nil, opts)
	if err != nil {
		for _, a := range call.actions {
			errs[a.Index] = err
		}
		return
	}
	for i, a := range call.actions {
		mr := mrs[i]
		if mr.ConflictDetected {
			errs[a.Index] = gcerr.Newf(gcerr.FailedPrecondition, nil,
				"write conflict for record with key %v", a.Key)
			continue
		}
		if a.Key == nil && mr.Key != nil {
			// The service allocated an ID for an incomplete Create key.
			if err := a.Doc.SetField(c.keyField, keyID(mr.Key)); err != nil {
				errs[a.Index] = err
				continue
			}
		}
		if a.Kind != driver.Delete && a.Doc.HasField(c.opts.RevisionField) {
			if err := a.Doc.SetField(c.opts.RevisionField, mr.Version); err != nil {
				errs[a.Index] = err
			}
		}
	}
}

func (c *collection) commit(ctx context.Context, muts []*pb.Mutation, txID []byte, opts *driver.RunActionsOptions) ([]*pb.MutationResult, error) {
	req := &pb.CommitRequest{
		ProjectId: c.projectID,
		Mutations: muts,
	}
	if txID == nil {
		req.Mode = pb.CommitRequest_NON_TRANSACTIONAL
	} else {
		req.Mode = pb.CommitRequest_TRANSACTIONAL
		req.TransactionSelector = &pb.CommitRequest_Transaction{Transaction: txID}
	}
	if opts != nil && opts.BeforeDo != nil {
		if err := opts.BeforeDo(driver.AsFunc(req)); err != nil {
			return nil, err
		}
	}
	res, err := c.client.Commit(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.MutationResults) != len(muts) {
		return nil, gcerr.Newf(gcerr.Internal, nil, "wrong number of MutationResults from datastore commit")
	}
	return res.MutationResults, nil
}

// runUpdate runs an Update action as a transactional read-modify-write:
// look up the entity inside a transaction, apply the mods to its properties,
// and commit the updated entity with the read version as a precondition.
func (c *collection) runUpdate(ctx context.Context, a *driver.Action, opts *driver.RunActionsOptions) error {
	ns := c.namespace(ctx)
	key, err := c.newKey(a.Key, ns)
	if err != nil {
		return err
	}
	tx, err := c.newTransaction(ctx)
	if err != nil {
		return err
	}
	er, err := tx.lookup(ctx, key)
	if err != nil {
		tx.rollback(ctx)
		return err
	}
	if er == nil {
		tx.rollback(ctx)
		return gcerr.Newf(gcerr.NotFound, nil, "record with key %v not found", a.Key)
	}
	rev, err := c.recordRevision(a.Doc)
	if err != nil {
		tx.rollback(ctx)
		return err
	}
	if rev != 0 && rev != er.Version {
		tx.rollback(ctx)
		return gcerr.Newf(gcerr.FailedPrecondition, nil,
			"record with key %v has revision %d, not %d", a.Key, er.Version, rev)
	}
	ent := er.Entity
	if ent.Properties == nil {
		ent.Properties = map[string]*pb.Value{}
	}
	for _, m := range a.Mods {
		if err := applyMod(ent.Properties, m); err != nil {
			tx.rollback(ctx)
			return err
		}
	}
	tx.mutate(&pb.Mutation{
		Operation:                 &pb.Mutation_Update{Update: ent},
		ConflictDetectionStrategy: &pb.Mutation_BaseVersion{BaseVersion: er.Version},
	})
	res, err := tx.commit(ctx, opts)
	if err != nil {
		return err
	}
	if len(res.MutationResults) == 1 && a.Doc.HasField(c.opts.RevisionField) {
		return a.Doc.SetField(c.opts.RevisionField, res.MutationResults[0].Version)
	}
	return nil
}

// applyMod sets, deletes or increments the property at the mod's field path.
// Intermediate path components must denote nested entities.
func applyMod(props map[string]*pb.Value, m driver.Mod) error {
	parent, err := getParentProperties(props, m.FieldPath, m.Value != nil)
	if err != nil {
		return err
	}
	if parent == nil { // delete of a non-existent path is a no-op
		return nil
	}
	last := m.FieldPath[len(m.FieldPath)-1]
	switch v := m.Value.(type) {
	case nil:
		delete(parent, last)
	case driver.IncOp:
		inc, err := incrementValue(parent[last], v.Amount)
		if err != nil {
			return err
		}
		parent[last] = inc
	default:
		pv, err := encodeValue(v)
		if err != nil {
			return err
		}
		parent[last] = pv
	}
	return nil
}

// getParentProperties returns the property map that directly contains the
// given field path, creating intermediate entities if create is true.
func getParentProperties(props map[string]*pb.Value, fp []string, create bool) (map[string]*pb.Value, error) {
	for _, k := range fp[:len(fp)-1] {
		if props[k] == nil {
			if !create {
				return nil, nil
			}
			props[k] = &pb.Value{ValueType: &pb.Value_EntityValue{EntityValue: &pb.Entity{Properties: map[string]*pb.Value{}}}}
		}
		ent := props[k].GetEntityValue()
		if ent == nil {
			return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "invalid field path %q at %q", fp, k)
		}
		if ent.Properties == nil {
			ent.Properties = map[string]*pb.Value{}
		}
		props = ent.Properties
	}
	return props, nil
}

// incrementValue adds amount to the current property value. A missing
// property counts as zero.
func incrementValue(cur *pb.Value, amount interface{}) (*pb.Value, error) {
	amt, err := encodeValue(amount)
	if err != nil {
		return nil, err
	}
	if cur == nil || cur.GetValueType() == nil {
		return amt, nil
	}
	switch v := cur.ValueType.(type) {
	case *pb.Value_IntegerValue:
		if i, ok := amt.ValueType.(*pb.Value_IntegerValue); ok {
			return &pb.Value{ValueType: &pb.Value_IntegerValue{IntegerValue: v.IntegerValue + i.IntegerValue}}, nil
		}
		if f, ok := amt.ValueType.(*pb.Value_DoubleValue); ok {
			return &pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: float64(v.IntegerValue) + f.DoubleValue}}, nil
		}
	case *pb.Value_DoubleValue:
		if i, ok := amt.ValueType.(*pb.Value_IntegerValue); ok {
			return &pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: v.DoubleValue + float64(i.IntegerValue)}}, nil
		}
		if f, ok := amt.ValueType.(*pb.Value_DoubleValue); ok {
			return &pb.Value{ValueType: &pb.Value_DoubleValue{DoubleValue: v.DoubleValue + f.DoubleValue}}, nil
		}
	}
	return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "cannot increment value of type %T", cur.ValueType)
}

// recordRevision extracts the version from the revision field of the record,
// if there is one. It only returns an error if the revision field is present
// and does not contain an int64.
func (c *collection) recordRevision(rec driver.Record) (int64, error) {
	v, err := rec.GetField(c.opts.RevisionField)
	if err != nil { // revision field not present
		return 0, nil
	}
	if v == nil { // revision field is present, but nil
		return 0, nil
	}
	rev, ok := v.(int64)
	if !ok {
		return 0, gcerr.Newf(gcerr.InvalidArgument, nil,
			"%s field contains wrong type: got %T, want int64",
			c.opts.RevisionField, v)
	}
	return rev, nil
}

// RevisionToBytes implements driver.RevisionToBytes.
func (c *collection) RevisionToBytes(rev interface{}) ([]byte, error) {
	r, ok := rev.(int64)
	if !ok {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "revision %v of type %[1]T is not an int64", rev)
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(r))
	return buf, nil
}

// BytesToRevision implements driver.BytesToRevision.
func (c *collection) BytesToRevision(b []byte) (interface{}, error) {
	if len(b) != 8 {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "revision %v is not 8 bytes", b)
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (c *collection) ErrorCode(err error) gcerrors.ErrorCode {
	return gcerr.GRPCCode(err)
}

func (c *collection) As(i interface{}) bool {
	p, ok := i.(**vkit.Client)
	if !ok {
		return false
	}
	*p = c.client
	return true
}

// ErrorAs implements driver.Collection.ErrorAs.
func (c *collection) ErrorAs(err error, i interface{}) bool {
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	p, ok := i.(**status.Status)
	if !ok {
		return false
	}
	*p = s
	return true
}

// Close implements driver.Collection.Close.
func (c *collection) Close() error { return nil }
