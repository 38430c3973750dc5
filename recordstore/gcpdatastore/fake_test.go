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

// A scripted in-process Datastore service, served over a bufconn gRPC
// connection so the driver talks to it through the real client stack.
// Read RPCs return queued responses in order; Commit synthesizes mutation
// results unless an error has been queued.

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"

	vkit "cloud.google.com/go/datastore/apiv1"
	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"recordstore.dev/gcerrors"
	"recordstore.dev/recordstore/driver"
)

type fakeDatastore struct {
	pb.UnimplementedDatastoreServer

	mu            sync.Mutex
	lookupReqs    []*pb.LookupRequest
	lookupResps   []*pb.LookupResponse
	runQueryReqs  []*pb.RunQueryRequest
	runQueryResps []*pb.RunQueryResponse
	commitReqs    []*pb.CommitRequest
	commitErrs    []error
	beginCount    int
	rollbackCount int
	version       int64 // version assigned to committed mutations
	allocID       int64 // ID assigned to incomplete keys
}

func (f *fakeDatastore) Lookup(ctx context.Context, req *pb.LookupRequest) (*pb.LookupResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupReqs = append(f.lookupReqs, req)
	if len(f.lookupResps) == 0 {
		return nil, status.Errorf(codes.Internal, "fake: unexpected Lookup")
	}
	resp := f.lookupResps[0]
	f.lookupResps = f.lookupResps[1:]
	return resp, nil
}

func (f *fakeDatastore) RunQuery(ctx context.Context, req *pb.RunQueryRequest) (*pb.RunQueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runQueryReqs = append(f.runQueryReqs, req)
	if len(f.runQueryResps) == 0 {
		return nil, status.Errorf(codes.Internal, "fake: unexpected RunQuery")
	}
	resp := f.runQueryResps[0]
	f.runQueryResps = f.runQueryResps[1:]
	return resp, nil
}

func (f *fakeDatastore) BeginTransaction(ctx context.Context, req *pb.BeginTransactionRequest) (*pb.BeginTransactionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginCount++
	return &pb.BeginTransactionResponse{Transaction: []byte("tx1")}, nil
}

func (f *fakeDatastore) Commit(ctx context.Context, req *pb.CommitRequest) (*pb.CommitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitReqs = append(f.commitReqs, req)
	if len(f.commitErrs) > 0 {
		err := f.commitErrs[0]
		f.commitErrs = f.commitErrs[1:]
		return nil, err
	}
	var mrs []*pb.MutationResult
	for _, mut := range req.Mutations {
		mr := &pb.MutationResult{Version: f.version}
		if ins := mut.GetInsert(); ins != nil {
			k := ins.GetKey()
			if len(k.GetPath()) > 0 && k.Path[len(k.Path)-1].IdType == nil {
				id := f.allocID
				if id == 0 {
					id = 42
				}
				mr.Key = &pb.Key{
					PartitionId: k.PartitionId,
					Path:        []*pb.Key_PathElement{{Kind: k.Path[0].Kind, IdType: &pb.Key_PathElement_Id{Id: id}}},
				}
			}
		}
		mrs = append(mrs, mr)
	}
	return &pb.CommitResponse{MutationResults: mrs}, nil
}

func (f *fakeDatastore) Rollback(ctx context.Context, req *pb.RollbackRequest) (*pb.RollbackResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbackCount++
	return &pb.RollbackResponse{}, nil
}

// newFakeClient starts the fake service and returns a client connected to it.
func newFakeClient(t *testing.T) (*vkit.Client, *fakeDatastore) {
	t.Helper()
	ctx := context.Background()
	f := &fakeDatastore{version: 1}
	srv := grpc.NewServer()
	pb.RegisterDatastoreServer(srv, f)
	lis := bufconn.Listen(1 << 20)
	go func() {
		if err := srv.Serve(lis); err != nil {
			panic(err)
		}
	}()
	conn, err := grpc.DialContext(ctx, "bufconn",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithInsecure())
	if err != nil {
		t.Fatal(err)
	}
	client, err := vkit.NewClient(ctx, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
		srv.Stop()
	})
	return client, f
}

// fakeCollection returns a collection backed by the fake service.
func fakeCollection(t *testing.T) (*collection, *fakeDatastore) {
	t.Helper()
	client, f := newFakeClient(t)
	c, err := newCollection(client, "P", "Player", "ID", nil, &Options{AllowLocalFilters: true})
	if err != nil {
		t.Fatal(err)
	}
	return c, f
}

// fakeEntity builds an entity result for the given key name.
func fakeEntity(name string, props map[string]*pb.Value) *pb.EntityResult {
	return &pb.EntityResult{
		Entity: &pb.Entity{
			Key: &pb.Key{
				PartitionId: &pb.PartitionId{ProjectId: "P"},
				Path:        []*pb.Key_PathElement{{Kind: "Player", IdType: &pb.Key_PathElement_Name{Name: name}}},
			},
			Properties: props,
		},
	}
}

func fakeBatch(more pb.QueryResultBatch_MoreResultsType, cursor []byte, ers ...*pb.EntityResult) *pb.RunQueryResponse {
	return &pb.RunQueryResponse{Batch: &pb.QueryResultBatch{
		EntityResults: ers,
		EndCursor:     cursor,
		MoreResults:   more,
	}}
}

func boolVal(b bool) *pb.Value {
	return &pb.Value{ValueType: &pb.Value_BooleanValue{BooleanValue: b}}
}

// collectIDs drains the iterator and returns the key field of each record.
func collectIDs(t *testing.T, it driver.RecordIterator) []interface{} {
	t.Helper()
	ctx := context.Background()
	var ids []interface{}
	for {
		m := map[string]interface{}{}
		rec, err := driver.NewRecord(m)
		if err != nil {
			t.Fatal(err)
		}
		err = it.Next(ctx, rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, m["ID"])
	}
	return ids
}

func TestQueryPagination(t *testing.T) {
	ctx := context.Background()
	ers := func(names ...string) []*pb.EntityResult {
		var out []*pb.EntityResult
		for _, n := range names {
			out = append(out, fakeEntity(n, nil))
		}
		return out
	}

	for _, test := range []struct {
		name      string
		resps     []*pb.RunQueryResponse
		wantIDs   []interface{}
		wantCalls int
	}{
		{
			"no results",
			[]*pb.RunQueryResponse{fakeBatch(pb.QueryResultBatch_NO_MORE_RESULTS, nil)},
			nil,
			1,
		},
		{
			"all results in one batch",
			[]*pb.RunQueryResponse{
				fakeBatch(pb.QueryResultBatch_NO_MORE_RESULTS, nil, ers("a", "b")...),
			},
			[]interface{}{"a", "b"},
			1,
		},
		{
			"a full batch followed by an empty final batch",
			[]*pb.RunQueryResponse{
				fakeBatch(pb.QueryResultBatch_NOT_FINISHED, []byte("c1"), ers("a", "b")...),
				fakeBatch(pb.QueryResultBatch_NO_MORE_RESULTS, nil),
			},
			[]interface{}{"a", "b"},
			2,
		},
		{
			"results spanning three batches",
			[]*pb.RunQueryResponse{
				fakeBatch(pb.QueryResultBatch_NOT_FINISHED, []byte("c1"), ers("a", "b")...),
				fakeBatch(pb.QueryResultBatch_NOT_FINISHED, []byte("c2"), ers("c", "d")...),
				fakeBatch(pb.QueryResultBatch_NO_MORE_RESULTS, nil, ers("e")...),
			},
			[]interface{}{"a", "b", "c", "d", "e"},
			3,
		},
	} {
		c, f := fakeCollection(t)
		f.runQueryResps = test.resps
		it, err := c.RunGetQuery(ctx, &driver.Query{BatchSize: 2, IncludeInactive: true})
		if err != nil {
			t.Fatal(err)
		}
		got := collectIDs(t, it)
		if diff := cmp.Diff(got, test.wantIDs); diff != "" {
			t.Errorf("%s:\n%s", test.name, diff)
		}
		if len(f.runQueryReqs) != test.wantCalls {
			t.Errorf("%s: got %d RunQuery calls, want %d", test.name, len(f.runQueryReqs), test.wantCalls)
		}
		// Each follow-up request must resume at the previous end cursor.
		var prevCursor []byte
		for i, req := range f.runQueryReqs {
			q := req.GetQuery()
			if got, want := string(q.StartCursor), string(prevCursor); got != want {
				t.Errorf("%s: request %d start cursor %q, want %q", test.name, i, got, want)
			}
			prevCursor = test.resps[i].Batch.EndCursor
		}
	}
}

func TestQueryLimitPushdown(t *testing.T) {
	ctx := context.Background()
	c, f := fakeCollection(t)
	f.runQueryResps = []*pb.RunQueryResponse{
		fakeBatch(pb.QueryResultBatch_MORE_RESULTS_AFTER_LIMIT, []byte("c1"),
			fakeEntity("a", nil), fakeEntity("b", nil), fakeEntity("c", nil)),
	}
	it, err := c.RunGetQuery(ctx, &driver.Query{Limit: 3, IncludeInactive: true})
	if err != nil {
		t.Fatal(err)
	}
	got := collectIDs(t, it)
	if diff := cmp.Diff(got, []interface{}{"a", "b", "c"}); diff != "" {
		t.Error(diff)
	}
	if len(f.runQueryReqs) != 1 {
		t.Fatalf("got %d RunQuery calls, want 1", len(f.runQueryReqs))
	}
	if got := f.runQueryReqs[0].GetQuery().GetLimit().GetValue(); got != 3 {
		t.Errorf("native limit: got %d, want 3", got)
	}
}

func TestQueryClauseConcatenation(t *testing.T) {
	ctx := context.Background()
	c, f := fakeCollection(t)
	f.runQueryResps = []*pb.RunQueryResponse{
		fakeBatch(pb.QueryResultBatch_NO_MORE_RESULTS, nil, fakeEntity("a1", nil), fakeEntity("a2", nil)),
		fakeBatch(pb.QueryResultBatch_NO_MORE_RESULTS, nil, fakeEntity("b1", nil)),
	}
	q := &driver.Query{
		IncludeInactive: true,
		Groups: []driver.FilterGroup{{
			Op: driver.Either,
			Filters: []driver.Filter{
				{FieldPath: []string{"g"}, Op: "=", Value: 1},
				{FieldPath: []string{"g"}, Op: "=", Value: 2},
			},
		}},
	}
	it, err := c.RunGetQuery(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	// One native query per disjunctive clause, concatenated in clause order.
	got := collectIDs(t, it)
	if diff := cmp.Diff(got, []interface{}{"a1", "a2", "b1"}); diff != "" {
		t.Error(diff)
	}
	if len(f.runQueryReqs) != 2 {
		t.Errorf("got %d RunQuery calls, want 2", len(f.runQueryReqs))
	}
}

func TestQueryLifecycleFiltering(t *testing.T) {
	ctx := context.Background()
	resps := func() []*pb.RunQueryResponse {
		return []*pb.RunQueryResponse{
			fakeBatch(pb.QueryResultBatch_NO_MORE_RESULTS, nil,
				fakeEntity("active", nil),
				fakeEntity("archived", map[string]*pb.Value{"Archived": boolVal(true)}),
				fakeEntity("deleted", map[string]*pb.Value{"Deleted": boolVal(true)}),
				fakeEntity("flagsOff", map[string]*pb.Value{"Archived": boolVal(false), "Deleted": boolVal(false)}),
			),
		}
	}

	c, f := fakeCollection(t)
	f.runQueryResps = resps()
	it, err := c.RunGetQuery(ctx, &driver.Query{})
	if err != nil {
		t.Fatal(err)
	}
	got := collectIDs(t, it)
	if diff := cmp.Diff(got, []interface{}{"active", "flagsOff"}); diff != "" {
		t.Errorf("active only:\n%s", diff)
	}

	c, f = fakeCollection(t)
	f.runQueryResps = resps()
	it, err = c.RunGetQuery(ctx, &driver.Query{IncludeInactive: true})
	if err != nil {
		t.Fatal(err)
	}
	got = collectIDs(t, it)
	if diff := cmp.Diff(got, []interface{}{"active", "archived", "deleted", "flagsOff"}); diff != "" {
		t.Errorf("include inactive:\n%s", diff)
	}
}

func TestQueryLocalFiltering(t *testing.T) {
	ctx := context.Background()
	c, f := fakeCollection(t)
	// Inequalities on two properties: the second is evaluated locally.
	f.runQueryResps = []*pb.RunQueryResponse{
		fakeBatch(pb.QueryResultBatch_NO_MORE_RESULTS, nil,
			fakeEntity("both", map[string]*pb.Value{"a": intVal(1), "b": intVal(1)}),
			fakeEntity("aOnly", map[string]*pb.Value{"a": intVal(1), "b": intVal(9)}),
			fakeEntity("noB", map[string]*pb.Value{"a": intVal(1)}),
		),
	}
	q := &driver.Query{
		IncludeInactive: true,
		Groups: []driver.FilterGroup{{
			Op: driver.All,
			Filters: []driver.Filter{
				{FieldPath: []string{"a"}, Op: "<", Value: 5},
				{FieldPath: []string{"b"}, Op: "<", Value: 5},
			},
		}},
	}
	it, err := c.RunGetQuery(ctx, q)
	if err != nil {
		t.Fatal(err)
	}
	// "noB" is dropped too: a missing field never matches.
	got := collectIDs(t, it)
	if diff := cmp.Diff(got, []interface{}{"both"}); diff != "" {
		t.Error(diff)
	}
}

func TestLookupDeferredRetry(t *testing.T) {
	ctx := context.Background()
	c, f := fakeCollection(t)
	k1, err := c.newKey("k1", "")
	if err != nil {
		t.Fatal(err)
	}
	k2, err := c.newKey("k2", "")
	if err != nil {
		t.Fatal(err)
	}
	// The first response answers for k1 and defers k2; the retry answers
	// for k2.
	f.lookupResps = []*pb.LookupResponse{
		{Found: []*pb.EntityResult{fakeEntity("k1", nil)}, Deferred: []*pb.Key{k2}},
		{Found: []*pb.EntityResult{fakeEntity("k2", nil)}},
	}
	found, _, err := c.lookup(ctx, &pb.LookupRequest{ProjectId: "P", Keys: []*pb.Key{k1, k2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 || found["k1"] == nil || found["k2"] == nil {
		t.Errorf("got %v, want entities for k1 and k2", found)
	}
	if len(f.lookupReqs) != 2 {
		t.Fatalf("got %d Lookup calls, want 2", len(f.lookupReqs))
	}
	// The retry must request exactly the deferred keys.
	if diff := cmp.Diff(f.lookupReqs[1].Keys, []*pb.Key{k2}, cmp.Comparer(proto.Equal)); diff != "" {
		t.Error(diff)
	}
}

func TestIDQueryOrderAndMissing(t *testing.T) {
	ctx := context.Background()
	c, f := fakeCollection(t)
	// The service answers out of order and has no entity for "b".
	f.lookupResps = []*pb.LookupResponse{
		{Found: []*pb.EntityResult{fakeEntity("c", nil), fakeEntity("a", nil)}},
	}
	it, err := c.RunGetQuery(ctx, &driver.Query{IDs: []interface{}{"a", "b", "c"}})
	if err != nil {
		t.Fatal(err)
	}
	// Results come back in identifier order, with absent identifiers skipped.
	got := collectIDs(t, it)
	if diff := cmp.Diff(got, []interface{}{"a", "c"}); diff != "" {
		t.Error(diff)
	}
}

func TestRunActionsCommitChunking(t *testing.T) {
	ctx := context.Background()
	c, f := fakeCollection(t)
	n := maxCommitMutations + 2
	var actions []*driver.Action
	for i := 0; i < n; i++ {
		actions = append(actions, &driver.Action{
			Kind:  driver.Put,
			Key:   int64(i + 1),
			Index: i,
			Doc:   mustRecord(t, map[string]interface{}{"ID": int64(i + 1)}),
		})
	}
	if alerr := c.RunActions(ctx, actions, &driver.RunActionsOptions{}); len(alerr) > 0 {
		t.Fatal(alerr)
	}
	if len(f.commitReqs) != 2 {
		t.Fatalf("got %d Commit calls, want 2", len(f.commitReqs))
	}
	if got := len(f.commitReqs[0].Mutations); got != maxCommitMutations {
		t.Errorf("first chunk: got %d mutations, want %d", got, maxCommitMutations)
	}
	if got := len(f.commitReqs[1].Mutations); got != 2 {
		t.Errorf("second chunk: got %d mutations, want 2", got)
	}
}

func TestCreateAllocatesID(t *testing.T) {
	ctx := context.Background()
	c, f := fakeCollection(t)
	f.allocID = 99
	m := map[string]interface{}{"a": 1}
	a := &driver.Action{Kind: driver.Create, Doc: mustRecord(t, m)}
	if alerr := c.RunActions(ctx, []*driver.Action{a}, &driver.RunActionsOptions{}); len(alerr) > 0 {
		t.Fatal(alerr)
	}
	// The mutation must carry an incomplete key, and the allocated ID must
	// be written back into the key field.
	mut := f.commitReqs[0].Mutations[0]
	keyPath := mut.GetInsert().GetKey().GetPath()
	if len(keyPath) != 1 || keyPath[0].IdType != nil {
		t.Errorf("got key path %v, want one incomplete element", keyPath)
	}
	if got := m["ID"]; got != int64(99) {
		t.Errorf("allocated ID: got %v, want 99", got)
	}
}

func TestGetActions(t *testing.T) {
	ctx := context.Background()
	c, f := fakeCollection(t)
	f.lookupResps = []*pb.LookupResponse{
		{Found: []*pb.EntityResult{fakeEntity("a", map[string]*pb.Value{"n": intVal(1)})}},
	}
	ma := map[string]interface{}{"ID": "a"}
	mb := map[string]interface{}{"ID": "b"}
	actions := []*driver.Action{
		{Kind: driver.Get, Key: "a", Index: 0, Doc: mustRecord(t, ma)},
		{Kind: driver.Get, Key: "b", Index: 1, Doc: mustRecord(t, mb)},
	}
	alerr := c.RunActions(ctx, actions, &driver.RunActionsOptions{})
	if len(alerr) != 1 {
		t.Fatalf("got %v, want one error", alerr)
	}
	if alerr[0].Index != 1 || gcerrors.Code(alerr[0].Err) != gcerrors.NotFound {
		t.Errorf("got %v, want NotFound at index 1", alerr[0])
	}
	if ma["n"] != int64(1) {
		t.Errorf("got %v, want decoded property n=1", ma["n"])
	}
}
