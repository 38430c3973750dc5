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
	"sync"

	pb "cloud.google.com/go/datastore/apiv1/datastorepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"recordstore.dev/internal/gcerr"
	"recordstore.dev/recordstore/driver"
)

// transaction is a single-use Datastore transaction: reads see a consistent
// snapshot, writes are buffered locally and applied atomically by commit.
// After commit or rollback the transaction is finished and every further
// operation fails.
type transaction struct {
	c  *collection
	id []byte

	mu   sync.Mutex
	muts []*pb.Mutation
	done bool
}

func (c *collection) newTransaction(ctx context.Context) (*transaction, error) {
	res, err := c.client.BeginTransaction(ctx, &pb.BeginTransactionRequest{
		ProjectId: c.projectID,
	})
	if err != nil {
		return nil, err
	}
	return &transaction{c: c, id: res.Transaction}, nil
}

func (t *transaction) checkUsable() error {
	if t.done {
		return gcerr.Newf(gcerr.FailedPrecondition, nil, "transaction has already been committed or rolled back")
	}
	return nil
}

// lookup reads a single entity within the transaction's snapshot.
// It returns nil, nil if the entity does not exist.
func (t *transaction) lookup(ctx context.Context, key *pb.Key) (*pb.EntityResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return nil, err
	}
	resp, err := t.c.client.Lookup(ctx, &pb.LookupRequest{
		ProjectId: t.c.projectID,
		ReadOptions: &pb.ReadOptions{
			ConsistencyType: &pb.ReadOptions_Transaction{Transaction: t.id},
		},
		Keys: []*pb.Key{key},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Found) == 0 {
		return nil, nil
	}
	return resp.Found[0], nil
}

// runQuery runs a native query within the transaction's snapshot. Datastore
// only supports transactional queries with an ancestor filter, so a query
// without one is rejected before any RPC is made.
func (t *transaction) runQuery(ctx context.Context, pq *pb.Query, ns string) (*pb.RunQueryResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return nil, err
	}
	if !hasAncestorFilter(pq.Filter) {
		return nil, gcerr.Newf(gcerr.InvalidArgument, nil, "query inside a transaction requires an ancestor filter")
	}
	return t.c.client.RunQuery(ctx, &pb.RunQueryRequest{
		ProjectId:   t.c.projectID,
		PartitionId: &pb.PartitionId{ProjectId: t.c.projectID, NamespaceId: ns},
		ReadOptions: &pb.ReadOptions{
			ConsistencyType: &pb.ReadOptions_Transaction{Transaction: t.id},
		},
		QueryType: &pb.RunQueryRequest_Query{Query: pq},
	})
}

func hasAncestorFilter(f *pb.Filter) bool {
	switch ft := f.GetFilterType().(type) {
	case *pb.Filter_PropertyFilter:
		return ft.PropertyFilter.Op == pb.PropertyFilter_HAS_ANCESTOR
	case *pb.Filter_CompositeFilter:
		for _, sub := range ft.CompositeFilter.Filters {
			if hasAncestorFilter(sub) {
				return true
			}
		}
	}
	return false
}

// mutate buffers mutations to be applied at commit.
func (t *transaction) mutate(muts ...*pb.Mutation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.muts = append(t.muts, muts...)
}

// commit applies the buffered mutations atomically and finishes the
// transaction. A commit rejected because of a concurrent conflicting write
// surfaces as an Aborted error, distinct from other RPC failures.
func (t *transaction) commit(ctx context.Context, opts *driver.RunActionsOptions) (*pb.CommitResponse, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkUsable(); err != nil {
		return nil, err
	}
	t.done = true
	req := &pb.CommitRequest{
		ProjectId:           t.c.projectID,
		Mode:                pb.CommitRequest_TRANSACTIONAL,
		TransactionSelector: &pb.CommitRequest_Transaction{Transaction: t.id},
		Mutations:           t.muts,
	}
	if opts != nil && opts.BeforeDo != nil {
		if err := opts.BeforeDo(driver.AsFunc(req)); err != nil {
			return nil, err
		}
	}
	res, err := t.c.client.Commit(ctx, req)
	if err != nil {
		if status.Code(err) == codes.Aborted {
			return nil, gcerr.Newf(gcerr.Aborted, err, "transaction aborted by a conflicting write")
		}
		return nil, err
	}
	return res, nil
}

// rollback abandons the transaction. Rolling back a finished transaction is
// a no-op.
func (t *transaction) rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.c.client.Rollback(ctx, &pb.RollbackRequest{
		ProjectId:   t.c.projectID,
		Transaction: t.id,
	})
	return err
}
