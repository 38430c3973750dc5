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

// Package recordstore provides a portable way of interacting with a store of
// keyed records. Subpackages contain driver implementations of recordstore
// for supported services.
//
// # Collections
//
// In recordstore, records are grouped into collections, and each record has a
// key that is unique in its collection. You can add, retrieve, modify and
// delete records by key, and you can query a collection to retrieve records
// that match certain criteria.
//
// # Records
//
// A record is a set of named fields, each with a value. You can represent
// records using a map[string]interface{} or a struct pointer. When you
// represent a record with a map, the fields are the map keys and the values
// are the map values. When you represent a record with a struct, the exported
// struct fields are the record fields. You can rename a field, or ignore it,
// using struct tags, as with encoding/json:
//
//	type Player struct {
//	    Name   string `recordstore:"name"`
//	    Score  int
//	    Secret string `recordstore:"-"`
//	}
//
// # Actions
//
// Once you have a collection, you can call its methods to read and write
// records. Single operations are methods on Collection: Get, Create, Replace,
// Put, Update and Delete. For multiple operations, build an ActionList and
// call its Do method; drivers may combine and reorder the actions for
// efficiency while preserving the visible ordering between a Get and a write
// on the same record.
//
// # Lifecycle
//
// A record may carry archival and deletion flags. Records with either flag
// set are inactive: queries skip them unless IncludeInactive is specified.
// Records that lack the flag fields entirely are active.
//
// # Queries
//
// Use Query to retrieve the records matching a set of conditions. Where adds
// a condition that must hold; WhereEither adds a set of conditions of which
// at least one must hold. The two can be combined freely; all groups must be
// satisfied together. ByID retrieves records directly by identifier, in the
// order given. Use OrderBy to sort, Limit to bound the result count, and
// BatchSize to tune how many records are fetched per service round trip.
//
// # Revisions
//
// A collection may maintain a revision for each record, stored in a field
// named by the driver (DefaultRevisionField by default). Whenever the record
// is written, its revision changes. Writes that supply a revision fail with
// FailedPrecondition if the stored record's revision differs, which makes
// read-modify-write loops safe against concurrent writers.
//
// # OpenCensus Integration
//
// OpenCensus supports tracing and metric collection for multiple languages
// and backend providers. This API collects OpenCensus traces and metrics for
// the Do method of ActionLists and the Get method of queries. All trace and
// metric names begin with the package import path. The metrics are
// "completed_calls", a count of completed method calls by driver, method and
// status (error code); and "latency", a distribution of method latency by
// driver and method.
//
// To enable trace collection in your application, see "Configure Exporter" at
// https://opencensus.io/quickstart/go/tracing. To enable metric collection in
// your application, see "Exporting stats" at
// https://opencensus.io/quickstart/go/metrics.
package recordstore // import "recordstore.dev/recordstore"
