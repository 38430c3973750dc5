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
	"net/url"
	"strconv"
	"strings"
	"sync"

	vkit "cloud.google.com/go/datastore/apiv1"
	"recordstore.dev/gcp"
	"recordstore.dev/recordstore"
)

func init() {
	recordstore.DefaultURLMux().RegisterCollection(Scheme, &lazyCredsOpener{})
}

type lazyCredsOpener struct {
	init   sync.Once
	opener *URLOpener
	err    error
}

func (o *lazyCredsOpener) OpenCollectionURL(ctx context.Context, u *url.URL) (*recordstore.Collection, error) {
	o.init.Do(func() {
		creds, err := gcp.DefaultCredentials(ctx)
		if err != nil {
			o.err = err
			return
		}
		client, _, err := Dial(ctx, creds.TokenSource)
		if err != nil {
			o.err = err
			return
		}
		o.opener = &URLOpener{Client: client}
	})
	if o.err != nil {
		return nil, fmt.Errorf("open collection %s: %v", u, o.err)
	}
	return o.opener.OpenCollectionURL(ctx, u)
}

// Scheme is the URL scheme gcpdatastore registers its URLOpener under on
// recordstore.DefaultMux.
const Scheme = "gcpdatastore"

// URLOpener opens Datastore URLs like
// "gcpdatastore://projects/myproject/kinds/MyKind?key_field=ID".
//
// The URL host and path must have the form "projects/<projectID>/kinds/<kind>".
//
// The following query parameters are supported:
//
//   - key_field (required): the name of the field holding the primary key.
//     Its values must be strings or signed integers, unique over all records
//     in the collection.
//   - revision_field: the name of the field holding the record revision.
//   - namespace: the Datastore namespace for all keys and queries.
//   - archived_field, deleted_field: the names of the lifecycle flag fields.
//   - allow_local_filters: "true" to allow queries that require client-side
//     filter evaluation.
type URLOpener struct {
	// Client must be set to a non-nil client authenticated with Cloud
	// Datastore scope or equivalent.
	Client *vkit.Client
}

// OpenCollectionURL opens a recordstore.Collection based on u.
func (o *URLOpener) OpenCollectionURL(ctx context.Context, u *url.URL) (*recordstore.Collection, error) {
	q := u.Query()
	options := &Options{
		RevisionField: q.Get("revision_field"),
		Namespace:     q.Get("namespace"),
		ArchivedField: q.Get("archived_field"),
		DeletedField:  q.Get("deleted_field"),
	}
	if v := q.Get("allow_local_filters"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("open collection %s: invalid allow_local_filters %q: %v", u, v, err)
		}
		options.AllowLocalFilters = b
	}
	keyField := q.Get("key_field")
	if keyField == "" {
		return nil, fmt.Errorf("open collection %s: key_field is required to open a collection", u)
	}
	q.Del("key_field")
	q.Del("revision_field")
	q.Del("namespace")
	q.Del("archived_field")
	q.Del("deleted_field")
	q.Del("allow_local_filters")
	for param := range q {
		return nil, fmt.Errorf("open collection %s: invalid query parameter %q", u, param)
	}
	projectID, kind, err := parseResourcePath(u)
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %v", u, err)
	}
	return OpenCollection(o.Client, projectID, kind, keyField, options)
}

func parseResourcePath(u *url.URL) (projectID, kind string, err error) {
	parts := strings.Split(strings.Trim(u.Host+u.Path, "/"), "/")
	if len(parts) != 4 || parts[0] != "projects" || parts[2] != "kinds" || parts[1] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("path must have the form projects/<projectID>/kinds/<kind>")
	}
	return parts[1], parts[3], nil
}
