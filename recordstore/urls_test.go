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
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeOpener struct {
	u *url.URL // last opened URL
}

func (o *fakeOpener) OpenCollectionURL(ctx context.Context, u *url.URL) (*Collection, error) {
	o.u = u
	return nil, nil
}

func TestMux(t *testing.T) {
	ctx := context.Background()

	mux := new(URLMux)
	fake := &fakeOpener{}
	mux.RegisterCollection("foo", fake)
	mux.RegisterCollection("err", &erroringOpener{})

	if diff := cmp.Diff(mux.CollectionSchemes(), []string{"err", "foo"}); diff != "" {
		t.Error(diff)
	}
	if !mux.ValidCollectionScheme("foo") || !mux.ValidCollectionScheme("err") {
		t.Error("ValidCollectionScheme didn't return true for registered scheme")
	}
	if mux.ValidCollectionScheme("foo2") || mux.ValidCollectionScheme("http") {
		t.Error("ValidCollectionScheme didn't return false for unregistered scheme")
	}

	for _, test := range []struct {
		name    string
		url     string
		wantErr bool
	}{
		{
			name:    "empty URL",
			wantErr: true,
		},
		{
			name:    "invalid URL",
			url:     ":foo",
			wantErr: true,
		},
		{
			name:    "invalid URL no scheme",
			url:     "foo",
			wantErr: true,
		},
		{
			name:    "unregistered scheme",
			url:     "bar://mycollection",
			wantErr: true,
		},
		{
			name:    "func returns error",
			url:     "err://mycollection",
			wantErr: true,
		},
		{
			name: "no query options",
			url:  "foo://mycollection",
		},
		{
			name: "empty query options",
			url:  "foo://mycollection?",
		},
		{
			name: "query options",
			url:  "foo://mycollection?aAa=bBb&cCc=dDd",
		},
		{
			name: "multiple query options",
			url:  "foo://mycollection?x=a&x=b&x=c",
		},
		{
			name: "fancy collection name",
			url:  "foo:///foo/bar/baz",
		},
		{
			name: "using api scheme prefix",
			url:  "recordstore+foo://mycollection",
		},
		{
			name: "using api+type scheme prefix",
			url:  "recordstore+collection+foo://mycollection",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			_, gotErr := mux.OpenCollection(ctx, test.url)
			if (gotErr != nil) != test.wantErr {
				t.Fatalf("got err %v, want error %v", gotErr, test.wantErr)
			}
			if gotErr != nil {
				return
			}
			want, err := url.Parse(test.url)
			if err != nil {
				t.Fatal(err)
			}
			// Scheme prefixes are stripped before the opener sees the URL.
			if fake.u.Host != want.Host || fake.u.Path != want.Path || fake.u.RawQuery != want.RawQuery {
				t.Errorf("got url %q, want %q", fake.u.String(), test.url)
			}
			// Repeat with OpenCollectionURL.
			parsed, err := url.Parse(test.url)
			if err != nil {
				t.Fatal(err)
			}
			_, gotErr = mux.OpenCollectionURL(ctx, parsed)
			if gotErr != nil {
				t.Fatalf("got err %v, want nil", gotErr)
			}
		})
	}
}

type erroringOpener struct{}

func (o *erroringOpener) OpenCollectionURL(ctx context.Context, u *url.URL) (*Collection, error) {
	return nil, context.Canceled
}
