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

// Package useragent includes constants and utilities for setting the User-Agent
// for Google Cloud connections.
package useragent

import (
	"fmt"
	"net/http"

	"google.golang.org/api/option"
)

const (
	prefix  = "recordstore"
	version = "0.1.0"
)

// ClientOption returns an option.ClientOption that sets a RecordStore
// User-Agent.
func ClientOption(api string) option.ClientOption {
	return option.WithUserAgent(userAgentString(api))
}

// HTTPClient wraps client and appends a RecordStore User-Agent to requests.
func HTTPClient(client *http.Client, api string) *http.Client {
	c := *client
	c.Transport = &transport{base: client.Transport, api: api}
	return &c
}

type transport struct {
	base http.RoundTripper
	api  string
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := *req
	r.Header = req.Header.Clone()
	r.Header.Add("User-Agent", userAgentString(t.api))
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(&r)
}

func userAgentString(api string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, api, version)
}
