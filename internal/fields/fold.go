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

package fields

import "bytes"

// foldFunc returns a function that can compare a name to s under Unicode
// simple case folding. Field names are short, so the generality of
// bytes.EqualFold is fine here.
func foldFunc(s []byte) func(s, t []byte) bool {
	_ = s
	return bytes.EqualFold
}
