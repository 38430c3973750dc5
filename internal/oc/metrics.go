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

// Package oc supports OpenCensus tracing and metrics for RecordStore APIs.
package oc

import (
	"fmt"
	"reflect"

	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Tags applied to measures.
var (
	// ProviderKey tags the driver package that services the API call.
	ProviderKey = tag.MustNewKey("rs_provider")
	// MethodKey tags the API method.
	MethodKey = tag.MustNewKey("rs_method")
	// StatusKey tags the error code (or "OK") of the completed call.
	StatusKey = tag.MustNewKey("rs_status")
)

// LatencyMeasure returns the measure for method call latency used
// by RecordStore APIs.
func LatencyMeasure(pkg string) *stats.Float64Measure {
	return stats.Float64(
		pkg+"/latency",
		"Latency of method call",
		stats.UnitMilliseconds)
}

// LatencyDistribution is the distribution used for latency histograms.
// These bucket boundaries are modeled on those used by gRPC.
var LatencyDistribution = view.Distribution(
	0, 0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16,
	20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500,
	650, 800, 1000, 2000, 5000, 10000, 20000, 50000, 100000)

// Views returns the views supported by RecordStore APIs.
func Views(pkg string, latencyMeasure *stats.Float64Measure) []*view.View {
	return []*view.View{
		{
			Name:        pkg + "/completed_calls",
			Measure:     latencyMeasure,
			Description: "Count of method calls by driver, method and status.",
			TagKeys:     []tag.Key{ProviderKey, MethodKey, StatusKey},
			Aggregation: view.Count(),
		},
		{
			Name:        pkg + "/latency",
			Measure:     latencyMeasure,
			Description: "Distribution of method latency, by driver and method.",
			TagKeys:     []tag.Key{ProviderKey, MethodKey},
			Aggregation: LatencyDistribution,
		},
	}
}

// ProviderName returns the name of the provider associated with the driver value.
// It is intended to be used for the ProviderKey tag.
func ProviderName(driver interface{}) string {
	// Return the package path of the driver's type.
	if driver == nil {
		return ""
	}
	t := reflect.TypeOf(driver)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return fmt.Sprintf("%s", t.PkgPath())
}
