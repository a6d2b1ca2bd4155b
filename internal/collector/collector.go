// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package collector runs an item's queries against its configured source
// and turns the result into a measurement.
package collector

import (
	"context"
)

// Request describes what to measure for one execution.
type Request struct {
	Query           string
	HistoricalQuery string
	// Field selects the result column. Empty means the first column.
	Field      string
	Parameters map[string]string
}

// Measurement is the value read for one execution. Historical is nil when
// the item has no historical query.
type Measurement struct {
	Current    float64
	Historical *float64
}

// Collector measures values from one source. Implementations must be safe
// for concurrent use and must not share a session between calls.
type Collector interface {
	Collect(ctx context.Context, req Request) (Measurement, error)
	Ping(ctx context.Context) error
	Close() error
}
