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

package err

import "errors"

// Worker Server Error Types
var (
	WorkerConfigIsNil   = errors.New("worker config is nil")
	WorkerConfigInvalid = errors.New("worker config is invalid")
	WorkerServerStop    = errors.New("worker server stop")
	StoreDriverUnknown  = errors.New("unknown store driver")
)

// Execution Error Types
var (
	// ItemBusy is returned when another run already owns the item's run-state flag.
	ItemBusy           = errors.New("item is already running")
	ExecutionFailed    = errors.New("execution failed")
	ExecutionTimedOut  = errors.New("execution timed out")
	ExecutionCancelled = errors.New("execution cancelled")
	InvalidSchedule    = errors.New("item has no usable schedule")
)

// Store Error Types
var (
	ItemNotFound     = errors.New("item not found")
	AlertNotFound    = errors.New("alert not found")
	StoreUnreachable = errors.New("store unreachable")
)

// Collector Error Types
var (
	UnknownCollector  = errors.New("no collector registered for reference")
	SourceUnavailable = errors.New("source temporarily unavailable")
	NoValue           = errors.New("query returned no value")
)

// Health Error Types
var (
	HealthCheckFailed = errors.New("health check failed")
)

// Banner Error Types
var (
	BannerPrintReaderError  = errors.New("print banner error")
	BannerPrintExecuteError = errors.New("print banner execute error")
)
