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

// Package store defines the persistence contract of the worker: monitored
// items with their run-state flag, execution results and alerts.
package store

import (
	"context"
	"fmt"
	"time"

	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
)

type ItemStore interface {
	ListItems(ctx context.Context, kind indicator.Kind) ([]indicator.Item, error)
	GetItem(ctx context.Context, id int64) (indicator.Item, error)
	// TryStartRun sets the item's running flag if it is clear and reports
	// whether this caller now owns the run. The claim is required to release it.
	TryStartRun(ctx context.Context, id int64, startedAt time.Time) (indicator.RunClaim, bool, error)
	// FinishRun clears the running flag and records the completion, but only
	// while claim still owns the flag. It reports false when ownership was
	// lost, for example to a stale-run sweep followed by a new claim.
	FinishRun(ctx context.Context, claim indicator.RunClaim, done indicator.RunCompletion) (bool, error)
	// ResetStaleRuns clears running flags set before startedBefore.
	ResetStaleRuns(ctx context.Context, startedBefore time.Time) (int, error)
}

type ResultStore interface {
	SaveResult(ctx context.Context, result indicator.ExecutionResult) error
	// ListResults returns an item's latest results, newest first.
	ListResults(ctx context.Context, itemID int64, limit int) ([]indicator.ExecutionResult, error)
}

type AlertStore interface {
	// RaiseAlert stores alert unless the item already has an unresolved
	// alert. It reports whether a new alert was created.
	RaiseAlert(ctx context.Context, alert indicator.Alert) (indicator.Alert, bool, error)
	GetAlert(ctx context.Context, id int64) (indicator.Alert, error)
	// ListUnresolvedAlerts pages through unresolved alerts triggered at or
	// after since, ordered by id, starting after afterID.
	ListUnresolvedAlerts(ctx context.Context, since time.Time, afterID int64, limit int) ([]indicator.Alert, error)
	// MarkAlertEscalated records the escalation once. It reports false when
	// the alert was already escalated or resolved.
	MarkAlertEscalated(ctx context.Context, id int64, at time.Time) (bool, error)
	// ResolveAlert resolves an unresolved alert. It reports false when the
	// alert was already resolved.
	ResolveAlert(ctx context.Context, id int64, res indicator.Resolution) (bool, error)
	// ExpireAlerts resolves up to limit unresolved alerts triggered before
	// the given time, lowest id first, and returns them as resolved.
	ExpireAlerts(ctx context.Context, triggeredBefore time.Time, res indicator.Resolution, limit int) ([]indicator.Alert, error)
}

type Store interface {
	ItemStore
	ResultStore
	AlertStore
	Ping(ctx context.Context) error
	Close() error
}

// Seeder accepts item definitions from a seed file.
type Seeder interface {
	UpsertItem(ctx context.Context, item indicator.Item) error
}

// Seed loads the items of a seed file into s and returns how many were written.
func Seed(ctx context.Context, s Seeder, path string) (int, error) {
	items, err := LoadSeed(path)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if err := s.UpsertItem(ctx, item); err != nil {
			return 0, fmt.Errorf("seed item %d: %w", item.ID, err)
		}
	}
	return len(items), nil
}
