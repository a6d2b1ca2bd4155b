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

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiwatch.io/kpiwatch-worker/internal/threshold"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	loggertypes "kpiwatch.io/kpiwatch-worker/internal/types/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("KPIWATCH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KPIWATCH_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, 4, logger.DefaultLogger(os.Stdout, loggertypes.LogLevelInfo))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testItem(t *testing.T, s *Store) indicator.Item {
	t.Helper()
	id := time.Now().UnixNano() % 1_000_000_000
	item := indicator.Item{
		ID:         id,
		Kind:       indicator.KindKPI,
		Name:       "orders",
		Collector:  "sales",
		Query:      "SELECT 1",
		Parameters: map[string]string{"region": "emea"},
		Frequency:  15 * time.Minute,
		Threshold:  threshold.Definition{Type: threshold.TypeDeviation, Operator: threshold.OpGreaterThan, Value: 10},
		Active:     true,
		Priority:   2,
	}
	require.NoError(t, s.UpsertItem(context.Background(), item))
	t.Cleanup(func() {
		_, _ = s.Pool.Exec(context.Background(), "DELETE FROM monitored_items WHERE id = $1", id)
	})
	return item
}

func TestPostgresItemsAndRunState(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	item := testItem(t, s)

	got, err := s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Name, got.Name)
	assert.Equal(t, item.Frequency, got.Frequency)
	assert.Equal(t, item.Threshold.Type, got.Threshold.Type)
	assert.Equal(t, "emea", got.Parameters["region"])
	assert.Nil(t, got.LastRun)

	now := time.Now().UTC().Truncate(time.Microsecond)
	stale, owned, err := s.TryStartRun(ctx, item.ID, now)
	require.NoError(t, err)
	assert.True(t, owned)
	_, owned, err = s.TryStartRun(ctx, item.ID, now)
	require.NoError(t, err)
	assert.False(t, owned)

	// a sweep hands the item to a new owner; the first owner can no longer release it
	n, err := s.ResetStaleRuns(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	claim, owned, err := s.TryStartRun(ctx, item.ID, now)
	require.NoError(t, err)
	require.True(t, owned)

	released, err := s.FinishRun(ctx, stale, indicator.RunCompletion{FinishedAt: now, Outcome: "late"})
	require.NoError(t, err)
	assert.False(t, released)
	got, err = s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRunning)

	released, err = s.FinishRun(ctx, claim, indicator.RunCompletion{FinishedAt: now, LastRun: &now, Outcome: "ok"})
	require.NoError(t, err)
	assert.True(t, released)
	got, err = s.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.False(t, got.IsRunning)
	require.NotNil(t, got.LastRun)
	assert.True(t, now.Equal(*got.LastRun))

	result := indicator.ExecutionResult{
		ID: uuid.NewString(), ItemID: item.ID, Kind: item.Kind, Success: true,
		Status: indicator.StatusSucceeded, Duration: 1500 * time.Millisecond, Context: indicator.RunManual, StartedAt: now,
	}
	require.NoError(t, s.SaveResult(ctx, result))
	results, err := s.ListResults(ctx, item.ID, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, result.ID, results[0].ID)
	assert.Equal(t, result.Duration, results[0].Duration)
}

func TestPostgresAlertLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	item := testItem(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	alert, created, err := s.RaiseAlert(ctx, indicator.Alert{ItemID: item.ID, ItemName: item.Name, Severity: indicator.SeverityHigh, TriggeredAt: now})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := s.RaiseAlert(ctx, indicator.Alert{ItemID: item.ID, Severity: indicator.SeverityHigh, TriggeredAt: now})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, alert.ID, again.ID)

	open, err := s.ListUnresolvedAlerts(ctx, now.Add(-time.Hour), alert.ID-1, 10)
	require.NoError(t, err)
	require.NotEmpty(t, open)
	assert.Equal(t, alert.ID, open[0].ID)

	ok, err := s.MarkAlertEscalated(ctx, alert.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkAlertEscalated(ctx, alert.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.ResolveAlert(ctx, alert.ID, indicator.Resolution{At: now, By: "System", Reason: "test"})
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.ResolveAlert(ctx, alert.ID, indicator.Resolution{At: now, By: "System"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresExpireAlerts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	item := testItem(t, s)
	now := time.Now().UTC().Truncate(time.Microsecond)

	stale, created, err := s.RaiseAlert(ctx, indicator.Alert{ItemID: item.ID, ItemName: item.Name, Severity: indicator.SeverityHigh, TriggeredAt: now.Add(-48 * time.Hour)})
	require.NoError(t, err)
	require.True(t, created)

	expired, err := s.ExpireAlerts(ctx, now.Add(-24*time.Hour), indicator.Resolution{At: now, By: "System", Reason: "stale"}, 100)
	require.NoError(t, err)
	var found bool
	for _, a := range expired {
		assert.True(t, a.Resolved)
		if a.ID == stale.ID {
			found = true
			assert.Equal(t, "stale", a.ResolutionReason)
		}
	}
	assert.True(t, found)

	_, created, err = s.RaiseAlert(ctx, indicator.Alert{ItemID: item.ID, ItemName: item.Name, Severity: indicator.SeverityHigh, TriggeredAt: now})
	require.NoError(t, err)
	assert.True(t, created, "an expired alert no longer blocks the item")
}
