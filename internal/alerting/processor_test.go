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

package alerting

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiwatch.io/kpiwatch-worker/internal/constants"
	"kpiwatch.io/kpiwatch-worker/internal/notify"
	"kpiwatch.io/kpiwatch-worker/internal/status"
	"kpiwatch.io/kpiwatch-worker/internal/store"
	"kpiwatch.io/kpiwatch-worker/internal/threshold"
	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	loggertypes "kpiwatch.io/kpiwatch-worker/internal/types/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
)

var now = time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC)

type fakeEvaluator struct {
	mu       sync.Mutex
	breached map[int64]bool
	failing  map[int64]error
	calls    map[int64]int
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{breached: map[int64]bool{}, failing: map[int64]error{}, calls: map[int64]int{}}
}

func (f *fakeEvaluator) Reevaluate(_ context.Context, item indicator.Item) (threshold.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[item.ID]++
	if err := f.failing[item.ID]; err != nil {
		return threshold.Outcome{}, err
	}
	return threshold.Outcome{Breached: f.breached[item.ID]}, nil
}

type recordingNotifier struct {
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingNotifier) Close() error { return nil }

func testConfig() cfgtypes.AlertProcessingConfig {
	return cfgtypes.AlertProcessingConfig{
		Enabled:                      true,
		IntervalSeconds:              300,
		BatchSize:                    2,
		LookbackHours:                24,
		EnableEscalation:             true,
		EscalationTimeoutMinutes:     60,
		EnableAutoResolution:         true,
		AutoResolutionTimeoutMinutes: 120,
		EvaluationTimeoutSeconds:     5,
	}
}

func item(id int64) indicator.Item {
	return indicator.Item{ID: id, Kind: indicator.KindKPI, Name: "kpi", Active: true}
}

func raise(t *testing.T, st *store.MemoryStore, itemID int64, age time.Duration) indicator.Alert {
	t.Helper()
	alert, created, err := st.RaiseAlert(context.Background(), indicator.Alert{
		ItemID: itemID, ItemName: "kpi", Severity: indicator.SeverityHigh, TriggeredAt: now.Add(-age),
	})
	require.NoError(t, err)
	require.True(t, created)
	return alert
}

func newTestProcessor(st *store.MemoryStore, eval Reevaluator, cfg cfgtypes.AlertProcessingConfig) (*Processor, *recordingNotifier) {
	n := &recordingNotifier{}
	log := logger.DefaultLogger(os.Stdout, loggertypes.LogLevelInfo)
	return NewProcessor(st, eval, n, timer.NewFakeClock(now), cfg, status.NewTracker("unit", nil), "unit", log), n
}

func TestEscalationHappensOnce(t *testing.T) {
	st := store.NewMemoryStore(item(1), item(2))
	eval := newFakeEvaluator()
	eval.breached[1] = true
	young := raise(t, st, 2, 30*time.Minute)
	old := raise(t, st, 1, 90*time.Minute)
	p, n := newTestProcessor(st, eval, testConfig())

	stats, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 1, stats.Escalated)
	assert.Equal(t, 0, stats.Resolved)

	got, err := st.GetAlert(context.Background(), old.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EscalatedAt)
	assert.Equal(t, now, *got.EscalatedAt)
	got, _ = st.GetAlert(context.Background(), young.ID)
	assert.Nil(t, got.EscalatedAt)

	stats, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Escalated, "an escalated alert is not escalated again")
	require.Len(t, n.events, 1)
	assert.Equal(t, notify.EventEscalated, n.events[0].Type)
}

func TestAutoResolveWhenConditionCleared(t *testing.T) {
	st := store.NewMemoryStore(item(1))
	alert := raise(t, st, 1, 3*time.Hour)
	p, n := newTestProcessor(st, newFakeEvaluator(), testConfig())

	stats, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Escalated, "escalation is checked before auto-resolution")
	assert.Equal(t, 1, stats.Resolved)

	got, err := st.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, constants.SystemResolver, got.ResolvedBy)
	assert.Equal(t, constants.AutoResolvedReason, got.ResolutionReason)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, now, *got.ResolvedAt)

	require.Len(t, n.events, 2)
	assert.Equal(t, notify.EventEscalated, n.events[0].Type)
	assert.Equal(t, notify.EventResolved, n.events[1].Type)
}

func TestAutoResolveFailsClosed(t *testing.T) {
	st := store.NewMemoryStore(item(1), item(2))
	eval := newFakeEvaluator()
	eval.breached[1] = true
	eval.failing[2] = errors.New("source timeout")
	stillBad := raise(t, st, 1, 3*time.Hour)
	failing := raise(t, st, 2, 3*time.Hour)
	orphan := raise(t, st, 99, 3*time.Hour) // item no longer exists

	cfg := testConfig()
	cfg.EnableEscalation = false
	p, n := newTestProcessor(st, eval, cfg)

	stats, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, 0, stats.Resolved)
	assert.Equal(t, 1, stats.StillBreached)
	assert.Equal(t, 2, stats.EvaluationFailures)
	assert.Empty(t, n.events)

	for _, id := range []int64{stillBad.ID, failing.ID, orphan.ID} {
		got, err := st.GetAlert(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, got.Resolved, "alert %d", id)
	}
}

func TestAutoResolutionRespectsAgeAndCache(t *testing.T) {
	st := store.NewMemoryStore(item(1))
	eval := newFakeEvaluator()
	raise(t, st, 1, 30*time.Minute)
	p, _ := newTestProcessor(st, eval, testConfig())

	stats, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Resolved)
	assert.Equal(t, 0, eval.calls[1], "young alerts are not re-evaluated")
}

func TestStillBreachedAlertsReevaluatedEachCycle(t *testing.T) {
	st := store.NewMemoryStore(item(1), item(2))
	eval := newFakeEvaluator()
	eval.breached[1] = true
	eval.breached[2] = true
	raise(t, st, 1, 3*time.Hour)
	raise(t, st, 2, 3*time.Hour)

	p, _ := newTestProcessor(st, eval, testConfig())
	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	_, err = p.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, eval.calls[1], "one evaluation per item in each cycle")
	assert.Equal(t, 2, eval.calls[2])
}

func TestPagingCoversAllAlertsInWindow(t *testing.T) {
	items := make([]indicator.Item, 0, 6)
	for id := int64(1); id <= 6; id++ {
		items = append(items, item(id))
	}
	st := store.NewMemoryStore(items...)
	for id := int64(1); id <= 5; id++ {
		raise(t, st, id, 3*time.Hour)
	}
	outside := raise(t, st, 6, 30*time.Hour)

	p, _ := newTestProcessor(st, newFakeEvaluator(), testConfig())
	stats, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Scanned, "batch size 2 still reaches every alert")
	assert.Equal(t, 5, stats.Resolved)
	assert.Equal(t, 1, stats.Expired)

	got, err := st.GetAlert(context.Background(), outside.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved, "alerts older than the lookback window are closed as stale")
	assert.Equal(t, constants.ExpiredReason, got.ResolutionReason)
}

func TestStaleAlertNoLongerBlocksItem(t *testing.T) {
	st := store.NewMemoryStore(item(1), item(2), item(3))
	eval := newFakeEvaluator()
	eval.breached[1] = true
	stale := raise(t, st, 1, 25*time.Hour)
	raise(t, st, 2, 26*time.Hour)
	raise(t, st, 3, 27*time.Hour)

	_, created, err := st.RaiseAlert(context.Background(), indicator.Alert{
		ItemID: 1, ItemName: "kpi", Severity: indicator.SeverityHigh, TriggeredAt: now,
	})
	require.NoError(t, err)
	require.False(t, created, "an open alert dedupes new ones")

	p, n := newTestProcessor(st, eval, testConfig())
	stats, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scanned)
	assert.Equal(t, 3, stats.Expired, "batch size 2 still reaches every stale alert")
	assert.Zero(t, eval.calls[1], "stale alerts are closed without re-evaluation")

	got, err := st.GetAlert(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, constants.SystemResolver, got.ResolvedBy)
	assert.Equal(t, constants.ExpiredReason, got.ResolutionReason)
	require.Len(t, n.events, 3)
	assert.Equal(t, notify.EventResolved, n.events[0].Type)
	assert.Equal(t, stale.ID, n.events[0].Alert.ID)
	assert.True(t, n.events[0].Alert.Resolved)

	fresh, created, err := st.RaiseAlert(context.Background(), indicator.Alert{
		ItemID: 1, ItemName: "kpi", Severity: indicator.SeverityHigh, TriggeredAt: now,
	})
	require.NoError(t, err)
	assert.True(t, created, "the item can raise again once its stale alert is closed")
	assert.NotEqual(t, stale.ID, fresh.ID)
}

func TestProcessorStartStopsOnCancel(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := testConfig()
	cfg.IntervalSeconds = 3600
	p, _ := newTestProcessor(st, newFakeEvaluator(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("processor did not stop")
	}
	assert.Equal(t, "alert-processor", p.Info().Name)
}
