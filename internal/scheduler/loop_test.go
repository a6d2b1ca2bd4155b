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

package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiwatch.io/kpiwatch-worker/internal/collector"
	"kpiwatch.io/kpiwatch-worker/internal/execution"
	"kpiwatch.io/kpiwatch-worker/internal/schedule"
	"kpiwatch.io/kpiwatch-worker/internal/status"
	"kpiwatch.io/kpiwatch-worker/internal/store"
	"kpiwatch.io/kpiwatch-worker/internal/threshold"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	loggertypes "kpiwatch.io/kpiwatch-worker/internal/types/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
	"kpiwatch.io/kpiwatch-worker/internal/worker"
)

type slowSource struct {
	delay    time.Duration
	running  atomic.Int64
	maxSeen  atomic.Int64
	mu       sync.Mutex
	measured map[string]int
}

func (s *slowSource) Collect(ctx context.Context, name string, _ collector.Request) (collector.Measurement, error) {
	n := s.running.Add(1)
	defer s.running.Add(-1)
	for {
		m := s.maxSeen.Load()
		if n <= m || s.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	s.mu.Lock()
	s.measured[name]++
	s.mu.Unlock()

	select {
	case <-time.After(s.delay):
		return collector.Measurement{Current: 50}, nil
	case <-ctx.Done():
		return collector.Measurement{}, ctx.Err()
	}
}

func testLogger() logger.Logger {
	return logger.DefaultLogger(os.Stdout, loggertypes.LogLevelInfo)
}

func kpi(id int64, lastRun *time.Time) indicator.Item {
	return indicator.Item{
		ID:        id,
		Kind:      indicator.KindKPI,
		Name:      "kpi",
		Collector: "sales",
		Frequency: 15 * time.Minute,
		Threshold: threshold.Definition{Type: threshold.TypeAbsolute, Operator: threshold.OpGreaterThan, Value: 100},
		Active:    true,
		LastRun:   lastRun,
	}
}

func TestLoopRunCycleExecutesDueItems(t *testing.T) {
	clock := timer.NewFakeClock(time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC))
	at1445 := time.Date(2024, 3, 11, 14, 45, 0, 0, time.UTC)
	at1455 := time.Date(2024, 3, 11, 14, 55, 0, 0, time.UTC)
	inactive := kpi(4, nil)
	inactive.Active = false

	st := store.NewMemoryStore(kpi(1, &at1445), kpi(2, nil), kpi(3, &at1455), inactive)
	for id := int64(5); id <= 10; id++ {
		require.NoError(t, st.UpsertItem(context.Background(), kpi(id, nil)))
	}
	src := &slowSource{delay: 10 * time.Millisecond, measured: map[string]int{}}
	log := testLogger()

	engine := execution.NewEngine(st, src, nil, clock, "unit", log)
	selector := schedule.NewSelector(indicator.KindKPI, st, schedule.NewBoundaryPolicy(time.UTC), clock,
		schedule.Options{ProcessOnlyActive: true, SkipRunning: true}, log)
	tracker := status.NewTracker("unit", clock)
	loop := NewLoop(NewItemKind(indicator.KindKPI, selector, engine, true), worker.NewWorkerPool(time.Minute, log),
		Options{Interval: time.Minute, MaxParallel: 2, ExecutionTimeout: time.Second}, tracker, log)

	stats, err := loop.RunCycle(context.Background())
	require.NoError(t, err)
	// 14:55 rounds up to the 15:00 boundary, so only the inactive item 4 is left out
	assert.Equal(t, 9, stats.Submitted)
	assert.Equal(t, 9, stats.Succeeded)
	assert.LessOrEqual(t, src.maxSeen.Load(), int64(2))

	items, err := st.ListItems(context.Background(), indicator.KindKPI)
	require.NoError(t, err)
	for _, item := range items {
		assert.False(t, item.IsRunning, "item %d", item.ID)
	}

	// every item ran at 15:00 so nothing is due until 15:15
	stats, err = loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Submitted)

	clock.Advance(15 * time.Minute)
	stats, err = loop.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9, stats.Submitted)
}

// slowReleaseStore makes releasing the running flag take a while.
type slowReleaseStore struct {
	*store.MemoryStore
	delay time.Duration
}

func (s *slowReleaseStore) FinishRun(ctx context.Context, claim indicator.RunClaim, done indicator.RunCompletion) (bool, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.FinishRun(ctx, claim, done)
}

func TestLoopRunCycleReleasesTimedOutItems(t *testing.T) {
	clock := timer.NewFakeClock(time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC))
	st := &slowReleaseStore{MemoryStore: store.NewMemoryStore(kpi(1, nil), kpi(2, nil), kpi(3, nil)), delay: 5 * time.Millisecond}
	src := &slowSource{delay: time.Minute, measured: map[string]int{}}
	log := testLogger()

	engine := execution.NewEngine(st, src, nil, clock, "unit", log)
	selector := schedule.NewSelector(indicator.KindKPI, st, schedule.NewBoundaryPolicy(time.UTC), clock,
		schedule.Options{ProcessOnlyActive: true, SkipRunning: true}, log)
	loop := NewLoop(NewItemKind(indicator.KindKPI, selector, engine, true), worker.NewWorkerPool(time.Minute, log),
		Options{Interval: time.Minute, MaxParallel: 2, ExecutionTimeout: 2 * time.Millisecond}, status.NewTracker("unit", clock), log)

	for cycle := 0; cycle < 5; cycle++ {
		stats, err := loop.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, stats.TimedOut, "cycle %d", cycle)

		items, err := st.ListItems(context.Background(), indicator.KindKPI)
		require.NoError(t, err)
		for _, item := range items {
			assert.False(t, item.IsRunning, "cycle %d item %d", cycle, item.ID)
			assert.Nil(t, item.LastRun, "timed out runs keep the item due")
		}
	}
}

type stubKind struct {
	dueCalls atomic.Int32
	due      func() ([]schedule.DueItem, error)
}

func (s *stubKind) Kind() indicator.Kind { return indicator.KindIndicator }

func (s *stubKind) DueItems(context.Context) ([]schedule.DueItem, error) {
	s.dueCalls.Add(1)
	return s.due()
}

func (s *stubKind) Execute(context.Context, indicator.Item) error { return nil }

func TestLoopReportsPoolStats(t *testing.T) {
	kind := &stubKind{}
	kind.due = func() ([]schedule.DueItem, error) {
		return []schedule.DueItem{{Item: indicator.Item{ID: 1}}, {Item: indicator.Item{ID: 2}}}, nil
	}
	log := testLogger()
	tracker := status.NewTracker("unit", nil)
	loop := NewLoop(kind, worker.NewWorkerPool(time.Second, log), Options{Interval: time.Hour, MaxParallel: 2}, tracker, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Start(ctx) }()

	require.Eventually(t, func() bool {
		return tracker.Snapshot().Loops["indicator"].Pool.CompletedTasks == 2
	}, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	pool := tracker.Snapshot().Loops["indicator"].Pool
	assert.Equal(t, int64(2), pool.TotalSubmitted)
	assert.Equal(t, int64(0), pool.ActiveTasks)
}

func TestLoopSurvivesFailingCycles(t *testing.T) {
	kind := &stubKind{}
	calls := 0
	kind.due = func() ([]schedule.DueItem, error) {
		calls++
		if calls == 1 {
			panic("selector bug")
		}
		return nil, errors.New("store unreachable")
	}
	log := testLogger()
	tracker := status.NewTracker("unit", nil)
	loop := NewLoop(kind, worker.NewWorkerPool(time.Second, log), Options{Interval: 5 * time.Millisecond, MaxParallel: 1}, tracker, log)
	assert.Equal(t, status.LoopIdle, loop.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Start(ctx) }()

	require.Eventually(t, func() bool { return kind.dueCalls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, status.LoopStopped, loop.State())

	snap := tracker.Snapshot()
	assert.GreaterOrEqual(t, snap.Loops["indicator"].Cycles, int64(3))
	assert.Equal(t, status.LoopStopped, snap.Loops["indicator"].State)
	assert.Equal(t, "indicator-scheduler", loop.Info().Name)
}
