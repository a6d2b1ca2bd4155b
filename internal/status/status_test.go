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

package status

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
	"kpiwatch.io/kpiwatch-worker/internal/worker"
)

func TestTrackerSnapshot(t *testing.T) {
	clock := timer.NewFakeClock(time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC))
	tr := NewTracker("unit", clock)
	tr.SetRunning(true)

	snap := tr.Snapshot()
	assert.True(t, snap.Running)
	assert.Nil(t, snap.LastActivity)
	assert.Equal(t, "0s", snap.Uptime)

	tr.SetLoopState("kpi", LoopRunning)
	clock.Advance(90 * time.Second)
	tr.RecordCycle("kpi", worker.BatchStats{Submitted: 4, Succeeded: 2, Failed: 1, TimedOut: 1, Duration: time.Second}, nil)
	tr.RecordCycle("kpi", worker.BatchStats{Submitted: 1, Skipped: 1}, errors.New("store down"))
	tr.RecordPool("kpi", worker.WorkerPoolStats{CompletedTasks: 3, FailedTasks: 2, TotalSubmitted: 5})
	tr.SetLoopState("kpi", LoopSleeping)
	tr.RecordAlertCycle(1, 2)

	snap = tr.Snapshot()
	kpi := snap.Loops["kpi"]
	assert.Equal(t, LoopSleeping, kpi.State)
	assert.Equal(t, int64(2), kpi.Cycles)
	assert.Equal(t, int64(5), kpi.Processed)
	assert.Equal(t, int64(1), kpi.TimedOut)
	assert.Equal(t, int64(1), kpi.Skipped)
	assert.Equal(t, "store down", kpi.LastError)
	assert.Equal(t, int64(5), kpi.Pool.TotalSubmitted)
	assert.Equal(t, AlertStatus{Cycles: 1, Escalated: 1, Resolved: 2}, snap.Alerts)
	require.NotNil(t, snap.LastActivity)
	assert.Equal(t, clock.Now(), *snap.LastActivity)
	assert.Equal(t, "1m30s", snap.Uptime)

	_, err := json.Marshal(snap)
	require.NoError(t, err)
}

func TestTrackerChecks(t *testing.T) {
	tr := NewTracker("unit", timer.NewFakeClock(time.Unix(0, 0)))
	assert.True(t, tr.Healthy())

	tr.RecordCheck("store", errors.New("connection refused"))
	tr.RecordCheck("source:sales", nil)
	assert.False(t, tr.Healthy())
	assert.Equal(t, []string{"store"}, tr.FailingChecks())

	tr.RecordCheck("store", nil)
	assert.True(t, tr.Healthy())
}
