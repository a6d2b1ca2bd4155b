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

// Package status keeps the worker status that operators query on demand.
package status

import (
	"os"
	"sort"
	"sync"
	"time"

	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
	"kpiwatch.io/kpiwatch-worker/internal/worker"
)

// LoopState is the lifecycle state of a scheduling loop.
type LoopState string

const (
	LoopIdle     LoopState = "idle"
	LoopRunning  LoopState = "running"
	LoopSleeping LoopState = "sleeping"
	LoopStopped  LoopState = "stopped"
)

type LoopStatus struct {
	State             LoopState     `json:"state"`
	Cycles            int64         `json:"cycles"`
	Processed         int64         `json:"processed"`
	Succeeded         int64         `json:"succeeded"`
	Failed            int64         `json:"failed"`
	TimedOut          int64         `json:"timedOut"`
	Cancelled         int64         `json:"cancelled"`
	Skipped           int64         `json:"skipped"`
	LastCycleAt       *time.Time    `json:"lastCycleAt,omitempty"`
	LastCycleDuration time.Duration `json:"lastCycleDuration"`
	LastError         string        `json:"lastError,omitempty"`
	// Pool holds the lifetime counters of the loop's own worker pool.
	Pool worker.WorkerPoolStats `json:"pool"`
}

type AlertStatus struct {
	Cycles    int64 `json:"cycles"`
	Escalated int64 `json:"escalated"`
	Resolved  int64 `json:"resolved"`
}

type CheckStatus struct {
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Snapshot is a point-in-time copy of the worker status.
type Snapshot struct {
	Name         string                 `json:"name"`
	Running      bool                   `json:"running"`
	Pid          int                    `json:"pid"`
	StartedAt    time.Time              `json:"startedAt"`
	Uptime       string                 `json:"uptime"`
	LastActivity *time.Time             `json:"lastActivity,omitempty"`
	Loops        map[string]LoopStatus  `json:"loops"`
	Alerts       AlertStatus            `json:"alerts"`
	Checks       map[string]CheckStatus `json:"checks"`
}

// Tracker is safe for concurrent use by every loop of the worker.
type Tracker struct {
	mu           sync.RWMutex
	name         string
	clock        timer.Clock
	pid          int
	startedAt    time.Time
	running      bool
	lastActivity *time.Time
	loops        map[string]*LoopStatus
	alerts       AlertStatus
	checks       map[string]CheckStatus
}

func NewTracker(name string, clock timer.Clock) *Tracker {
	if clock == nil {
		clock = timer.RealClock()
	}
	return &Tracker{
		name:      name,
		clock:     clock,
		pid:       os.Getpid(),
		startedAt: clock.Now(),
		loops:     make(map[string]*LoopStatus),
		checks:    make(map[string]CheckStatus),
	}
}

func (t *Tracker) SetRunning(running bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = running
}

func (t *Tracker) loop(name string) *LoopStatus {
	l, ok := t.loops[name]
	if !ok {
		l = &LoopStatus{State: LoopIdle}
		t.loops[name] = l
	}
	return l
}

func (t *Tracker) touch() {
	now := t.clock.Now()
	t.lastActivity = &now
}

func (t *Tracker) SetLoopState(name string, state LoopState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loop(name).State = state
}

// RecordCycle adds one finished scheduling cycle of a loop.
func (t *Tracker) RecordCycle(name string, stats worker.BatchStats, cycleErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l := t.loop(name)
	l.Cycles++
	l.Processed += int64(stats.Submitted)
	l.Succeeded += int64(stats.Succeeded)
	l.Failed += int64(stats.Failed)
	l.TimedOut += int64(stats.TimedOut)
	l.Cancelled += int64(stats.Cancelled)
	l.Skipped += int64(stats.Skipped)
	now := t.clock.Now()
	l.LastCycleAt = &now
	l.LastCycleDuration = stats.Duration
	l.LastError = ""
	if cycleErr != nil {
		l.LastError = cycleErr.Error()
	}
	t.touch()
}

func (t *Tracker) RecordPool(name string, stats worker.WorkerPoolStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loop(name).Pool = stats
}

func (t *Tracker) RecordAlertCycle(escalated, resolved int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alerts.Cycles++
	t.alerts.Escalated += int64(escalated)
	t.alerts.Resolved += int64(resolved)
	t.touch()
}

func (t *Tracker) RecordCheck(check string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cs := CheckStatus{Healthy: err == nil, CheckedAt: t.clock.Now()}
	if err != nil {
		cs.Error = err.Error()
	}
	t.checks[check] = cs
}

// Healthy reports whether every recorded check passed last time it ran.
func (t *Tracker) Healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, c := range t.checks {
		if !c.Healthy {
			return false
		}
	}
	return true
}

// FailingChecks returns the names of checks that failed last time, sorted.
func (t *Tracker) FailingChecks() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var failing []string
	for name, c := range t.checks {
		if !c.Healthy {
			failing = append(failing, name)
		}
	}
	sort.Strings(failing)
	return failing
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		Name:      t.name,
		Running:   t.running,
		Pid:       t.pid,
		StartedAt: t.startedAt,
		Uptime:    t.clock.Now().Sub(t.startedAt).Round(time.Second).String(),
		Loops:     make(map[string]LoopStatus, len(t.loops)),
		Alerts:    t.alerts,
		Checks:    make(map[string]CheckStatus, len(t.checks)),
	}
	if t.lastActivity != nil {
		at := *t.lastActivity
		snap.LastActivity = &at
	}
	for name, l := range t.loops {
		snap.Loops[name] = *l
	}
	for name, c := range t.checks {
		snap.Checks[name] = c
	}
	return snap
}
