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

// Package scheduler runs one periodic scheduling loop per item kind: select
// the due items, dispatch them through the worker pool, sleep, repeat.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"kpiwatch.io/kpiwatch-worker/internal/metrics"
	"kpiwatch.io/kpiwatch-worker/internal/schedule"
	clrserver "kpiwatch.io/kpiwatch-worker/internal/server"
	"kpiwatch.io/kpiwatch-worker/internal/status"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
	"kpiwatch.io/kpiwatch-worker/internal/worker"
)

// ItemKind supplies the kind-specific parts of a loop.
type ItemKind interface {
	Kind() indicator.Kind
	DueItems(ctx context.Context) ([]schedule.DueItem, error)
	Execute(ctx context.Context, item indicator.Item) error
}

type Options struct {
	Interval         time.Duration
	MaxParallel      int
	ExecutionTimeout time.Duration
}

type Loop struct {
	kind    ItemKind
	pool    *worker.WorkerPool
	opts    Options
	tracker *status.Tracker
	state   atomic.Value // status.LoopState
	logger  logger.Logger
}

func NewLoop(kind ItemKind, pool *worker.WorkerPool, opts Options, tracker *status.Tracker, log logger.Logger) *Loop {
	l := &Loop{
		kind:    kind,
		pool:    pool,
		opts:    opts,
		tracker: tracker,
		logger:  log.WithName("scheduler").WithValues("kind", string(kind.Kind())),
	}
	l.setState(status.LoopIdle)
	return l
}

func (l *Loop) name() string { return string(l.kind.Kind()) }

func (l *Loop) setState(s status.LoopState) {
	l.state.Store(s)
	if l.tracker != nil {
		l.tracker.SetLoopState(l.name(), s)
	}
}

// State returns the loop's current lifecycle state.
func (l *Loop) State() status.LoopState {
	return l.state.Load().(status.LoopState)
}

// Start runs cycles until ctx is done. A failing or panicking cycle is
// logged and the loop keeps its interval.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduling loop started",
		"interval", l.opts.Interval,
		"maxParallelItems", l.opts.MaxParallel,
		"executionTimeout", l.opts.ExecutionTimeout)

	for ctx.Err() == nil {
		l.setState(status.LoopRunning)
		stats, err := l.RunCycle(ctx)
		if l.tracker != nil {
			l.tracker.RecordCycle(l.name(), stats, err)
			l.tracker.RecordPool(l.name(), l.pool.GetStats())
		}
		if err != nil && ctx.Err() == nil {
			l.logger.Error(err, "scheduling cycle failed")
		}

		l.setState(status.LoopSleeping)
		if !timer.Sleep(ctx, l.opts.Interval) {
			break
		}
	}

	l.setState(status.LoopStopped)
	l.logger.Info("scheduling loop stopped")
	return nil
}

// RunCycle selects the due items and runs them once.
func (l *Loop) RunCycle(ctx context.Context) (stats worker.BatchStats, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduling cycle panic: %v", r)
		}
		metrics.CycleDuration.WithLabelValues(l.name()).Observe(time.Since(started).Seconds())
	}()

	due, err := l.kind.DueItems(ctx)
	if err != nil {
		return worker.BatchStats{}, err
	}
	metrics.DueItems.WithLabelValues(l.name()).Set(float64(len(due)))
	if len(due) == 0 {
		l.logger.V(1).Info("no due items")
		return worker.BatchStats{}, nil
	}

	tasks := make([]worker.Task, 0, len(due))
	for _, d := range due {
		item := d.Item
		tasks = append(tasks, worker.TaskFunc{
			Name:  fmt.Sprintf("%s-%d", l.name(), item.ID),
			Limit: l.opts.ExecutionTimeout,
			Fn: func(ctx context.Context) error {
				return l.kind.Execute(ctx, item)
			},
		})
	}

	stats = l.pool.RunBatch(ctx, tasks, l.opts.MaxParallel)
	l.logger.Info("scheduling cycle finished",
		"due", len(due),
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"timedOut", stats.TimedOut,
		"cancelled", stats.Cancelled,
		"skipped", stats.Skipped,
		"duration", stats.Duration)
	return stats, nil
}

// Info returns the runner info
func (l *Loop) Info() clrserver.Info {
	return clrserver.Info{Name: l.name() + "-scheduler"}
}

func (l *Loop) Close() error {
	return nil
}
