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

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

// Task represents one item execution submitted to the pool. Execute must
// return soon after its context is done.
type Task interface {
	ID() string
	Execute(ctx context.Context) error
	Timeout() time.Duration
}

// TaskFunc adapts a function to Task.
type TaskFunc struct {
	Name  string
	Limit time.Duration
	Fn    func(ctx context.Context) error
}

func (t TaskFunc) ID() string                        { return t.Name }
func (t TaskFunc) Timeout() time.Duration            { return t.Limit }
func (t TaskFunc) Execute(ctx context.Context) error { return t.Fn(ctx) }

// BatchStats summarises one RunBatch call.
type BatchStats struct {
	Submitted    int           `json:"submitted"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	TimedOut     int           `json:"timedOut"`
	Cancelled    int           `json:"cancelled"`
	Skipped      int           `json:"skipped"`
	PeakInFlight int64         `json:"peakInFlight"`
	Duration     time.Duration `json:"duration"`
}

func (s *BatchStats) add(status indicator.ResultStatus) {
	switch status {
	case indicator.StatusSucceeded:
		s.Succeeded++
	case indicator.StatusTimedOut:
		s.TimedOut++
	case indicator.StatusCancelled:
		s.Cancelled++
	case indicator.StatusSkipped:
		s.Skipped++
	default:
		s.Failed++
	}
}

// WorkerPoolStats contains lifetime statistics about the worker pool
type WorkerPoolStats struct {
	ActiveTasks    int64 `json:"activeTasks"`
	CompletedTasks int64 `json:"completedTasks"`
	FailedTasks    int64 `json:"failedTasks"`
	TotalSubmitted int64 `json:"totalSubmitted"`
}

// WorkerPool runs batches of tasks with bounded parallelism. Each task gets
// its own timeout and a panicking task only fails itself.
type WorkerPool struct {
	defaultTimeout time.Duration

	inFlight atomic.Int64
	stats    WorkerPoolStats

	logger logger.Logger
}

func NewWorkerPool(defaultTimeout time.Duration, logger logger.Logger) *WorkerPool {
	return &WorkerPool{
		defaultTimeout: defaultTimeout,
		logger:         logger.WithName("worker-pool"),
	}
}

// RunBatch runs tasks with at most maxParallel in flight and returns once
// every started task has returned. Tasks not started when ctx ends count as
// cancelled.
func (wp *WorkerPool) RunBatch(ctx context.Context, tasks []Task, maxParallel int) BatchStats {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	started := time.Now()
	stats := BatchStats{Submitted: len(tasks)}
	if len(tasks) == 0 {
		return stats
	}

	sem := semaphore.NewWeighted(int64(maxParallel))
	outcomes := make([]indicator.ResultStatus, len(tasks))
	var peak atomic.Int64
	var wg sync.WaitGroup

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < len(tasks); j++ {
				outcomes[j] = indicator.StatusCancelled
			}
			wp.logger.Info("batch cancelled before all tasks started", "notStarted", len(tasks)-i)
			break
		}
		atomic.AddInt64(&wp.stats.TotalSubmitted, 1)

		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			outcomes[i] = wp.executeTask(ctx, task, sem, &peak)
		}(i, task)
	}
	wg.Wait()

	for _, status := range outcomes {
		stats.add(status)
	}
	stats.PeakInFlight = peak.Load()
	stats.Duration = time.Since(started)
	return stats
}

// executeTask executes a single task with timeout handling. A task past its
// deadline is reported but still awaited, so its bookkeeping and semaphore
// slot are released before the batch returns.
func (wp *WorkerPool) executeTask(ctx context.Context, task Task, sem *semaphore.Weighted, peak *atomic.Int64) indicator.ResultStatus {
	timeout := task.Timeout()
	if timeout <= 0 {
		timeout = wp.defaultTimeout
	}
	var (
		tctx   context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		tctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		tctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	n := wp.inFlight.Add(1)
	atomic.AddInt64(&wp.stats.ActiveTasks, 1)
	for {
		p := peak.Load()
		if n <= p || peak.CompareAndSwap(p, n) {
			break
		}
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				wp.logger.Info("task execution panic recovered", "task", task.ID(), "error", r)
				done <- fmt.Errorf("%w: panic: %v", workererr.ExecutionFailed, r)
			}
		}()
		done <- task.Execute(tctx)
	}()

	var status indicator.ResultStatus
	select {
	case err := <-done:
		status = Classify(err)
		if err != nil && status != indicator.StatusSkipped {
			wp.logger.Info("task execution failed", "task", task.ID(), "status", string(status), "error", err.Error())
		}
	case <-tctx.Done():
		status = Classify(tctx.Err())
		wp.logger.Info("task execution interrupted, waiting for it to return", "task", task.ID(), "status", string(status), "timeout", timeout)
		<-done
	}

	wp.inFlight.Add(-1)
	atomic.AddInt64(&wp.stats.ActiveTasks, -1)
	sem.Release(1)

	if status == indicator.StatusSucceeded || status == indicator.StatusSkipped {
		atomic.AddInt64(&wp.stats.CompletedTasks, 1)
	} else {
		atomic.AddInt64(&wp.stats.FailedTasks, 1)
	}
	return status
}

// Classify maps an execution error to its result status.
func Classify(err error) indicator.ResultStatus {
	switch {
	case err == nil:
		return indicator.StatusSucceeded
	case errors.Is(err, workererr.ItemBusy):
		return indicator.StatusSkipped
	case errors.Is(err, workererr.ExecutionTimedOut), errors.Is(err, context.DeadlineExceeded):
		return indicator.StatusTimedOut
	case errors.Is(err, workererr.ExecutionCancelled), errors.Is(err, context.Canceled):
		return indicator.StatusCancelled
	default:
		return indicator.StatusFailed
	}
}

// GetStats returns current statistics
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	return WorkerPoolStats{
		ActiveTasks:    atomic.LoadInt64(&wp.stats.ActiveTasks),
		CompletedTasks: atomic.LoadInt64(&wp.stats.CompletedTasks),
		FailedTasks:    atomic.LoadInt64(&wp.stats.FailedTasks),
		TotalSubmitted: atomic.LoadInt64(&wp.stats.TotalSubmitted),
	}
}
