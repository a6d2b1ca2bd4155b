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

// Package health runs the slow heartbeat loop that checks store and source
// connectivity and logs process resource usage.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"kpiwatch.io/kpiwatch-worker/internal/metrics"
	clrserver "kpiwatch.io/kpiwatch-worker/internal/server"
	"kpiwatch.io/kpiwatch-worker/internal/status"
	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
)

const storeCheck = "store"

type Pinger interface {
	Ping(ctx context.Context) error
}

// SourcePinger pings every configured source by name.
type SourcePinger interface {
	Ping(ctx context.Context) map[string]error
}

type Checker struct {
	store   Pinger
	sources SourcePinger
	cfg     cfgtypes.HealthCheckConfig
	tracker *status.Tracker
	logger  logger.Logger
}

func NewChecker(st Pinger, sources SourcePinger, cfg cfgtypes.HealthCheckConfig, tracker *status.Tracker, log logger.Logger) *Checker {
	return &Checker{
		store:   st,
		sources: sources,
		cfg:     cfg,
		tracker: tracker,
		logger:  log.WithName("health"),
	}
}

func (c *Checker) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if t := c.cfg.Timeout(); t > 0 {
		return context.WithTimeout(ctx, t)
	}
	return context.WithCancel(ctx)
}

// StartupCheck verifies the store is reachable. The worker must not start
// its loops when it fails.
func (c *Checker) StartupCheck(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.store.Ping(ctx); err != nil {
		c.logger.Error(workererr.HealthCheckFailed, "startup check failed", "check", storeCheck, "error", err.Error())
		return fmt.Errorf("%w: %s: %w", workererr.HealthCheckFailed, storeCheck, err)
	}
	c.logger.Info("startup check passed")
	return nil
}

// Check runs every check once and returns the failures joined in one error.
// Source failures are reported but the worker keeps running.
func (c *Checker) Check(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	results := map[string]error{storeCheck: c.store.Ping(ctx)}
	if c.sources != nil {
		for name, err := range c.sources.Ping(ctx) {
			results["source:"+name] = err
		}
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		err := results[name]
		if c.tracker != nil {
			c.tracker.RecordCheck(name, err)
		}
		if err != nil {
			metrics.HealthStatus.WithLabelValues(name).Set(0)
			c.logger.Error(workererr.HealthCheckFailed, "health check failed", "check", name, "error", err.Error())
			failed = append(failed, name)
			continue
		}
		metrics.HealthStatus.WithLabelValues(name).Set(1)
	}

	c.logResources()
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", workererr.HealthCheckFailed, strings.Join(failed, ", "))
	}
	return nil
}

func (c *Checker) logResources() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.logger.Info("resource usage",
		"goroutines", runtime.NumGoroutine(),
		"heapAllocMB", mem.HeapAlloc/1024/1024,
		"sysMB", mem.Sys/1024/1024,
		"numGC", mem.NumGC)
}

// Healthz reports the state of the last checks without running them.
func (c *Checker) Healthz(context.Context) error {
	if c.tracker == nil {
		return nil
	}
	if failing := c.tracker.FailingChecks(); len(failing) > 0 {
		return fmt.Errorf("%w: %s", workererr.HealthCheckFailed, strings.Join(failing, ", "))
	}
	return nil
}

// Start runs Check on the configured interval until ctx is done. Failures
// are logged and never stop the worker.
func (c *Checker) Start(ctx context.Context) error {
	interval := c.cfg.Interval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	c.logger.Info("health loop started", "interval", interval)

	for ctx.Err() == nil {
		_ = c.Check(ctx)
		if !timer.Sleep(ctx, interval) {
			break
		}
	}

	c.logger.Info("health loop stopped")
	return nil
}

// Info returns the runner info
func (c *Checker) Info() clrserver.Info {
	return clrserver.Info{Name: "health-checker"}
}

func (c *Checker) Close() error {
	return nil
}
