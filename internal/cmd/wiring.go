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

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kpiwatch.io/kpiwatch-worker/internal/alerting"
	"kpiwatch.io/kpiwatch-worker/internal/collector"
	"kpiwatch.io/kpiwatch-worker/internal/constants"
	"kpiwatch.io/kpiwatch-worker/internal/execution"
	"kpiwatch.io/kpiwatch-worker/internal/health"
	"kpiwatch.io/kpiwatch-worker/internal/notify"
	"kpiwatch.io/kpiwatch-worker/internal/schedule"
	"kpiwatch.io/kpiwatch-worker/internal/scheduler"
	clrserver "kpiwatch.io/kpiwatch-worker/internal/server"
	"kpiwatch.io/kpiwatch-worker/internal/status"
	"kpiwatch.io/kpiwatch-worker/internal/store"
	"kpiwatch.io/kpiwatch-worker/internal/store/postgres"
	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
	"kpiwatch.io/kpiwatch-worker/internal/worker"
)

// app holds the long-lived collaborators shared by the commands.
type app struct {
	srv      *clrserver.Server
	store    store.Store
	registry *collector.Registry
	notifier notify.Notifier
	engine   *execution.Engine
	tracker  *status.Tracker
	checker  *health.Checker
	clock    timer.Clock
}

// openStore connects the configured store and loads the seed file if any.
func openStore(ctx context.Context, srv *clrserver.Server) (store.Store, error) {
	cfg := srv.Config.Worker.Store
	log := srv.Logger.WithName("store")

	var st interface {
		store.Store
		store.Seeder
	}
	switch cfg.Driver {
	case constants.StoreDriverMemory:
		st = store.NewMemoryStore()
	case constants.StoreDriverPostgres:
		pg, err := postgres.New(ctx, cfg.DSN, cfg.MaxConns, log)
		if err != nil {
			return nil, err
		}
		st = pg
	default:
		return nil, fmt.Errorf("%w: %q", workererr.StoreDriverUnknown, cfg.Driver)
	}

	if cfg.SeedFile != "" {
		n, err := store.Seed(ctx, st, cfg.SeedFile)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		log.Info("seed items loaded", "file", cfg.SeedFile, "items", n)
	}
	return st, nil
}

func buildNotifier(srv *clrserver.Server) notify.Notifier {
	cfg := srv.Config.Worker.Notify
	notifiers := notify.Multi{notify.NewLogNotifier(srv.Logger)}
	if cfg.NATS.Enabled {
		n, err := notify.NewNATSNotifier(cfg.NATS.URL, cfg.NATS.SubjectPrefix, srv.Name, srv.Logger)
		if err != nil {
			// alerts are still persisted and logged without the bus
			srv.Logger.Error(err, "nats notifier disabled")
		} else {
			notifiers = append(notifiers, n)
		}
	}
	return notifiers
}

func newApp(ctx context.Context, srv *clrserver.Server) (*app, error) {
	cfg := srv.Config.Worker

	st, err := openStore(ctx, srv)
	if err != nil {
		return nil, err
	}

	registry, err := collector.BuildRegistry(cfg.Sources, cfg.Breaker, cfg.SecretKey, srv.Logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	clock := timer.RealClock()
	notifier := buildNotifier(srv)
	tracker := status.NewTracker(srv.Name, clock)

	return &app{
		srv:      srv,
		store:    st,
		registry: registry,
		notifier: notifier,
		engine:   execution.NewEngine(st, registry, notifier, clock, srv.Name, srv.Logger),
		tracker:  tracker,
		checker:  health.NewChecker(st, registry, cfg.HealthChecks, tracker, srv.Logger),
		clock:    clock,
	}, nil
}

// resetStaleRuns clears running flags left behind by a previous process.
// A flag older than the largest execution timeout cannot belong to a live run.
func (a *app) resetStaleRuns(ctx context.Context) (int, error) {
	cutoff := a.clock.Now().Add(-a.srv.Config.Worker.MaxExecutionTimeout())
	return a.store.ResetStaleRuns(ctx, cutoff)
}

func (a *app) schedulingLoop(kind indicator.Kind, runCfg cfgtypes.WorkerRunConfig, pool *worker.WorkerPool) (*scheduler.Loop, error) {
	loc, err := a.srv.Config.Worker.Location()
	if err != nil {
		return nil, err
	}
	selector := schedule.NewSelector(kind, a.store, schedule.PolicyFor(kind, loc), a.clock, schedule.Options{
		ProcessOnlyActive: runCfg.ProcessOnlyActive,
		SkipRunning:       runCfg.SkipRunning,
	}, a.srv.Logger.WithName("scheduler"))

	return scheduler.NewLoop(
		scheduler.NewItemKind(kind, selector, a.engine, runCfg.SaveResults),
		pool,
		scheduler.Options{
			Interval:         runCfg.Interval(),
			MaxParallel:      runCfg.MaxParallelItems,
			ExecutionTimeout: runCfg.ExecutionTimeout(),
		},
		a.tracker,
		a.srv.Logger,
	), nil
}

func (a *app) alertProcessor() *alerting.Processor {
	return alerting.NewProcessor(a.store, a.engine, a.notifier, a.clock,
		a.srv.Config.Worker.AlertProcessing, a.tracker, a.srv.Name, a.srv.Logger)
}

func (a *app) Close() error {
	return errors.Join(a.notifier.Close(), a.registry.Close(), a.store.Close())
}

func storeTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 30*time.Second)
}
