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

// Package alerting runs the alert processing loop: it escalates alerts left
// open too long and auto-resolves alerts whose condition has cleared.
package alerting

import (
	"context"
	"fmt"
	"time"

	"kpiwatch.io/kpiwatch-worker/internal/constants"
	"kpiwatch.io/kpiwatch-worker/internal/metrics"
	"kpiwatch.io/kpiwatch-worker/internal/notify"
	clrserver "kpiwatch.io/kpiwatch-worker/internal/server"
	"kpiwatch.io/kpiwatch-worker/internal/status"
	"kpiwatch.io/kpiwatch-worker/internal/store"
	"kpiwatch.io/kpiwatch-worker/internal/threshold"
	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
)

// Store is the part of the worker store the processor reads and mutates.
type Store interface {
	store.AlertStore
	GetItem(ctx context.Context, id int64) (indicator.Item, error)
}

// Reevaluator measures an item's condition again without recording a run.
type Reevaluator interface {
	Reevaluate(ctx context.Context, item indicator.Item) (threshold.Outcome, error)
}

// CycleStats summarises one processing cycle.
type CycleStats struct {
	Scanned            int
	Escalated          int
	Resolved           int
	Expired            int
	StillBreached      int
	EvaluationFailures int
}

type Processor struct {
	store     Store
	evaluator Reevaluator
	notifier  notify.Notifier
	clock     timer.Clock
	cfg       cfgtypes.AlertProcessingConfig
	tracker   *status.Tracker
	worker    string
	logger    logger.Logger
}

func NewProcessor(st Store, evaluator Reevaluator, notifier notify.Notifier, clock timer.Clock,
	cfg cfgtypes.AlertProcessingConfig, tracker *status.Tracker, workerName string, log logger.Logger) *Processor {
	if clock == nil {
		clock = timer.RealClock()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = constants.DefaultAlertBatchSize
	}
	return &Processor{
		store:     st,
		evaluator: evaluator,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
		tracker:   tracker,
		worker:    workerName,
		logger:    log.WithName("alerting"),
	}
}

// Start runs processing cycles on the configured interval until ctx is done.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Info("alert processing loop started",
		"interval", p.cfg.Interval(),
		"escalation", p.cfg.EnableEscalation,
		"autoResolution", p.cfg.EnableAutoResolution)

	for ctx.Err() == nil {
		stats, err := p.safeCycle(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error(err, "alert processing cycle failed")
		}
		if p.tracker != nil {
			p.tracker.RecordAlertCycle(stats.Escalated, stats.Resolved+stats.Expired)
		}
		if !timer.Sleep(ctx, p.cfg.Interval()) {
			break
		}
	}

	p.logger.Info("alert processing loop stopped")
	return nil
}

func (p *Processor) safeCycle(ctx context.Context) (stats CycleStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("alert processing panic: %v", r)
		}
	}()
	return p.RunCycle(ctx)
}

// reevaluation is the cached condition of one item within a cycle.
type reevaluation struct {
	cleared bool
	err     error
}

// RunCycle resolves open alerts older than the lookback window as stale,
// then pages through the unresolved alerts of the window and applies
// escalation, then auto-resolution, to each.
func (p *Processor) RunCycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats
	now := p.clock.Now()
	since := now.Add(-p.cfg.Lookback())
	cache := make(map[int64]reevaluation)

	if err := p.expire(ctx, now, since, &stats); err != nil {
		return stats, fmt.Errorf("expire stale alerts: %w", err)
	}

	var afterID int64
	for {
		alerts, err := p.store.ListUnresolvedAlerts(ctx, since, afterID, p.cfg.BatchSize)
		if err != nil {
			return stats, fmt.Errorf("list unresolved alerts: %w", err)
		}

		for _, alert := range alerts {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Scanned++
			p.process(ctx, now, alert, cache, &stats)
			afterID = alert.ID
		}

		if len(alerts) < p.cfg.BatchSize {
			break
		}
	}

	if stats.Scanned > 0 || stats.Expired > 0 {
		p.logger.Info("alert processing cycle finished",
			"scanned", stats.Scanned,
			"escalated", stats.Escalated,
			"resolved", stats.Resolved,
			"expired", stats.Expired,
			"stillBreached", stats.StillBreached,
			"evaluationFailures", stats.EvaluationFailures)
	}
	return stats, nil
}

// expire closes alerts the window no longer reaches. An open alert blocks new
// alerts for its item, so one left behind would silence the item for good.
func (p *Processor) expire(ctx context.Context, now, since time.Time, stats *CycleStats) error {
	res := indicator.Resolution{At: now, By: constants.SystemResolver, Reason: constants.ExpiredReason}
	for {
		alerts, err := p.store.ExpireAlerts(ctx, since, res, p.cfg.BatchSize)
		if err != nil {
			return err
		}
		for _, alert := range alerts {
			stats.Expired++
			metrics.AlertsExpiredTotal.Inc()
			log := p.logger.WithValues("alertId", alert.ID, "itemId", alert.ItemID)
			log.Info("stale alert resolved", "item", alert.ItemName, "triggeredAt", alert.TriggeredAt)
			p.notify(ctx, notify.EventResolved, now, alert, log)
		}
		if len(alerts) < p.cfg.BatchSize {
			return nil
		}
	}
}

func (p *Processor) process(ctx context.Context, now time.Time, alert indicator.Alert, cache map[int64]reevaluation, stats *CycleStats) {
	log := p.logger.WithValues("alertId", alert.ID, "itemId", alert.ItemID)
	age := now.Sub(alert.TriggeredAt)

	if p.cfg.EnableEscalation && alert.EscalatedAt == nil && age >= p.cfg.EscalationTimeout() {
		escalated, err := p.store.MarkAlertEscalated(ctx, alert.ID, now)
		switch {
		case err != nil:
			log.Error(err, "failed to escalate alert")
		case escalated:
			stats.Escalated++
			metrics.AlertsEscalatedTotal.Inc()
			alert.EscalatedAt = &now
			log.Info(constants.EscalationMessage, "item", alert.ItemName, "severity", string(alert.Severity), "age", age.Round(time.Second))
			p.notify(ctx, notify.EventEscalated, now, alert, log)
		}
	}

	if !p.cfg.EnableAutoResolution || age < p.cfg.AutoResolutionTimeout() {
		return
	}

	eval, ok := cache[alert.ItemID]
	if !ok {
		eval = p.reevaluate(ctx, alert.ItemID)
		cache[alert.ItemID] = eval
	}
	if eval.err != nil {
		stats.EvaluationFailures++
		metrics.AlertReevaluationFailuresTotal.Inc()
		log.Info("re-evaluation failed, alert stays open", "error", eval.err.Error())
		return
	}
	if !eval.cleared {
		stats.StillBreached++
		log.V(1).Info("condition still breached, alert stays open")
		return
	}

	res := indicator.Resolution{At: now, By: constants.SystemResolver, Reason: constants.AutoResolvedReason}
	resolved, err := p.store.ResolveAlert(ctx, alert.ID, res)
	if err != nil {
		log.Error(err, "failed to resolve alert")
		return
	}
	if !resolved {
		return
	}
	stats.Resolved++
	metrics.AlertsResolvedTotal.Inc()
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.ResolvedBy = res.By
	alert.ResolutionReason = res.Reason
	log.Info("alert auto-resolved", "item", alert.ItemName)
	p.notify(ctx, notify.EventResolved, now, alert, log)
}

// reevaluate reports whether the item's condition has cleared. Any failure,
// including a missing item, keeps the alert open.
func (p *Processor) reevaluate(ctx context.Context, itemID int64) reevaluation {
	evalCtx := ctx
	if timeout := p.cfg.EvaluationTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	item, err := p.store.GetItem(evalCtx, itemID)
	if err != nil {
		return reevaluation{err: err}
	}
	outcome, err := p.evaluator.Reevaluate(evalCtx, item)
	if err != nil {
		return reevaluation{err: err}
	}
	return reevaluation{cleared: !outcome.Breached}
}

func (p *Processor) notify(ctx context.Context, typ notify.EventType, at time.Time, alert indicator.Alert, log logger.Logger) {
	event := notify.Event{Type: typ, Worker: p.worker, At: at, Alert: alert}
	if err := p.notifier.Notify(ctx, event); err != nil {
		log.Error(err, "failed to send alert notification", "event", string(typ))
	}
}

// Info returns the runner info
func (p *Processor) Info() clrserver.Info {
	return clrserver.Info{Name: "alert-processor"}
}

func (p *Processor) Close() error {
	return nil
}
