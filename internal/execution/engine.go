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

// Package execution runs a single monitored item: it owns the item's
// run-state flag for the duration of the run, measures the value, evaluates
// the threshold, persists the result and raises an alert on breach.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kpiwatch.io/kpiwatch-worker/internal/collector"
	"kpiwatch.io/kpiwatch-worker/internal/metrics"
	"kpiwatch.io/kpiwatch-worker/internal/notify"
	"kpiwatch.io/kpiwatch-worker/internal/store"
	"kpiwatch.io/kpiwatch-worker/internal/threshold"
	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
	"kpiwatch.io/kpiwatch-worker/internal/util/unit"
)

// bookkeepingTimeout bounds the writes done after a run on a context that
// no longer carries the run's cancellation.
const bookkeepingTimeout = 10 * time.Second

// Source measures values from a named collector.
type Source interface {
	Collect(ctx context.Context, name string, req collector.Request) (collector.Measurement, error)
}

type Engine struct {
	store    store.Store
	source   Source
	notifier notify.Notifier
	clock    timer.Clock
	worker   string
	logger   logger.Logger
}

func NewEngine(st store.Store, source Source, notifier notify.Notifier, clock timer.Clock, workerName string, log logger.Logger) *Engine {
	if clock == nil {
		clock = timer.RealClock()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		store:    st,
		source:   source,
		notifier: notifier,
		clock:    clock,
		worker:   workerName,
		logger:   log.WithName("execution"),
	}
}

// Execute runs item once. The returned error is nil only for a successful
// run; it wraps ItemBusy when another run owns the item, and one of
// ExecutionTimedOut, ExecutionCancelled or ExecutionFailed otherwise. The
// running flag is always released before Execute returns, even when ctx is
// cancelled.
func (e *Engine) Execute(ctx context.Context, item indicator.Item, runCtx indicator.RunContext, save bool) (indicator.ExecutionResult, error) {
	log := e.logger.WithValues("itemId", item.ID, "kind", string(item.Kind), "context", string(runCtx))
	started := e.clock.Now()
	result := indicator.ExecutionResult{
		ID:        uuid.NewString(),
		ItemID:    item.ID,
		Kind:      item.Kind,
		Context:   runCtx,
		StartedAt: started,
	}

	claim, owned, err := e.store.TryStartRun(ctx, item.ID, started)
	if err != nil {
		result.Status = indicator.StatusFailed
		result.Error = err.Error()
		return result, fmt.Errorf("%w: item %d: claim run: %w", workererr.ExecutionFailed, item.ID, err)
	}
	if !owned {
		log.V(1).Info("item already running, skipped")
		result.Status = indicator.StatusSkipped
		metrics.ItemsProcessedTotal.WithLabelValues(string(item.Kind), string(result.Status)).Inc()
		return result, fmt.Errorf("item %d: %w", item.ID, workererr.ItemBusy)
	}

	bookkeeping, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	defer func() {
		done := indicator.RunCompletion{FinishedAt: e.clock.Now(), Outcome: result.Outcome()}
		if result.Success {
			done.LastRun = &started
		}
		released, err := e.store.FinishRun(bookkeeping, claim, done)
		switch {
		case err != nil:
			log.Error(err, "failed to release running flag")
		case !released:
			metrics.RunReleasesLostTotal.Inc()
			log.Info("running flag now belongs to another run, release skipped", "runToken", claim.Token)
		}
	}()

	runErr := e.run(ctx, item, &result)
	result.Duration = e.clock.Now().Sub(started)
	metrics.ObserveExecution(string(item.Kind), string(result.Status), result.Duration)

	if save {
		if err := e.store.SaveResult(bookkeeping, result); err != nil {
			log.Error(err, "failed to save execution result")
		}
	}

	if runErr != nil {
		log.Info("execution did not succeed", "status", string(result.Status), "error", runErr.Error())
		return result, runErr
	}

	log.V(1).Info("execution succeeded", "value", *result.Value, "breached", result.Breached, "duration", result.Duration)
	if result.Breached {
		e.raiseAlert(bookkeeping, item, result, log)
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, item indicator.Item, result *indicator.ExecutionResult) error {
	m, outcome, err := e.measure(ctx, item)
	if err != nil {
		return e.fail(ctx, item, result, err)
	}

	result.Success = true
	result.Status = indicator.StatusSucceeded
	result.Value = &m.Current
	result.Historical = m.Historical
	result.Deviation = outcome.Deviation
	result.Breached = outcome.Breached
	return nil
}

// fail records err on result and wraps it with the sentinel of its kind.
func (e *Engine) fail(ctx context.Context, item indicator.Item, result *indicator.ExecutionResult, err error) error {
	result.Success = false
	result.Error = err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = indicator.StatusTimedOut
		return fmt.Errorf("%w: item %d: %w", workererr.ExecutionTimedOut, item.ID, err)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		result.Status = indicator.StatusCancelled
		return fmt.Errorf("%w: item %d: %w", workererr.ExecutionCancelled, item.ID, err)
	default:
		result.Status = indicator.StatusFailed
		return fmt.Errorf("%w: item %d: %w", workererr.ExecutionFailed, item.ID, err)
	}
}

// measure collects and evaluates item without touching the store.
func (e *Engine) measure(ctx context.Context, item indicator.Item) (collector.Measurement, threshold.Outcome, error) {
	conv, err := unit.ParseConversion(item.Unit)
	if err != nil {
		return collector.Measurement{}, threshold.Outcome{}, err
	}

	req := collector.Request{
		Query:           item.Query,
		HistoricalQuery: item.HistoricalQuery,
		Field:           item.Threshold.Field,
		Parameters:      item.Parameters,
	}

	type collected struct {
		m   collector.Measurement
		err error
	}
	done := make(chan collected, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- collected{err: fmt.Errorf("collector panic: %v", r)}
			}
		}()
		m, err := e.source.Collect(ctx, item.Collector, req)
		done <- collected{m: m, err: err}
	}()

	var c collected
	select {
	case c = <-done:
	case <-ctx.Done():
		return collector.Measurement{}, threshold.Outcome{}, ctx.Err()
	}
	if c.err != nil {
		return collector.Measurement{}, threshold.Outcome{}, c.err
	}

	m := c.m
	m.Current = conv.Apply(m.Current)
	if m.Historical != nil {
		h := conv.Apply(*m.Historical)
		m.Historical = &h
	}

	outcome, err := threshold.Evaluate(item.Threshold, m.Current, m.Historical)
	if err != nil {
		return collector.Measurement{}, threshold.Outcome{}, err
	}
	return m, outcome, nil
}

// Reevaluate measures item again and reports whether its condition is
// still breached. Nothing is persisted.
func (e *Engine) Reevaluate(ctx context.Context, item indicator.Item) (threshold.Outcome, error) {
	_, outcome, err := e.measure(ctx, item)
	if err != nil {
		return threshold.Outcome{}, fmt.Errorf("re-evaluate item %d: %w", item.ID, err)
	}
	return outcome, nil
}

func (e *Engine) raiseAlert(ctx context.Context, item indicator.Item, result indicator.ExecutionResult, log logger.Logger) {
	alert := indicator.Alert{
		ItemID:      item.ID,
		ItemName:    item.Name,
		Severity:    indicator.SeverityForPriority(item.Priority),
		Message:     AlertMessage(item, result),
		Value:       result.Value,
		TriggeredAt: e.clock.Now(),
	}

	stored, created, err := e.store.RaiseAlert(ctx, alert)
	if err != nil {
		log.Error(err, "failed to raise alert")
		return
	}
	if !created {
		log.V(1).Info("item already has an open alert", "alertId", stored.ID)
		return
	}

	metrics.AlertsRaisedTotal.Inc()
	log.Info("alert raised", "alertId", stored.ID, "severity", string(stored.Severity))
	event := notify.Event{Type: notify.EventRaised, Worker: e.worker, At: stored.TriggeredAt, Alert: stored}
	if err := e.notifier.Notify(ctx, event); err != nil {
		log.Error(err, "failed to send alert notification", "alertId", stored.ID)
	}
}

// AlertMessage describes a breach for humans.
func AlertMessage(item indicator.Item, result indicator.ExecutionResult) string {
	name := item.Name
	if name == "" {
		name = fmt.Sprintf("item %d", item.ID)
	}
	msg := fmt.Sprintf("%s breached threshold %s", name, item.Threshold)
	if result.Value != nil {
		msg += fmt.Sprintf(": value %g", *result.Value)
	}
	if item.Threshold.Type == threshold.TypeDeviation && result.Deviation != nil {
		msg += fmt.Sprintf(", deviation %.2f%%", *result.Deviation)
	}
	return msg
}
