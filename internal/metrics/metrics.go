/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	clrserver "kpiwatch.io/kpiwatch-worker/internal/server"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

const (
	Namespace = "kpiwatch"
	Subsystem = "worker"
)

var (
	// ItemsProcessedTotal counts item executions by kind and result status
	ItemsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "items_processed_total",
			Help:      "Total number of item executions",
		},
		[]string{"kind", "status"},
	)

	// ExecutionDuration tracks the duration of item executions
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "execution_duration_seconds",
			Help:      "Duration of item executions in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of scheduling cycles in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	DueItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "due_items",
			Help:      "Number of items found due in the last cycle",
		},
		[]string{"kind"},
	)

	AlertsRaisedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "alerts_raised_total",
			Help:      "Total number of alerts raised on threshold breaches",
		},
	)

	AlertsEscalatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "alerts_escalated_total",
			Help:      "Total number of alerts escalated",
		},
	)

	AlertsResolvedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "alerts_resolved_total",
			Help:      "Total number of alerts auto-resolved",
		},
	)

	AlertsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "alerts_expired_total",
			Help:      "Total number of open alerts resolved as stale after leaving the lookback window",
		},
	)

	AlertReevaluationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "alert_reevaluation_failures_total",
			Help:      "Total number of failed alert condition re-evaluations",
		},
	)

	// HealthStatus is 1 when the named check passed in its last run
	HealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "health_status",
			Help:      "1 if the health check passed, 0 otherwise",
		},
		[]string{"check"},
	)

	StaleRunsResetTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "stale_runs_reset_total",
			Help:      "Total number of stale running flags cleared",
		},
	)

	RunReleasesLostTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "run_releases_lost_total",
			Help:      "Total number of finished runs whose running flag had passed to another run",
		},
	)

	// WorkerUp indicates if the worker is up
	WorkerUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "up",
			Help:      "1 if the worker is up, 0 otherwise",
		},
	)
)

func init() {
	// Register metrics with the global prometheus registry
	prometheus.MustRegister(ItemsProcessedTotal)
	prometheus.MustRegister(ExecutionDuration)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(DueItems)
	prometheus.MustRegister(AlertsRaisedTotal)
	prometheus.MustRegister(AlertsEscalatedTotal)
	prometheus.MustRegister(AlertsResolvedTotal)
	prometheus.MustRegister(AlertsExpiredTotal)
	prometheus.MustRegister(AlertReevaluationFailuresTotal)
	prometheus.MustRegister(HealthStatus)
	prometheus.MustRegister(StaleRunsResetTotal)
	prometheus.MustRegister(RunReleasesLostTotal)
	prometheus.MustRegister(WorkerUp)
	WorkerUp.Set(1)
}

// ObserveExecution records one finished execution.
func ObserveExecution(kind, status string, d time.Duration) {
	ItemsProcessedTotal.WithLabelValues(kind, status).Inc()
	ExecutionDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// StatusFunc returns the JSON-serialisable worker status.
type StatusFunc func() any

// HealthFunc reports whether the worker can serve; nil means healthy.
type HealthFunc func(ctx context.Context) error

// Runner implements the metrics server runner
type Runner struct {
	cfg    *clrserver.Server
	server *http.Server
	status StatusFunc
	health HealthFunc
}

// New creates a new metrics runner
func New(cfg *clrserver.Server, status StatusFunc, health HealthFunc) *Runner {

	return &Runner{cfg: cfg, status: status, health: health}
}

// Handler builds the mux served by the runner.
func (r *Runner) Handler() http.Handler {

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		if r.status == nil {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.status()); err != nil {
			r.initLogs().Error(err, "encode status")
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if r.health != nil {
			if err := r.health(req.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Start starts the metrics server
func (r *Runner) Start(ctx context.Context) error {

	// init logger
	mlog := r.initLogs()

	addr := fmt.Sprintf(":%d", r.cfg.Config.Worker.Metrics.Port)
	r.server = &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       15 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	mlog.Info("Starting metrics server", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			mlog.Error(err, "Metrics server failed")
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return r.Close()
	case err := <-errCh:
		return err
	}
}

// Info returns the runner info
func (r *Runner) Info() clrserver.Info {

	return clrserver.Info{
		Name: "metrics-server",
	}
}

// Close closes the metrics server
func (r *Runner) Close() error {

	if r.server != nil {
		r.initLogs().Info("Shutting down metrics server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.server.Shutdown(ctx)
	}
	return nil
}

func (r *Runner) initLogs() logger.Logger {

	return r.cfg.Logger.WithName("metrics")
}
