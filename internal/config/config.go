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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"kpiwatch.io/kpiwatch-worker/internal/constants"
	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	loggertypes "kpiwatch.io/kpiwatch-worker/internal/types/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

type Loader struct {
	cfgPath string
	logger  logger.Logger
}

func New(cfgPath string) *Loader {

	return &Loader{
		cfgPath: cfgPath,
		logger:  logger.DefaultLogger(os.Stdout, loggertypes.LogLevelInfo).WithName("config-loader"),
	}
}

// DefaultConfig returns a configuration with every default applied. The
// file is decoded on top of it, so keys absent from the file keep these
// values.
func DefaultConfig() *cfgtypes.WorkerConfig {

	runCfg := cfgtypes.WorkerRunConfig{
		Enabled:                 true,
		IntervalSeconds:         constants.DefaultIntervalSeconds,
		MaxParallelItems:        constants.DefaultMaxParallelItems,
		ExecutionTimeoutSeconds: constants.DefaultExecutionTimeoutSeconds,
		ProcessOnlyActive:       true,
		SkipRunning:             true,
		SaveResults:             true,
	}

	return &cfgtypes.WorkerConfig{
		Worker: cfgtypes.WorkerSection{
			Info: cfgtypes.WorkerInfo{Name: constants.DefaultWorkerName},
			Log:  cfgtypes.WorkerLogConfig{Level: string(loggertypes.LogLevelInfo)},
			Store: cfgtypes.StoreConfig{
				Driver:   constants.StoreDriverPostgres,
				MaxConns: constants.DefaultStoreMaxConns,
			},
			Breaker: cfgtypes.BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: constants.DefaultBreakerConsecutiveFailures,
				OpenTimeoutSeconds:  constants.DefaultBreakerOpenTimeoutSeconds,
			},
			KPI:       runCfg,
			Indicator: runCfg,
			AlertProcessing: cfgtypes.AlertProcessingConfig{
				Enabled:                      true,
				IntervalSeconds:              constants.DefaultAlertIntervalSeconds,
				BatchSize:                    constants.DefaultAlertBatchSize,
				LookbackHours:                constants.DefaultAlertLookbackHours,
				EnableEscalation:             true,
				EscalationTimeoutMinutes:     constants.DefaultEscalationTimeoutMinutes,
				EnableAutoResolution:         true,
				AutoResolutionTimeoutMinutes: constants.DefaultAutoResolutionTimeoutMinutes,
				EvaluationTimeoutSeconds:     constants.DefaultEvaluationTimeoutSeconds,
			},
			HealthChecks: cfgtypes.HealthCheckConfig{
				IntervalSeconds: constants.DefaultHealthCheckIntervalSeconds,
				TimeoutSeconds:  constants.DefaultHealthCheckTimeoutSeconds,
			},
			Metrics: cfgtypes.MetricsConfig{
				Enabled: true,
				Port:    constants.DefaultMetricsPort,
			},
			Notify: cfgtypes.NotifyConfig{
				NATS: cfgtypes.NATSConfig{SubjectPrefix: constants.DefaultNATSSubjectPrefix},
			},
		},
	}
}

func (l *Loader) LoadConfig() (*cfgtypes.WorkerConfig, error) {
	if l.cfgPath == "" {
		err := errors.New("config path is required")
		l.logger.Error(err, "config path is empty")
		return nil, err
	}

	cfg, err := l.parseConfigFile(l.cfgPath)
	if err != nil {
		return nil, err
	}

	l.logger.Info("configuration loaded successfully", "path", l.cfgPath)
	return cfg, nil
}

func (l *Loader) parseConfigFile(path string) (*cfgtypes.WorkerConfig, error) {
	// Resolve symlinks to handle Kubernetes ConfigMap mounts
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}

	if _, err := os.Stat(resolved); os.IsNotExist(err) {
		l.logger.Error(err, "config file not exist", "path", resolved)
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		l.logger.Error(err, "failed to read config file", "path", resolved)
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		l.logger.Error(err, "failed to parse config file", "path", resolved)
		return nil, err
	}

	// explicit zeros in the file fall back to defaults as well
	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *cfgtypes.WorkerConfig) {
	w := &cfg.Worker
	if w.Info.Name == "" {
		w.Info.Name = constants.DefaultWorkerName
	}
	if w.Log.Level == "" {
		w.Log.Level = string(loggertypes.LogLevelInfo)
	}
	if w.Store.Driver == "" {
		w.Store.Driver = constants.StoreDriverPostgres
	}
	if w.Store.MaxConns <= 0 {
		w.Store.MaxConns = constants.DefaultStoreMaxConns
	}
	for i := range w.Sources {
		if w.Sources[i].TimeoutSeconds <= 0 {
			w.Sources[i].TimeoutSeconds = constants.DefaultSourceTimeoutSeconds
		}
		if w.Sources[i].MaxOpenConns <= 0 {
			w.Sources[i].MaxOpenConns = constants.DefaultSourceMaxOpenConns
		}
	}
	if w.Breaker.ConsecutiveFailures == 0 {
		w.Breaker.ConsecutiveFailures = constants.DefaultBreakerConsecutiveFailures
	}
	if w.Breaker.OpenTimeoutSeconds <= 0 {
		w.Breaker.OpenTimeoutSeconds = constants.DefaultBreakerOpenTimeoutSeconds
	}
	applyRunDefaults(&w.KPI)
	applyRunDefaults(&w.Indicator)

	ap := &w.AlertProcessing
	if ap.IntervalSeconds <= 0 {
		ap.IntervalSeconds = constants.DefaultAlertIntervalSeconds
	}
	if ap.BatchSize <= 0 {
		ap.BatchSize = constants.DefaultAlertBatchSize
	}
	if ap.LookbackHours <= 0 {
		ap.LookbackHours = constants.DefaultAlertLookbackHours
	}
	if ap.EscalationTimeoutMinutes <= 0 {
		ap.EscalationTimeoutMinutes = constants.DefaultEscalationTimeoutMinutes
	}
	if ap.AutoResolutionTimeoutMinutes <= 0 {
		ap.AutoResolutionTimeoutMinutes = constants.DefaultAutoResolutionTimeoutMinutes
	}
	if ap.EvaluationTimeoutSeconds <= 0 {
		ap.EvaluationTimeoutSeconds = constants.DefaultEvaluationTimeoutSeconds
	}

	if w.HealthChecks.IntervalSeconds <= 0 {
		w.HealthChecks.IntervalSeconds = constants.DefaultHealthCheckIntervalSeconds
	}
	if w.HealthChecks.TimeoutSeconds <= 0 {
		w.HealthChecks.TimeoutSeconds = constants.DefaultHealthCheckTimeoutSeconds
	}
	if w.Metrics.Port <= 0 {
		w.Metrics.Port = constants.DefaultMetricsPort
	}
	if w.Notify.NATS.SubjectPrefix == "" {
		w.Notify.NATS.SubjectPrefix = constants.DefaultNATSSubjectPrefix
	}
}

func applyRunDefaults(c *cfgtypes.WorkerRunConfig) {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = constants.DefaultIntervalSeconds
	}
	if c.MaxParallelItems <= 0 {
		c.MaxParallelItems = constants.DefaultMaxParallelItems
	}
	if c.ExecutionTimeoutSeconds <= 0 {
		c.ExecutionTimeoutSeconds = constants.DefaultExecutionTimeoutSeconds
	}
}

func (l *Loader) ValidateConfig(cfg *cfgtypes.WorkerConfig) error {
	if cfg == nil {
		l.logger.Error(workererr.WorkerConfigIsNil, "config validation failed")
		return workererr.WorkerConfigIsNil
	}

	if err := validate(cfg); err != nil {
		l.logger.Error(err, "config validation failed")
		return err
	}

	return nil
}

func validate(cfg *cfgtypes.WorkerConfig) error {
	w := cfg.Worker
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", workererr.WorkerConfigInvalid, fmt.Sprintf(format, args...))
	}

	if _, err := loggertypes.ParseLogLevel(w.Log.Level); err != nil {
		return invalid("%v", err)
	}
	if _, err := w.Location(); err != nil {
		return invalid("timezone %q: %v", w.Timezone, err)
	}

	switch w.Store.Driver {
	case constants.StoreDriverPostgres:
		if w.Store.DSN == "" {
			return invalid("store.dsn is required for the postgres driver")
		}
	case constants.StoreDriverMemory:
	default:
		return fmt.Errorf("%w: %q", workererr.StoreDriverUnknown, w.Store.Driver)
	}

	if w.SecretKey != "" && len(w.SecretKey) != 16 {
		return invalid("secretKey must be exactly 16 bytes, got %d", len(w.SecretKey))
	}

	seen := make(map[string]struct{}, len(w.Sources))
	for i, src := range w.Sources {
		if src.Name == "" {
			return invalid("sources[%d].name is empty", i)
		}
		if _, dup := seen[src.Name]; dup {
			return invalid("duplicate source %q", src.Name)
		}
		seen[src.Name] = struct{}{}

		switch strings.ToLower(src.Platform) {
		case constants.PlatformMySQL, constants.PlatformMariaDB, constants.PlatformPostgreSQL, constants.PlatformSQLServer:
		default:
			return invalid("source %q: unsupported platform %q", src.Name, src.Platform)
		}
		if src.URL == "" && src.Host == "" {
			return invalid("source %q: host or url is required", src.Name)
		}
	}

	// alerts older than the lookback window are never escalated or
	// re-evaluated, so both timeouts must fall inside it
	if ap := w.AlertProcessing; ap.Enabled {
		window := ap.LookbackHours * 60
		if ap.EnableEscalation && ap.EscalationTimeoutMinutes > window {
			return invalid("alertProcessing.escalationTimeoutMinutes (%d) exceeds the %dh lookback window", ap.EscalationTimeoutMinutes, ap.LookbackHours)
		}
		if ap.EnableAutoResolution && ap.AutoResolutionTimeoutMinutes > window {
			return invalid("alertProcessing.autoResolutionTimeoutMinutes (%d) exceeds the %dh lookback window", ap.AutoResolutionTimeoutMinutes, ap.LookbackHours)
		}
	}

	if w.Notify.NATS.Enabled && w.Notify.NATS.URL == "" {
		return invalid("notify.nats.url is required when nats is enabled")
	}

	return nil
}

func (l *Loader) PrintConfig(cfg *cfgtypes.WorkerConfig) {
	if cfg == nil {
		l.logger.Info("config is nil")
		return
	}
	w := cfg.Worker
	l.logger.Info("current configuration",
		"name", w.Info.Name,
		"log_level", w.Log.Level,
		"timezone", w.Timezone,
		"store", w.Store.Driver,
		"sources", len(w.Sources),
		"kpi_enabled", w.KPI.Enabled,
		"indicator_enabled", w.Indicator.Enabled,
		"alert_processing_enabled", w.AlertProcessing.Enabled,
		"metrics_port", w.Metrics.Port,
		"nats_enabled", w.Notify.NATS.Enabled,
	)
}
