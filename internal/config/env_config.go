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
	"os"
	"strconv"

	"kpiwatch.io/kpiwatch-worker/internal/constants"
	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	loggertypes "kpiwatch.io/kpiwatch-worker/internal/types/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

type EnvConfigLoader struct {
	logger logger.Logger
	lookup func(string) (string, bool)
}

func NewEnvConfigLoader() *EnvConfigLoader {
	return &EnvConfigLoader{
		logger: logger.DefaultLogger(os.Stdout, loggertypes.LogLevelInfo).WithName("env-config-loader"),
		lookup: os.LookupEnv,
	}
}

// ApplyEnv overrides cfg in place with KPIWATCH_* variables and returns the
// number of variables applied. Unparsable values are logged and ignored.
func (l *EnvConfigLoader) ApplyEnv(cfg *cfgtypes.WorkerConfig) int {
	if cfg == nil {
		return 0
	}
	w := &cfg.Worker
	applied := 0

	strs := map[string]*string{
		"WORKER_NAME":     &w.Info.Name,
		"LOG_LEVEL":       &w.Log.Level,
		"TIMEZONE":        &w.Timezone,
		"SECRET_KEY":      &w.SecretKey,
		"STORE_DRIVER":    &w.Store.Driver,
		"STORE_DSN":       &w.Store.DSN,
		"STORE_SEED_FILE": &w.Store.SeedFile,
		"NATS_URL":        &w.Notify.NATS.URL,
		"NATS_SUBJECT":    &w.Notify.NATS.SubjectPrefix,
	}
	for key, target := range strs {
		if value, ok := l.get(key); ok {
			*target = value
			applied++
		}
	}

	ints := map[string]*int{
		"KPI_INTERVAL_SECONDS":                  &w.KPI.IntervalSeconds,
		"KPI_MAX_PARALLEL_ITEMS":                &w.KPI.MaxParallelItems,
		"KPI_EXECUTION_TIMEOUT_SECONDS":         &w.KPI.ExecutionTimeoutSeconds,
		"INDICATOR_INTERVAL_SECONDS":            &w.Indicator.IntervalSeconds,
		"INDICATOR_MAX_PARALLEL_ITEMS":          &w.Indicator.MaxParallelItems,
		"INDICATOR_EXECUTION_TIMEOUT_SECONDS":   &w.Indicator.ExecutionTimeoutSeconds,
		"ALERT_INTERVAL_SECONDS":                &w.AlertProcessing.IntervalSeconds,
		"ALERT_BATCH_SIZE":                      &w.AlertProcessing.BatchSize,
		"ALERT_ESCALATION_TIMEOUT_MINUTES":      &w.AlertProcessing.EscalationTimeoutMinutes,
		"ALERT_AUTO_RESOLUTION_TIMEOUT_MINUTES": &w.AlertProcessing.AutoResolutionTimeoutMinutes,
		"HEALTH_INTERVAL_SECONDS":               &w.HealthChecks.IntervalSeconds,
		"METRICS_PORT":                          &w.Metrics.Port,
	}
	for key, target := range ints {
		if value, ok := l.getInt(key); ok {
			*target = value
			applied++
		}
	}

	bools := map[string]*bool{
		"KPI_ENABLED":                  &w.KPI.Enabled,
		"INDICATOR_ENABLED":            &w.Indicator.Enabled,
		"ALERT_PROCESSING_ENABLED":     &w.AlertProcessing.Enabled,
		"ALERT_ENABLE_ESCALATION":      &w.AlertProcessing.EnableEscalation,
		"ALERT_ENABLE_AUTO_RESOLUTION": &w.AlertProcessing.EnableAutoResolution,
		"BREAKER_ENABLED":              &w.Breaker.Enabled,
		"METRICS_ENABLED":              &w.Metrics.Enabled,
		"NATS_ENABLED":                 &w.Notify.NATS.Enabled,
	}
	for key, target := range bools {
		if value, ok := l.getBool(key); ok {
			*target = value
			applied++
		}
	}

	if applied > 0 {
		l.logger.Info("configuration overridden from environment", "variables", applied)
	}
	return applied
}

func (l *EnvConfigLoader) get(key string) (string, bool) {
	value, ok := l.lookup(constants.EnvPrefix + key)
	if !ok || value == "" {
		return "", false
	}
	return value, true
}

func (l *EnvConfigLoader) getInt(key string) (int, bool) {
	value, ok := l.get(key)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		l.logger.Error(err, "ignoring environment override", "key", constants.EnvPrefix+key)
		return 0, false
	}
	return i, true
}

func (l *EnvConfigLoader) getBool(key string) (bool, bool) {
	value, ok := l.get(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		l.logger.Error(err, "ignoring environment override", "key", constants.EnvPrefix+key)
		return false, false
	}
	return b, true
}
