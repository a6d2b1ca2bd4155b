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
	"time"
)

type WorkerConfig struct {
	Worker WorkerSection `yaml:"worker"`
}

type WorkerSection struct {
	Info     WorkerInfo      `yaml:"info"`
	Log      WorkerLogConfig `yaml:"log"`
	Timezone string          `yaml:"timezone"`
	// SecretKey decrypts "aes:" prefixed source passwords.
	SecretKey string `yaml:"secretKey"`

	Store   StoreConfig    `yaml:"store"`
	Sources []SourceConfig `yaml:"sources"`
	Breaker BreakerConfig  `yaml:"breaker"`

	KPI       WorkerRunConfig `yaml:"kpi"`
	Indicator WorkerRunConfig `yaml:"indicator"`

	AlertProcessing AlertProcessingConfig `yaml:"alertProcessing"`
	HealthChecks    HealthCheckConfig     `yaml:"healthChecks"`
	Metrics         MetricsConfig         `yaml:"metrics"`
	Notify          NotifyConfig          `yaml:"notify"`
}

type WorkerInfo struct {
	Name string `yaml:"name"`
}

type WorkerLogConfig struct {
	Level string `yaml:"level"`
}

type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"maxConns"`
	// SeedFile loads items into the memory store.
	SeedFile string `yaml:"seedFile"`
}

type SourceConfig struct {
	Name     string `yaml:"name"`
	Platform string `yaml:"platform"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	// URL overrides the DSN built from the fields above.
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	MaxOpenConns   int    `yaml:"maxOpenConns"`
}

func (s SourceConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

type BreakerConfig struct {
	Enabled             bool   `yaml:"enabled"`
	ConsecutiveFailures uint32 `yaml:"consecutiveFailures"`
	OpenTimeoutSeconds  int    `yaml:"openTimeoutSeconds"`
}

func (b BreakerConfig) OpenTimeout() time.Duration {
	return time.Duration(b.OpenTimeoutSeconds) * time.Second
}

// WorkerRunConfig tunes one scheduling loop. It is loaded once at startup.
type WorkerRunConfig struct {
	Enabled                 bool `yaml:"enabled"`
	IntervalSeconds         int  `yaml:"intervalSeconds"`
	MaxParallelItems        int  `yaml:"maxParallelItems"`
	ExecutionTimeoutSeconds int  `yaml:"executionTimeoutSeconds"`
	ProcessOnlyActive       bool `yaml:"processOnlyActive"`
	SkipRunning             bool `yaml:"skipRunning"`
	SaveResults             bool `yaml:"saveResults"`
}

func (c WorkerRunConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c WorkerRunConfig) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutSeconds) * time.Second
}

type AlertProcessingConfig struct {
	Enabled                      bool `yaml:"enabled"`
	IntervalSeconds              int  `yaml:"intervalSeconds"`
	BatchSize                    int  `yaml:"batchSize"`
	LookbackHours                int  `yaml:"lookbackHours"`
	EnableEscalation             bool `yaml:"enableEscalation"`
	EscalationTimeoutMinutes     int  `yaml:"escalationTimeoutMinutes"`
	EnableAutoResolution         bool `yaml:"enableAutoResolution"`
	AutoResolutionTimeoutMinutes int  `yaml:"autoResolutionTimeoutMinutes"`
	EvaluationTimeoutSeconds     int  `yaml:"evaluationTimeoutSeconds"`
}

func (c AlertProcessingConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c AlertProcessingConfig) Lookback() time.Duration {
	return time.Duration(c.LookbackHours) * time.Hour
}

func (c AlertProcessingConfig) EscalationTimeout() time.Duration {
	return time.Duration(c.EscalationTimeoutMinutes) * time.Minute
}

func (c AlertProcessingConfig) AutoResolutionTimeout() time.Duration {
	return time.Duration(c.AutoResolutionTimeoutMinutes) * time.Minute
}

func (c AlertProcessingConfig) EvaluationTimeout() time.Duration {
	return time.Duration(c.EvaluationTimeoutSeconds) * time.Second
}

type HealthCheckConfig struct {
	IntervalSeconds int `yaml:"intervalSeconds"`
	TimeoutSeconds  int `yaml:"timeoutSeconds"`
}

func (c HealthCheckConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

func (c HealthCheckConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type NotifyConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// Location resolves the timezone used for boundary alignment. Empty means
// the process local zone.
func (s WorkerSection) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// MaxExecutionTimeout is the largest per-item deadline across both loops.
func (s WorkerSection) MaxExecutionTimeout() time.Duration {
	return max(s.KPI.ExecutionTimeout(), s.Indicator.ExecutionTimeout())
}
