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

package logger

import (
	"fmt"
	"strings"
)

// kpiwatch logger related types

type LogLevel string

const (
	// LogLevelTrace defines the "Trace" logger level.
	LogLevelTrace LogLevel = "trace"

	// LogLevelDebug defines the "debug" logger level.
	LogLevelDebug LogLevel = "debug"

	// LogLevelInfo defines the "Info" logger level.
	LogLevelInfo LogLevel = "info"

	// LogLevelWarn defines the "Warn" logger level.
	LogLevelWarn LogLevel = "warn"

	// LogLevelError defines the "Error" logger level.
	LogLevelError LogLevel = "error"
)

// ParseLogLevel accepts the level names case-insensitively.
func ParseLogLevel(s string) (LogLevel, error) {
	switch level := LogLevel(strings.ToLower(strings.TrimSpace(s))); level {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return level, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// WorkerLogging maps a log component to its level. Components without an
// entry fall back to the default component's level.
type WorkerLogging struct {
	Level map[LogComponent]LogLevel `json:"level,omitempty" yaml:"level,omitempty"`
}

type LogComponent string

const (
	LogComponentDefault LogComponent = "default"

	LogComponentScheduler LogComponent = "scheduler"
	LogComponentExecution LogComponent = "execution"
	LogComponentAlerting  LogComponent = "alerting"
	LogComponentHealth    LogComponent = "health"
	LogComponentStore     LogComponent = "store"
	LogComponentCollector LogComponent = "collector"
	LogComponentNotify    LogComponent = "notify"
	LogComponentMetrics   LogComponent = "metrics"
)

func DefaultWorkerLogging() *WorkerLogging {

	return &WorkerLogging{
		Level: map[LogComponent]LogLevel{
			LogComponentDefault: LogLevelInfo,
		},
	}
}

// WorkerLoggingWithLevel returns a logging config whose default component
// logs at the given level.
func WorkerLoggingWithLevel(level LogLevel) *WorkerLogging {

	logging := DefaultWorkerLogging()
	if level != "" {
		logging.Level[LogComponentDefault] = level
	}

	return logging
}

func (logging *WorkerLogging) DefaultWorkerLoggingLevel(level LogLevel) LogLevel {

	if level != "" {
		return level
	}

	if logging.Level[LogComponentDefault] != "" {

		return logging.Level[LogComponentDefault]
	}

	return LogLevelInfo
}

func (logging *WorkerLogging) SetWorkerLoggingDefaults() {

	if logging != nil && logging.Level != nil && logging.Level[LogComponentDefault] == "" {

		logging.Level[LogComponentDefault] = LogLevelInfo
	}
}
