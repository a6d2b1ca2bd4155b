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

package indicator

import (
	"fmt"
	"time"

	"kpiwatch.io/kpiwatch-worker/internal/threshold"
)

// Kind separates the legacy KPI items from the newer indicators. Each kind
// has its own scheduling loop.
type Kind string

const (
	KindKPI       Kind = "kpi"
	KindIndicator Kind = "indicator"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindKPI, KindIndicator:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown item kind %q", s)
	}
}

// Item is a monitored KPI or indicator.
type Item struct {
	ID   int64  `json:"id" yaml:"id"`
	Kind Kind   `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`

	// Collector names the configured source the queries run against.
	Collector       string            `json:"collector" yaml:"collector"`
	Query           string            `json:"query" yaml:"query"`
	HistoricalQuery string            `json:"historicalQuery,omitempty" yaml:"historicalQuery,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	// Unit is an optional "origin->target" conversion applied to measured values.
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`

	Frequency time.Duration `json:"frequency" yaml:"frequency"`
	// Schedule is a cron expression. When set it takes precedence over
	// Frequency for the indicator kind.
	Schedule  string               `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Threshold threshold.Definition `json:"threshold" yaml:"threshold"`

	Active   bool   `json:"active" yaml:"active"`
	Owner    string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Priority int    `json:"priority" yaml:"priority"`

	IsRunning    bool       `json:"isRunning" yaml:"-"`
	RunStartedAt *time.Time `json:"runStartedAt,omitempty" yaml:"-"`
	LastRun      *time.Time `json:"lastRun,omitempty" yaml:"lastRun,omitempty"`
	LastOutcome  string     `json:"lastOutcome,omitempty" yaml:"-"`
	Version      int64      `json:"version" yaml:"-"`
}

// RunContext tags why an execution happened.
type RunContext string

const (
	RunScheduled RunContext = "Scheduled"
	RunManual    RunContext = "Manual"
)

type ResultStatus string

const (
	StatusSucceeded ResultStatus = "succeeded"
	StatusFailed    ResultStatus = "failed"
	StatusTimedOut  ResultStatus = "timed_out"
	StatusCancelled ResultStatus = "cancelled"
	// StatusSkipped is never persisted. It marks runs that lost the run-state
	// race to another owner.
	StatusSkipped ResultStatus = "skipped"
)

// ExecutionResult is the immutable record of one execution.
type ExecutionResult struct {
	ID         string        `json:"id"`
	ItemID     int64         `json:"itemId"`
	Kind       Kind          `json:"kind"`
	Success    bool          `json:"success"`
	Status     ResultStatus  `json:"status"`
	Value      *float64      `json:"value,omitempty"`
	Historical *float64      `json:"historical,omitempty"`
	Deviation  *float64      `json:"deviation,omitempty"`
	Breached   bool          `json:"breached"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
	Context    RunContext    `json:"context"`
	StartedAt  time.Time     `json:"startedAt"`
}

// Outcome renders the short text stored as the item's last-run outcome.
func (r ExecutionResult) Outcome() string {
	switch {
	case r.Success && r.Breached:
		return fmt.Sprintf("breached (value=%g)", deref(r.Value))
	case r.Success:
		return fmt.Sprintf("ok (value=%g)", deref(r.Value))
	case r.Error != "":
		return fmt.Sprintf("%s: %s", r.Status, r.Error)
	default:
		return string(r.Status)
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityForPriority maps item priority (1 is the most important) onto an
// alert severity.
func SeverityForPriority(priority int) Severity {
	switch {
	case priority <= 0:
		return SeverityMedium
	case priority == 1:
		return SeverityCritical
	case priority == 2:
		return SeverityHigh
	case priority == 3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

type Alert struct {
	ID          int64      `json:"id"`
	ItemID      int64      `json:"itemId"`
	ItemName    string     `json:"itemName"`
	Severity    Severity   `json:"severity"`
	Message     string     `json:"message"`
	Value       *float64   `json:"value,omitempty"`
	TriggeredAt time.Time  `json:"triggeredAt"`
	EscalatedAt *time.Time `json:"escalatedAt,omitempty"`

	Resolved         bool       `json:"resolved"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy       string     `json:"resolvedBy,omitempty"`
	ResolutionReason string     `json:"resolutionReason,omitempty"`
}

// RunClaim identifies one ownership of an item's run-state flag. Token
// changes on every successful claim, so a release carrying an older token
// cannot clear a newer owner's flag.
type RunClaim struct {
	ItemID    int64
	Token     int64
	StartedAt time.Time
}

// RunCompletion is written when an execution releases the run-state flag.
type RunCompletion struct {
	FinishedAt time.Time
	// LastRun is only advanced by successful executions; nil keeps it.
	LastRun *time.Time
	Outcome string
}

type Resolution struct {
	At     time.Time
	By     string
	Reason string
}
