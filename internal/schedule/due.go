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

// Package schedule decides when a monitored item is next due and selects the
// due subset of a kind's items.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
)

const day = 24 * time.Hour

// Policy computes when an item that has run before is next due.
type Policy interface {
	NextDue(item indicator.Item) (time.Time, error)
}

// PolicyFor returns the due policy used by a kind.
func PolicyFor(kind indicator.Kind, loc *time.Location) Policy {
	if kind == indicator.KindKPI {
		return NewBoundaryPolicy(loc)
	}
	return NewIntervalPolicy(loc)
}

// NextBoundary returns the first whole-time boundary strictly after last.
// Boundaries are multiples of every on the local wall clock counted from
// midnight, so a 15 minute frequency fires at :00, :15, :30 and :45 even on
// DST transition days. A frequency that does not divide the day evenly
// restarts at the next midnight. Frequencies of a day or more snap to
// midnight whole days after last's day.
func NextBoundary(last time.Time, every time.Duration, loc *time.Location) time.Time {
	if every <= 0 {
		return last
	}
	if loc == nil {
		loc = time.Local
	}
	local := last.In(loc)
	y, m, d := local.Date()
	nextDay := time.Date(y, m, d+1, 0, 0, 0, 0, loc)

	if every >= day {
		return time.Date(y, m, d+int(every/day), 0, 0, 0, 0, loc)
	}

	wall := time.Duration(local.Hour())*time.Hour +
		time.Duration(local.Minute())*time.Minute +
		time.Duration(local.Second())*time.Second +
		time.Duration(local.Nanosecond())

	// a repeated hour can map a wall-clock slot before last; step past it
	for slot := wall/every + 1; slot*every < day; slot++ {
		next := time.Date(y, m, d, 0, 0, 0, int(slot*every), loc)
		if next.After(last) {
			return next
		}
	}
	return nextDay
}

// BoundaryPolicy aligns due times to whole-time boundaries of the item's
// frequency.
type BoundaryPolicy struct {
	loc *time.Location
}

func NewBoundaryPolicy(loc *time.Location) *BoundaryPolicy {
	if loc == nil {
		loc = time.Local
	}
	return &BoundaryPolicy{loc: loc}
}

func (p *BoundaryPolicy) NextDue(item indicator.Item) (time.Time, error) {
	if item.LastRun == nil {
		return time.Time{}, nil
	}
	if item.Frequency <= 0 {
		return time.Time{}, fmt.Errorf("%w: item %d has no frequency", workererr.InvalidSchedule, item.ID)
	}
	return NextBoundary(*item.LastRun, item.Frequency, p.loc), nil
}

// IntervalPolicy makes an item due one frequency after its last run, or at
// the next fire time of its cron schedule when one is set.
type IntervalPolicy struct {
	loc    *time.Location
	parser cron.Parser
	cache  sync.Map // expression -> cron.Schedule
}

func NewIntervalPolicy(loc *time.Location) *IntervalPolicy {
	if loc == nil {
		loc = time.Local
	}
	return &IntervalPolicy{
		loc: loc,
		parser: cron.NewParser(
			cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
		),
	}
}

func (p *IntervalPolicy) NextDue(item indicator.Item) (time.Time, error) {
	if item.LastRun == nil {
		return time.Time{}, nil
	}
	if item.Schedule != "" {
		sched, err := p.schedule(item.Schedule)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: item %d: %v", workererr.InvalidSchedule, item.ID, err)
		}
		return sched.Next(item.LastRun.In(p.loc)), nil
	}
	if item.Frequency <= 0 {
		return time.Time{}, fmt.Errorf("%w: item %d has neither frequency nor schedule", workererr.InvalidSchedule, item.ID)
	}
	return item.LastRun.Add(item.Frequency), nil
}

func (p *IntervalPolicy) schedule(expr string) (cron.Schedule, error) {
	if cached, ok := p.cache.Load(expr); ok {
		return cached.(cron.Schedule), nil
	}
	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	p.cache.Store(expr, sched)
	return sched, nil
}

// IsDue reports whether item is due at now under policy, with its due time.
// Items that never ran are due immediately.
func IsDue(policy Policy, item indicator.Item, now time.Time) (bool, time.Time, error) {
	dueAt, err := policy.NextDue(item)
	if err != nil {
		return false, time.Time{}, err
	}
	return !now.Before(dueAt), dueAt, nil
}
