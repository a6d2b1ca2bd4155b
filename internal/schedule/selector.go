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

package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/timer"
)

// ItemLister is the read side of the store the selector needs.
type ItemLister interface {
	ListItems(ctx context.Context, kind indicator.Kind) ([]indicator.Item, error)
}

type Options struct {
	ProcessOnlyActive bool
	SkipRunning       bool
}

type DueItem struct {
	Item  indicator.Item
	DueAt time.Time
}

// Selector filters a kind's items down to the ones due now. It has no side
// effects.
type Selector struct {
	kind   indicator.Kind
	items  ItemLister
	policy Policy
	clock  timer.Clock
	opts   Options
	logger logger.Logger
}

func NewSelector(kind indicator.Kind, items ItemLister, policy Policy, clock timer.Clock, opts Options, log logger.Logger) *Selector {
	if clock == nil {
		clock = timer.RealClock()
	}
	return &Selector{
		kind:   kind,
		items:  items,
		policy: policy,
		clock:  clock,
		opts:   opts,
		logger: log.WithValues("kind", string(kind)),
	}
}

// DueItems returns the due items ordered by due time, then id.
func (s *Selector) DueItems(ctx context.Context) ([]DueItem, error) {
	items, err := s.items.ListItems(ctx, s.kind)
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", s.kind, err)
	}

	now := s.clock.Now()
	due := make([]DueItem, 0, len(items))
	for _, item := range items {
		if s.opts.ProcessOnlyActive && !item.Active {
			continue
		}
		if s.opts.SkipRunning && item.IsRunning {
			s.logger.V(1).Info("skipping running item", "itemId", item.ID)
			continue
		}

		ok, dueAt, err := IsDue(s.policy, item, now)
		if err != nil {
			s.logger.Info("skipping item with unusable schedule", "itemId", item.ID, "name", item.Name, "reason", err.Error())
			continue
		}
		if ok {
			due = append(due, DueItem{Item: item, DueAt: dueAt})
		}
	}

	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].DueAt.Equal(due[j].DueAt) {
			return due[i].DueAt.Before(due[j].DueAt)
		}
		return due[i].Item.ID < due[j].Item.ID
	})
	return due, nil
}
