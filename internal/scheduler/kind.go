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

package scheduler

import (
	"context"

	"kpiwatch.io/kpiwatch-worker/internal/schedule"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
)

// Executor runs one item.
type Executor interface {
	Execute(ctx context.Context, item indicator.Item, runCtx indicator.RunContext, save bool) (indicator.ExecutionResult, error)
}

// itemKind binds a selector and an executor into an ItemKind.
type itemKind struct {
	kind     indicator.Kind
	selector *schedule.Selector
	executor Executor
	save     bool
}

func NewItemKind(kind indicator.Kind, selector *schedule.Selector, executor Executor, saveResults bool) ItemKind {
	return &itemKind{kind: kind, selector: selector, executor: executor, save: saveResults}
}

func (k *itemKind) Kind() indicator.Kind { return k.kind }

func (k *itemKind) DueItems(ctx context.Context) ([]schedule.DueItem, error) {
	return k.selector.DueItems(ctx)
}

func (k *itemKind) Execute(ctx context.Context, item indicator.Item) error {
	_, err := k.executor.Execute(ctx, item, indicator.RunScheduled, k.save)
	return err
}
