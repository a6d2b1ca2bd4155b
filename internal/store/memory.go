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

package store

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
)

// MemoryStore keeps everything in process memory. It backs local runs and
// tests; state is lost on restart.
type MemoryStore struct {
	mu          sync.Mutex
	items       map[int64]indicator.Item
	results     map[int64][]indicator.ExecutionResult
	alerts      map[int64]indicator.Alert
	nextAlertID int64
	// runTokens holds the token of each item's current run owner.
	runTokens    map[int64]int64
	nextRunToken int64
	closed       bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(items ...indicator.Item) *MemoryStore {
	s := &MemoryStore{
		items:     make(map[int64]indicator.Item),
		results:   make(map[int64][]indicator.ExecutionResult),
		alerts:    make(map[int64]indicator.Alert),
		runTokens: make(map[int64]int64),
	}
	for _, item := range items {
		s.items[item.ID] = cloneItem(item)
	}
	return s
}

type seedFile struct {
	Items []indicator.Item `yaml:"items"`
}

// LoadSeed reads items from a YAML file of the form "items: [...]".
func LoadSeed(path string) ([]indicator.Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	ids := make(map[int64]struct{}, len(seed.Items))
	for i, item := range seed.Items {
		if _, err := indicator.ParseKind(string(item.Kind)); err != nil {
			return nil, fmt.Errorf("seed item %d: %w", item.ID, err)
		}
		if err := item.Threshold.Validate(); err != nil {
			return nil, fmt.Errorf("seed item %d: %w", item.ID, err)
		}
		if _, dup := ids[item.ID]; dup || item.ID <= 0 {
			return nil, fmt.Errorf("seed item at index %d: id %d is missing or duplicated", i, item.ID)
		}
		ids[item.ID] = struct{}{}
	}
	return seed.Items, nil
}

// UpsertItem replaces an item definition and keeps its run state.
func (s *MemoryStore) UpsertItem(ctx context.Context, item indicator.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.items[item.ID]; ok {
		item.IsRunning = prev.IsRunning
		item.RunStartedAt = prev.RunStartedAt
		item.Version = prev.Version + 1
	}
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: memory store closed", workererr.StoreUnreachable)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) ListItems(ctx context.Context, kind indicator.Kind) ([]indicator.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]indicator.Item, 0, len(s.items))
	for _, item := range s.items {
		if item.Kind == kind {
			out = append(out, cloneItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) GetItem(ctx context.Context, id int64) (indicator.Item, error) {
	if err := ctx.Err(); err != nil {
		return indicator.Item{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return indicator.Item{}, fmt.Errorf("%w: %d", workererr.ItemNotFound, id)
	}
	return cloneItem(item), nil
}

func (s *MemoryStore) TryStartRun(ctx context.Context, id int64, startedAt time.Time) (indicator.RunClaim, bool, error) {
	if err := ctx.Err(); err != nil {
		return indicator.RunClaim{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return indicator.RunClaim{}, false, fmt.Errorf("%w: %d", workererr.ItemNotFound, id)
	}
	if item.IsRunning {
		return indicator.RunClaim{}, false, nil
	}
	s.nextRunToken++
	item.IsRunning = true
	item.RunStartedAt = &startedAt
	item.Version++
	s.items[id] = item
	s.runTokens[id] = s.nextRunToken
	return indicator.RunClaim{ItemID: id, Token: s.nextRunToken, StartedAt: startedAt}, true, nil
}

func (s *MemoryStore) FinishRun(ctx context.Context, claim indicator.RunClaim, done indicator.RunCompletion) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[claim.ItemID]
	if !ok {
		return false, fmt.Errorf("%w: %d", workererr.ItemNotFound, claim.ItemID)
	}
	if !item.IsRunning || s.runTokens[claim.ItemID] != claim.Token {
		return false, nil
	}
	item.IsRunning = false
	item.RunStartedAt = nil
	if done.LastRun != nil {
		lastRun := *done.LastRun
		item.LastRun = &lastRun
	}
	item.LastOutcome = done.Outcome
	item.Version++
	s.items[claim.ItemID] = item
	delete(s.runTokens, claim.ItemID)
	return true, nil
}

func (s *MemoryStore) ResetStaleRuns(ctx context.Context, startedBefore time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	reset := 0
	for id, item := range s.items {
		if !item.IsRunning {
			continue
		}
		if item.RunStartedAt != nil && !item.RunStartedAt.Before(startedBefore) {
			continue
		}
		item.IsRunning = false
		item.RunStartedAt = nil
		item.Version++
		s.items[id] = item
		delete(s.runTokens, id)
		reset++
	}
	return reset, nil
}

func (s *MemoryStore) SaveResult(ctx context.Context, result indicator.ExecutionResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results[result.ItemID] = append(s.results[result.ItemID], cloneResult(result))
	return nil
}

func (s *MemoryStore) ListResults(ctx context.Context, itemID int64, limit int) ([]indicator.ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.results[itemID]
	out := make([]indicator.ExecutionResult, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneResult(stored[i]))
	}
	return out, nil
}

func (s *MemoryStore) RaiseAlert(ctx context.Context, alert indicator.Alert) (indicator.Alert, bool, error) {
	if err := ctx.Err(); err != nil {
		return indicator.Alert{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.alerts {
		if existing.ItemID == alert.ItemID && !existing.Resolved {
			return cloneAlert(existing), false, nil
		}
	}

	s.nextAlertID++
	alert.ID = s.nextAlertID
	alert.Resolved = false
	s.alerts[alert.ID] = cloneAlert(alert)
	return cloneAlert(alert), true, nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id int64) (indicator.Alert, error) {
	if err := ctx.Err(); err != nil {
		return indicator.Alert{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return indicator.Alert{}, fmt.Errorf("%w: %d", workererr.AlertNotFound, id)
	}
	return cloneAlert(alert), nil
}

func (s *MemoryStore) ListUnresolvedAlerts(ctx context.Context, since time.Time, afterID int64, limit int) ([]indicator.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]indicator.Alert, 0)
	for _, alert := range s.alerts {
		if alert.Resolved || alert.ID <= afterID || alert.TriggeredAt.Before(since) {
			continue
		}
		out = append(out, cloneAlert(alert))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkAlertEscalated(ctx context.Context, id int64, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", workererr.AlertNotFound, id)
	}
	if alert.Resolved || alert.EscalatedAt != nil {
		return false, nil
	}
	alert.EscalatedAt = &at
	s.alerts[id] = alert
	return true, nil
}

func (s *MemoryStore) ResolveAlert(ctx context.Context, id int64, res indicator.Resolution) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", workererr.AlertNotFound, id)
	}
	if alert.Resolved {
		return false, nil
	}
	at := res.At
	alert.Resolved = true
	alert.ResolvedAt = &at
	alert.ResolvedBy = res.By
	alert.ResolutionReason = res.Reason
	s.alerts[id] = alert
	return true, nil
}

func (s *MemoryStore) ExpireAlerts(ctx context.Context, triggeredBefore time.Time, res indicator.Resolution, limit int) ([]indicator.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0)
	for id, alert := range s.alerts {
		if !alert.Resolved && alert.TriggeredAt.Before(triggeredBefore) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]indicator.Alert, 0, len(ids))
	for _, id := range ids {
		alert := s.alerts[id]
		at := res.At
		alert.Resolved = true
		alert.ResolvedAt = &at
		alert.ResolvedBy = res.By
		alert.ResolutionReason = res.Reason
		s.alerts[id] = alert
		out = append(out, cloneAlert(alert))
	}
	return out, nil
}

func cloneItem(item indicator.Item) indicator.Item {
	if item.Parameters != nil {
		params := make(map[string]string, len(item.Parameters))
		for k, v := range item.Parameters {
			params[k] = v
		}
		item.Parameters = params
	}
	item.LastRun = cloneTime(item.LastRun)
	item.RunStartedAt = cloneTime(item.RunStartedAt)
	return item
}

func cloneResult(r indicator.ExecutionResult) indicator.ExecutionResult {
	r.Value = cloneFloat(r.Value)
	r.Historical = cloneFloat(r.Historical)
	r.Deviation = cloneFloat(r.Deviation)
	return r
}

func cloneAlert(a indicator.Alert) indicator.Alert {
	a.Value = cloneFloat(a.Value)
	a.EscalatedAt = cloneTime(a.EscalatedAt)
	a.ResolvedAt = cloneTime(a.ResolvedAt)
	return a
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
