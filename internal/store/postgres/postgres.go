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

// Package postgres implements the worker store on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kpiwatch.io/kpiwatch-worker/internal/store"
	"kpiwatch.io/kpiwatch-worker/internal/threshold"
	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

//go:embed schema.sql
var schema string

const connectTimeout = 5 * time.Second

type Store struct {
	Pool   *pgxpool.Pool
	logger logger.Logger
}

var _ store.Store = (*Store)(nil)

// New opens a pool against dsn and checks connectivity.
func New(ctx context.Context, dsn string, maxConns int32, log logger.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse store dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", workererr.StoreUnreachable, err)
	}
	s := &Store{Pool: pool, logger: log.WithName("postgres-store")}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables and indexes when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := s.Pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", workererr.StoreUnreachable, err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	return nil
}

const itemColumns = `id, kind, name, collector, query, historical_query, parameters, unit,
	frequency_seconds, schedule, threshold_type, threshold_operator, threshold_value, threshold_field,
	active, owner, priority, is_running, run_started_at, last_run, last_outcome, version`

func scanItem(row pgx.Row) (indicator.Item, error) {
	var (
		item             indicator.Item
		kind             string
		frequencySeconds int64
		thresholdType    string
		thresholdOp      string
	)
	err := row.Scan(
		&item.ID, &kind, &item.Name, &item.Collector, &item.Query, &item.HistoricalQuery, &item.Parameters, &item.Unit,
		&frequencySeconds, &item.Schedule, &thresholdType, &thresholdOp, &item.Threshold.Value, &item.Threshold.Field,
		&item.Active, &item.Owner, &item.Priority, &item.IsRunning, &item.RunStartedAt, &item.LastRun, &item.LastOutcome, &item.Version,
	)
	if err != nil {
		return indicator.Item{}, err
	}

	item.Kind = indicator.Kind(kind)
	item.Frequency = time.Duration(frequencySeconds) * time.Second
	if item.Threshold.Type, err = threshold.ParseType(thresholdType); err != nil {
		return indicator.Item{}, fmt.Errorf("item %d: %w", item.ID, err)
	}
	if item.Threshold.Operator, err = threshold.ParseOperator(thresholdOp); err != nil {
		return indicator.Item{}, fmt.Errorf("item %d: %w", item.ID, err)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, kind indicator.Kind) ([]indicator.Item, error) {
	rows, err := s.Pool.Query(ctx, "SELECT "+itemColumns+" FROM monitored_items WHERE kind = $1 ORDER BY id", string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]indicator.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			// one corrupt row must not hide the rest of the kind
			s.logger.Error(err, "skipping unreadable item")
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetItem(ctx context.Context, id int64) (indicator.Item, error) {
	item, err := scanItem(s.Pool.QueryRow(ctx, "SELECT "+itemColumns+" FROM monitored_items WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return indicator.Item{}, fmt.Errorf("%w: %d", workererr.ItemNotFound, id)
	}
	return item, err
}

// UpsertItem inserts or replaces an item definition keyed by id. The
// run-state columns are left untouched on update.
func (s *Store) UpsertItem(ctx context.Context, item indicator.Item) error {
	params := item.Parameters
	if params == nil {
		params = map[string]string{}
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO monitored_items (id, kind, name, collector, query, historical_query, parameters, unit,
			frequency_seconds, schedule, threshold_type, threshold_operator, threshold_value, threshold_field,
			active, owner, priority, last_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind, name = EXCLUDED.name, collector = EXCLUDED.collector,
			query = EXCLUDED.query, historical_query = EXCLUDED.historical_query,
			parameters = EXCLUDED.parameters, unit = EXCLUDED.unit,
			frequency_seconds = EXCLUDED.frequency_seconds, schedule = EXCLUDED.schedule,
			threshold_type = EXCLUDED.threshold_type, threshold_operator = EXCLUDED.threshold_operator,
			threshold_value = EXCLUDED.threshold_value, threshold_field = EXCLUDED.threshold_field,
			active = EXCLUDED.active, owner = EXCLUDED.owner, priority = EXCLUDED.priority,
			version = monitored_items.version + 1`,
		item.ID, string(item.Kind), item.Name, item.Collector, item.Query, item.HistoricalQuery, params, item.Unit,
		int64(item.Frequency/time.Second), item.Schedule, item.Threshold.Type.String(), item.Threshold.Operator.String(),
		item.Threshold.Value, item.Threshold.Field, item.Active, item.Owner, item.Priority, item.LastRun,
	)
	if err != nil {
		return fmt.Errorf("upsert item %d: %w", item.ID, err)
	}
	// keep the id sequence ahead of explicitly inserted ids
	_, err = s.Pool.Exec(ctx, `SELECT setval(pg_get_serial_sequence('monitored_items', 'id'),
		GREATEST((SELECT MAX(id) FROM monitored_items), 1))`)
	return err
}

func (s *Store) TryStartRun(ctx context.Context, id int64, startedAt time.Time) (indicator.RunClaim, bool, error) {
	claim := indicator.RunClaim{ItemID: id, StartedAt: startedAt}
	err := s.Pool.QueryRow(ctx, `
		UPDATE monitored_items SET is_running = TRUE, run_started_at = $2,
			run_token = run_token + 1, version = version + 1
		WHERE id = $1 AND NOT is_running
		RETURNING run_token`, id, startedAt).Scan(&claim.Token)
	if err == nil {
		return claim, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return indicator.RunClaim{}, false, err
	}
	if _, err := s.GetItem(ctx, id); err != nil {
		return indicator.RunClaim{}, false, err
	}
	return indicator.RunClaim{}, false, nil
}

func (s *Store) FinishRun(ctx context.Context, claim indicator.RunClaim, done indicator.RunCompletion) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE monitored_items SET is_running = FALSE, run_started_at = NULL,
			last_run = COALESCE($3, last_run), last_outcome = $4, version = version + 1
		WHERE id = $1 AND is_running AND run_token = $2`, claim.ItemID, claim.Token, done.LastRun, done.Outcome)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetItem(ctx, claim.ItemID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ResetStaleRuns(ctx context.Context, startedBefore time.Time) (int, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE monitored_items SET is_running = FALSE, run_started_at = NULL, version = version + 1
		WHERE is_running AND (run_started_at IS NULL OR run_started_at < $1)`, startedBefore)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) SaveResult(ctx context.Context, r indicator.ExecutionResult) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO execution_results (id, item_id, kind, success, status, value, historical, deviation,
			breached, error, duration_ms, run_context, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.ItemID, string(r.Kind), r.Success, string(r.Status), r.Value, r.Historical, r.Deviation,
		r.Breached, r.Error, r.Duration.Milliseconds(), string(r.Context), r.StartedAt,
	)
	return err
}

func (s *Store) ListResults(ctx context.Context, itemID int64, limit int) ([]indicator.ExecutionResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id::text, item_id, kind, success, status, value, historical, deviation, breached, error,
			duration_ms, run_context, started_at
		FROM execution_results WHERE item_id = $1 ORDER BY started_at DESC LIMIT $2`, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]indicator.ExecutionResult, 0)
	for rows.Next() {
		var (
			r                        indicator.ExecutionResult
			kind, status, runContext string
			durationMs               int64
		)
		if err := rows.Scan(&r.ID, &r.ItemID, &kind, &r.Success, &status, &r.Value, &r.Historical, &r.Deviation,
			&r.Breached, &r.Error, &durationMs, &runContext, &r.StartedAt); err != nil {
			return nil, err
		}
		r.Kind = indicator.Kind(kind)
		r.Status = indicator.ResultStatus(status)
		r.Context = indicator.RunContext(runContext)
		r.Duration = time.Duration(durationMs) * time.Millisecond
		results = append(results, r)
	}
	return results, rows.Err()
}

const alertColumns = `id, item_id, item_name, severity, message, value, triggered_at, escalated_at,
	resolved, resolved_at, resolved_by, resolution_reason`

func scanAlert(row pgx.Row) (indicator.Alert, error) {
	var (
		a        indicator.Alert
		severity string
	)
	err := row.Scan(&a.ID, &a.ItemID, &a.ItemName, &severity, &a.Message, &a.Value, &a.TriggeredAt, &a.EscalatedAt,
		&a.Resolved, &a.ResolvedAt, &a.ResolvedBy, &a.ResolutionReason)
	a.Severity = indicator.Severity(severity)
	return a, err
}

func (s *Store) RaiseAlert(ctx context.Context, alert indicator.Alert) (indicator.Alert, bool, error) {
	created, err := scanAlert(s.Pool.QueryRow(ctx, `
		INSERT INTO alerts (item_id, item_name, severity, message, value, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id) WHERE NOT resolved DO NOTHING
		RETURNING `+alertColumns,
		alert.ItemID, alert.ItemName, string(alert.Severity), alert.Message, alert.Value, alert.TriggeredAt))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return indicator.Alert{}, false, err
	}

	existing, err := scanAlert(s.Pool.QueryRow(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE item_id = $1 AND NOT resolved", alert.ItemID))
	if err != nil {
		return indicator.Alert{}, false, fmt.Errorf("load open alert of item %d: %w", alert.ItemID, err)
	}
	return existing, false, nil
}

func (s *Store) GetAlert(ctx context.Context, id int64) (indicator.Alert, error) {
	alert, err := scanAlert(s.Pool.QueryRow(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return indicator.Alert{}, fmt.Errorf("%w: %d", workererr.AlertNotFound, id)
	}
	return alert, err
}

func (s *Store) ListUnresolvedAlerts(ctx context.Context, since time.Time, afterID int64, limit int) ([]indicator.Alert, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE NOT resolved AND triggered_at >= $1 AND id > $2
		ORDER BY id LIMIT $3`, since, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]indicator.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func (s *Store) MarkAlertEscalated(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE alerts SET escalated_at = $2
		WHERE id = $1 AND NOT resolved AND escalated_at IS NULL`, id, at)
	if err != nil {
		return false, err
	}
	return s.applied(ctx, tag.RowsAffected(), id)
}

func (s *Store) ResolveAlert(ctx context.Context, id int64, res indicator.Resolution) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE alerts SET resolved = TRUE, resolved_at = $2, resolved_by = $3, resolution_reason = $4
		WHERE id = $1 AND NOT resolved`, id, res.At, res.By, res.Reason)
	if err != nil {
		return false, err
	}
	return s.applied(ctx, tag.RowsAffected(), id)
}

func (s *Store) ExpireAlerts(ctx context.Context, triggeredBefore time.Time, res indicator.Resolution, limit int) ([]indicator.Alert, error) {
	rows, err := s.Pool.Query(ctx, `
		UPDATE alerts SET resolved = TRUE, resolved_at = $2, resolved_by = $3, resolution_reason = $4
		WHERE id IN (
			SELECT id FROM alerts WHERE NOT resolved AND triggered_at < $1
			ORDER BY id LIMIT $5 FOR UPDATE SKIP LOCKED)
		RETURNING `+alertColumns, triggeredBefore, res.At, res.By, res.Reason, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]indicator.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts, nil
}

// applied turns a conditional update's row count into the store contract:
// true when it took effect, false when the alert exists but did not qualify.
func (s *Store) applied(ctx context.Context, rows int64, id int64) (bool, error) {
	if rows == 1 {
		return true, nil
	}
	if _, err := s.GetAlert(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
