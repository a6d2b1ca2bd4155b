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

package collector

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"

	"kpiwatch.io/kpiwatch-worker/internal/constants"
	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

func init() {
	for _, platform := range []string{
		constants.PlatformMySQL,
		constants.PlatformMariaDB,
		constants.PlatformPostgreSQL,
		constants.PlatformSQLServer,
	} {
		RegisterFactory(platform, NewSQLCollector)
	}
}

// SQLCollector reads measurements from a relational source through
// database/sql. Every Collect call checks out its own connection from the
// pool, so concurrent executions never share a session.
type SQLCollector struct {
	name    string
	db      *sql.DB
	style   placeholderStyle
	timeout time.Duration
	logger  logger.Logger
}

func NewSQLCollector(src cfgtypes.SourceConfig, log logger.Logger) (Collector, error) {
	driverName, dsn, style, err := dataSource(src)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := src.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = constants.DefaultSourceMaxOpenConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(min(2, maxOpen))
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLCollector{
		name:    src.Name,
		db:      db,
		style:   style,
		timeout: src.Timeout(),
		logger:  log.WithName("sql-collector"),
	}, nil
}

// dataSource builds the driver name and DSN for a source.
func dataSource(src cfgtypes.SourceConfig) (string, string, placeholderStyle, error) {
	host := net.JoinHostPort(src.Host, src.Port)
	timeoutSeconds := strconv.Itoa(int(src.Timeout() / time.Second))

	switch strings.ToLower(src.Platform) {
	case constants.PlatformMySQL, constants.PlatformMariaDB:
		if src.URL != "" {
			return "mysql", src.URL, styleQuestion, nil
		}
		cfg := mysql.NewConfig()
		cfg.User = src.Username
		cfg.Passwd = src.Password
		cfg.Net = "tcp"
		cfg.Addr = host
		cfg.DBName = src.Database
		cfg.ParseTime = true
		cfg.Timeout = src.Timeout()
		cfg.Params = map[string]string{"charset": "utf8mb4"}
		return "mysql", cfg.FormatDSN(), styleQuestion, nil

	case constants.PlatformPostgreSQL:
		if src.URL != "" {
			return "postgres", src.URL, styleDollar, nil
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(src.Username, src.Password),
			Host:     host,
			Path:     "/" + src.Database,
			RawQuery: url.Values{"sslmode": {"disable"}, "connect_timeout": {timeoutSeconds}}.Encode(),
		}
		return "postgres", u.String(), styleDollar, nil

	case constants.PlatformSQLServer:
		if src.URL != "" {
			return "sqlserver", src.URL, styleAtP, nil
		}
		u := url.URL{
			Scheme: "sqlserver",
			User:   url.UserPassword(src.Username, src.Password),
			Host:   host,
			RawQuery: url.Values{
				"database":               {src.Database},
				"trustServerCertificate": {"true"},
				"dial timeout":           {timeoutSeconds},
			}.Encode(),
		}
		return "sqlserver", u.String(), styleAtP, nil

	default:
		return "", "", 0, fmt.Errorf("unsupported database platform: %s", src.Platform)
	}
}

func (c *SQLCollector) Collect(ctx context.Context, req Request) (Measurement, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return Measurement{}, fmt.Errorf("acquire connection to %s: %w", c.name, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.logger.Error(err, "release connection failed")
		}
	}()

	current, err := c.queryValue(ctx, conn, req.Query, req.Field, req.Parameters)
	if err != nil {
		return Measurement{}, fmt.Errorf("current value: %w", err)
	}
	m := Measurement{Current: current}

	if req.HistoricalQuery != "" {
		historical, err := c.queryValue(ctx, conn, req.HistoricalQuery, req.Field, req.Parameters)
		if err != nil {
			return Measurement{}, fmt.Errorf("historical value: %w", err)
		}
		m.Historical = &historical
	}

	return m, nil
}

// queryValue runs query and returns the selected column of the first row.
func (c *SQLCollector) queryValue(ctx context.Context, conn *sql.Conn, query, field string, params map[string]string) (float64, error) {
	bound, args, err := bindParameters(query, params, c.style)
	if err != nil {
		return 0, err
	}

	rows, err := conn.QueryContext(ctx, bound, args...)
	if err != nil {
		return 0, fmt.Errorf("query execution failed: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, fmt.Errorf("failed to get columns: %w", err)
	}
	idx, err := columnIndex(columns, field)
	if err != nil {
		return 0, err
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("query execution failed: %w", err)
		}
		return 0, workererr.NoValue
	}

	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return 0, fmt.Errorf("failed to scan row: %w", err)
	}

	return toFloat(values[idx])
}

func columnIndex(columns []string, field string) (int, error) {
	if len(columns) == 0 {
		return 0, workererr.NoValue
	}
	if field == "" {
		return 0, nil
	}
	for i, col := range columns {
		if strings.EqualFold(col, field) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("result has no column %q (columns: %s)", field, strings.Join(columns, ", "))
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case nil:
		return 0, workererr.NoValue
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case bool:
		if n {
			return 1, nil
		}
		return 0, nil
	case []byte:
		return parseNumber(string(n))
	case string:
		return parseNumber(n)
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

func parseNumber(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", s)
	}
	return f, nil
}

func (c *SQLCollector) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

func (c *SQLCollector) Close() error {
	return c.db.Close()
}
