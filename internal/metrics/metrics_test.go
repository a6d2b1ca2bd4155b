/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clrserver "kpiwatch.io/kpiwatch-worker/internal/server"
	"kpiwatch.io/kpiwatch-worker/internal/types/config"
)

func testServer() *clrserver.Server {
	return clrserver.New(&config.WorkerConfig{}, io.Discard)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestObserveExecution(t *testing.T) {
	before := testutil.ToFloat64(ItemsProcessedTotal.WithLabelValues("kpi", "succeeded"))
	ObserveExecution("kpi", "succeeded", 250*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(ItemsProcessedTotal.WithLabelValues("kpi", "succeeded")))
}

func TestHandlerServesEndpoints(t *testing.T) {
	healthy := true
	r := New(testServer(),
		func() any { return map[string]string{"state": "running"} },
		func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("store unreachable")
		})
	h := r.Handler()

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kpiwatch_worker_up 1")

	rec = get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"running"}`, rec.Body.String())

	rec = get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = get(t, h, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "store unreachable"))
}

func TestStatusWithoutSource(t *testing.T) {
	rec := get(t, New(testServer(), nil, nil).Handler(), "/status")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "metrics-server", New(testServer(), nil, nil).Info().Name)
}
