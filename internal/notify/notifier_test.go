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

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	loggertypes "kpiwatch.io/kpiwatch-worker/internal/types/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return p.err
}

type countingNotifier struct {
	events []Event
	err    error
	closed bool
}

func (c *countingNotifier) Notify(_ context.Context, e Event) error {
	c.events = append(c.events, e)
	return c.err
}

func (c *countingNotifier) Close() error {
	c.closed = true
	return nil
}

func testEvent(typ EventType) Event {
	return Event{
		Type:   typ,
		Worker: "unit",
		At:     time.Date(2024, 3, 11, 15, 0, 0, 0, time.UTC),
		Alert:  indicator.Alert{ID: 7, ItemID: 3, ItemName: "orders", Severity: indicator.SeverityHigh},
	}
}

func TestNATSNotifierPublishesJSON(t *testing.T) {
	pub := &recordingPublisher{}
	n := &NATSNotifier{pub: pub, prefix: "kpiwatch.alerts"}

	require.NoError(t, n.Notify(context.Background(), testEvent(EventEscalated)))
	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "kpiwatch.alerts.escalated", pub.subjects[0])

	var decoded Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &decoded))
	assert.Equal(t, EventEscalated, decoded.Type)
	assert.Equal(t, int64(7), decoded.Alert.ID)

	pub.err = errors.New("nats: connection closed")
	assert.Error(t, n.Notify(context.Background(), testEvent(EventRaised)))
	assert.NoError(t, n.Close())
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	ok := &countingNotifier{}
	failing := &countingNotifier{err: errors.New("sink down")}
	m := Multi{failing, ok}

	err := m.Notify(context.Background(), testEvent(EventRaised))
	assert.ErrorContains(t, err, "sink down")
	assert.Len(t, ok.events, 1, "a failing sink does not stop the others")

	require.NoError(t, m.Close())
	assert.True(t, ok.closed)
	assert.True(t, failing.closed)
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logger.DefaultLogger(&buf, loggertypes.LogLevelInfo))

	require.NoError(t, n.Notify(context.Background(), testEvent(EventResolved)))
	assert.Contains(t, buf.String(), "alert resolved")
	assert.Contains(t, buf.String(), "orders")
}
