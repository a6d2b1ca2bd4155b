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

// Package notify fans alert lifecycle events out to the configured sinks.
package notify

import (
	"context"
	"errors"
	"time"

	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
)

type EventType string

const (
	EventRaised    EventType = "raised"
	EventEscalated EventType = "escalated"
	EventResolved  EventType = "resolved"
)

// Event is one alert lifecycle transition.
type Event struct {
	Type   EventType       `json:"type"`
	Worker string          `json:"worker"`
	At     time.Time       `json:"at"`
	Alert  indicator.Alert `json:"alert"`
}

// Notifier delivers events. Delivery failures never change alert state.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Close() error
}

// Multi sends every event to all of its notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, n := range m {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }
func (Nop) Close() error                        { return nil }
