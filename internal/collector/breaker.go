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
	"errors"
	"fmt"

	"github.com/sony/gobreaker"

	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

// BreakerCollector fails fast while its source keeps failing, so a dead
// source does not hold permits for the full execution timeout of every item
// that reads from it.
type BreakerCollector struct {
	name string
	next Collector
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerCollector(name string, next Collector, cfg cfgtypes.BreakerConfig, log logger.Logger) *BreakerCollector {
	blog := log.WithName("breaker").WithValues("source", name)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			blog.Info("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// shutdowns and empty results say nothing about the source's health
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, workererr.NoValue)
		},
	}

	return &BreakerCollector{
		name: name,
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

func (b *BreakerCollector) Collect(ctx context.Context, req Request) (Measurement, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Collect(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Measurement{}, fmt.Errorf("%w: source %s: %w", workererr.SourceUnavailable, b.name, err)
	}
	if err != nil {
		return Measurement{}, err
	}
	return out.(Measurement), nil
}

// Ping bypasses the breaker so health checks see the real source state.
func (b *BreakerCollector) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func (b *BreakerCollector) Close() error {
	return b.next.Close()
}

func (b *BreakerCollector) State() gobreaker.State {
	return b.cb.State()
}
