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
	"sort"
	"strings"
	"sync"

	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/util/crypto"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

// Factory builds the collector for one configured source.
type Factory func(src cfgtypes.SourceConfig, log logger.Logger) (Collector, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory makes a platform available to source configurations.
func RegisterFactory(platform string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(platform)] = factory
}

func factoryFor(platform string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[strings.ToLower(platform)]
	return f, ok
}

// Registry resolves an item's collector reference to a Collector.
type Registry struct {
	mu         sync.RWMutex
	collectors map[string]Collector
	logger     logger.Logger
}

func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		collectors: make(map[string]Collector),
		logger:     log,
	}
}

// BuildRegistry creates a collector per source. Encrypted passwords are
// revealed with secretKey, and each collector is wrapped in a circuit
// breaker when the breaker is enabled.
func BuildRegistry(sources []cfgtypes.SourceConfig, breaker cfgtypes.BreakerConfig, secretKey string, log logger.Logger) (*Registry, error) {
	r := NewRegistry(log)
	for _, src := range sources {
		factory, ok := factoryFor(src.Platform)
		if !ok {
			_ = r.Close()
			return nil, fmt.Errorf("source %q: no collector for platform %q", src.Name, src.Platform)
		}

		password, err := crypto.Reveal(src.Password, secretKey)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("source %q: decrypt password: %w", src.Name, err)
		}
		src.Password = password

		c, err := factory(src, log.WithValues("source", src.Name))
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("source %q: %w", src.Name, err)
		}
		if breaker.Enabled {
			c = NewBreakerCollector(src.Name, c, breaker, log)
		}
		r.Register(src.Name, c)
	}
	return r, nil
}

func (r *Registry) Register(name string, c Collector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collectors[name] = c
	r.logger.Info("collector registered", "source", name)
}

func (r *Registry) Get(name string) (Collector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.collectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", workererr.UnknownCollector, name)
	}
	return c, nil
}

func (r *Registry) Collect(ctx context.Context, name string, req Request) (Measurement, error) {
	c, err := r.Get(name)
	if err != nil {
		return Measurement{}, err
	}
	return c.Collect(ctx, req)
}

// Names returns the registered source names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.collectors))
	for name := range r.collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ping checks every source and returns the failures keyed by source name.
func (r *Registry) Ping(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, name := range r.Names() {
		c, err := r.Get(name)
		if err != nil {
			continue
		}
		if err := c.Ping(ctx); err != nil {
			failures[name] = err
		}
	}
	return failures
}

func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, c := range r.collectors {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source %q: %w", name, err))
		}
	}
	r.collectors = make(map[string]Collector)
	return errors.Join(errs...)
}
