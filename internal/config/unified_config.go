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

package config

import (
	"os"

	cfgtypes "kpiwatch.io/kpiwatch-worker/internal/types/config"
	loggertypes "kpiwatch.io/kpiwatch-worker/internal/types/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

// UnifiedConfigLoader loads the config file, applies environment overrides
// on top (environment wins) and validates the result.
type UnifiedConfigLoader struct {
	fileLoader *Loader
	envLoader  *EnvConfigLoader
	logger     logger.Logger
}

func NewUnifiedConfigLoader(cfgPath string) *UnifiedConfigLoader {
	return &UnifiedConfigLoader{
		fileLoader: New(cfgPath),
		envLoader:  NewEnvConfigLoader(),
		logger:     logger.DefaultLogger(os.Stdout, loggertypes.LogLevelInfo).WithName("unified-config-loader"),
	}
}

func (l *UnifiedConfigLoader) Load() (*cfgtypes.WorkerConfig, error) {
	cfg, err := l.fileLoader.LoadConfig()
	if err != nil {
		return nil, err
	}

	l.envLoader.ApplyEnv(cfg)
	applyDefaults(cfg)

	if err := l.fileLoader.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	l.fileLoader.PrintConfig(cfg)
	return cfg, nil
}
