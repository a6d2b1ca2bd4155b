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

package server

import (
	"io"

	"kpiwatch.io/kpiwatch-worker/internal/constants"
	"kpiwatch.io/kpiwatch-worker/internal/types/config"
	loggertypes "kpiwatch.io/kpiwatch-worker/internal/types/logger"
	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

// Info describes a runner started by the server command.
type Info struct {
	Name string
}

// Server is the handle shared by every runner: identity, root logger and
// the loaded configuration.
type Server struct {
	Name   string
	Logger logger.Logger
	Config *config.WorkerConfig
}

func New(cfg *config.WorkerConfig, logOut io.Writer) *Server {

	level := loggertypes.LogLevelInfo
	if cfg != nil {
		if parsed, err := loggertypes.ParseLogLevel(cfg.Worker.Log.Level); err == nil {
			level = parsed
		}
	}

	name := constants.DefaultWorkerName
	if cfg != nil && cfg.Worker.Info.Name != "" {
		name = cfg.Worker.Info.Name
	}

	return &Server{
		Config: cfg,
		Name:   name,
		Logger: logger.NewLogger(logOut, loggertypes.WorkerLoggingWithLevel(level)),
	}
}
