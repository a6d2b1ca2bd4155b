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

package logger

import (
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kpiwatch.io/kpiwatch-worker/internal/types/logger"
)

type Logger struct {
	logr.Logger
	out           io.Writer
	name          string
	logging       *logger.WorkerLogging
	sugaredLogger *zap.SugaredLogger
}

func NewLogger(w io.Writer, logging *logger.WorkerLogging) Logger {

	if logging == nil {
		logging = logger.DefaultWorkerLogging()
	}
	logger := initZapLogger(w, logging, logging.Level[logger.LogComponentDefault])

	return Logger{
		Logger:        zapr.NewLogger(logger),
		out:           w,
		logging:       logging,
		sugaredLogger: logger.Sugar(),
	}
}

func FileLogger(file, name string, level logger.LogLevel) Logger {

	writer, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		panic(err)
	}

	logging := logger.WorkerLoggingWithLevel(level)
	logger := initZapLogger(writer, logging, level)

	return Logger{
		Logger:        zapr.NewLogger(logger).WithName(name),
		logging:       logging,
		name:          name,
		out:           writer,
		sugaredLogger: logger.Sugar().Named(name),
	}
}

func DefaultLogger(out io.Writer, level logger.LogLevel) Logger {

	logging := logger.WorkerLoggingWithLevel(level)
	logger := initZapLogger(out, logging, level)

	return Logger{
		Logger:        zapr.NewLogger(logger),
		out:           out,
		logging:       logging,
		sugaredLogger: logger.Sugar(),
	}
}

// WithName returns a new Logger instance with the specified name element added
// to the Logger's name. The level of the returned logger is looked up by name
// in the logging config, so a component can log more verbosely than the
// default component.
func (l Logger) WithName(name string) Logger {

	logLevel := l.logging.Level[logger.LogComponent(name)]
	logger := initZapLogger(l.out, l.logging, logLevel)

	fullName := name
	if l.name != "" {
		fullName = l.name + "." + name
	}

	return Logger{
		Logger:        zapr.NewLogger(logger).WithName(fullName),
		logging:       l.logging,
		name:          fullName,
		out:           l.out,
		sugaredLogger: logger.Sugar().Named(fullName),
	}
}

// WithValues returns a new Logger instance with additional key/value pairs.
// See Info for documentation on how key/value pairs work.
func (l Logger) WithValues(keysAndValues ...interface{}) Logger {

	l.Logger = l.Logger.WithValues(keysAndValues...)
	return l
}

// Sugar returns the printf-style logger sharing this logger's core.
func (l Logger) Sugar() *zap.SugaredLogger {

	return l.sugaredLogger
}

// Name returns the dotted component path of this logger.
func (l Logger) Name() string {

	return l.name
}

func initZapLogger(w io.Writer, logging *logger.WorkerLogging, level logger.LogLevel) *zap.Logger {

	parseLevel, err := zapcore.ParseLevel(string(logging.DefaultWorkerLoggingLevel(level)))
	if err != nil {
		parseLevel = zapcore.InfoLevel
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.AddSync(w), zap.NewAtomicLevelAt(parseLevel))

	return zap.New(core, zap.AddCaller())
}
