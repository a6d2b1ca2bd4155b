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
	"context"

	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

// LogNotifier writes events to the worker log.
type LogNotifier struct {
	logger logger.Logger
}

func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log.WithName("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	n.logger.Info("alert "+string(event.Type),
		"alertId", event.Alert.ID,
		"itemId", event.Alert.ItemID,
		"item", event.Alert.ItemName,
		"severity", string(event.Alert.Severity),
		"message", event.Alert.Message)
	return nil
}

func (n *LogNotifier) Close() error { return nil }
