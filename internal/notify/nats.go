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
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"kpiwatch.io/kpiwatch-worker/internal/util/logger"
)

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes events as JSON on "<prefix>.<event type>".
type NATSNotifier struct {
	conn   *nats.Conn
	pub    publisher
	prefix string
	logger logger.Logger
}

func NewNATSNotifier(url, prefix, workerName string, log logger.Logger) (*NATSNotifier, error) {
	nlog := log.WithName("notify").WithValues("sink", "nats")
	conn, err := nats.Connect(url,
		nats.Name(workerName),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				nlog.Error(err, "nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nlog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return &NATSNotifier{conn: conn, pub: conn, prefix: prefix, logger: nlog}, nil
}

func (n *NATSNotifier) Subject(event Event) string {
	return n.prefix + "." + string(event.Type)
}

func (n *NATSNotifier) Notify(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.pub.Publish(n.Subject(event), data); err != nil {
		return fmt.Errorf("publish %s: %w", n.Subject(event), err)
	}
	return nil
}

func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	err := n.conn.Drain()
	n.conn.Close()
	return err
}
