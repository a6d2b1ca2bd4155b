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

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"

	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
)

type runOptions struct {
	itemID  int64
	noSave  bool
	timeout time.Duration
}

// RunCommand executes a single item once, outside its schedule.
func RunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one KPI or indicator immediately",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().Int64Var(&opts.itemID, "id", 0, "id of the item to execute")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "do not persist the execution result")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "execution timeout, defaults to the kind's configured timeout")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func runItem(ctx context.Context, out io.Writer, opts *runOptions) error {
	srv, err := loadServer(out)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, srv)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	item, err := a.store.GetItem(ctx, opts.itemID)
	if err != nil {
		return err
	}

	timeout := opts.timeout
	if timeout <= 0 {
		timeout = srv.Config.Worker.KPI.ExecutionTimeout()
		if item.Kind == indicator.KindIndicator {
			timeout = srv.Config.Worker.Indicator.ExecutionTimeout()
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := a.engine.Execute(runCtx, item, indicator.RunManual, !opts.noSave)
	if errors.Is(err, workererr.ItemBusy) {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		return encErr
	}
	return err
}
