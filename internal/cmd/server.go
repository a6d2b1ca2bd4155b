/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	bannerouter "kpiwatch.io/kpiwatch-worker/internal/banner"
	cfgloader "kpiwatch.io/kpiwatch-worker/internal/config"
	"kpiwatch.io/kpiwatch-worker/internal/metrics"
	clrserver "kpiwatch.io/kpiwatch-worker/internal/server"
	workererr "kpiwatch.io/kpiwatch-worker/internal/types/err"
	"kpiwatch.io/kpiwatch-worker/internal/types/indicator"
	"kpiwatch.io/kpiwatch-worker/internal/worker"
)

var (
	cfgPath string
)

type Runner[I clrserver.Info] interface {
	Start(ctx context.Context) error
	Info() I
	Close() error
}

func ServerCommand() *cobra.Command {

	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"srv", "s"},
		Short:   "Run the KPI and indicator scheduling worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	return cmd
}

func loadServer(logOut io.Writer) (*clrserver.Server, error) {

	cfg, err := cfgloader.NewUnifiedConfigLoader(cfgPath).Load()
	if err != nil {
		return nil, err
	}
	return clrserver.New(cfg, logOut), nil
}

func server(ctx context.Context, logOut io.Writer) error {

	workerServer, err := loadServer(logOut)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	banner := bannerouter.New(&bannerouter.Config{
		Server: *workerServer,
		Out:    logOut,
	})
	err = banner.PrintBanner(workerServer.Name, strconv.Itoa(workerServer.Config.Worker.Metrics.Port))
	if err != nil {
		return err
	}

	a, err := newApp(ctx, workerServer)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			workerServer.Logger.Error(err, "error closing worker resources")
		}
	}()

	if err := a.checker.StartupCheck(ctx); err != nil {
		return err
	}

	resetCtx, resetCancel := storeTimeout(ctx)
	reset, err := a.resetStaleRuns(resetCtx)
	resetCancel()
	if err != nil {
		return fmt.Errorf("reset stale runs: %w", err)
	}
	if reset > 0 {
		metrics.StaleRunsResetTotal.Add(float64(reset))
		workerServer.Logger.Info("cleared stale running flags", "items", reset)
	}

	runners, err := buildRunners(a)
	if err != nil {
		return err
	}

	a.tracker.SetRunning(true)
	defer a.tracker.SetRunning(false)

	return startRunners(ctx, workerServer, runners)
}

func buildRunners(a *app) ([]Runner[clrserver.Info], error) {
	cfg := a.srv.Config.Worker

	var runners []Runner[clrserver.Info]
	if cfg.KPI.Enabled {
		loop, err := a.schedulingLoop(indicator.KindKPI, cfg.KPI, worker.NewWorkerPool(cfg.KPI.ExecutionTimeout(), a.srv.Logger))
		if err != nil {
			return nil, err
		}
		runners = append(runners, loop)
	}
	if cfg.Indicator.Enabled {
		loop, err := a.schedulingLoop(indicator.KindIndicator, cfg.Indicator, worker.NewWorkerPool(cfg.Indicator.ExecutionTimeout(), a.srv.Logger))
		if err != nil {
			return nil, err
		}
		runners = append(runners, loop)
	}
	if cfg.AlertProcessing.Enabled {
		runners = append(runners, a.alertProcessor())
	}
	runners = append(runners, a.checker)
	if cfg.Metrics.Enabled {
		runners = append(runners, metrics.New(a.srv, func() any { return a.tracker.Snapshot() }, a.checker.Healthz))
	}
	return runners, nil
}

func startRunners(ctx context.Context, cfg *clrserver.Server, runners []Runner[clrserver.Info]) error {

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(runners))

	var wg sync.WaitGroup

	for _, r := range runners {
		wg.Add(1)
		go func(runner Runner[clrserver.Info]) {
			defer wg.Done()
			cfg.Logger.Info("Starting runner", "runner component", runner.Info().Name)
			if err := runner.Start(ctx); err != nil {
				select {
				case errCh <- err:
				default:
				}
			}
		}(r)
	}

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	// runners stop taking new work on cancel; in-flight runs finish their
	// bookkeeping before Start returns
	cleanup := func() {
		signal.Stop(signalCh)
		cancel()
		wg.Wait()
		for _, r := range runners {
			if err := r.Close(); err != nil {
				cfg.Logger.Error(err, "error closing runner", "runner component", r.Info().Name)
			}
		}
	}

	select {
	case <-ctx.Done():
		cfg.Logger.Info("Context cancelled")
		cleanup()
		return ctx.Err()
	case sig := <-signalCh:
		cfg.Logger.Info("Received signal, shutting down", "signal", sig.String())
		cleanup()
		return nil
	case err := <-errCh:
		cleanup()
		cfg.Logger.Error(workererr.WorkerServerStop, "runner error", "error", err)
		return err
	}
}
