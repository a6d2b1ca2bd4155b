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
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"kpiwatch.io/kpiwatch-worker/internal/constants"
	"kpiwatch.io/kpiwatch-worker/internal/store"
	"kpiwatch.io/kpiwatch-worker/internal/store/postgres"
)

var seedPath string

// MigrateCommand creates the PostgreSQL schema and optionally loads items.
func MigrateCommand() *cobra.Command {

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the store schema and load seed items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate(cmd.Context(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file path")
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML file of items to upsert after migrating")
	return cmd
}

func migrate(ctx context.Context, out io.Writer) error {
	srv, err := loadServer(out)
	if err != nil {
		return err
	}

	cfg := srv.Config.Worker.Store
	if cfg.Driver != constants.StoreDriverPostgres {
		return fmt.Errorf("migrate needs the %s store, configured driver is %q", constants.StoreDriverPostgres, cfg.Driver)
	}

	ctx, cancel := storeTimeout(ctx)
	defer cancel()

	st, err := postgres.New(ctx, cfg.DSN, cfg.MaxConns, srv.Logger.WithName("store"))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	srv.Logger.Info("schema migrated")

	path := seedPath
	if path == "" {
		path = cfg.SeedFile
	}
	if path == "" {
		return nil
	}
	n, err := store.Seed(ctx, st, path)
	if err != nil {
		return err
	}
	srv.Logger.Info("seed items loaded", "file", path, "items", n)
	return nil
}
