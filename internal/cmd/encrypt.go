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
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kpiwatch.io/kpiwatch-worker/internal/constants"
	"kpiwatch.io/kpiwatch-worker/internal/util/crypto"
)

// EncryptCommand prints a source password in the form accepted by the
// sources section of the configuration.
func EncryptCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a source password with the worker secret key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv(constants.EnvPrefix + "SECRET_KEY")
			}
			if key == "" {
				return errors.New("secret key not set, pass --key or " + constants.EnvPrefix + "SECRET_KEY")
			}
			c, err := crypto.NewAESCipher(key)
			if err != nil {
				return err
			}
			enc, err := c.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.SecretPrefix+enc)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "AES secret key of 16 bytes")
	return cmd
}
