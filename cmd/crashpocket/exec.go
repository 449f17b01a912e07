// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newExecCmd() *cobra.Command {
	var budget time.Duration
	cmd := &cobra.Command{
		Use:     "exec <tool> <experiment> <backend> <statement>...",
		Short:   "Execute one statement with crash detection and print the outcome as json",
		Example: `crashpocket exec sqlancer exp1 sqlite "CREATE TABLE t0(c0 INT UNIQUE);"`,
		Args:    cobra.MinimumNArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHarness()
			if err != nil {
				return err
			}
			defer h.Close()
			stmt := strings.Join(args[3:], " ")
			out, err := h.ExecuteWithTimeout(cmd.Context(), budget, args[0], args[1], args[2], stmt)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().DurationVar(&budget, "timeout", 0, "execution budget, 0 uses settings.exec-timeout")
	return cmd
}
