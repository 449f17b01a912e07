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
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"github.com/spf13/cobra"
)

func newResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <tool> <experiment> <backend>...",
		Short: "Drop and recreate the databases of a test run, several backends are reset in parallel",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHarness()
			if err != nil {
				return err
			}
			defer h.Close()
			return h.ResetAll(cmd.Context(), args[0], args[1], args[2:])
		},
	}
}

func newProvisionCmd() *cobra.Command {
	var (
		wait  bool
		retry int
	)
	cmd := &cobra.Command{
		Use:   "provision <tool> <experiment> <backend>",
		Short: "Pull, start and bootstrap the container of a backend",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHarness()
			if err != nil {
				return err
			}
			defer h.Close()
			if err := h.Provision(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			if !wait {
				return nil
			}
			b := &backoff.Backoff{
				Min:    1 * time.Second,
				Max:    10 * time.Second,
				Factor: 1.2,
				Jitter: true,
			}
			if err := h.WaitReady(cmd.Context(), args[0], args[1], args[2], retry, b); err != nil {
				return err
			}
			fmt.Printf("%s is ready\n", args[2])
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the backend answers")
	cmd.Flags().IntVar(&retry, "retry", 30, "probes made by --wait")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <tool> <experiment> <backend>",
		Short: "Print the state of the process hosting a backend",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHarness()
			if err != nil {
				return err
			}
			defer h.Close()
			state, err := h.Status(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Println(state)
			return nil
		},
	}
}

func newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the configured backend kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := newHarness()
			if err != nil {
				return err
			}
			defer h.Close()
			for _, k := range h.Kinds() {
				fmt.Println(k)
			}
			return nil
		},
	}
}
