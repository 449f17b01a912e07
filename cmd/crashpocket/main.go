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
	"os"

	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pingcap/crashpocket/pkg/config"
	"github.com/pingcap/crashpocket/pkg/harness"
	"github.com/pingcap/crashpocket/pkg/logger"
)

var (
	configPath string
	logLevel   string

	cfg *config.Config
)

func main() {
	var rootCmd = &cobra.Command{
		Use:           "crashpocket",
		Short:         "Execute fuzzer statements on database backends and detect crashes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Init()
			if configPath != "" {
				if err := cfg.Load(configPath); err != nil {
					return err
				}
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			_, err := logger.InitGlobalLogger(cfg.Log)
			return err
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log level")
	rootCmd.AddCommand(
		newServeCmd(),
		newExecCmd(),
		newResetCmd(),
		newProvisionCmd(),
		newStatusCmd(),
		newKindsCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, errors.ErrorStack(err))
		os.Exit(1)
	}
}

func newHarness() (*harness.Harness, error) {
	return harness.New(cfg, &harness.Option{Logger: zap.L()})
}
