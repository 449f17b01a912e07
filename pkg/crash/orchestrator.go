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

package crash

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/pingcap/crashpocket/pkg/backend"
	"github.com/pingcap/crashpocket/pkg/connection"
	"github.com/pingcap/crashpocket/pkg/executor"
)

// Report is the outcome of one checked execution
type Report struct {
	RunID string `json:"run_id"`
	// Result is nil when the statement never ran or blew up
	Result        *connection.ExecutionResult `json:"result"`
	CrashDetected bool                        `json:"crash_detected"`
	ErrorMessage  string                      `json:"error_message,omitempty"`
}

// Pool is the connection pool of one checked execution
type Pool interface {
	executor.Session
	CheckConnection(ctx context.Context) bool
	Close() error
}

// Opener opens the pool of a test run
type Opener func(args *backend.ConnectionArgs) (Pool, error)

// Restarter brings an unreachable backend back
type Restarter interface {
	Restart(ctx context.Context, tool, experiment, kind string) error
}

// Option configures an Orchestrator
type Option struct {
	Logger *zap.Logger
	Opener Opener
}

// Orchestrator runs statements with crash detection around them. Each
// call owns its pool, calls share nothing but the read-only registry.
type Orchestrator struct {
	registry  *backend.Registry
	restarter Restarter
	open      Opener
	logger    *zap.Logger
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(registry *backend.Registry, restarter Restarter, opt *Option) *Orchestrator {
	if opt == nil {
		opt = &Option{}
	}
	o := &Orchestrator{
		registry:  registry,
		restarter: restarter,
		open:      opt.Opener,
		logger:    opt.Logger,
	}
	if o.logger == nil {
		o.logger = zap.L()
	}
	o.logger = o.logger.Named("crash")
	if o.open == nil {
		logger := o.logger
		o.open = func(args *backend.ConnectionArgs) (Pool, error) {
			p, err := connection.Open(args, &connection.Option{Logger: logger})
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	return o
}

// RunChecked executes one statement between two connection probes:
//
//  1. probe the backend, on failure restart it once and probe again; a
//     backend still unreachable is reported as a crash without running
//     the statement
//  2. execute the statement, a failure to reach the backend or a panic is
//     reported as a crash
//  3. probe again whatever happened, a backend that stopped answering after
//     the statement is a crash even when the statement itself succeeded
//
// The pool is closed on every path. Only configuration errors are returned,
// everything else lands in the report.
func (o *Orchestrator) RunChecked(ctx context.Context, tool, experiment, kind, stmt string) (report *Report, err error) {
	report = &Report{RunID: uuid.New().String()}
	logger := o.logger.With(zap.String("run", report.RunID), zap.String("tool", tool),
		zap.String("experiment", experiment), zap.String("kind", kind))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("unexpected error", zap.Any("panic", r), zap.Stack("stack"))
			report = &Report{RunID: report.RunID, CrashDetected: true, ErrorMessage: fmt.Sprint(r)}
			err = nil
		}
	}()

	args, err := o.registry.Resolve(tool, experiment, kind)
	if err != nil {
		return nil, err
	}
	pool, err := o.open(args)
	if err != nil {
		if backend.IsConfigError(err) {
			return nil, err
		}
		logger.Error("unexpected error", zap.Error(err))
		report.CrashDetected = true
		report.ErrorMessage = err.Error()
		return report, nil
	}
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("close pool failed", zap.Error(err))
		}
	}()

	if !pool.CheckConnection(ctx) {
		logger.Warn("backend unreachable, restarting it")
		if err := o.restarter.Restart(ctx, tool, experiment, kind); err != nil {
			if backend.IsConfigError(err) {
				return nil, err
			}
			logger.Warn("restart backend failed", zap.Error(err))
		}
		if !pool.CheckConnection(ctx) {
			logger.Error("backend unreachable after restart", zap.String("sql", stmt))
			report.CrashDetected = true
			report.ErrorMessage = fmt.Sprintf("%s unreachable after restart", args.Kind)
			return report, nil
		}
	}

	res, err := execute(ctx, pool, stmt)
	if err != nil {
		logger.Error("crash detected during execution", zap.String("sql", stmt), zap.Error(err))
		report.CrashDetected = true
		report.ErrorMessage = err.Error()
	} else {
		report.Result = res
		report.ErrorMessage = res.ErrorMessage
	}

	if !pool.CheckConnection(ctx) {
		logger.Error("backend unreachable after execution, crash detected",
			zap.String("sql", stmt), zap.String("error", report.ErrorMessage))
		report.CrashDetected = true
	}
	return report, nil
}

func execute(ctx context.Context, pool Pool, stmt string) (res *connection.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, errors.Errorf("execution panicked: %v", r)
		}
	}()
	return executor.Run(ctx, pool, stmt)
}
