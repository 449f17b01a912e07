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

package harness

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jpillora/backoff"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pingcap/crashpocket/pkg/backend"
	"github.com/pingcap/crashpocket/pkg/config"
	"github.com/pingcap/crashpocket/pkg/connection"
	"github.com/pingcap/crashpocket/pkg/crash"
	"github.com/pingcap/crashpocket/pkg/lifecycle"
	"github.com/pingcap/crashpocket/pkg/stats"
	"github.com/pingcap/crashpocket/pkg/timeout"
)

// Outcome is what a fuzzer gets back for one statement
type Outcome struct {
	RunID            string           `json:"run_id"`
	Columns          []string         `json:"columns,omitempty"`
	Rows             []connection.Row `json:"rows"`
	AffectedRows     int64            `json:"affected_rows"`
	ExecutionSeconds float64          `json:"execution_seconds"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CrashDetected    bool             `json:"crash_detected"`
}

func newOutcome(r *crash.Report) *Outcome {
	o := &Outcome{RunID: r.RunID, ErrorMessage: r.ErrorMessage, CrashDetected: r.CrashDetected}
	if r.Result != nil {
		o.Columns = r.Result.Columns
		o.Rows = r.Result.Rows
		o.AffectedRows = r.Result.AffectedRows
		o.ExecutionSeconds = r.Result.ElapsedSeconds()
	}
	return o
}

// Option customizes the collaborators of a Harness
type Option struct {
	Logger  *zap.Logger
	Runtime lifecycle.Runtime
	Runner  lifecycle.Runner
	// Sleep replaces the settle delay wait
	Sleep func(ctx context.Context, d time.Duration)
	// Opener replaces the connection pools
	Opener func(args *backend.ConnectionArgs) (crash.Pool, error)
}

// Harness is the entry point of fuzzers: it executes statements with crash
// detection and drives the lifecycle of the backends
type Harness struct {
	registry     *backend.Registry
	manager      *lifecycle.Manager
	orchestrator *crash.Orchestrator
	runtime      lifecycle.Runtime
	stats        *stats.Recorder
	execTimeout  time.Duration
	logger       *zap.Logger
}

// New builds a Harness from the configuration
func New(cfg *config.Config, opt *Option) (*Harness, error) {
	if opt == nil {
		opt = &Option{}
	}
	registry, err := backend.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.L()
	}
	runtime := opt.Runtime
	if runtime == nil {
		d, err := lifecycle.NewDockerRuntime(cfg.Settings.DockerHost)
		if err != nil {
			return nil, errors.Trace(err)
		}
		runtime = d
	}
	runner := opt.Runner
	if runner == nil {
		runner = &lifecycle.ShellRunner{Shell: cfg.Settings.Shell}
	}

	lopt := &lifecycle.Option{
		Logger:      logger,
		SettleDelay: cfg.Settings.SettleDelay.Duration,
		Sleep:       opt.Sleep,
	}
	copt := &crash.Option{Logger: logger}
	if opt.Opener != nil {
		open := opt.Opener
		lopt.Opener = func(args *backend.ConnectionArgs) (lifecycle.Session, error) {
			p, err := open(args)
			if err != nil {
				return nil, err
			}
			return p, nil
		}
		copt.Opener = crash.Opener(open)
	}
	manager := lifecycle.NewManager(registry, runtime, runner, lopt)
	return &Harness{
		registry:     registry,
		manager:      manager,
		orchestrator: crash.NewOrchestrator(registry, manager, copt),
		runtime:      runtime,
		stats:        stats.NewRecorder(),
		execTimeout:  cfg.Settings.ExecTimeout.Duration,
		logger:       logger.Named("harness"),
	}, nil
}

// Kinds returns the configured backend kinds
func (h *Harness) Kinds() []string {
	kinds := h.registry.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	return names
}

// Execute runs one statement with crash detection. The error is only ever
// a configuration error.
func (h *Harness) Execute(ctx context.Context, tool, experiment, kind, stmt string) (*Outcome, error) {
	start := time.Now()
	report, err := h.orchestrator.RunChecked(ctx, tool, experiment, kind, stmt)
	if err != nil {
		return nil, err
	}
	h.stats.Record(statsKey(kind), time.Since(start), report.ErrorMessage != "" && !report.CrashDetected, report.CrashDetected)
	return newOutcome(report), nil
}

// Stats summarizes the executions per backend kind
func (h *Harness) Stats() []stats.Summary {
	return h.stats.Snapshot()
}

func statsKey(kind string) string {
	if k, err := backend.ParseKind(kind); err == nil {
		return k.String()
	}
	return kind
}

// ExecuteWithTimeout is Execute bounded by budget, a non-positive budget
// falls back to the configured exec timeout and then to no bound. On expiry
// it returns an error matching timeout.ErrTimedOut while the execution goes
// on in the background, including any restart it triggered. The background
// run is detached from the cancellation of ctx, so a caller that gives up
// does not abort the statement nor fail its post-check.
func (h *Harness) ExecuteWithTimeout(ctx context.Context, budget time.Duration, tool, experiment, kind, stmt string) (*Outcome, error) {
	if budget <= 0 {
		budget = h.execTimeout
	}
	if budget <= 0 {
		return h.Execute(ctx, tool, experiment, kind, stmt)
	}
	ctx = context.WithoutCancel(ctx)
	task := timeout.Go(func() (*Outcome, error) {
		return h.Execute(ctx, tool, experiment, kind, stmt)
	})
	out, err := task.Wait(budget)
	if timeout.IsTimedOut(err) {
		h.stats.RecordTimeout(statsKey(kind))
		h.logger.Warn("execution timed out, left running in background",
			zap.String("tool", tool), zap.String("experiment", experiment), zap.String("kind", kind),
			zap.Duration("budget", budget), zap.String("sql", stmt))
		go func() {
			<-task.Done()
			h.logger.Info("timed out execution finished", zap.String("kind", kind), zap.String("sql", stmt))
		}()
	}
	return out, err
}

// Reset returns the database of a test run to an empty state
func (h *Harness) Reset(ctx context.Context, tool, experiment, kind string) error {
	return h.manager.Reset(ctx, tool, experiment, kind)
}

// Provision makes sure the backend runs and carries the database of the test run
func (h *Harness) Provision(ctx context.Context, tool, experiment, kind string) error {
	return h.manager.EnsureProvisioned(ctx, tool, experiment, kind)
}

// WaitReady polls the backend until it answers, at most retry times
func (h *Harness) WaitReady(ctx context.Context, tool, experiment, kind string, retry int, b *backoff.Backoff) error {
	return h.manager.WaitReady(ctx, tool, experiment, kind, retry, b)
}

// Status reports the state of the process hosting a backend
func (h *Harness) Status(ctx context.Context, tool, experiment, kind string) (lifecycle.ContainerState, error) {
	return h.manager.Status(ctx, tool, experiment, kind)
}

// ResetAll resets several backends of a test run in parallel, they live
// in distinct containers. Every failure is reported.
func (h *Harness) ResetAll(ctx context.Context, tool, experiment string, kinds []string) error {
	var (
		g      errgroup.Group
		mu     sync.Mutex
		result *multierror.Error
	)
	for _, kind := range kinds {
		kind := kind
		g.Go(func() error {
			if err := h.Reset(ctx, tool, experiment, kind); err != nil {
				mu.Lock()
				result = multierror.Append(result, errors.Annotatef(err, "reset %s", kind))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return result.ErrorOrNil()
}

// Close releases the container runtime client
func (h *Harness) Close() error {
	if c, ok := h.runtime.(io.Closer); ok {
		return errors.Trace(c.Close())
	}
	return nil
}
