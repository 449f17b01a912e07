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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pingcap/crashpocket/pkg/backend"
	"github.com/pingcap/crashpocket/pkg/config"
	"github.com/pingcap/crashpocket/pkg/connection"
	"github.com/pingcap/crashpocket/pkg/crash"
	"github.com/pingcap/crashpocket/pkg/lifecycle"
	"github.com/pingcap/crashpocket/pkg/timeout"
)

type stoppedRuntime struct{}

func (stoppedRuntime) ImageExists(context.Context, string) (bool, error) { return true, nil }
func (stoppedRuntime) PullImage(context.Context, string) error           { return nil }
func (stoppedRuntime) Inspect(context.Context, string) (lifecycle.ContainerInfo, error) {
	return lifecycle.ContainerInfo{}, nil
}
func (stoppedRuntime) Start(context.Context, string) error { return nil }

type nopRunner struct{}

func (nopRunner) Run(context.Context, []string) ([]byte, []byte, error) { return nil, nil, nil }

func newTestHarness(t *testing.T, opener func(*backend.ConnectionArgs) (crash.Pool, error)) *Harness {
	cfg := config.Init()
	cfg.Settings.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Settings.FixtureDir = filepath.Join(t.TempDir(), "fixtures")
	h, err := New(cfg, &Option{
		Logger:  zap.NewNop(),
		Runtime: stoppedRuntime{},
		Runner:  nopRunner{},
		Sleep:   func(context.Context, time.Duration) {},
		Opener:  opener,
	})
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func TestKinds(t *testing.T) {
	h := newTestHarness(t, nil)
	assert.Equal(t, []string{"mysql", "mariadb", "tidb", "postgres", "sqlite", "duckdb", "monetdb", "clickhouse", "oceanbase"}, h.Kinds())
}

func TestSQLiteScenarios(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()

	out, err := h.Execute(ctx, "sqlancer", "exp1", "sqlite", "CREATE TABLE t0(c0 INT UNIQUE);")
	require.NoError(t, err)
	assert.False(t, out.CrashDetected)
	assert.Empty(t, out.ErrorMessage)
	assert.Zero(t, out.AffectedRows)
	assert.Nil(t, out.Rows)

	out, err = h.Execute(ctx, "sqlancer", "exp1", "sqlite", "INSERT INTO t0(c0) VALUES (1);")
	require.NoError(t, err)
	assert.False(t, out.CrashDetected)
	assert.Empty(t, out.ErrorMessage)

	out, err = h.Execute(ctx, "sqlancer", "exp1", "sqlite", "INSERT INTO t0(c0) VALUES (1);")
	require.NoError(t, err)
	assert.False(t, out.CrashDetected)
	assert.NotEmpty(t, out.ErrorMessage)
	assert.Nil(t, out.Rows)

	out, err = h.Execute(ctx, "sqlancer", "exp1", "sqlite", "SELECT c0 FROM t0")
	require.NoError(t, err)
	require.Len(t, out.Rows, 1)
	assert.True(t, out.ExecutionSeconds > 0)

	// reset drops the file, the next pool starts from an empty database
	require.NoError(t, h.Reset(ctx, "sqlancer", "exp1", "sqlite"))
	out, err = h.Execute(ctx, "sqlancer", "exp1", "sqlite", "SELECT 1")
	require.NoError(t, err)
	assert.False(t, out.CrashDetected)
	require.Len(t, out.Rows, 1)

	out, err = h.Execute(ctx, "sqlancer", "exp1", "sqlite", "SELECT c0 FROM t0")
	require.NoError(t, err)
	assert.NotEmpty(t, out.ErrorMessage)

	state, err := h.Status(ctx, "sqlancer", "exp1", "sqlite")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Running, state)

	sums := h.Stats()
	require.Len(t, sums, 1)
	assert.Equal(t, "sqlite", sums[0].Kind)
	assert.Equal(t, int64(6), sums[0].Executions)
	assert.Equal(t, int64(2), sums[0].Failed)
	assert.Zero(t, sums[0].Crashes)
}

func TestExecuteConfigError(t *testing.T) {
	h := newTestHarness(t, nil)
	out, err := h.Execute(context.Background(), "sqlancer", "exp1", "db2", "SELECT 1")
	assert.Nil(t, out)
	assert.True(t, backend.IsConfigError(err))
}

type slowPool struct {
	release chan struct{}
}

func (p *slowPool) CheckConnection(context.Context) bool { return true }
func (p *slowPool) Close() error                         { return nil }

func (p *slowPool) Execute(context.Context, string) (*connection.ExecutionResult, error) {
	select {
	case <-time.After(10 * time.Second):
	case <-p.release:
	}
	return &connection.ExecutionResult{}, nil
}

func TestExecuteWithTimeout(t *testing.T) {
	pool := &slowPool{release: make(chan struct{})}
	defer close(pool.release)
	h := newTestHarness(t, func(*backend.ConnectionArgs) (crash.Pool, error) { return pool, nil })

	start := time.Now()
	out, err := h.ExecuteWithTimeout(context.Background(), time.Second, "sqlancer", "exp1", "mysql", "SELECT SLEEP(10)")
	elapsed := time.Since(start)
	assert.Nil(t, out)
	assert.True(t, timeout.IsTimedOut(err))
	assert.Less(t, elapsed, 3*time.Second)

	sums := h.Stats()
	require.Len(t, sums, 1)
	assert.Equal(t, int64(1), sums[0].Timeouts)
}

type ctxPool struct {
	release chan struct{}
}

func (p *ctxPool) CheckConnection(ctx context.Context) bool { return ctx.Err() == nil }
func (p *ctxPool) Close() error                           { return nil }

func (p *ctxPool) Execute(ctx context.Context, _ string) (*connection.ExecutionResult, error) {
	select {
	case <-p.release:
		return &connection.ExecutionResult{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestTimedOutExecutionSurvivesCallerCancel(t *testing.T) {
	pool := &ctxPool{release: make(chan struct{})}
	h := newTestHarness(t, func(*backend.ConnectionArgs) (crash.Pool, error) { return pool, nil })

	ctx, cancel := context.WithCancel(context.Background())
	_, err := h.ExecuteWithTimeout(ctx, 100*time.Millisecond, "sqlancer", "exp1", "MySQL", "SELECT SLEEP(1)")
	require.True(t, timeout.IsTimedOut(err))
	// the http server cancels the request context once the 504 is written
	cancel()
	time.Sleep(50 * time.Millisecond)
	close(pool.release)

	require.Eventually(t, func() bool {
		sums := h.Stats()
		return len(sums) == 1 && sums[0].Executions == 1
	}, 5*time.Second, 10*time.Millisecond)
	sums := h.Stats()
	assert.Equal(t, "mysql", sums[0].Kind)
	assert.Equal(t, int64(1), sums[0].Timeouts)
	assert.Zero(t, sums[0].Crashes)
	assert.Zero(t, sums[0].Failed)
}

func TestStatsKeyedByKind(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	_, err := h.Execute(ctx, "sqlancer", "exp1", "SQLite", "SELECT 1")
	require.NoError(t, err)
	_, err = h.Execute(ctx, "sqlancer", "exp1", "sqlite", "SELECT 1")
	require.NoError(t, err)

	sums := h.Stats()
	require.Len(t, sums, 1)
	assert.Equal(t, "sqlite", sums[0].Kind)
	assert.Equal(t, int64(2), sums[0].Executions)
}

func TestExecuteWithoutBudget(t *testing.T) {
	h := newTestHarness(t, nil)
	out, err := h.ExecuteWithTimeout(context.Background(), 0, "sqlancer", "exp1", "sqlite", "SELECT 1")
	require.NoError(t, err)
	assert.Len(t, out.Rows, 1)
}

func TestResetAll(t *testing.T) {
	h := newTestHarness(t, nil)
	ctx := context.Background()
	_, err := h.Execute(ctx, "sqlancer", "exp1", "sqlite", "CREATE TABLE t0(c0 INT);")
	require.NoError(t, err)

	// mysql has no fixture in the temp fixture dir
	err = h.ResetAll(ctx, "sqlancer", "exp1", []string{"sqlite", "mysql", "db2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reset mysql")
	assert.Contains(t, err.Error(), "reset db2")
	assert.NotContains(t, err.Error(), "reset sqlite")

	_, err = os.Stat(filepath.Join(h.registry.DataDir(), "sqlancer_exp1_sqlite.sqlite"))
	assert.True(t, os.IsNotExist(err))
}
