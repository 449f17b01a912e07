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

package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/pingcap/crashpocket/pkg/backend"
	"github.com/pingcap/crashpocket/pkg/connection"
	"github.com/pingcap/crashpocket/util"
)

// ContainerState is the observed state of the process hosting a backend
type ContainerState int

// ContainerState enums
const (
	Stopped ContainerState = iota
	Starting
	Running
	Unreachable
)

func (s ContainerState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s ContainerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is a connection pool used to replay reset DDLs
type Session interface {
	Execute(ctx context.Context, stmt string) (*connection.ExecutionResult, error)
	CheckConnection(ctx context.Context) bool
	Close() error
}

// Opener opens a pool on the given args
type Opener func(args *backend.ConnectionArgs) (Session, error)

// Option configures a Manager
type Option struct {
	Logger *zap.Logger
	// SettleDelay is waited after a cold start and after a restart
	SettleDelay time.Duration
	// Sleep waits out the settle delay, it returns early when ctx is done
	Sleep  func(ctx context.Context, d time.Duration)
	Opener Opener
}

// Manager provisions, restarts and resets backend containers. Every
// operation is best effort: failing commands are logged with their output
// and swallowed, the next connection probe decides whether the backend is
// usable. Only configuration errors are returned.
//
// Concurrent operations on the same container are not serialized.
type Manager struct {
	registry *backend.Registry
	runtime  Runtime
	runner   Runner
	settle   time.Duration
	sleep    func(ctx context.Context, d time.Duration)
	open     Opener
	logger   *zap.Logger
}

// NewManager creates a Manager
func NewManager(registry *backend.Registry, runtime Runtime, runner Runner, opt *Option) *Manager {
	if opt == nil {
		opt = &Option{}
	}
	m := &Manager{
		registry: registry,
		runtime:  runtime,
		runner:   runner,
		settle:   opt.SettleDelay,
		sleep:    opt.Sleep,
		open:     opt.Opener,
		logger:   opt.Logger,
	}
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	if m.logger == nil {
		m.logger = zap.L()
	}
	m.logger = m.logger.Named("lifecycle")
	if m.open == nil {
		logger := m.logger
		m.open = func(args *backend.ConnectionArgs) (Session, error) {
			p, err := connection.Open(args, &connection.Option{Logger: logger})
			if err != nil {
				return nil, err
			}
			return p, nil
		}
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// target bundles what one operation needs about its backend
type target struct {
	spec   *backend.Spec
	args   *backend.ConnectionArgs
	values map[string]string
	logger *zap.Logger
}

func (m *Manager) resolve(tool, experiment, kind string) (*target, error) {
	args, err := m.registry.Resolve(tool, experiment, kind)
	if err != nil {
		return nil, err
	}
	spec, err := m.registry.Lookup(args.Kind)
	if err != nil {
		return nil, err
	}
	values := args.Values()
	values["image"] = spec.Container.Image
	return &target{
		spec:   spec,
		args:   args,
		values: values,
		logger: m.logger.With(zap.Stringer("kind", args.Kind), zap.String("db", args.DatabaseName)),
	}, nil
}

// run executes a formatted template, failures are logged and swallowed
func (m *Manager) run(ctx context.Context, t *target, argv []string) (string, bool) {
	if len(argv) == 0 {
		return "", false
	}
	stdout, stderr, err := m.runner.Run(ctx, argv)
	if err != nil {
		t.logger.Warn("lifecycle command failed",
			zap.String("cmd", strings.Join(argv, " ")),
			zap.String("stdout", string(stdout)),
			zap.String("stderr", string(stderr)),
			zap.Error(err))
		return string(stdout), false
	}
	return string(stdout), true
}

// enter runs a command inside the container through the enter prefix
func (m *Manager) enter(ctx context.Context, t *target, words []string) (string, bool) {
	c := t.spec.Container
	argv := append(FormatAll(c.Enter, t.values), FormatAll(words, t.values)...)
	return m.run(ctx, t, argv)
}

// login runs one SQL statement through the login client inside the container
func (m *Manager) login(ctx context.Context, t *target, sql string) (string, bool) {
	c := t.spec.Container
	argv := append(FormatAll(c.Enter, t.values), FormatAll(c.Login, t.values)...)
	argv = append(argv, quoteSQL(Format(sql, t.values)))
	return m.run(ctx, t, argv)
}

// EnsureProvisioned pulls the image if absent, starts the container if it is
// not running and replays the bootstrap commands. It is safe to call when
// the backend is already provisioned.
func (m *Manager) EnsureProvisioned(ctx context.Context, tool, experiment, kind string) error {
	t, err := m.resolve(tool, experiment, kind)
	if err != nil {
		return err
	}
	if t.args.Kind.FileBacked() {
		// the driver creates the file on first use
		return nil
	}
	c := t.spec.Container
	t.logger.Info("provision backend")

	if t.spec.Traits().Style == backend.StyleCluster {
		m.run(ctx, t, FormatAll(c.Run, t.values))
	} else {
		m.ensureImage(ctx, t)
		if m.ensureRunning(ctx, t) {
			m.sleep(ctx, m.settle)
		}
	}

	if len(c.Prepare) > 0 && !m.prepared(ctx, t) {
		for _, cmd := range c.Prepare {
			m.enter(ctx, t, cmd)
		}
	}
	for _, cmd := range c.Bootstrap {
		m.enter(ctx, t, cmd)
	}
	for _, sql := range c.CreateDatabases {
		m.login(ctx, t, sql)
	}
	return nil
}

func (m *Manager) ensureImage(ctx context.Context, t *target) {
	ref := t.spec.Container.Image
	if ref == "" {
		return
	}
	ok, err := m.runtime.ImageExists(ctx, ref)
	if err != nil {
		t.logger.Warn("list images failed", zap.String("image", ref), zap.Error(err))
	}
	if ok {
		return
	}
	if err := m.runtime.PullImage(ctx, ref); err != nil {
		t.logger.Warn("pull image failed", zap.String("image", ref), zap.Error(err))
	}
}

// ensureRunning reports whether the container was cold started
func (m *Manager) ensureRunning(ctx context.Context, t *target) bool {
	name := t.args.ContainerName
	info, err := m.runtime.Inspect(ctx, name)
	if err != nil {
		t.logger.Warn("inspect container failed", zap.String("container", name), zap.Error(err))
	}
	if info.Running {
		return false
	}
	if info.Exists {
		if err := m.runtime.Start(ctx, name); err != nil {
			t.logger.Warn("start container failed", zap.String("container", name), zap.Error(err))
		}
		return true
	}
	m.run(ctx, t, FormatAll(t.spec.Container.Run, t.values))
	return true
}

// prepared runs the prepare check, the prepare step is skipped when its
// output carries the marker
func (m *Manager) prepared(ctx context.Context, t *target) bool {
	c := t.spec.Container
	if len(c.PrepareCheck) == 0 || c.PrepareMarker == "" {
		return false
	}
	out, _ := m.enter(ctx, t, c.PrepareCheck)
	return strings.Contains(out, c.PrepareMarker)
}

// Restart brings a backend back after it became unreachable. Cluster style
// backends rerun their bring-up script, others start the container by name
// and wait the settle delay.
func (m *Manager) Restart(ctx context.Context, tool, experiment, kind string) error {
	t, err := m.resolve(tool, experiment, kind)
	if err != nil {
		return err
	}
	if t.args.Kind.FileBacked() {
		return nil
	}
	t.logger.Warn("restart backend", zap.String("container", t.args.ContainerName))
	if t.spec.Traits().Style == backend.StyleCluster {
		m.run(ctx, t, FormatAll(t.spec.Container.Run, t.values))
		return nil
	}
	if err := m.runtime.Start(ctx, t.args.ContainerName); err != nil {
		t.logger.Warn("start container failed", zap.String("container", t.args.ContainerName), zap.Error(err))
	}
	m.sleep(ctx, m.settle)
	return nil
}

// Reset drops and recreates the logical database of a test run without
// touching the container process
func (m *Manager) Reset(ctx context.Context, tool, experiment, kind string) error {
	t, err := m.resolve(tool, experiment, kind)
	if err != nil {
		return err
	}
	traits := t.spec.Traits()
	switch {
	case t.args.Kind.FileBacked():
		removed, err := util.RemoveIfExist(t.args.Path)
		if err != nil {
			t.logger.Warn("remove database file failed", zap.String("path", t.args.Path), zap.Error(err))
			return nil
		}
		t.logger.Info("reset database file", zap.String("path", t.args.Path), zap.Bool("removed", removed))
		return nil
	case traits.SchemaReset && len(t.spec.Container.Reset) > 0:
		for _, cmd := range t.spec.Container.Reset {
			m.enter(ctx, t, cmd)
		}
		t.logger.Info("reset database")
		return nil
	}
	return m.replayFixture(ctx, t)
}

func (m *Manager) replayFixture(ctx context.Context, t *target) error {
	ddls, err := LoadFixture(t.spec.DDLFixturePath)
	if err != nil {
		return err
	}
	admin, err := m.registry.AdminArgs(t.args)
	if err != nil {
		return err
	}
	pool, err := m.open(admin)
	if err != nil {
		if backend.IsConfigError(err) {
			return err
		}
		t.logger.Warn("open admin database failed", zap.String("admin", admin.DatabaseName), zap.Error(err))
		return nil
	}
	defer pool.Close()

	values := map[string]string{"dbname": t.args.DatabaseName}
	failed := 0
	for _, ddl := range ddls {
		stmt := Format(ddl, values)
		res, err := pool.Execute(ctx, stmt)
		if err != nil {
			t.logger.Warn("replay ddl failed", zap.String("sql", stmt), zap.Error(err))
			failed++
			continue
		}
		if res.Failed() {
			t.logger.Info("replay ddl rejected", zap.String("sql", stmt), zap.String("error", res.ErrorMessage))
			failed++
		}
	}
	t.logger.Info("reset database", zap.String("admin", admin.DatabaseName),
		zap.String("ddls", fmt.Sprintf("%d/%d ok", len(ddls)-failed, len(ddls))))
	return nil
}

// Status reports the state of the process hosting a backend. A running
// container whose database does not answer a probe is Starting within the
// settle delay after its start and Unreachable afterwards.
func (m *Manager) Status(ctx context.Context, tool, experiment, kind string) (ContainerState, error) {
	t, err := m.resolve(tool, experiment, kind)
	if err != nil {
		return Stopped, err
	}
	var info ContainerInfo
	if !t.args.Kind.FileBacked() {
		info, err = m.runtime.Inspect(ctx, t.args.ContainerName)
		if err != nil {
			t.logger.Warn("inspect container failed", zap.String("container", t.args.ContainerName), zap.Error(err))
			return Unreachable, nil
		}
		if !info.Running {
			return Stopped, nil
		}
	}
	pool, err := m.open(t.args)
	if err != nil {
		if backend.IsConfigError(err) {
			return Stopped, err
		}
		return Unreachable, nil
	}
	defer pool.Close()
	if pool.CheckConnection(ctx) {
		return Running, nil
	}
	if !info.StartedAt.IsZero() && time.Since(info.StartedAt) < m.settle {
		return Starting, nil
	}
	return Unreachable, nil
}

// ErrNotReady is returned by WaitReady when the backend never answered
var ErrNotReady = errors.New("backend not ready")

// WaitReady polls Status until the backend is Running, at most retry times
func (m *Manager) WaitReady(ctx context.Context, tool, experiment, kind string, retry int, b *backoff.Backoff) error {
	if _, err := m.resolve(tool, experiment, kind); err != nil {
		return err
	}
	return util.RunWithRetry(ctx, retry, b, func() error {
		state, err := m.Status(ctx, tool, experiment, kind)
		if err != nil {
			return err
		}
		if state != Running {
			return errors.Annotatef(ErrNotReady, "%s is %s", kind, state)
		}
		return nil
	})
}
