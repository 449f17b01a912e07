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

package connection

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/juju/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/pingcap/crashpocket/pkg/backend"
	"github.com/pingcap/crashpocket/util"
)

const probeSQL = "SELECT 1"

// ErrPoolClosed is returned by Execute after Close
var ErrPoolClosed = errors.New("connection pool is closed")

// Option struct
type Option struct {
	Logger *zap.Logger
	// ProbeTimeout bounds CheckConnection, a hung server counts as unreachable
	ProbeTimeout time.Duration
}

// engine hides the client library of a backend kind. run returns an error
// only when no session could be established, statement errors are folded
// into the result.
type engine interface {
	probe(ctx context.Context) error
	run(ctx context.Context, stmt string, mutating bool) (*ExecutionResult, error)
	close() error
}

// Pool owns the single engine handle of one (tool, experiment, backend) triple.
// It is not shared between calls and needs no locking besides the close flag.
type Pool struct {
	args         *backend.ConnectionArgs
	engine       engine
	logger       *zap.Logger
	probeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool
}

// Open creates the pool. No connection is made until the first probe or
// statement, failing to build the engine handle is the only error.
func Open(args *backend.ConnectionArgs, opt *Option) (*Pool, error) {
	t := args.Kind.Traits()
	if !driverRegistered(t.Driver) {
		return nil, backend.NewUnsupportedError(args.Kind)
	}
	if t.Raw {
		connector, err := newRawConnector(args)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return newPool(args, &rawEngine{connector: connector, explicitCommit: t.ExplicitCommit}, opt), nil
	}
	db, err := openDB(args)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newPool(args, newSQLEngine(db, args.Kind), opt), nil
}

func newPool(args *backend.ConnectionArgs, e engine, opt *Option) *Pool {
	if opt == nil {
		opt = &Option{}
	}
	l := opt.Logger
	if l == nil {
		l = zap.L()
	}
	probeTimeout := opt.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	return &Pool{
		args:         args,
		engine:       e,
		logger:       l.Named("connection").With(zap.Stringer("kind", args.Kind), zap.String("db", args.DatabaseName)),
		probeTimeout: probeTimeout,
	}
}

// Args returns the connection args of the pool
func (p *Pool) Args() *backend.ConnectionArgs {
	return p.args
}

// CheckConnection runs a trivial probe through the pool. It never panics and
// never returns an error, any failure reads as false.
func (p *Pool) CheckConnection(ctx context.Context) (ok bool) {
	if p.closed.Load() {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("probe panicked", zap.Any("panic", r))
			ok = false
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()
	if err := p.engine.probe(ctx); err != nil {
		p.logger.Info("probe failed", zap.Error(err))
		return false
	}
	return true
}

// Execute runs one statement. Statements starting with INSERT, UPDATE, DELETE
// or CREATE are committed and report the affected rows, all others fetch
// their rows without committing. The returned error means no session could
// be established.
func (p *Pool) Execute(ctx context.Context, stmt string) (*ExecutionResult, error) {
	if p.closed.Load() {
		return nil, errors.Trace(ErrPoolClosed)
	}
	start := time.Now()
	res, err := p.engine.run(ctx, stmt, IsMutating(stmt))
	if err != nil {
		p.logSQL(stmt, time.Since(start), err)
		return nil, errors.Annotatef(err, "connect to %s", p.args.Kind)
	}
	res.Elapsed = time.Since(start)
	p.logSQL(stmt, res.Elapsed, res.err)
	return res, nil
}

// Close disposes every held connection, calling it again is a no-op
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = errors.Trace(p.engine.close())
	})
	return p.closeErr
}

func (p *Pool) logSQL(stmt string, duration time.Duration, err error) {
	p.logger.Debug("exec sql",
		zap.Bool("success", err == nil),
		zap.Duration("duration", duration),
		zap.String("sql", stmt),
		zap.Error(err))
	switch {
	case err == nil:
	case util.IsErrDupEntry(err):
		p.logger.Debug("duplicate key rejected", zap.String("sql", stmt))
	case util.IsConnectionLost(errors.Cause(err)):
		p.logger.Warn("connection lost while executing", zap.String("sql", stmt), zap.Error(err))
	}
}

func driverRegistered(name string) bool {
	for _, d := range sql.Drivers() {
		if d == name {
			return true
		}
	}
	return false
}
