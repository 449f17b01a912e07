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

package logger

import (
	"os"
	"strings"

	"github.com/juju/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pingcap/crashpocket/pkg/config"
)

// InitGlobalLogger initializes zap global logger from the log config and
// returns it. An empty file name logs to stderr.
func InitGlobalLogger(cfg config.Log) (*zap.Logger, error) {
	logger, err := New(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// New builds a logger without touching the globals
func New(cfg config.Log) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(cfg.Level); err != nil {
			return nil, errors.Annotatef(err, "log level %q", cfg.Level)
		}
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	core := zapcore.NewCore(encoder, getLogWriter(cfg), level)
	return zap.New(NewFilterCore(core, cfg.Mute...)), nil
}

func getLogWriter(cfg config.Log) zapcore.WriteSyncer {
	if cfg.File == "" {
		return zapcore.Lock(os.Stderr)
	}
	lumberJackLogger := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
	return zapcore.AddSync(lumberJackLogger)
}

// filterCore drops the entries of muted logger names. A muted name also mutes
// its children, muting "http" drops "http.client".
type filterCore struct {
	zapcore.Core
	muted []string
}

// NewFilterCore wraps core so that entries of the muted categories never reach it
func NewFilterCore(core zapcore.Core, muted ...string) zapcore.Core {
	if len(muted) == 0 {
		return core
	}
	return &filterCore{Core: core, muted: muted}
}

func (c *filterCore) isMuted(name string) bool {
	for _, m := range c.muted {
		if name == m || strings.HasPrefix(name, m+".") {
			return true
		}
	}
	return false
}

func (c *filterCore) With(fields []zapcore.Field) zapcore.Core {
	return &filterCore{Core: c.Core.With(fields), muted: c.muted}
}

func (c *filterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.isMuted(ent.LoggerName) {
		return ce
	}
	return c.Core.Check(ent, ce)
}
