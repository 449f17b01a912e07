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

package executor

import (
	"context"
	"time"

	"github.com/juju/errors"

	"github.com/pingcap/crashpocket/pkg/connection"
)

// Session is the part of a connection pool the executor needs
type Session interface {
	Execute(ctx context.Context, stmt string) (*connection.ExecutionResult, error)
}

// Run executes one statement and times it from the outside, the measured
// wall-clock time replaces whatever the session reported. There are no
// retries here.
func Run(ctx context.Context, s Session, stmt string) (*connection.ExecutionResult, error) {
	start := time.Now()
	res, err := s.Execute(ctx, stmt)
	elapsed := time.Since(start)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if res == nil {
		return nil, errors.Errorf("no result for statement %q", stmt)
	}
	res.Elapsed = elapsed
	return res, nil
}
