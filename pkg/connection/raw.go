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
	"database/sql/driver"
	"io"

	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"

	"github.com/pingcap/crashpocket/pkg/backend"
)

// rawEngine talks to the low level driver connection. It serves the kinds
// without engine adapter, a fresh session is dialed for every call and
// closed right after it.
type rawEngine struct {
	connector      driver.Connector
	explicitCommit bool
}

func newRawConnector(args *backend.ConnectionArgs) (driver.Connector, error) {
	return mysql.NewConnector(mysqlConfig(args))
}

func (e *rawEngine) dial(ctx context.Context) (driver.Conn, error) {
	conn, err := e.connector.Connect(ctx)
	return conn, errors.Trace(err)
}

func (e *rawEngine) probe(ctx context.Context) error {
	conn, err := e.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, _, err = rawQuery(ctx, conn, probeSQL)
	return errors.Trace(err)
}

func (e *rawEngine) run(ctx context.Context, stmt string, mutating bool) (*ExecutionResult, error) {
	conn, err := e.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res := &ExecutionResult{}
	if mutating {
		res.AffectedRows, err = e.exec(ctx, conn, stmt)
	} else {
		res.Columns, res.Rows, err = rawQuery(ctx, conn, stmt)
		res.AffectedRows = int64(len(res.Rows))
	}
	if err != nil {
		return failedResult(err), nil
	}
	return res, nil
}

func (e *rawEngine) exec(ctx context.Context, conn driver.Conn, stmt string) (int64, error) {
	execer, ok := conn.(driver.ExecerContext)
	if !ok {
		return 0, errors.NotSupportedf("exec on %T", conn)
	}
	var tx driver.Tx
	if e.explicitCommit {
		beginner, ok := conn.(driver.ConnBeginTx)
		if !ok {
			return 0, errors.NotSupportedf("transaction on %T", conn)
		}
		var err error
		if tx, err = beginner.BeginTx(ctx, driver.TxOptions{}); err != nil {
			return 0, err
		}
	}
	r, err := execer.ExecContext(ctx, stmt, nil)
	if err != nil {
		if tx != nil {
			tx.Rollback()
		}
		return 0, err
	}
	n, err := r.RowsAffected()
	if err != nil || n < 0 {
		n = 0
	}
	if tx != nil {
		if err := tx.Commit(); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func rawQuery(ctx context.Context, conn driver.Conn, stmt string) ([]string, []Row, error) {
	queryer, ok := conn.(driver.QueryerContext)
	if !ok {
		return nil, nil, errors.NotSupportedf("query on %T", conn)
	}
	rows, err := queryer.QueryContext(ctx, stmt, nil)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	columns := rows.Columns()
	result := make([]Row, 0)
	dest := make([]driver.Value, len(columns))
	for {
		if err := rows.Next(dest); err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, err
		}
		row := make(Row, len(dest))
		for i, v := range dest {
			row[i] = normalize(v)
		}
		result = append(result, row)
	}
	return columns, result, nil
}

func (e *rawEngine) close() error {
	if c, ok := e.connector.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
