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

	"github.com/juju/errors"

	"github.com/pingcap/crashpocket/pkg/backend"
)

const readCommittedSQL = "SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED"

// sqlEngine drives every kind that has a database/sql driver
type sqlEngine struct {
	db             *sql.DB
	explicitCommit bool
	// initSQL runs on every acquired connection
	initSQL string
}

func newSQLEngine(db *sql.DB, kind backend.Kind) *sqlEngine {
	t := kind.Traits()
	e := &sqlEngine{db: db, explicitCommit: t.ExplicitCommit}
	if t.ReadCommitted {
		e.initSQL = readCommittedSQL
	}
	return e
}

func (e *sqlEngine) conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if e.initSQL != "" {
		if _, err := conn.ExecContext(ctx, e.initSQL); err != nil {
			conn.Close()
			return nil, errors.Trace(err)
		}
	}
	return conn, nil
}

func (e *sqlEngine) probe(ctx context.Context) error {
	conn, err := e.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	var one interface{}
	return errors.Trace(conn.QueryRowContext(ctx, probeSQL).Scan(&one))
}

func (e *sqlEngine) run(ctx context.Context, stmt string, mutating bool) (*ExecutionResult, error) {
	conn, err := e.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	res := &ExecutionResult{}
	if mutating {
		res.AffectedRows, err = e.exec(ctx, conn, stmt)
	} else {
		res.Columns, res.Rows, err = queryAll(ctx, conn, stmt)
		res.AffectedRows = int64(len(res.Rows))
	}
	if err != nil {
		return failedResult(err), nil
	}
	return res, nil
}

func (e *sqlEngine) exec(ctx context.Context, conn *sql.Conn, stmt string) (int64, error) {
	if !e.explicitCommit {
		r, err := conn.ExecContext(ctx, stmt)
		if err != nil {
			return 0, err
		}
		return rowsAffected(r), nil
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	r, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	n := rowsAffected(r)
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

func (e *sqlEngine) close() error {
	return e.db.Close()
}

func queryAll(ctx context.Context, conn *sql.Conn, stmt string) ([]string, []Row, error) {
	rows, err := conn.QueryContext(ctx, stmt)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	result := make([]Row, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, nil, err
		}
		row := make(Row, len(values))
		for i, v := range values {
			row[i] = normalize(v)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, result, nil
}

// rowsAffected is 0 for drivers that cannot tell
func rowsAffected(r sql.Result) int64 {
	n, err := r.RowsAffected()
	if err != nil || n < 0 {
		return 0
	}
	return n
}
