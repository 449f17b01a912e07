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
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-sql-driver/mysql"
	"github.com/juju/errors"

	"github.com/pingcap/crashpocket/pkg/backend"
)

func mysqlConfig(args *backend.ConnectionArgs) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = args.Username
	cfg.Passwd = args.Password
	cfg.Net = "tcp"
	cfg.Addr = args.Addr()
	cfg.DBName = args.DatabaseName
	return cfg
}

// dataSourceName builds the driver DSN, file-backed kinds resolve to their file
func dataSourceName(args *backend.ConnectionArgs) (string, error) {
	switch args.Kind {
	case backend.MySQL, backend.MariaDB, backend.TiDB, backend.OceanBase:
		return mysqlConfig(args).FormatDSN(), nil
	case backend.Postgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(args.Username, args.Password),
			Host:     args.Addr(),
			Path:     "/" + args.DatabaseName,
			RawQuery: "sslmode=disable",
		}
		return u.String(), nil
	case backend.ClickHouse:
		u := url.URL{
			Scheme: "clickhouse",
			User:   url.UserPassword(args.Username, args.Password),
			Host:   args.Addr(),
			Path:   "/" + args.DatabaseName,
		}
		return u.String(), nil
	case backend.MonetDB:
		return fmt.Sprintf("%s:%s@%s/%s", args.Username, args.Password, args.Addr(), args.DatabaseName), nil
	case backend.SQLite, backend.DuckDB:
		if args.Path == "" {
			return "", backend.NewMissingEntryError(args.Kind.String() + " database file")
		}
		return args.Path, nil
	}
	return "", backend.NewUnsupportedError(args.Kind)
}

func openDB(args *backend.ConnectionArgs) (*sql.DB, error) {
	dsn, err := dataSourceName(args)
	if err != nil {
		return nil, err
	}
	if args.Kind.FileBacked() {
		if err := os.MkdirAll(filepath.Dir(args.Path), 0755); err != nil {
			return nil, errors.Annotatef(err, "create data dir of %s", args.Path)
		}
	}
	db, err := sql.Open(args.Kind.Traits().Driver, dsn)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if args.Kind.FileBacked() {
		// one handle on the file, the pool sizes do not apply
		db.SetMaxOpenConns(1)
		return db, nil
	}
	db.SetMaxIdleConns(args.PoolSize)
	db.SetMaxOpenConns(args.PoolSize + args.MaxOverflow)
	return db, nil
}
