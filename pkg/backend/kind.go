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

package backend

import (
	"strings"

	"github.com/pingcap/crashpocket/pkg/config"
)

// Kind is one of the supported database engines
type Kind int

// Kind enums
const (
	MySQL Kind = iota
	MariaDB
	TiDB
	Postgres
	SQLite
	DuckDB
	MonetDB
	ClickHouse
	OceanBase
)

var kindNames = [...]string{
	MySQL:      "mysql",
	MariaDB:    "mariadb",
	TiDB:       "tidb",
	Postgres:   "postgres",
	SQLite:     "sqlite",
	DuckDB:     "duckdb",
	MonetDB:    "monetdb",
	ClickHouse: "clickhouse",
	OceanBase:  "oceanbase",
}

// String implements fmt.Stringer
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// ParseKind parses a backend kind case-insensitively
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k, kn := range kindNames {
		if kn == n {
			return Kind(k), nil
		}
	}
	return 0, newConfigError(name, ErrUnknownBackendKind)
}

// AllKinds returns every kind in declaration order
func AllKinds() []Kind {
	kinds := make([]Kind, 0, len(kindNames))
	for k := range kindNames {
		kinds = append(kinds, Kind(k))
	}
	return kinds
}

// Style tells how the hosting process of a backend is brought up
type Style int

// Style enums
const (
	// StyleContainer is a single container started by name
	StyleContainer Style = iota
	// StyleCluster is brought up by a cluster script, restarting means rerunning it
	StyleCluster
)

// Traits describe how a kind is driven
type Traits struct {
	// Driver is the database/sql driver name
	Driver      string
	Scheme      string
	DefaultPort int
	// FileExt is set for file-backed kinds, the database name resolves to a local file
	FileExt string
	// Raw kinds have no engine adapter and talk to the low level driver connection
	Raw bool
	// ExplicitCommit kinds run mutating statements in a transaction and commit it,
	// others execute them in autocommit mode
	ExplicitCommit bool
	ReadCommitted  bool
	// SchemaReset kinds reset through their own reset sub-commands
	SchemaReset bool
	Style       Style
}

var traits = map[Kind]Traits{
	MySQL:      {Driver: "mysql", Scheme: "mysql", DefaultPort: 3306, ExplicitCommit: true, ReadCommitted: true},
	MariaDB:    {Driver: "mysql", Scheme: "mysql", DefaultPort: 3306, ExplicitCommit: true, ReadCommitted: true},
	TiDB:       {Driver: "mysql", Scheme: "mysql", DefaultPort: 4000, ExplicitCommit: true, ReadCommitted: true, Style: StyleCluster},
	Postgres:   {Driver: "postgres", Scheme: "postgres", DefaultPort: 5432},
	SQLite:     {Driver: "sqlite", Scheme: "sqlite", FileExt: ".sqlite", ExplicitCommit: true},
	DuckDB:     {Driver: "duckdb", Scheme: "duckdb", FileExt: ".duckdb", ExplicitCommit: true},
	MonetDB:    {Driver: "monetdb", Scheme: "monetdb", DefaultPort: 50000, ExplicitCommit: true, SchemaReset: true},
	ClickHouse: {Driver: "clickhouse", Scheme: "clickhouse", DefaultPort: 9000},
	OceanBase:  {Driver: "mysql", Scheme: "mysql", DefaultPort: 2881, Raw: true, ExplicitCommit: true},
}

// Traits returns the static traits of the kind
func (k Kind) Traits() Traits {
	return traits[k]
}

// FileBacked reports whether the kind keeps its database in a local file
func (k Kind) FileBacked() bool {
	return traits[k].FileExt != ""
}

// Spec describes one configured backend kind, it is never mutated after the
// registry is built
type Spec struct {
	Kind           Kind
	DriverScheme   string
	DefaultPort    int
	Container      config.Container
	DDLFixturePath string

	conn config.Backend
}

// Traits is a shortcut of Spec.Kind.Traits
func (s *Spec) Traits() Traits {
	return s.Kind.Traits()
}
