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

package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"
	"github.com/mohae/deepcopy"
)

// Duration wrapper
type Duration struct {
	time.Duration
}

// UnmarshalText implement time.ParseDuration function for Duration
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.Trace(err)
}

// MarshalText encodes the duration the way UnmarshalText reads it
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Settings holds process wide knobs
type Settings struct {
	// DataDir keeps the files of file-backed backends
	DataDir    string `toml:"data-dir"`
	FixtureDir string `toml:"fixture-dir"`
	// SettleDelay is waited after a cold container start
	SettleDelay Duration `toml:"settle-delay"`
	// Shell wraps lifecycle commands, the command words are joined by a space
	// and passed as the last argument. Empty means exec the words directly.
	Shell      []string `toml:"shell"`
	DockerHost string   `toml:"docker-host"`
	// ExecTimeout is the default budget of one execution, 0 disables the guard
	ExecTimeout Duration `toml:"exec-timeout"`
}

// Log configures the logger sink
type Log struct {
	File       string   `toml:"file"`
	Level      string   `toml:"level"`
	MaxSize    int      `toml:"max-size"`
	MaxBackups int      `toml:"max-backups"`
	MaxAge     int      `toml:"max-age"`
	Mute       []string `toml:"mute"`
}

// Server configures the http front end
type Server struct {
	Addr string `toml:"addr"`
	// MaxConns bounds the concurrent connections, 0 means no bound
	MaxConns int `toml:"max-conns"`
}

// Container holds the lifecycle command templates of a backend
type Container struct {
	Image string   `toml:"image"`
	Run   []string `toml:"run"`
	Enter []string `toml:"enter"`
	Login []string `toml:"login"`
	// Prepare runs once, skipped when the output of PrepareCheck contains PrepareMarker
	PrepareCheck    []string   `toml:"prepare-check"`
	PrepareMarker   string     `toml:"prepare-marker"`
	Prepare         [][]string `toml:"prepare"`
	Bootstrap       [][]string `toml:"bootstrap"`
	CreateDatabases []string   `toml:"create-databases"`
	Reset           [][]string `toml:"reset"`
}

// Backend holds connection defaults of one backend kind
type Backend struct {
	Host          string    `toml:"host"`
	Port          int       `toml:"port"`
	Username      string    `toml:"username"`
	Password      string    `toml:"password"`
	PoolSize      int       `toml:"pool-size"`
	MaxOverflow   int       `toml:"max-overflow"`
	ContainerName string    `toml:"container-name"`
	AdminDatabase string    `toml:"admin-database"`
	DDLFixture    string    `toml:"ddl-fixture"`
	Container     Container `toml:"container"`
}

// Config struct
type Config struct {
	Settings    Settings            `toml:"settings"`
	Log         Log                 `toml:"log"`
	Server      Server              `toml:"server"`
	ToolAliases map[string]string   `toml:"tool-aliases"`
	Backends    map[string]*Backend `toml:"backends"`
}

var initConfig = Config{
	Settings: Settings{
		DataDir:     "./data",
		FixtureDir:  "./fixtures",
		SettleDelay: Duration{Duration: 15 * time.Second},
		Shell:       []string{"bash", "-c"},
	},
	Log: Log{
		File:    "./crash_bug_detection.log",
		Level:   "info",
		MaxSize: 300,
		Mute:    []string{"http.client"},
	},
	Server: Server{
		Addr:     "0.0.0.0:8080",
		MaxConns: 64,
	},
	ToolAliases: map[string]string{
		"sqlright": "sqlancer",
	},
	Backends: map[string]*Backend{
		"mysql":      {Host: "127.0.0.1", Port: 3306, Username: "root", Password: "123456", PoolSize: 20, MaxOverflow: 20, ContainerName: "mysql"},
		"mariadb":    {Host: "127.0.0.1", Port: 3307, Username: "root", Password: "123456", PoolSize: 20, MaxOverflow: 20, ContainerName: "mariadb"},
		"tidb":       {Host: "127.0.0.1", Port: 4000, Username: "root", PoolSize: 20, MaxOverflow: 20, ContainerName: "tidb"},
		"postgres":   {Host: "127.0.0.1", Port: 5432, Username: "postgres", Password: "123456", PoolSize: 20, MaxOverflow: 20, ContainerName: "postgres", AdminDatabase: "postgres"},
		"sqlite":     {PoolSize: 1},
		"duckdb":     {PoolSize: 1},
		"monetdb":    {Host: "127.0.0.1", Port: 50000, Username: "monetdb", Password: "monetdb", PoolSize: 20, MaxOverflow: 20, ContainerName: "monetdb"},
		"clickhouse": {Host: "127.0.0.1", Port: 9000, Username: "admin", Password: "123456", PoolSize: 20, MaxOverflow: 20, ContainerName: "clickhouse", AdminDatabase: "default"},
		"oceanbase":  {Host: "127.0.0.1", Port: 2881, Username: "root", PoolSize: 20, MaxOverflow: 20, ContainerName: "oceanbase", AdminDatabase: "oceanbase"},
	},
}

// Init get default Config
func Init() *Config {
	return initConfig.Copy()
}

// Load config from file. Scalars override the defaults one by one, a
// [backends.<kind>] table replaces the default entry of that kind as a whole.
func (c *Config) Load(path string) error {
	_, err := toml.DecodeFile(path, c)
	return errors.Annotatef(err, "load config %s", path)
}

// Copy Config struct, the backend entries are copied as well
func (c *Config) Copy() *Config {
	return deepcopy.Copy(c).(*Config)
}
