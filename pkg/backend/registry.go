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
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pingcap/crashpocket/pkg/config"
)

// ConnectionArgs are resolved per (tool, experiment, backend)
type ConnectionArgs struct {
	Kind         Kind
	Tool         string
	Experiment   string
	Host         string
	Port         int
	Username     string
	Password     string
	DatabaseName string
	PoolSize     int
	MaxOverflow  int
	// ContainerName is the hosting container of network backends
	ContainerName string
	// Path is the database file of file-backed backends
	Path string

	dataDir string
}

// Addr returns host:port
func (a *ConnectionArgs) Addr() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// WithDatabase returns a copy of the args pointing at another database
func (a *ConnectionArgs) WithDatabase(name string) *ConnectionArgs {
	cp := *a
	cp.DatabaseName = name
	if a.Kind.FileBacked() {
		cp.Path = filepath.Join(a.dataDir, name+a.Kind.Traits().FileExt)
	}
	return &cp
}

// Values returns the placeholder values of lifecycle command templates
func (a *ConnectionArgs) Values() map[string]string {
	return map[string]string{
		"dbname":         a.DatabaseName,
		"container_name": a.ContainerName,
		"host":           a.Host,
		"port":           strconv.Itoa(a.Port),
		"username":       a.Username,
		"password":       a.Password,
		"tool":           a.Tool,
		"experiment":     a.Experiment,
		"kind":           a.Kind.String(),
	}
}

// DatabaseName derives the physical database name of a test run. Every
// experiment of a tlp campaign shares one database.
func DatabaseName(tool, experiment string, kind Kind) string {
	if strings.Contains(experiment, "tlp") {
		experiment = "tlp"
	}
	return strings.ToLower(fmt.Sprintf("%s_%s_%s", tool, experiment, kind))
}

// Registry maps backend kinds to their configuration, it is read-only after
// NewRegistry returns and safe for concurrent use
type Registry struct {
	specs   map[Kind]*Spec
	aliases map[string]string
	dataDir string
}

// NewRegistry builds the registry from the configuration
func NewRegistry(cfg *config.Config) (*Registry, error) {
	r := &Registry{
		specs:   make(map[Kind]*Spec, len(cfg.Backends)),
		aliases: make(map[string]string, len(cfg.ToolAliases)),
		dataDir: cfg.Settings.DataDir,
	}
	for from, to := range cfg.ToolAliases {
		r.aliases[strings.ToLower(from)] = to
	}
	for name, b := range cfg.Backends {
		if b == nil {
			continue
		}
		kind, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		t := kind.Traits()
		fixture := b.DDLFixture
		if fixture == "" && cfg.Settings.FixtureDir != "" {
			fixture = filepath.Join(cfg.Settings.FixtureDir, kind.String()+".json")
		}
		r.specs[kind] = &Spec{
			Kind:           kind,
			DriverScheme:   t.Scheme,
			DefaultPort:    t.DefaultPort,
			Container:      b.Container,
			DDLFixturePath: fixture,
			conn:           *b,
		}
	}
	return r, nil
}

// Lookup returns the spec of a configured kind
func (r *Registry) Lookup(kind Kind) (*Spec, error) {
	s, ok := r.specs[kind]
	if !ok {
		return nil, newConfigError(kind.String(), ErrUnknownBackendKind)
	}
	return s, nil
}

// LookupName parses the kind name and looks it up
func (r *Registry) LookupName(name string) (*Spec, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	return r.Lookup(kind)
}

// Kinds returns the configured kinds in declaration order
func (r *Registry) Kinds() []Kind {
	kinds := make([]Kind, 0, len(r.specs))
	for k := range r.specs {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// DataDir returns the directory of the file-backed databases
func (r *Registry) DataDir() string {
	return r.dataDir
}

// Tool folds tool aliases, several tools share the databases of one tool
func (r *Registry) Tool(tool string) string {
	if to, ok := r.aliases[strings.ToLower(tool)]; ok {
		return to
	}
	return tool
}

// Resolve builds the connection args of a test run
func (r *Registry) Resolve(tool, experiment, kind string) (*ConnectionArgs, error) {
	spec, err := r.LookupName(kind)
	if err != nil {
		return nil, err
	}
	if tool == "" {
		return nil, NewMissingEntryError("tool name")
	}
	tool = r.Tool(tool)
	b := spec.conn
	args := &ConnectionArgs{
		Kind:          spec.Kind,
		Tool:          tool,
		Experiment:    experiment,
		Host:          b.Host,
		Port:          b.Port,
		Username:      b.Username,
		Password:      b.Password,
		PoolSize:      b.PoolSize,
		MaxOverflow:   b.MaxOverflow,
		ContainerName: b.ContainerName,
		dataDir:       r.dataDir,
	}
	if args.Port == 0 {
		args.Port = spec.DefaultPort
	}
	if args.PoolSize <= 0 {
		args.PoolSize = 1
	}
	if args.MaxOverflow < 0 {
		args.MaxOverflow = 0
	}
	if !spec.Kind.FileBacked() && args.Host == "" {
		return nil, NewMissingEntryError(spec.Kind.String() + " host")
	}
	return args.WithDatabase(DatabaseName(tool, experiment, spec.Kind)), nil
}

// AdminArgs returns the args of the database used to replay reset DDLs,
// the configured admin database or <tool>_temp_<kind>
func (r *Registry) AdminArgs(args *ConnectionArgs) (*ConnectionArgs, error) {
	spec, err := r.Lookup(args.Kind)
	if err != nil {
		return nil, err
	}
	name := spec.conn.AdminDatabase
	if name == "" {
		name = strings.ToLower(fmt.Sprintf("%s_temp_%s", args.Tool, args.Kind))
	}
	return args.WithDatabase(name), nil
}
