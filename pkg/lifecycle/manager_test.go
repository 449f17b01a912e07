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
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pingcap/crashpocket/pkg/backend"
	"github.com/pingcap/crashpocket/pkg/config"
	"github.com/pingcap/crashpocket/pkg/connection"
)

type fakeRuntime struct {
	mu       sync.Mutex
	images   map[string]bool
	infos    map[string]ContainerInfo
	pulled   []string
	started  []string
	startErr error
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{images: map[string]bool{}, infos: map[string]ContainerInfo{}}
}

func (r *fakeRuntime) ImageExists(_ context.Context, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.images[ref], nil
}

func (r *fakeRuntime) PullImage(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pulled = append(r.pulled, ref)
	r.images[ref] = true
	return nil
}

func (r *fakeRuntime) Inspect(_ context.Context, name string) (ContainerInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infos[name], nil
}

func (r *fakeRuntime) Start(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, name)
	if r.startErr != nil {
		return r.startErr
	}
	r.infos[name] = ContainerInfo{Exists: true, Running: true, StartedAt: time.Now()}
	return nil
}

type fakeRunner struct {
	mu     sync.Mutex
	cmds   []string
	output map[string]string
	fail   map[string]bool
}

func (r *fakeRunner) Run(_ context.Context, argv []string) ([]byte, []byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd := strings.Join(argv, " ")
	r.cmds = append(r.cmds, cmd)
	for prefix := range r.fail {
		if strings.HasPrefix(cmd, prefix) {
			return []byte("partial"), []byte("exit status 1"), errors.New("exit status 1")
		}
	}
	for prefix, out := range r.output {
		if strings.HasPrefix(cmd, prefix) {
			return []byte(out), nil, nil
		}
	}
	return nil, nil, nil
}

type fakeSession struct {
	args    *backend.ConnectionArgs
	stmts   []string
	healthy bool
	closed  bool
}

func (s *fakeSession) Execute(_ context.Context, stmt string) (*connection.ExecutionResult, error) {
	s.stmts = append(s.stmts, stmt)
	if strings.HasPrefix(stmt, "DROP") {
		return &connection.ExecutionResult{ErrorMessage: "database does not exist"}, nil
	}
	return &connection.ExecutionResult{}, nil
}

func (s *fakeSession) CheckConnection(context.Context) bool { return s.healthy }

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type harness struct {
	manager  *Manager
	runtime  *fakeRuntime
	runner   *fakeRunner
	sessions []*fakeSession
	slept    []time.Duration
	healthy  bool
	dir      string
}

func testConfig(dir string) *config.Config {
	cfg := config.Init()
	cfg.Settings.DataDir = filepath.Join(dir, "data")
	cfg.Settings.FixtureDir = filepath.Join(dir, "fixtures")
	cfg.Backends["mysql"].Container = config.Container{
		Image:           "mysql:8.0.39",
		Run:             []string{"docker", "run", "-d", "--name", "{container_name}", "-p", "{port}:3306", "{image}"},
		Enter:           []string{"docker", "exec", "-i", "{container_name}"},
		Login:           []string{"mysql", "-u{username}", "-p{password}", "-e"},
		Bootstrap:       [][]string{{"mysql", "-e", "'GRANT ALL ON *.* TO {username}'"}},
		CreateDatabases: []string{"CREATE DATABASE IF NOT EXISTS {dbname};"},
	}
	cfg.Backends["tidb"].Container = config.Container{
		Run:             []string{"tiup", "playground", "--db.port", "{port}", "--tag", "{container_name}"},
		Enter:           []string{},
		Login:           []string{"mysql", "-h{host}", "-P{port}", "-u{username}", "-e"},
		CreateDatabases: []string{"CREATE DATABASE IF NOT EXISTS {dbname};"},
	}
	cfg.Backends["clickhouse"].Container = config.Container{
		Image:         "clickhouse/clickhouse-server:24.8",
		Run:           []string{"docker", "run", "-d", "--name", "{container_name}", "{image}"},
		Enter:         []string{"docker", "exec", "-i", "{container_name}"},
		Login:         []string{"clickhouse-client", "--user", "{username}", "--query"},
		PrepareCheck:  []string{"dpkg", "-l", "|", "grep", "vim"},
		PrepareMarker: "vim",
		Prepare:       [][]string{{"apt-get", "update"}, {"apt-get", "install", "-y", "vim"}},
	}
	cfg.Backends["monetdb"].Container = config.Container{
		Enter: []string{"docker", "exec", "{container_name}"},
		Reset: [][]string{
			{"monetdb", "stop", "{dbname}"},
			{"monetdb", "destroy", "-f", "{dbname}"},
			{"monetdb", "create", "{dbname}"},
		},
	}
	return cfg
}

func newHarness(t *testing.T) *harness {
	h := &harness{runtime: newFakeRuntime(), runner: &fakeRunner{}, dir: t.TempDir(), healthy: true}
	r, err := backend.NewRegistry(testConfig(h.dir))
	require.NoError(t, err)
	h.manager = NewManager(r, h.runtime, h.runner, &Option{
		Logger:      zap.NewNop(),
		SettleDelay: 15 * time.Second,
		Sleep:       func(_ context.Context, d time.Duration) { h.slept = append(h.slept, d) },
		Opener: func(args *backend.ConnectionArgs) (Session, error) {
			s := &fakeSession{args: args, healthy: h.healthy}
			h.sessions = append(h.sessions, s)
			return s, nil
		},
	})
	return h
}

func TestFormat(t *testing.T) {
	values := map[string]string{"dbname": "sqlancer_exp1_mysql", "port": "3306"}
	assert.Equal(t, "DROP DATABASE IF EXISTS sqlancer_exp1_mysql", Format("DROP DATABASE IF EXISTS {dbname}", values))
	assert.Equal(t, "-p3306:3306", Format("-p{port}:3306", values))
	assert.Equal(t, "{{.Names}}", Format("{{.Names}}", values))
	assert.Equal(t, "{unknown} sqlancer_exp1_mysql", Format("{unknown} {dbname}", values))
	assert.Equal(t, "{dbname", Format("{dbname", values))
	assert.Equal(t, "plain", Format("plain", values))
	assert.Nil(t, FormatAll(nil, values))
}

func TestLoadFixture(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "mysql.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`["DROP DATABASE IF EXISTS {dbname}", "CREATE DATABASE {dbname}"]`), 0644))
	ddls, err := LoadFixture(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"DROP DATABASE IF EXISTS {dbname}", "CREATE DATABASE {dbname}"}, ddls)

	yamlPath := filepath.Join(dir, "postgres.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("- DROP DATABASE IF EXISTS {dbname}\n- CREATE DATABASE {dbname}\n"), 0644))
	ddls, err = LoadFixture(yamlPath)
	require.NoError(t, err)
	assert.Len(t, ddls, 2)

	_, err = LoadFixture(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, backend.ErrMissingEntry)

	for _, kind := range []string{"mysql", "mariadb", "tidb", "postgres", "clickhouse", "oceanbase"} {
		ddls, err := LoadFixture(filepath.Join("..", "..", "fixtures", kind+".json"))
		require.NoError(t, err, kind)
		assert.Contains(t, ddls, "CREATE DATABASE {dbname}", kind)
	}
}

func TestEnsureProvisionedColdStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.manager.EnsureProvisioned(ctx, "sqlancer", "exp1", "mysql"))

	assert.Equal(t, []string{"mysql:8.0.39"}, h.runtime.pulled)
	assert.Equal(t, []string{
		"docker run -d --name mysql -p 3306:3306 mysql:8.0.39",
		"docker exec -i mysql mysql -e 'GRANT ALL ON *.* TO root'",
		"docker exec -i mysql mysql -uroot -p123456 -e 'CREATE DATABASE IF NOT EXISTS sqlancer_exp1_mysql;'",
	}, h.runner.cmds)
	assert.Equal(t, []time.Duration{15 * time.Second}, h.slept)
}

func TestEnsureProvisionedIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.runtime.images["mysql:8.0.39"] = true
	h.runtime.infos["mysql"] = ContainerInfo{Exists: true, Running: true}

	require.NoError(t, h.manager.EnsureProvisioned(ctx, "sqlancer", "exp1", "mysql"))
	assert.Empty(t, h.runtime.pulled)
	assert.Empty(t, h.runtime.started)
	assert.Empty(t, h.slept)
	// bootstrap and database creation are replayed, they are idempotent SQL
	assert.Len(t, h.runner.cmds, 2)
}

func TestEnsureProvisionedStartsStoppedContainer(t *testing.T) {
	h := newHarness(t)
	h.runtime.images["mysql:8.0.39"] = true
	h.runtime.infos["mysql"] = ContainerInfo{Exists: true}

	require.NoError(t, h.manager.EnsureProvisioned(context.Background(), "sqlancer", "exp1", "mysql"))
	assert.Equal(t, []string{"mysql"}, h.runtime.started)
	assert.NotContains(t, h.runner.cmds, "docker run -d --name mysql -p 3306:3306 mysql:8.0.39")
	assert.Len(t, h.slept, 1)
}

func TestEnsureProvisionedPrepareMarker(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.runtime.images["clickhouse/clickhouse-server:24.8"] = true
	h.runtime.infos["clickhouse"] = ContainerInfo{Exists: true, Running: true}

	require.NoError(t, h.manager.EnsureProvisioned(ctx, "sqlancer", "exp1", "clickhouse"))
	assert.Contains(t, h.runner.cmds, "docker exec -i clickhouse apt-get install -y vim")

	h.runner.cmds = nil
	h.runner.output = map[string]string{"docker exec -i clickhouse dpkg": "ii  vim  2:8.2"}
	require.NoError(t, h.manager.EnsureProvisioned(ctx, "sqlancer", "exp1", "clickhouse"))
	assert.Equal(t, []string{"docker exec -i clickhouse dpkg -l | grep vim"}, h.runner.cmds)
}

func TestEnsureProvisionedSwallowsFailures(t *testing.T) {
	h := newHarness(t)
	h.runner.fail = map[string]bool{"docker": true}
	require.NoError(t, h.manager.EnsureProvisioned(context.Background(), "sqlancer", "exp1", "mysql"))
	assert.Len(t, h.runner.cmds, 3)
}

func TestEnsureProvisionedCluster(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.EnsureProvisioned(context.Background(), "sqlancer", "exp1", "tidb"))
	assert.Equal(t, []string{
		"tiup playground --db.port 4000 --tag tidb",
		"mysql -h127.0.0.1 -P4000 -uroot -e 'CREATE DATABASE IF NOT EXISTS sqlancer_exp1_tidb;'",
	}, h.runner.cmds)
	assert.Empty(t, h.runtime.pulled)
	assert.Empty(t, h.slept)
}

func TestEnsureProvisionedConfigError(t *testing.T) {
	h := newHarness(t)
	err := h.manager.EnsureProvisioned(context.Background(), "sqlancer", "exp1", "oracle")
	assert.ErrorIs(t, err, backend.ErrUnknownBackendKind)
	assert.Empty(t, h.runner.cmds)
}

func TestRestart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.manager.Restart(ctx, "sqlancer", "exp1", "mysql"))
	assert.Equal(t, []string{"mysql"}, h.runtime.started)
	assert.Equal(t, []time.Duration{15 * time.Second}, h.slept)
	assert.Empty(t, h.runner.cmds)

	h.runtime.startErr = errors.New("no such container")
	require.NoError(t, h.manager.Restart(ctx, "sqlancer", "exp1", "mysql"))
	assert.Len(t, h.slept, 2)

	require.NoError(t, h.manager.Restart(ctx, "sqlancer", "exp1", "tidb"))
	assert.Equal(t, []string{"tiup playground --db.port 4000 --tag tidb"}, h.runner.cmds)
	assert.Len(t, h.runtime.started, 2)
}

func TestResetFileBacked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	path := filepath.Join(h.dir, "data", "sqlancer_exp1_sqlite.sqlite")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("SQLite format 3"), 0644))

	require.NoError(t, h.manager.Reset(ctx, "sqlancer", "exp1", "sqlite"))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// nothing to remove
	require.NoError(t, h.manager.Reset(ctx, "sqlancer", "exp1", "sqlite"))
	assert.Empty(t, h.runner.cmds)
	assert.Empty(t, h.sessions)
}

func TestResetSchemaCommands(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.manager.Reset(context.Background(), "sqlancer", "exp1", "monetdb"))
	assert.Equal(t, []string{
		"docker exec monetdb monetdb stop sqlancer_exp1_monetdb",
		"docker exec monetdb monetdb destroy -f sqlancer_exp1_monetdb",
		"docker exec monetdb monetdb create sqlancer_exp1_monetdb",
	}, h.runner.cmds)
	assert.Empty(t, h.sessions)
}

func TestResetReplaysFixture(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(h.dir, "fixtures")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mysql.json"),
		[]byte(`["DROP DATABASE {dbname}", "CREATE DATABASE {dbname}"]`), 0644))

	require.NoError(t, h.manager.Reset(context.Background(), "sqlancer", "tlp_where", "mysql"))
	require.Len(t, h.sessions, 1)
	s := h.sessions[0]
	assert.Equal(t, "sqlancer_temp_mysql", s.args.DatabaseName)
	// the failing DROP does not stop the replay
	assert.Equal(t, []string{"DROP DATABASE sqlancer_tlp_mysql", "CREATE DATABASE sqlancer_tlp_mysql"}, s.stmts)
	assert.True(t, s.closed)
}

func TestResetAdminDatabase(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(h.dir, "fixtures")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "postgres.json"), []byte(`["CREATE DATABASE {dbname}"]`), 0644))

	require.NoError(t, h.manager.Reset(context.Background(), "sqlright", "exp1", "postgres"))
	require.Len(t, h.sessions, 1)
	assert.Equal(t, "postgres", h.sessions[0].args.DatabaseName)
	assert.Equal(t, []string{"CREATE DATABASE sqlancer_exp1_postgres"}, h.sessions[0].stmts)
}

func TestResetMissingFixture(t *testing.T) {
	h := newHarness(t)
	err := h.manager.Reset(context.Background(), "sqlancer", "exp1", "mariadb")
	assert.True(t, backend.IsConfigError(err))
	assert.ErrorIs(t, err, backend.ErrMissingEntry)
	assert.Empty(t, h.sessions)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	state, err := h.manager.Status(ctx, "sqlancer", "exp1", "mysql")
	require.NoError(t, err)
	assert.Equal(t, Stopped, state)

	h.runtime.infos["mysql"] = ContainerInfo{Exists: true, Running: true, StartedAt: time.Now()}
	state, err = h.manager.Status(ctx, "sqlancer", "exp1", "mysql")
	require.NoError(t, err)
	assert.Equal(t, Running, state)

	h.healthy = false
	state, err = h.manager.Status(ctx, "sqlancer", "exp1", "mysql")
	require.NoError(t, err)
	assert.Equal(t, Starting, state)

	h.runtime.infos["mysql"] = ContainerInfo{Exists: true, Running: true, StartedAt: time.Now().Add(-time.Hour)}
	state, err = h.manager.Status(ctx, "sqlancer", "exp1", "mysql")
	require.NoError(t, err)
	assert.Equal(t, Unreachable, state)
	assert.Equal(t, "unreachable", state.String())

	for _, s := range h.sessions {
		assert.True(t, s.closed)
	}

	_, err = h.manager.Status(ctx, "sqlancer", "exp1", "db2")
	assert.True(t, backend.IsConfigError(err))
}

func TestWaitReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.runtime.infos["mysql"] = ContainerInfo{Exists: true, Running: true}
	require.NoError(t, h.manager.WaitReady(ctx, "sqlancer", "exp1", "mysql", 3, nil))

	h.healthy = false
	err := h.manager.WaitReady(ctx, "sqlancer", "exp1", "mysql", 1, nil)
	assert.Equal(t, ErrNotReady, errors.Cause(err))

	err = h.manager.WaitReady(ctx, "sqlancer", "exp1", "db2", 5, nil)
	assert.True(t, backend.IsConfigError(err))
}
