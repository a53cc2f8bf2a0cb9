package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/store"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vbackend.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, store.BackendMemory, cfg.Store.Backend)
	assert.Equal(t, 5*time.Second, cfg.Consistency.LockTimeout)
	assert.True(t, cfg.Consistency.TrackReads)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":8080"
  corsOrigins: ["https://ui.example.com"]
  requestTimeout: 2s
store:
  backend: SQLite
database:
  sqlitePath: /tmp/vb.db
snapshots:
  backend: s3
  s3:
    bucket: snaps
    pathStyle: true
consistency:
  lockTimeout: 250ms
  trackReads: false
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"https://ui.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 2*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout, "unset keys keep their defaults")
	assert.Equal(t, store.BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/vb.db", cfg.Database.DSN(store.BackendSQLite))
	assert.Equal(t, store.BackendS3, cfg.Snapshots.Backend)
	assert.Equal(t, "snaps", cfg.Snapshots.S3.Bucket)
	assert.Equal(t, "snapshots", cfg.Snapshots.S3.Prefix)
	assert.True(t, cfg.Snapshots.S3.PathStyle)
	assert.Equal(t, 250*time.Millisecond, cfg.Consistency.LockTimeout)
	assert.False(t, cfg.Consistency.TrackReads)

	lc := cfg.Log.Logging()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: memory\n")
	t.Setenv("VBACKEND_STORE_BACKEND", "postgres")
	t.Setenv("VBACKEND_DATABASE_POSTGRESDSN", "postgres://vb@localhost/vb")
	t.Setenv("VBACKEND_CONSISTENCY_LOCKTIMEOUT", "1s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, store.BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://vb@localhost/vb", cfg.Database.PostgresDSN)
	assert.Equal(t, time.Second, cfg.Consistency.LockTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err, "an explicit path must exist")

	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err, "no file found by search is fine")
	assert.Equal(t, DefaultAdminAddr, cfg.Server.Addr)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unclosed\n"))
	assert.Error(t, err)
}

func TestValidate_JoinsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Addr = "no-port"
	cfg.Store.Backend = store.BackendS3
	cfg.Snapshots.Backend = store.BackendPostgres
	cfg.Consistency.LockTimeout = 0
	cfg.Server.IdleTimeout = -time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalid)
	for _, field := range []string{"server.addr", "store.backend", "database.postgresDSN", "consistency.lockTimeout", "server.idleTimeout"} {
		assert.Contains(t, err.Error(), field)
	}

	cfg = Default()
	cfg.Snapshots.Backend = "tape"
	assert.ErrorIs(t, cfg.Validate(), store.ErrInvalid)
}

func TestMarshal(t *testing.T) {
	data, err := Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(data), "lockTimeout:")
	assert.Contains(t, string(data), "backend: memory")
}
