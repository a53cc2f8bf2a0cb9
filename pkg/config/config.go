package config

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"github.com/getmockd/vbackend/pkg/consistency"
	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/snapshot/s3store"
	"github.com/getmockd/vbackend/pkg/store"
)

// DefaultAdminAddr is the default listen address of the admin API.
const DefaultAdminAddr = "localhost:4290"

// Config is the complete server configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Snapshots   SnapshotConfig    `mapstructure:"snapshots" yaml:"snapshots"`
	Consistency ConsistencyConfig `mapstructure:"consistency" yaml:"consistency"`
	Workspaces  WorkspaceConfig   `mapstructure:"workspaces" yaml:"workspaces"`
	Seed        SeedConfig        `mapstructure:"seed" yaml:"seed"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout" yaml:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout" yaml:"writeTimeout"`
	IdleTimeout     time.Duration `mapstructure:"idleTimeout" yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout" yaml:"shutdownTimeout"`
	// RequestTimeout bounds every admin request, lock waits included. Zero
	// leaves lock waits to the tracker's default timeout.
	RequestTimeout time.Duration `mapstructure:"requestTimeout" yaml:"requestTimeout"`
	CORSOrigins    []string      `mapstructure:"corsOrigins" yaml:"corsOrigins"`
	Metrics        bool          `mapstructure:"metrics" yaml:"metrics"`
	// RateLimit is the per-client request rate in requests per second.
	// Zero disables limiting.
	RateLimit float64 `mapstructure:"rateLimit" yaml:"rateLimit"`
	RateBurst int     `mapstructure:"rateBurst" yaml:"rateBurst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"`
	File      string `mapstructure:"file" yaml:"file"`
	AddSource bool   `mapstructure:"addSource" yaml:"addSource"`
}

// Logging converts c into a logging.Config.
func (c LogConfig) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(c.Level)
	cfg.Format = logging.ParseFormat(c.Format)
	cfg.File = c.File
	cfg.AddSource = c.AddSource
	return cfg
}

// StoreConfig selects where entity records live.
type StoreConfig struct {
	// Backend is memory, sqlite or postgres.
	Backend store.Backend `mapstructure:"backend" yaml:"backend"`
}

// DatabaseConfig locates the SQL databases shared by the entity store and
// the SQL snapshot storage.
type DatabaseConfig struct {
	SQLitePath  string `mapstructure:"sqlitePath" yaml:"sqlitePath"`
	PostgresDSN string `mapstructure:"postgresDSN" yaml:"postgresDSN"`
}

// DSN returns the data source for a SQL backend.
func (c DatabaseConfig) DSN(kind store.Backend) string {
	if kind == store.BackendPostgres {
		return c.PostgresDSN
	}
	return c.SQLitePath
}

// SnapshotConfig selects where snapshots live.
type SnapshotConfig struct {
	// Backend is memory, file, sqlite, postgres or s3.
	Backend store.Backend  `mapstructure:"backend" yaml:"backend"`
	Dir     string         `mapstructure:"dir" yaml:"dir"`
	S3      s3store.Config `mapstructure:"s3" yaml:"s3"`
}

// ConsistencyConfig tunes the consistency tracker.
type ConsistencyConfig struct {
	LockTimeout time.Duration `mapstructure:"lockTimeout" yaml:"lockTimeout"`
	TrackReads  bool          `mapstructure:"trackReads" yaml:"trackReads"`
}

// WorkspaceConfig controls workspace creation.
type WorkspaceConfig struct {
	// AutoCreate creates a workspace the first time it is named.
	AutoCreate bool `mapstructure:"autoCreate" yaml:"autoCreate"`
	// Create lists workspaces created at startup.
	Create []string `mapstructure:"create" yaml:"create"`
}

// SeedConfig points at a fixture file applied at startup.
type SeedConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns the built-in configuration: everything in memory.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAdminAddr,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"http://localhost:*", "http://127.0.0.1:*"},
			Metrics:         true,
			RateBurst:       200,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Store: StoreConfig{Backend: store.BackendMemory},
		Database: DatabaseConfig{
			SQLitePath: store.DefaultDatabasePath(),
		},
		Snapshots: SnapshotConfig{
			Backend: store.BackendMemory,
			Dir:     store.DefaultSnapshotDir(),
			S3:      s3store.Config{Prefix: "snapshots", Region: "us-east-1"},
		},
		Consistency: ConsistencyConfig{
			LockTimeout: consistency.DefaultLockTimeout,
			TrackReads:  true,
		},
		Workspaces: WorkspaceConfig{
			AutoCreate: true,
			Create:     []string{"default"},
		},
	}
}

var entityBackends = []store.Backend{store.BackendMemory, store.BackendSQLite, store.BackendPostgres}

// Validate checks c and returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, &store.ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		invalid("server.addr", "invalid listen address %q: %v", c.Server.Addr, err)
	}
	for name, d := range map[string]time.Duration{
		"server.readTimeout":     c.Server.ReadTimeout,
		"server.writeTimeout":    c.Server.WriteTimeout,
		"server.idleTimeout":     c.Server.IdleTimeout,
		"server.shutdownTimeout": c.Server.ShutdownTimeout,
		"server.requestTimeout":  c.Server.RequestTimeout,
	} {
		if d < 0 {
			invalid(name, "must not be negative")
		}
	}
	if c.Server.RateLimit < 0 {
		invalid("server.rateLimit", "must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		invalid("server.rateBurst", "must be at least 1 when rate limiting is on")
	}
	if c.Consistency.LockTimeout <= 0 {
		invalid("consistency.lockTimeout", "must be positive")
	}

	entityBackend, err := store.ParseBackend(string(c.Store.Backend))
	switch {
	case err != nil:
		errs = append(errs, err)
	case !slices.Contains(entityBackends, entityBackend):
		invalid("store.backend", "entities cannot be stored in %q; use memory, sqlite or postgres", entityBackend)
	}
	snapBackend, err := store.ParseBackend(string(c.Snapshots.Backend))
	if err != nil {
		errs = append(errs, err)
	}
	if (entityBackend == store.BackendPostgres || snapBackend == store.BackendPostgres) && c.Database.PostgresDSN == "" {
		invalid("database.postgresDSN", "required by the postgres backend")
	}
	if snapBackend == store.BackendS3 && c.Snapshots.S3.Bucket == "" {
		invalid("snapshots.s3.bucket", "required by the s3 backend")
	}
	if snapBackend == store.BackendFile && c.Snapshots.Dir == "" {
		invalid("snapshots.dir", "required by the file backend")
	}
	for _, id := range c.Workspaces.Create {
		if id == "" {
			invalid("workspaces.create", "empty workspace ID")
		}
	}
	return errors.Join(errs...)
}

// Normalize canonicalizes backend names.
func (c *Config) Normalize() {
	if b, err := store.ParseBackend(string(c.Store.Backend)); err == nil {
		c.Store.Backend = b
	}
	if b, err := store.ParseBackend(string(c.Snapshots.Backend)); err == nil {
		c.Snapshots.Backend = b
	}
}
