package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/getmockd/vbackend/internal/sqldb"
	"github.com/getmockd/vbackend/pkg/admin"
	"github.com/getmockd/vbackend/pkg/config"
	entitysql "github.com/getmockd/vbackend/pkg/entity/sqlstore"
	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/metrics"
	"github.com/getmockd/vbackend/pkg/snapshot"
	"github.com/getmockd/vbackend/pkg/snapshot/file"
	"github.com/getmockd/vbackend/pkg/snapshot/s3store"
	snapshotsql "github.com/getmockd/vbackend/pkg/snapshot/sqlstore"
	"github.com/getmockd/vbackend/pkg/store"
	"github.com/getmockd/vbackend/pkg/workspace"
)

// server holds everything a running vbackend owns.
type server struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *workspace.Registry
	metrics  *metrics.Metrics
	http     *http.Server

	// closers run in reverse order on shutdown.
	closers []io.Closer
}

// newServer wires storage, the registry and the admin API from cfg. On
// error everything opened so far is closed.
func newServer(ctx context.Context, cfg *config.Config) (_ *server, retErr error) {
	log, logCloser, err := logging.New(cfg.Log.Logging())
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	s := &server{cfg: cfg, log: log, closers: []io.Closer{logCloser}}
	defer func() {
		if retErr != nil {
			_ = s.close()
		}
	}()

	dbs := make(map[store.Backend]*sqldb.DB)
	openDB := func(kind store.Backend) (*sqldb.DB, error) {
		if db, ok := dbs[kind]; ok {
			return db, nil
		}
		db, err := sqldb.Open(ctx, kind, cfg.Database.DSN(kind))
		if err != nil {
			return nil, err
		}
		dbs[kind] = db
		s.closers = append(s.closers, db)
		return db, nil
	}

	backends, err := entityBackends(ctx, cfg.Store.Backend, openDB)
	if err != nil {
		return nil, fmt.Errorf("entity store: %w", err)
	}
	snapshots, err := snapshotStorage(ctx, cfg.Snapshots, openDB, logging.ForComponent(log, "snapshot-storage"))
	if err != nil {
		return nil, fmt.Errorf("snapshot storage: %w", err)
	}

	regOpts := []workspace.Option{
		workspace.WithBackends(backends),
		workspace.WithSnapshotStorage(snapshots),
		workspace.WithLockTimeout(cfg.Consistency.LockTimeout),
		workspace.WithTrackReads(cfg.Consistency.TrackReads),
		workspace.WithAutoCreate(cfg.Workspaces.AutoCreate),
		workspace.WithLogger(logging.ForComponent(log, "workspace")),
	}
	if cfg.Server.Metrics {
		s.metrics = metrics.New()
		regOpts = append(regOpts, workspace.WithObserver(s.metrics))
	}

	reg, err := workspace.NewRegistry(ctx, regOpts...)
	if err != nil {
		_ = snapshots.Close()
		return nil, err
	}
	s.registry = reg
	// The registry closes the snapshot storage; databases close after it.
	s.closers = append(s.closers, reg)

	for _, id := range cfg.Workspaces.Create {
		if _, err := reg.Ensure(ctx, id); err != nil {
			return nil, fmt.Errorf("create workspace %s: %w", id, err)
		}
	}

	if cfg.Seed.File != "" {
		fixtures, err := workspace.LoadFixtures(cfg.Seed.File)
		if err != nil {
			return nil, err
		}
		n, err := reg.Seed(ctx, fixtures)
		if err != nil {
			return nil, err
		}
		log.Info("seeded records", "file", cfg.Seed.File, "records", n)
	}

	apiOpts := []admin.Option{
		admin.WithLogger(logging.ForComponent(log, "admin")),
		admin.WithVersion(Version),
		admin.WithRequestTimeout(cfg.Server.RequestTimeout),
		admin.WithCORSOrigins(cfg.Server.CORSOrigins...),
		admin.WithRateLimit(cfg.Server.RateLimit, cfg.Server.RateBurst),
	}
	if s.metrics != nil {
		apiOpts = append(apiOpts, admin.WithMetrics(s.metrics))
	}

	s.http = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           admin.New(reg, apiOpts...),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(log.Handler(), slog.LevelWarn),
	}
	return s, nil
}

func entityBackends(ctx context.Context, kind store.Backend, openDB func(store.Backend) (*sqldb.DB, error)) (workspace.Backends, error) {
	switch kind {
	case store.BackendMemory, "":
		return workspace.MemoryBackends{}, nil
	case store.BackendSQLite, store.BackendPostgres:
		db, err := openDB(kind)
		if err != nil {
			return nil, err
		}
		edb, err := entitysql.Open(ctx, db)
		if err != nil {
			return nil, err
		}
		return workspace.SQLBackends{DB: edb}, nil
	}
	return nil, &store.ValidationError{Field: "store.backend", Message: fmt.Sprintf("entities cannot be stored in %q", kind)}
}

func snapshotStorage(ctx context.Context, cfg config.SnapshotConfig, openDB func(store.Backend) (*sqldb.DB, error), log *slog.Logger) (snapshot.Storage, error) {
	switch cfg.Backend {
	case store.BackendMemory, "":
		return snapshot.NewMemoryStorage(), nil
	case store.BackendFile:
		return file.New(cfg.Dir, file.WithLogger(log))
	case store.BackendSQLite, store.BackendPostgres:
		db, err := openDB(cfg.Backend)
		if err != nil {
			return nil, err
		}
		return snapshotsql.New(ctx, db)
	case store.BackendS3:
		st, err := s3store.New(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		st.SetLogger(log)
		return st, nil
	}
	return nil, &store.ValidationError{Field: "snapshots.backend", Message: fmt.Sprintf("unknown backend %q", cfg.Backend)}
}

// run serves until ctx is cancelled, then shuts down gracefully. ready, if
// non-nil, receives the bound address once the listener is open.
func (s *server) run(ctx context.Context, ready func(addr string)) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.http.Addr, err)
	}
	addr := ln.Addr().String()
	s.log.Info("vbackend started",
		"addr", addr,
		"version", Version,
		"entities", s.registry.Backend(),
		"snapshots", s.registry.Snapshots().Storage(),
		"workspaces", len(s.registry.List()),
	)
	if ready != nil {
		ready(addr)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down", "timeout", s.cfg.Server.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("graceful shutdown incomplete", "error", err)
		_ = s.http.Close()
	}
	return <-errCh
}

func (s *server) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
