// Package file stores snapshots as JSON files on local disk.
//
// Layout:
//
//	<dir>/<workspace>/<name>/manifest.json   descriptor
//	<dir>/<workspace>/<name>/state.json      captured records
//
// Both files are written atomically (temp file, then rename). The state is
// written first; a snapshot exists once its manifest does.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/getmockd/vbackend/pkg/logging"
	"github.com/getmockd/vbackend/pkg/snapshot"
	"github.com/getmockd/vbackend/pkg/store"
)

const (
	manifestFile = "manifest.json"
	stateFile    = "state.json"
)

// Storage implements snapshot.Storage on a directory tree.
type Storage struct {
	dir string
	log *slog.Logger
}

var _ snapshot.Storage = (*Storage)(nil)

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Storage) { s.log = log }
}

// New creates the directory if needed and returns a storage rooted at it.
// An empty dir selects store.DefaultSnapshotDir.
func New(dir string, opts ...Option) (*Storage, error) {
	if dir == "" {
		dir = store.DefaultSnapshotDir()
	}
	// Owner-only permissions (0700)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, store.IOError(store.BackendFile, "create snapshot dir", err)
	}
	s := &Storage{dir: dir, log: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the root directory.
func (s *Storage) Dir() string { return s.dir }

func (s *Storage) Kind() store.Backend { return store.BackendFile }

func (s *Storage) Create(_ context.Context, d *snapshot.Descriptor, state []byte) error {
	wsDir, err := s.path(d.Workspace)
	if err != nil {
		return err
	}
	snapDir, err := s.path(d.Workspace, d.Name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(wsDir, 0o700); err != nil {
		return err
	}

	if err := os.Mkdir(snapDir, 0o700); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return err
		}
		if _, err := os.Stat(filepath.Join(snapDir, manifestFile)); err == nil {
			return store.ErrConflict
		}
		// Left over from an interrupted create.
		s.log.Warn("removing incomplete snapshot", "workspace", d.Workspace, "name", d.Name)
		if err := os.RemoveAll(snapDir); err != nil {
			return err
		}
		if err := os.Mkdir(snapDir, 0o700); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return store.ErrConflict
			}
			return err
		}
	}

	manifest, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		_ = os.RemoveAll(snapDir)
		return err
	}
	if err := writeAtomic(filepath.Join(snapDir, stateFile), state); err != nil {
		_ = os.RemoveAll(snapDir)
		return err
	}
	if err := writeAtomic(filepath.Join(snapDir, manifestFile), manifest); err != nil {
		_ = os.RemoveAll(snapDir)
		return err
	}
	return nil
}

func (s *Storage) Descriptor(_ context.Context, workspace, name string) (*snapshot.Descriptor, error) {
	dir, err := s.path(workspace, name)
	if err != nil {
		return nil, err
	}
	return readManifest(filepath.Join(dir, manifestFile))
}

func (s *Storage) State(_ context.Context, d *snapshot.Descriptor) ([]byte, error) {
	dir, err := s.path(d.Workspace, d.Name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	return data, err
}

// List reads manifests only.
func (s *Storage) List(_ context.Context, workspace string) ([]*snapshot.Descriptor, error) {
	wsDir, err := s.path(workspace)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(wsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []*snapshot.Descriptor
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d, err := readManifest(filepath.Join(wsDir, e.Name(), manifestFile))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Storage) Delete(_ context.Context, workspace, name string) error {
	dir, err := s.path(workspace, name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(dir, manifestFile)); errors.Is(err, fs.ErrNotExist) {
		return store.ErrNotFound
	} else if err != nil {
		return err
	}
	// Without its manifest the directory is no longer listed.
	if err := os.Remove(filepath.Join(dir, manifestFile)); err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *Storage) DeleteWorkspace(_ context.Context, workspace string) error {
	dir, err := s.path(workspace)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (s *Storage) Close() error { return nil }

// path joins elements under the root, rejecting anything that is not a
// single path component.
func (s *Storage) path(elems ...string) (string, error) {
	for _, e := range elems {
		if e == "" || e == "." || e == ".." || strings.ContainsAny(e, `/\`) || !filepath.IsLocal(e) {
			return "", &store.ValidationError{Message: fmt.Sprintf("invalid path element %q", e)}
		}
	}
	return filepath.Join(append([]string{s.dir}, elems...)...), nil
}

func readManifest(path string) (*snapshot.Descriptor, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var d snapshot.Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &d, nil
}

// writeAtomic writes data to a temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
