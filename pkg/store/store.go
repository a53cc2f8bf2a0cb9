// Package store defines the persistence vocabulary shared by the entity
// store and the snapshot storage backends.
//
// It owns the error taxonomy every backend reports through (NotFound,
// Conflict, LockTimeout, StorageIO and validation failures), the set of
// backend kinds that configuration can select, and the default on-disk
// locations.
//
// Directory structure follows the XDG Base Directory Specification:
//   - Config: ~/.config/vbackend/ (config file, seed fixtures)
//   - Data:   ~/.local/share/vbackend/ (sqlite database, snapshots)
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const appName = "vbackend"

// Backend represents a storage backend type.
type Backend string

const (
	// BackendMemory keeps everything in process memory (no persistence).
	BackendMemory Backend = "memory"
	// BackendFile stores JSON files under a directory.
	BackendFile Backend = "file"
	// BackendSQLite uses an embedded SQLite database.
	BackendSQLite Backend = "sqlite"
	// BackendPostgres uses a PostgreSQL database.
	BackendPostgres Backend = "postgres"
	// BackendS3 stores objects in an S3-compatible bucket.
	BackendS3 Backend = "s3"
)

// Backends lists every supported backend in display order.
var Backends = []Backend{BackendMemory, BackendFile, BackendSQLite, BackendPostgres, BackendS3}

// ParseBackend parses a backend name. The empty string selects memory.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return BackendMemory, nil
	case BackendMemory, BackendFile, BackendSQLite, BackendPostgres, BackendS3:
		return b, nil
	default:
		return "", &ValidationError{Field: "backend", Message: fmt.Sprintf("unknown backend %q", s)}
	}
}

// Persistent reports whether data written to b survives a restart.
func (b Backend) Persistent() bool {
	return b != BackendMemory && b != ""
}

// DefaultDataDir returns the default data directory following XDG spec.
func DefaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+appName, "data")
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("LOCALAPPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(home, "AppData", "Local", appName)
	}
	return filepath.Join(home, ".local", "share", appName)
}

// DefaultConfigDir returns the default config directory following XDG spec.
func DefaultConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "."+appName, "config")
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(home, "Library", "Preferences", appName)
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appName)
		}
		return filepath.Join(home, "AppData", "Roaming", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// DefaultSnapshotDir returns the directory used by the file snapshot backend.
func DefaultSnapshotDir() string {
	return filepath.Join(DefaultDataDir(), "snapshots")
}

// DefaultDatabasePath returns the SQLite database path used when none is
// configured.
func DefaultDatabasePath() string {
	return filepath.Join(DefaultDataDir(), appName+".db")
}
