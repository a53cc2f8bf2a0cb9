package store

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Sentinel errors. Every typed error below matches exactly one of these
// through errors.Is, so protocol adapters can translate failures without
// knowing the concrete type.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("already exists")
	ErrLockTimeout = errors.New("lock timeout")
	ErrStorageIO   = errors.New("storage i/o failure")
	ErrInvalid     = errors.New("invalid input")
)

// Kinds of objects named in errors.
const (
	KindEntity    = "entity"
	KindSnapshot  = "snapshot"
	KindWorkspace = "workspace"
)

// NotFoundError is returned when an entity, snapshot or workspace does not
// exist.
type NotFoundError struct {
	Kind      string
	Workspace string
	Name      string
}

func (e *NotFoundError) Error() string {
	if e.Workspace != "" && e.Kind != KindWorkspace {
		return fmt.Sprintf("%s %q not found in workspace %q", e.Kind, e.Name, e.Workspace)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StatusCode returns the HTTP status code for this error.
func (e *NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// Hint returns a user-friendly suggestion for resolving this error.
func (e *NotFoundError) Hint() string {
	switch e.Kind {
	case KindSnapshot:
		return fmt.Sprintf("List snapshots in workspace %q to see which names exist.", e.Workspace)
	case KindWorkspace:
		return "Create the workspace first or check the workspace ID."
	default:
		return fmt.Sprintf("Check that %s %q exists in workspace %q.", e.Kind, e.Name, e.Workspace)
	}
}

// ConflictError is returned when a name is already taken, for example a
// snapshot saved twice under the same name.
type ConflictError struct {
	Kind      string
	Workspace string
	Name      string
}

func (e *ConflictError) Error() string {
	if e.Workspace != "" && e.Kind != KindWorkspace {
		return fmt.Sprintf("%s %q already exists in workspace %q", e.Kind, e.Name, e.Workspace)
	}
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// StatusCode returns the HTTP status code for this error.
func (e *ConflictError) StatusCode() int {
	return http.StatusConflict
}

// Hint returns a user-friendly suggestion for resolving this error.
func (e *ConflictError) Hint() string {
	if e.Kind == KindSnapshot {
		return fmt.Sprintf("Snapshots are immutable. Delete %q first or pick a different name.", e.Name)
	}
	return fmt.Sprintf("Choose a different name than %q.", e.Name)
}

// LockTimeoutError is returned when a caller gave up waiting for a per-key
// lock or for workspace-wide exclusivity. The operation had no effect.
type LockTimeoutError struct {
	// Scope is "key" or "workspace".
	Scope     string
	Workspace string
	Key       string
	Waited    time.Duration
}

// Lock scopes.
const (
	ScopeKey       = "key"
	ScopeWorkspace = "workspace"
)

func (e *LockTimeoutError) Error() string {
	if e.Scope == ScopeKey {
		return fmt.Sprintf("timed out after %s waiting for lock on %s in workspace %q", e.Waited, e.Key, e.Workspace)
	}
	return fmt.Sprintf("timed out after %s waiting for exclusive access to workspace %q", e.Waited, e.Workspace)
}

// Is reports whether target is ErrLockTimeout.
func (e *LockTimeoutError) Is(target error) bool { return target == ErrLockTimeout }

// StatusCode returns the HTTP status code for this error.
func (e *LockTimeoutError) StatusCode() int {
	return http.StatusLocked
}

// Hint returns a user-friendly suggestion for resolving this error.
func (e *LockTimeoutError) Hint() string {
	if e.Scope == ScopeWorkspace {
		return "A snapshot save or restore is holding the workspace. Retry shortly or raise the lock timeout."
	}
	return "Another writer is holding this entity. Retry the request or raise the lock timeout."
}

// StorageIOError wraps a failure of a persistent backend.
type StorageIOError struct {
	Op      string
	Backend Backend
	Err     error
}

func (e *StorageIOError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Is reports whether target is ErrStorageIO.
func (e *StorageIOError) Is(target error) bool { return target == ErrStorageIO }

// Unwrap returns the underlying error.
func (e *StorageIOError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status code for this error.
func (e *StorageIOError) StatusCode() int {
	return http.StatusServiceUnavailable
}

// Hint returns a user-friendly suggestion for resolving this error.
func (e *StorageIOError) Hint() string {
	return "The storage backend failed. Check its connectivity and free space; the previous state is unchanged."
}

// IOError wraps err as a StorageIOError unless it is nil or already one of
// the typed errors in this package.
func IOError(backend Backend, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStorageIO) ||
		errors.Is(err, ErrInvalid) || errors.Is(err, ErrLockTimeout) {
		return err
	}
	return &StorageIOError{Op: op, Backend: backend, Err: err}
}

// ValidationError is returned when input validation fails.
type ValidationError struct {
	Message string
	Field   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Message)
	}
	return e.Message
}

// Is reports whether target is ErrInvalid.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// StatusCode returns the HTTP status code for this error.
func (e *ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

// Hint returns a user-friendly suggestion for resolving this error.
func (e *ValidationError) Hint() string {
	if e.Field != "" {
		return fmt.Sprintf("Check the value of field %q in your request.", e.Field)
	}
	return "Check your request format and required fields."
}

// StatusCodeError is an interface for errors that have an HTTP status code.
type StatusCodeError interface {
	error
	StatusCode() int
}

// HintError is an interface for errors that provide resolution hints.
type HintError interface {
	error
	Hint() string
}

// ErrorResponse is the JSON shape of a failed operation.
type ErrorResponse struct {
	// Error is a stable machine-readable code.
	Error string `json:"error"`
	// Message is the human-readable description.
	Message string `json:"message"`
	// Kind is the kind of object involved (entity, snapshot, workspace).
	Kind string `json:"kind,omitempty"`
	// Workspace is the owning workspace, if known.
	Workspace string `json:"workspace,omitempty"`
	// Name is the entity key or snapshot name, if known.
	Name string `json:"name,omitempty"`
	// Field is the specific field that caused a validation error.
	Field string `json:"field,omitempty"`
	// Hint provides a user-friendly suggestion for resolving the error.
	Hint string `json:"hint,omitempty"`
	// StatusCode is the HTTP status code.
	StatusCode int `json:"-"`
}

// Error codes used in ErrorResponse.
const (
	CodeNotFound    = "not_found"
	CodeConflict    = "conflict"
	CodeLockTimeout = "lock_timeout"
	CodeStorageIO   = "storage_io"
	CodeInvalid     = "invalid_request"
	CodeInternal    = "internal_error"
)

// ToErrorResponse converts an error to an ErrorResponse.
func ToErrorResponse(err error) *ErrorResponse {
	resp := &ErrorResponse{Message: err.Error()}

	var (
		notFound *NotFoundError
		conflict *ConflictError
		timeout  *LockTimeoutError
		storage  *StorageIOError
		invalid  *ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		resp.Error = CodeNotFound
		resp.Kind, resp.Workspace, resp.Name = notFound.Kind, notFound.Workspace, notFound.Name
		resp.StatusCode, resp.Hint = notFound.StatusCode(), notFound.Hint()
	case errors.As(err, &conflict):
		resp.Error = CodeConflict
		resp.Kind, resp.Workspace, resp.Name = conflict.Kind, conflict.Workspace, conflict.Name
		resp.StatusCode, resp.Hint = conflict.StatusCode(), conflict.Hint()
	case errors.As(err, &timeout):
		resp.Error = CodeLockTimeout
		resp.Workspace, resp.Name = timeout.Workspace, timeout.Key
		resp.StatusCode, resp.Hint = timeout.StatusCode(), timeout.Hint()
	case errors.As(err, &storage):
		resp.Error = CodeStorageIO
		resp.StatusCode, resp.Hint = storage.StatusCode(), storage.Hint()
	case errors.As(err, &invalid):
		resp.Error = CodeInvalid
		resp.Field = invalid.Field
		resp.StatusCode, resp.Hint = invalid.StatusCode(), invalid.Hint()
	default:
		resp.Error = CodeInternal
		resp.StatusCode = http.StatusInternalServerError
	}

	return resp
}
