package entity

import (
	"cmp"
	"fmt"
	"regexp"
	"time"

	"github.com/getmockd/vbackend/pkg/document"
	"github.com/getmockd/vbackend/pkg/store"
)

// maxIDLength bounds entity IDs.
const maxIDLength = 512

var typePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// Key is the unique identity of a record within a workspace.
type Key struct {
	Type string `json:"entityType"`
	ID   string `json:"entityId"`
}

// NewKey returns the key for entityType and id.
func NewKey(entityType, id string) Key {
	return Key{Type: entityType, ID: id}
}

func (k Key) String() string { return k.Type + "/" + k.ID }

// Compare orders keys by type, then ID.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.Type, o.Type); c != 0 {
		return c
	}
	return cmp.Compare(k.ID, o.ID)
}

// Validate checks that k can be stored.
func (k Key) Validate() error {
	if !typePattern.MatchString(k.Type) {
		return &store.ValidationError{Field: "entityType", Message: fmt.Sprintf("invalid entity type %q", k.Type)}
	}
	if k.ID == "" {
		return &store.ValidationError{Field: "entityId", Message: "entity ID is required"}
	}
	if len(k.ID) > maxIDLength {
		return &store.ValidationError{Field: "entityId", Message: fmt.Sprintf("entity ID longer than %d bytes", maxIDLength)}
	}
	return nil
}

// Record is one stored entity.
//
// Records handed out by Store are private copies. Records held by a Backend
// are never mutated after they are installed; every write installs a new
// record.
type Record struct {
	Type      string         `json:"entityType"`
	ID        string         `json:"entityId"`
	Data      document.Value `json:"data"`
	SeenIn    ProtocolSet    `json:"seenInProtocols"`
	Version   uint64         `json:"version"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Key returns the identity of r.
func (r *Record) Key() Key { return Key{Type: r.Type, ID: r.ID} }

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Data = r.Data.Clone()
	return &cp
}

// Equal reports whether r and o hold identical content.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Type == o.Type && r.ID == o.ID &&
		r.SeenIn == o.SeenIn && r.Version == o.Version &&
		r.CreatedAt.Equal(o.CreatedAt) && r.UpdatedAt.Equal(o.UpdatedAt) &&
		r.Data.Equal(o.Data)
}

// Validate checks that r can be installed.
func (r *Record) Validate() error {
	if err := r.Key().Validate(); err != nil {
		return err
	}
	return validateData(r.Data)
}

func validateData(data document.Value) error {
	if data.Kind() != document.KindMap {
		return &store.ValidationError{Field: "data", Message: fmt.Sprintf("entity data must be a map, got %s", data.Kind())}
	}
	return nil
}

// stamp normalizes t for storage: UTC with no monotonic reading, so
// persisted and in-memory timestamps compare equal.
func stamp(t time.Time) time.Time {
	return t.UTC().Round(0)
}
