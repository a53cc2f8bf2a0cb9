// Package snapshot saves and restores named, immutable copies of a
// workspace's entity state.
//
// A save captures the whole store inside the workspace's exclusive section,
// so it never contains half of a concurrent write. A load verifies the
// stored checksum and then swaps the entire store in one step; protocol
// operations either finish before the swap or start after it.
//
// Listing returns metadata only. Captured state is read back solely by Load,
// Open, Validate and Diff.
package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"time"

	"github.com/getmockd/vbackend/pkg/clock"
	"github.com/getmockd/vbackend/pkg/entity"
	"github.com/getmockd/vbackend/pkg/store"
)

// FormatVersion is the version of the stored state encoding.
const FormatVersion = 1

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)

// ErrChecksumMismatch is wrapped in a *store.StorageIOError when stored
// state does not match its descriptor.
var ErrChecksumMismatch = errors.New("snapshot checksum mismatch")

// ValidateName checks that name can be used as a snapshot name.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return &store.ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("invalid snapshot name %q: use 1-128 letters, digits, '.', '_' or '-', starting with a letter or digit", name),
		}
	}
	return nil
}

// ClockState is the workspace clock as it was at capture time.
type ClockState struct {
	State  clock.State   `json:"state"`
	Offset time.Duration `json:"offsetNs"`
	// Scale is omitted for clocks running at wall clock speed.
	Scale float64 `json:"scale,omitempty"`
}

// Descriptor is a snapshot's metadata.
type Descriptor struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Workspace     string         `json:"workspace"`
	Description   string         `json:"description,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	EntityCounts  map[string]int `json:"entityCounts"`
	TotalEntities int            `json:"totalEntities"`
	SizeBytes     int64          `json:"sizeBytes"`
	Checksum      string         `json:"checksum"`
	Format        int            `json:"format"`
	// Backend is the entity backend the state was captured from.
	Backend store.Backend `json:"backend,omitempty"`
	Clock   *ClockState   `json:"clock,omitempty"`
}

// Clone returns a deep copy of d.
func (d *Descriptor) Clone() *Descriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.EntityCounts = maps.Clone(d.EntityCounts)
	if d.Clock != nil {
		cs := *d.Clock
		c.Clock = &cs
	}
	return &c
}

// Snapshot is a descriptor together with its captured records.
type Snapshot struct {
	*Descriptor
	State []*entity.Record `json:"state"`
}

// encodeState returns the canonical encoding of records. Records are
// written in key order and documents with sorted keys, so equal states
// encode to equal bytes.
func encodeState(records []*entity.Record) ([]byte, error) {
	sorted := slices.Clone(records)
	slices.SortFunc(sorted, func(a, b *entity.Record) int { return a.Key().Compare(b.Key()) })
	if sorted == nil {
		sorted = []*entity.Record{}
	}
	return json.Marshal(sorted)
}

func decodeState(data []byte) ([]*entity.Record, error) {
	var records []*entity.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// verify checks data against the descriptor.
func (d *Descriptor) verify(data []byte) error {
	if got := checksum(data); got != d.Checksum {
		return fmt.Errorf("%w: %s/%s has %s, want %s", ErrChecksumMismatch, d.Workspace, d.Name, got, d.Checksum)
	}
	return nil
}

func sortDescriptors(ds []*Descriptor) {
	slices.SortStableFunc(ds, func(a, b *Descriptor) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}
