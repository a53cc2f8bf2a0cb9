package snapshot

import (
	"context"
	"slices"

	"github.com/getmockd/vbackend/pkg/entity"
)

// Live names the live state of a workspace in a Diff.
const Live = "live"

// ChangeKind says how one record differs between two states.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// Change is one record that differs between two states. Left and Right
// are the record on each side; the missing side is nil.
type Change struct {
	Kind  ChangeKind     `json:"kind"`
	Key   entity.Key     `json:"key"`
	Left  *entity.Record `json:"left,omitempty"`
	Right *entity.Record `json:"right,omitempty"`
	// Fields lists the top-level document fields that differ when both
	// sides are objects.
	Fields []string `json:"fields,omitempty"`
}

// Diff compares two states of a workspace, left before right.
type Diff struct {
	Workspace string   `json:"workspace"`
	Left      string   `json:"left"`
	Right     string   `json:"right"`
	Added     int      `json:"added"`
	Removed   int      `json:"removed"`
	Changed   int      `json:"changed"`
	Unchanged int      `json:"unchanged"`
	Changes   []Change `json:"changes"`
}

// Diff compares snapshot left with snapshot right of workspace. An empty
// right name, or Live, compares against the live state. Both snapshots are
// verified like Load verifies them.
func (m *Manager) Diff(ctx context.Context, workspace, left, right string) (*Diff, error) {
	if right == "" {
		right = Live
	}
	from, err := m.Open(ctx, workspace, left)
	if err != nil {
		return nil, err
	}
	var to []*entity.Record
	if right == Live {
		tr, err := m.resolver.Tracker(workspace)
		if err != nil {
			return nil, err
		}
		seq, err := tr.Browse(ctx, "")
		if err != nil {
			return nil, err
		}
		to = slices.Collect(seq)
	} else {
		snap, err := m.Open(ctx, workspace, right)
		if err != nil {
			return nil, err
		}
		to = snap.State
	}
	d := Compare(from.State, to)
	d.Workspace, d.Left, d.Right = workspace, left, right
	return d, nil
}

// Compare lists the records added, removed and changed going from left to
// right, in key order. Records are equal when their documents are;
// versions, timestamps and provenance are not compared.
func Compare(left, right []*entity.Record) *Diff {
	l := byKey(left)
	r := byKey(right)
	d := &Diff{Changes: []Change{}}
	i, j := 0, 0
	for i < len(l) || j < len(r) {
		var c int
		switch {
		case i == len(l):
			c = 1
		case j == len(r):
			c = -1
		default:
			c = l[i].Key().Compare(r[j].Key())
		}
		switch {
		case c < 0:
			d.Changes = append(d.Changes, Change{Kind: ChangeRemoved, Key: l[i].Key(), Left: l[i]})
			d.Removed++
			i++
		case c > 0:
			d.Changes = append(d.Changes, Change{Kind: ChangeAdded, Key: r[j].Key(), Right: r[j]})
			d.Added++
			j++
		default:
			if l[i].Data.Equal(r[j].Data) {
				d.Unchanged++
			} else {
				d.Changes = append(d.Changes, Change{
					Kind:   ChangeChanged,
					Key:    l[i].Key(),
					Left:   l[i],
					Right:  r[j],
					Fields: changedFields(l[i], r[j]),
				})
				d.Changed++
			}
			i++
			j++
		}
	}
	return d
}

func byKey(recs []*entity.Record) []*entity.Record {
	out := slices.Clone(recs)
	slices.SortFunc(out, func(a, b *entity.Record) int { return a.Key().Compare(b.Key()) })
	return out
}

func changedFields(a, b *entity.Record) []string {
	am, aok := a.Data.AsMap()
	bm, bok := b.Data.AsMap()
	if !aok || !bok {
		return nil
	}
	var fields []string
	for _, k := range a.Data.Keys() {
		bv, ok := bm[k]
		if !ok || !am[k].Equal(bv) {
			fields = append(fields, k)
		}
	}
	for _, k := range b.Data.Keys() {
		if _, ok := am[k]; !ok {
			fields = append(fields, k)
		}
	}
	slices.Sort(fields)
	return fields
}
