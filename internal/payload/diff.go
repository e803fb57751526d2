package payload

import (
	"fmt"
	"slices"
)

// DiffEntry is a single change in a diff.
type DiffEntry struct {
	Action  Action
	Payload Payload
}

// Diff is an immutable, ordered list of changes between two sets.
type Diff struct {
	entries []DiffEntry
}

func (d *Diff) Len() int {
	if d == nil {
		return 0
	}
	return len(d.entries)
}

// Entries returns a copy of the changes in the order they were recorded.
func (d *Diff) Entries() []DiffEntry {
	if d == nil {
		return nil
	}
	return slices.Clone(d.entries)
}

// Apply returns the set that results from applying the diff to set.
func (d *Diff) Apply(set *Set) (*Set, error) {
	b := SetBuilderFrom(set)
	for i, e := range d.Entries() {
		var err error
		switch e.Action {
		case Announce:
			err = b.Insert(e.Payload)
		case Withdraw:
			err = b.Remove(e.Payload)
		default:
			err = fmt.Errorf("unknown %s", e.Action)
		}
		if err != nil {
			return nil, fmt.Errorf("diff entry %d: %w", i, err)
		}
	}
	return b.Finalize(), nil
}

// DiffBuilder records changes in order.
type DiffBuilder struct {
	entries []DiffEntry
}

func NewDiffBuilder() *DiffBuilder {
	return &DiffBuilder{}
}

// Push appends a change.
func (b *DiffBuilder) Push(action Action, p Payload) {
	b.entries = append(b.entries, DiffEntry{Action: action, Payload: p})
}

// IsEmpty reports whether no changes have been recorded.
func (b *DiffBuilder) IsEmpty() bool {
	return len(b.entries) == 0
}

func (b *DiffBuilder) Len() int {
	return len(b.entries)
}

// Finalize converts the builder into an immutable diff.
func (b *DiffBuilder) Finalize() *Diff {
	d := &Diff{entries: b.entries}
	b.entries = nil
	return d
}
