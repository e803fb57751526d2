package payload

import (
	"fmt"
	"iter"
	"slices"
)

// Set is an immutable, sorted snapshot of payloads.
//
// A Set is never modified after it has been finalized and can be shared
// freely between goroutines.
type Set struct {
	items []Payload
}

// EmptySet returns a set without any payloads.
func EmptySet() *Set {
	return &Set{}
}

// Len returns the number of payloads in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Contains reports whether p is part of the set.
func (s *Set) Contains(p Payload) bool {
	if s == nil {
		return false
	}
	_, found := slices.BinarySearchFunc(s.items, p, Payload.Compare)
	return found
}

// All iterates over the payloads in order.
func (s *Set) All() iter.Seq[Payload] {
	return func(yield func(Payload) bool) {
		if s == nil {
			return
		}
		for _, p := range s.items {
			if !yield(p) {
				return
			}
		}
	}
}

// Payloads returns a copy of the payloads in order.
func (s *Set) Payloads() []Payload {
	if s == nil {
		return nil
	}
	return slices.Clone(s.items)
}

// Equal reports whether both sets contain the same payloads.
func (s *Set) Equal(other *Set) bool {
	return slices.Equal(s.Payloads(), other.Payloads())
}

// SetBuilder collects payloads for a new set.
type SetBuilder struct {
	items map[Payload]struct{}
}

// NewSetBuilder returns an empty builder.
func NewSetBuilder() *SetBuilder {
	return &SetBuilder{items: make(map[Payload]struct{})}
}

// SetBuilderFrom returns a builder seeded with a copy of set.
func SetBuilderFrom(set *Set) *SetBuilder {
	b := &SetBuilder{items: make(map[Payload]struct{}, set.Len())}
	for p := range set.All() {
		b.items[p] = struct{}{}
	}
	return b
}

// Insert adds p. It fails if p is already present.
func (b *SetBuilder) Insert(p Payload) error {
	if _, ok := b.items[p]; ok {
		return fmt.Errorf("insert %s: %w", p, ErrDuplicate)
	}
	b.items[p] = struct{}{}
	return nil
}

// Remove drops p. It fails if p is not present.
func (b *SetBuilder) Remove(p Payload) error {
	if _, ok := b.items[p]; !ok {
		return fmt.Errorf("remove %s: %w", p, ErrAbsent)
	}
	delete(b.items, p)
	return nil
}

// Contains reports whether p is currently part of the builder.
func (b *SetBuilder) Contains(p Payload) bool {
	_, ok := b.items[p]
	return ok
}

func (b *SetBuilder) Len() int {
	return len(b.items)
}

// Finalize converts the builder into an immutable set. The builder must
// not be used afterwards.
func (b *SetBuilder) Finalize() *Set {
	items := make([]Payload, 0, len(b.items))
	for p := range b.items {
		items = append(items, p)
	}
	slices.SortFunc(items, Payload.Compare)
	b.items = nil
	return &Set{items: items}
}
