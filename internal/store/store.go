// Package store keeps the latest payload set published by every unit.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
)

var (
	ErrOutOfOrder   = errors.New("update out of order")
	ErrInconsistent = errors.New("update diff does not match its set")
)

// Snapshot is the state of one unit after its latest update.
type Snapshot struct {
	Unit    string
	Serial  payload.Serial
	Set     *payload.Set
	Updated time.Time
}

// Store holds one snapshot per unit. Readers never block the writer for
// longer than a map lookup.
type Store struct {
	mu     sync.RWMutex
	units  map[string]Snapshot
	logger *zap.Logger
}

func New(logger *zap.Logger) *Store {
	return &Store{
		units:  make(map[string]Snapshot),
		logger: logger,
	}
}

// Apply records update as the new state of unit.
//
// Serials of a unit must be consecutive. A non-reset update must come with
// a diff that turns the previous set into the new one.
func (s *Store) Apply(unit string, update payload.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.units[unit]
	if ok && update.Serial != prev.Serial.Add(1) {
		return fmt.Errorf("%w: unit %s at serial %d, got %d", ErrOutOfOrder, unit, prev.Serial, update.Serial)
	}
	if !update.IsReset() {
		if !ok {
			return fmt.Errorf("%w: unit %s has no set to apply serial %d to", ErrOutOfOrder, unit, update.Serial)
		}
		applied, err := update.Diff.Apply(prev.Set)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInconsistent, err)
		}
		if !applied.Equal(update.Set) {
			return fmt.Errorf("%w: unit %s serial %d", ErrInconsistent, unit, update.Serial)
		}
	}

	s.units[unit] = Snapshot{
		Unit:    unit,
		Serial:  update.Serial,
		Set:     update.Set,
		Updated: time.Now(),
	}
	return nil
}

// Consume applies update and logs a rejected one.
func (s *Store) Consume(unit string, update payload.Update) {
	if err := s.Apply(unit, update); err != nil {
		s.logger.Error("rejected update",
			zap.String("unit", unit),
			zap.Uint32("serial", uint32(update.Serial)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("stored update",
		zap.String("unit", unit),
		zap.Uint32("serial", uint32(update.Serial)),
		zap.Int("payloads", update.Set.Len()),
	)
}

// Snapshot returns the latest state of unit.
func (s *Store) Snapshot(unit string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.units[unit]
	return snap, ok
}

// Units returns the names of all units with data, sorted.
func (s *Store) Units() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.units))
	for name := range s.units {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
