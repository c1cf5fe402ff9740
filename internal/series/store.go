// Package series keeps a bounded rolling history of observations per instrument.
package series

import (
	"sync"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// DefaultCapacity is the number of observations kept per instrument.
const DefaultCapacity = 50

// Store owns one Ring per instrument key. Series are created on first observation and
// live for the lifetime of the store. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	capacity int
	series   map[models.InstrumentKey]*Ring
}

// NewStore creates a store whose series hold at most capacity values.
// A non-positive capacity selects DefaultCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		series:   make(map[models.InstrumentKey]*Ring),
	}
}

// Capacity returns the per-key capacity.
func (s *Store) Capacity() int { return s.capacity }

// Record appends *value to the series for key. A nil value is a no-op.
func (s *Store) Record(key models.InstrumentKey, value *float64) {
	if value == nil {
		return
	}
	s.Append(key, *value)
}

// Append appends value to the series for key.
func (s *Store) Append(key models.InstrumentKey, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(key).Push(value)
}

// History returns the ordered observations for key, oldest first.
// Unknown keys yield an empty slice.
func (s *Store) History(key models.InstrumentKey) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.series[key]
	if !ok {
		return []float64{}
	}
	return r.Values()
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series)
}

// Restore replaces the series for key with values, keeping the newest Capacity of them.
func (s *Store) Restore(key models.InstrumentKey, values []float64) {
	r := NewRing(s.capacity)
	for _, v := range values {
		r.Push(v)
	}
	s.mu.Lock()
	s.series[key] = r
	s.mu.Unlock()
}

// Snapshot copies every series, keyed by instrument.
func (s *Store) Snapshot() map[models.InstrumentKey][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.InstrumentKey][]float64, len(s.series))
	for k, r := range s.series {
		out[k] = r.Values()
	}
	return out
}

func (s *Store) getOrCreate(key models.InstrumentKey) *Ring {
	if r, ok := s.series[key]; ok {
		return r
	}
	r := NewRing(s.capacity)
	s.series[key] = r
	return r
}
