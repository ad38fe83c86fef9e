// Package pipeline hands the latest value from a producing goroutine to a
// consuming one without either side waiting on the other.
package pipeline

import (
	"sync"
	"sync/atomic"
)

// Stats are lifetime counters of a Slot.
type Stats struct {
	Published uint64
	Taken     uint64
	Dropped   uint64
}

// Slot is a single-value mailbox with overwrite-on-publish semantics. At most
// one value is pending at any time; an unconsumed value is discarded when a
// newer one is published.
type Slot[T any] struct {
	mu      sync.Mutex
	value   T
	pending bool

	published atomic.Uint64
	taken     atomic.Uint64
	dropped   atomic.Uint64
}

func NewSlot[T any]() *Slot[T] {
	return &Slot[T]{}
}

// Publish stores v, replacing any pending value. It never blocks on the
// consumer.
func (s *Slot[T]) Publish(v T) {
	s.mu.Lock()
	if s.pending {
		s.dropped.Add(1)
	}
	s.value = v
	s.pending = true
	s.mu.Unlock()

	s.published.Add(1)
}

// TryTake removes and returns the pending value, if any.
func (s *Slot[T]) TryTake() (T, bool) {
	var zero T

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending {
		return zero, false
	}

	v := s.value
	s.value = zero
	s.pending = false
	s.taken.Add(1)

	return v, true
}

func (s *Slot[T]) Stats() Stats {
	return Stats{
		Published: s.published.Load(),
		Taken:     s.taken.Load(),
		Dropped:   s.dropped.Load(),
	}
}
