package stream

import (
	"sync"
	"sync/atomic"

	"discordrelay/internal/domain"
	"discordrelay/internal/metrics"
)

// State is the occupancy of a Slot.
type State int

const (
	Empty State = iota
	Occupied
)

func (s State) String() string {
	if s == Occupied {
		return "occupied"
	}
	return "empty"
}

// Slot holds at most one live downstream sink. All access goes through
// Install, Clear, Release and TrySend under a single mutex. The occupant id
// is also published atomically so Snapshot never waits behind a send.
type Slot struct {
	mu    sync.Mutex
	state State
	sink  domain.Sink

	occupant atomic.Pointer[string]
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{state: Empty}
}

// Install replaces the current occupant with sink and returns the displaced
// sink, if any. The displaced sink is neither flushed nor notified.
func (s *Slot) Install(sink domain.Sink) (displaced domain.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Occupied {
		displaced = s.sink
	}
	s.sink = sink
	s.state = Occupied
	id := sink.ID()
	s.occupant.Store(&id)
	metrics.LiveSink.Set(1)
	return displaced
}

// Clear empties the slot. It is a no-op on an empty slot and returns the
// sink that was removed.
func (s *Slot) Clear() domain.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearLocked()
}

// Release empties the slot only while sink is still the occupant, so a
// connection that ends after being superseded leaves its successor alone.
func (s *Slot) Release(sink domain.Sink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Occupied || s.sink != sink {
		return false
	}
	s.clearLocked()
	return true
}

func (s *Slot) clearLocked() domain.Sink {
	prev := s.sink
	s.sink = nil
	s.state = Empty
	s.occupant.Store(nil)
	metrics.LiveSink.Set(0)
	return prev
}

// TrySend writes payload through the occupant while holding the lock, so at
// most one send is in flight. It reports whether the slot was occupied. A write
// error is returned to the caller and leaves the slot untouched; the owning
// connection's read loop is responsible for releasing it.
func (s *Slot) TrySend(payload []byte) (occupied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Empty {
		return false, nil
	}
	if err := s.sink.WriteText(payload); err != nil {
		return true, err
	}
	return true, nil
}

// Snapshot returns the current state and occupant id without taking the
// slot lock.
func (s *Slot) Snapshot() (State, string) {
	id := s.occupant.Load()
	if id == nil {
		return Empty, ""
	}
	return Occupied, *id
}
