// Package handle implements a generation-checked handle table.
//
// A Handle names a slot and the generation the slot had when the value was
// inserted. Removing a value bumps the slot's generation, so a stale handle
// never resolves to whatever is stored in the slot later.
package handle

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStale is returned when a handle's slot was freed or reused.
var ErrStale = errors.New("stale handle")

// Handle identifies a value in a Table. The zero Handle is never valid.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool { return h.gen == 0 }

// ID packs the handle into an integer for logs and APIs.
func (h Handle) ID() uint64 { return uint64(h.gen)<<32 | uint64(h.index) }

// FromID reverses ID.
func FromID(id uint64) Handle {
	return Handle{index: uint32(id), gen: uint32(id >> 32)}
}

func (h Handle) String() string { return fmt.Sprintf("%d.%d", h.index, h.gen) }

type slot[T any] struct {
	value T
	gen   uint32
	live  bool
}

// Table stores values of type T behind handles. It is safe for concurrent use.
type Table[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
	live  int
}

// New returns an empty table.
func New[T any]() *Table[T] {
	return &Table[T]{}
}

// Insert stores v and returns its handle.
func (t *Table[T]) Insert(v T) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	var idx uint32
	if n := len(t.free); n > 0 {
		idx = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		idx = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}
	s := &t.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.value = v
	s.live = true
	t.live++
	return Handle{index: idx, gen: s.gen}
}

// Get resolves h.
func (t *Table[T]) Get(h Handle) (T, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var zero T
	if !t.validLocked(h) {
		return zero, fmt.Errorf("%w: %s", ErrStale, h)
	}
	return t.slots[h.index].value, nil
}

// Remove frees h's slot and returns the value it held.
func (t *Table[T]) Remove(h Handle) (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var zero T
	if !t.validLocked(h) {
		return zero, fmt.Errorf("%w: %s", ErrStale, h)
	}
	s := &t.slots[h.index]
	v := s.value
	s.value = zero
	s.live = false
	s.gen++
	t.free = append(t.free, h.index)
	t.live--
	return v, nil
}

// Len returns the number of live handles.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.live
}

// Each calls fn for every live value. fn must not modify the table.
func (t *Table[T]) Each(fn func(Handle, T)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, s := range t.slots {
		if s.live {
			fn(Handle{index: uint32(i), gen: s.gen}, s.value)
		}
	}
}

func (t *Table[T]) validLocked(h Handle) bool {
	if h.gen == 0 || int(h.index) >= len(t.slots) {
		return false
	}
	s := t.slots[h.index]
	return s.live && s.gen == h.gen
}
