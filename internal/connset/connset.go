// Package connset holds the broker's live connections in generation-stamped slots.
//
// A Handle names a slot and the generation it was issued for. Removing an entry bumps the slot's
// generation, so handles held elsewhere (a session binding, an event still queued for the loop)
// become stale instead of silently pointing at whatever connection reuses the slot.
//
// A Set is not safe for concurrent use; it is owned by the broker loop.
package connset

import "fmt"

// Handle is a weak reference to a slot in a Set. The zero Handle is never valid.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("conn#%d.%d", h.index, h.gen)
}

type slot[T any] struct {
	gen   uint32
	used  bool
	value T
}

// Set is a slot table with free-list reuse.
type Set[T any] struct {
	slots []slot[T]
	free  []uint32
	count int
}

// New creates an empty set.
func New[T any]() *Set[T] {
	return &Set[T]{}
}

// Add stores v and returns its handle.
func (s *Set[T]) Add(v T) Handle {
	var i uint32
	if n := len(s.free); n > 0 {
		i = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		s.slots = append(s.slots, slot[T]{})
		i = uint32(len(s.slots) - 1)
	}

	sl := &s.slots[i]
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	sl.used = true
	sl.value = v
	s.count++
	return Handle{index: i, gen: sl.gen}
}

// Get returns the value for h if h is still current.
func (s *Set[T]) Get(h Handle) (T, bool) {
	var zero T
	if !s.valid(h) {
		return zero, false
	}
	return s.slots[h.index].value, true
}

// Remove releases h's slot and returns the value it held. Removing a stale handle is a no-op.
func (s *Set[T]) Remove(h Handle) (T, bool) {
	var zero T
	if !s.valid(h) {
		return zero, false
	}
	sl := &s.slots[h.index]
	v := sl.value
	sl.value = zero
	sl.used = false
	sl.gen++
	if sl.gen == 0 {
		sl.gen = 1
	}
	s.free = append(s.free, h.index)
	s.count--
	return v, true
}

// Len returns the number of live entries.
func (s *Set[T]) Len() int {
	return s.count
}

// Each calls fn for every live entry in slot order. fn may remove the entry it is visiting, or
// any other entry; removed entries are not visited afterwards and none is visited twice.
func (s *Set[T]) Each(fn func(Handle, T)) {
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.used {
			continue
		}
		fn(Handle{index: uint32(i), gen: sl.gen}, sl.value)
	}
}

func (s *Set[T]) valid(h Handle) bool {
	if h.gen == 0 || int(h.index) >= len(s.slots) {
		return false
	}
	sl := &s.slots[h.index]
	return sl.used && sl.gen == h.gen
}
