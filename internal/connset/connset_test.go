package connset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_AddGetRemove(t *testing.T) {
	s := New[string]()

	a := s.Add("a")
	b := s.Add("b")
	assert.False(t, a.IsZero())
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, s.Len())

	v, ok := s.Get(a)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = s.Remove(a)
	require.True(t, ok)
	assert.Equal(t, "a", v)
	assert.Equal(t, 1, s.Len())

	_, ok = s.Get(a)
	assert.False(t, ok, "removed handle must be stale")

	_, ok = s.Remove(a)
	assert.False(t, ok, "double remove is a no-op")
	assert.Equal(t, 1, s.Len())
}

func TestSet_SlotReuseInvalidatesOldHandle(t *testing.T) {
	s := New[int]()

	old := s.Add(1)
	s.Remove(old)
	reused := s.Add(2)

	assert.NotEqual(t, old, reused)
	_, ok := s.Get(old)
	assert.False(t, ok)

	v, ok := s.Get(reused)
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestSet_ZeroHandle(t *testing.T) {
	s := New[int]()
	s.Add(1)

	var h Handle
	assert.True(t, h.IsZero())
	_, ok := s.Get(h)
	assert.False(t, ok)
}

func TestSet_EachWithRemoval(t *testing.T) {
	s := New[int]()
	handles := make([]Handle, 5)
	for i := range handles {
		handles[i] = s.Add(i)
	}

	var visited []int
	s.Each(func(h Handle, v int) {
		visited = append(visited, v)
		switch v {
		case 1:
			// remove self mid-iteration
			s.Remove(h)
		case 2:
			// remove an entry not yet visited
			s.Remove(handles[3])
		}
	})

	assert.Equal(t, []int{0, 1, 2, 4}, visited)
	assert.Equal(t, 3, s.Len())
}
