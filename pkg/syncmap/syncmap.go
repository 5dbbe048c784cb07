// Package syncmap wraps sync.Map with type parameters and an O(1) counter.
package syncmap

import (
	"sync"
	"sync/atomic"
)

type Map[K comparable, V any] struct {
	inner sync.Map
	count atomic.Int64
}

// Store sets the value for key.
func (m *Map[K, V]) Store(key K, value V) {
	_, loaded := m.inner.Load(key)
	m.inner.Store(key, value)

	if !loaded {
		m.count.Add(1)
	}
}

// Load returns the value stored for key.
func (m *Map[K, V]) Load(key K) (V, bool) {
	value, ok := m.inner.Load(key)
	if !ok {
		var zero V

		return zero, false
	}

	return value.(V), true
}

// Delete removes the value stored for key.
func (m *Map[K, V]) Delete(key K) {
	_, loaded := m.inner.LoadAndDelete(key)
	if loaded {
		m.count.Add(-1)
	}
}

// LoadAndDelete removes and returns the value stored for key.
func (m *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	value, ok := m.inner.LoadAndDelete(key)
	if !ok {
		var zero V

		return zero, false
	}

	m.count.Add(-1)

	return value.(V), true
}

// LoadOrStore returns the existing value for key if present, otherwise it
// stores and returns the given value.
func (m *Map[K, V]) LoadOrStore(key K, value V) (V, bool) {
	actual, loaded := m.inner.LoadOrStore(key, value)
	if !loaded {
		m.count.Add(1)
	}

	return actual.(V), loaded
}

// Range calls fn for each entry. Iteration stops when fn returns false.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	m.inner.Range(func(key, value any) bool {
		return fn(key.(K), value.(V))
	})
}

// Count returns the number of entries in the map.
func (m *Map[K, V]) Count() int {
	return int(m.count.Load())
}
