package lru

import (
	"container/list"
	"fmt"
	"sync"
)

// Options configures how a Cache extracts keys and materializes values
// from raw payload data.
type Options[K comparable, V any] struct {
	// Key extracts the cache key from raw payload data.
	Key func(data []byte) (K, error)

	// New allocates an empty value. V is expected to be a pointer type so
	// loads mutate the value in place and existing holders observe updates.
	New func() V

	// Load merges raw payload data into an existing value.
	Load func(value V, data []byte) error
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Cache is a fixed-capacity keyed store with least-recently-used eviction.
//
// Evicted and deleted values are moved into a tombstone map instead of being
// discarded, so an entity that cycles back into the cache is resurrected with
// its original identity rather than reallocated. A key is never present in
// both the active map and the tombstone map at the same time.
type Cache[K comparable, V any] struct {
	mu sync.Mutex

	limit int
	opts  Options[K, V]

	// order front is the least recently used entry.
	order      *list.List
	entries    map[K]*list.Element
	tombstones map[K]V
}

// New creates a Cache holding at most limit entries. A non-positive limit
// disables eviction.
func New[K comparable, V any](limit int, opts Options[K, V]) *Cache[K, V] {
	return &Cache[K, V]{
		limit:      limit,
		opts:       opts,
		order:      list.New(),
		entries:    make(map[K]*list.Element),
		tombstones: make(map[K]V),
	}
}

// Get returns the cached value for key. A hit promotes the key to most
// recently used; a miss has no side effect.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[key]
	if !ok {
		var zero V

		return zero, false
	}

	c.order.MoveToBack(element)

	return element.Value.(*entry[K, V]).value, true
}

// Insert loads raw payload data into the cache, keyed by the configured key
// function. An active key is loaded in place and promoted, a tombstoned key
// is resurrected, and anything else is constructed fresh, evicting the least
// recently used entry first if the cache is full.
func (c *Cache[K, V]) Insert(data []byte) (V, error) {
	var zero V

	key, err := c.opts.Key(data)
	if err != nil {
		return zero, fmt.Errorf("failed to extract cache key: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.entries[key]; ok {
		ent := element.Value.(*entry[K, V])

		if err := c.opts.Load(ent.value, data); err != nil {
			return zero, fmt.Errorf("failed to load value: %w", err)
		}

		c.order.MoveToBack(element)

		return ent.value, nil
	}

	value, resurrected := c.tombstones[key]
	if !resurrected {
		value = c.opts.New()
	}

	if err := c.opts.Load(value, data); err != nil {
		return zero, fmt.Errorf("failed to load value: %w", err)
	}

	if resurrected {
		delete(c.tombstones, key)
	}

	c.evictLocked()

	c.entries[key] = c.order.PushBack(&entry[K, V]{key: key, value: value})

	return value, nil
}

// Delete removes key from the active map into the tombstone map and returns
// the removed value.
func (c *Cache[K, V]) Delete(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.entries[key]
	if !ok {
		var zero V

		return zero, false
	}

	c.order.Remove(element)
	delete(c.entries, key)

	value := element.Value.(*entry[K, V]).value
	c.tombstones[key] = value

	return value, true
}

// Range calls fn for each active entry. Iteration stops when fn returns false.
func (c *Cache[K, V]) Range(fn func(key K, value V) bool) {
	c.mu.Lock()

	pairs := make([]entry[K, V], 0, len(c.entries))
	for element := c.order.Front(); element != nil; element = element.Next() {
		ent := element.Value.(*entry[K, V])
		pairs = append(pairs, entry[K, V]{key: ent.key, value: ent.value})
	}

	c.mu.Unlock()

	for _, pair := range pairs {
		if !fn(pair.key, pair.value) {
			return
		}
	}
}

// Len returns the number of active entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// TombstoneLen returns the number of tombstoned values awaiting reuse.
func (c *Cache[K, V]) TombstoneLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.tombstones)
}

// PruneTombstones discards all tombstoned values, returning how many were
// dropped. Resurrection after a prune allocates fresh values.
func (c *Cache[K, V]) PruneTombstones() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := len(c.tombstones)
	c.tombstones = make(map[K]V)

	return pruned
}

func (c *Cache[K, V]) evictLocked() {
	if c.limit <= 0 {
		return
	}

	for len(c.entries) >= c.limit {
		front := c.order.Front()
		if front == nil {
			return
		}

		ent := front.Value.(*entry[K, V])

		c.order.Remove(front)
		delete(c.entries, ent.key)

		c.tombstones[ent.key] = ent.value
	}
}
