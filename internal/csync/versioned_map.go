package csync

import (
	"sync"
	"sync/atomic"
)

// VersionedMap is a mutex-guarded map that bumps a monotonically increasing
// version each time the contents change. Readers can compare versions to
// decide whether a re-render is needed without scanning the entire map.
type VersionedMap[K comparable, V any] struct {
	mu      sync.RWMutex
	inner   map[K]V
	version atomic.Uint64
}

// NewVersionedMap constructs an empty VersionedMap instance.
func NewVersionedMap[K comparable, V any]() *VersionedMap[K, V] {
	return &VersionedMap[K, V]{
		inner: make(map[K]V),
	}
}

func (m *VersionedMap[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.inner[key]
	return v, ok
}

func (m *VersionedMap[K, V]) Set(key K, value V) {
	m.mu.Lock()
	m.inner[key] = value
	m.mu.Unlock()
	m.version.Add(1)
}

// Update applies fn to the current value for key inside the write lock and
// stores the result. The previous value (zero if absent) and its presence are
// handed to fn, so compound read-modify-write sequences cannot interleave with
// other writers.
func (m *VersionedMap[K, V]) Update(key K, fn func(V, bool) V) V {
	m.mu.Lock()
	prev, ok := m.inner[key]
	next := fn(prev, ok)
	m.inner[key] = next
	m.mu.Unlock()
	m.version.Add(1)
	return next
}

// Rename moves the value stored under oldKey to newKey in one critical
// section. It reports whether oldKey was present. If oldKey equals newKey or
// oldKey is absent, the map is unchanged.
func (m *VersionedMap[K, V]) Rename(oldKey, newKey K) bool {
	if oldKey == newKey {
		return false
	}
	m.mu.Lock()
	v, ok := m.inner[oldKey]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.inner, oldKey)
	m.inner[newKey] = v
	m.mu.Unlock()
	m.version.Add(1)
	return true
}

func (m *VersionedMap[K, V]) Del(key K) {
	m.mu.Lock()
	delete(m.inner, key)
	m.mu.Unlock()
	m.version.Add(1)
}

func (m *VersionedMap[K, V]) Snapshot() map[K]V {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[K]V, len(m.inner))
	for k, v := range m.inner {
		out[k] = v
	}
	return out
}

// Len reports the current number of entries stored in the map.
func (m *VersionedMap[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.inner)
}

func (m *VersionedMap[K, V]) Version() uint64 {
	return m.version.Load()
}
