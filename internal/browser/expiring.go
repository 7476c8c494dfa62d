package browser

import (
	"sync"
	"time"
)

// expiringMap is a TTL map with lazy expiry on read. There is no background
// sweep: a session's caches are dropped with the session.
type expiringMap[V any] struct {
	mu      sync.RWMutex
	entries map[string]expiringEntry[V]
	ttl     time.Duration
	now     func() time.Time
	epoch   uint64
}

type expiringEntry[V any] struct {
	value    V
	storedAt time.Time
}

func newExpiringMap[V any](ttl time.Duration, now func() time.Time) *expiringMap[V] {
	if now == nil {
		now = time.Now
	}
	return &expiringMap[V]{
		entries: make(map[string]expiringEntry[V]),
		ttl:     ttl,
		now:     now,
	}
}

// get returns the value if it was stored less than ttl ago
func (m *expiringMap[V]) get(key string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[key]
	if !ok || m.now().Sub(entry.storedAt) >= m.ttl {
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (m *expiringMap[V]) set(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = expiringEntry[V]{value: value, storedAt: m.now()}
}

// setIfEpoch stores value only if no clear happened since epoch was read
func (m *expiringMap[V]) setIfEpoch(epoch uint64, key string, value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return false
	}
	m.entries[key] = expiringEntry[V]{value: value, storedAt: m.now()}
	return true
}

func (m *expiringMap[V]) currentEpoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

func (m *expiringMap[V]) delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
}

func (m *expiringMap[V]) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]expiringEntry[V])
	m.epoch++
}

func (m *expiringMap[V]) size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// stats mirrors the shape the console reports for each cache
func (m *expiringMap[V]) stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	expired := 0
	now := m.now()
	for _, entry := range m.entries {
		if now.Sub(entry.storedAt) >= m.ttl {
			expired++
		}
	}

	return map[string]interface{}{
		"total_entries":   len(m.entries),
		"expired_entries": expired,
		"valid_entries":   len(m.entries) - expired,
		"ttl_seconds":     m.ttl.Seconds(),
	}
}
