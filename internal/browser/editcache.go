package browser

import (
	"encoding/json"
	"time"
)

// DefaultEditTTL is how long an opened key's value is reused
const DefaultEditTTL = time.Minute

// KeyValue is the full state of a key as opened for editing
type KeyValue struct {
	Key   string          `json:"key"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
	// TTL is the remaining lifetime in seconds, -1 when the key does not expire
	TTL int64 `json:"ttl"`
}

// EditCache keeps recently opened values so reopening a key within the TTL
// does not fetch it again
type EditCache struct {
	entries *expiringMap[KeyValue]
	metrics Metrics
}

// NewEditCache creates an edit cache; ttl <= 0 uses DefaultEditTTL
func NewEditCache(ttl time.Duration, metrics Metrics, now func() time.Time) *EditCache {
	if ttl <= 0 {
		ttl = DefaultEditTTL
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &EditCache{
		entries: newExpiringMap[KeyValue](ttl, now),
		metrics: metrics,
	}
}

// Get returns the cached value for key if it is still fresh
func (c *EditCache) Get(key string) (KeyValue, bool) {
	kv, ok := c.entries.get(key)
	c.metrics.RecordCacheLookup("edit", ok)
	return kv, ok
}

// Put stores a value fetched or written by the edit flow
func (c *EditCache) Put(kv KeyValue) {
	c.entries.set(kv.Key, kv)
}

// Invalidate drops a single key, after it is deleted or expired
func (c *EditCache) Invalidate(key string) {
	c.entries.delete(key)
}

func (c *EditCache) Clear() {
	c.entries.clear()
}

func (c *EditCache) Len() int {
	return c.entries.size()
}

func (c *EditCache) Stats() map[string]interface{} {
	return c.entries.stats()
}
