package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryEngine is a map-backed Engine for tests and throwaway stores
type MemoryEngine struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryEngine creates an empty in-memory engine
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[string][]byte)}
}

func (e *MemoryEngine) GetRaw(ctx context.Context, key string) ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	val, ok := e.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), val...), nil
}

func (e *MemoryEngine) PutRaw(ctx context.Context, key string, value []byte, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.data[key] = append([]byte(nil), value...)
	return nil
}

func (e *MemoryEngine) DeleteRaw(ctx context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.data[key]; !ok {
		return ErrNotFound
	}
	delete(e.data, key)
	return nil
}

// RawScan snapshots the matching keys, then calls fn without holding the lock
func (e *MemoryEngine) RawScan(ctx context.Context, prefix, startKey string, fn func(key string, val []byte) bool) error {
	if startKey < prefix {
		startKey = prefix
	}

	e.mu.RLock()
	keys := make([]string, 0, len(e.data))
	for k := range e.data {
		if strings.HasPrefix(k, prefix) && k >= startKey {
			keys = append(keys, k)
		}
	}
	e.mu.RUnlock()
	sort.Strings(keys)

	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		val, err := e.GetRaw(ctx, k)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		if !fn(k, val) {
			break
		}
	}
	return nil
}

func (e *MemoryEngine) RawGC() error { return nil }

func (e *MemoryEngine) Close() error { return nil }

var _ Engine = (*MemoryEngine)(nil)
