package browser

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Defaults for type resolution
const (
	DefaultMetadataTTL   = 5 * time.Minute
	DefaultLookupTimeout = 5 * time.Second
	DefaultBatchSize     = 10
	DefaultBatchDelay    = 50 * time.Millisecond
)

// MetadataCacheOptions configures a MetadataCache
type MetadataCacheOptions struct {
	TTL           time.Duration
	LookupTimeout time.Duration
	BatchSize     int
	BatchDelay    time.Duration
	Metrics       Metrics
	Logger        *logrus.Logger

	// Now overrides the clock, for tests
	Now func() time.Time
}

// MetadataCache caches the data type of keys. A failed or timed-out lookup is
// cached as TypeUnknown and is not retried until its TTL runs out.
type MetadataCache struct {
	resolver      TypeResolver
	entries       *expiringMap[string]
	lookupTimeout time.Duration
	batchSize     int
	batchDelay    time.Duration
	inflight      singleflight.Group
	metrics       Metrics
	log           *logrus.Entry
}

// NewMetadataCache creates a cache that resolves types through resolver
func NewMetadataCache(resolver TypeResolver, opts MetadataCacheOptions) *MetadataCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultMetadataTTL
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = 0
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &MetadataCache{
		resolver:      resolver,
		entries:       newExpiringMap[string](opts.TTL, opts.Now),
		lookupTimeout: opts.LookupTimeout,
		batchSize:     opts.BatchSize,
		batchDelay:    opts.BatchDelay,
		metrics:       opts.Metrics,
		log:           opts.Logger.WithField("component", "metadata_cache"),
	}
}

// Peek returns a cached type without ever calling the store
func (c *MetadataCache) Peek(key string) (string, bool) {
	return c.entries.get(key)
}

// Resolve returns the type of key, from the cache when the entry is still valid
func (c *MetadataCache) Resolve(ctx context.Context, key string) string {
	if t, ok := c.entries.get(key); ok {
		c.metrics.RecordCacheLookup("metadata", true)
		return t
	}
	c.metrics.RecordCacheLookup("metadata", false)

	epoch := c.entries.currentEpoch()
	v, _, _ := c.inflight.Do(key, func() (interface{}, error) {
		return c.lookup(ctx, epoch, key), nil
	})
	return v.(string)
}

// lookup performs one bounded type lookup and records the outcome
func (c *MetadataCache) lookup(ctx context.Context, epoch uint64, key string) string {
	lookupCtx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	start := time.Now()
	keyType, err := c.resolver.GetType(lookupCtx, key)
	elapsed := time.Since(start)

	if err == nil && keyType != "" {
		c.metrics.RecordTypeLookup(LookupResolved, elapsed)
		c.entries.setIfEpoch(epoch, key, keyType)
		return keyType
	}

	// The caller went away; a negative entry would outlive a lookup nobody waited for.
	if ctx.Err() != nil {
		c.metrics.RecordTypeLookup(LookupFailed, elapsed)
		return TypeUnknown
	}

	outcome := LookupFailed
	if errors.Is(err, context.DeadlineExceeded) || lookupCtx.Err() != nil {
		outcome = LookupTimeout
	}
	c.metrics.RecordTypeLookup(outcome, elapsed)
	c.log.WithFields(logrus.Fields{
		"key":     key,
		"outcome": outcome,
	}).WithError(err).Debug("Type lookup failed, caching as unknown")

	c.entries.setIfEpoch(epoch, key, TypeUnknown)
	return TypeUnknown
}

// ResolveBatch fills the cache for keys. Lookups run concurrently in groups of
// BatchSize, with BatchDelay between groups; keys that are already cached are
// skipped. It returns once every group has been attempted, or with the
// context's error if ctx ends first.
func (c *MetadataCache) ResolveBatch(ctx context.Context, keys []string) error {
	pending := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := c.entries.get(key); ok {
			c.metrics.RecordCacheLookup("metadata", true)
			continue
		}
		pending = append(pending, key)
	}

	for start := 0; start < len(pending); start += c.batchSize {
		if start > 0 && c.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.batchDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + c.batchSize
		if end > len(pending) {
			end = len(pending)
		}

		// A plain Group: a failed lookup is cached as unknown and never
		// cancels its siblings. Only the caller's context ending is an error.
		var g errgroup.Group
		for _, key := range pending[start:end] {
			g.Go(func() error {
				c.Resolve(ctx, key)
				return ctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	return ctx.Err()
}

// Clear drops every entry. Lookups that started before the clear do not
// repopulate the cache.
func (c *MetadataCache) Clear() {
	c.entries.clear()
}

// Invalidate drops the cached type of key, after an edit may have changed it
func (c *MetadataCache) Invalidate(key string) {
	c.entries.delete(key)
}

// Len returns the number of stored entries, including expired ones
func (c *MetadataCache) Len() int {
	return c.entries.size()
}

// Stats returns entry counts for the console
func (c *MetadataCache) Stats() map[string]interface{} {
	return c.entries.stats()
}
