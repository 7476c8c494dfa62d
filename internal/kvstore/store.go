package kvstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Value types
const (
	TypeString = "string"
	TypeHash   = "hash"
	TypeList   = "list"
	TypeSet    = "set"
	TypeZSet   = "zset"
	TypeJSON   = "json"
)

const (
	// StartCursor begins a scan and is returned once it is finished
	StartCursor = "0"

	DefaultScanCount = 10
	DefaultMaxCount  = 1000
)

// record is the stored form of a key
type record struct {
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value"`
	ExpiresAt int64           `json:"expires_at,omitempty"` // unix millis, 0 = persistent
}

func (r *record) expired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.UnixMilli() >= r.ExpiresAt
}

// ttlSeconds returns the remaining lifetime, or -1 for persistent keys
func (r *record) ttlSeconds(now time.Time) int64 {
	if r.ExpiresAt == 0 {
		return -1
	}
	left := time.Duration(r.ExpiresAt-now.UnixMilli()) * time.Millisecond
	return int64((left + time.Second - 1) / time.Second)
}

// Value is a key as returned to callers
type Value struct {
	Key   string          `json:"key"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
	// TTL is the remaining lifetime in seconds, -1 when the key never expires
	TTL int64 `json:"ttl"`
}

// ScanResult is one step of a cursor iteration
type ScanResult struct {
	Keys     []string `json:"keys"`
	Cursor   string   `json:"cursor"`
	Complete bool     `json:"complete"`
}

// Stats summarizes the keyspace
type Stats struct {
	Keys    int            `json:"keys"`
	Expired int            `json:"expired"`
	ByType  map[string]int `json:"by_type"`
}

// Options configures a Store
type Options struct {
	// MaxScanCount caps the count a single Scan examines
	MaxScanCount int
	Logger       *logrus.Logger
	Now          func() time.Time
}

// Store is a typed key-value store with cursor iteration
type Store struct {
	engine   Engine
	maxCount int
	logger   *logrus.Entry
	now      func() time.Time
}

// NewStore wraps an engine
func NewStore(engine Engine, opts Options) *Store {
	if opts.MaxScanCount <= 0 {
		opts.MaxScanCount = DefaultMaxCount
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		engine:   engine,
		maxCount: opts.MaxScanCount,
		logger:   opts.Logger.WithField("component", "kvstore"),
		now:      opts.Now,
	}
}

// Close closes the underlying engine
func (s *Store) Close() error {
	return s.engine.Close()
}

// load reads a live record. Expired records are deleted and reported missing.
func (s *Store) load(ctx context.Context, key string) (*record, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	raw, err := s.engine.GetRaw(ctx, key)
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}
	if rec.expired(s.now()) {
		s.dropExpired(ctx, key)
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *Store) dropExpired(ctx context.Context, key string) {
	if err := s.engine.DeleteRaw(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to delete expired key")
	}
}

func (s *Store) save(ctx context.Context, key string, rec *record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	var ttl time.Duration
	if rec.ExpiresAt > 0 {
		ttl = time.UnixMilli(rec.ExpiresAt).Sub(s.now())
		if ttl <= 0 {
			ttl = time.Millisecond
		}
	}
	return s.engine.PutRaw(ctx, key, raw, ttl)
}

// Type returns the type of key
func (s *Store) Type(ctx context.Context, key string) (string, error) {
	rec, err := s.load(ctx, key)
	if err != nil {
		return "", err
	}
	return rec.Type, nil
}

// Get returns the value of key with its remaining ttl
func (s *Store) Get(ctx context.Context, key string) (*Value, error) {
	rec, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}
	return &Value{
		Key:   key,
		Type:  rec.Type,
		Value: rec.Value,
		TTL:   rec.ttlSeconds(s.now()),
	}, nil
}

// Set stores value under key. ttl <= 0 makes the key persistent.
func (s *Store) Set(ctx context.Context, key, valueType string, value json.RawMessage, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	normalized, err := validateValue(valueType, value)
	if err != nil {
		return err
	}
	rec := &record{Type: valueType, Value: normalized}
	if ttl > 0 {
		rec.ExpiresAt = s.now().Add(ttl).UnixMilli()
	}
	return s.save(ctx, key, rec)
}

// Delete removes key
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.load(ctx, key); err != nil {
		return err
	}
	return s.engine.DeleteRaw(ctx, key)
}

// Expire sets key to expire in seconds. seconds <= 0 deletes it.
func (s *Store) Expire(ctx context.Context, key string, seconds int64) error {
	rec, err := s.load(ctx, key)
	if err != nil {
		return err
	}
	if seconds <= 0 {
		return s.engine.DeleteRaw(ctx, key)
	}
	rec.ExpiresAt = s.now().Add(time.Duration(seconds) * time.Second).UnixMilli()
	return s.save(ctx, key, rec)
}

// Scan examines up to count live keys from cursor and returns those matching
// pattern. Fewer than count keys may come back while more remain; only a
// returned StartCursor means the iteration is over.
func (s *Store) Scan(ctx context.Context, pattern, cursor string, count int) (*ScanResult, error) {
	glob, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		count = DefaultScanCount
	}
	if count > s.maxCount {
		count = s.maxCount
	}

	start := ""
	if cursor != "" && cursor != StartCursor {
		start, err = DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
	}

	var (
		now       = s.now()
		examined  int
		next      string
		keys      = []string{}
		expired   []string
		decodeErr error
	)
	err = s.engine.RawScan(ctx, glob.Prefix(), start, func(key string, val []byte) bool {
		var rec record
		if err := json.Unmarshal(val, &rec); err != nil {
			decodeErr = fmt.Errorf("decode %q: %w", key, err)
			return false
		}
		if rec.expired(now) {
			expired = append(expired, key)
			return true
		}
		if examined == count {
			next = key
			return false
		}
		examined++
		if glob.Match(key) {
			keys = append(keys, key)
		}
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return nil, err
	}

	for _, key := range expired {
		s.dropExpired(ctx, key)
	}

	if next == "" {
		return &ScanResult{Keys: keys, Cursor: StartCursor, Complete: true}, nil
	}
	return &ScanResult{Keys: keys, Cursor: EncodeCursor(next)}, nil
}

// Stats walks the whole keyspace
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	now := s.now()
	stats := &Stats{ByType: make(map[string]int)}
	err := s.engine.RawScan(ctx, "", "", func(key string, val []byte) bool {
		var rec record
		if err := json.Unmarshal(val, &rec); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Skipping undecodable record")
			return true
		}
		if rec.expired(now) {
			stats.Expired++
			return true
		}
		stats.Keys++
		stats.ByType[rec.Type]++
		return true
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// PurgeExpired deletes every expired record and reports how many it removed
func (s *Store) PurgeExpired(ctx context.Context) (int, error) {
	now := s.now()
	var expired []string
	err := s.engine.RawScan(ctx, "", "", func(key string, val []byte) bool {
		var rec record
		if err := json.Unmarshal(val, &rec); err != nil {
			return true
		}
		if rec.expired(now) {
			expired = append(expired, key)
		}
		return ctx.Err() == nil
	})
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	purged := 0
	for _, key := range expired {
		if err := s.engine.DeleteRaw(ctx, key); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return purged, fmt.Errorf("failed to delete expired key %q: %w", key, err)
		}
		purged++
	}
	return purged, nil
}

// EncodeCursor turns the next key to visit into an opaque cursor
func EncodeCursor(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor reverses EncodeCursor
func DecodeCursor(cursor string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(b) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCursor, cursor)
	}
	return string(b), nil
}
