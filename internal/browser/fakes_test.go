package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// fakeScanner pages through a fixed, ordered keyspace. The cursor is the index
// of the next key.
type fakeScanner struct {
	mu    sync.Mutex
	keys  []string
	calls int
	err   error

	// extra makes every call return that many keys beyond count
	extra int

	// gate, when set, blocks each Scan until it is closed or receives
	gate    chan struct{}
	entered chan int
}

func newFakeScanner(n int) *fakeScanner {
	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("key:%03d", i)
	}
	return &fakeScanner{keys: keys}
}

func (s *fakeScanner) Scan(ctx context.Context, pattern, cursor string, count int) (ScanResult, error) {
	s.mu.Lock()
	s.calls++
	gate, entered, err := s.gate, s.entered, s.err
	s.mu.Unlock()

	if entered != nil {
		start, _ := strconv.Atoi(cursor)
		entered <- start
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ScanResult{}, ctx.Err()
		}
	}
	if err != nil {
		return ScanResult{}, err
	}

	start, convErr := strconv.Atoi(cursor)
	if convErr != nil {
		return ScanResult{}, fmt.Errorf("bad cursor %q", cursor)
	}

	var matching []string
	prefix := strings.TrimSuffix(pattern, "*")
	for _, k := range s.keys {
		if strings.HasPrefix(k, prefix) {
			matching = append(matching, k)
		}
	}
	if start >= len(matching) {
		return ScanResult{Keys: []string{}, Cursor: StartCursor, Complete: true}, nil
	}

	end := start + count + s.extra
	if end >= len(matching) {
		return ScanResult{Keys: append([]string(nil), matching[start:]...), Cursor: StartCursor, Complete: true}, nil
	}
	return ScanResult{Keys: append([]string(nil), matching[start:end]...), Cursor: strconv.Itoa(end)}, nil
}

func (s *fakeScanner) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// fakeResolver answers "string" for every key except those marked failing
type fakeResolver struct {
	mu       sync.Mutex
	calls    map[string]int
	failing  map[string]bool
	delay    time.Duration
	active   int32
	maxSeen  int32
	blockAll chan struct{}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls:   make(map[string]int),
		failing: make(map[string]bool),
	}
}

func (r *fakeResolver) GetType(ctx context.Context, key string) (string, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)
	for {
		seen := atomic.LoadInt32(&r.maxSeen)
		if n <= seen || atomic.CompareAndSwapInt32(&r.maxSeen, seen, n) {
			break
		}
	}

	r.mu.Lock()
	r.calls[key]++
	failing := r.failing[key]
	delay := r.delay
	block := r.blockAll
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if failing {
		return "", errors.New("lookup failed")
	}
	return "string", nil
}

func (r *fakeResolver) Calls(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}

func (r *fakeResolver) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, c := range r.calls {
		total += c
	}
	return total
}

func (r *fakeResolver) Fail(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		r.failing[k] = true
	}
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// countingMetrics records the events tests assert on
type countingMetrics struct {
	noopMetrics
	guardTimeouts int32
	staleResults  int32
}

func (m *countingMetrics) RecordGuardTimeout() { atomic.AddInt32(&m.guardTimeouts, 1) }
func (m *countingMetrics) RecordStaleResult()  { atomic.AddInt32(&m.staleResults, 1) }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func newTestNavigator(scanner Scanner, resolver TypeResolver, pageSize int) *Navigator {
	meta := NewMetadataCache(resolver, MetadataCacheOptions{
		BatchDelay: time.Millisecond,
		Logger:     testLogger(),
	})
	return NewNavigator(scanner, meta, NavigatorOptions{
		Pattern:  "*",
		PageSize: pageSize,
		Logger:   testLogger(),
	})
}
