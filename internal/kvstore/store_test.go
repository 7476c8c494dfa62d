package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestStore(t *testing.T, e Engine) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Now()}
	return NewStore(e, Options{Logger: testLogger(), Now: clock.Now}), clock
}

func setString(t *testing.T, s *Store, key, value string, ttl time.Duration) {
	t.Helper()
	raw, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), key, TypeString, raw, ttl))
}

// scanAll drives a full iteration and returns every key seen plus the number of calls
func scanAll(t *testing.T, s *Store, pattern string, count int) ([]string, int) {
	t.Helper()
	var (
		keys   []string
		calls  int
		cursor = StartCursor
	)
	for {
		res, err := s.Scan(context.Background(), pattern, cursor, count)
		require.NoError(t, err)
		calls++
		keys = append(keys, res.Keys...)
		if res.Cursor == StartCursor {
			require.True(t, res.Complete)
			return keys, calls
		}
		require.False(t, res.Complete)
		cursor = res.Cursor
		require.Less(t, calls, 1000, "scan does not terminate")
	}
}

func TestStore_SetGetTypeDelete(t *testing.T) {
	ctx := context.Background()
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			s, _ := setupTestStore(t, e)

			require.NoError(t, s.Set(ctx, "h", TypeHash, json.RawMessage(`{"a":"1"}`), 0))
			typ, err := s.Type(ctx, "h")
			require.NoError(t, err)
			assert.Equal(t, TypeHash, typ)

			v, err := s.Get(ctx, "h")
			require.NoError(t, err)
			assert.Equal(t, "h", v.Key)
			assert.JSONEq(t, `{"a":"1"}`, string(v.Value))
			assert.Equal(t, int64(-1), v.TTL)

			require.NoError(t, s.Delete(ctx, "h"))
			_, err = s.Type(ctx, "h")
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "h"), ErrNotFound)
		})
	}
}

func TestStore_SetValidatesValues(t *testing.T) {
	s, _ := setupTestStore(t, NewMemoryEngine())
	ctx := context.Background()

	tests := []struct {
		name    string
		typ     string
		value   string
		wantErr error
		stored  string
	}{
		{"string", TypeString, `"hi"`, nil, `"hi"`},
		{"string from number", TypeString, `12`, ErrInvalidValue, ""},
		{"hash", TypeHash, `{"f":"v"}`, nil, `{"f":"v"}`},
		{"hash with number", TypeHash, `{"f":1}`, ErrInvalidValue, ""},
		{"list keeps order", TypeList, `["b","a","b"]`, nil, `["b","a","b"]`},
		{"set dedupes", TypeSet, `["b","a","b"]`, nil, `["a","b"]`},
		{"zset ordered by score", TypeZSet, `[{"member":"x","score":2},{"member":"y","score":1}]`, nil,
			`[{"member":"y","score":1},{"member":"x","score":2}]`},
		{"json compacted", TypeJSON, `{ "a" : [1, 2] }`, nil, `{"a":[1,2]}`},
		{"json invalid", TypeJSON, `{`, ErrInvalidValue, ""},
		{"empty", TypeString, ``, ErrInvalidValue, ""},
		{"null string", TypeString, `null`, ErrInvalidValue, ""},
		{"null hash", TypeHash, ` null `, ErrInvalidValue, ""},
		{"null list", TypeList, `null`, ErrInvalidValue, ""},
		{"null zset", TypeZSet, `null`, ErrInvalidValue, ""},
		{"null json", TypeJSON, `null`, nil, `null`},
		{"unknown type", "stream", `"x"`, ErrInvalidType, ""},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := fmt.Sprintf("k%d", i)
			err := s.Set(ctx, key, tt.typ, json.RawMessage(tt.value), 0)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			v, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, string(v.Value))
		})
	}

	assert.ErrorIs(t, s.Set(ctx, "", TypeString, json.RawMessage(`"x"`), 0), ErrInvalidKey)
}

func TestStore_Expiry(t *testing.T) {
	ctx := context.Background()
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			s, clock := setupTestStore(t, e)

			setString(t, s, "temp", "x", 10*time.Second)
			setString(t, s, "keep", "y", 0)

			v, err := s.Get(ctx, "temp")
			require.NoError(t, err)
			assert.Equal(t, int64(10), v.TTL)

			clock.Advance(4 * time.Second)
			v, err = s.Get(ctx, "temp")
			require.NoError(t, err)
			assert.Equal(t, int64(6), v.TTL)

			clock.Advance(6 * time.Second)
			_, err = s.Get(ctx, "temp")
			assert.ErrorIs(t, err, ErrNotFound)

			keys, _ := scanAll(t, s, "*", 10)
			assert.Equal(t, []string{"keep"}, keys)
		})
	}
}

func TestStore_Expire(t *testing.T) {
	ctx := context.Background()
	s, clock := setupTestStore(t, NewMemoryEngine())

	setString(t, s, "a", "1", 0)
	require.NoError(t, s.Expire(ctx, "a", 30))
	v, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(30), v.TTL)

	clock.Advance(31 * time.Second)
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	setString(t, s, "b", "2", 0)
	require.NoError(t, s.Expire(ctx, "b", 0))
	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound, "non-positive expiry deletes the key")

	assert.ErrorIs(t, s.Expire(ctx, "missing", 10), ErrNotFound)
}

func TestStore_ScanFullIteration(t *testing.T) {
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			s, _ := setupTestStore(t, e)
			var want []string
			for i := 0; i < 23; i++ {
				key := fmt.Sprintf("user:%02d", i)
				setString(t, s, key, "v", 0)
				want = append(want, key)
				setString(t, s, fmt.Sprintf("session:%02d", i), "v", 0)
			}

			keys, calls := scanAll(t, s, "user:*", 5)
			assert.Equal(t, want, keys, "every match exactly once, in key order")
			assert.Equal(t, 5, calls)

			keys, _ = scanAll(t, s, "*", 7)
			assert.Len(t, keys, 46)
		})
	}
}

func TestStore_ScanCountIsAdvisory(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t, NewMemoryEngine())
	for _, k := range []string{"a1", "a2", "b1", "b2", "a3"} {
		setString(t, s, k, "v", 0)
	}

	// the literal prefix is empty, so non-matching keys use up the count
	res, err := s.Scan(ctx, "*2", StartCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a2"}, res.Keys)
	assert.False(t, res.Complete)
	assert.NotEqual(t, StartCursor, res.Cursor)

	next, err := DecodeCursor(res.Cursor)
	require.NoError(t, err)
	assert.Equal(t, "a3", next)
}

func TestStore_ScanExactFitEndsWithZeroCursor(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t, NewMemoryEngine())
	for i := 0; i < 4; i++ {
		setString(t, s, fmt.Sprintf("k%d", i), "v", 0)
	}

	res, err := s.Scan(ctx, "*", StartCursor, 4)
	require.NoError(t, err)
	assert.Len(t, res.Keys, 4)
	assert.Equal(t, StartCursor, res.Cursor)
	assert.True(t, res.Complete)
}

func TestStore_ScanRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t, NewMemoryEngine())

	_, err := s.Scan(ctx, "*", "%%%", 10)
	assert.ErrorIs(t, err, ErrInvalidCursor)

	_, err = s.Scan(ctx, "a[b", StartCursor, 10)
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestStore_ScanClampsCount(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryEngine(), Options{MaxScanCount: 3, Logger: testLogger()})
	for i := 0; i < 10; i++ {
		setString(t, s, fmt.Sprintf("k%d", i), "v", 0)
	}

	res, err := s.Scan(ctx, "*", StartCursor, 100)
	require.NoError(t, err)
	assert.Len(t, res.Keys, 3)

	res, err = s.Scan(ctx, "*", StartCursor, 0)
	require.NoError(t, err)
	assert.Len(t, res.Keys, 3, "zero count falls back to the default, then the cap")
}

func TestStore_StatsAndSeed(t *testing.T) {
	ctx := context.Background()
	s, _ := setupTestStore(t, NewMemoryEngine())

	require.NoError(t, s.Seed(ctx, 12))
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, stats.Keys)
	for _, typ := range []string{TypeString, TypeHash, TypeList, TypeSet, TypeZSet, TypeJSON} {
		assert.Equal(t, 2, stats.ByType[typ], typ)
	}

	v, err := s.Get(ctx, "user:0006")
	require.NoError(t, err)
	assert.Equal(t, TypeHash, v.Type)
}

func TestCursorRoundTrip(t *testing.T) {
	c := EncodeCursor("user:42/x")
	key, err := DecodeCursor(c)
	require.NoError(t, err)
	assert.Equal(t, "user:42/x", key)

	_, err = DecodeCursor("")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestStore_PurgeExpired(t *testing.T) {
	s, clock := setupTestStore(t, NewMemoryEngine())
	ctx := context.Background()

	setString(t, s, "keep", "a", 0)
	setString(t, s, "short:1", "b", time.Second)
	setString(t, s, "short:2", "c", time.Second)
	setString(t, s, "long", "d", time.Hour)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.Advance(2 * time.Second)
	n, err = s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Keys)
	assert.Equal(t, 0, stats.Expired)
}

func TestStore_PurgeExpiredCancelled(t *testing.T) {
	s, clock := setupTestStore(t, NewMemoryEngine())
	setString(t, s, "short", "b", time.Second)
	clock.Advance(2 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.PurgeExpired(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
