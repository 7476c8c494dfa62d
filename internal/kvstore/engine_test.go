package kvstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

// engines returns one instance of every engine, closed when the test ends
func engines(t *testing.T) map[string]Engine {
	t.Helper()

	badgerEngine, err := NewBadgerEngine(BadgerOptions{InMemory: true, Logger: testLogger()})
	require.NoError(t, err)

	pebbleEngine, err := NewPebbleEngine(PebbleOptions{DataDir: t.TempDir(), Logger: testLogger()})
	require.NoError(t, err)

	all := map[string]Engine{
		EngineBadger: badgerEngine,
		EnginePebble: pebbleEngine,
		EngineMemory: NewMemoryEngine(),
	}
	t.Cleanup(func() {
		for _, e := range all {
			_ = e.Close()
		}
	})
	return all
}

func TestEngines_GetPutDelete(t *testing.T) {
	ctx := context.Background()
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			_, err := e.GetRaw(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, e.PutRaw(ctx, "k", []byte("v1"), 0))
			val, err := e.GetRaw(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v1"), val)

			require.NoError(t, e.PutRaw(ctx, "k", []byte("v2"), 0))
			val, err = e.GetRaw(ctx, "k")
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), val)

			require.NoError(t, e.DeleteRaw(ctx, "k"))
			assert.ErrorIs(t, e.DeleteRaw(ctx, "k"), ErrNotFound)
			_, err = e.GetRaw(ctx, "k")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestEngines_RawScan(t *testing.T) {
	ctx := context.Background()
	for name, e := range engines(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				require.NoError(t, e.PutRaw(ctx, fmt.Sprintf("a:%d", i), []byte{byte(i)}, 0))
			}
			require.NoError(t, e.PutRaw(ctx, "b:0", []byte("x"), 0))

			collect := func(prefix, start string, limit int) []string {
				var keys []string
				err := e.RawScan(ctx, prefix, start, func(key string, _ []byte) bool {
					keys = append(keys, key)
					return limit <= 0 || len(keys) < limit
				})
				require.NoError(t, err)
				return keys
			}

			assert.Equal(t, []string{"a:0", "a:1", "a:2", "a:3", "a:4"}, collect("a:", "", 0))
			assert.Equal(t, []string{"a:2", "a:3", "a:4"}, collect("a:", "a:2", 0))
			assert.Equal(t, []string{"a:0", "a:1"}, collect("a:", "", 2))
			assert.Equal(t, []string{"a:0", "a:1", "a:2", "a:3", "a:4", "b:0"}, collect("", "", 0))
			assert.Empty(t, collect("c:", "", 0))
		})
	}
}

func TestOpenEngine(t *testing.T) {
	e, err := OpenEngine(EngineOptions{Engine: EngineMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryEngine{}, e)

	e, err = OpenEngine(EngineOptions{Engine: EnginePebble, DataDir: t.TempDir(), Logger: testLogger()})
	require.NoError(t, err)
	assert.IsType(t, &PebbleEngine{}, e)
	require.NoError(t, e.Close())

	_, err = OpenEngine(EngineOptions{Engine: "rocksdb"})
	assert.Error(t, err)
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("b"), prefixEnd([]byte("a")))
	assert.Equal(t, []byte("a;"), prefixEnd([]byte("a:")))
	assert.Equal(t, []byte{0x02}, prefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
}
