package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/kvscope/kvscope/internal/api"
	"github.com/kvscope/kvscope/internal/browser"
	"github.com/kvscope/kvscope/internal/config"
	"github.com/kvscope/kvscope/internal/kvstore"
	"github.com/kvscope/kvscope/internal/metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

// setupStore starts a store API over an in-memory engine
func setupStore(t *testing.T) (*kvstore.Store, *Client) {
	t.Helper()
	store := kvstore.NewStore(kvstore.NewMemoryEngine(), kvstore.Options{Logger: testLogger()})

	router := mux.NewRouter()
	api.NewHandler(store, metrics.NewManager(config.MetricsConfig{}), testLogger()).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return store, New(srv.URL, Options{Timeout: 5 * time.Second, Logger: testLogger()})
}

func seedStrings(t *testing.T, store *kvstore.Store, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, store.Set(context.Background(), k, kvstore.TypeString, json.RawMessage(`"v"`), 0))
	}
}

func TestClient_ScanAndType(t *testing.T) {
	store, c := setupStore(t)
	ctx := context.Background()
	seedStrings(t, store, "a:1", "a:2", "a:3", "b:1")

	res, err := c.Scan(ctx, "a:*", browser.StartCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "a:2"}, res.Keys)
	assert.False(t, res.Complete)

	res, err = c.Scan(ctx, "a:*", res.Cursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:3"}, res.Keys)
	assert.True(t, res.Complete)
	assert.Equal(t, browser.StartCursor, res.Cursor)

	keyType, err := c.GetType(ctx, "b:1")
	require.NoError(t, err)
	assert.Equal(t, "string", keyType)

	_, err = c.GetType(ctx, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
	assert.Equal(t, "key not found", statusErr.Message)
}

func TestClient_EditCalls(t *testing.T) {
	_, c := setupStore(t)
	ctx := context.Background()

	require.NoError(t, c.SetValue(ctx, "cfg", "json", json.RawMessage(`{"debug": true}`), 0))
	kv, err := c.GetValue(ctx, "cfg")
	require.NoError(t, err)
	assert.Equal(t, "json", kv.Type)
	assert.JSONEq(t, `{"debug":true}`, string(kv.Value))
	assert.Equal(t, int64(-1), kv.TTL)

	require.NoError(t, c.ExpireKey(ctx, "cfg", 120))
	kv, err = c.GetValue(ctx, "cfg")
	require.NoError(t, err)
	assert.InDelta(t, 120, kv.TTL, 1)

	err = c.SetValue(ctx, "cfg", "zset", json.RawMessage(`"nope"`), 0)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)

	require.NoError(t, c.DeleteKey(ctx, "cfg"))
	assert.ErrorIs(t, c.DeleteKey(ctx, "cfg"), ErrKeyNotFound)
}

func TestClient_MalformedScanResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"keys":["a"]}`)
	}))
	defer srv.Close()

	c := New(srv.URL, Options{Logger: testLogger()})
	_, err := c.Scan(context.Background(), "*", "0", 10)
	assert.Error(t, err)
}

func TestClient_WaitReady(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"status":"healthy"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, Options{Logger: testLogger()})
	require.NoError(t, c.WaitReady(context.Background(), 5*time.Second))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_WaitReadyGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, Options{Logger: testLogger()})
	err := c.WaitReady(context.Background(), 300*time.Millisecond)
	require.Error(t, err)

	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestClient_WaitReadyCanceled(t *testing.T) {
	c := New("http://127.0.0.1:1", Options{Timeout: 100 * time.Millisecond, Logger: testLogger()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.WaitReady(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestNavigatorOverHTTP pages through a real store end to end
func TestNavigatorOverHTTP(t *testing.T) {
	store, c := setupStore(t)
	ctx := context.Background()
	var want []string
	for i := 0; i < 12; i++ {
		key := fmt.Sprintf("user:%02d", i)
		want = append(want, key)
	}
	seedStrings(t, store, want...)
	seedStrings(t, store, "other:1", "other:2")

	meta := browser.NewMetadataCache(c, browser.MetadataCacheOptions{Logger: testLogger()})
	nav := browser.NewNavigator(c, meta, browser.NavigatorOptions{Pattern: "user:*", PageSize: 5, Logger: testLogger()})

	_, err := nav.LoadForward(ctx, 1)
	require.NoError(t, err)
	var seen []string
	for {
		for _, e := range nav.CurrentPageKeys() {
			assert.Equal(t, "string", e.Type)
			seen = append(seen, e.Key)
		}
		if !nav.HasNextPage() {
			break
		}
		require.NoError(t, nav.GoToNext(ctx))
	}

	assert.Equal(t, want, seen)
	assert.True(t, nav.IsComplete())
	assert.Equal(t, 3, nav.CurrentPage())
}
