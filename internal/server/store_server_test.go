package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kvscope/kvscope/internal/kvstore"
	"github.com/kvscope/kvscope/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStoreServerSeeds(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Seed = 12

	s, err := NewStoreServer(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.store.Close() })

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats kvstore.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 12, stats.Keys)
}

func TestNewStoreServerBadEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Engine = "cassandra"

	_, err := NewStoreServer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestStoreServerRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.RateLimit = 0.001
	cfg.Store.RateBurst = 2

	store := kvstore.NewStore(kvstore.NewMemoryEngine(), kvstore.Options{Logger: testLogger()})
	s := NewStoreServerWithStore(cfg, store, metrics.NewManager(cfg.Metrics), testLogger())

	send := func(path string) int {
		req := httptest.NewRequest("GET", path, nil)
		req.RemoteAddr = "203.0.113.9:4000"
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("/v1/scan?cursor=0"))
	assert.Equal(t, http.StatusOK, send("/v1/scan?cursor=0"))
	assert.Equal(t, http.StatusTooManyRequests, send("/v1/scan?cursor=0"))
	assert.Equal(t, http.StatusOK, send("/health"))
	assert.Equal(t, http.StatusOK, send("/metrics"))
}

func TestStoreServerMetrics(t *testing.T) {
	cfg := testConfig(t)
	store := kvstore.NewStore(kvstore.NewMemoryEngine(), kvstore.Options{Logger: testLogger()})
	s := NewStoreServerWithStore(cfg, store, metrics.NewManager(cfg.Metrics), testLogger())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/v1/scan?cursor=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kvscope_http_requests_total`)
}

func TestStoreServerSweepsExpiredKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.SweepInterval = 10 * time.Millisecond

	ctx := context.Background()
	store := kvstore.NewStore(kvstore.NewMemoryEngine(), kvstore.Options{Logger: testLogger()})
	require.NoError(t, store.Set(ctx, "session:old", kvstore.TypeString, json.RawMessage(`"x"`), time.Millisecond))
	require.NoError(t, store.Set(ctx, "session:live", kvstore.TypeString, json.RawMessage(`"y"`), 0))
	time.Sleep(5 * time.Millisecond)

	s := NewStoreServerWithStore(cfg, store, metrics.NewManager(cfg.Metrics), testLogger())
	require.NotNil(t, s.expiryWorker)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Start(runCtx) }()

	require.Eventually(t, func() bool {
		stats, err := store.Stats(ctx)
		return err == nil && stats.Expired == 0 && stats.Keys == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("store server did not shut down")
	}
}
