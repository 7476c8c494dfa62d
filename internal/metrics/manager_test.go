package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/kvscope/kvscope/internal/browser"
	"github.com/kvscope/kvscope/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ browser.Metrics = Manager(nil)

func scrape(t *testing.T, m Manager) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestNewManager(t *testing.T) {
	manager := NewManager(config.MetricsConfig{Enable: true, Path: "/metrics"})
	require.NotNil(t, manager)

	// Manager is not started yet, so it's not healthy
	assert.False(t, manager.IsHealthy())
	require.NoError(t, manager.Start(context.Background()))
	assert.True(t, manager.IsHealthy())
	assert.Error(t, manager.Start(context.Background()))
	require.NoError(t, manager.Stop())
	assert.False(t, manager.IsHealthy())
}

func TestNewManager_Disabled(t *testing.T) {
	manager := NewManager(config.MetricsConfig{Enable: false})
	require.NotNil(t, manager)

	_, ok := manager.(*noopManager)
	assert.True(t, ok, "disabled manager should be noopManager")

	assert.True(t, manager.IsHealthy())
	_, err := manager.GetMetricsSnapshot()
	assert.Error(t, err)

	rec := httptest.NewRecorder()
	manager.GetMetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBrowserMetricsExposed(t *testing.T) {
	manager := NewManager(config.MetricsConfig{Enable: true})

	manager.RecordScan(true, 10*time.Millisecond)
	manager.RecordScan(false, 5*time.Millisecond)
	manager.RecordTypeLookup(browser.LookupTimeout, time.Second)
	manager.RecordCacheLookup("metadata", true)
	manager.RecordCacheLookup("metadata", false)
	manager.RecordPageLoad("forward", browser.SourceScan, true, 20*time.Millisecond)
	manager.RecordGuardTimeout()
	manager.RecordStaleResult()
	manager.UpdateCacheSize("pages", 4)
	manager.RecordStoreOperation("scan", true, time.Millisecond)

	body := scrape(t, manager)
	assert.Contains(t, body, `kvscope_browser_scans_total{status="success"} 1`)
	assert.Contains(t, body, `kvscope_browser_scans_total{status="error"} 1`)
	assert.Contains(t, body, `kvscope_browser_type_lookups_total{outcome="timeout"} 1`)
	assert.Contains(t, body, `kvscope_browser_cache_lookups_total{cache="metadata",result="hit"} 1`)
	assert.Contains(t, body, `kvscope_browser_page_loads_total{direction="forward",source="scan",status="success"} 1`)
	assert.Contains(t, body, `kvscope_browser_load_guard_timeouts_total 1`)
	assert.Contains(t, body, `kvscope_browser_stale_results_total 1`)
	assert.Contains(t, body, `kvscope_browser_cache_entries{cache="pages"} 4`)
	assert.Contains(t, body, `kvscope_store_operations_total{operation="scan",status="success"} 1`)
}

func TestGetMetricsSnapshot(t *testing.T) {
	manager := NewManager(config.MetricsConfig{Enable: true})
	manager.RecordScan(true, 10*time.Millisecond)
	manager.RecordScan(true, 30*time.Millisecond)
	manager.RecordGuardTimeout()

	snapshot, err := manager.GetMetricsSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "kvscope", snapshot["namespace"])

	values, ok := snapshot["values"].(map[string]float64)
	require.True(t, ok)
	assert.Equal(t, float64(2), values["kvscope_browser_scans_total"])
	assert.Equal(t, float64(1), values["kvscope_browser_load_guard_timeouts_total"])

	latency, ok := snapshot["latency"].(map[string]LatencyStats)
	require.True(t, ok)
	assert.Equal(t, int64(2), latency[OpScan].Count)
}

func TestMiddleware_UsesRouteTemplate(t *testing.T) {
	manager := NewManager(config.MetricsConfig{Enable: true})

	router := mux.NewRouter()
	router.Use(manager.Middleware())
	router.HandleFunc("/api/v1/browse/page/{page}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}).Methods("POST")

	for _, page := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/browse/page/"+page, nil))
		assert.Equal(t, http.StatusConflict, rec.Code)
	}

	body := scrape(t, manager)
	assert.Contains(t, body, `kvscope_http_requests_total{method="POST",path="/api/v1/browse/page/{page}",status="409"} 3`)
}
