package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyWindow_Stats(t *testing.T) {
	w := NewLatencyWindow(100, time.Hour)
	for i := 1; i <= 10; i++ {
		w.Record(OpScan, time.Duration(i)*time.Millisecond, i != 10)
	}

	stats := w.Stats(OpScan)
	assert.Equal(t, int64(10), stats.Count)
	assert.Equal(t, float64(1), stats.Min)
	assert.Equal(t, float64(10), stats.Max)
	assert.InDelta(t, 5.5, stats.Mean, 0.001)
	assert.InDelta(t, 5.5, stats.P50, 0.001)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.InDelta(t, 90.0, stats.SuccessRate, 0.001)

	assert.Equal(t, int64(0), w.Stats(OpPageLoad).Count)
}

func TestLatencyWindow_Bounds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewLatencyWindow(3, time.Minute)
	w.now = func() time.Time { return now }

	for i := 1; i <= 5; i++ {
		w.Record(OpScan, time.Duration(i)*time.Millisecond, true)
	}
	stats := w.Stats(OpScan)
	assert.Equal(t, int64(3), stats.Count, "only the newest samples are kept")
	assert.Equal(t, float64(3), stats.Min)

	now = now.Add(2 * time.Minute)
	w.Record(OpScan, 50*time.Millisecond, true)
	stats = w.Stats(OpScan)
	assert.Equal(t, int64(1), stats.Count, "samples older than the retention are dropped")

	w.Reset()
	assert.Empty(t, w.AllStats())
}

func TestCalculatePercentile(t *testing.T) {
	data := []float64{10, 20, 30, 40}
	assert.Equal(t, float64(10), calculatePercentile(data, 0))
	assert.Equal(t, float64(40), calculatePercentile(data, 100))
	assert.InDelta(t, 25.0, calculatePercentile(data, 50), 0.001)
	assert.Equal(t, float64(0), calculatePercentile(nil, 50))
}
