package metrics

import (
	"sort"
	"sync"
	"time"
)

// Operations tracked by the latency window
const (
	OpScan       = "scan"
	OpTypeLookup = "type_lookup"
	OpPageLoad   = "page_load"
	OpStore      = "store"
)

type latencySample struct {
	duration  time.Duration
	timestamp time.Time
	success   bool
}

// LatencyStats contains percentile statistics for an operation
type LatencyStats struct {
	Operation    string    `json:"operation"`
	Count        int64     `json:"count"`
	P50          float64   `json:"p50_ms"`
	P95          float64   `json:"p95_ms"`
	P99          float64   `json:"p99_ms"`
	Mean         float64   `json:"mean_ms"`
	Min          float64   `json:"min_ms"`
	Max          float64   `json:"max_ms"`
	SuccessRate  float64   `json:"success_rate"`
	ErrorCount   int64     `json:"error_count"`
	LastRecorded time.Time `json:"last_recorded"`
}

// LatencyWindow keeps the most recent samples per operation, bounded by
// count and age, for the percentiles Prometheus histograms cannot answer
// directly.
type LatencyWindow struct {
	mu         sync.RWMutex
	samples    map[string][]latencySample
	maxSamples int
	retention  time.Duration
	now        func() time.Time
}

// NewLatencyWindow creates a window holding up to maxSamples per operation
// for at most retention
func NewLatencyWindow(maxSamples int, retention time.Duration) *LatencyWindow {
	return &LatencyWindow{
		samples:    make(map[string][]latencySample),
		maxSamples: maxSamples,
		retention:  retention,
		now:        time.Now,
	}
}

// Record adds a measurement for op
func (w *LatencyWindow) Record(op string, duration time.Duration, success bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	samples := append(w.samples[op], latencySample{duration: duration, timestamp: now, success: success})

	if len(samples) > w.maxSamples {
		samples = samples[len(samples)-w.maxSamples:]
	}

	cutoff := now.Add(-w.retention)
	for i, s := range samples {
		if s.timestamp.After(cutoff) {
			samples = samples[i:]
			break
		}
	}
	w.samples[op] = samples
}

// Stats calculates latency statistics for op
func (w *LatencyWindow) Stats(op string) LatencyStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.statsLocked(op)
}

// AllStats returns statistics for every operation seen so far
func (w *LatencyWindow) AllStats() map[string]LatencyStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make(map[string]LatencyStats, len(w.samples))
	for op := range w.samples {
		out[op] = w.statsLocked(op)
	}
	return out
}

func (w *LatencyWindow) statsLocked(op string) LatencyStats {
	samples := w.samples[op]
	if len(samples) == 0 {
		return LatencyStats{Operation: op}
	}

	durations := make([]float64, 0, len(samples))
	var (
		successCount int64
		errorCount   int64
		sum          float64
		lastRecorded = samples[0].timestamp
	)
	for _, s := range samples {
		ms := float64(s.duration) / float64(time.Millisecond)
		durations = append(durations, ms)
		sum += ms
		if s.success {
			successCount++
		} else {
			errorCount++
		}
		if s.timestamp.After(lastRecorded) {
			lastRecorded = s.timestamp
		}
	}
	sort.Float64s(durations)

	return LatencyStats{
		Operation:    op,
		Count:        int64(len(durations)),
		P50:          calculatePercentile(durations, 50),
		P95:          calculatePercentile(durations, 95),
		P99:          calculatePercentile(durations, 99),
		Mean:         sum / float64(len(durations)),
		Min:          durations[0],
		Max:          durations[len(durations)-1],
		SuccessRate:  float64(successCount) / float64(len(samples)) * 100,
		ErrorCount:   errorCount,
		LastRecorded: lastRecorded,
	}
}

// Reset clears all samples
func (w *LatencyWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = make(map[string][]latencySample)
}

// calculatePercentile interpolates the percentile value from sorted data
func calculatePercentile(sortedData []float64, percentile int) float64 {
	if len(sortedData) == 0 {
		return 0
	}
	if percentile <= 0 {
		return sortedData[0]
	}
	if percentile >= 100 {
		return sortedData[len(sortedData)-1]
	}

	rank := float64(percentile) / 100.0 * float64(len(sortedData)-1)
	lowerIndex := int(rank)
	upperIndex := lowerIndex + 1
	if upperIndex >= len(sortedData) {
		return sortedData[lowerIndex]
	}

	fraction := rank - float64(lowerIndex)
	return sortedData[lowerIndex] + fraction*(sortedData[upperIndex]-sortedData[lowerIndex])
}
