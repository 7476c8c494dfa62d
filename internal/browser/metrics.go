package browser

import "time"

// Metrics receives pagination and cache events. internal/metrics.Manager
// satisfies it.
type Metrics interface {
	RecordScan(success bool, duration time.Duration)
	RecordTypeLookup(outcome string, duration time.Duration)
	RecordCacheLookup(cache string, hit bool)
	RecordPageLoad(direction, source string, success bool, duration time.Duration)
	RecordGuardTimeout()
	RecordStaleResult()
}

// Type lookup outcomes
const (
	LookupResolved = "resolved"
	LookupFailed   = "failed"
	LookupTimeout  = "timeout"
)

// Page load sources
const (
	SourceCache   = "cache"
	SourceScan    = "scan"
	SourceRebuild = "rebuild"
)

type noopMetrics struct{}

func (noopMetrics) RecordScan(bool, time.Duration)                     {}
func (noopMetrics) RecordTypeLookup(string, time.Duration)             {}
func (noopMetrics) RecordCacheLookup(string, bool)                     {}
func (noopMetrics) RecordPageLoad(string, string, bool, time.Duration) {}
func (noopMetrics) RecordGuardTimeout()                                {}
func (noopMetrics) RecordStaleResult()                                 {}
