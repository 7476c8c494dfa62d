// Package browser turns a forward-only, cursor-based key scan into numbered
// pages that can be walked in both directions, and resolves the data type of
// every key on a page through a bounded-concurrency TTL cache.
package browser

import (
	"context"
	"time"
)

const (
	// StartCursor both starts a scan and, when returned, ends it.
	StartCursor = "0"

	// TypeUnknown is the negative-cache value for keys whose type lookup failed.
	TypeUnknown = "unknown"
)

// ScanResult is one call's worth of keys from the backing store
type ScanResult struct {
	Keys     []string `json:"keys"`
	Cursor   string   `json:"cursor"`
	Complete bool     `json:"complete"`
}

// Scanner enumerates keys matching a pattern. count is advisory: the store may
// return more or fewer keys than requested.
type Scanner interface {
	Scan(ctx context.Context, pattern, cursor string, count int) (ScanResult, error)
}

// TypeResolver looks up the data type of a single key
type TypeResolver interface {
	GetType(ctx context.Context, key string) (string, error)
}

// KeyEntry is a key together with its resolved type
type KeyEntry struct {
	Key  string `json:"key"`
	Type string `json:"type"`
}

// Page is one stored page of a scan session. Pages are never modified after
// they are stored; a session reset discards them.
type Page struct {
	Number       int        `json:"page"`
	InputCursor  string     `json:"input_cursor"`
	OutputCursor string     `json:"output_cursor"`
	Entries      []KeyEntry `json:"keys"`
	FetchedAt    time.Time  `json:"fetched_at"`

	// Verdict from boundary inference at fetch time
	Complete    bool `json:"complete"`
	HasNextPage bool `json:"has_next_page"`

	// RawCountExceededPageSize is set when the store returned more keys than
	// asked for and the page was truncated.
	RawCountExceededPageSize bool `json:"raw_count_exceeded_page_size"`
}

// Keys returns the page's keys in scan order
func (p *Page) Keys() []string {
	keys := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		keys[i] = e.Key
	}
	return keys
}

// State is a point-in-time view of a session for the UI layer
type State struct {
	SessionID   string     `json:"session_id"`
	Pattern     string     `json:"pattern"`
	PageSize    int        `json:"page_size"`
	CurrentPage int        `json:"current_page"`
	HasNextPage bool       `json:"has_next_page"`
	IsComplete  bool       `json:"is_complete"`
	Loading     bool       `json:"loading"`
	CachedPages int        `json:"cached_pages"`
	Keys        []KeyEntry `json:"keys"`
}
