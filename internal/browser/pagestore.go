package browser

import (
	"sort"
	"sync"
)

// PageStore holds the pages fetched during one session, keyed by page number.
// It only grows until Clear.
type PageStore struct {
	mu    sync.RWMutex
	pages map[int]*Page
}

// NewPageStore creates an empty page store
func NewPageStore() *PageStore {
	return &PageStore{pages: make(map[int]*Page)}
}

// Get returns page n if it was stored
func (s *PageStore) Get(n int) (*Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pages[n]
	return p, ok
}

// Put stores a page. A page already stored under the same number is kept:
// stored pages are immutable.
func (s *PageStore) Put(p *Page) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.pages[p.Number]; exists {
		return false
	}
	s.pages[p.Number] = p
	return true
}

// Clear drops every page
func (s *PageStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pages = make(map[int]*Page)
}

// Len returns the number of stored pages
func (s *PageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.pages)
}

// Pages returns the stored pages ordered by page number
func (s *PageStore) Pages() []*Page {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Page, 0, len(s.pages))
	for _, p := range s.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}
