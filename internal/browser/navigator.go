package browser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultPageSize is used when a session is created or reset without one
const DefaultPageSize = 50

// NavigatorOptions configures a Navigator
type NavigatorOptions struct {
	Pattern     string
	PageSize    int
	LoadTimeout time.Duration
	Metrics     Metrics
	Logger      *logrus.Logger
	Now         func() time.Time
}

// Navigator is one browsing session over a Scanner. It owns the session's
// PageStore and MetadataCache and serializes loads through a LoadGuard.
type Navigator struct {
	id      string
	scanner Scanner
	meta    *MetadataCache
	pages   *PageStore
	guard   *LoadGuard
	metrics Metrics
	log     *logrus.Entry
	now     func() time.Time

	mu         sync.RWMutex
	pattern    string
	pageSize   int
	current    int
	hasNext    bool
	complete   bool
	generation uint64
}

// session is the part of the state a load is issued against
type session struct {
	pattern    string
	pageSize   int
	generation uint64
}

// NewNavigator creates a session. meta becomes owned by the session: Reset
// clears it.
func NewNavigator(scanner Scanner, meta *MetadataCache, opts NavigatorOptions) *Navigator {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Pattern == "" {
		opts.Pattern = "*"
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	id := uuid.NewString()
	n := &Navigator{
		id:       id,
		scanner:  scanner,
		meta:     meta,
		pages:    NewPageStore(),
		guard:    NewLoadGuard(opts.LoadTimeout, opts.Logger),
		metrics:  opts.Metrics,
		log:      opts.Logger.WithFields(logrus.Fields{"component": "navigator", "session": id}),
		now:      opts.Now,
		pattern:  opts.Pattern,
		pageSize: opts.PageSize,
		hasNext:  true,
	}
	n.guard.OnTimeout(opts.Metrics.RecordGuardTimeout)
	return n
}

// ID returns the session identifier
func (n *Navigator) ID() string { return n.id }

// Metadata returns the session's type cache, for interactive lookups
func (n *Navigator) Metadata() *MetadataCache { return n.meta }

// Pages returns the session's page store
func (n *Navigator) Pages() *PageStore { return n.pages }

// LoadForward makes page the current page. A stored page is used as is;
// otherwise page-1 must be stored and its output cursor is scanned from.
func (n *Navigator) LoadForward(ctx context.Context, page int) (*Page, error) {
	if page < 1 {
		return nil, ErrInvalidPage
	}
	start := time.Now()

	if p, ok, err := n.useCached(page); err != nil {
		return nil, err
	} else if ok {
		n.metrics.RecordPageLoad("forward", SourceCache, true, time.Since(start))
		return p, nil
	}

	ticket, p, err := n.acquire(ctx, page)
	if err != nil {
		return nil, err
	}
	if p != nil {
		n.metrics.RecordPageLoad("forward", SourceCache, true, time.Since(start))
		return p, nil
	}
	defer n.guard.Release(ticket)

	sess := n.snapshot()
	p, err = n.fetch(ctx, sess, ticket, page)
	n.metrics.RecordPageLoad("forward", SourceScan, err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	if err := n.commitCurrent(sess, ticket, p); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadBackward makes target the current page. A stored page restores the
// session flags without touching the store; a missing one is rebuilt by
// replaying forward loads from page 1, reusing stored pages on the way.
func (n *Navigator) LoadBackward(ctx context.Context, target int) (*Page, error) {
	if target < 1 {
		return nil, ErrInvalidPage
	}
	start := time.Now()

	if p, ok, err := n.useCached(target); err != nil {
		return nil, err
	} else if ok {
		n.metrics.RecordPageLoad("backward", SourceCache, true, time.Since(start))
		return p, nil
	}

	ticket, p, err := n.acquire(ctx, target)
	if err != nil {
		return nil, err
	}
	if p != nil {
		n.metrics.RecordPageLoad("backward", SourceCache, true, time.Since(start))
		return p, nil
	}
	defer n.guard.Release(ticket)

	sess := n.snapshot()
	p, err = n.rebuild(ctx, sess, ticket, target)
	n.metrics.RecordPageLoad("backward", SourceRebuild, err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}

	if err := n.commitCurrent(sess, ticket, p); err != nil {
		return nil, err
	}
	return p, nil
}

// rebuild walks the chain from page 1 to target
func (n *Navigator) rebuild(ctx context.Context, sess session, ticket Ticket, target int) (*Page, error) {
	var p *Page
	for i := 1; i <= target; i++ {
		if cached, ok := n.pages.Get(i); ok {
			p = cached
		} else {
			fetched, err := n.fetch(ctx, sess, ticket, i)
			if err != nil {
				return nil, err
			}
			p = fetched
		}

		if i < target && !p.HasNextPage {
			n.log.WithFields(logrus.Fields{
				"target":    target,
				"last_page": i,
			}).Info("Data ends before requested page")
			return nil, &ChainRebuildError{Target: target, LastPage: i}
		}
	}
	return p, nil
}

// fetch scans one page, resolves its key types and stores it. It never
// changes the current page.
func (n *Navigator) fetch(ctx context.Context, sess session, ticket Ticket, page int) (*Page, error) {
	input := StartCursor
	if page > 1 {
		prev, ok := n.pages.Get(page - 1)
		if !ok {
			return nil, ErrChainBroken
		}
		if prev.OutputCursor == StartCursor {
			return nil, ErrNoNextPage
		}
		input = prev.OutputCursor
	}

	scanStart := time.Now()
	res, err := n.scanner.Scan(ctx, sess.pattern, input, sess.pageSize)
	n.metrics.RecordScan(err == nil, time.Since(scanStart))
	if err != nil {
		n.log.WithFields(logrus.Fields{
			"page":   page,
			"cursor": input,
		}).WithError(err).Warn("Scan failed")
		return nil, &ScanError{Page: page, Cursor: input, Err: err}
	}

	if !n.stillCurrent(sess, ticket) {
		n.metrics.RecordStaleResult()
		return nil, ErrStaleResult
	}

	verdict := Infer(sess.pageSize, res.Keys, res.Cursor, res.Complete)

	// The page stays invisible until every key has a type, real or unknown.
	if err := n.meta.ResolveBatch(ctx, verdict.DisplayKeys); err != nil {
		return nil, err
	}
	// A reset during the batch fences out its writes; skip the per-key fallback.
	if !n.stillCurrent(sess, ticket) {
		n.metrics.RecordStaleResult()
		return nil, ErrStaleResult
	}
	entries := make([]KeyEntry, len(verdict.DisplayKeys))
	for i, key := range verdict.DisplayKeys {
		keyType, ok := n.meta.Peek(key)
		if !ok {
			keyType = n.meta.Resolve(ctx, key)
		}
		entries[i] = KeyEntry{Key: key, Type: keyType}
	}

	p := &Page{
		Number:                   page,
		InputCursor:              input,
		OutputCursor:             res.Cursor,
		Entries:                  entries,
		FetchedAt:                n.now(),
		Complete:                 verdict.IsComplete,
		HasNextPage:              verdict.HasNextPage,
		RawCountExceededPageSize: verdict.BackendReturnedExtra,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if sess.generation != n.generation || !n.guard.Holds(ticket) {
		n.metrics.RecordStaleResult()
		n.log.WithField("page", page).Debug("Discarding stale page")
		return nil, ErrStaleResult
	}
	n.pages.Put(p)

	n.log.WithFields(logrus.Fields{
		"page":      page,
		"keys":      len(entries),
		"has_next":  p.HasNextPage,
		"complete":  p.Complete,
		"truncated": p.RawCountExceededPageSize,
	}).Debug("Page stored")
	return p, nil
}

// acquire claims the guard for page. When the same page is already loading it
// waits for that load and returns its stored result instead of a ticket.
func (n *Navigator) acquire(ctx context.Context, page int) (Ticket, *Page, error) {
	ticket, inflight, err := n.guard.TryAcquire(page)
	if !errors.Is(err, ErrDuplicateLoad) {
		return ticket, nil, err
	}

	select {
	case <-inflight:
	case <-ctx.Done():
		return Ticket{}, nil, ctx.Err()
	}

	if p, ok, err := n.useCached(page); err != nil {
		return Ticket{}, nil, err
	} else if ok {
		return Ticket{}, p, nil
	}

	// The in-flight load failed or was discarded; load it ourselves.
	ticket, _, err = n.guard.TryAcquire(page)
	if errors.Is(err, ErrDuplicateLoad) {
		err = ErrLoadInProgress
	}
	return ticket, nil, err
}

func (n *Navigator) stillCurrent(sess session, ticket Ticket) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return sess.generation == n.generation && n.guard.Holds(ticket)
}

// useCached makes a stored page current. It goes through the guard like a
// fetch does: while another page loads it fails with ErrLoadInProgress, and
// while the same page loads it reports a miss so the caller waits on that load.
func (n *Navigator) useCached(page int) (*Page, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if loading, busy := n.guard.Loading(); busy {
		if loading != page {
			return nil, false, ErrLoadInProgress
		}
		return nil, false, nil
	}

	p, ok := n.pages.Get(page)
	if !ok {
		return nil, false, nil
	}
	n.applyLocked(p)
	return p, true, nil
}

func (n *Navigator) commitCurrent(sess session, ticket Ticket, p *Page) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if sess.generation != n.generation || !n.guard.Holds(ticket) {
		n.metrics.RecordStaleResult()
		return ErrStaleResult
	}
	n.applyLocked(p)
	return nil
}

// applyLocked derives the session flags from a stored page and whether the
// page after it is stored too
func (n *Navigator) applyLocked(p *Page) {
	n.current = p.Number
	if _, ok := n.pages.Get(p.Number + 1); ok {
		n.hasNext = true
		n.complete = false
		return
	}
	n.hasNext = p.HasNextPage
	n.complete = p.Complete
}

func (n *Navigator) snapshot() session {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return session{
		pattern:    n.pattern,
		pageSize:   n.pageSize,
		generation: n.generation,
	}
}

// Reset starts the session over. An empty pattern or a non-positive page size
// keeps the current value. A load still in flight is orphaned and its result
// discarded.
func (n *Navigator) Reset(pattern string, pageSize int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if pattern != "" {
		n.pattern = pattern
	}
	if pageSize > 0 {
		n.pageSize = pageSize
	}
	n.generation++
	n.current = 0
	n.hasNext = true
	n.complete = false

	n.guard.Reset()
	n.pages.Clear()
	n.meta.Clear()

	n.log.WithFields(logrus.Fields{
		"pattern":   n.pattern,
		"page_size": n.pageSize,
	}).Info("Session reset")
}

// OnPatternOrPageSizeChange resets the session when either value differs
// from the current one and loads page 1
func (n *Navigator) OnPatternOrPageSizeChange(ctx context.Context, pattern string, pageSize int) error {
	n.mu.RLock()
	changed := (pattern != "" && pattern != n.pattern) || (pageSize > 0 && pageSize != n.pageSize)
	n.mu.RUnlock()

	if changed {
		n.Reset(pattern, pageSize)
	}
	_, err := n.LoadForward(ctx, 1)
	return err
}

// GoToNext loads the page after the current one
func (n *Navigator) GoToNext(ctx context.Context) error {
	n.mu.RLock()
	current, hasNext := n.current, n.hasNext
	n.mu.RUnlock()

	if !hasNext {
		return ErrNoNextPage
	}
	_, err := n.LoadForward(ctx, current+1)
	return err
}

// GoToPrevious loads the page before the current one
func (n *Navigator) GoToPrevious(ctx context.Context) error {
	n.mu.RLock()
	current := n.current
	n.mu.RUnlock()

	if current <= 1 {
		return ErrNoPreviousPage
	}
	_, err := n.LoadBackward(ctx, current-1)
	return err
}

// GoToPage jumps to any page, rebuilding the chain up to it when needed
func (n *Navigator) GoToPage(ctx context.Context, page int) error {
	_, err := n.LoadBackward(ctx, page)
	return err
}

// CurrentPageKeys returns the keys and types of the current page
func (n *Navigator) CurrentPageKeys() []KeyEntry {
	n.mu.RLock()
	current := n.current
	n.mu.RUnlock()

	p, ok := n.pages.Get(current)
	if !ok {
		return nil
	}
	out := make([]KeyEntry, len(p.Entries))
	copy(out, p.Entries)
	return out
}

// HasNextPage reports whether a page after the current one is expected
func (n *Navigator) HasNextPage() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.hasNext
}

// IsComplete reports whether the scan reached the end of the keyspace
func (n *Navigator) IsComplete() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.complete
}

// CurrentPage returns the current page number, 0 before the first load
func (n *Navigator) CurrentPage() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current
}

// State returns a snapshot of the session for the UI layer
func (n *Navigator) State() State {
	n.mu.RLock()
	st := State{
		SessionID:   n.id,
		Pattern:     n.pattern,
		PageSize:    n.pageSize,
		CurrentPage: n.current,
		HasNextPage: n.hasNext,
		IsComplete:  n.complete,
	}
	n.mu.RUnlock()

	_, st.Loading = n.guard.Loading()
	st.CachedPages = n.pages.Len()
	st.Keys = n.CurrentPageKeys()
	if st.Keys == nil {
		st.Keys = []KeyEntry{}
	}
	return st
}
