package browser

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultLoadTimeout is how long a load may hold the guard before it is
// force-released
const DefaultLoadTimeout = 30 * time.Second

// Ticket identifies one acquisition of the guard
type Ticket struct {
	Page       int
	Generation uint64
}

// LoadGuard admits one page load at a time. The timeout only clears local
// state; the load it released keeps running and must check Holds before
// publishing anything.
type LoadGuard struct {
	mu         sync.Mutex
	loading    bool
	page       int
	generation uint64
	done       chan struct{}
	timer      *time.Timer
	timeout    time.Duration
	onTimeout  func()
	log        *logrus.Entry
}

// NewLoadGuard creates a guard; timeout <= 0 uses DefaultLoadTimeout
func NewLoadGuard(timeout time.Duration, logger *logrus.Logger) *LoadGuard {
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LoadGuard{
		timeout: timeout,
		log:     logger.WithField("component", "load_guard"),
	}
}

// TryAcquire claims the guard for page. If a load for the same page is already
// running it returns ErrDuplicateLoad and a channel that is closed when that
// load settles. A load for any other page yields ErrLoadInProgress.
func (g *LoadGuard) TryAcquire(page int) (Ticket, <-chan struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.loading {
		if g.page == page {
			return Ticket{}, g.done, ErrDuplicateLoad
		}
		return Ticket{}, nil, ErrLoadInProgress
	}

	g.generation++
	g.loading = true
	g.page = page
	g.done = make(chan struct{})

	gen := g.generation
	g.timer = time.AfterFunc(g.timeout, func() { g.expire(gen) })

	return Ticket{Page: page, Generation: gen}, nil, nil
}

// Release frees the guard if t still holds it. It reports whether it did.
func (g *LoadGuard) Release(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.loading || g.generation != t.Generation {
		return false
	}
	g.releaseLocked()
	return true
}

// Holds reports whether t is still the active acquisition
func (g *LoadGuard) Holds(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.loading && g.generation == t.Generation
}

// Loading returns the page being loaded, if any
func (g *LoadGuard) Loading() (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.page, g.loading
}

// Reset force-releases whatever load holds the guard
func (g *LoadGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.loading {
		g.releaseLocked()
	}
	// Outstanding tickets must not match after a reset even if nothing was loading
	g.generation++
}

// OnTimeout registers a callback run after a forced release
func (g *LoadGuard) OnTimeout(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTimeout = fn
}

func (g *LoadGuard) expire(gen uint64) {
	g.mu.Lock()
	if !g.loading || g.generation != gen {
		g.mu.Unlock()
		return
	}
	page := g.page
	g.releaseLocked()
	cb := g.onTimeout
	g.mu.Unlock()

	g.log.WithFields(logrus.Fields{
		"page":    page,
		"timeout": g.timeout,
	}).Warn("Page load timed out, releasing guard")

	if cb != nil {
		cb()
	}
}

func (g *LoadGuard) releaseLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.loading = false
	close(g.done)
}
