package index

import (
	"errors"
	"sync"
	"time"

	"nodetop/pkg/models"
)

// DefaultCacheTTL bounds how often a redraw loop hits the store.
const DefaultCacheTTL = 2 * time.Second

// Ranker answers top-N queries over an index.
type Ranker interface {
	State() State
	TopN(n int) ([]models.RankedEntry, error)
}

// CachedRanker memoizes TopN results for a short TTL.
type CachedRanker struct {
	inner Ranker
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	n       int
	at      time.Time
	entries []models.RankedEntry
	err     error
	valid   bool
}

func NewCachedRanker(inner Ranker, ttl time.Duration) *CachedRanker {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedRanker{inner: inner, ttl: ttl, now: time.Now}
}

func (c *CachedRanker) State() State { return c.inner.State() }

// TopN returns a cached result when one for n is younger than the TTL.
// ErrNotReady is never cached so readiness shows up on the next call.
func (c *CachedRanker) TopN(n int) ([]models.RankedEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.valid && c.n == n && now.Sub(c.at) < c.ttl {
		return c.entries, c.err
	}
	entries, err := c.inner.TopN(n)
	if errors.Is(err, ErrNotReady) {
		c.valid = false
		return nil, err
	}
	c.n, c.at, c.entries, c.err, c.valid = n, now, entries, err, true
	return entries, err
}
