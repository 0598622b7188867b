package waitingpage

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// DefaultTTL is how long a minified page stays in the short-TTL front cache
// before a subsequent verify_waiting_page tick is needed to refresh it.
const DefaultTTL = 30 * time.Second

// Cache fronts QueueControl's own RWMutex-guarded waiting-page cache with a
// short-TTL in-process cache, absorbing bursts of concurrent 503 responses
// without re-minifying (or even re-locking the authoritative cache) on every
// request. Grounded on SPEC_FULL.md §4.2's "cached_waiting_page must not
// block on I/O" requirement.
type Cache struct {
	c *ristretto.Cache[string, string]
}

// NewCache constructs a front cache. Sized for a modest number of distinct
// locales (tens, not millions), so the ristretto cost/counter knobs are kept
// small relative to its typical workload (per-tenant asset caches).
func NewCache() (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: 1_000,
		MaxCost:     1 << 20, // 1MiB of cached HTML across all locales
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get returns the cached minified page for locale, if present and unexpired.
func (c *Cache) Get(locale string) (string, bool) {
	return c.c.Get(locale)
}

// Set stores the minified page for locale with DefaultTTL.
func (c *Cache) Set(locale, html string) {
	c.c.SetWithTTL(locale, html, int64(len(html)), DefaultTTL)
	c.c.Wait()
}

// Close releases the cache's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
