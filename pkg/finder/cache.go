package finder

import (
	lru "github.com/hashicorp/golang-lru"
)

// defaultCacheSize bounds the number of distinct PC lookups memoized
// before older entries are evicted. A hot backtrace loop over a handful
// of functions hits this cache instead of re-walking program headers and
// re-binary-searching .eh_frame_hdr on every frame.
const defaultCacheSize = 512

// CachedFinder wraps a SubFinder (almost always a *Composite) with an LRU
// of previously resolved pc -> Result lookups. Misses are not cached: a
// pc with no covering FDE is rare on a live backtrace and caching it
// would only help pathological repeated-failure cases at the cost of
// evicting useful hits.
type CachedFinder struct {
	Inner SubFinder
	cache *lru.Cache
}

// NewCachedFinder wraps inner with an LRU of size entries (defaultCacheSize
// if size <= 0).
func NewCachedFinder(inner SubFinder, size int) *CachedFinder {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, _ := lru.New(size) // only errors on size <= 0, already guarded above
	return &CachedFinder{Inner: inner, cache: c}
}

func (c *CachedFinder) FindFDE(pc uint64) (Result, bool) {
	if v, ok := c.cache.Get(pc); ok {
		return v.(Result), true
	}
	r, ok := c.Inner.FindFDE(pc)
	if !ok {
		return Result{}, false
	}
	c.cache.Add(pc, r)
	return r, true
}
