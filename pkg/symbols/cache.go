package symbols

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/kmon/pkg/logflags"
)

// DefaultCacheSize is the number of resolved addresses kept by a
// CachedResolver when no size is configured.
const DefaultCacheSize = 1024

// CachedResolver remembers the results of another Resolver. Backtraces of
// the same stopped target resolve the same return addresses over and over.
type CachedResolver struct {
	r     Resolver
	cache *lru.Cache
	log   logflags.Logger
}

// NewCachedResolver wraps r with a cache of the given size.
func NewCachedResolver(r Resolver, size int) (*CachedResolver, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{r: r, cache: cache, log: logflags.SymbolsLogger()}, nil
}

// Resolve implements Resolver.
func (c *CachedResolver) Resolve(addr uint64) SymbolInfo {
	if v, ok := c.cache.Get(addr); ok {
		return v.(SymbolInfo)
	}
	si := c.r.Resolve(addr)
	if logflags.Symbols() {
		c.log.Debugf("resolved %#x to %s+%#x (%s:%d)", addr, si.Name(), addr-si.FnAddr, si.File, si.Line)
	}
	c.cache.Add(addr, si)
	return si
}

// Len returns the number of cached addresses.
func (c *CachedResolver) Len() int {
	return c.cache.Len()
}
