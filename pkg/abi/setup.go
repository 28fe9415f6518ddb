package abi

import (
	"sync"

	"github.com/nbdd0121/unwinding/internal/logflags"
	"github.com/nbdd0121/unwinding/pkg/finder"
)

var (
	finderOnce sync.Once
	finderImpl finder.SubFinder
)

// defaultFinder lazily builds the standard composite finder chain:
// registry first, then whatever this process's own program headers
// expose, then the compiled-in static section if one was installed,
// wrapped in an LRU so a hot backtrace loop doesn't repeatedly re-walk
// program headers for the same handful of PCs.
func defaultFinder() finder.SubFinder {
	finderOnce.Do(func() {
		chain := []finder.SubFinder{
			finder.RegistrySubFinder{},
		}
		if phdr, err := finder.DiscoverSelf(); err == nil {
			chain = append(chain, phdr)
		} else if logflags.Finder() {
			logflags.FinderLogger().WithError(err).Warn("phdr finder unavailable")
		}
		chain = append(chain, &finder.DefaultStatic)
		if finder.DefaultPrologueFinder != nil {
			chain = append(chain, finder.DefaultPrologueFinder)
		}
		finderImpl = finder.NewCachedFinder(finder.NewComposite(chain...), 0)
	})
	return finderImpl
}
