// Package discovery finds how many sequential pages a remote source serves.
//
// The existence predicate is a real download, so every probed page is left
// in the cache for the bulk phase. The search assumes existence is monotone
// in the page index; a source with gaps yields a wrong boundary and this is
// not detected.
package discovery

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pagegrab/internal/fetcher"
	"github.com/local/pagegrab/internal/metrics"
	"github.com/local/pagegrab/internal/pages"
)

// Fetcher is the subset of fetcher.Fetcher used for probing.
type Fetcher interface {
	Fetch(ctx context.Context, h pages.Handle) fetcher.Outcome
}

// ProbeCache memoizes probe results for one run. It is written by a single
// goroutine and never shrinks.
type ProbeCache struct {
	seen map[int]bool
}

// NewProbeCache returns an empty cache.
func NewProbeCache() *ProbeCache {
	return &ProbeCache{seen: make(map[int]bool)}
}

// Lookup returns the cached result for page n.
func (c *ProbeCache) Lookup(n int) (exists, ok bool) {
	exists, ok = c.seen[n]
	return exists, ok
}

// Store records the result for page n. An existing entry is kept.
func (c *ProbeCache) Store(n int, exists bool) {
	if _, ok := c.seen[n]; ok {
		return
	}
	c.seen[n] = exists
}

// Len returns the number of probed pages.
func (c *ProbeCache) Len() int { return len(c.seen) }

// Options tunes the search.
type Options struct {
	// UpperBound is the initial high end of the search.
	UpperBound int
	// Delay is slept after every network probe.
	Delay time.Duration
}

// Oracle answers "does page n exist" and searches for the boundary.
type Oracle struct {
	layout  pages.Layout
	fetcher Fetcher
	cache   *ProbeCache
	opts    Options
	sleep   func(context.Context, time.Duration) error
}

// New builds an Oracle over layout. A nil cache starts empty.
func New(layout pages.Layout, f Fetcher, cache *ProbeCache, opts Options) *Oracle {
	if cache == nil {
		cache = NewProbeCache()
	}
	if opts.UpperBound <= 0 {
		opts.UpperBound = 1000
	}
	return &Oracle{layout: layout, fetcher: f, cache: cache, opts: opts, sleep: sleepCtx}
}

// Cache exposes the probe results gathered so far.
func (o *Oracle) Cache() *ProbeCache { return o.cache }

// Exists probes page n, consulting the cache first.
func (o *Oracle) Exists(ctx context.Context, n int) (bool, error) {
	if exists, ok := o.cache.Lookup(n); ok {
		metrics.IncProbe("memoized")
		return exists, nil
	}

	out := o.fetcher.Fetch(ctx, o.layout.Handle(n))
	if err := o.sleep(ctx, o.opts.Delay); err != nil {
		return false, err
	}

	o.cache.Store(n, out.Succeeded)
	if out.Succeeded {
		metrics.IncProbe("exists")
	} else {
		metrics.IncProbe("missing")
	}
	log.Ctx(ctx).Debug().Int("page", n).Bool("exists", out.Succeeded).Msg("probe")
	return out.Succeeded, nil
}

// DiscoverPageCount returns the page boundary: the first index that does
// not exist, so 1 when no page exists. When the upper bound itself exists
// the result is UpperBound+1 and saturated is true.
func (o *Oracle) DiscoverPageCount(ctx context.Context) (boundary int, saturated bool, err error) {
	low, high := 1, o.opts.UpperBound
	for low <= high {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		mid := (low + high) / 2
		exists, err := o.Exists(ctx, mid)
		if err != nil {
			return 0, false, err
		}
		if exists {
			low = mid + 1
		} else {
			high = mid - 1
		}
	}

	saturated = low > o.opts.UpperBound
	log.Ctx(ctx).Info().Int("boundary", low).Int("probes", o.cache.Len()).Bool("saturated", saturated).Msg("page count discovered")
	return low, saturated, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
