// Package listing caches the admin match listing the operator picks
// broadcasts from. The cache is refreshed on a poll interval, can be
// invalidated after a broadcast starts, and supports aborting a refresh that
// is in flight so its result is thrown away.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/tsntt/footballdash/internal/adapter/metrics"
	"github.com/tsntt/footballdash/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	refreshKey   = "admin-matches"
	storeTimeout = 2 * time.Second
)

type Options struct {
	PollInterval time.Duration
	StaleTime    time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollInterval: 30 * time.Second,
		StaleTime:    time.Minute,
	}
}

// Cache serves the sorted listing. Concurrent refreshes collapse into one
// backend call.
type Cache struct {
	source  domain.MatchSource
	store   domain.ListingStore
	clock   clockwork.Clock
	metrics *metrics.ListingMetrics
	opts    Options
	group   singleflight.Group
	wake    chan struct{}

	mu      sync.Mutex
	current *domain.Listing
	stale   bool
	epoch   uint64
	cancel  context.CancelFunc
}

// NewCache creates a cache over source. store and m may be nil.
func NewCache(source domain.MatchSource, store domain.ListingStore, clock clockwork.Clock, m *metrics.ListingMetrics, opts Options) *Cache {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.StaleTime <= 0 {
		opts.StaleTime = defaults.StaleTime
	}
	return &Cache{
		source:  source,
		store:   store,
		clock:   clock,
		metrics: m,
		opts:    opts,
		wake:    make(chan struct{}, 1),
	}
}

// Get returns the cached listing while it is fresh and refreshes it
// otherwise. If the refresh fails but an older listing exists, the older
// listing is returned.
func (c *Cache) Get(ctx context.Context) (domain.Listing, error) {
	if l, ok := c.fresh(); ok {
		c.countHit("memory")
		return l, nil
	}

	if l, ok := c.loadFromStore(ctx); ok {
		c.countHit("store")
		return l, nil
	}

	if c.metrics != nil {
		c.metrics.Misses.Inc()
	}
	l, err := c.Refresh(ctx)
	if err == nil {
		return l, nil
	}

	c.mu.Lock()
	prev := c.current
	c.mu.Unlock()
	if prev != nil {
		slog.Warn("Serving previous match listing after refresh failure", "error", err, "fetched_at", prev.FetchedAt)
		return *prev, nil
	}
	return domain.Listing{}, err
}

// Refresh fetches the listing from the backend, joining a fetch that is
// already running. It returns domain.ErrRefreshCanceled when the fetch was
// aborted by CancelRefresh or Invalidate.
func (c *Cache) Refresh(ctx context.Context) (domain.Listing, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.fetch()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Listing{}, res.Err
		}
		return res.Val.(domain.Listing), nil
	case <-ctx.Done():
		return domain.Listing{}, ctx.Err()
	}
}

// CancelRefresh aborts a fetch in flight and discards its result.
func (c *Cache) CancelRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abortLocked()
}

// Invalidate marks the listing stale, aborts a fetch in flight and asks the
// poll loop to refetch right away.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.stale = true
	c.abortLocked()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.Invalidations.Inc()
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run polls the backend until ctx is done. The first fetch happens
// immediately.
func (c *Cache) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	c.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			c.CancelRefresh()
			return
		case <-ticker.Chan():
			c.poll(ctx)
		case <-c.wake:
			c.poll(ctx)
		}
	}
}

func (c *Cache) poll(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil && !errors.Is(err, domain.ErrRefreshCanceled) && ctx.Err() == nil {
		slog.Warn("Match listing refresh failed", "error", err)
	}
}

func (c *Cache) abortLocked() {
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
		if c.metrics != nil {
			c.metrics.Cancellations.Inc()
		}
	}
	c.group.Forget(refreshKey)
}

func (c *Cache) fetch() (domain.Listing, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.mu.Lock()
	epoch := c.epoch
	c.cancel = cancel
	c.mu.Unlock()

	matches, err := c.source.GetAdminMatches(ctx)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.countFetch("discarded")
		return domain.Listing{}, domain.ErrRefreshCanceled
	}
	c.cancel = nil
	if err != nil {
		c.mu.Unlock()
		c.countFetch("error")
		return domain.Listing{}, fmt.Errorf("fetch admin matches: %w", err)
	}

	listing := domain.Listing{
		Matches:   SortMatches(matches),
		FetchedAt: c.clock.Now(),
	}
	c.current = &listing
	c.stale = false
	c.mu.Unlock()

	c.countFetch("ok")
	slog.Debug("Match listing refreshed", "matches", len(listing.Matches))
	c.save(listing)
	return listing, nil
}

func (c *Cache) fresh() (domain.Listing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.stale || c.clock.Since(c.current.FetchedAt) >= c.opts.StaleTime {
		return domain.Listing{}, false
	}
	return *c.current, true
}

func (c *Cache) loadFromStore(ctx context.Context) (domain.Listing, bool) {
	if c.store == nil {
		return domain.Listing{}, false
	}

	c.mu.Lock()
	skip := c.stale || c.current != nil
	c.mu.Unlock()
	if skip {
		return domain.Listing{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	l, err := c.store.Load(ctx)
	if err != nil {
		slog.Warn("Failed to load cached match listing", "error", err)
		return domain.Listing{}, false
	}
	if l == nil || c.clock.Since(l.FetchedAt) >= c.opts.StaleTime {
		return domain.Listing{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil && !c.stale {
		c.current = l
	}
	return *l, true
}

func (c *Cache) save(l domain.Listing) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := c.store.Save(ctx, l); err != nil {
		slog.Warn("Failed to store match listing", "error", err)
	}
}

func (c *Cache) countHit(layer string) {
	if c.metrics != nil {
		c.metrics.Hits.WithLabelValues(layer).Inc()
	}
}

func (c *Cache) countFetch(result string) {
	if c.metrics != nil {
		c.metrics.Fetches.WithLabelValues(result).Inc()
	}
}
