package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/martinsuchenak/beacond/internal/log"
	"github.com/martinsuchenak/beacond/internal/metrics"
	"github.com/martinsuchenak/beacond/internal/model"
	"github.com/martinsuchenak/beacond/internal/storage"
	"github.com/martinsuchenak/beacond/internal/worker"
)

// DefaultStaleAfter is how long a scraped record is trusted before refetching
const DefaultStaleAfter = 5 * time.Hour

// Fetcher retrieves fresh metadata for a URL
type Fetcher interface {
	FetchAndExtract(ctx context.Context, url string) (*model.SiteMetadata, error)
}

// Options configures a MetadataCache
type Options struct {
	StaleAfter time.Duration
	Metrics    *metrics.Metrics
	Now        func() time.Time
	// Pool runs RefreshStale jobs. Nil refreshes inline.
	Pool *worker.WorkerPool
}

// MetadataCache serves page metadata from the store and refreshes it through
// the fetcher when it is missing, stale or a refresh is forced. Fetch failures
// never surface to callers; they fall back to the previously stored record.
type MetadataCache struct {
	store      storage.MetadataStore
	fetcher    Fetcher
	staleAfter time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
	pool       *worker.WorkerPool
	group      singleflight.Group
}

// New creates a MetadataCache
func New(store storage.MetadataStore, fetcher Fetcher, opts Options) *MetadataCache {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &MetadataCache{
		store:      store,
		fetcher:    fetcher,
		staleAfter: opts.StaleAfter,
		metrics:    opts.Metrics,
		now:        opts.Now,
		pool:       opts.Pool,
	}
}

// StaleAfter returns the staleness window
func (c *MetadataCache) StaleAfter() time.Duration {
	return c.staleAfter
}

// Lookup returns the stored record for url without fetching
func (c *MetadataCache) Lookup(url string) (*model.SiteMetadata, error) {
	return c.store.GetSiteMetadata(url)
}

// Stale lists up to limit stored records that are past the staleness window
func (c *MetadataCache) Stale(limit int) ([]model.SiteMetadata, error) {
	return c.store.ListStaleSiteMetadata(c.now().Add(-c.staleAfter), limit)
}

// Resolve returns metadata for url. A fresh stored record is returned without
// a network call unless force is set. Returns nil when nothing is stored and
// the fetch fails.
func (c *MetadataCache) Resolve(ctx context.Context, url string, force bool) *model.SiteMetadata {
	if url == "" {
		return nil
	}

	existing, err := c.store.GetSiteMetadata(url)
	if err != nil {
		if !errors.Is(err, storage.ErrMetadataNotFound) {
			log.Warn("Failed to read cached metadata", "error", err, "url", url)
		}
		existing = nil
	}

	switch {
	case existing == nil:
		c.metrics.CacheLookups.WithLabelValues(metrics.ResultMiss).Inc()
	case force:
		c.metrics.CacheLookups.WithLabelValues(metrics.ResultForced).Inc()
	case existing.IsStale(c.now(), c.staleAfter):
		c.metrics.CacheLookups.WithLabelValues(metrics.ResultStale).Inc()
	default:
		c.metrics.CacheLookups.WithLabelValues(metrics.ResultHit).Inc()
		log.Trace("Metadata cache hit", "url", url)
		return existing
	}

	fresh, err := c.refresh(ctx, url)
	if err != nil {
		log.Info("Metadata refresh failed, keeping previous record", "url", url, "error", err, "had_previous", existing != nil)
		return existing
	}

	return fresh
}

// refresh fetches and stores url. Concurrent refreshes of the same URL share
// one fetch; the fetch runs detached from ctx so a cancelled caller does not
// fail the others.
func (c *MetadataCache) refresh(ctx context.Context, url string) (*model.SiteMetadata, error) {
	ch := c.group.DoChan(url, func() (any, error) {
		return c.fetchAndStore(context.WithoutCancel(ctx), url)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		meta := *res.Val.(*model.SiteMetadata)
		return &meta, nil
	}
}

func (c *MetadataCache) fetchAndStore(ctx context.Context, url string) (*model.SiteMetadata, error) {
	start := c.now()
	meta, err := c.fetcher.FetchAndExtract(ctx, url)
	c.metrics.FetchDuration.Observe(c.now().Sub(start).Seconds())
	if err != nil {
		c.metrics.Fetches.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}
	c.metrics.Fetches.WithLabelValues(metrics.ResultSuccess).Inc()

	now := c.now()
	meta.URL = url
	meta.UpdatedAt = now
	if meta.FetchedAt.IsZero() {
		meta.FetchedAt = now
	}

	if err := c.store.UpsertSiteMetadata(meta); err != nil {
		// The fetched record is still good for this response
		log.Error("Failed to store site metadata", "error", err, "url", url)
		return meta, nil
	}

	log.Debug("Site metadata refreshed", "url", url, "title", meta.Title)
	return meta, nil
}

// RefreshStale refetches up to limit stale records and reports how many were
// refreshed. Failed fetches leave the stored record untouched.
func (c *MetadataCache) RefreshStale(ctx context.Context, limit int) (int, error) {
	stale, err := c.Stale(limit)
	if err != nil {
		return 0, fmt.Errorf("listing stale metadata: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	results := make(chan error, len(stale))
	submitted := 0
	for _, meta := range stale {
		url := meta.URL
		handler := func(jctx context.Context) error {
			_, err := c.refresh(jctx, url)
			return err
		}

		if c.pool == nil {
			results <- handler(ctx)
			submitted++
			continue
		}

		err := c.pool.Submit(worker.Job{ID: "refresh:" + url, Handler: handler, Result: results})
		if err != nil {
			log.Warn("Failed to submit refresh job", "url", url, "error", err)
			break
		}
		submitted++
	}

	refreshed := 0
	for i := 0; i < submitted; i++ {
		select {
		case <-ctx.Done():
			return refreshed, ctx.Err()
		case err := <-results:
			if err == nil {
				refreshed++
			}
		}
	}

	log.Info("Stale metadata refreshed", "stale", len(stale), "refreshed", refreshed)
	return refreshed, nil
}
