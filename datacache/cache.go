package datacache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxAge is the expiration window: how old a cache entry may be before
// a Get refreshes it from the store.
const DefaultMaxAge = 5 * time.Minute

// DefaultBypassTokens are the route-path markers that force a live fetch,
// skipping cache read and write. Debug and smoke-test callers use these to
// always see live data without polluting cache state for everyone else.
var DefaultBypassTokens = []string{"preview", "smoke-test"}

type Config struct {
	// MaxAge is the expiration window. Zero means DefaultMaxAge.
	MaxAge time.Duration

	// BypassTokens override DefaultBypassTokens when non-nil.
	BypassTokens []string

	// Capacity bounds the in-process metadata map. Zero means unlimited.
	Capacity int
}

// Cache is the read-through dataset cache. One instance per process; all
// concurrent requests on the instance share it.
type Cache struct {
	store   Fetcher
	scratch *Scratch
	meta    *expirable.LRU[string, Metadata]
	maxAge  time.Duration
	bypass  map[string]struct{}
	logger  *slog.Logger
}

func New(store Fetcher, scratch *Scratch, conf Config) *Cache {
	maxAge := conf.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	tokens := conf.BypassTokens
	if tokens == nil {
		tokens = DefaultBypassTokens
	}
	bypass := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		bypass[tok] = struct{}{}
	}
	return &Cache{
		store:   store,
		scratch: scratch,
		meta:    expirable.NewLRU[string, Metadata](conf.Capacity, nil, maxAge),
		maxAge:  maxAge,
		bypass:  bypass,
		logger:  slog.Default().With("system", "datacache"),
	}
}

// Get returns the dataset's records, fetching from the store only when the
// cached copy is absent or older than the expiration window. routeTokens are
// the request's path segments, used only for bypass matching.
//
// Errors are ErrDatasetUnavailable (store could not supply data) or
// ErrCacheCorrupt (fresh metadata, unreadable payload), both wrapped around
// the cause.
func (c *Cache) Get(ctx context.Context, datasetID string, routeTokens []string) ([]Record, error) {
	if datasetID == "" {
		return nil, fmt.Errorf("%w: empty dataset id", ErrDatasetUnavailable)
	}

	if c.isBypass(routeTokens) {
		bypassCounter.Inc()
		raw, err := c.fetch(ctx, datasetID)
		if err != nil {
			return nil, err
		}
		recs, err := decodeRecords(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDatasetUnavailable, err)
		}
		return recs, nil
	}

	if md, ok := c.lookupMeta(ctx, datasetID); ok && time.Since(md.FetchedAt) < c.maxAge {
		raw, err := c.scratch.GetPayload(ctx, datasetID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCacheCorrupt, err)
		}
		recs, err := decodeRecords(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCacheCorrupt, err)
		}
		hitCounter.Inc()
		return recs, nil
	}

	missCounter.Inc()
	return c.refresh(ctx, datasetID)
}

func (c *Cache) isBypass(routeTokens []string) bool {
	for _, tok := range routeTokens {
		if _, ok := c.bypass[tok]; ok {
			return true
		}
	}
	return false
}

// lookupMeta checks the in-process map first, then the durable scratch copy,
// rehydrating the map on a scratch hit. After a process restart the scratch
// copy is the source of truth until rehydrated.
func (c *Cache) lookupMeta(ctx context.Context, datasetID string) (Metadata, bool) {
	if md, ok := c.meta.Get(datasetID); ok {
		return md, true
	}
	md, err := c.scratch.GetMeta(ctx, datasetID)
	if err != nil {
		c.logger.Warn("scratch metadata read failed", "datasetID", datasetID, "err", err)
		return Metadata{}, false
	}
	if md == nil {
		return Metadata{}, false
	}
	c.meta.Add(datasetID, *md)
	return *md, true
}

func (c *Cache) fetch(ctx context.Context, datasetID string) ([]byte, error) {
	start := time.Now()
	raw, err := c.store.Fetch(ctx, datasetID)
	fetchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatasetUnavailable, err)
	}
	return raw, nil
}

// refresh fetches the dataset and publishes it to the cache. The durable
// writes are ordered before the in-process map update, so a later process
// that only sees the scratch store is never older than what this process has
// already returned to a caller. A failed scratch write downgrades to serving
// the fetched data uncached: metadata is skipped too, so the cache never
// claims freshness it cannot back with a payload.
func (c *Cache) refresh(ctx context.Context, datasetID string) ([]Record, error) {
	raw, err := c.fetch(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	recs, err := decodeRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDatasetUnavailable, err)
	}

	md := Metadata{DatasetID: datasetID, FetchedAt: time.Now()}
	if err := c.scratch.PutPayload(ctx, datasetID, raw); err != nil {
		c.logger.Warn("scratch payload write failed, serving uncached", "datasetID", datasetID, "err", err)
		return recs, nil
	}
	if err := c.scratch.PutMeta(ctx, md); err != nil {
		c.logger.Warn("scratch metadata write failed, serving uncached", "datasetID", datasetID, "err", err)
		return recs, nil
	}
	c.meta.Add(datasetID, md)
	return recs, nil
}

func decodeRecords(raw []byte) ([]Record, error) {
	var recs []Record
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, fmt.Errorf("decoding dataset payload: %w", err)
	}
	return recs, nil
}
