package creds

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedDirectory fronts another Directory with an in-process TTL cache, so
// the hot path does not hit the database on every request. Lookup errors are
// cached too (for ErrTTL, typically shorter), which keeps a flood of bad keys
// from turning into a flood of queries.
type CachedDirectory struct {
	Inner  Directory
	ErrTTL time.Duration
	cache  *expirable.LRU[string, credEntry]
}

type credEntry struct {
	Updated time.Time
	Record  *APIKey
	Err     error
}

var _ Directory = (*CachedDirectory)(nil)

// Capacity of zero means unlimited size; hitTTL of zero means unlimited
// duration.
func NewCachedDirectory(inner Directory, capacity int, hitTTL, errTTL time.Duration) *CachedDirectory {
	return &CachedDirectory{
		Inner:  inner,
		ErrTTL: errTTL,
		cache:  expirable.NewLRU[string, credEntry](capacity, nil, hitTTL),
	}
}

func credKey(tenant, endpoint, key string) string {
	return tenant + "/" + endpoint + "/" + key
}

func (d *CachedDirectory) isStale(e *credEntry) bool {
	return e.Err != nil && time.Since(e.Updated) > d.ErrTTL
}

func (d *CachedDirectory) Lookup(ctx context.Context, tenant, endpoint, key string) (*APIKey, error) {
	ck := credKey(tenant, endpoint, key)
	if entry, ok := d.cache.Get(ck); ok && !d.isStale(&entry) {
		return entry.Record, entry.Err
	}

	rec, err := d.Inner.Lookup(ctx, tenant, endpoint, key)
	d.cache.Add(ck, credEntry{Updated: time.Now(), Record: rec, Err: err})
	return rec, err
}

// Purge drops the cached entry for a triple, forcing the next lookup through.
func (d *CachedDirectory) Purge(tenant, endpoint, key string) {
	d.cache.Remove(credKey(tenant, endpoint, key))
}
