// Package datacache implements the read-through dataset cache that sits
// between the gateway and the object store.
//
// The cache is instance-local and fully disposable: an in-process metadata
// map fronts a durable-for-process-lifetime scratch directory, and both can
// be rebuilt from the authoritative store at any time. Cache absence is never
// an error; only corruption is (fresh metadata with an unreadable payload).
//
// Concurrent Get calls for the same dataset may race through a miss and both
// refresh from the store. That duplicate work is tolerated; payload writes
// are individually atomic, so no reader ever observes a torn payload.
package datacache

import (
	"context"
	"errors"
)

// Record is one row of a dataset, as decoded from the stored JSON array.
type Record = map[string]any

// Fetcher supplies authoritative dataset snapshots. Satisfied by
// objstore.Client.
type Fetcher interface {
	Fetch(ctx context.Context, datasetID string) ([]byte, error)
}

// Indicates the authoritative store could not supply the dataset (network or
// store error, or dataset truly absent). Not retried here; a wrapped error
// provides the cause.
var ErrDatasetUnavailable = errors.New("dataset unavailable")

// Indicates metadata claims a fresh payload but the scratch copy is
// unreadable or undecodable. Fatal for the request: silently refetching
// would mask a bug in the atomic-publish path.
var ErrCacheCorrupt = errors.New("dataset cache corrupt")
