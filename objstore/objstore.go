// Package objstore is the client for the authoritative dataset store. It
// retrieves dataset snapshots as opaque JSON blobs and uploads best-effort
// access-log entries.
//
// The store is assumed reliable but capable of transient failure; transient
// failures are retried inside the HTTP client, never by callers.
package objstore

import (
	"context"
	"errors"
)

// Store is the set of object store capabilities the gateway consumes.
//
// Some example implementations of this interface could be:
//   - HTTP client against a blob store gateway (Client, the production path)
//   - in-memory stub for tests
type Store interface {
	// Fetch retrieves the authoritative snapshot for a dataset. Returns
	// ErrNotFound (possibly wrapped) when the dataset does not exist.
	Fetch(ctx context.Context, datasetID string) ([]byte, error)

	// PutLog uploads one access-log entry under the dataset's log prefix.
	// Best-effort: callers fire it asynchronously and drop failures.
	PutLog(ctx context.Context, datasetID, tsKey string, entry []byte) error
}

// Indicates the dataset does not exist in the object store.
var ErrNotFound = errors.New("dataset not found in object store")
