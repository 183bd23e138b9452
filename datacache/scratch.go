package datacache

import (
	"context"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ipfs/go-datastore"
	flatfs "github.com/ipfs/go-ds-flatfs"
)

// Metadata records when a dataset payload was last refreshed from the store.
// It is kept separately from the payload so freshness can be checked without
// loading the full dataset.
type Metadata struct {
	DatasetID string    `json:"dataset_id"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Scratch is the durable-for-process-lifetime side of the cache: a flatfs
// datastore in a local scratch directory. flatfs publishes values by writing
// to a temp file and renaming, which is what makes concurrent cache refreshes
// safe to leave uncoordinated.
type Scratch struct {
	ds *flatfs.Datastore
}

func OpenScratch(dir string) (*Scratch, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("creating scratch dir: %w", err)
	}
	fds, err := flatfs.CreateOrOpen(dir, flatfs.IPFS_DEF_SHARD, false)
	if err != nil {
		return nil, fmt.Errorf("opening scratch datastore: %w", err)
	}
	return &Scratch{ds: fds}, nil
}

func (s *Scratch) Close() error {
	return s.ds.Close()
}

// flatfs only accepts single-component keys over a restricted alphabet, so
// dataset ids are base32-encoded (same trick the store uses for block keys).
func scratchKey(kind, datasetID string) datastore.Key {
	return datastore.NewKey("/" + base32.StdEncoding.EncodeToString([]byte(kind+":"+datasetID)))
}

func (s *Scratch) GetPayload(ctx context.Context, datasetID string) ([]byte, error) {
	return s.ds.Get(ctx, scratchKey("payload", datasetID))
}

func (s *Scratch) PutPayload(ctx context.Context, datasetID string, raw []byte) error {
	return s.ds.Put(ctx, scratchKey("payload", datasetID), raw)
}

// GetMeta returns (nil, nil) when no metadata exists; absence is the normal
// state for a cold instance, not an error.
func (s *Scratch) GetMeta(ctx context.Context, datasetID string) (*Metadata, error) {
	b, err := s.ds.Get(ctx, scratchKey("meta", datasetID))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.Unmarshal(b, &md); err != nil {
		return nil, fmt.Errorf("decoding cache metadata: %w", err)
	}
	return &md, nil
}

func (s *Scratch) PutMeta(ctx context.Context, md Metadata) error {
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	return s.ds.Put(ctx, scratchKey("meta", md.DatasetID), b)
}

// DeleteEntry drops both payload and metadata for a dataset. Used by
// operational tooling; the serving path never explicitly evicts.
func (s *Scratch) DeleteEntry(ctx context.Context, datasetID string) error {
	if err := s.ds.Delete(ctx, scratchKey("meta", datasetID)); err != nil {
		return err
	}
	return s.ds.Delete(ctx, scratchKey("payload", datasetID))
}
