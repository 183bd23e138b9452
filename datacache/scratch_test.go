package datacache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratchRoundtrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	scratch := testScratch(t)

	// absent metadata is a normal state, not an error
	md, err := scratch.GetMeta(ctx, "ds1")
	require.NoError(t, err)
	assert.Nil(md)

	require.NoError(t, scratch.PutPayload(ctx, "ds1", []byte(`[{"id":1}]`)))
	fetched := time.Now().Truncate(time.Millisecond)
	require.NoError(t, scratch.PutMeta(ctx, Metadata{DatasetID: "ds1", FetchedAt: fetched}))

	b, err := scratch.GetPayload(ctx, "ds1")
	require.NoError(t, err)
	assert.Equal(`[{"id":1}]`, string(b))

	md, err = scratch.GetMeta(ctx, "ds1")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal("ds1", md.DatasetID)
	assert.True(md.FetchedAt.Equal(fetched))

	// ids that are hostile as filenames still work through key encoding
	weird := "tenant/data set#1"
	require.NoError(t, scratch.PutPayload(ctx, weird, []byte(`[]`)))
	b, err = scratch.GetPayload(ctx, weird)
	require.NoError(t, err)
	assert.Equal(`[]`, string(b))
}

func TestScratchDeleteEntry(t *testing.T) {
	ctx := context.Background()
	scratch := testScratch(t)

	require.NoError(t, scratch.PutPayload(ctx, "ds1", []byte(`[]`)))
	require.NoError(t, scratch.PutMeta(ctx, Metadata{DatasetID: "ds1", FetchedAt: time.Now()}))
	require.NoError(t, scratch.DeleteEntry(ctx, "ds1"))

	md, err := scratch.GetMeta(ctx, "ds1")
	require.NoError(t, err)
	assert.Nil(t, md)
}
