package chunkindex

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noungraph/noungraph/internal/config"
	"github.com/noungraph/noungraph/internal/storage"
)

func TestAddAndLookup(t *testing.T) {
	idx := New("status", config.DefaultMetadataConfig(), config.DefaultBloomConfig())
	idx.Add("active", 1)
	idx.Add("active", 2)
	idx.Add("inactive", 3)

	bm := idx.Lookup("active")
	assert.True(t, bm.Contains(1))
	assert.True(t, bm.Contains(2))
	assert.False(t, bm.Contains(3))

	bm = idx.Lookup("missing")
	assert.Equal(t, uint64(0), bm.GetCardinality())
}

func TestRemove(t *testing.T) {
	idx := New("status", config.DefaultMetadataConfig(), config.DefaultBloomConfig())
	idx.Add("active", 1)
	idx.Remove("active", 1)

	bm := idx.Lookup("active")
	assert.False(t, bm.Contains(1))
}

func TestRangeUnionsMatchingValues(t *testing.T) {
	idx := New("priority", config.DefaultMetadataConfig(), config.DefaultBloomConfig())
	idx.Add("1", 10)
	idx.Add("2", 20)
	idx.Add("3", 30)

	bm := idx.Range("1", "2")
	assert.True(t, bm.Contains(10))
	assert.True(t, bm.Contains(20))
	assert.False(t, bm.Contains(30))
}

func TestSplitsAboveThreshold(t *testing.T) {
	cfg := config.MetadataConfig{TargetChunkSize: 5, SplitThreshold: 10, MergeThreshold: 2}
	idx := New("tag", cfg, config.DefaultBloomConfig())
	for i := 0; i < 20; i++ {
		idx.Add(fmt.Sprintf("value-%03d", i), uint32(i))
	}
	assert.Greater(t, idx.ChunkCount(), 1, "index should have split into multiple chunks")

	for i := 0; i < 20; i++ {
		bm := idx.Lookup(fmt.Sprintf("value-%03d", i))
		require.True(t, bm.Contains(uint32(i)))
	}
}

func TestSplitAssignsDistinctChunkIDs(t *testing.T) {
	cfg := config.MetadataConfig{TargetChunkSize: 5, SplitThreshold: 10, MergeThreshold: 2}
	idx := New("tag", cfg, config.DefaultBloomConfig())
	for i := 0; i < 20; i++ {
		idx.Add(fmt.Sprintf("value-%03d", i), uint32(i))
	}

	seen := make(map[uint64]bool)
	for _, c := range idx.chunks {
		assert.False(t, seen[c.id], "chunk id %d reused", c.id)
		seen[c.id] = true
	}
}

func TestCompactMergesSmallAdjacentChunks(t *testing.T) {
	cfg := config.MetadataConfig{TargetChunkSize: 5, SplitThreshold: 3, MergeThreshold: 100}
	idx := New("tag", cfg, config.DefaultBloomConfig())
	for i := 0; i < 12; i++ {
		idx.Add(fmt.Sprintf("value-%03d", i), uint32(i))
	}
	before := idx.ChunkCount()
	require.Greater(t, before, 1)

	idx.Compact()
	assert.LessOrEqual(t, idx.ChunkCount(), before)

	for i := 0; i < 12; i++ {
		bm := idx.Lookup(fmt.Sprintf("value-%03d", i))
		assert.True(t, bm.Contains(uint32(i)))
	}
}

func TestNullSentinelTracksHasNulls(t *testing.T) {
	idx := New("email", config.DefaultMetadataConfig(), config.DefaultBloomConfig())
	idx.Add("a@example.com", 1)
	idx.AddNull(2)

	assert.True(t, idx.chunks[0].hasNulls)
	bm := idx.LookupNull()
	assert.True(t, bm.Contains(2))
	assert.False(t, bm.Contains(1))

	idx.RemoveNull(2)
	bm = idx.LookupNull()
	assert.False(t, bm.Contains(2))
}

func TestChunkCountZoneMapField(t *testing.T) {
	idx := New("status", config.DefaultMetadataConfig(), config.DefaultBloomConfig())
	idx.Add("active", 1)
	idx.Add("active", 2)
	idx.Add("inactive", 3)

	assert.Equal(t, 3, idx.chunks[0].count)
}

func TestFlushAndOpenRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter := storage.NewMemoryAdapter()

	idx := New("status", config.DefaultMetadataConfig(), config.DefaultBloomConfig())
	idx.Add("active", 1)
	idx.Add("active", 2)
	idx.AddNull(3)
	require.NoError(t, idx.Flush(ctx, adapter))

	restored, err := Open(ctx, "status", config.DefaultMetadataConfig(), config.DefaultBloomConfig(), adapter)
	require.NoError(t, err)

	bm := restored.Lookup("active")
	assert.True(t, bm.Contains(1))
	assert.True(t, bm.Contains(2))

	nullBm := restored.LookupNull()
	assert.True(t, nullBm.Contains(3))
}

func TestOpenWithNothingPersistedReturnsFreshIndex(t *testing.T) {
	ctx := context.Background()
	adapter := storage.NewMemoryAdapter()

	idx, err := Open(ctx, "unseen", config.DefaultMetadataConfig(), config.DefaultBloomConfig(), adapter)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.ChunkCount())
}

func TestFlushPersistsAcrossSplit(t *testing.T) {
	ctx := context.Background()
	adapter := storage.NewMemoryAdapter()
	cfg := config.MetadataConfig{TargetChunkSize: 5, SplitThreshold: 10, MergeThreshold: 2}

	idx := New("tag", cfg, config.DefaultBloomConfig())
	for i := 0; i < 20; i++ {
		idx.Add(fmt.Sprintf("value-%03d", i), uint32(i))
	}
	require.NoError(t, idx.Flush(ctx, adapter))
	require.Greater(t, idx.ChunkCount(), 1)

	restored, err := Open(ctx, "tag", cfg, config.DefaultBloomConfig(), adapter)
	require.NoError(t, err)
	assert.Equal(t, idx.ChunkCount(), restored.ChunkCount())
	for i := 0; i < 20; i++ {
		bm := restored.Lookup(fmt.Sprintf("value-%03d", i))
		assert.True(t, bm.Contains(uint32(i)))
	}
}
