package lsm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noungraph/noungraph/internal/config"
	"github.com/noungraph/noungraph/internal/storage"
)

func newTestTree(t *testing.T, cfg config.LSMConfig) (*Tree, storage.Adapter) {
	t.Helper()
	adapter := storage.NewMemoryAdapter()
	tree, err := Open(context.Background(), adapter, "verbs/", cfg, config.DefaultBloomConfig())
	require.NoError(t, err)
	return tree, adapter
}

func TestPutGetWithinMemtable(t *testing.T) {
	tree, _ := newTestTree(t, config.DefaultLSMConfig())
	ctx := context.Background()

	require.NoError(t, tree.Put(ctx, []byte("a"), []byte("1")))
	v, found, err := tree.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", string(v))
}

func TestDeleteTombstonesImmediately(t *testing.T) {
	tree, _ := newTestTree(t, config.DefaultLSMConfig())
	ctx := context.Background()

	require.NoError(t, tree.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tree.Delete(ctx, []byte("a")))

	_, found, err := tree.Get(ctx, []byte("a"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFlushMovesDataToLevel0(t *testing.T) {
	tree, _ := newTestTree(t, config.DefaultLSMConfig())
	ctx := context.Background()

	require.NoError(t, tree.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tree.Flush(ctx))

	stats := tree.Stats()
	assert.Equal(t, 0, stats.MemtableSize)
	assert.Equal(t, 1, stats.LevelCounts[0])

	v, found, err := tree.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", string(v))
}

func TestAutoFlushOnThreshold(t *testing.T) {
	cfg := config.DefaultLSMConfig()
	cfg.MemtableFlushThreshold = 5
	tree, _ := newTestTree(t, cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, tree.Put(ctx, []byte(fmt.Sprintf("key-%d", i)), []byte("v")))
	}

	stats := tree.Stats()
	assert.Equal(t, 0, stats.MemtableSize, "memtable should auto-flush once the threshold is hit")
	assert.Equal(t, 1, stats.LevelCounts[0])
}

func TestCompactionMergesLevel0IntoLevel1(t *testing.T) {
	cfg := config.DefaultLSMConfig()
	cfg.MemtableFlushThreshold = 1
	cfg.CompactionTrigger = 3
	tree, _ := newTestTree(t, cfg)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, tree.Put(ctx, []byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("v%d", i))))
	}

	stats := tree.Stats()
	assert.Equal(t, 0, stats.LevelCounts[0], "level 0 should have compacted away")
	assert.Equal(t, 1, stats.LevelCounts[1])

	for i := 0; i < 3; i++ {
		v, found, err := tree.Get(ctx, []byte(fmt.Sprintf("key-%d", i)))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, fmt.Sprintf("v%d", i), string(v))
	}
}

func TestReopenRecoversFromManifest(t *testing.T) {
	cfg := config.DefaultLSMConfig()
	tree, adapter := newTestTree(t, cfg)
	ctx := context.Background()

	require.NoError(t, tree.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tree.Flush(ctx))

	reopened, err := Open(ctx, adapter, "verbs/", cfg, config.DefaultBloomConfig())
	require.NoError(t, err)

	v, found, err := reopened.Get(ctx, []byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", string(v))
}

func TestScanReturnsLiveEntriesInOrder(t *testing.T) {
	tree, _ := newTestTree(t, config.DefaultLSMConfig())
	ctx := context.Background()

	require.NoError(t, tree.Put(ctx, []byte("b"), []byte("2")))
	require.NoError(t, tree.Put(ctx, []byte("a"), []byte("1")))
	require.NoError(t, tree.Put(ctx, []byte("c"), []byte("3")))
	require.NoError(t, tree.Delete(ctx, []byte("b")))

	got := tree.Scan(ctx, nil, nil)
	require.Len(t, got, 2)
	assert.Equal(t, "a", string(got[0].Key))
	assert.Equal(t, "c", string(got[1].Key))
}
