package hnsw

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noungraph/noungraph/internal/config"
)

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()
	}
	return v
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	g := New(config.DefaultVectorConfig(8))
	err := g.Insert(1, make([]float32, 4))
	require.Error(t, err)
}

func TestInsertAndSearchFindsExactMatch(t *testing.T) {
	cfg := config.DefaultVectorConfig(16)
	g := New(cfg)
	r := rand.New(rand.NewSource(42))

	var target []float32
	for i := uint32(0); i < 200; i++ {
		v := randomVector(r, 16)
		if i == 100 {
			target = v
		}
		require.NoError(t, g.Insert(i, v))
	}

	results, err := g.Search(target, 5, 50, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint32(100), results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-4)
}

func TestSearchRespectsK(t *testing.T) {
	cfg := config.DefaultVectorConfig(8)
	g := New(cfg)
	r := rand.New(rand.NewSource(1))
	for i := uint32(0); i < 50; i++ {
		require.NoError(t, g.Insert(i, randomVector(r, 8)))
	}

	results, err := g.Search(randomVector(r, 8), 5, 50, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(results), 5)
}

func TestDeletedNodesExcludedFromResults(t *testing.T) {
	cfg := config.DefaultVectorConfig(8)
	g := New(cfg)
	r := rand.New(rand.NewSource(7))

	var target []float32
	for i := uint32(0); i < 100; i++ {
		v := randomVector(r, 8)
		if i == 10 {
			target = v
		}
		require.NoError(t, g.Insert(i, v))
	}
	require.True(t, g.Delete(10))

	results, err := g.Search(target, 10, 50, nil)
	require.NoError(t, err)
	for _, res := range results {
		assert.NotEqual(t, uint32(10), res.ID)
	}
}

func TestFilteredSearchOnlyReturnsMatchingIDs(t *testing.T) {
	cfg := config.DefaultVectorConfig(8)
	g := New(cfg)
	r := rand.New(rand.NewSource(3))
	for i := uint32(0); i < 100; i++ {
		require.NoError(t, g.Insert(i, randomVector(r, 8)))
	}

	allowed := roaring.New()
	allowed.AddMany([]uint32{1, 2, 3, 4, 5})

	results, err := g.Search(randomVector(r, 8), 20, 80, allowed)
	require.NoError(t, err)
	for _, res := range results {
		assert.True(t, allowed.Contains(res.ID))
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := config.DefaultVectorConfig(8)
	g := New(cfg)
	r := rand.New(rand.NewSource(9))
	for i := uint32(0); i < 30; i++ {
		require.NoError(t, g.Insert(i, randomVector(r, 8)))
	}

	data := g.Marshal()
	loaded, err := Load(data, cfg)
	require.NoError(t, err)
	assert.Equal(t, g.Len(), loaded.Len())

	query := randomVector(r, 8)
	want, err := g.Search(query, 5, 50, nil)
	require.NoError(t, err)
	got, err := loaded.Search(query, 5, 50, nil)
	require.NoError(t, err)
	require.Equal(t, len(want), len(got))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
	}
}

func TestTypedIndexSearchesAcrossTypes(t *testing.T) {
	cfg := config.DefaultVectorConfig(8)
	idx := NewTyped(cfg)
	r := rand.New(rand.NewSource(5))

	var target []float32
	for i := uint32(0); i < 50; i++ {
		v := randomVector(r, 8)
		if i == 25 {
			target = v
		}
		require.NoError(t, idx.Insert("person", i, v))
	}
	for i := uint32(100); i < 150; i++ {
		require.NoError(t, idx.Insert("document", i, randomVector(r, 8)))
	}

	results, err := idx.Search(context.Background(), nil, target, 3, 50, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint32(25), results[0].ID)

	scoped, err := idx.Search(context.Background(), []string{"document"}, target, 50, 80, nil)
	require.NoError(t, err)
	for _, res := range scoped {
		assert.GreaterOrEqual(t, res.ID, uint32(100))
	}
}

func TestCompactReclaimsDeletedSlots(t *testing.T) {
	cfg := config.DefaultVectorConfig(8)
	g := New(cfg)
	r := rand.New(rand.NewSource(11))
	for i := uint32(0); i < 40; i++ {
		require.NoError(t, g.Insert(i, randomVector(r, 8)))
	}
	for i := uint32(0); i < 20; i++ {
		g.Delete(i)
	}
	require.Equal(t, 20, g.Len())

	g.Compact()
	assert.Equal(t, 20, g.Len())
	for i := uint32(20); i < 40; i++ {
		assert.True(t, g.Contains(i))
	}
}

func TestInsertReplacesExistingVector(t *testing.T) {
	cfg := config.DefaultVectorConfig(4)
	g := New(cfg)
	require.NoError(t, g.Insert(1, []float32{1, 0, 0, 0}))
	require.NoError(t, g.Insert(1, []float32{0, 1, 0, 0}))
	assert.Equal(t, 1, g.Len())

	results, err := g.Search([]float32{0, 1, 0, 0}, 1, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0, results[0].Distance, 1e-4)
}

func TestManyInsertsBuildConnectedGraph(t *testing.T) {
	cfg := config.DefaultVectorConfig(12)
	cfg.EfConstruction = 64
	g := New(cfg)
	r := rand.New(rand.NewSource(99))
	for i := uint32(0); i < 500; i++ {
		require.NoError(t, g.Insert(i, randomVector(r, 12)))
	}
	assert.Equal(t, 500, g.Len())

	hits := 0
	for trial := 0; trial < 20; trial++ {
		results, err := g.Search(randomVector(r, 12), 10, 100, nil)
		require.NoError(t, err)
		if len(results) == 10 {
			hits++
		}
	}
	assert.Equal(t, 20, hits, fmt.Sprintf("expected every query to return k results, got %d/20 full", hits))
}
