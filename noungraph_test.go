package noungraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noungraph/noungraph/internal/config"
	"github.com/noungraph/noungraph/internal/storage"
	"github.com/noungraph/noungraph/internal/txn"
)

func newTestEngine(t *testing.T, dimensions int) *Engine {
	t.Helper()
	cfg := config.Default(dimensions)
	e, err := New(context.Background(), storage.NewMemoryAdapter(), cfg)
	require.NoError(t, err)
	return e
}

func vec(xs ...float32) []float32 { return xs }

func TestAddAndGetNoun(t *testing.T) {
	e := newTestEngine(t, 3)
	ctx := context.Background()

	id, err := e.AddNoun(ctx, "document", vec(1, 0, 0), map[string]Value{"lang": StringValue("en")})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	noun, err := e.GetNoun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "document", noun.Type)
	assert.Equal(t, "en", noun.Metadata["lang"].Str)
}

func TestAddNounRejectsWrongDimension(t *testing.T) {
	e := newTestEngine(t, 3)
	_, err := e.AddNoun(context.Background(), "document", vec(1, 0), nil)
	require.Error(t, err)
}

func TestDeleteNounRemovesFromSearch(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	id, err := e.AddNoun(ctx, "document", vec(1, 0), nil)
	require.NoError(t, err)

	require.NoError(t, e.DeleteNoun(ctx, id))

	_, err = e.GetNoun(ctx, id)
	require.Error(t, err)

	results, err := e.Search(ctx, vec(1, 0), SearchOptions{K: 5})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, id, r.ID)
	}
}

func TestUpdateNounReindexesMetadata(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	id, err := e.AddNoun(ctx, "document", vec(1, 0), map[string]Value{"lang": StringValue("en")})
	require.NoError(t, err)

	require.NoError(t, e.UpdateNoun(ctx, id, nil, map[string]Value{"lang": StringValue("fr")}))

	matches := e.nounFilterBitmap("lang", "fr")
	nounInt, ok := e.nounIDs.GetInt(id)
	require.True(t, ok)
	assert.True(t, matches.Contains(nounInt))

	stale := e.nounFilterBitmap("lang", "en")
	assert.False(t, stale.Contains(nounInt))
}

func TestSearchFiltersByMetadata(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	_, err := e.AddNoun(ctx, "document", vec(1, 0), map[string]Value{"lang": StringValue("en")})
	require.NoError(t, err)
	frID, err := e.AddNoun(ctx, "document", vec(0.9, 0.1), map[string]Value{"lang": StringValue("fr")})
	require.NoError(t, err)

	results, err := e.Search(ctx, vec(1, 0), SearchOptions{K: 10, Filters: []Predicate{{Field: "lang", Value: "fr"}}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, frID, results[0].ID)
}

func TestSearchFiltersByMultiplePredicates(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	_, err := e.AddNoun(ctx, "document", vec(1, 0), map[string]Value{
		"lang": StringValue("fr"), "status": StringValue("draft"),
	})
	require.NoError(t, err)
	published, err := e.AddNoun(ctx, "document", vec(0.9, 0.1), map[string]Value{
		"lang": StringValue("fr"), "status": StringValue("published"),
	})
	require.NoError(t, err)

	results, err := e.Search(ctx, vec(1, 0), SearchOptions{K: 10, Filters: []Predicate{
		{Field: "lang", Value: "fr"},
		{Field: "status", Value: "published"},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, published, results[0].ID)
}

func TestAddVerbDistinctWeightsDoNotCollide(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	a, err := e.AddNoun(ctx, "document", vec(1, 0), nil)
	require.NoError(t, err)
	b, err := e.AddNoun(ctx, "document", vec(0, 1), nil)
	require.NoError(t, err)

	first, err := e.AddVerb(ctx, a, b, "cites", 1.0, nil)
	require.NoError(t, err)
	second, err := e.AddVerb(ctx, a, b, "cites", 2.0, nil)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	v1, err := e.GetVerb(ctx, first)
	require.NoError(t, err)
	v2, err := e.GetVerb(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v1.Weight)
	assert.Equal(t, 2.0, v2.Weight)

	neighbours, err := e.Neighbours(ctx, a, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{b}, neighbours, "both edges should still resolve to the same reachable neighbour")

	require.NoError(t, e.DeleteVerb(ctx, first))
	_, err = e.GetVerb(ctx, second)
	require.NoError(t, err, "deleting one edge between a pair must not remove the other")
}

func TestAddVerbRequiresExistingEndpoints(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	a, err := e.AddNoun(ctx, "document", vec(1, 0), nil)
	require.NoError(t, err)

	_, err = e.AddVerb(ctx, a, "does-not-exist", "cites", 1, nil)
	require.Error(t, err)
}

func TestAddVerbAndNeighbours(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	a, err := e.AddNoun(ctx, "document", vec(1, 0), nil)
	require.NoError(t, err)
	b, err := e.AddNoun(ctx, "document", vec(0, 1), nil)
	require.NoError(t, err)
	c, err := e.AddNoun(ctx, "document", vec(1, 1), nil)
	require.NoError(t, err)

	verbID, err := e.AddVerb(ctx, a, b, "cites", 1.0, map[string]Value{"section": StringValue("intro")})
	require.NoError(t, err)
	_, err = e.AddVerb(ctx, b, c, "cites", 1.0, nil)
	require.NoError(t, err)

	verb, err := e.GetVerb(ctx, verbID)
	require.NoError(t, err)
	assert.Equal(t, a, verb.Source)
	assert.Equal(t, b, verb.Target)

	oneHop, err := e.Neighbours(ctx, a, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{b}, oneHop)

	twoHop, err := e.Neighbours(ctx, a, 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{b, c}, twoHop)
}

func TestDeleteVerbRemovesEdge(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	a, err := e.AddNoun(ctx, "document", vec(1, 0), nil)
	require.NoError(t, err)
	b, err := e.AddNoun(ctx, "document", vec(0, 1), nil)
	require.NoError(t, err)

	verbID, err := e.AddVerb(ctx, a, b, "cites", 1.0, nil)
	require.NoError(t, err)

	require.NoError(t, e.DeleteVerb(ctx, verbID))

	neighbours, err := e.Neighbours(ctx, a, 1)
	require.NoError(t, err)
	assert.Empty(t, neighbours)

	_, err = e.GetVerb(ctx, verbID)
	require.Error(t, err)
}

func TestShortestPathWeighted(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	a, _ := e.AddNoun(ctx, "n", vec(0, 0), nil)
	b, _ := e.AddNoun(ctx, "n", vec(1, 0), nil)
	c, _ := e.AddNoun(ctx, "n", vec(2, 0), nil)
	d, _ := e.AddNoun(ctx, "n", vec(3, 0), nil)

	_, err := e.AddVerb(ctx, a, b, "link", 1, nil)
	require.NoError(t, err)
	_, err = e.AddVerb(ctx, b, d, "link", 1, nil)
	require.NoError(t, err)
	_, err = e.AddVerb(ctx, a, c, "link", 10, nil)
	require.NoError(t, err)
	_, err = e.AddVerb(ctx, c, d, "link", 1, nil)
	require.NoError(t, err)

	path, cost, found, err := e.ShortestPath(ctx, a, d, ShortestPathOptions{Weighted: true})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2.0, cost)
	assert.Equal(t, []string{a, b, d}, path)
}

func TestPageRankRanksHubHigher(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	hub, _ := e.AddNoun(ctx, "n", vec(0, 0), nil)
	a, _ := e.AddNoun(ctx, "n", vec(1, 0), nil)
	b, _ := e.AddNoun(ctx, "n", vec(2, 0), nil)

	_, err := e.AddVerb(ctx, a, hub, "link", 1, nil)
	require.NoError(t, err)
	_, err = e.AddVerb(ctx, b, hub, "link", 1, nil)
	require.NoError(t, err)
	_, err = e.AddVerb(ctx, hub, a, "link", 1, nil)
	require.NoError(t, err)

	scores, err := e.PageRank(ctx, "n", PageRankOptions{})
	require.NoError(t, err)
	assert.Greater(t, scores[hub], scores[b])
}

func TestTransactRollsBackOnFailure(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	applied := false
	good := opFunc{"good", func(ctx context.Context) (txn.Rollback, error) {
		applied = true
		return func(ctx context.Context) error { applied = false; return nil }, nil
	}}
	bad := opFunc{"bad", func(ctx context.Context) (txn.Rollback, error) {
		return nil, assertError{"boom"}
	}}

	err := e.Transact(ctx, good, bad)
	require.Error(t, err)
	assert.False(t, applied)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }

func TestPrefetchIsNoOpWithoutCache(t *testing.T) {
	e := newTestEngine(t, 2)
	err := e.Prefetch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
}

func TestStatsReportsCounts(t *testing.T) {
	e := newTestEngine(t, 2)
	ctx := context.Background()

	_, err := e.AddNoun(ctx, "document", vec(1, 0), nil)
	require.NoError(t, err)

	stats := e.Stats()
	assert.Equal(t, 1, stats.NounCount)
	assert.Equal(t, 1, stats.VectorLen)
	assert.Contains(t, stats.String(), "1 nouns")
}
