package noungraph

import (
	"context"

	nerrors "github.com/noungraph/noungraph/internal/errors"
	"github.com/noungraph/noungraph/internal/graph"
)

// Neighbours returns the string ids of every noun reachable from start
// within hops hops of verb traversal. filters, if non-empty, is a
// conjunction of field=value predicates: only ids matching every predicate
// are returned, though the traversal still walks through non-matching
// nouns to reach matching ones beyond them.
func (e *Engine) Neighbours(ctx context.Context, start string, hops int, filters ...Predicate) ([]string, error) {
	startInt, ok := e.nounIDs.GetInt(start)
	if !ok {
		return nil, nerrors.NotFound("noungraph", "no such noun: "+start)
	}
	filter := e.resolvePredicates(filters)

	ids := graph.Neighbours(engineAdjacency{ctx, e}, startInt, hops, filter)
	return e.intIDsToStrings(ids), nil
}

// ShortestPathOptions configures ShortestPath.
type ShortestPathOptions struct {
	// Weighted selects Dijkstra over verb weight instead of unweighted BFS.
	Weighted bool
	MaxHops  int
}

// ShortestPath finds a path between two nouns. found is false if goal is
// unreachable from start within the given bound.
func (e *Engine) ShortestPath(ctx context.Context, start, goal string, opts ShortestPathOptions) (path []string, cost float64, found bool, err error) {
	startInt, ok := e.nounIDs.GetInt(start)
	if !ok {
		return nil, 0, false, nerrors.NotFound("noungraph", "no such noun: "+start)
	}
	goalInt, ok := e.nounIDs.GetInt(goal)
	if !ok {
		return nil, 0, false, nerrors.NotFound("noungraph", "no such noun: "+goal)
	}

	idPath, cost, found := graph.ShortestPath(engineAdjacency{ctx, e}, startInt, goalInt, graph.ShortestPathOptions{
		Weighted: opts.Weighted,
		MaxHops:  opts.MaxHops,
	})
	if !found {
		return nil, 0, false, nil
	}
	return e.intIDsToStrings(idPath), cost, true, nil
}

// PageRankOptions configures PageRank.
type PageRankOptions struct {
	Damping    float64
	Iterations int
	Epsilon    float64
}

// PageRank computes PageRank scores over every noun of the given type (or
// every noun, if typ is empty) using only verb edges between them.
func (e *Engine) PageRank(ctx context.Context, typ string, opts PageRankOptions) (map[string]float64, error) {
	nodes, err := e.nodeIDsForType(typ)
	if err != nil {
		return nil, err
	}

	gOpts := graph.DefaultPageRankOptions()
	if opts.Damping > 0 {
		gOpts.Damping = opts.Damping
	}
	if opts.Iterations > 0 {
		gOpts.Iterations = opts.Iterations
	}
	if opts.Epsilon > 0 {
		gOpts.Epsilon = opts.Epsilon
	}

	scores := graph.PageRank(engineAdjacency{ctx, e}, nodes, gOpts)
	out := make(map[string]float64, len(scores))
	for id, score := range scores {
		if strID, ok := e.nounIDs.GetString(id); ok {
			out[strID] = score
		}
	}
	return out, nil
}

// nodeIDsForType returns every live int id of the given noun type, or
// every live id if typ is empty. PageRank needs the full node set up
// front since dangling-mass redistribution depends on knowing it.
func (e *Engine) nodeIDsForType(typ string) ([]uint32, error) {
	if typ == "" {
		return e.nounIDs.AllLive(), nil
	}
	bm := e.typeIndexFor(typ).Lookup(typ)
	out := make([]uint32, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, it.Next())
	}
	return out, nil
}

func (e *Engine) intIDsToStrings(ids []uint32) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := e.nounIDs.GetString(id); ok {
			out = append(out, s)
		}
	}
	return out
}
