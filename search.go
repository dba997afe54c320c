package noungraph

import (
	"context"
)

// SearchOptions configures Search.
type SearchOptions struct {
	// Types restricts the search to these noun types; empty searches every
	// type and merges results.
	Types []string
	// K is the number of results to return.
	K int
	// Ef is the beam width; if less than K it is raised to K. Zero selects
	// the engine's configured default (Config.Vector.EfSearch).
	Ef int
	// Filters is a conjunction of field=value equality predicates: a noun
	// must match every one to appear in results. The beam search still
	// traverses through non-matching nodes to reach ones that do match,
	// deeper in the graph.
	Filters []Predicate
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID       string
	Distance float32
}

// Search runs an approximate nearest-neighbor query against the vector
// index, optionally scoped to one or more noun types and/or filtered by a
// metadata equality predicate.
func (e *Engine) Search(ctx context.Context, query []float32, opts SearchOptions) ([]SearchResult, error) {
	ef := opts.Ef
	if ef == 0 {
		ef = e.cfg.Vector.EfSearch
	}
	filter := e.resolvePredicates(opts.Filters)

	hits, err := e.vectors.Search(ctx, opts.Types, query, opts.K, ef, filter)
	if err != nil {
		return nil, err
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		strID, ok := e.nounIDs.GetString(h.ID)
		if !ok {
			continue // id retired between the search and this translation step
		}
		out = append(out, SearchResult{ID: strID, Distance: h.Distance})
	}
	return out, nil
}
