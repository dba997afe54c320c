package hnsw

import (
	"context"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/noungraph/noungraph/internal/config"
)

// TypedIndex partitions vectors into one HNSW graph per noun type, so a
// type-scoped search never has to beam-search through vectors of types it
// will filter out anyway. An untyped search fans out across every type's
// graph concurrently and merges the results.
type TypedIndex struct {
	mu     sync.RWMutex
	cfg    config.VectorConfig
	graphs map[string]*Graph
}

// NewTyped returns an empty TypedIndex.
func NewTyped(cfg config.VectorConfig) *TypedIndex {
	return &TypedIndex{cfg: cfg, graphs: make(map[string]*Graph)}
}

func (t *TypedIndex) graphFor(typ string) *Graph {
	t.mu.Lock()
	defer t.mu.Unlock()
	g, ok := t.graphs[typ]
	if !ok {
		g = New(t.cfg)
		t.graphs[typ] = g
	}
	return g
}

// Insert adds id/vector to the graph for typ.
func (t *TypedIndex) Insert(typ string, id uint32, vector []float32) error {
	return t.graphFor(typ).Insert(id, vector)
}

// Delete removes id from typ's graph. Returns false if typ or id is unknown.
func (t *TypedIndex) Delete(typ string, id uint32) bool {
	t.mu.RLock()
	g, ok := t.graphs[typ]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return g.Delete(id)
}

// Search runs a query against the graphs of the given types (unknown types
// are skipped). If types is empty, every graph is searched. When more than
// one graph is searched they run concurrently and results are merged by
// distance.
func (t *TypedIndex) Search(ctx context.Context, types []string, query []float32, k, ef int, filter *roaring.Bitmap) ([]SearchResult, error) {
	t.mu.RLock()
	var targets []*Graph
	if len(types) == 0 {
		for _, g := range t.graphs {
			targets = append(targets, g)
		}
	} else {
		for _, typ := range types {
			if g, ok := t.graphs[typ]; ok {
				targets = append(targets, g)
			}
		}
	}
	t.mu.RUnlock()

	if len(targets) == 0 {
		return nil, nil
	}
	if len(targets) == 1 {
		return targets[0].Search(query, k, ef, filter)
	}

	perGraph := make([][]SearchResult, len(targets))
	group, _ := errgroup.WithContext(ctx)
	for i, g := range targets {
		i, g := i, g
		group.Go(func() error {
			res, err := g.Search(query, k, ef, filter)
			if err != nil {
				return err
			}
			perGraph[i] = res
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var merged []SearchResult
	for _, res := range perGraph {
		merged = append(merged, res...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged, nil
}

// Types returns the set of noun types currently indexed.
func (t *TypedIndex) Types() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.graphs))
	for typ := range t.graphs {
		out = append(out, typ)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of live vectors across every type.
func (t *TypedIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, g := range t.graphs {
		total += g.Len()
	}
	return total
}

// SnapshotType serializes typ's graph via Graph.Marshal, or returns nil if
// typ has never been indexed.
func (t *TypedIndex) SnapshotType(typ string) []byte {
	t.mu.RLock()
	g, ok := t.graphs[typ]
	t.mu.RUnlock()
	if !ok {
		return nil
	}
	return g.Marshal()
}

// LoadType restores typ's graph from a snapshot produced by SnapshotType,
// replacing any in-memory graph already held for typ.
func (t *TypedIndex) LoadType(typ string, data []byte) error {
	g, err := Load(data, t.cfg)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.graphs[typ] = g
	t.mu.Unlock()
	return nil
}
