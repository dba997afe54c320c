package hnsw

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
)

// Search returns up to k nearest neighbors of query. If filter is non-nil,
// only entity ids present in filter are returned — but the beam search
// still traverses through non-matching nodes along the way, since a
// filtered-out node may be the only bridge to a filtered-in one deeper in
// the graph. ef controls the search beam width (larger ef trades latency
// for recall); if ef < k it is raised to k.
func (g *Graph) Search(query []float32, k int, ef int, filter *roaring.Bitmap) ([]SearchResult, error) {
	if len(query) != g.cfg.Dimensions {
		return nil, dimensionError(g.cfg.Dimensions, len(query))
	}
	if ef < k {
		ef = k
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entryPoint == -1 {
		return nil, nil
	}

	entry := uint32(g.entryPoint)
	for lc := g.maxLevel; lc > 0; lc-- {
		entry = g.greedyClosest(entry, query, lc)
	}

	candidateSlots := g.searchLayer(query, []uint32{entry}, ef, 0, nil)

	results := make([]SearchResult, 0, len(candidateSlots))
	for _, slot := range candidateSlots {
		n := &g.arena[slot]
		if n.deleted {
			continue
		}
		if filter != nil && !filter.Contains(n.id) {
			continue
		}
		results = append(results, SearchResult{ID: n.id, Distance: g.distance(query, n.vector)})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete lazily marks id as removed: it stops appearing in Search results
// immediately, but its arena slot and edges stay in place until the next
// full rebuild (Compact), since unlinking it synchronously would require
// rewriting every one of its neighbors' neighbor lists under the write
// lock for no benefit to correctness.
func (g *Graph) Delete(id uint32) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	slot, ok := g.slotOf[id]
	if !ok || g.arena[slot].deleted {
		return false
	}
	g.arena[slot].deleted = true
	g.liveCount--
	return true
}

// Contains reports whether id is present and not deleted.
func (g *Graph) Contains(id uint32) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	slot, ok := g.slotOf[id]
	return ok && !g.arena[slot].deleted
}

// Len returns the number of live (non-deleted) vectors.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.liveCount
}

// Compact rebuilds the graph from scratch using only its live vectors,
// reclaiming arena slots held by deleted nodes. Call periodically; it is
// not run implicitly because it briefly blocks every reader.
func (g *Graph) Compact() {
	g.mu.Lock()
	type kept struct {
		id     uint32
		vector []float32
	}
	var live []kept
	for _, n := range g.arena {
		if !n.deleted && n.vector != nil {
			live = append(live, kept{n.id, n.vector})
		}
	}
	cfg := g.cfg
	g.mu.Unlock()

	fresh := New(cfg)
	for _, k := range live {
		_ = fresh.Insert(k.id, k.vector)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.arena = fresh.arena
	g.slotOf = fresh.slotOf
	g.entryPoint = fresh.entryPoint
	g.maxLevel = fresh.maxLevel
	g.liveCount = fresh.liveCount
}
