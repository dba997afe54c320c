// Package hnsw implements a hierarchical navigable small world graph for
// approximate nearest-neighbor search over embedding vectors. Nodes live in
// an arena indexed by a dense uint32 slot rather than a pointer graph, so
// the whole structure can be snapshotted and reloaded as a flat byte
// buffer. Deletes are lazy (a node is marked, not unlinked) because
// removing a node's edges synchronously would require rebuilding every
// neighbor's neighbor list under the single-writer lock.
package hnsw

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"

	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"

	"github.com/noungraph/noungraph/internal/config"
	nerrors "github.com/noungraph/noungraph/internal/errors"
)

// node is one arena slot. A zero-value node (no vector) is an unused slot.
type node struct {
	id        uint32 // caller-facing entity id
	vector    []float32
	level     int
	neighbors [][]uint32 // neighbors[level] = arena slot indices
	deleted   bool
}

// Graph is a single HNSW index over fixed-dimension vectors.
type Graph struct {
	mu sync.RWMutex

	cfg config.VectorConfig
	rng *rand.Rand

	arena      []node
	slotOf     map[uint32]uint32 // entity id -> arena slot
	entryPoint int32              // arena slot, -1 if empty
	maxLevel   int
	liveCount  int
}

// New returns an empty Graph configured per cfg.
func New(cfg config.VectorConfig) *Graph {
	return &Graph{
		cfg:        cfg,
		rng:        rand.New(rand.NewSource(1)),
		slotOf:     make(map[uint32]uint32),
		entryPoint: -1,
	}
}

// SearchResult is one ranked hit from Search.
type SearchResult struct {
	ID       uint32
	Distance float32
}

// distance computes the configured metric between two vectors of equal
// dimension. Cosine distance is 1 - cosine similarity; Euclidean is the
// plain L2 norm of the difference.
func (g *Graph) distance(a, b []float32) float32 {
	switch g.cfg.Metric {
	case "euclidean":
		diff := vek32.Sub(a, b)
		return math32.Sqrt(vek32.Dot(diff, diff))
	default: // cosine
		dot := vek32.Dot(a, b)
		na := math32.Sqrt(vek32.Dot(a, a))
		nb := math32.Sqrt(vek32.Dot(b, b))
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot/(na*nb)
	}
}

// randomLevel samples an insertion level via the standard HNSW exponential
// distribution with decay factor cfg.ML.
func (g *Graph) randomLevel() int {
	level := 0
	for g.rng.Float64() < math.Exp(-1/g.cfg.ML) && level < 32 {
		level++
	}
	return level
}

// Insert adds (or, for an existing id, replaces) a vector in the graph.
// Dimension mismatches are rejected as a Permanent error rather than
// silently truncated or padded.
func (g *Graph) Insert(id uint32, vector []float32) error {
	if len(vector) != g.cfg.Dimensions {
		return dimensionError(g.cfg.Dimensions, len(vector))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if slot, ok := g.slotOf[id]; ok {
		g.arena[slot].vector = append([]float32(nil), vector...)
		g.arena[slot].deleted = false
		return nil
	}

	level := g.randomLevel()
	slot := uint32(len(g.arena))
	g.arena = append(g.arena, node{
		id:        id,
		vector:    append([]float32(nil), vector...),
		level:     level,
		neighbors: make([][]uint32, level+1),
	})
	g.slotOf[id] = slot
	g.liveCount++

	if g.entryPoint == -1 {
		g.entryPoint = int32(slot)
		g.maxLevel = level
		return nil
	}

	g.insertIntoGraph(slot, level)
	if level > g.maxLevel {
		g.entryPoint = int32(slot)
		g.maxLevel = level
	}
	return nil
}

// insertIntoGraph links a freshly-appended slot into the existing graph
// across every level from maxLevel down to 0, per the HNSW construction
// algorithm: greedy descent above the node's own level, beam search with
// heuristic neighbor selection at and below it.
func (g *Graph) insertIntoGraph(slot uint32, level int) {
	entry := uint32(g.entryPoint)
	vector := g.arena[slot].vector

	for lc := g.maxLevel; lc > level; lc-- {
		entry = g.greedyClosest(entry, vector, lc)
	}

	candidates := []uint32{entry}
	for lc := min(level, g.maxLevel); lc >= 0; lc-- {
		found := g.searchLayer(vector, candidates, g.cfg.EfConstruction, lc, nil)
		m := g.cfg.M
		if lc == 0 {
			m = g.cfg.MMax0
		}
		selected := g.selectNeighborsHeuristic(vector, found, m)
		g.arena[slot].neighbors[lc] = selected

		for _, nbSlot := range selected {
			g.addNeighbor(nbSlot, slot, lc, m)
		}
		candidates = found
	}
}

// addNeighbor links slot as a neighbor of nbSlot at level lc, pruning
// nbSlot's neighbor list back down to maxNeighbors via the same heuristic
// used during insertion if it would otherwise overflow.
func (g *Graph) addNeighbor(nbSlot, slot uint32, lc, maxNeighbors int) {
	nb := &g.arena[nbSlot]
	if lc >= len(nb.neighbors) {
		return
	}
	nb.neighbors[lc] = append(nb.neighbors[lc], slot)
	if len(nb.neighbors[lc]) > maxNeighbors {
		nb.neighbors[lc] = g.selectNeighborsHeuristic(nb.vector, nb.neighbors[lc], maxNeighbors)
	}
}

// greedyClosest walks from entry toward the closest node to vector at
// level lc, one hop at a time, until no neighbor improves on the current
// node (used above the beam-search layer where a single best path is
// enough to find a good entry point into the next level down).
func (g *Graph) greedyClosest(entry uint32, vector []float32, lc int) uint32 {
	current := entry
	currentDist := g.distance(vector, g.arena[current].vector)
	for {
		improved := false
		if lc < len(g.arena[current].neighbors) {
			for _, nb := range g.arena[current].neighbors[lc] {
				d := g.distance(vector, g.arena[nb].vector)
				if d < currentDist {
					current = nb
					currentDist = d
					improved = true
				}
			}
		}
		if !improved {
			return current
		}
	}
}

// candidate pairs an arena slot with its distance to the query, used as
// the unit of work in both the beam-search frontier and the result heap.
type candidate struct {
	slot uint32
	dist float32
}

// searchLayer runs a best-first beam search at level lc starting from
// entryPoints, expanding through every neighbor (including ones that a
// filter would exclude, since they may be the only bridge to a result
// that does pass the filter) and returns up to ef candidate slots ordered
// by distance, with filtered-out nodes still present in the return value
// (their removal from results happens one layer up, in Search).
func (g *Graph) searchLayer(vector []float32, entryPoints []uint32, ef int, lc int, visited map[uint32]bool) []uint32 {
	if visited == nil {
		visited = make(map[uint32]bool)
	}
	candidates := make([]candidate, 0, len(entryPoints))
	var results []candidate

	for _, ep := range entryPoints {
		if visited[ep] {
			continue
		}
		visited[ep] = true
		d := g.distance(vector, g.arena[ep].vector)
		candidates = append(candidates, candidate{ep, d})
		results = append(results, candidate{ep, d})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]

		worst := farthest(results)
		if len(results) >= ef && c.dist > worst {
			break
		}

		if lc >= len(g.arena[c.slot].neighbors) {
			continue
		}
		for _, nbSlot := range g.arena[c.slot].neighbors[lc] {
			if visited[nbSlot] {
				continue
			}
			visited[nbSlot] = true
			d := g.distance(vector, g.arena[nbSlot].vector)
			if len(results) < ef || d < farthest(results) {
				candidates = append(candidates, candidate{nbSlot, d})
				results = append(results, candidate{nbSlot, d})
				sort.Slice(candidates, func(i, j int) bool { return candidates[i].dist < candidates[j].dist })
				if len(results) > ef {
					sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
					results = results[:ef]
				}
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].dist < results[j].dist })
	out := make([]uint32, len(results))
	for i, r := range results {
		out[i] = r.slot
	}
	return out
}

func farthest(results []candidate) float32 {
	var worst float32
	for _, r := range results {
		if r.dist > worst {
			worst = r.dist
		}
	}
	return worst
}

// selectNeighborsHeuristic implements the HNSW paper's heuristic neighbor
// selection: greedily keep a candidate only if it is closer to the query
// than to every neighbor already selected, which favors spread over raw
// proximity and keeps the graph navigable.
func (g *Graph) selectNeighborsHeuristic(vector []float32, candidates []uint32, m int) []uint32 {
	type scored struct {
		slot uint32
		dist float32
	}
	pool := make([]scored, len(candidates))
	for i, c := range candidates {
		pool[i] = scored{c, g.distance(vector, g.arena[c].vector)}
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].dist < pool[j].dist })

	var selected []scored
	for _, cand := range pool {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if g.distance(g.arena[cand.slot].vector, g.arena[s.slot].vector) < cand.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, cand)
		}
	}
	out := make([]uint32, len(selected))
	for i, s := range selected {
		out[i] = s.slot
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func dimensionError(expected, got int) error {
	return nerrors.New("hnsw", nerrors.CodeDimensionMismatch,
		"vector dimension does not match index configuration", nil).
		WithDetail("expected", strconv.Itoa(expected)).WithDetail("got", strconv.Itoa(got))
}
