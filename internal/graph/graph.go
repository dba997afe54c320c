// Package graph implements traversal algorithms over the verb adjacency
// data the LSM tree stores: bounded-hop neighbour expansion, shortest path
// (unweighted BFS or weighted Dijkstra), and PageRank. It operates on an
// Adjacency view rather than owning storage itself, so it can run over the
// LSM tree's live data without a separate copy.
package graph

import (
	"container/heap"

	"github.com/RoaringBitmap/roaring/v2"
)

// Edge is one directed, typed, weighted relationship from a source entity.
type Edge struct {
	Target uint32
	Type   string
	Weight float64
}

// Adjacency exposes the out-edges of a given entity id, typically backed by
// a range scan over the LSM tree keyed by source id.
type Adjacency interface {
	OutEdges(id uint32) []Edge
}

// Neighbours returns every entity reachable from start within hops hops,
// optionally restricted to ids present in filter (a nil filter matches
// everything). The traversal still walks through filtered-out nodes to
// reach filtered-in ones beyond them, matching the same "filter narrows
// the result set, not the search frontier" rule the vector index uses.
func Neighbours(adj Adjacency, start uint32, hops int, filter *roaring.Bitmap) []uint32 {
	visited := map[uint32]bool{start: true}
	frontier := []uint32{start}
	var result []uint32

	for h := 0; h < hops; h++ {
		var next []uint32
		for _, id := range frontier {
			for _, e := range adj.OutEdges(id) {
				if visited[e.Target] {
					continue
				}
				visited[e.Target] = true
				next = append(next, e.Target)
				if filter == nil || filter.Contains(e.Target) {
					result = append(result, e.Target)
				}
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return result
}

// ShortestPathOptions configures ShortestPath.
type ShortestPathOptions struct {
	// Weighted selects Dijkstra (true) over unweighted BFS (false).
	Weighted bool
	// MaxHops bounds BFS depth (ignored for Dijkstra, which stops when the
	// target is popped from the priority queue).
	MaxHops int
}

// ShortestPath finds a path from start to goal. Returns (path, totalCost,
// found). For unweighted BFS, totalCost is the hop count.
func ShortestPath(adj Adjacency, start, goal uint32, opts ShortestPathOptions) ([]uint32, float64, bool) {
	if start == goal {
		return []uint32{start}, 0, true
	}
	if opts.Weighted {
		return dijkstra(adj, start, goal)
	}
	return bfs(adj, start, goal, opts.MaxHops)
}

func bfs(adj Adjacency, start, goal uint32, maxHops int) ([]uint32, float64, bool) {
	type queued struct {
		id   uint32
		path []uint32
	}
	visited := map[uint32]bool{start: true}
	queue := []queued{{start, []uint32{start}}}

	for depth := 0; len(queue) > 0; depth++ {
		if maxHops > 0 && depth >= maxHops {
			return nil, 0, false
		}
		var nextQueue []queued
		for _, q := range queue {
			for _, e := range adj.OutEdges(q.id) {
				if visited[e.Target] {
					continue
				}
				visited[e.Target] = true
				path := append(append([]uint32(nil), q.path...), e.Target)
				if e.Target == goal {
					return path, float64(len(path) - 1), true
				}
				nextQueue = append(nextQueue, queued{e.Target, path})
			}
		}
		queue = nextQueue
	}
	return nil, 0, false
}

// pqItem is one entry in Dijkstra's priority queue.
type pqItem struct {
	id   uint32
	cost float64
	path []uint32
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].cost < pq[j].cost }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(*pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

func dijkstra(adj Adjacency, start, goal uint32) ([]uint32, float64, bool) {
	dist := map[uint32]float64{start: 0}
	pq := &priorityQueue{{id: start, cost: 0, path: []uint32{start}}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(*pqItem)
		if item.id == goal {
			return item.path, item.cost, true
		}
		if d, ok := dist[item.id]; ok && item.cost > d {
			continue // stale entry, a cheaper path to item.id was already processed
		}
		for _, e := range adj.OutEdges(item.id) {
			newCost := item.cost + e.Weight
			if d, ok := dist[e.Target]; ok && newCost >= d {
				continue
			}
			dist[e.Target] = newCost
			newPath := append(append([]uint32(nil), item.path...), e.Target)
			heap.Push(pq, &pqItem{id: e.Target, cost: newCost, path: newPath})
		}
	}
	return nil, 0, false
}

// PageRankOptions configures PageRank.
type PageRankOptions struct {
	Damping    float64
	Iterations int
	Epsilon    float64 // stop early once the max per-node delta falls below this
}

// DefaultPageRankOptions returns damping 0.85, 20 iterations, epsilon 1e-6.
func DefaultPageRankOptions() PageRankOptions {
	return PageRankOptions{Damping: 0.85, Iterations: 20, Epsilon: 1e-6}
}

// PageRank computes PageRank scores over the node set nodes (every node
// whose score should be computed; nodes with no in-edges from this set
// still receive their share of the damping term) via power iteration.
func PageRank(adj Adjacency, nodes []uint32, opts PageRankOptions) map[uint32]float64 {
	n := len(nodes)
	if n == 0 {
		return nil
	}

	outDegree := make(map[uint32]int, n)
	inEdges := make(map[uint32][]uint32, n)
	for _, id := range nodes {
		edges := adj.OutEdges(id)
		outDegree[id] = len(edges)
		for _, e := range edges {
			inEdges[e.Target] = append(inEdges[e.Target], id)
		}
	}

	scores := make(map[uint32]float64, n)
	for _, id := range nodes {
		scores[id] = 1.0 / float64(n)
	}

	base := (1 - opts.Damping) / float64(n)

	for iter := 0; iter < opts.Iterations; iter++ {
		next := make(map[uint32]float64, n)
		danglingMass := 0.0
		for _, id := range nodes {
			if outDegree[id] == 0 {
				danglingMass += scores[id]
			}
		}
		danglingShare := opts.Damping * danglingMass / float64(n)

		maxDelta := 0.0
		for _, id := range nodes {
			sum := 0.0
			for _, src := range inEdges[id] {
				if outDegree[src] > 0 {
					sum += scores[src] / float64(outDegree[src])
				}
			}
			v := base + opts.Damping*sum + danglingShare
			next[id] = v
			if d := v - scores[id]; d > maxDelta || -d > maxDelta {
				maxDelta = absFloat(d)
			}
		}
		scores = next
		if opts.Epsilon > 0 && maxDelta < opts.Epsilon {
			break
		}
	}

	return scores
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
