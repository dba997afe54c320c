// Package chunkindex implements the metadata posting-list index: for every
// (field, value) pair it keeps a roaring bitmap of the entity ids that have
// that value, split across chunks as the value cardinality grows so that a
// single hot value never forces one giant bitmap to be rewritten on every
// update. Each chunk carries its own zone map (min/max value, count,
// hasNulls) and bloom filter so a lookup can skip a chunk without scanning
// its postings, the same two-stage narrowing internal/sstable uses for
// on-disk tables.
package chunkindex

import (
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/noungraph/noungraph/internal/bloom"
	"github.com/noungraph/noungraph/internal/config"
)

// nullTerm is a sentinel posting-list key representing "field is present
// but null". It sorts before every legitimate value (leading NUL bytes),
// so it always lands in the leftmost chunk and a chunk's hasNulls flag is
// just "does this chunk's postings map have this key".
const nullTerm = "\x00__null__\x00"

// chunk holds the postings for a contiguous, sorted run of distinct values
// of one field (the sparse-index directory's unit of storage), plus the
// zone map and bloom filter used to decide whether a lookup needs to open
// it at all.
type chunk struct {
	id       uint64
	minValue string
	maxValue string
	count    int // total id registrations across every value in this chunk
	hasNulls bool
	filter   *bloom.Filter
	postings map[string]*roaring.Bitmap
}

func (c *chunk) size() int { return len(c.postings) }

// Index is a chunked, per-field posting-list index over exact metadata
// values. One Index instance covers a single field name.
type Index struct {
	mu          sync.RWMutex
	field       string
	cfg         config.MetadataConfig
	bloomCfg    config.BloomConfig
	chunks      []*chunk // sorted by minValue
	nextChunkID uint64
	dirty       map[*chunk]bool // chunks touched since the last Flush
}

// New returns an empty Index for field.
func New(field string, cfg config.MetadataConfig, bloomCfg config.BloomConfig) *Index {
	idx := &Index{
		field:    field,
		cfg:      cfg,
		bloomCfg: bloomCfg,
		dirty:    make(map[*chunk]bool),
	}
	idx.chunks = []*chunk{idx.newChunk()}
	return idx
}

func (idx *Index) newChunk() *chunk {
	c := &chunk{
		id:       idx.nextChunkID,
		filter:   bloom.New(idx.cfg.TargetChunkSize, idx.bloomCfg.TargetFPR),
		postings: make(map[string]*roaring.Bitmap),
	}
	idx.nextChunkID++
	return c
}

// Add records that entity id has the given value for this index's field.
func (idx *Index) Add(value string, id uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c := idx.chunkFor(value)
	bm, ok := c.postings[value]
	if !ok {
		bm = roaring.New()
		c.postings[value] = bm
		c.filter.Add([]byte(value))
	}
	bm.Add(id)
	idx.updateBounds(c)
	idx.dirty[c] = true

	if c.size() > idx.cfg.SplitThreshold {
		idx.split(c)
	}
}

// AddNull records that entity id has an explicit null for this index's
// field, via the nullTerm sentinel posting list.
func (idx *Index) AddNull(id uint32) { idx.Add(nullTerm, id) }

// RemoveNull retracts a previously recorded null for id.
func (idx *Index) RemoveNull(id uint32) { idx.Remove(nullTerm, id) }

// LookupNull returns the set of entity ids with an explicit null for this
// field.
func (idx *Index) LookupNull() *roaring.Bitmap { return idx.Lookup(nullTerm) }

// Remove drops id from value's posting list. An empty posting list is left
// in place (not removed) to avoid an update-that-didn't-exist surprising a
// subsequent Add; chunk merging below the merge threshold is handled by
// Compact.
func (idx *Index) Remove(value string, id uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c := idx.chunkFor(value)
	if bm, ok := c.postings[value]; ok {
		bm.Remove(id)
		idx.updateBounds(c)
		idx.dirty[c] = true
	}
}

// Lookup returns the set of entity ids with the given exact value. The
// bloom filter lets a chunk whose filter definitely doesn't contain value
// skip the map lookup entirely; the zone map (chunkFor's range search)
// already narrowed the search to a single chunk before that.
func (idx *Index) Lookup(value string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	c := idx.chunkFor(value)
	if !c.filter.MayContain([]byte(value)) {
		return roaring.New()
	}
	if bm, ok := c.postings[value]; ok {
		return bm.Clone()
	}
	return roaring.New()
}

// Range returns the union of postings for every distinct value in
// [lo, hi], used to answer range-filtered searches.
func (idx *Index) Range(lo, hi string) *roaring.Bitmap {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := roaring.New()
	for _, c := range idx.chunks {
		if c.maxValue != "" && c.maxValue < lo {
			continue
		}
		if c.minValue != "" && c.minValue > hi {
			continue
		}
		for v, bm := range c.postings {
			if v >= lo && v <= hi {
				out.Or(bm)
			}
		}
	}
	return out
}

// chunkFor finds the chunk whose range should hold value (binary search
// over sorted chunk boundaries); the last chunk always matches values
// greater than every existing boundary.
func (idx *Index) chunkFor(value string) *chunk {
	i := sort.Search(len(idx.chunks), func(i int) bool {
		return idx.chunks[i].maxValue == "" || idx.chunks[i].maxValue >= value
	})
	if i >= len(idx.chunks) {
		i = len(idx.chunks) - 1
	}
	return idx.chunks[i]
}

func (idx *Index) updateBounds(c *chunk) {
	var values []string
	count := 0
	hasNulls := false
	for v, bm := range c.postings {
		values = append(values, v)
		count += int(bm.GetCardinality())
		if v == nullTerm && bm.GetCardinality() > 0 {
			hasNulls = true
		}
	}
	sort.Strings(values)
	if len(values) > 0 {
		c.minValue = values[0]
		c.maxValue = values[len(values)-1]
	}
	c.count = count
	c.hasNulls = hasNulls
}

// split breaks an oversized chunk at its median value into two chunks of
// roughly equal distinct-value count, rebuilding each half's bloom filter
// from scratch since a filter only ever grows, never shrinks. Both new
// chunks are marked dirty so the next Flush persists them and swaps the
// sparse directory to point at the new pair instead of the retired chunk.
func (idx *Index) split(c *chunk) {
	var values []string
	for v := range c.postings {
		values = append(values, v)
	}
	sort.Strings(values)

	mid := len(values) / 2
	left := idx.newChunk()
	right := idx.newChunk()
	for _, v := range values[:mid] {
		left.postings[v] = c.postings[v]
		left.filter.Add([]byte(v))
	}
	for _, v := range values[mid:] {
		right.postings[v] = c.postings[v]
		right.filter.Add([]byte(v))
	}
	idx.updateBounds(left)
	idx.updateBounds(right)
	idx.dirty[left] = true
	idx.dirty[right] = true
	delete(idx.dirty, c)

	out := make([]*chunk, 0, len(idx.chunks)+1)
	for _, existing := range idx.chunks {
		if existing == c {
			out = append(out, left, right)
			continue
		}
		out = append(out, existing)
	}
	idx.chunks = out
}

// Compact merges adjacent chunks whose combined distinct-value count is
// below MergeThreshold, reversing fragmentation left by deletes. Intended
// to run periodically, not on every mutation.
func (idx *Index) Compact() {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if len(idx.chunks) < 2 {
		return
	}
	merged := []*chunk{idx.chunks[0]}
	for _, c := range idx.chunks[1:] {
		last := merged[len(merged)-1]
		if last.size()+c.size() < idx.cfg.MergeThreshold {
			for v, bm := range c.postings {
				last.postings[v] = bm
				last.filter.Add([]byte(v))
			}
			idx.updateBounds(last)
			idx.dirty[last] = true
			delete(idx.dirty, c)
		} else {
			merged = append(merged, c)
		}
	}
	idx.chunks = merged
}

// ChunkCount reports the number of chunks currently held, used by tests and
// stats reporting to confirm split/merge behavior.
func (idx *Index) ChunkCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunks)
}
