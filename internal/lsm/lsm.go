// Package lsm implements a log-structured merge tree: a mutable in-memory
// memtable backed by immutable, levelled SSTables, compacted synchronously
// by Flush whenever a level fills up. This is the storage engine behind the
// verb (relationship) adjacency index: every add/delete of a typed edge
// between two entities is a put/tombstone of a (sourceID, verbType,
// targetID, verbID) key.
package lsm

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/noungraph/noungraph/internal/config"
	nerrors "github.com/noungraph/noungraph/internal/errors"
	"github.com/noungraph/noungraph/internal/sstable"
	"github.com/noungraph/noungraph/internal/storage"
)

const manifestKey = "lsm/manifest"

// Tree is a single LSM tree instance. One Tree backs one logical
// collection of key-value relations; an engine may run several (e.g. one
// per verb type) over the same storage adapter under different key
// prefixes.
type Tree struct {
	mu sync.RWMutex

	adapter storage.Adapter
	cfg     config.LSMConfig
	bloom   config.BloomConfig
	prefix  string

	memtable map[string]sstable.Entry
	levels   [][]*tableRef
}

// tableRef is a loaded SSTable plus the circuit breaker guarding reads
// against it and the storage key it was loaded from, so a quarantined
// table can be skipped on read without being evicted from the manifest.
type tableRef struct {
	key     string
	table   *sstable.Table
	breaker *nerrors.CircuitBreaker
}

// Open loads (or initializes) a Tree rooted at prefix within adapter.
// Loading tolerates SSTables present in storage but absent from the
// manifest (an interrupted flush/compaction): those orphans are simply
// never referenced, rather than treated as corruption.
func Open(ctx context.Context, adapter storage.Adapter, prefix string, cfg config.LSMConfig, bloomCfg config.BloomConfig) (*Tree, error) {
	t := &Tree{
		adapter:  adapter,
		cfg:      cfg,
		bloom:    bloomCfg,
		prefix:   prefix,
		memtable: make(map[string]sstable.Entry),
		levels:   make([][]*tableRef, cfg.MaxLevel+1),
	}

	manifest, err := t.loadManifest(ctx)
	if err != nil {
		return nil, err
	}

	for level, keys := range manifest {
		for _, key := range keys {
			data, err := adapter.GetBlob(ctx, key)
			if err != nil {
				if nerrors.IsKind(err, nerrors.KindNotFound) {
					continue // orphaned manifest entry, tolerate and skip
				}
				return nil, err
			}
			tbl, err := sstable.Load(data)
			if err != nil {
				continue // corrupt sstable, tolerate and skip (quarantine equivalent at load time)
			}
			t.levels[level] = append(t.levels[level], &tableRef{
				key:     key,
				table:   tbl,
				breaker: nerrors.NewCircuitBreaker(key, nerrors.WithMaxFailures(cfg.QuarantineThreshold)),
			})
		}
	}

	return t, nil
}

// manifestEntry is the persisted form of one level's table keys.
type manifestEntry struct {
	Level int      `json:"level"`
	Keys  []string `json:"keys"`
}

func (t *Tree) loadManifest(ctx context.Context) ([][]string, error) {
	out := make([][]string, t.cfg.MaxLevel+1)
	data, err := t.adapter.GetBlob(ctx, t.prefix+manifestKey)
	if err != nil {
		if nerrors.IsKind(err, nerrors.KindNotFound) {
			return out, nil
		}
		return nil, err
	}
	entries, err := decodeManifest(data)
	if err != nil {
		return nil, nerrors.Permanent("lsm", nerrors.CodeCorruptManifest, "corrupt manifest: "+err.Error(), err)
	}
	for _, e := range entries {
		if e.Level < 0 || e.Level > t.cfg.MaxLevel {
			continue
		}
		out[e.Level] = e.Keys
	}
	return out, nil
}

func (t *Tree) saveManifest(ctx context.Context) error {
	entries := make([]manifestEntry, 0, len(t.levels))
	for level, refs := range t.levels {
		var keys []string
		for _, r := range refs {
			keys = append(keys, r.key)
		}
		entries = append(entries, manifestEntry{Level: level, Keys: keys})
	}
	data := encodeManifest(entries)
	return t.adapter.PutBlob(ctx, t.prefix+manifestKey, data)
}

// Put inserts or overwrites key with value.
func (t *Tree) Put(ctx context.Context, key, value []byte) error {
	t.mu.Lock()
	t.memtable[string(key)] = sstable.Entry{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...)}
	needsFlush := len(t.memtable) >= t.cfg.MemtableFlushThreshold
	t.mu.Unlock()

	if needsFlush {
		return t.Flush(ctx)
	}
	return nil
}

// Delete records a tombstone for key; the key reads as absent immediately,
// and the tombstone is physically removed only when a compaction merges it
// into the deepest level (MaxLevel).
func (t *Tree) Delete(ctx context.Context, key []byte) error {
	t.mu.Lock()
	t.memtable[string(key)] = sstable.Entry{Key: append([]byte(nil), key...), Tombstone: true}
	t.mu.Unlock()
	return nil
}

// Get returns (value, found). A tombstoned or physically-absent key both
// report found=false; callers that need to distinguish "never existed"
// from "deleted" should consult a higher-level index instead.
func (t *Tree) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if e, ok := t.memtable[string(key)]; ok {
		return e.Value, !e.Tombstone, nil
	}

	for level := 0; level <= t.cfg.MaxLevel; level++ {
		refs := t.levels[level]
		for i := len(refs) - 1; i >= 0; i-- {
			r := refs[i]
			if !r.breaker.Allow() {
				continue // quarantined, skip to the next table in this level
			}
			if !r.table.InRange(key) {
				continue
			}
			value, tombstone, found, err := safeGet(r.table, key)
			if err != nil {
				r.breaker.RecordFailure()
				continue
			}
			r.breaker.RecordSuccess()
			if found {
				return value, !tombstone, nil
			}
		}
	}
	return nil, false, nil
}

// safeGet recovers from a panic inside Table.Get (e.g. a corrupted index
// that wasn't caught at load time) and reports it as an error instead of
// crashing the read path, matching the quarantine-on-failure design.
func safeGet(tbl *sstable.Table, key []byte) (value []byte, tombstone, found bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sstable read panic: %v", r)
		}
	}()
	value, tombstone, found = tbl.Get(key)
	return
}

// Flush writes the current memtable out as a new level-0 SSTable and
// clears it. A no-op when the memtable is empty.
func (t *Tree) Flush(ctx context.Context) error {
	t.mu.Lock()
	if len(t.memtable) == 0 {
		t.mu.Unlock()
		return nil
	}
	entries := make([]sstable.Entry, 0, len(t.memtable))
	for _, e := range t.memtable {
		entries = append(entries, e)
	}
	t.memtable = make(map[string]sstable.Entry)
	t.mu.Unlock()

	tbl := sstable.Build(entries, t.bloom.TargetFPR)
	key := fmt.Sprintf("%ssstable/L0/%d", t.prefix, flushSeq())
	if err := t.adapter.PutBlob(ctx, key, tbl.Marshal()); err != nil {
		return err
	}

	t.mu.Lock()
	t.levels[0] = append(t.levels[0], &tableRef{
		key:     key,
		table:   tbl,
		breaker: nerrors.NewCircuitBreaker(key, nerrors.WithMaxFailures(t.cfg.QuarantineThreshold)),
	})
	needsCompaction := len(t.levels[0]) >= t.cfg.CompactionTrigger
	t.mu.Unlock()

	if err := t.saveManifestLocked(ctx); err != nil {
		return err
	}
	if needsCompaction {
		return t.CompactLevel(ctx, 0)
	}
	return nil
}

func (t *Tree) saveManifestLocked(ctx context.Context) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.saveManifest(ctx)
}

// CompactLevel merges every table at level into a single table and moves
// it to level+1, dropping tombstones only when level+1 is the deepest
// level with no successor to still need them. Size-tiered: triggered once
// a level accumulates CompactionTrigger tables.
func (t *Tree) CompactLevel(ctx context.Context, level int) error {
	t.mu.Lock()
	if level >= t.cfg.MaxLevel {
		t.mu.Unlock()
		return nil // already at the deepest level, nothing to cascade into
	}
	refs := t.levels[level]
	if len(refs) == 0 {
		t.mu.Unlock()
		return nil
	}
	tables := make([]*sstable.Table, len(refs))
	oldKeys := make([]string, len(refs))
	for i, r := range refs {
		tables[i] = r.table
		oldKeys[i] = r.key
	}
	dropTombstones := level+1 == t.cfg.MaxLevel
	t.mu.Unlock()

	merged := sstable.Merge(tables, t.bloom.TargetFPR, dropTombstones)
	newKey := fmt.Sprintf("%ssstable/L%d/%d", t.prefix, level+1, flushSeq())

	if err := t.adapter.PutBlob(ctx, newKey, merged.Marshal()); err != nil {
		return err
	}

	t.mu.Lock()
	t.levels[level] = nil
	t.levels[level+1] = append(t.levels[level+1], &tableRef{
		key:     newKey,
		table:   merged,
		breaker: nerrors.NewCircuitBreaker(newKey, nerrors.WithMaxFailures(t.cfg.QuarantineThreshold)),
	})
	nextNeedsCompaction := len(t.levels[level+1]) >= t.cfg.CompactionTrigger
	t.mu.Unlock()

	for _, k := range oldKeys {
		_ = t.adapter.DeleteBlob(ctx, k) // best-effort; a stray blob is an orphan, not corruption
	}
	if err := t.saveManifestLocked(ctx); err != nil {
		return err
	}
	if nextNeedsCompaction {
		return t.CompactLevel(ctx, level+1)
	}
	return nil
}

// Scan returns every live (non-tombstoned) entry across memtable and all
// levels with key in [lo, hi), newest value wins per key.
func (t *Tree) Scan(ctx context.Context, lo, hi []byte) []sstable.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	latest := make(map[string]sstable.Entry)
	order := make([]string, 0)
	record := func(e sstable.Entry) {
		k := string(e.Key)
		if _, seen := latest[k]; !seen {
			order = append(order, k)
		}
		latest[k] = e
	}

	for level := t.cfg.MaxLevel; level >= 0; level-- {
		for _, r := range t.levels[level] {
			if !r.breaker.Allow() {
				continue
			}
			for _, e := range r.table.Scan(lo, hi) {
				record(e)
			}
		}
	}
	for _, e := range t.memtable {
		if (lo == nil || bytes.Compare(e.Key, lo) >= 0) && (hi == nil || bytes.Compare(e.Key, hi) < 0) {
			record(e)
		}
	}

	sort.Strings(order)
	out := make([]sstable.Entry, 0, len(order))
	for _, k := range order {
		e := latest[k]
		if !e.Tombstone {
			out = append(out, e)
		}
	}
	return out
}

// Stats summarizes the tree's current shape for the engine-level stats API.
type Stats struct {
	MemtableSize int
	LevelCounts  []int
}

func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make([]int, len(t.levels))
	for i, refs := range t.levels {
		counts[i] = len(refs)
	}
	return Stats{MemtableSize: len(t.memtable), LevelCounts: counts}
}
