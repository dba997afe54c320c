// Package sstable implements an immutable, sorted, on-disk table of
// key-value entries: the unit the LSM tree flushes memtables into and
// compacts across levels. Each table carries a bloom filter and a sparse
// zone map so that reads can often avoid scanning the body entirely.
package sstable

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/noungraph/noungraph/internal/bloom"
	nerrors "github.com/noungraph/noungraph/internal/errors"
)

const (
	magic         = "NGST"
	formatVersion = uint32(1)
	checksumSize  = sha256.Size
)

// Entry is one key-value pair, or a tombstone recording a deletion.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Table is an immutable sorted table held fully in memory after loading.
// Index structures (zone map, bloom filter) are cheap relative to the body,
// and for the scale this engine targets — a small embeddable index, not a
// big-data store — keeping the whole table resident is simpler than a
// lazy, offset-based re-read of the body.
type Table struct {
	entries []Entry // sorted by Key
	filter  *bloom.Filter
	minKey  []byte
	maxKey  []byte
}

// Build constructs a Table from entries, which need not be pre-sorted.
// Later duplicate keys win (the LSM memtable already guarantees this by
// construction, but Build re-sorts defensively).
func Build(entries []Entry, targetFPR float64) *Table {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key, sorted[j].Key) < 0
	})
	// keep only the last occurrence of each key
	deduped := sorted[:0]
	for i, e := range sorted {
		if i+1 < len(sorted) && bytes.Equal(e.Key, sorted[i+1].Key) {
			continue
		}
		deduped = append(deduped, e)
	}
	sorted = deduped

	filter := bloom.New(max(len(sorted), 1), targetFPR)
	for _, e := range sorted {
		filter.Add(e.Key)
	}

	t := &Table{entries: sorted, filter: filter}
	if len(sorted) > 0 {
		t.minKey = sorted[0].Key
		t.maxKey = sorted[len(sorted)-1].Key
	}
	return t
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Len returns the number of entries, including tombstones.
func (t *Table) Len() int { return len(t.entries) }

// MinKey and MaxKey bound the table's key range (the zone map); an empty
// table returns nil for both.
func (t *Table) MinKey() []byte { return t.minKey }
func (t *Table) MaxKey() []byte { return t.maxKey }

// InRange reports whether key could possibly fall within this table's zone,
// letting a caller skip the bloom check and binary search entirely.
func (t *Table) InRange(key []byte) bool {
	if len(t.entries) == 0 {
		return false
	}
	return bytes.Compare(key, t.minKey) >= 0 && bytes.Compare(key, t.maxKey) <= 0
}

// Get looks up key, returning (value, tombstone, found).
func (t *Table) Get(key []byte) (value []byte, tombstone bool, found bool) {
	if !t.InRange(key) {
		return nil, false, false
	}
	if !t.filter.MayContain(key) {
		return nil, false, false
	}
	i := sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].Key, key) >= 0
	})
	if i < len(t.entries) && bytes.Equal(t.entries[i].Key, key) {
		e := t.entries[i]
		return e.Value, e.Tombstone, true
	}
	return nil, false, false
}

// Scan returns every entry with key in [lo, hi) in sorted order. A nil hi
// means unbounded.
func (t *Table) Scan(lo, hi []byte) []Entry {
	start := sort.Search(len(t.entries), func(i int) bool {
		return bytes.Compare(t.entries[i].Key, lo) >= 0
	})
	var out []Entry
	for i := start; i < len(t.entries); i++ {
		if hi != nil && bytes.Compare(t.entries[i].Key, hi) >= 0 {
			break
		}
		out = append(out, t.entries[i])
	}
	return out
}

// All returns every entry in sorted order, used by compaction to merge
// tables.
func (t *Table) All() []Entry { return t.entries }

// Marshal serializes the table to the on-disk format:
//
//	magic[4] version[4] count[4]
//	entries: (keyLen[4] key tombstone[1] valLen[4] value)*
//	bloomLen[4] bloom-bytes
//	sha256(everything above)[32]
func (t *Table) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)

	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], formatVersion)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], uint32(len(t.entries)))
	buf.Write(u32[:])

	for _, e := range t.entries {
		binary.BigEndian.PutUint32(u32[:], uint32(len(e.Key)))
		buf.Write(u32[:])
		buf.Write(e.Key)
		if e.Tombstone {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		binary.BigEndian.PutUint32(u32[:], uint32(len(e.Value)))
		buf.Write(u32[:])
		buf.Write(e.Value)
	}

	filterBytes := t.filter.Marshal()
	binary.BigEndian.PutUint32(u32[:], uint32(len(filterBytes)))
	buf.Write(u32[:])
	buf.Write(filterBytes)

	sum := sha256.Sum256(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes()
}

// Load parses the on-disk format produced by Marshal, verifying the
// trailing checksum first so a truncated or bit-flipped file is rejected
// before any entry is trusted.
func Load(data []byte) (*Table, error) {
	if len(data) < len(magic)+8+checksumSize {
		return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch,
			"truncated sstable: too short", nil)
	}

	body := data[:len(data)-checksumSize]
	wantSum := data[len(data)-checksumSize:]
	gotSum := sha256.Sum256(body)
	if !bytes.Equal(gotSum[:], wantSum) {
		return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch,
			"sstable checksum mismatch", nil)
	}

	if string(body[:len(magic)]) != magic {
		return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch,
			"bad sstable magic", nil)
	}
	off := len(magic)

	version := binary.BigEndian.Uint32(body[off : off+4])
	off += 4
	if version != formatVersion {
		return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch,
			fmt.Sprintf("unsupported sstable version %d", version), nil)
	}

	count := binary.BigEndian.Uint32(body[off : off+4])
	off += 4

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+4 > len(body) {
			return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch, "truncated entry", nil)
		}
		keyLen := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		if off+int(keyLen)+1+4 > len(body) {
			return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch, "truncated entry body", nil)
		}
		key := body[off : off+int(keyLen)]
		off += int(keyLen)
		tombstone := body[off] == 1
		off++
		valLen := binary.BigEndian.Uint32(body[off : off+4])
		off += 4
		if off+int(valLen) > len(body) {
			return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch, "truncated value", nil)
		}
		value := body[off : off+int(valLen)]
		off += int(valLen)

		entries = append(entries, Entry{Key: append([]byte(nil), key...), Value: append([]byte(nil), value...), Tombstone: tombstone})
	}

	if off+4 > len(body) {
		return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch, "truncated bloom length", nil)
	}
	filterLen := binary.BigEndian.Uint32(body[off : off+4])
	off += 4
	if off+int(filterLen) > len(body) {
		return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch, "truncated bloom filter", nil)
	}
	filter, err := bloom.Unmarshal(body[off : off+int(filterLen)])
	if err != nil {
		return nil, nerrors.Permanent("sstable", nerrors.CodeChecksumMismatch, "bad bloom filter: "+err.Error(), err)
	}

	t := &Table{entries: entries, filter: filter}
	if len(entries) > 0 {
		t.minKey = entries[0].Key
		t.maxKey = entries[len(entries)-1].Key
	}
	return t, nil
}

// Merge combines multiple sorted tables into one, keeping only the newest
// occurrence of each key (tables later in the slice are newer) and, when
// dropTombstones is set, dropping every key whose newest entry is a
// tombstone.
func Merge(tables []*Table, targetFPR float64, dropTombstones bool) *Table {
	latest := make(map[string]Entry)
	order := make([]string, 0)
	for _, tb := range tables {
		for _, e := range tb.All() {
			k := string(e.Key)
			if _, seen := latest[k]; !seen {
				order = append(order, k)
			}
			latest[k] = e // later tables (assumed newer) overwrite
		}
	}

	merged := make([]Entry, 0, len(order))
	for _, k := range order {
		e := latest[k]
		if dropTombstones && e.Tombstone {
			continue
		}
		merged = append(merged, e)
	}
	return Build(merged, targetFPR)
}
