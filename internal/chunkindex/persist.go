package chunkindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/noungraph/noungraph/internal/bloom"
	"github.com/noungraph/noungraph/internal/config"
	nerrors "github.com/noungraph/noungraph/internal/errors"
	"github.com/noungraph/noungraph/internal/storage"
)

const chunkMagic = "NGCK"

func chunkBlobKey(field string, id uint64) string {
	return fmt.Sprintf("chunk/%s/%d", field, id)
}

func sparseKey(field string) string {
	return "sparse/" + field
}

// sparseEntry is one row of a field's sparse directory: the chunk id plus
// the zone-map bounds needed to route a lookup to it without opening every
// chunk blob.
type sparseEntry struct {
	ID       uint64 `json:"id"`
	MinValue string `json:"min_value"`
	MaxValue string `json:"max_value"`
}

// marshal serializes a chunk to:
//
//	id[8] minLen[4]+min maxLen[4]+max count[4] hasNulls[1]
//	filterLen[4]+filter
//	postingsCount[4]: (valueLen[4]+value bitmapLen[4]+bitmap)*
func (c *chunk) marshal() []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	var u64 [8]byte

	binary.BigEndian.PutUint64(u64[:], c.id)
	buf.Write(u64[:])

	writeString := func(s string) {
		binary.BigEndian.PutUint32(u32[:], uint32(len(s)))
		buf.Write(u32[:])
		buf.WriteString(s)
	}
	writeString(c.minValue)
	writeString(c.maxValue)

	binary.BigEndian.PutUint32(u32[:], uint32(c.count))
	buf.Write(u32[:])
	if c.hasNulls {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	filterBytes := c.filter.Marshal()
	binary.BigEndian.PutUint32(u32[:], uint32(len(filterBytes)))
	buf.Write(u32[:])
	buf.Write(filterBytes)

	values := make([]string, 0, len(c.postings))
	for v := range c.postings {
		values = append(values, v)
	}
	sort.Strings(values)

	binary.BigEndian.PutUint32(u32[:], uint32(len(values)))
	buf.Write(u32[:])
	for _, v := range values {
		writeString(v)
		bm := c.postings[v]
		bmBytes, _ := bm.ToBytes()
		binary.BigEndian.PutUint32(u32[:], uint32(len(bmBytes)))
		buf.Write(u32[:])
		buf.Write(bmBytes)
	}
	return buf.Bytes()
}

// unmarshalChunk parses the format written by marshal, with the same
// truncation-checked-at-every-step style internal/sstable uses.
func unmarshalChunk(data []byte) (*chunk, error) {
	off := 0
	need := func(n int) error {
		if off+n > len(data) {
			return nerrors.Permanent("chunkindex", nerrors.CodeChecksumMismatch, "truncated chunk blob", nil)
		}
		return nil
	}

	if err := need(8); err != nil {
		return nil, err
	}
	id := binary.BigEndian.Uint64(data[off : off+8])
	off += 8

	readString := func() (string, error) {
		if err := need(4); err != nil {
			return "", err
		}
		n := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if err := need(n); err != nil {
			return "", err
		}
		s := string(data[off : off+n])
		off += n
		return s, nil
	}

	minValue, err := readString()
	if err != nil {
		return nil, err
	}
	maxValue, err := readString()
	if err != nil {
		return nil, err
	}

	if err := need(4); err != nil {
		return nil, err
	}
	count := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4

	if err := need(1); err != nil {
		return nil, err
	}
	hasNulls := data[off] == 1
	off++

	if err := need(4); err != nil {
		return nil, err
	}
	filterLen := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4
	if err := need(filterLen); err != nil {
		return nil, err
	}
	filter, err := bloom.Unmarshal(data[off : off+filterLen])
	if err != nil {
		return nil, nerrors.Permanent("chunkindex", nerrors.CodeChecksumMismatch, "bad chunk bloom filter: "+err.Error(), err)
	}
	off += filterLen

	if err := need(4); err != nil {
		return nil, err
	}
	postingsCount := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4

	postings := make(map[string]*roaring.Bitmap, postingsCount)
	for i := 0; i < postingsCount; i++ {
		value, err := readString()
		if err != nil {
			return nil, err
		}
		if err := need(4); err != nil {
			return nil, err
		}
		bmLen := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		if err := need(bmLen); err != nil {
			return nil, err
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(data[off : off+bmLen]); err != nil {
			return nil, nerrors.Permanent("chunkindex", nerrors.CodeChecksumMismatch, "bad chunk posting bitmap: "+err.Error(), err)
		}
		off += bmLen
		postings[value] = bm
	}

	return &chunk{
		id:       id,
		minValue: minValue,
		maxValue: maxValue,
		count:    count,
		hasNulls: hasNulls,
		filter:   filter,
		postings: postings,
	}, nil
}

// Flush persists every chunk touched since the last Flush, then overwrites
// the sparse directory last so a crash mid-flush leaves the directory
// pointing only at chunks that were fully written; any newly written chunk
// blob not yet referenced by the directory is harmless orphaned garbage,
// the same tolerance the LSM tree's own manifest swap relies on.
func (idx *Index) Flush(ctx context.Context, adapter storage.Adapter) error {
	idx.mu.Lock()
	dirty := make([]*chunk, 0, len(idx.dirty))
	for c := range idx.dirty {
		dirty = append(dirty, c)
	}
	idx.dirty = make(map[*chunk]bool)
	chunksSnapshot := append([]*chunk(nil), idx.chunks...)
	field := idx.field
	idx.mu.Unlock()

	for _, c := range dirty {
		if err := adapter.PutBlob(ctx, chunkBlobKey(field, c.id), c.marshal()); err != nil {
			return err
		}
	}

	entries := make([]sparseEntry, 0, len(chunksSnapshot))
	for _, c := range chunksSnapshot {
		entries = append(entries, sparseEntry{ID: c.id, MinValue: c.minValue, MaxValue: c.maxValue})
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return nerrors.Permanent("chunkindex", nerrors.CodeInvalidInput, "failed to encode sparse directory", err)
	}
	var buf bytes.Buffer
	buf.WriteString(chunkMagic)
	buf.Write(body)
	return adapter.PutBlob(ctx, sparseKey(field), buf.Bytes())
}

// Open restores the Index for field from the sparse directory and its
// referenced chunk blobs, or returns a fresh empty Index if nothing was
// ever persisted for this field.
func Open(ctx context.Context, field string, metaCfg config.MetadataConfig, bloomCfg config.BloomConfig, adapter storage.Adapter) (*Index, error) {
	data, err := adapter.GetBlob(ctx, sparseKey(field))
	if err != nil {
		if nerrors.IsKind(err, nerrors.KindNotFound) {
			return New(field, metaCfg, bloomCfg), nil
		}
		return nil, err
	}
	if len(data) < len(chunkMagic) || string(data[:len(chunkMagic)]) != chunkMagic {
		return nil, nerrors.Permanent("chunkindex", nerrors.CodeChecksumMismatch, "bad sparse directory magic", nil)
	}

	var entries []sparseEntry
	if err := json.Unmarshal(data[len(chunkMagic):], &entries); err != nil {
		return nil, nerrors.Permanent("chunkindex", nerrors.CodeChecksumMismatch, "corrupt sparse directory", err)
	}

	idx := &Index{
		field:    field,
		cfg:      metaCfg,
		bloomCfg: bloomCfg,
		dirty:    make(map[*chunk]bool),
	}
	var maxID uint64
	for _, e := range entries {
		blob, err := adapter.GetBlob(ctx, chunkBlobKey(field, e.ID))
		if err != nil {
			if nerrors.IsKind(err, nerrors.KindNotFound) {
				continue // orphaned directory entry: chunk blob never landed or was pruned
			}
			return nil, err
		}
		c, err := unmarshalChunk(blob)
		if err != nil {
			return nil, err
		}
		idx.chunks = append(idx.chunks, c)
		if c.id >= maxID {
			maxID = c.id + 1
		}
	}
	if len(idx.chunks) == 0 {
		idx.chunks = []*chunk{idx.newChunk()}
	} else {
		sort.Slice(idx.chunks, func(i, j int) bool { return idx.chunks[i].minValue < idx.chunks[j].minValue })
		idx.nextChunkID = maxID
	}
	return idx, nil
}
