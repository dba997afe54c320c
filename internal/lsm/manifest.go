package lsm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

var seqCounter uint64

// flushSeq returns a process-unique, monotonically increasing sequence
// number used to name newly written SSTables so two flushes never collide.
func flushSeq() uint64 {
	return atomic.AddUint64(&seqCounter, 1)
}

// encodeManifest serializes the per-level table key lists to a simple
// length-prefixed binary format: count[4] then per-entry level[4] and a
// count-prefixed list of length-prefixed key strings.
func encodeManifest(entries []manifestEntry) []byte {
	var buf bytes.Buffer
	var u32 [4]byte

	binary.BigEndian.PutUint32(u32[:], uint32(len(entries)))
	buf.Write(u32[:])

	for _, e := range entries {
		binary.BigEndian.PutUint32(u32[:], uint32(e.Level))
		buf.Write(u32[:])
		binary.BigEndian.PutUint32(u32[:], uint32(len(e.Keys)))
		buf.Write(u32[:])
		for _, k := range e.Keys {
			binary.BigEndian.PutUint32(u32[:], uint32(len(k)))
			buf.Write(u32[:])
			buf.WriteString(k)
		}
	}
	return buf.Bytes()
}

func decodeManifest(data []byte) ([]manifestEntry, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("truncated manifest header")
	}
	count := binary.BigEndian.Uint32(data[0:4])
	off := 4

	entries := make([]manifestEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+8 > len(data) {
			return nil, fmt.Errorf("truncated manifest entry %d", i)
		}
		level := int(binary.BigEndian.Uint32(data[off : off+4]))
		off += 4
		keyCount := binary.BigEndian.Uint32(data[off : off+4])
		off += 4

		keys := make([]string, 0, keyCount)
		for j := uint32(0); j < keyCount; j++ {
			if off+4 > len(data) {
				return nil, fmt.Errorf("truncated manifest key header")
			}
			klen := binary.BigEndian.Uint32(data[off : off+4])
			off += 4
			if off+int(klen) > len(data) {
				return nil, fmt.Errorf("truncated manifest key")
			}
			keys = append(keys, string(data[off:off+int(klen)]))
			off += int(klen)
		}
		entries = append(entries, manifestEntry{Level: level, Keys: keys})
	}
	return entries, nil
}
