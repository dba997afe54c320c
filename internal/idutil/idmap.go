// Package idutil maps the string entity identifiers callers use (UUIDs or
// arbitrary caller-chosen strings) to the dense uint32 identifiers that the
// index, graph, and storage layers operate on internally.
package idutil

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	nerrors "github.com/noungraph/noungraph/internal/errors"
)

// Map is a bidirectional, monotonically-assigned string<->uint32 mapping.
// A string is assigned exactly one uint32 for its lifetime; ids are never
// reused, even after a delete, so a stale uint32 reliably misses rather
// than aliasing a different entity.
type Map struct {
	mu      sync.RWMutex
	toInt   map[string]uint32
	toStr   map[uint32]string
	next    uint32
	deleted map[uint32]struct{}
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		toInt:   make(map[string]uint32),
		toStr:   make(map[uint32]string),
		deleted: make(map[uint32]struct{}),
	}
}

// NewID returns a fresh random UUID string suitable for GetOrAssign.
func NewID() string {
	return uuid.NewString()
}

// GetOrAssign returns the uint32 id for the given string, assigning a new
// one if it has never been seen. Returns an error once the id space is
// exhausted (2^32 entries), which for this engine's scale is effectively
// unreachable but is still surfaced as Permanent rather than panicking.
func (m *Map) GetOrAssign(s string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.toInt[s]; ok {
		return id, nil
	}
	if m.next == math.MaxUint32 {
		return 0, nerrors.Permanent("idutil", nerrors.CodeIDSpaceExhausted,
			"entity id space exhausted at 2^32 entries", nil)
	}
	id := m.next
	m.next++
	m.toInt[s] = id
	m.toStr[id] = s
	return id, nil
}

// GetInt looks up the uint32 id for a string without assigning one.
func (m *Map) GetInt(s string) (uint32, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.toInt[s]
	if !ok {
		return 0, false
	}
	if _, gone := m.deleted[id]; gone {
		return 0, false
	}
	return id, true
}

// GetString looks up the string for a uint32 id.
func (m *Map) GetString(id uint32) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, gone := m.deleted[id]; gone {
		return "", false
	}
	s, ok := m.toStr[id]
	return s, ok
}

// Delete marks an id as retired. The string and uint32 remain in the
// forward/reverse tables for audit purposes but both lookups report a miss,
// and the uint32 is never reassigned since next only moves forward.
func (m *Map) Delete(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.toInt[s]; ok {
		m.deleted[id] = struct{}{}
	}
}

// Len returns the number of live (non-deleted) mappings.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.toInt) - len(m.deleted)
}

// AllLive returns every currently live (non-deleted) uint32 id, in no
// particular order.
func (m *Map) AllLive() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint32, 0, len(m.toStr)-len(m.deleted))
	for id := range m.toStr {
		if _, gone := m.deleted[id]; !gone {
			out = append(out, id)
		}
	}
	return out
}

// record is the on-disk representation of one mapping entry.
const recordSize = 4 + 2 + 1 // id, strLen, deletedFlag, followed by str bytes

// Marshal serializes the map to a portable binary format: an 8-byte header
// holding a uint32 count and the uint32 next id, then for each entry a
// uint32 id, a uint16 string length, a deleted flag byte, and the string
// bytes.
func (m *Map) Marshal() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	buf := make([]byte, 0, 8+len(m.toStr)*32)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(m.toStr)))
	binary.BigEndian.PutUint32(hdr[4:8], m.next)
	buf = append(buf, hdr[:]...)

	for id, s := range m.toStr {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("idutil: string %q exceeds max length", s)
		}
		var entry [7]byte
		binary.BigEndian.PutUint32(entry[0:4], id)
		binary.BigEndian.PutUint16(entry[4:6], uint16(len(s)))
		if _, gone := m.deleted[id]; gone {
			entry[6] = 1
		}
		buf = append(buf, entry[:]...)
		buf = append(buf, s...)
	}
	return buf, nil
}

// Unmarshal builds a new Map from the serialized form produced by
// Marshal.
func Unmarshal(data []byte) (*Map, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("idutil: truncated header")
	}
	count := binary.BigEndian.Uint32(data[0:4])
	next := binary.BigEndian.Uint32(data[4:8])
	off := 8

	m := New()
	m.next = next
	for i := uint32(0); i < count; i++ {
		if off+7 > len(data) {
			return nil, fmt.Errorf("idutil: truncated entry header at index %d", i)
		}
		id := binary.BigEndian.Uint32(data[off : off+4])
		strLen := int(binary.BigEndian.Uint16(data[off+4 : off+6]))
		deleted := data[off+6] == 1
		off += 7
		if off+strLen > len(data) {
			return nil, fmt.Errorf("idutil: truncated string at index %d", i)
		}
		s := string(data[off : off+strLen])
		off += strLen

		m.toInt[s] = id
		m.toStr[id] = s
		if deleted {
			m.deleted[id] = struct{}{}
		}
	}
	return m, nil
}
