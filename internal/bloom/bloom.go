// Package bloom implements a fixed-size bloom filter with MurmurHash3-32
// double hashing, used by SSTables and metadata chunks to skip a read
// without touching disk when a key is definitely absent.
package bloom

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
)

const (
	formatVersion = 1
	headerSize    = 1 + 4 + 4 + 4 + 8 // version, m, k, count, fprBits(float64 bits)
)

// Filter is a Bloom filter over byte-slice keys.
type Filter struct {
	bits      *bitset.BitSet
	m         uint32 // number of bits
	k         uint32 // number of hash functions
	count     uint32 // number of inserted keys
	targetFPR float64
}

// New builds a Filter sized for n expected keys at the given target false
// positive rate, e.g. New(10000, 0.01) for a 1% FPR at 10k keys.
func New(n int, targetFPR float64) *Filter {
	if n < 1 {
		n = 1
	}
	m := optimalM(n, targetFPR)
	k := optimalK(m, n)
	return &Filter{
		bits:      bitset.New(uint(m)),
		m:         uint32(m),
		k:         uint32(k),
		targetFPR: targetFPR,
	}
}

func optimalM(n int, p float64) int {
	m := -float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)
	if m < 8 {
		m = 8
	}
	return int(math.Ceil(m))
}

func optimalK(m, n int) int {
	k := int(math.Round(float64(m) / float64(n) * math.Ln2))
	if k < 1 {
		k = 1
	}
	if k > 30 {
		k = 30
	}
	return k
}

// Add inserts key into the filter.
func (f *Filter) Add(key []byte) {
	h1, h2 := murmur3Pair(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + i*h2) % f.m
		f.bits.Set(uint(idx))
	}
	f.count++
}

// MayContain reports whether key might be present. False means definitely
// absent; true means probably present (subject to the filter's FPR).
func (f *Filter) MayContain(key []byte) bool {
	h1, h2 := murmur3Pair(key)
	for i := uint32(0); i < f.k; i++ {
		idx := (h1 + i*h2) % f.m
		if !f.bits.Test(uint(idx)) {
			return false
		}
	}
	return true
}

// Count returns the number of keys added.
func (f *Filter) Count() int {
	return int(f.count)
}

// EstimatedFPR returns the filter's current estimated false-positive rate
// given how full the bit array actually is.
func (f *Filter) EstimatedFPR() float64 {
	if f.count == 0 {
		return 0
	}
	frac := float64(f.bits.Count()) / float64(f.m)
	return math.Pow(frac, float64(f.k))
}

// Marshal serializes the filter to a portable fixed-header format:
// [version:1][m:4][k:4][count:4][fprBits:8][bit words...].
func (f *Filter) Marshal() []byte {
	wordBytes, _ := f.bits.MarshalBinary()
	buf := make([]byte, 0, headerSize+len(wordBytes))

	var hdr [13]byte
	hdr[0] = formatVersion
	binary.BigEndian.PutUint32(hdr[1:5], f.m)
	binary.BigEndian.PutUint32(hdr[5:9], f.k)
	binary.BigEndian.PutUint32(hdr[9:13], f.count)
	buf = append(buf, hdr[:]...)

	var fprBuf [8]byte
	binary.BigEndian.PutUint64(fprBuf[:], math.Float64bits(f.targetFPR))
	buf = append(buf, fprBuf[:]...)
	buf = append(buf, wordBytes...)
	return buf
}

// Unmarshal parses a filter serialized by Marshal.
func Unmarshal(data []byte) (*Filter, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("bloom: truncated header (%d bytes)", len(data))
	}
	if data[0] != formatVersion {
		return nil, fmt.Errorf("bloom: unsupported format version %d", data[0])
	}
	m := binary.BigEndian.Uint32(data[1:5])
	k := binary.BigEndian.Uint32(data[5:9])
	count := binary.BigEndian.Uint32(data[9:13])
	fpr := math.Float64frombits(binary.BigEndian.Uint64(data[13:21]))

	bs := &bitset.BitSet{}
	if err := bs.UnmarshalBinary(data[21:]); err != nil {
		return nil, fmt.Errorf("bloom: %w", err)
	}

	return &Filter{
		bits:      bs,
		m:         m,
		k:         k,
		count:     count,
		targetFPR: fpr,
	}, nil
}

// murmur3Pair computes two independent 32-bit hashes of key by running the
// full MurmurHash3-32 twice with different seeds; subsequent hash
// functions are derived via the Kirsch-Mitzenmacher double-hashing scheme
// (h1 + i*h2) rather than recomputing MurmurHash3 k times.
func murmur3Pair(key []byte) (uint32, uint32) {
	h1 := murmur3_32(key, 0)
	h2 := murmur3_32(key, 0x9747b28c)
	if h2 == 0 {
		h2 = 1 // never let the step size degrade to zero
	}
	return h1, h2
}

const (
	c1 uint32 = 0xcc9e2d51
	c2 uint32 = 0x1b873593
)

// murmur3_32 is the standard 32-bit MurmurHash3 (x86_32 variant).
func murmur3_32(data []byte, seed uint32) uint32 {
	h := seed
	nblocks := len(data) / 4

	for i := 0; i < nblocks; i++ {
		k := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		k *= c1
		k = (k << 15) | (k >> 17)
		k *= c2

		h ^= k
		h = (h << 13) | (h >> 19)
		h = h*5 + 0xe6546b64
	}

	tail := data[nblocks*4:]
	var k1 uint32
	switch len(tail) {
	case 3:
		k1 ^= uint32(tail[2]) << 16
		fallthrough
	case 2:
		k1 ^= uint32(tail[1]) << 8
		fallthrough
	case 1:
		k1 ^= uint32(tail[0])
		k1 *= c1
		k1 = (k1 << 15) | (k1 >> 17)
		k1 *= c2
		h ^= k1
	}

	h ^= uint32(len(data))
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}
