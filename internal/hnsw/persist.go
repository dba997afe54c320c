package hnsw

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/noungraph/noungraph/internal/config"
)

const persistVersion = uint32(1)

// Marshal serializes the graph to a portable binary snapshot: a header
// (dimension, metric, entry point, max level), then every arena slot's id,
// deleted flag, vector, level, and per-level neighbor slot lists.
func (g *Graph) Marshal() []byte {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var buf bytes.Buffer
	var u32 [4]byte

	binary.BigEndian.PutUint32(u32[:], persistVersion)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], uint32(g.cfg.Dimensions))
	buf.Write(u32[:])
	writeString(&buf, g.cfg.Metric)
	binary.BigEndian.PutUint32(u32[:], uint32(int32ToUint32(g.entryPoint)))
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], uint32(g.maxLevel))
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], uint32(len(g.arena)))
	buf.Write(u32[:])

	for _, n := range g.arena {
		binary.BigEndian.PutUint32(u32[:], n.id)
		buf.Write(u32[:])
		if n.deleted {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		binary.BigEndian.PutUint32(u32[:], uint32(len(n.vector)))
		buf.Write(u32[:])
		for _, f := range n.vector {
			binary.BigEndian.PutUint32(u32[:], float32ToBits(f))
			buf.Write(u32[:])
		}
		binary.BigEndian.PutUint32(u32[:], uint32(n.level))
		buf.Write(u32[:])
		for lc := 0; lc <= n.level; lc++ {
			neighbors := n.neighbors[lc]
			binary.BigEndian.PutUint32(u32[:], uint32(len(neighbors)))
			buf.Write(u32[:])
			for _, nb := range neighbors {
				binary.BigEndian.PutUint32(u32[:], nb)
				buf.Write(u32[:])
			}
		}
	}

	return buf.Bytes()
}

// Load parses a snapshot produced by Marshal back into a Graph.
func Load(data []byte, cfg config.VectorConfig) (*Graph, error) {
	r := bytes.NewReader(data)
	var u32 [4]byte

	if _, err := r.Read(u32[:]); err != nil {
		return nil, fmt.Errorf("hnsw: truncated snapshot header: %w", err)
	}
	version := binary.BigEndian.Uint32(u32[:])
	if version != persistVersion {
		return nil, fmt.Errorf("hnsw: unsupported snapshot version %d", version)
	}

	if _, err := r.Read(u32[:]); err != nil {
		return nil, fmt.Errorf("hnsw: truncated dimension: %w", err)
	}
	dim := int(binary.BigEndian.Uint32(u32[:]))
	if dim != cfg.Dimensions {
		return nil, fmt.Errorf("hnsw: snapshot dimension %d does not match config %d", dim, cfg.Dimensions)
	}

	if _, err := readString(r); err != nil {
		return nil, err
	}

	if _, err := r.Read(u32[:]); err != nil {
		return nil, fmt.Errorf("hnsw: truncated entry point: %w", err)
	}
	entryPoint := uint32ToInt32(binary.BigEndian.Uint32(u32[:]))

	if _, err := r.Read(u32[:]); err != nil {
		return nil, fmt.Errorf("hnsw: truncated max level: %w", err)
	}
	maxLevel := int(binary.BigEndian.Uint32(u32[:]))

	if _, err := r.Read(u32[:]); err != nil {
		return nil, fmt.Errorf("hnsw: truncated arena count: %w", err)
	}
	arenaLen := int(binary.BigEndian.Uint32(u32[:]))

	g := New(cfg)
	g.entryPoint = entryPoint
	g.maxLevel = maxLevel
	g.arena = make([]node, arenaLen)

	for i := 0; i < arenaLen; i++ {
		n := node{}
		if _, err := r.Read(u32[:]); err != nil {
			return nil, fmt.Errorf("hnsw: truncated node id at slot %d: %w", i, err)
		}
		n.id = binary.BigEndian.Uint32(u32[:])

		var flag [1]byte
		if _, err := r.Read(flag[:]); err != nil {
			return nil, fmt.Errorf("hnsw: truncated deleted flag at slot %d: %w", i, err)
		}
		n.deleted = flag[0] == 1

		if _, err := r.Read(u32[:]); err != nil {
			return nil, fmt.Errorf("hnsw: truncated vector length at slot %d: %w", i, err)
		}
		vecLen := int(binary.BigEndian.Uint32(u32[:]))
		n.vector = make([]float32, vecLen)
		for j := 0; j < vecLen; j++ {
			if _, err := r.Read(u32[:]); err != nil {
				return nil, fmt.Errorf("hnsw: truncated vector component at slot %d: %w", i, err)
			}
			n.vector[j] = bitsToFloat32(binary.BigEndian.Uint32(u32[:]))
		}

		if _, err := r.Read(u32[:]); err != nil {
			return nil, fmt.Errorf("hnsw: truncated level at slot %d: %w", i, err)
		}
		n.level = int(binary.BigEndian.Uint32(u32[:]))
		n.neighbors = make([][]uint32, n.level+1)
		for lc := 0; lc <= n.level; lc++ {
			if _, err := r.Read(u32[:]); err != nil {
				return nil, fmt.Errorf("hnsw: truncated neighbor count at slot %d level %d: %w", i, lc, err)
			}
			count := int(binary.BigEndian.Uint32(u32[:]))
			neighbors := make([]uint32, count)
			for k := 0; k < count; k++ {
				if _, err := r.Read(u32[:]); err != nil {
					return nil, fmt.Errorf("hnsw: truncated neighbor at slot %d level %d: %w", i, lc, err)
				}
				neighbors[k] = binary.BigEndian.Uint32(u32[:])
			}
			n.neighbors[lc] = neighbors
		}

		g.arena[i] = n
		if !n.deleted {
			g.slotOf[n.id] = uint32(i)
			g.liveCount++
		}
	}

	return g, nil
}

func writeString(buf *bytes.Buffer, s string) {
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(s)))
	buf.Write(u32[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var u32 [4]byte
	if _, err := r.Read(u32[:]); err != nil {
		return "", fmt.Errorf("hnsw: truncated string length: %w", err)
	}
	n := int(binary.BigEndian.Uint32(u32[:]))
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", fmt.Errorf("hnsw: truncated string body: %w", err)
	}
	return string(b), nil
}

func float32ToBits(f float32) uint32 {
	return math.Float32bits(f)
}

func bitsToFloat32(u uint32) float32 {
	return math.Float32frombits(u)
}

func int32ToUint32(i int32) uint32 { return uint32(i) }
func uint32ToInt32(u uint32) int32 { return int32(u) }
