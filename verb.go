package noungraph

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	nerrors "github.com/noungraph/noungraph/internal/errors"
	"github.com/noungraph/noungraph/internal/graph"
	"github.com/noungraph/noungraph/internal/idutil"
)

// Verb is a directed, typed, weighted relationship between two nouns.
type Verb struct {
	ID       string           `json:"id"`
	Source   string           `json:"source"`
	Target   string           `json:"target"`
	Type     string           `json:"type"`
	Weight   float64          `json:"weight"`
	Metadata map[string]Value `json:"metadata"`
}

func verbBlobKey(id string) string  { return "verbs/" + id }
func verbIndexKey(id string) string { return "verbidx/" + id }

// edgeKey encodes an adjacency entry so that a lexical range scan over keys
// sharing a source id prefix enumerates every out-edge of that source in
// an order independent of insertion order. Ids are zero-padded to 10
// digits so lexical and numeric order agree. The verb's own id is folded
// in as a trailing, fourth key segment: two verbs sharing (source, type,
// target) but differing in weight or metadata are still distinct edges per
// the multi-edge invariant, and without this segment they would collide on
// the same LSM key and silently overwrite one another.
func edgeKey(source uint32, verbType string, target uint32, verbID string) []byte {
	return []byte(fmt.Sprintf("%010d:%s:%010d:%s", source, verbType, target, verbID))
}

func edgePrefix(source uint32) []byte {
	return []byte(fmt.Sprintf("%010d:", source))
}

func edgePrefixUpperBound(source uint32) []byte {
	return []byte(fmt.Sprintf("%010d;", source)) // ';' follows ':' in ASCII
}

func encodeWeight(w float64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(w))
	return buf[:]
}

func decodeWeight(b []byte) float64 {
	if len(b) != 8 {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// AddVerb records a relationship of the given type from source to target
// with the given weight and metadata. Both endpoints must already exist as
// nouns; a missing endpoint is reported as a Conflict error rather than
// silently creating a dangling edge.
func (e *Engine) AddVerb(ctx context.Context, sourceID, targetID, verbType string, weight float64, metadata map[string]Value) (string, error) {
	srcInt, ok := e.nounIDs.GetInt(sourceID)
	if !ok {
		return "", nerrors.Conflict("noungraph", "verb source does not exist: "+sourceID)
	}
	tgtInt, ok := e.nounIDs.GetInt(targetID)
	if !ok {
		return "", nerrors.Conflict("noungraph", "verb target does not exist: "+targetID)
	}

	id := idutil.NewID()
	key := edgeKey(srcInt, verbType, tgtInt, id)

	if err := e.edges.Put(ctx, key, encodeWeight(weight)); err != nil {
		return "", err
	}

	verb := Verb{ID: id, Source: sourceID, Target: targetID, Type: verbType, Weight: weight, Metadata: metadata}
	data, err := json.Marshal(verb)
	if err != nil {
		return "", nerrors.Permanent("noungraph", nerrors.CodeInvalidInput, "failed to encode verb", err)
	}
	if err := e.adapter.PutBlob(ctx, verbBlobKey(id), data); err != nil {
		return "", err
	}
	if err := e.adapter.PutBlob(ctx, verbIndexKey(id), key); err != nil {
		return "", err
	}
	return id, nil
}

// GetVerb fetches a verb by its string id.
func (e *Engine) GetVerb(ctx context.Context, id string) (*Verb, error) {
	var data []byte
	var err error
	if e.cache != nil {
		data, err = e.cache.Get(ctx, verbBlobKey(id))
	} else {
		data, err = e.adapter.GetBlob(ctx, verbBlobKey(id))
	}
	if err != nil {
		return nil, err
	}
	var verb Verb
	if err := json.Unmarshal(data, &verb); err != nil {
		return nil, nerrors.Permanent("noungraph", nerrors.CodeChecksumMismatch, "corrupt verb blob for "+id, err)
	}
	return &verb, nil
}

// DeleteVerb removes a verb: its adjacency-index tombstone, its metadata
// blob, and the reverse id-to-key index used to find the adjacency entry.
func (e *Engine) DeleteVerb(ctx context.Context, id string) error {
	keyBytes, err := e.adapter.GetBlob(ctx, verbIndexKey(id))
	if err != nil {
		return nerrors.NotFound("noungraph", "no such verb: "+id)
	}
	if err := e.edges.Delete(ctx, keyBytes); err != nil {
		return err
	}
	if err := e.adapter.DeleteBlob(ctx, verbBlobKey(id)); err != nil {
		return err
	}
	if err := e.adapter.DeleteBlob(ctx, verbIndexKey(id)); err != nil {
		return err
	}
	if e.cache != nil {
		_ = e.cache.Invalidate(verbBlobKey(id))
	}
	return nil
}

// engineAdjacency adapts the Engine's edge LSM tree to graph.Adjacency by
// scanning the key range owned by a single source id. It carries the
// context of the traversal call that constructed it, since graph.Adjacency
// itself is context-free.
type engineAdjacency struct {
	ctx context.Context
	e   *Engine
}

func (a engineAdjacency) OutEdges(source uint32) []graph.Edge {
	entries := a.e.edges.Scan(a.ctx, edgePrefix(source), edgePrefixUpperBound(source))
	out := make([]graph.Edge, 0, len(entries))
	for _, entry := range entries {
		_, verbType, target, ok := parseEdgeKey(entry.Key)
		if !ok {
			continue
		}
		out = append(out, graph.Edge{Target: target, Type: verbType, Weight: decodeWeight(entry.Value)})
	}
	return out
}

// parseEdgeKey splits a "%010d:type:%010d:verbID" key back into its parts,
// ignoring the trailing verb-id segment (callers needing the verb itself
// already have it via verbIndexKey's reverse lookup). The verb id is a
// UUID (idutil.NewID), which never contains a colon, so the key's last
// colon always separates it from the "source:type:target" prefix.
func parseEdgeKey(key []byte) (source uint32, verbType string, target uint32, ok bool) {
	s := string(key)
	if len(s) < 22 || s[10] != ':' {
		return 0, "", 0, false
	}
	lastColon := -1
	for i := len(s) - 1; i >= 11; i-- {
		if s[i] == ':' {
			lastColon = i
			break
		}
	}
	if lastColon == -1 {
		return 0, "", 0, false
	}
	prefix := s[:lastColon] // "source:type:target"

	secondColon := -1
	for i := len(prefix) - 1; i >= 11; i-- {
		if prefix[i] == ':' {
			secondColon = i
			break
		}
	}
	if secondColon == -1 || len(prefix)-secondColon-1 != 10 {
		return 0, "", 0, false
	}

	var srcNum, tgtNum uint32
	if _, err := fmt.Sscanf(prefix[:10], "%d", &srcNum); err != nil {
		return 0, "", 0, false
	}
	if _, err := fmt.Sscanf(prefix[secondColon+1:], "%d", &tgtNum); err != nil {
		return 0, "", 0, false
	}
	return srcNum, prefix[11:secondColon], tgtNum, true
}
