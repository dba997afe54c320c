package noungraph

import (
	"github.com/dustin/go-humanize"

	"github.com/noungraph/noungraph/internal/cache"
	"github.com/noungraph/noungraph/internal/lsm"
)

// Stats summarizes the engine's current size and health across every
// subsystem, for operational dashboards and the CLI-free introspection the
// engine exposes to an embedding application.
type Stats struct {
	NounCount int
	VerbEdges lsm.Stats
	VectorLen int
	NounTypes []string
	Cache     *cache.Stats
}

// Stats collects a point-in-time snapshot of engine size and cache
// effectiveness.
func (e *Engine) Stats() Stats {
	s := Stats{
		NounCount: e.nounIDs.Len(),
		VerbEdges: e.edges.Stats(),
		VectorLen: e.vectors.Len(),
		NounTypes: e.vectors.Types(),
	}
	if e.cache != nil {
		cs := e.cache.Stats()
		s.Cache = &cs
	}
	return s
}

// String renders Stats in a compact human-readable form, e.g. for a log
// line or a debug endpoint: sizes are rendered with humanize so "128000
// verb edges" reads as "128,000 verb edges".
func (s Stats) String() string {
	out := humanize.Comma(int64(s.NounCount)) + " nouns, " +
		humanize.Comma(int64(s.VectorLen)) + " vectors, " +
		humanize.Comma(int64(s.VerbEdges.MemtableSize)) + " pending verb edges"
	if s.Cache != nil {
		out += ", cache hit rate " + humanize.Ftoa(cacheHitRate(*s.Cache))
	}
	return out
}

func cacheHitRate(c cache.Stats) float64 {
	total := c.HotHits + c.WarmHits + c.ColdHits
	if total == 0 {
		return 0
	}
	return float64(c.HotHits+c.WarmHits) / float64(total)
}
