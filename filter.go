package noungraph

import (
	"github.com/RoaringBitmap/roaring/v2"
)

// Predicate is one exact field=value equality test. Search, Neighbours, and
// related traversal calls accept a list of Predicates and intersect their
// bitmaps (a conjunction), which is the pre-filter for a filtered vector
// search or a filtered graph walk.
type Predicate struct {
	Field string
	Value string
}

// resolvePredicates ANDs together the posting-list bitmap for each
// predicate in order, short-circuiting to an empty result the moment any
// predicate matches nothing. A nil result (no predicates given) means "no
// filter", distinct from an empty bitmap ("filter matched nothing").
func (e *Engine) resolvePredicates(predicates []Predicate) *roaring.Bitmap {
	if len(predicates) == 0 {
		return nil
	}
	var result *roaring.Bitmap
	for _, p := range predicates {
		bm := e.nounFilterBitmap(p.Field, p.Value)
		if result == nil {
			result = bm
		} else {
			result = roaring.And(result, bm)
		}
		if result.GetCardinality() == 0 {
			break
		}
	}
	return result
}
