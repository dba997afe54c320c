package noungraph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/noungraph/noungraph/internal/chunkindex"
	nerrors "github.com/noungraph/noungraph/internal/errors"
	"github.com/noungraph/noungraph/internal/idutil"
	"github.com/noungraph/noungraph/internal/txn"
)

// Noun is a stored entity: a typed, embedded, metadata-tagged vertex in
// the graph. Vector must match the engine's configured dimensions.
// Metadata leaf values are restricted to the Value sum type (null,
// boolean, integer, float, string, array-of-primitive, or object), not
// arbitrary strings, so field-type inference and the metadata chunk index
// both operate on the value's real type instead of a pre-stringified one.
type Noun struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Vector   []float32        `json:"vector"`
	Metadata map[string]Value `json:"metadata"`
}

func nounBlobKey(id string) string { return "nouns/" + id }

// opFunc adapts a name and an execute closure to txn.Operation, since most
// of an Engine's operations are one-off closures rather than named types.
type opFunc struct {
	name    string
	execute func(ctx context.Context) (txn.Rollback, error)
}

func (o opFunc) Name() string { return o.name }
func (o opFunc) Execute(ctx context.Context) (txn.Rollback, error) {
	return o.execute(ctx)
}

// indexMetadataValue adds id to every index term a Value resolves to (a
// null via the index's null sentinel, a scalar as its canonical term, an
// array as every element's term), and feeds the field's type inference.
func (e *Engine) indexMetadataValue(ctx context.Context, field string, value Value, id uint32) {
	idx := e.indexFor(field)
	if value.Kind == ValueNull {
		idx.AddNull(id)
	}
	for _, term := range indexTerms(value) {
		idx.Add(term, id)
	}
	e.fieldInference(field).Observe(fieldSample(value))
	e.persistFieldType(ctx, field)
}

// unindexMetadataValue retracts everything indexMetadataValue recorded for
// id under field.
func (e *Engine) unindexMetadataValue(field string, value Value, id uint32) {
	idx := e.indexFor(field)
	if value.Kind == ValueNull {
		idx.RemoveNull(id)
	}
	for _, term := range indexTerms(value) {
		idx.Remove(term, id)
	}
}

// flushIndex persists idx's dirty chunks and sparse directory. A flush
// failure is logged, not returned, to match persistIDMaps's "recoverable on
// next restore" tolerance: the in-memory index is already correct, only the
// on-disk mirror lags.
func (e *Engine) flushIndex(ctx context.Context, idx *chunkindex.Index) {
	if err := idx.Flush(ctx, e.adapter); err != nil {
		e.log.Warn("metadata chunk index flush failed; recoverable on next restoreMetaIndexes", "error", err)
	}
}

// AddNoun stores a new noun and indexes it for vector search and metadata
// lookup. Returns the caller-facing string id. The four index writes
// (id assignment, HNSW insertion, metadata chunk index, blob persistence)
// run as one transaction: a failure partway through rolls back everything
// already applied.
func (e *Engine) AddNoun(ctx context.Context, typ string, vector []float32, metadata map[string]Value) (string, error) {
	if len(vector) != e.cfg.Vector.Dimensions {
		return "", nerrors.New("noungraph", nerrors.CodeInvalidVector,
			fmt.Sprintf("vector has %d dimensions, engine expects %d", len(vector), e.cfg.Vector.Dimensions), nil)
	}

	id := idutil.NewID()
	var intID uint32

	idOp := opFunc{"assign-noun-id", func(ctx context.Context) (txn.Rollback, error) {
		var err error
		intID, err = e.nounIDs.GetOrAssign(id)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			e.nounIDs.Delete(id)
			return nil
		}, nil
	}}

	vectorOp := opFunc{"insert-vector", func(ctx context.Context) (txn.Rollback, error) {
		if err := e.vectors.Insert(typ, intID, vector); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			e.vectors.Delete(typ, intID)
			return nil
		}, nil
	}}

	metaOp := opFunc{"index-metadata", func(ctx context.Context) (txn.Rollback, error) {
		typeIdx := e.typeIndexFor(typ)
		typeIdx.Add(typ, intID)
		e.flushIndex(ctx, typeIdx)
		for field, value := range metadata {
			e.indexMetadataValue(ctx, field, value, intID)
			e.flushIndex(ctx, e.indexFor(field))
		}
		return func(ctx context.Context) error {
			e.typeIndexFor(typ).Remove(typ, intID)
			for field, value := range metadata {
				e.unindexMetadataValue(field, value, intID)
			}
			return nil
		}, nil
	}}

	blobOp := opFunc{"persist-noun-blob", func(ctx context.Context) (txn.Rollback, error) {
		noun := Noun{ID: id, Type: typ, Vector: vector, Metadata: metadata}
		data, err := json.Marshal(noun)
		if err != nil {
			return nil, nerrors.Permanent("noungraph", nerrors.CodeInvalidInput, "failed to encode noun", err)
		}
		if err := e.adapter.PutBlob(ctx, nounBlobKey(id), data); err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return e.adapter.DeleteBlob(ctx, nounBlobKey(id))
		}, nil
	}}

	batch := txn.NewBatch("add-noun", idOp, vectorOp, metaOp, blobOp)
	if err := txn.New(batch).Run(ctx); err != nil {
		return "", err
	}

	if err := e.persistIDMaps(ctx); err != nil {
		e.log.Warn("noun added but id-map snapshot failed; recoverable on next restoreIDMaps", "noun_id", id, "error", err)
	}
	e.persistVectorType(ctx, typ)
	if e.cache != nil {
		_ = e.cache.Invalidate(nounBlobKey(id))
	}
	return id, nil
}

// GetNoun fetches a noun by its string id, routing the read through the
// cache manager if one is attached.
func (e *Engine) GetNoun(ctx context.Context, id string) (*Noun, error) {
	var data []byte
	var err error
	if e.cache != nil {
		data, err = e.cache.Get(ctx, nounBlobKey(id))
	} else {
		data, err = e.adapter.GetBlob(ctx, nounBlobKey(id))
	}
	if err != nil {
		return nil, err
	}
	var noun Noun
	if err := json.Unmarshal(data, &noun); err != nil {
		return nil, nerrors.Permanent("noungraph", nerrors.CodeChecksumMismatch, "corrupt noun blob for "+id, err)
	}
	return &noun, nil
}

// DeleteNoun removes a noun from every index it was added to. Verbs
// referencing the deleted noun are left in place (a dangling endpoint);
// traversal and ShortestPath simply never reach the retired id again
// since GetOrAssign never reuses it.
func (e *Engine) DeleteNoun(ctx context.Context, id string) error {
	intID, ok := e.nounIDs.GetInt(id)
	if !ok {
		return nerrors.NotFound("noungraph", "no such noun: "+id)
	}
	noun, err := e.GetNoun(ctx, id)
	if err != nil {
		return err
	}

	e.vectors.Delete(noun.Type, intID)
	typeIdx := e.typeIndexFor(noun.Type)
	typeIdx.Remove(noun.Type, intID)
	e.flushIndex(ctx, typeIdx)
	for field, value := range noun.Metadata {
		e.unindexMetadataValue(field, value, intID)
		e.flushIndex(ctx, e.indexFor(field))
	}
	e.nounIDs.Delete(id)
	e.persistVectorType(ctx, noun.Type)

	if err := e.adapter.DeleteBlob(ctx, nounBlobKey(id)); err != nil {
		return err
	}
	if e.cache != nil {
		_ = e.cache.Invalidate(nounBlobKey(id))
	}
	return e.persistIDMaps(ctx)
}

// UpdateNoun replaces a noun's vector and/or metadata. A nil vector leaves
// the existing vector untouched; a nil metadata map leaves metadata
// untouched. Index entries for changed metadata fields are retracted and
// re-added so stale postings never linger.
func (e *Engine) UpdateNoun(ctx context.Context, id string, vector []float32, metadata map[string]Value) error {
	intID, ok := e.nounIDs.GetInt(id)
	if !ok {
		return nerrors.NotFound("noungraph", "no such noun: "+id)
	}
	noun, err := e.GetNoun(ctx, id)
	if err != nil {
		return err
	}

	if vector != nil {
		if len(vector) != e.cfg.Vector.Dimensions {
			return nerrors.New("noungraph", nerrors.CodeInvalidVector,
				fmt.Sprintf("vector has %d dimensions, engine expects %d", len(vector), e.cfg.Vector.Dimensions), nil)
		}
		if err := e.vectors.Insert(noun.Type, intID, vector); err != nil {
			return err
		}
		noun.Vector = vector
		e.persistVectorType(ctx, noun.Type)
	}

	if metadata != nil {
		for field, value := range noun.Metadata {
			e.unindexMetadataValue(field, value, intID)
			e.flushIndex(ctx, e.indexFor(field))
		}
		for field, value := range metadata {
			e.indexMetadataValue(ctx, field, value, intID)
			e.flushIndex(ctx, e.indexFor(field))
		}
		noun.Metadata = metadata
	}

	data, err := json.Marshal(noun)
	if err != nil {
		return nerrors.Permanent("noungraph", nerrors.CodeInvalidInput, "failed to encode noun", err)
	}
	if err := e.adapter.PutBlob(ctx, nounBlobKey(id), data); err != nil {
		return err
	}
	if e.cache != nil {
		_ = e.cache.Invalidate(nounBlobKey(id))
	}
	return nil
}

// nounFilterBitmap resolves a field/value equality filter to the roaring
// bitmap of matching noun ids, or nil if field is empty (no filter).
func (e *Engine) nounFilterBitmap(field, value string) *roaring.Bitmap {
	if field == "" {
		return nil
	}
	return e.indexFor(field).Lookup(value)
}
