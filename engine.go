// Package noungraph is an embeddable vector-and-graph database engine: it
// stores typed entities ("nouns") carrying an embedding vector and
// key-value metadata, and typed, weighted relationships between them
// ("verbs"), and answers approximate nearest-neighbor search (optionally
// filtered by metadata), graph traversal, and exact metadata lookup.
//
// An Engine is constructed once per storage location with an explicit
// Config; there is no global state and no implicit singleton.
package noungraph

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/noungraph/noungraph/internal/cache"
	"github.com/noungraph/noungraph/internal/chunkindex"
	"github.com/noungraph/noungraph/internal/config"
	nerrors "github.com/noungraph/noungraph/internal/errors"
	"github.com/noungraph/noungraph/internal/fieldtype"
	"github.com/noungraph/noungraph/internal/hnsw"
	"github.com/noungraph/noungraph/internal/idutil"
	"github.com/noungraph/noungraph/internal/lsm"
	"github.com/noungraph/noungraph/internal/storage"
)

// Engine is one noungraph instance. Methods are safe for concurrent use
// from multiple goroutines, but the engine assumes a single logical
// writer: concurrent writes are serialized internally, not conflict
// resolved.
type Engine struct {
	cfg     config.Config
	log     *slog.Logger
	adapter storage.Adapter

	nounIDs *idutil.Map
	vectors *hnsw.TypedIndex
	edges   *lsm.Tree
	cache   *cache.Manager

	metaMu  sync.Mutex
	metaIdx map[string]*chunkindex.Index    // field name -> posting list index
	typeIdx map[string]*chunkindex.Index    // synthetic "__type" field, same shape
	fields  map[string]*fieldtype.Inference // field name -> value sample

	hnswMu    sync.Mutex
	hnswTypes map[string]bool // noun types already recorded in the hnsw/manifest blob
}

// Option configures optional Engine features at construction time.
type Option func(*Engine)

// WithLogger attaches a logger; the zero value is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithCache attaches a cache.Manager fronting noun/verb blob reads.
func WithCache(m *cache.Manager) Option {
	return func(e *Engine) { e.cache = m }
}

// New constructs an Engine over adapter using cfg. adapter is not closed
// by the Engine; the caller owns its lifecycle.
func New(ctx context.Context, adapter storage.Adapter, cfg config.Config, opts ...Option) (*Engine, error) {
	edges, err := lsm.Open(ctx, adapter, "edges/", cfg.LSM, cfg.Bloom)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		log:       slog.Default(),
		adapter:   adapter,
		nounIDs:   idutil.New(),
		vectors:   hnsw.NewTyped(cfg.Vector),
		edges:     edges,
		metaIdx:   make(map[string]*chunkindex.Index),
		typeIdx:   make(map[string]*chunkindex.Index),
		fields:    make(map[string]*fieldtype.Inference),
		hnswTypes: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.restoreIDMaps(ctx); err != nil {
		return nil, err
	}
	if err := e.restoreVectors(ctx); err != nil {
		return nil, err
	}
	if err := e.restoreMetaIndexes(ctx); err != nil {
		return nil, err
	}
	if err := e.restoreFieldTypes(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// restoreIDMaps reloads the noun id mapper from its persisted snapshot, if
// one exists. A fresh adapter with nothing persisted yet is not an error.
func (e *Engine) restoreIDMaps(ctx context.Context) error {
	if data, err := e.adapter.GetBlob(ctx, "idmap/nouns"); err == nil {
		if m, err := idutil.Unmarshal(data); err == nil {
			e.nounIDs = m
		}
	}
	return nil
}

// persistIDMaps snapshots the noun id mapper. Called after every mutation
// that assigns a new noun id, so a crash never loses an id-to-entity
// binding that a vector write already committed. Verbs need no equivalent
// snapshot: their string ids are never translated to a dense uint32, only
// their source/target noun ids are, and those are already covered here.
func (e *Engine) persistIDMaps(ctx context.Context) error {
	data, err := e.nounIDs.Marshal()
	if err != nil {
		return err
	}
	return e.adapter.PutBlob(ctx, "idmap/nouns", data)
}

// hnswManifestKey holds a JSON array of noun types known to have a
// persisted HNSW graph snapshot.
const hnswManifestKey = "hnsw/manifest"

func hnswSnapshotKey(typ string) string { return "hnsw/" + typ + "/manifest" }

// restoreVectors reloads every type's HNSW graph from its persisted
// snapshot, per the manifest of known types. A type listed in the manifest
// whose snapshot blob is missing is tolerated as an orphaned manifest
// entry (the type's graph starts empty, same as a fresh engine).
func (e *Engine) restoreVectors(ctx context.Context) error {
	data, err := e.adapter.GetBlob(ctx, hnswManifestKey)
	if err != nil {
		if nerrors.IsKind(err, nerrors.KindNotFound) {
			return nil
		}
		return err
	}
	var types []string
	if err := json.Unmarshal(data, &types); err != nil {
		return nerrors.Permanent("noungraph", nerrors.CodeCorruptManifest, "corrupt hnsw manifest", err)
	}

	for _, typ := range types {
		snap, err := e.adapter.GetBlob(ctx, hnswSnapshotKey(typ))
		if err != nil {
			if nerrors.IsKind(err, nerrors.KindNotFound) {
				continue
			}
			return err
		}
		if err := e.vectors.LoadType(typ, snap); err != nil {
			return err
		}
		e.hnswTypes[typ] = true
	}
	return nil
}

// persistVectorType snapshots typ's HNSW graph and writes it to storage,
// then updates the manifest if typ was not already a known persisted type.
// Called after every HNSW mutation (per noun add/update/delete) so a
// restart never loses vectors the in-memory graph already has, matching
// the per-insert flush the chunk index already does (the LSM tree, by
// contrast, only writes its memtable out on Flush).
// Failures are logged rather than returned: the in-memory graph is still
// correct, only its on-disk mirror lags until the next successful flush.
func (e *Engine) persistVectorType(ctx context.Context, typ string) {
	snap := e.vectors.SnapshotType(typ)
	if snap == nil {
		return
	}
	if err := e.adapter.PutBlob(ctx, hnswSnapshotKey(typ), snap); err != nil {
		e.log.Warn("hnsw snapshot write failed; recoverable on next restoreVectors", "type", typ, "error", err)
		return
	}
	if err := e.updateHNSWManifest(ctx, typ); err != nil {
		e.log.Warn("hnsw manifest update failed; recoverable on next restoreVectors", "type", typ, "error", err)
	}
}

// updateHNSWManifest rewrites the manifest blob only if typ is not already
// a known persisted type, to avoid a manifest rewrite on every single
// insert once a type has been seen once.
func (e *Engine) updateHNSWManifest(ctx context.Context, typ string) error {
	e.hnswMu.Lock()
	if e.hnswTypes[typ] {
		e.hnswMu.Unlock()
		return nil
	}
	e.hnswTypes[typ] = true
	types := make([]string, 0, len(e.hnswTypes))
	for t := range e.hnswTypes {
		types = append(types, t)
	}
	e.hnswMu.Unlock()

	data, err := json.Marshal(types)
	if err != nil {
		return nerrors.Permanent("noungraph", nerrors.CodeInvalidInput, "failed to encode hnsw manifest", err)
	}
	return e.adapter.PutBlob(ctx, hnswManifestKey, data)
}

// persistAllVectors snapshots every currently indexed type, used as a
// final safety-net flush on Close in case a per-insert persistVectorType
// call was ever skipped (e.g. logged-and-swallowed write failure).
func (e *Engine) persistAllVectors(ctx context.Context) {
	for _, typ := range e.vectors.Types() {
		e.persistVectorType(ctx, typ)
	}
}

// sparsePrefix is the storage.Adapter key prefix chunkindex.Flush/Open use
// for a field's sparse directory; the synthetic noun-type index shares the
// same field namespace under a reserved "__type:" prefix.
const sparsePrefix = "sparse/"

// restoreMetaIndexes reloads every field's chunk index (and the synthetic
// per-type index) from its persisted sparse directory, discovered by
// listing every "sparse/" key rather than requiring a separate manifest.
func (e *Engine) restoreMetaIndexes(ctx context.Context) error {
	keys, err := e.adapter.ListPrefix(ctx, sparsePrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		field := strings.TrimPrefix(key, sparsePrefix)
		idx, err := chunkindex.Open(ctx, field, e.cfg.Metadata, e.cfg.Bloom, e.adapter)
		if err != nil {
			return err
		}
		if typ, ok := strings.CutPrefix(field, "__type:"); ok {
			e.typeIdx[typ] = idx
		} else {
			e.metaIdx[field] = idx
		}
	}
	return nil
}

// fieldTypePrefix is the storage.Adapter key prefix under which each
// field's fieldtype.Inference snapshot is persisted.
const fieldTypePrefix = "field-types/"

func fieldTypeKey(field string) string { return fieldTypePrefix + field }

// restoreFieldTypes reloads every field's value-sample inference from its
// persisted snapshot, so classification survives a restart instead of
// starting cold.
func (e *Engine) restoreFieldTypes(ctx context.Context) error {
	keys, err := e.adapter.ListPrefix(ctx, fieldTypePrefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		field := strings.TrimPrefix(key, fieldTypePrefix)
		data, err := e.adapter.GetBlob(ctx, key)
		if err != nil {
			return err
		}
		inf, err := fieldtype.Unmarshal(data)
		if err != nil {
			return err
		}
		e.fields[field] = inf
	}
	return nil
}

// persistFieldType snapshots field's inference state. Called after every
// Observe so a restart resumes classification instead of discarding the
// sample entirely.
func (e *Engine) persistFieldType(ctx context.Context, field string) {
	inf := e.fieldInference(field)
	data, err := inf.Marshal()
	if err != nil {
		e.log.Warn("field-type snapshot encode failed", "field", field, "error", err)
		return
	}
	if err := e.adapter.PutBlob(ctx, fieldTypeKey(field), data); err != nil {
		e.log.Warn("field-type snapshot write failed; recoverable on next restoreFieldTypes", "field", field, "error", err)
	}
}

// Close flushes the edge LSM tree's memtable, every metadata chunk index,
// and the vector index snapshot to storage. It does not close the
// underlying storage.Adapter.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.edges.Flush(ctx); err != nil {
		return err
	}
	e.persistAllVectors(ctx)

	e.metaMu.Lock()
	indexes := make([]*chunkindex.Index, 0, len(e.metaIdx)+len(e.typeIdx))
	for _, idx := range e.metaIdx {
		indexes = append(indexes, idx)
	}
	for _, idx := range e.typeIdx {
		indexes = append(indexes, idx)
	}
	e.metaMu.Unlock()
	for _, idx := range indexes {
		e.flushIndex(ctx, idx)
	}

	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			return err
		}
	}
	return nil
}

// indexFor returns (creating if necessary) the chunkindex.Index for field.
func (e *Engine) indexFor(field string) *chunkindex.Index {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	idx, ok := e.metaIdx[field]
	if !ok {
		idx = chunkindex.New(field, e.cfg.Metadata, e.cfg.Bloom)
		e.metaIdx[field] = idx
	}
	return idx
}

// typeIndexFor returns (creating if necessary) the synthetic type index used
// to filter searches/lookups by noun type without a full scan.
func (e *Engine) typeIndexFor(typ string) *chunkindex.Index {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	idx, ok := e.typeIdx[typ]
	if !ok {
		idx = chunkindex.New("__type:"+typ, e.cfg.Metadata, e.cfg.Bloom)
		e.typeIdx[typ] = idx
	}
	return idx
}

// fieldInference returns (creating if necessary) the fieldtype.Inference
// tracking field's observed values.
func (e *Engine) fieldInference(field string) *fieldtype.Inference {
	e.metaMu.Lock()
	defer e.metaMu.Unlock()
	inf, ok := e.fields[field]
	if !ok {
		inf = fieldtype.New(e.cfg.FieldType.SampleSize)
		e.fields[field] = inf
	}
	return inf
}
