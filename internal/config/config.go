// Package config holds the noungraph engine's tuning knobs as a single
// explicit struct constructed by the caller, per the "no implicit
// singletons" design note: there is no global config, no config file format,
// and no CLI flag parsing here — those are out of scope for the core.
package config

import (
	"math"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete per-engine tuning surface. Every subsystem reads
// its slice of this struct at construction; nothing is read from a global.
type Config struct {
	Vector     VectorConfig     `yaml:"vector" json:"vector"`
	LSM        LSMConfig        `yaml:"lsm" json:"lsm"`
	Bloom      BloomConfig      `yaml:"bloom" json:"bloom"`
	Metadata   MetadataConfig   `yaml:"metadata" json:"metadata"`
	FieldType  FieldTypeConfig  `yaml:"field_type" json:"field_type"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Adapter    AdapterConfig    `yaml:"adapter" json:"adapter"`
}

// VectorConfig configures the HNSW index.
type VectorConfig struct {
	// Dimensions is the vector dimension; fixed per engine instance.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Metric selects the distance function: "cosine" or "euclidean".
	Metric string `yaml:"metric" json:"metric"`

	// M is the max neighbours per node at levels above 0.
	M int `yaml:"m" json:"m"`

	// MMax0 is the max neighbours per node at level 0 (conventionally 2*M).
	MMax0 int `yaml:"m_max0" json:"m_max0"`

	// EfConstruction is the beam width used while inserting.
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`

	// EfSearch is the default beam width used while querying.
	EfSearch int `yaml:"ef_search" json:"ef_search"`

	// ML is the level-generation factor (conventionally 1/ln(M)).
	ML float64 `yaml:"ml" json:"ml"`

	// TypeAware partitions the index into one HNSW graph per noun type.
	TypeAware bool `yaml:"type_aware" json:"type_aware"`
}

// DefaultVectorConfig returns sensible HNSW defaults (M=16 gives recall@10
// >= 0.95 at efSearch=100 per the engine's tested invariant).
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions:     dimensions,
		Metric:         "cosine",
		M:              16,
		MMax0:          32,
		EfConstruction: 128,
		EfSearch:       100,
		ML:             1.0 / math.Log(16),
		TypeAware:      true,
	}
}

// LSMConfig configures the LSM tree backing the verb adjacency index.
type LSMConfig struct {
	// MemtableFlushThreshold is the relation count (|MemTable|) that
	// triggers a flush to a level-0 SSTable.
	MemtableFlushThreshold int `yaml:"memtable_flush_threshold" json:"memtable_flush_threshold"`

	// CompactionTrigger is the SSTable count at a level that triggers
	// size-tiered compaction into the next level.
	CompactionTrigger int `yaml:"compaction_trigger" json:"compaction_trigger"`

	// MaxLevel bounds the level number (levels are 0..MaxLevel).
	MaxLevel int `yaml:"max_level" json:"max_level"`

	// CompactionCheckInterval is carried in the configuration but is not
	// read by the LSM tree: there is no periodic compaction check.
	// Compaction runs synchronously inside Flush, whenever a flush (or a
	// compaction cascading into the next level) leaves a level holding
	// CompactionTrigger tables; a level that stops receiving flushes is
	// never compacted on a timer. See DESIGN.md.
	CompactionCheckInterval time.Duration `yaml:"compaction_check_interval" json:"compaction_check_interval"`

	// QuarantineThreshold is the consecutive-failure count after which an
	// SSTable's health score trips its circuit breaker and it is omitted
	// from reads (the engine design failure model).
	QuarantineThreshold int `yaml:"quarantine_threshold" json:"quarantine_threshold"`
}

// DefaultLSMConfig returns the LSM tuning defaults.
func DefaultLSMConfig() LSMConfig {
	return LSMConfig{
		MemtableFlushThreshold:  100_000,
		CompactionTrigger:       10,
		MaxLevel:                6,
		CompactionCheckInterval: 30 * time.Second,
		QuarantineThreshold:     5,
	}
}

// BloomConfig configures bloom filters built for SSTables and metadata
// chunks.
type BloomConfig struct {
	// TargetFPR is the target false-positive rate (e.g. 0.01 for 1%).
	TargetFPR float64 `yaml:"target_fpr" json:"target_fpr"`
}

// DefaultBloomConfig returns a 1% target false-positive rate.
func DefaultBloomConfig() BloomConfig {
	return BloomConfig{TargetFPR: 0.01}
}

// MetadataConfig configures the chunked roaring-bitmap metadata index.
type MetadataConfig struct {
	// TargetChunkSize is the preferred number of distinct values per chunk.
	TargetChunkSize int `yaml:"target_chunk_size" json:"target_chunk_size"`
	// SplitThreshold triggers a median split once a chunk exceeds it.
	SplitThreshold int `yaml:"split_threshold" json:"split_threshold"`
	// MergeThreshold allows merging adjacent chunks below this combined size.
	MergeThreshold int `yaml:"merge_threshold" json:"merge_threshold"`
}

// DefaultMetadataConfig returns the 50/80/20 chunk-size/split/merge defaults.
func DefaultMetadataConfig() MetadataConfig {
	return MetadataConfig{
		TargetChunkSize: 50,
		SplitThreshold:  80,
		MergeThreshold:  20,
	}
}

// FieldTypeConfig configures the value-sampling field-type classifier.
type FieldTypeConfig struct {
	SampleSize          int           `yaml:"sample_size" json:"sample_size"`
	MinSampleSize       int           `yaml:"min_sample_size" json:"min_sample_size"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" json:"confidence_threshold"`
	MaxAge              time.Duration `yaml:"max_age" json:"max_age"`
}

// DefaultFieldTypeConfig returns the freshness rule from the engine design:
// confidence >= 0.9, sampleSize >= 50, age < 24h.
func DefaultFieldTypeConfig() FieldTypeConfig {
	return FieldTypeConfig{
		SampleSize:          100,
		MinSampleSize:       50,
		ConfidenceThreshold: 0.9,
		MaxAge:              24 * time.Hour,
	}
}

// CacheConfig configures the three-tier cache manager.
type CacheConfig struct {
	HotMaxEntries     int           `yaml:"hot_max_entries" json:"hot_max_entries"`
	EvictionThreshold float64       `yaml:"eviction_threshold" json:"eviction_threshold"`
	WarmTTL           time.Duration `yaml:"warm_ttl" json:"warm_ttl"`
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	TuningInterval    time.Duration `yaml:"tuning_interval" json:"tuning_interval"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	MaxQueueSize      int           `yaml:"max_queue_size" json:"max_queue_size"`
}

// DefaultCacheConfig returns the cache tuning defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		HotMaxEntries:     100_000,
		EvictionThreshold: 0.8,
		WarmTTL:           24 * time.Hour,
		BatchSize:         32,
		TuningInterval:    5 * time.Minute,
		AcquireTimeout:    30 * time.Second,
		MaxQueueSize:      1024,
	}
}

// AdapterConfig configures the storage adapter.
type AdapterConfig struct {
	// Deadline bounds a single adapter call before it surfaces Transient.
	Deadline time.Duration `yaml:"deadline" json:"deadline"`
}

// DefaultAdapterConfig returns a 30s default adapter call deadline.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{Deadline: 30 * time.Second}
}

// Default returns a complete default Config for the given vector dimension.
func Default(dimensions int) Config {
	return Config{
		Vector:    DefaultVectorConfig(dimensions),
		LSM:       DefaultLSMConfig(),
		Bloom:     DefaultBloomConfig(),
		Metadata:  DefaultMetadataConfig(),
		FieldType: DefaultFieldTypeConfig(),
		Cache:     DefaultCacheConfig(),
		Adapter:   DefaultAdapterConfig(),
	}
}

// ToYAML encodes the Config as YAML, for an embedding application that
// wants to checkpoint its tuning alongside the engine's data files. The
// engine itself never reads a config file; this is purely for callers that
// choose to persist one.
func (c Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseYAML decodes a Config previously produced by ToYAML.
func ParseYAML(data []byte) (Config, error) {
	var c Config
	err := yaml.Unmarshal(data, &c)
	return c, err
}
