// Package fieldtype infers the semantic type of a metadata field purely
// from a sample of the values observed for it — never from the field
// name — so that a field like "zip" is classified by what its values parse
// as (numeric strings come out as integer, whatever the field is called),
// and a field renamed from "count" to "n" keeps its inferred type.
package fieldtype

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"regexp"
	"strconv"
	"sync"
	"time"

	nerrors "github.com/noungraph/noungraph/internal/errors"
)

// Type is one of the field-value classifications the engine distinguishes
// for query planning (equality/range support, sort order, timestamp
// bucketing).
type Type string

const (
	TypeString     Type = "string"
	TypeInteger    Type = "integer"
	TypeFloat      Type = "float"
	TypeBool       Type = "bool"
	TypeUUID       Type = "uuid"
	TypeISODate    Type = "iso-date"
	TypeISODateTime Type = "iso-datetime"
	TypeUnixSeconds Type = "unix-seconds"
	TypeUnixMillis  Type = "unix-ms"
	TypeArray       Type = "array"
	TypeObject      Type = "object"
	TypeUnknown     Type = "unknown"
)

// Sample is one observation fed to Observe. A leaf scalar carries its
// canonical string form in Raw for pattern/parse-based classification;
// Array, Object, and Null mark a non-scalar or absent value so the ladder
// doesn't try to string-parse a value that was never a string to begin
// with.
type Sample struct {
	Raw    string
	Array  bool
	Object bool
	Null   bool
}

// Scalar wraps a leaf value's canonical string form (the decimal form of
// an int/float, "true"/"false" for a bool, or the string itself).
func Scalar(raw string) Sample { return Sample{Raw: raw} }

// ArraySample marks an observation of an array-typed value.
func ArraySample() Sample { return Sample{Array: true} }

// ObjectSample marks an observation of an object-typed value.
func ObjectSample() Sample { return Sample{Object: true} }

// NullSample marks an observation of a null value. Nulls don't count
// toward any Type classification; hasNulls tracking for a field lives in
// the chunk index's zone map, not here.
func NullSample() Sample { return Sample{Null: true} }

// Inference accumulates a bounded sample of observed values per field and
// classifies the field's Type once the sample is large enough and recent
// enough, per the freshness rule in config.FieldTypeConfig.
type Inference struct {
	mu     sync.Mutex
	sample []Sample
	max    int

	cached       Type
	confidence   float64
	computedAt   time.Time
	sampleAtCalc int
}

// New returns an Inference that keeps up to maxSample observed values.
func New(maxSample int) *Inference {
	return &Inference{max: maxSample}
}

// Observe records a newly seen value for the field. Once the sample is
// full, new observations replace the oldest (a bounded FIFO), so the
// classification tracks a field whose value distribution drifts over
// time instead of freezing on the first values ever seen.
func (inf *Inference) Observe(s Sample) {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if s.Null {
		return
	}
	if len(inf.sample) < inf.max {
		inf.sample = append(inf.sample, s)
	} else if inf.max > 0 {
		// drop the oldest value and append the new one: deterministic, not random eviction
		copy(inf.sample, inf.sample[1:])
		inf.sample[len(inf.sample)-1] = s
	}
}

// Classify returns the field's inferred Type and the confidence (fraction
// of the sample agreeing with that type) backing it. If the cached result
// is still fresh (computed from a sample of at least minSampleSize within
// maxAge) it is reused rather than recomputed.
func (inf *Inference) Classify(minSampleSize int, confidenceThreshold float64, maxAge time.Duration, now time.Time) (Type, float64) {
	inf.mu.Lock()
	defer inf.mu.Unlock()

	if inf.isFresh(minSampleSize, maxAge, now) {
		if inf.confidence < confidenceThreshold {
			return TypeUnknown, inf.confidence
		}
		return inf.cached, inf.confidence
	}

	t, conf := classifySample(inf.sample)
	inf.cached = t
	inf.confidence = conf
	inf.computedAt = now
	inf.sampleAtCalc = len(inf.sample)

	if conf < confidenceThreshold {
		return TypeUnknown, conf
	}
	return t, conf
}

func (inf *Inference) isFresh(minSampleSize int, maxAge time.Duration, now time.Time) bool {
	if inf.computedAt.IsZero() {
		return false
	}
	if inf.sampleAtCalc < minSampleSize {
		return false
	}
	if now.Sub(inf.computedAt) >= maxAge {
		return false
	}
	return true
}

// SampleSize returns the number of values currently held in the sample.
func (inf *Inference) SampleSize() int {
	inf.mu.Lock()
	defer inf.mu.Unlock()
	return len(inf.sample)
}

// classifySample runs the predicate ladder over every sampled value and
// returns the type with the highest matching fraction.
func classifySample(sample []Sample) (Type, float64) {
	if len(sample) == 0 {
		return TypeUnknown, 0
	}

	counts := map[Type]int{}
	for _, s := range sample {
		counts[classifyOne(s)]++
	}

	var best Type = TypeString
	var bestCount int
	for t, c := range counts {
		if c > bestCount {
			best, bestCount = t, c
		}
	}
	return best, float64(bestCount) / float64(len(sample))
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// classifyOne classifies a single value via a predicate ladder, narrowest
// match first: array/object markers, then UUID, then ISO-8601 datetime,
// then ISO-8601 date, then bool, then integer (itself bucketed into a
// unix-seconds or unix-ms timestamp if its magnitude matches one), then
// float, else string. Order matters because every integer also parses as
// a float, and every value that parses as a timestamp also parses as a
// plain integer.
func classifyOne(s Sample) Type {
	switch {
	case s.Array:
		return TypeArray
	case s.Object:
		return TypeObject
	case s.Null:
		return TypeUnknown
	}

	v := s.Raw
	if uuidPattern.MatchString(v) {
		return TypeUUID
	}
	if _, err := time.Parse(time.RFC3339, v); err == nil {
		return TypeISODateTime
	}
	if _, err := time.Parse("2006-01-02", v); err == nil {
		return TypeISODate
	}
	if _, err := strconv.ParseBool(v); err == nil {
		return TypeBool
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		if t, ok := timestampBucket(i); ok {
			return t
		}
		return TypeInteger
	}
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return TypeFloat
	}
	return TypeString
}

// timestampBucket reports whether i's magnitude matches a plausible Unix
// timestamp, and in which unit: a 10-digit magnitude (roughly the years
// 2001-2286) is seconds since the epoch, a 13-digit magnitude is
// milliseconds since the epoch. Values outside both bands are ordinary
// integers, not timestamps.
func timestampBucket(i int64) (Type, bool) {
	abs := i
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1_000_000_000 && abs < 10_000_000_000:
		return TypeUnixSeconds, true
	case abs >= 1_000_000_000_000 && abs < 10_000_000_000_000:
		return TypeUnixMillis, true
	default:
		return "", false
	}
}

// snapshot is the persisted form of an Inference, written under
// field-types/{field} so classification survives a restart instead of
// starting cold on every process boot.
type snapshot struct {
	Sample       []Sample  `json:"sample"`
	Cached       Type      `json:"cached"`
	Confidence   float64   `json:"confidence"`
	ComputedAt   time.Time `json:"computed_at"`
	SampleAtCalc int       `json:"sample_at_calc"`
	Max          int       `json:"max"`
}

const persistMagic = "NGFT"

// Marshal serializes the Inference to a portable snapshot: a 4-byte magic
// followed by the JSON-encoded snapshot. JSON (rather than a custom binary
// layout) is used here because a field-type record is small and read
// rarely, unlike the hot-path SSTable/HNSW formats.
func (inf *Inference) Marshal() ([]byte, error) {
	inf.mu.Lock()
	snap := snapshot{
		Sample:       append([]Sample(nil), inf.sample...),
		Cached:       inf.cached,
		Confidence:   inf.confidence,
		ComputedAt:   inf.computedAt,
		SampleAtCalc: inf.sampleAtCalc,
		Max:          inf.max,
	}
	inf.mu.Unlock()

	body, err := json.Marshal(snap)
	if err != nil {
		return nil, nerrors.Permanent("fieldtype", nerrors.CodeInvalidInput, "failed to encode field-type snapshot", err)
	}
	var buf bytes.Buffer
	buf.WriteString(persistMagic)
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], uint32(len(body)))
	buf.Write(u32[:])
	buf.Write(body)
	return buf.Bytes(), nil
}

// Unmarshal parses a snapshot produced by Marshal.
func Unmarshal(data []byte) (*Inference, error) {
	if len(data) < len(persistMagic)+4 || string(data[:len(persistMagic)]) != persistMagic {
		return nil, nerrors.Permanent("fieldtype", nerrors.CodeChecksumMismatch, "bad field-type snapshot magic", nil)
	}
	off := len(persistMagic)
	bodyLen := int(binary.BigEndian.Uint32(data[off : off+4]))
	off += 4
	if off+bodyLen > len(data) {
		return nil, nerrors.Permanent("fieldtype", nerrors.CodeChecksumMismatch, "truncated field-type snapshot", nil)
	}

	var snap snapshot
	if err := json.Unmarshal(data[off:off+bodyLen], &snap); err != nil {
		return nil, nerrors.Permanent("fieldtype", nerrors.CodeChecksumMismatch, "corrupt field-type snapshot", err)
	}

	inf := &Inference{
		sample:       snap.Sample,
		max:          snap.Max,
		cached:       snap.Cached,
		confidence:   snap.Confidence,
		computedAt:   snap.ComputedAt,
		sampleAtCalc: snap.SampleAtCalc,
	}
	return inf, nil
}
