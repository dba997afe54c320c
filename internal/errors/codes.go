// Package errors provides the structured error taxonomy shared by every
// noungraph subsystem: storage adapter, SSTable/LSM, metadata index, HNSW,
// cache manager, and the transactional operation framework.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: storage adapter / I/O errors
//   - 2XX: index invariant violations (HNSW, metadata, LSM)
//   - 3XX: transaction / operation-framework errors
//   - 4XX: input validation errors
//   - 5XX: concurrency / scheduling errors
package errors

// Kind is the error taxonomy every EngineError carries exactly one of.
type Kind string

const (
	// KindNotFound means the requested ID/path has no record. Surfaced to
	// callers as an option/nil result, not necessarily as an error value.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict means a concurrent mutation was detected or an invariant
	// would be violated (e.g. a verb whose endpoints don't exist).
	KindConflict Kind = "CONFLICT"
	// KindTransient means I/O or a timeout; retried with exponential backoff.
	KindTransient Kind = "TRANSIENT"
	// KindPermanent means corruption, an invariant violation, or
	// misconfiguration. Never retried.
	KindPermanent Kind = "PERMANENT"
	// KindOverloaded means a queue or rate limit was exceeded; advisory to
	// the caller to back off.
	KindOverloaded Kind = "OVERLOADED"
	// KindCancelled means the operation was aborted at a suspension point.
	KindCancelled Kind = "CANCELLED"
)

// Error codes organized by category.
const (
	// Storage adapter / I/O (100-199)
	CodeBlobNotFound   = "ERR_101_BLOB_NOT_FOUND"
	CodeBlobPermission = "ERR_102_BLOB_PERMISSION"
	CodeAdapterTimeout = "ERR_103_ADAPTER_TIMEOUT"
	CodeDiskFull       = "ERR_104_DISK_FULL"

	// Index invariants (200-299)
	CodeChecksumMismatch  = "ERR_201_CHECKSUM_MISMATCH"
	CodeDimensionMismatch = "ERR_202_DIMENSION_MISMATCH"
	CodeBitmapOverflow    = "ERR_203_BITMAP_OVERFLOW"
	CodeEndpointMissing   = "ERR_204_ENDPOINT_MISSING"
	CodeCorruptManifest   = "ERR_205_CORRUPT_MANIFEST"
	CodeDuplicateRelation = "ERR_206_DUPLICATE_RELATION"
	CodeIDSpaceExhausted  = "ERR_207_ID_SPACE_EXHAUSTED"

	// Transaction / operation framework (300-399)
	CodeOperationFailed = "ERR_301_OPERATION_FAILED"
	CodeRollbackFailed  = "ERR_302_ROLLBACK_FAILED"

	// Validation (400-499)
	CodeInvalidInput  = "ERR_401_INVALID_INPUT"
	CodeInvalidVector = "ERR_402_INVALID_VECTOR"
	CodeInvalidWeight = "ERR_403_INVALID_WEIGHT"

	// Concurrency / scheduling (500-599)
	CodeOverloaded = "ERR_501_OVERLOADED"
	CodeCancelled  = "ERR_502_CANCELLED"
	CodeInternal   = "ERR_503_INTERNAL"
)

// kindFromCode derives the Kind from a code; used by New when the caller
// doesn't go through one of the Kind-specific constructor helpers.
func kindFromCode(code string) Kind {
	switch code {
	case CodeBlobNotFound:
		return KindNotFound
	case CodeAdapterTimeout:
		return KindTransient
	case CodeOverloaded:
		return KindOverloaded
	case CodeCancelled:
		return KindCancelled
	case CodeEndpointMissing, CodeDuplicateRelation:
		return KindConflict
	case CodeChecksumMismatch, CodeDimensionMismatch, CodeBitmapOverflow, CodeCorruptManifest:
		return KindPermanent
	case CodeInvalidInput, CodeInvalidVector, CodeInvalidWeight:
		return KindConflict
	default:
		return KindPermanent
	}
}

// isRetryableCode reports whether a code represents a condition the retry
// helper in retry.go should retry automatically.
func isRetryableCode(code string) bool {
	return code == CodeAdapterTimeout
}
