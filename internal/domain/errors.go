package domain

import "errors"

// Error taxonomy for the core. The engine never swallows one of these
// to keep going: every failure is returned to the caller, and any
// operation that would violate an invariant is aborted whole.
var (
	// ErrMalformedEvidence: input validation failed. The engine fails
	// closed rather than silently under-scoring a risky case. Caller
	// must fix and resubmit; not retried automatically.
	ErrMalformedEvidence = errors.New("malformed evidence")

	// ErrIllegalTransition: the attempted edge is not in the state
	// machine. Surfaced immediately, never coerced to a valid state.
	ErrIllegalTransition = errors.New("illegal case transition")

	// ErrConcurrentModification: the caller lost a per-case write race.
	// Transient; re-fetch the case and retry against the latest state.
	ErrConcurrentModification = errors.New("concurrent case modification")

	// ErrStorageUnavailable: durable storage failed. An audit write
	// that cannot be confirmed is never treated as succeeded.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrStaleNarrativeFill: the external generator delivered a
	// narrative for a case already past the generated state.
	ErrStaleNarrativeFill = errors.New("stale narrative fill")

	// ErrGenerationFailed: the external narrative generator failed.
	// Retry policy belongs to the orchestration layer, not the core.
	ErrGenerationFailed = errors.New("narrative generation failed")

	// ErrNotFound: no case or record with the given identifier.
	ErrNotFound = errors.New("record not found")
)
