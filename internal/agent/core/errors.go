package core

import "errors"

// Failure classes surfaced by the pipeline. External-call failures wrap one
// of these so callers can classify without inspecting provider internals.
var (
	// ErrInvalidQuery indicates empty or whitespace-only user input.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidConfig indicates an out-of-range pipeline setting, rejected
	// at configuration validation time rather than per call.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRetrieval indicates the search call failed or timed out. No partial
	// results are synthesized.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration indicates the generation call failed, timed out or was
	// cancelled. No partial response is produced.
	ErrGeneration = errors.New("generation failed")

	// ErrCitationConsistency indicates a marker/citation mismatch in an
	// assembled response. It signals an internal defect, not a user error.
	ErrCitationConsistency = errors.New("citation consistency violation")
)
