package normalizer

import (
	"errors"
	"fmt"
)

// Sentinel errors for per-request failures. Callers distinguish them with
// errors.Is; load-time failures are reported as *ResourceError instead.
var (
	// ErrNotInitialized is returned when normalization is attempted before
	// the embedding store and concept index have been loaded.
	ErrNotInitialized = errors.New("normalizer is not initialized")

	// ErrInvalidInput is returned for an empty or otherwise malformed
	// mention. The request is rejected before the pipeline starts.
	ErrInvalidInput = errors.New("invalid mention input")

	// ErrTimeout is returned when the caller-supplied deadline expired
	// between pipeline stages. No partial candidate list is returned.
	ErrTimeout = errors.New("normalization deadline exceeded")
)

// ResourceError reports malformed or inconsistent load input (embedding
// table, vocabulary file, scorer artifact). It is fatal to initialization:
// no partially loaded store is ever handed to callers.
type ResourceError struct {
	Source string // file path or logical resource name
	Reason string
	Err    error
}

func (e *ResourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resource %s: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("resource %s: %s", e.Source, e.Reason)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func resourceErrorf(source, format string, args ...any) *ResourceError {
	return &ResourceError{Source: source, Reason: fmt.Sprintf(format, args...)}
}
