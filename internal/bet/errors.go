package bet

import "errors"

// Sentinel errors, matching the teacher's internal/orders/errors.go convention
// of one small set of package-level sentinels wrapped with context at each
// call boundary rather than ad hoc string errors.
var (
	ErrValidation   = errors.New("bet: validation failed")
	ErrNotFound     = errors.New("bet: not found")
	ErrInternal     = errors.New("bet: internal store error")
	ErrMaxRetries   = errors.New("bet: retry budget exhausted")
	ErrVersionStale = errors.New("bet: version mismatch")
)
