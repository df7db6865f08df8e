package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrValidation    = errors.New("validation failed")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrConflict      = errors.New("conflicting job state")
	ErrStorage       = errors.New("storage failure")
)

// Failure reasons persisted on failed jobs. These are the only values a
// polling client ever sees; stage internals never leak past them.
const (
	ReasonSynthesisUnavailable = "synthesis_unavailable"
	ReasonSynthesisTimeout     = "synthesis_timeout"
	ReasonCompositionFailed    = "composition_failed"
	ReasonCompositionTimeout   = "composition_timeout"
	ReasonStorageFailure       = "storage_failure"
	ReasonInternal             = "internal_error"
)
