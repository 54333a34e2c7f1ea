package models

import "errors"

var (
	// ErrValidation marks bad or missing input (400-class, never retried)
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a referenced id that does not exist
	ErrNotFound = errors.New("not found")

	// ErrStorage marks blob or persistence I/O failures
	ErrStorage = errors.New("storage error")

	// ErrAttributionMiss is a log classification for uploads with an unknown
	// credential. It is never returned to callers.
	ErrAttributionMiss = errors.New("attribution miss")
)
