package lot

import "errors"

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid lot status transition")

	// ErrConcurrencyConflict means commit-time validation lost a race; callers may retry.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
