package index

import "errors"

var (
	// ErrDimensionMismatch reports a vector whose dimensionality disagrees
	// with the index. This indicates a configuration bug and is not retried.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidLimit reports a non-positive search limit.
	ErrInvalidLimit = errors.New("search limit must be positive")
)
