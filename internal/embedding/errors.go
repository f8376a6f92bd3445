package embedding

import "errors"

var (
	// ErrService reports a transport, timeout, or rate-limit failure that
	// survived the retry budget.
	ErrService = errors.New("embedding service unavailable")

	// ErrFormat reports a response vector whose dimensionality disagrees
	// with the dimension pinned at the first successful call.
	ErrFormat = errors.New("embedding dimension mismatch")
)
