// Package embedding maps text to fixed-dimension vectors via the OpenAI
// embeddings API.
package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/mstead/claimlens/internal/retry"
)

// DefaultBatchSize balances requests-per-minute vs tokens-per-minute rate
// limits. The API supports up to 2048 texts per batch, but smaller batches
// reduce TPM pressure.
const DefaultBatchSize = 500

// API is the narrow surface the Embedder needs from an embedding backend.
// *Client implements it; tests substitute a fake.
type API interface {
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder batches embedding requests and enforces a constant vector
// dimensionality across the lifetime of the process. The dimension is pinned
// by the first successful call; any later vector that disagrees is rejected
// with ErrFormat. Embedding is a pure function of the text for a fixed model,
// so calls are safe to retry.
type Embedder struct {
	api       API
	policy    retry.Policy
	batchSize int

	mu  sync.Mutex
	dim int // 0 until the first successful call
}

// NewEmbedder creates an Embedder over api with the given retry policy and
// optional batch size. If batchSize is 0, DefaultBatchSize is used.
func NewEmbedder(api API, policy retry.Policy, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{
		api:       api,
		policy:    policy,
		batchSize: batchSize,
	}
}

// Dimension returns the pinned vector dimensionality, or 0 before the first
// successful call.
func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

// Embed generates one vector per input text, in input order. Large inputs are
// batched internally. Transport failures that exhaust the retry budget
// surface as ErrService; a vector with unexpected dimensionality surfaces as
// ErrFormat.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		batch, err := e.embedBatch(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", i, end, err)
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var batch [][]float32

	err := e.policy.Do(ctx, func(ctx context.Context) error {
		got, err := e.api.CreateEmbeddings(ctx, texts)
		if err != nil {
			return err
		}
		batch = got
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrService, err)
	}

	for i, vec := range batch {
		if err := e.checkDimension(len(vec)); err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
	}
	return batch, nil
}

// checkDimension pins the dimension on first use and rejects disagreement.
func (e *Embedder) checkDimension(got int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if got == 0 {
		return fmt.Errorf("%w: empty vector", ErrFormat)
	}
	if e.dim == 0 {
		e.dim = got
		return nil
	}
	if got != e.dim {
		return fmt.Errorf("%w: got %d dimensions, expected %d", ErrFormat, got, e.dim)
	}
	return nil
}
