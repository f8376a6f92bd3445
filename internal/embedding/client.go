package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

// DefaultModel is the OpenAI model used for generating embeddings.
const DefaultModel = "text-embedding-3-small"

// Client wraps the OpenAI API for embedding generation.
type Client struct {
	client *openai.Client
	model  string
}

// NewClient creates an OpenAI embedding client for the given model (empty
// means DefaultModel). It requires OPENAI_API_KEY in the environment.
func NewClient(model string) (*Client, error) {
	if os.Getenv("OPENAI_API_KEY") == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	if model == "" {
		model = DefaultModel
	}

	// openai-go reads OPENAI_API_KEY from the environment.
	client := openai.NewClient()

	return &Client{client: &client, model: model}, nil
}

// CreateEmbeddings requests one vector per input text, preserving order.
// Rate-limit errors are returned as-is so the caller's retry policy can back
// off; other API failures are marked permanent.
func (c *Client) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: c.model,
	})
	if err != nil {
		if isRateLimitError(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, backoff.Permanent(fmt.Errorf("%w: got %d vectors for %d texts",
			ErrFormat, len(resp.Data), len(texts)))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		vectors[i] = toFloat32(data.Embedding)
	}
	return vectors, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// toFloat32 converts []float64 to []float32.
// The API returns float64, but the index stores float32 for memory efficiency.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
