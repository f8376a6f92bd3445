package retriever

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mstead/claimlens/internal/chunk"
	"github.com/mstead/claimlens/internal/index"
)

// stubEmbedder returns fixed vectors for known texts and a fallback for the
// rest, so similarity is fully controlled by the test.
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	def     []float32
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if vec, ok := s.vectors[text]; ok {
			out[i] = vec
		} else {
			out[i] = s.def
		}
	}
	return out, nil
}

func newTestRetriever(t *testing.T, embedder Embedder) (*Retriever, *index.Memory) {
	t.Helper()
	chunker, err := chunk.NewChunker(chunk.Config{Size: 200, Overlap: 50})
	require.NoError(t, err)
	idx := index.NewMemory()
	return New(chunker, embedder, idx, nil), idx
}

func TestRetriever_IngestAndRetrieve(t *testing.T) {
	ctx := context.Background()

	knee := "Knee surgeries are covered up to Rs. 1,00,000."
	dental := "Dental care is excluded from the base plan."
	query := "46M, knee surgery, Pune, 3-month policy"

	embedder := &stubEmbedder{
		vectors: map[string][]float32{
			knee:   {1, 0, 0},
			dental: {0, 1, 0},
			query:  {0.95, 0.05, 0},
		},
		def: []float32{0, 0, 1},
	}
	retriever, _ := newTestRetriever(t, embedder)

	n, err := retriever.Ingest(ctx, Document{ID: "policy-1", Text: knee, Filename: "policy.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = retriever.Ingest(ctx, Document{ID: "policy-2", Text: dental, Filename: "rider.txt"})
	require.NoError(t, err)

	clauses, err := retriever.Retrieve(ctx, query, 2)
	require.NoError(t, err)
	require.Len(t, clauses, 2)

	assert.Equal(t, knee, clauses[0].Text, "knee clause must rank first")
	assert.Equal(t, "policy-1", clauses[0].DocumentID)
	assert.Equal(t, "policy.txt", clauses[0].Filename)
	assert.Greater(t, clauses[0].Score, clauses[1].Score)
}

func TestRetriever_EmptyIndex(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{def: []float32{1, 0}}
	retriever, _ := newTestRetriever(t, embedder)

	clauses, err := retriever.Retrieve(ctx, "anything", 5)
	require.NoError(t, err, "empty index is not an error")
	assert.Empty(t, clauses)
}

func TestRetriever_ReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{def: []float32{1, 0}}
	retriever, idx := newTestRetriever(t, embedder)

	doc := Document{ID: "policy-1", Text: "Accidental hospitalization is covered from day one.", Filename: "policy.txt"}

	_, err := retriever.Ingest(ctx, doc)
	require.NoError(t, err)
	sizeAfterFirst := idx.Len()

	_, err = retriever.Ingest(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, sizeAfterFirst, idx.Len(), "re-ingesting identical content must not duplicate entries")
}

func TestRetriever_ReingestReplacesContent(t *testing.T) {
	ctx := context.Background()
	old := "Old clause about coverage."
	updated := "Updated clause about coverage."
	embedder := &stubEmbedder{
		vectors: map[string][]float32{
			old:     {1, 0},
			updated: {0, 1},
		},
		def: []float32{1, 1},
	}
	retriever, idx := newTestRetriever(t, embedder)

	_, err := retriever.Ingest(ctx, Document{ID: "policy-1", Text: old})
	require.NoError(t, err)
	_, err = retriever.Ingest(ctx, Document{ID: "policy-1", Text: updated})
	require.NoError(t, err)

	assert.Equal(t, 1, idx.Len())
	clauses, err := retriever.Retrieve(ctx, old, 5)
	require.NoError(t, err)
	require.Len(t, clauses, 1)
	assert.Equal(t, updated, clauses[0].Text, "old content must be purged")
}

func TestRetriever_ConcurrentIngestDistinctDocuments(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{def: []float32{1, 0}}
	retriever, idx := newTestRetriever(t, embedder)

	var wg sync.WaitGroup
	docs := []Document{
		{ID: "a", Text: "Clause body for document a."},
		{ID: "b", Text: "Clause body for document b."},
		{ID: "c", Text: "Clause body for document c."},
		{ID: "d", Text: "Clause body for document d."},
	}
	for _, doc := range docs {
		wg.Add(1)
		go func(doc Document) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := retriever.Ingest(ctx, doc)
				assert.NoError(t, err)
			}
		}(doc)
	}
	wg.Wait()

	// Repeated re-ingestion from many goroutines must end with exactly one
	// entry per document.
	assert.Equal(t, len(docs), idx.Len())
}

func TestRetriever_IngestLocksReleased(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{def: []float32{1, 0}}
	retriever, _ := newTestRetriever(t, embedder)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "a", "c", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := retriever.Ingest(ctx, Document{ID: id, Text: "Clause body."})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	retriever.mu.Lock()
	defer retriever.mu.Unlock()
	assert.Empty(t, retriever.ingests, "lock map must not retain entries for finished ingests")
}

func TestRetriever_QueryEmbeddedOnce(t *testing.T) {
	ctx := context.Background()
	embedder := &stubEmbedder{def: []float32{1, 0}}
	retriever, _ := newTestRetriever(t, embedder)

	_, err := retriever.Ingest(ctx, Document{ID: "policy-1", Text: "Some covered procedure."})
	require.NoError(t, err)
	callsAfterIngest := embedder.calls

	_, err = retriever.Retrieve(ctx, "is the procedure covered?", 3)
	require.NoError(t, err)
	assert.Equal(t, callsAfterIngest+1, embedder.calls, "query path embeds exactly once")
}
