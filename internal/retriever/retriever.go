// Package retriever orchestrates the ingest path (chunk, embed, index) and
// the query path (embed, search, rank) over policy documents.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mstead/claimlens/internal/chunk"
	"github.com/mstead/claimlens/internal/index"
)

// Document is one extracted policy document handed to the ingest path by the
// extraction layer. Re-ingesting the same ID supersedes the previous version.
type Document struct {
	ID         string
	Text       string
	Filename   string
	IngestedAt time.Time
}

// RetrievedClause is a read-only projection of a search hit, scoped to a
// single query.
type RetrievedClause struct {
	Text       string
	Score      float64
	DocumentID string
	Filename   string
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the vector store the retriever writes to and searches.
// *index.Memory and *index.Qdrant implement it.
type Index interface {
	Insert(ctx context.Context, entries []index.Entry) error
	Search(ctx context.Context, query []float32, k int) ([]index.Result, error)
	Purge(ctx context.Context, documentID string) error
}

// Retriever wires the chunker, the embedder, and the index.
type Retriever struct {
	chunker  *chunk.Chunker
	embedder Embedder
	index    Index
	logger   *slog.Logger

	mu      sync.Mutex
	ingests map[string]*docLock // per-document ingest serialization
}

// docLock serializes ingests of one document. The holder count lets the
// retriever drop the map entry once the last waiter releases it, so the map
// does not grow with every document ever ingested.
type docLock struct {
	mu      sync.Mutex
	holders int
}

// New creates a Retriever with the given components.
func New(chunker *chunk.Chunker, embedder Embedder, idx Index, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		chunker:  chunker,
		embedder: embedder,
		index:    idx,
		logger:   logger,
		ingests:  make(map[string]*docLock),
	}
}

// Ingest chunks doc, embeds the chunks in batches, and replaces any previous
// entries for doc.ID with the new ones. Concurrent ingests of different
// documents proceed in parallel; ingests of the same document are serialized
// so the purge-then-insert sequence never interleaves.
func (r *Retriever) Ingest(ctx context.Context, doc Document) (int, error) {
	if doc.ID == "" {
		return 0, fmt.Errorf("document has no ID")
	}

	lock := r.acquireIngestLock(doc.ID)
	defer r.releaseIngestLock(doc.ID, lock)

	chunks, err := r.chunker.Split(doc.Text)
	if err != nil {
		return 0, fmt.Errorf("chunk document %s: %w", doc.ID, err)
	}
	if len(chunks) == 0 {
		// Nothing to index, but a re-ingested empty document still
		// supersedes its previous content.
		if err := r.index.Purge(ctx, doc.ID); err != nil {
			return 0, fmt.Errorf("purge document %s: %w", doc.ID, err)
		}
		return 0, nil
	}
	r.logger.Debug("chunked document", "document", doc.ID, "chunks", len(chunks))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed document %s: %w", doc.ID, err)
	}

	ingestedAt := doc.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = time.Now().UTC()
	}
	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = index.Entry{
			DocumentID: doc.ID,
			ChunkIndex: c.Index,
			Text:       c.Text,
			Vector:     vectors[i],
			Meta: index.Metadata{
				Filename:   doc.Filename,
				IngestedAt: ingestedAt,
			},
		}
	}

	if err := r.index.Purge(ctx, doc.ID); err != nil {
		return 0, fmt.Errorf("purge document %s: %w", doc.ID, err)
	}
	if err := r.index.Insert(ctx, entries); err != nil {
		return 0, fmt.Errorf("insert document %s: %w", doc.ID, err)
	}

	r.logger.Info("ingested document", "document", doc.ID, "chunks", len(entries))
	return len(entries), nil
}

// Retrieve embeds query once and returns the k most similar clauses in the
// index's similarity order. An empty index yields an empty slice, not an
// error; the decision stage handles that case explicitly.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]RetrievedClause, error) {
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.index.Search(ctx, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	clauses := make([]RetrievedClause, len(results))
	for i, result := range results {
		clauses[i] = RetrievedClause{
			Text:       result.Entry.Text,
			Score:      result.Score,
			DocumentID: result.Entry.DocumentID,
			Filename:   result.Entry.Meta.Filename,
		}
	}
	return clauses, nil
}

// acquireIngestLock takes the per-document mutex for documentID, registering
// the caller as a holder first so a concurrent release cannot evict the entry
// underneath it.
func (r *Retriever) acquireIngestLock(documentID string) *docLock {
	r.mu.Lock()
	lock, ok := r.ingests[documentID]
	if !ok {
		lock = &docLock{}
		r.ingests[documentID] = lock
	}
	lock.holders++
	r.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// releaseIngestLock releases lock and removes the map entry when no other
// ingest of documentID is holding or waiting on it.
func (r *Retriever) releaseIngestLock(documentID string, lock *docLock) {
	lock.mu.Unlock()

	r.mu.Lock()
	lock.holders--
	if lock.holders == 0 {
		delete(r.ingests, documentID)
	}
	r.mu.Unlock()
}
