// Package index stores chunk vectors and serves nearest-neighbour lookups
// by cosine similarity.
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// Metadata carries document-level provenance attached to every entry.
type Metadata struct {
	Filename   string
	IngestedAt time.Time
}

// Entry is one indexed chunk: its text, its vector, and where it came from.
// Entries are created at ingest and never mutated; they leave the index only
// through Purge.
type Entry struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Vector     []float32
	Meta       Metadata
}

// Result pairs an entry with its cosine similarity to the query vector.
type Result struct {
	Entry Entry
	Score float64
}

// Memory is a brute-force in-memory vector index. The dimensionality is
// pinned by the first inserted entry. A read/write lock guarantees that
// Search never observes a partially applied Insert or Purge.
type Memory struct {
	mu      sync.RWMutex
	dim     int // 0 until the first insert
	entries []Entry
	norms   []float64 // precomputed L2 norms, parallel to entries
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{}
}

// Len returns the number of stored entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Dimension returns the pinned vector dimensionality, or 0 while empty.
func (m *Memory) Dimension() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dim
}

// Insert appends entries atomically. Every vector must match the index
// dimensionality; on any mismatch nothing is inserted and
// ErrDimensionMismatch is returned.
func (m *Memory) Insert(_ context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dim
	if dim == 0 {
		dim = len(entries[0].Vector)
		if dim == 0 {
			return fmt.Errorf("%w: entry 0 has an empty vector", ErrDimensionMismatch)
		}
	}
	for i, entry := range entries {
		if len(entry.Vector) != dim {
			return fmt.Errorf("%w: entry %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(entry.Vector), dim)
		}
	}

	m.dim = dim
	for _, entry := range entries {
		m.entries = append(m.entries, entry)
		m.norms = append(m.norms, norm(entry.Vector))
	}
	return nil
}

// Search returns up to k entries ordered by descending cosine similarity to
// query. Ties rank the earlier-inserted entry first, so results are
// deterministic. k is clamped to the index size; k <= 0 is rejected with
// ErrInvalidLimit. Zero-norm entries are excluded (similarity undefined), and
// a zero-norm query matches nothing.
func (m *Memory) Search(_ context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, k)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil, nil
	}
	if len(query) != m.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), m.dim)
	}

	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(m.entries))
	for i, entry := range m.entries {
		if m.norms[i] == 0 {
			continue
		}
		results = append(results, Result{
			Entry: entry,
			Score: dot(query, entry.Vector) / (queryNorm * m.norms[i]),
		})
	}

	// Stable sort over the insertion-ordered slice: equal scores keep the
	// earlier entry first.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k > len(results) {
		k = len(results)
	}
	return results[:k], nil
}

// Purge removes every entry belonging to documentID, atomically. Purging an
// unknown document is a no-op.
func (m *Memory) Purge(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	keptNorms := m.norms[:0]
	for i, entry := range m.entries {
		if entry.DocumentID == documentID {
			continue
		}
		kept = append(kept, entry)
		keptNorms = append(keptNorms, m.norms[i])
	}
	m.entries = kept
	m.norms = keptNorms
	return nil
}

func dot(a []float32, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
