package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// ErrQdrantUnreachable reports that the Qdrant server did not answer health
// checks within the startup budget.
var ErrQdrantUnreachable = errors.New("qdrant server unreachable")

// DefaultCollection is the Qdrant collection holding policy clause vectors.
const DefaultCollection = "policy_clauses"

// Qdrant is a vector index backed by a Qdrant collection. It serves larger
// corpora than the in-memory index; the in-memory index remains the
// reference implementation for exact tie-break semantics.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dim        int
}

// NewQdrant connects to Qdrant, verifies health with exponential backoff, and
// ensures the collection exists with cosine distance and dim-sized vectors.
func NewQdrant(host string, port int, collection string, dim int) (*Qdrant, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if dim <= 0 {
		return nil, fmt.Errorf("%w: collection dimension %d must be positive", ErrDimensionMismatch, dim)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	q := &Qdrant{client: client, collection: collection, dim: dim}

	ctx := context.Background()
	if err := q.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrQdrantUnreachable, err)
	}
	if err := q.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

// healthCheckWithRetry performs health checks with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (q *Qdrant) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		result, err := q.client.HealthCheck(ctx)
		if err != nil {
			return err
		}
		if result == nil || result.Title == "" {
			return fmt.Errorf("health check returned invalid response")
		}
		return nil
	}

	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// ensureCollection creates the collection and the document_id payload index
// if they do not exist yet. Idempotent.
func (q *Qdrant) ensureCollection(ctx context.Context) error {
	collections, err := q.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, name := range collections {
		if name == q.collection {
			return nil
		}
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	// Purge filters on document_id; without this index the delete scan is slow.
	_, err = q.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: q.collection,
		FieldName:      "document_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("create document_id index: %w", err)
	}
	return nil
}

// Insert upserts entries as points. Vectors must match the collection
// dimensionality.
func (q *Qdrant) Insert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for i, entry := range entries {
		if len(entry.Vector) != q.dim {
			return fmt.Errorf("%w: entry %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(entry.Vector), q.dim)
		}
	}

	points := make([]*qdrant.PointStruct, len(entries))
	for i, entry := range entries {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(uuid.New().String()),
			Vectors: qdrant.NewVectors(entry.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"document_id": entry.DocumentID,
				"chunk_index": int64(entry.ChunkIndex),
				"text":        entry.Text,
				"filename":    entry.Meta.Filename,
				"ingested_at": entry.Meta.IngestedAt.Format(time.RFC3339Nano),
			}),
		}
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Search returns up to k entries by descending cosine similarity. Score ties
// are broken by Qdrant internally, not by insertion order.
func (q *Qdrant) Search(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, k)
	}
	if len(query) != q.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), q.dim)
	}

	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query points: %w", err)
	}

	results := make([]Result, 0, len(points))
	for _, point := range points {
		payload := point.Payload
		ingestedAt, err := time.Parse(time.RFC3339Nano, payload["ingested_at"].GetStringValue())
		if err != nil {
			ingestedAt = time.Time{}
		}
		results = append(results, Result{
			Entry: Entry{
				DocumentID: payload["document_id"].GetStringValue(),
				ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
				Text:       payload["text"].GetStringValue(),
				Meta: Metadata{
					Filename:   payload["filename"].GetStringValue(),
					IngestedAt: ingestedAt,
				},
			},
			Score: float64(point.Score),
		})
	}
	return results, nil
}

// Purge deletes every point belonging to documentID.
func (q *Qdrant) Purge(ctx context.Context, documentID string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatch("document_id", documentID),
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("delete points for document %s: %w", documentID, err)
	}
	return nil
}

// Close closes the client connection.
func (q *Qdrant) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}
