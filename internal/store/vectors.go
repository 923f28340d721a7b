package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/vital/internal/pipeline"
)

// DefaultEmbeddingDimensions indicates the expected length of the semantic
// vectors stored in the pgvector column.
const DefaultEmbeddingDimensions = 1536

// Upsert stores or updates one record in the vector index.
func (s *Store) Upsert(ctx context.Context, rec pipeline.VectorRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id required")
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("embedding vector required")
	}
	vectorLiteral, err := encodeVectorLiteral(rec.Vector)
	if err != nil {
		return err
	}
	var metaBytes []byte
	if rec.Metadata != nil {
		metaBytes, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO log_embeddings (id, user_id, kind, content, embedding, metadata, created_at)
VALUES ($1,$2,$3,$4,$5::vector,$6,NOW())
ON CONFLICT (id) DO UPDATE SET
  user_id = EXCLUDED.user_id,
  kind = EXCLUDED.kind,
  content = EXCLUDED.content,
  embedding = EXCLUDED.embedding,
  metadata = EXCLUDED.metadata,
  created_at = NOW();
`, rec.ID, rec.UserID, rec.Kind, rec.Text, vectorLiteral, metaBytes)
	return err
}

// Search returns the closest records for the supplied vector, scoped by
// user id and record kind. Similarity order only, no recency guarantee.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, filter pipeline.VectorFilter) ([]pipeline.VectorHit, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("vector must not be empty")
	}
	if topK <= 0 {
		topK = 5
	}
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, kind, content, metadata, embedding <=> $1::vector AS distance
FROM log_embeddings
WHERE ($2 = '' OR user_id = $2)
  AND ($3 = '' OR kind = $3)
ORDER BY embedding <=> $1::vector
LIMIT $4
`, vecLiteral, filter.UserID, filter.Kind, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []pipeline.VectorHit
	for rows.Next() {
		var (
			hit       pipeline.VectorHit
			metaBytes []byte
		)
		if err := rows.Scan(&hit.ID, &hit.UserID, &hit.Kind, &hit.Text, &metaBytes, &hit.Distance); err != nil {
			return nil, err
		}
		if len(metaBytes) > 0 {
			_ = json.Unmarshal(metaBytes, &hit.Metadata)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
