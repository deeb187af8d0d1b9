package embedding

import (
	"context"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/graph"
)

const writeEmbeddingsQuery = `
UNWIND $rows AS row
MATCH (p:Part) WHERE elementId(p) = row.part_id
SET p.embedding_vector = row.vector,
    p.embedding_method = row.model
RETURN count(p) AS updated
`

const partVectorQuery = `
MATCH (p:Part) WHERE elementId(p) = $part_id
RETURN p.embedding_vector AS vector, p.embedding_method AS model
`

// PartStore persists vectors on Part nodes. Vector and method are set in
// the same SET clause, so no reader sees one without the other.
type PartStore struct {
	runner    graph.Runner
	batchSize int
}

// NewPartStore creates a PartStore on the given runner
func NewPartStore(runner graph.Runner) *PartStore {
	return &PartStore{runner: runner, batchSize: graph.DefaultBatchConfig().EmbeddingWriteBatchSize}
}

// WriteEmbeddings writes every vector in one transaction and returns how
// many parts the store matched
func (s *PartStore) WriteEmbeddings(ctx context.Context, vectors []PartVector) (int, error) {
	if len(vectors) == 0 {
		return 0, nil
	}

	rows := make([]map[string]any, 0, len(vectors))
	for _, v := range vectors {
		rows = append(rows, map[string]any{
			"part_id": v.PartID,
			"vector":  graph.Float64s(v.Vector),
			"model":   v.ModelName,
		})
	}

	records, err := s.runner.WriteBatches(ctx, graph.OpEmbeddingWrite, writeEmbeddingsQuery, rows, s.batchSize)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, rec := range records {
		updated += int(graph.Int(rec, "updated"))
	}
	return updated, nil
}

// Vector returns the stored vector of a part and the model that produced it
func (s *PartStore) Vector(ctx context.Context, partID string) ([]float32, string, error) {
	records, err := s.runner.Read(ctx, graph.OpEmbeddingStatus, partVectorQuery, map[string]any{"part_id": partID})
	if err != nil {
		return nil, "", err
	}
	if len(records) == 0 {
		return nil, "", errors.NotFoundErrorf("part %s not found", partID).WithContext("part_id", partID)
	}
	return graph.Vector(records[0], "vector"), graph.String(records[0], "model"), nil
}
