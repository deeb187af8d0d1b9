package similarity

import (
	"context"
	"fmt"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/graph"
)

const lockedPartQuery = `
MATCH (sc:Control)-[:HAS_PART]->(sp:Part)
WHERE elementId(sp) = $part_id
RETURN sc.id AS control_id,
       sp.prose AS prose,
       sp.embedding_vector AS vector,
       sp.embedding_method AS model
LIMIT 1
`

const catalogTargets = "MATCH (tc:Control {catalog_uuid: $target_catalog})\n"

const groupTargets = `MATCH (g:Group {id: $target_group, catalog_uuid: $target_catalog})-[:HAS_CONTROL]->(top:Control)
MATCH (tc:Control)-[:IS_CHILD_OF*0..]->(top)
`

const partsReturn = `MATCH (tc)-[:HAS_PART]->(tp:Part {name: 'description'})
WHERE tp.embedding_vector IS NOT NULL
RETURN DISTINCT elementId(tp) AS part_id,
       tc.id AS control_id,
       tc.title AS title,
       tp.prose AS prose,
       tp.embedding_vector AS vector
ORDER BY control_id
`

// The 1-N and M-N templates are filled per call with the target scope,
// the cosine function name and the category CASE.
const oneToManyTemplate = `
MATCH (sp:Part)
WHERE elementId(sp) = $locked_part
WITH sp, sp.embedding_vector AS src_vec, sp.prose AS src_prose
WHERE src_vec IS NOT NULL
%[1]s
MATCH (tc)-[:HAS_PART]->(tp:Part {name: 'description'})
WHERE tp.embedding_vector IS NOT NULL
  AND elementId(tp) <> $locked_part
WITH sp, src_prose, tc, tp, %[2]s(src_vec, tp.embedding_vector) AS score
WHERE score >= $threshold
MATCH (sc:Control)-[:HAS_PART]->(sp)
RETURN sc.id AS source_control_id,
       src_prose AS source_control_prose,
       tc.id AS target_control_id,
       tc.title AS target_control_title,
       tp.prose AS target_control_prose,
       score AS similarity_score,
       %[3]s AS similarity_category
ORDER BY similarity_score DESC
`

const manyToManyTemplate = `
MATCH (sc:Control {catalog_uuid: $source_catalog})-[:HAS_PART]->(sp:Part {name: 'description'}),
      (tc:Control {catalog_uuid: $target_catalog})-[:HAS_PART]->(tp:Part {name: 'description'})
WHERE sp.embedding_vector IS NOT NULL
  AND tp.embedding_vector IS NOT NULL
  AND elementId(tp) <> elementId(sp)
WITH sc, tc, %[1]s(sp.embedding_vector, tp.embedding_vector) AS score, timestamp() AS now
WHERE score >= $threshold
MERGE (sc)-[r:HAS_SIMILARITY]->(tc)
ON CREATE SET r.created_timestamp = now
SET r.similarity_score = score,
    r.similarity_category = %[2]s,
    r.model_name = $model,
    r.last_calculated_timestamp = now
RETURN count(r) AS relationships_written
`

const mergeEdgesQuery = `
UNWIND $rows AS row
MATCH (sc:Control {id: row.source_id})
MATCH (tc:Control {id: row.target_id})
MERGE (sc)-[r:HAS_SIMILARITY]->(tc)
ON CREATE SET
  r.similarity_score = row.score,
  r.similarity_category = row.category,
  r.model_name = row.model,
  r.created_timestamp = timestamp(),
  r.last_calculated_timestamp = timestamp()
ON MATCH SET
  r.similarity_score = row.score,
  r.similarity_category = row.category,
  r.model_name = row.model,
  r.last_calculated_timestamp = timestamp()
RETURN count(r) AS merged
`

const topQuery = `
MATCH (sc:Control {catalog_uuid: $source_catalog})-[r:HAS_SIMILARITY]->(tc:Control {catalog_uuid: $target_catalog})
RETURN sc.id AS source_control_id,
       sc.title AS source_control_title,
       tc.id AS target_control_id,
       tc.title AS target_control_title,
       r.similarity_score AS similarity_score,
       r.similarity_category AS similarity_category,
       r.model_name AS model_name
ORDER BY similarity_score DESC
LIMIT $limit
`

// Neo4jStore implements Store on the graph
type Neo4jStore struct {
	runner    graph.Runner
	batchSize int
}

// NewNeo4jStore creates a Neo4jStore
func NewNeo4jStore(runner graph.Runner) *Neo4jStore {
	return &Neo4jStore{runner: runner, batchSize: graph.DefaultBatchConfig().SimilarityMergeBatchSize}
}

func (s *Neo4jStore) LockedPart(ctx context.Context, partID string) (LockedPart, error) {
	records, err := s.runner.Read(ctx, graph.OpSimilarityRead, lockedPartQuery, map[string]any{"part_id": partID})
	if err != nil {
		return LockedPart{}, err
	}
	if len(records) == 0 {
		return LockedPart{}, errors.NotFoundErrorf("part %s not found", partID).WithContext("part_id", partID)
	}
	rec := records[0]
	return LockedPart{
		PartID:    partID,
		ControlID: graph.String(rec, "control_id"),
		Prose:     graph.String(rec, "prose"),
		Vector:    graph.Vector(rec, "vector"),
		ModelName: graph.String(rec, "model"),
	}, nil
}

func (s *Neo4jStore) Parts(ctx context.Context, catalog, group string) ([]TargetPart, error) {
	params := map[string]any{"target_catalog": catalog}
	scope := catalogTargets
	if group != "" {
		scope = groupTargets
		params["target_group"] = group
	}
	records, err := s.runner.Read(ctx, graph.OpSimilarityRead, scope+partsReturn, params)
	if err != nil {
		return nil, err
	}
	out := make([]TargetPart, 0, len(records))
	for _, rec := range records {
		out = append(out, TargetPart{
			PartID:    graph.String(rec, "part_id"),
			ControlID: graph.String(rec, "control_id"),
			Title:     graph.String(rec, "title"),
			Prose:     graph.String(rec, "prose"),
			Vector:    graph.Vector(rec, "vector"),
		})
	}
	return out, nil
}

func (s *Neo4jStore) ScoreOneToMany(ctx context.Context, cosineFn string, req OneToManyRequest) ([]Result, error) {
	params := map[string]any{
		"locked_part":    req.SourcePartID,
		"target_catalog": req.TargetCatalog,
		"threshold":      req.Threshold,
	}
	scope := catalogTargets
	if req.TargetGroup != "" {
		scope = groupTargets
		params["target_group"] = req.TargetGroup
	}
	query := fmt.Sprintf(oneToManyTemplate, scope, cosineFn, oneToManyCase("score"))

	records, err := s.runner.Read(ctx, graph.OpSimilarityRead, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(records))
	for _, rec := range records {
		cat, _ := ParseCategory(graph.String(rec, "similarity_category"))
		out = append(out, Result{
			SourceID:    graph.String(rec, "source_control_id"),
			SourceProse: graph.String(rec, "source_control_prose"),
			TargetID:    graph.String(rec, "target_control_id"),
			TargetTitle: graph.String(rec, "target_control_title"),
			TargetProse: graph.String(rec, "target_control_prose"),
			Score:       graph.Float(rec, "similarity_score"),
			Category:    cat,
		})
	}
	return out, nil
}

func (s *Neo4jStore) ScoreManyToMany(ctx context.Context, cosineFn string, req ManyToManyRequest) (int, error) {
	query := fmt.Sprintf(manyToManyTemplate, cosineFn, bulkCase("score"))
	records, err := s.runner.Write(ctx, graph.OpSimilarityBulk, query, map[string]any{
		"source_catalog": req.SourceCatalog,
		"target_catalog": req.TargetCatalog,
		"threshold":      req.Threshold,
		"model":          req.ModelName,
	})
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	return int(graph.Int(records[0], "relationships_written")), nil
}

func (s *Neo4jStore) MergeEdges(ctx context.Context, edges []Edge) (int, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, map[string]any{
			"source_id": e.SourceID,
			"target_id": e.TargetID,
			"score":     e.Score,
			"category":  string(e.Category),
			"model":     e.ModelName,
		})
	}
	records, err := s.runner.WriteBatches(ctx, graph.OpSimilarityMerge, mergeEdgesQuery, rows, s.batchSize)
	if err != nil {
		return 0, err
	}
	merged := 0
	for _, rec := range records {
		merged += int(graph.Int(rec, "merged"))
	}
	return merged, nil
}

func (s *Neo4jStore) Top(ctx context.Context, req TopRequest) ([]StoredSimilarity, error) {
	records, err := s.runner.Read(ctx, graph.OpSimilarityRead, topQuery, map[string]any{
		"source_catalog": req.SourceCatalog,
		"target_catalog": req.TargetCatalog,
		"limit":          int64(req.Limit),
	})
	if err != nil {
		return nil, err
	}
	out := make([]StoredSimilarity, 0, len(records))
	for _, rec := range records {
		cat, _ := ParseCategory(graph.String(rec, "similarity_category"))
		out = append(out, StoredSimilarity{
			SourceID:    graph.String(rec, "source_control_id"),
			SourceTitle: graph.String(rec, "source_control_title"),
			TargetID:    graph.String(rec, "target_control_id"),
			TargetTitle: graph.String(rec, "target_control_title"),
			Score:       graph.Float(rec, "similarity_score"),
			Category:    cat,
			ModelName:   graph.String(rec, "model_name"),
		})
	}
	return out, nil
}
