package mapping

import (
	"context"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/graph"
)

// Store persists mapping edges keyed by the ordered (source, target) pair
type Store interface {
	Get(ctx context.Context, sourceID, targetID string) (Mapping, bool, error)
	// Upsert creates the edge or merges patch into it. Missing controls
	// are a NotFound error.
	Upsert(ctx context.Context, sourceID, targetID string, patch Patch) error
	// Update merges patch into an existing edge in one write and reports
	// whether it existed
	Update(ctx context.Context, sourceID, targetID string, patch Patch) (bool, error)
	Delete(ctx context.Context, sourceID, targetID string) (bool, error)
	List(ctx context.Context, filter ListFilter) ([]Mapping, error)
}

const edgeReturn = `
RETURN sc.id AS source_id,
       tc.id AS target_id,
       r.type AS type,
       r.explanation AS explanation,
       r.explanation_old AS explanation_old,
       r.similarity AS similarity,
       r.method AS method,
       r.status AS status,
       r.annotation AS annotation,
       r.created_timestamp AS created_timestamp,
       r.last_updated_timestamp AS last_updated_timestamp`

const getQuery = `
MATCH (sc:Control {id: $source_id})-[r:IS_MAPPED_TO]->(tc:Control {id: $target_id})` + edgeReturn

const upsertQuery = `
MATCH (sc:Control {id: $source_id})
MATCH (tc:Control {id: $target_id})
MERGE (sc)-[r:IS_MAPPED_TO]->(tc)
ON CREATE SET
  r = $props,
  r.created_timestamp = timestamp(),
  r.last_updated_timestamp = timestamp()
ON MATCH SET
  r += $props,
  r.last_updated_timestamp = timestamp()
RETURN count(r) AS affected
`

const updateQuery = `
MATCH (sc:Control {id: $source_id})-[r:IS_MAPPED_TO]->(tc:Control {id: $target_id})
SET r.explanation_old = CASE
        WHEN $archive AND r.explanation IS NOT NULL AND r.explanation <> $props.explanation
        THEN r.explanation
        ELSE r.explanation_old
    END,
    r += $props,
    r.last_updated_timestamp = timestamp()
RETURN count(r) AS affected
`

const deleteQuery = `
MATCH (sc:Control {id: $source_id})-[r:IS_MAPPED_TO]->(tc:Control {id: $target_id})
DELETE r
RETURN count(*) AS deleted
`

// Neo4jStore implements Store on the graph
type Neo4jStore struct {
	runner graph.Runner
}

// NewNeo4jStore creates a Neo4jStore
func NewNeo4jStore(runner graph.Runner) *Neo4jStore {
	return &Neo4jStore{runner: runner}
}

func pairParams(sourceID, targetID string) map[string]any {
	return map[string]any{"source_id": sourceID, "target_id": targetID}
}

func (s *Neo4jStore) Get(ctx context.Context, sourceID, targetID string) (Mapping, bool, error) {
	records, err := s.runner.Read(ctx, graph.OpMappingRead, getQuery, pairParams(sourceID, targetID))
	if err != nil {
		return Mapping{}, false, err
	}
	if len(records) == 0 {
		return Mapping{}, false, nil
	}
	return decodeMapping(records[0]), true, nil
}

func (s *Neo4jStore) Upsert(ctx context.Context, sourceID, targetID string, patch Patch) error {
	params := pairParams(sourceID, targetID)
	params["props"] = patch.Properties()
	records, err := s.runner.Write(ctx, graph.OpMappingWrite, upsertQuery, params)
	if err != nil {
		return err
	}
	if len(records) == 0 || graph.Int(records[0], "affected") == 0 {
		return errors.NotFoundErrorf("control %s or %s not found", sourceID, targetID).
			WithContext("source_id", sourceID).
			WithContext("target_id", targetID)
	}
	return nil
}

func (s *Neo4jStore) Update(ctx context.Context, sourceID, targetID string, patch Patch) (bool, error) {
	params := pairParams(sourceID, targetID)
	params["props"] = patch.Properties()
	params["archive"] = patch.ArchiveExplanation && patch.Explanation != nil
	records, err := s.runner.Write(ctx, graph.OpMappingWrite, updateQuery, params)
	if err != nil {
		return false, err
	}
	return len(records) > 0 && graph.Int(records[0], "affected") > 0, nil
}

func (s *Neo4jStore) Delete(ctx context.Context, sourceID, targetID string) (bool, error) {
	records, err := s.runner.Write(ctx, graph.OpMappingWrite, deleteQuery, pairParams(sourceID, targetID))
	if err != nil {
		return false, err
	}
	return len(records) > 0 && graph.Int(records[0], "deleted") > 0, nil
}

func (s *Neo4jStore) List(ctx context.Context, filter ListFilter) ([]Mapping, error) {
	var where []string
	params := map[string]any{"limit": int64(filter.Limit)}
	if filter.SourceCatalog != "" {
		where = append(where, "sc.catalog_uuid = $source_catalog")
		params["source_catalog"] = filter.SourceCatalog
	}
	if filter.TargetCatalog != "" {
		where = append(where, "tc.catalog_uuid = $target_catalog")
		params["target_catalog"] = filter.TargetCatalog
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		where = append(where, "r.status IN $statuses")
		params["statuses"] = statuses
	}

	var b strings.Builder
	b.WriteString("MATCH (sc:Control)-[r:IS_MAPPED_TO]->(tc:Control)\n")
	if len(where) > 0 {
		b.WriteString("WHERE " + strings.Join(where, " AND ") + "\n")
	}
	b.WriteString(`WITH sc, tc, r
OPTIONAL MATCH (sc)-[:HAS_PART]->(sp:Part {name: 'description'})
OPTIONAL MATCH (tc)-[:HAS_PART]->(tp:Part {name: 'description'})`)
	b.WriteString(edgeReturn)
	b.WriteString(`,
       sc.title AS source_title,
       sp.prose AS source_prose,
       tc.title AS target_title,
       tp.prose AS target_prose
ORDER BY last_updated_timestamp DESC, created_timestamp DESC
LIMIT $limit
`)

	records, err := s.runner.Read(ctx, graph.OpMappingRead, b.String(), params)
	if err != nil {
		return nil, err
	}
	out := make([]Mapping, 0, len(records))
	for _, rec := range records {
		m := decodeMapping(rec)
		m.SourceTitle = graph.String(rec, "source_title")
		m.SourceProse = graph.String(rec, "source_prose")
		m.TargetTitle = graph.String(rec, "target_title")
		m.TargetProse = graph.String(rec, "target_prose")
		out = append(out, m)
	}
	return out, nil
}

func decodeMapping(rec *neo4j.Record) Mapping {
	m := Mapping{
		SourceID:   graph.String(rec, "source_id"),
		TargetID:   graph.String(rec, "target_id"),
		Type:       Type(graph.String(rec, "type")),
		Method:     Method(graph.String(rec, "method")),
		Status:     Status(graph.String(rec, "status")),
		Annotation: graph.String(rec, "annotation"),
		CreatedAt:  millis(graph.Int(rec, "created_timestamp")),
		UpdatedAt:  millis(graph.Int(rec, "last_updated_timestamp")),
	}
	if v, ok := graph.OptionalString(rec, "explanation"); ok {
		m.Explanation = &v
	}
	if v, ok := graph.OptionalString(rec, "explanation_old"); ok {
		m.ExplanationOld = &v
	}
	if v, ok := graph.OptionalFloat(rec, "similarity"); ok {
		m.Similarity = &v
	}
	return m
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
