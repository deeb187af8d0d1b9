package rag

import (
	"context"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/graph"
	"github.com/cysecmato/cysecmato/internal/similarity"
)

const (
	// DefaultLimit is the number of candidates fetched when none is given
	DefaultLimit = 5
)

// DefaultCategories are the similarity buckets worth an LLM call
var DefaultCategories = []similarity.Category{similarity.High, similarity.Medium}

// Candidate is a target control reachable by a similarity edge from the source
type Candidate struct {
	TargetID    string              `json:"target_id"`
	TargetTitle string              `json:"target_title"`
	TargetProse string              `json:"target_prose"`
	Score       float64             `json:"score"`
	Category    similarity.Category `json:"category"`
	// HasMapping is true when any IS_MAPPED_TO edge exists for the pair
	HasMapping    bool   `json:"has_mapping"`
	MappingStatus string `json:"mapping_status,omitempty"`
}

// CandidateQuery selects candidates for one source control
type CandidateQuery struct {
	SourceID   string
	Categories []similarity.Category
	Limit      int
}

// CandidateStore reads similarity context from the graph
type CandidateStore interface {
	Candidates(ctx context.Context, q CandidateQuery) ([]Candidate, error)
	// SourceProse returns the description prose of a control
	SourceProse(ctx context.Context, controlID string) (string, error)
}

const candidatesQuery = `
MATCH (source:Control {id: $source_id})-[r:HAS_SIMILARITY]->(target:Control)
WHERE r.similarity_category IN $categories
WITH source, target, r
ORDER BY r.similarity_score DESC
LIMIT $limit
MATCH (target)-[:HAS_PART]->(p:Part {name: 'description'})
WHERE p.prose IS NOT NULL
OPTIONAL MATCH (source)-[m:IS_MAPPED_TO]->(target)
RETURN target.id AS target_id,
       target.title AS target_title,
       p.prose AS target_prose,
       r.similarity_score AS score,
       r.similarity_category AS category,
       m IS NOT NULL AS has_mapping,
       m.status AS mapping_status
ORDER BY score DESC
`

const sourceProseQuery = `
MATCH (c:Control {id: $control_id})-[:HAS_PART]->(p:Part {name: 'description'})
RETURN p.prose AS prose
LIMIT 1
`

// Neo4jCandidateStore implements CandidateStore on the graph
type Neo4jCandidateStore struct {
	runner graph.Runner
}

// NewNeo4jCandidateStore creates a Neo4jCandidateStore
func NewNeo4jCandidateStore(runner graph.Runner) *Neo4jCandidateStore {
	return &Neo4jCandidateStore{runner: runner}
}

func (s *Neo4jCandidateStore) Candidates(ctx context.Context, q CandidateQuery) ([]Candidate, error) {
	categories := make([]string, len(q.Categories))
	for i, c := range q.Categories {
		categories[i] = string(c)
	}
	records, err := s.runner.Read(ctx, graph.OpRAGContext, candidatesQuery, map[string]any{
		"source_id":  q.SourceID,
		"categories": categories,
		"limit":      int64(q.Limit),
	})
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(records))
	for _, rec := range records {
		cat, _ := similarity.ParseCategory(graph.String(rec, "category"))
		out = append(out, Candidate{
			TargetID:      graph.String(rec, "target_id"),
			TargetTitle:   graph.String(rec, "target_title"),
			TargetProse:   graph.String(rec, "target_prose"),
			Score:         graph.Float(rec, "score"),
			Category:      cat,
			HasMapping:    graph.Bool(rec, "has_mapping"),
			MappingStatus: graph.String(rec, "mapping_status"),
		})
	}
	return out, nil
}

func (s *Neo4jCandidateStore) SourceProse(ctx context.Context, controlID string) (string, error) {
	records, err := s.runner.Read(ctx, graph.OpRAGContext, sourceProseQuery, map[string]any{"control_id": controlID})
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", errors.NotFoundErrorf("control %s has no description", controlID).WithContext("control_id", controlID)
	}
	return graph.String(records[0], "prose"), nil
}
