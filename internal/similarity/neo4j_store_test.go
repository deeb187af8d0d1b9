package similarity

import (
	"context"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/graph"
	"github.com/cysecmato/cysecmato/internal/graph/graphtest"
)

func TestNeo4jLockedPart(t *testing.T) {
	runner := graphtest.New().On("LIMIT 1", []*neo4j.Record{
		graph.NewRecord([]string{"control_id", "prose", "vector", "model"}, "AC-1", "prose", []any{0.5, 0.25}, "m"),
	}, nil)
	store := NewNeo4jStore(runner)

	locked, err := store.LockedPart(context.Background(), "4:abc:1")
	require.NoError(t, err)
	assert.Equal(t, "AC-1", locked.ControlID)
	assert.Equal(t, []float32{0.5, 0.25}, locked.Vector)
	assert.Equal(t, "4:abc:1", runner.Last().Params["part_id"])

	_, err = NewNeo4jStore(graphtest.New()).LockedPart(context.Background(), "gone")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestNeo4jScoreOneToManyQuery(t *testing.T) {
	runner := graphtest.New().On("similarity_score", []*neo4j.Record{
		graph.NewRecord(
			[]string{"source_control_id", "source_control_prose", "target_control_id", "target_control_title", "target_control_prose", "similarity_score", "similarity_category"},
			"S", "sp", "T1", "Target", "tp", 0.8, "high_similarity"),
	}, nil)
	store := NewNeo4jStore(runner)

	results, err := store.ScoreOneToMany(context.Background(), "vector.similarity.cosine", OneToManyRequest{
		SourcePartID: "p", TargetCatalog: "cat", TargetGroup: "ac", Threshold: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, High, results[0].Category)
	assert.InDelta(t, 0.8, results[0].Score, 1e-9)

	call := runner.Last()
	assert.Equal(t, "read", call.Mode)
	assert.Contains(t, call.Query, "vector.similarity.cosine(src_vec, tp.embedding_vector)")
	assert.Contains(t, call.Query, "IS_CHILD_OF*0..")
	assert.Contains(t, call.Query, "ELSE 'very_low_similarity'")
	assert.Equal(t, "ac", call.Params["target_group"])
	assert.Equal(t, 0.5, call.Params["threshold"])
}

func TestNeo4jScoreOneToManyCatalogScope(t *testing.T) {
	runner := graphtest.New()
	_, err := NewNeo4jStore(runner).ScoreOneToMany(context.Background(), DefaultCosineFunction, OneToManyRequest{SourcePartID: "p", TargetCatalog: "cat"})
	require.NoError(t, err)

	call := runner.Last()
	assert.NotContains(t, call.Query, "IS_CHILD_OF")
	assert.NotContains(t, call.Params, "target_group")
}

func TestNeo4jScoreManyToManyQuery(t *testing.T) {
	runner := graphtest.New().On("relationships_written", []*neo4j.Record{
		graph.NewRecord([]string{"relationships_written"}, int64(17)),
	}, nil)

	n, err := NewNeo4jStore(runner).ScoreManyToMany(context.Background(), DefaultCosineFunction, ManyToManyRequest{
		SourceCatalog: "a", TargetCatalog: "b", ModelName: "m", Threshold: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, 17, n)

	call := runner.Last()
	assert.Equal(t, "write", call.Mode)
	assert.Equal(t, graph.OpSimilarityBulk, call.Operation)
	assert.Contains(t, call.Query, "gds.similarity.cosine(sp.embedding_vector, tp.embedding_vector)")
	assert.Contains(t, call.Query, "MERGE (sc)-[r:HAS_SIMILARITY]->(tc)")
	assert.NotContains(t, call.Query, "very_low_similarity")
	assert.Equal(t, "m", call.Params["model"])
}

func TestNeo4jCapabilityMissingPassesThrough(t *testing.T) {
	missing := errors.CapabilityMissingError(assert.AnError, "unknown function")
	runner := graphtest.New().On("relationships_written", nil, missing)

	_, err := NewNeo4jStore(runner).ScoreManyToMany(context.Background(), DefaultCosineFunction, ManyToManyRequest{SourceCatalog: "a", TargetCatalog: "b", ModelName: "m"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapabilityMissing))
}

func TestNeo4jMergeEdges(t *testing.T) {
	runner := graphtest.New().On("UNWIND $rows", []*neo4j.Record{
		graph.NewRecord([]string{"merged"}, int64(2)),
	}, nil)

	n, err := NewNeo4jStore(runner).MergeEdges(context.Background(), []Edge{
		{SourceID: "S", TargetID: "T1", Score: 0.8, Category: High, ModelName: "m"},
		{SourceID: "S", TargetID: "T2", Score: 0.6, Category: Medium, ModelName: "m"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	call := runner.Last()
	assert.Equal(t, "batches", call.Mode)
	require.Len(t, call.Rows, 2)
	assert.Equal(t, "medium_similarity", call.Rows[1]["category"])
	assert.Contains(t, call.Query, "ON MATCH SET")

	n, err = NewNeo4jStore(runner).MergeEdges(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, runner.Calls(), 1)
}

func TestNeo4jTop(t *testing.T) {
	runner := graphtest.New().On("LIMIT $limit", []*neo4j.Record{
		graph.NewRecord(
			[]string{"source_control_id", "source_control_title", "target_control_id", "target_control_title", "similarity_score", "similarity_category", "model_name"},
			"S", "Source", "T", "Target", 0.9, "high_similarity", "m"),
	}, nil)

	top, err := NewNeo4jStore(runner).Top(context.Background(), TopRequest{SourceCatalog: "a", TargetCatalog: "b", Limit: 5})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "m", top[0].ModelName)
	assert.Equal(t, int64(5), runner.Last().Params["limit"])
}

func TestNeo4jPartsGroupScope(t *testing.T) {
	runner := graphtest.New().On("RETURN DISTINCT", []*neo4j.Record{
		graph.NewRecord([]string{"part_id", "control_id", "title", "prose", "vector"}, "p1", "AC-1", "Policy", "text", []any{1.0, 0.0}),
	}, nil)

	parts, err := NewNeo4jStore(runner).Parts(context.Background(), "cat", "ac")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, []float32{1, 0}, parts[0].Vector)
	assert.Contains(t, runner.Last().Query, "Group {id: $target_group")
}
