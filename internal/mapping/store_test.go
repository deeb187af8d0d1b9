package mapping

import (
	"context"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/graph"
	"github.com/cysecmato/cysecmato/internal/graph/graphtest"
)

var edgeKeys = []string{
	"source_id", "target_id", "type", "explanation", "explanation_old", "similarity",
	"method", "status", "annotation", "created_timestamp", "last_updated_timestamp",
}

func TestNeo4jGetDecodesNulls(t *testing.T) {
	runner := graphtest.New().On("RETURN sc.id", []*neo4j.Record{
		graph.NewRecord(edgeKeys, "S", "T1", "EQUAL", "why", nil, 0.81, "LLM", "pending_validation", nil, int64(1700000000000), int64(1700000001000)),
	}, nil)

	m, found, err := NewNeo4jStore(runner).Get(context.Background(), "S", "T1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, TypeEqual, m.Type)
	assert.Equal(t, "why", *m.Explanation)
	assert.Nil(t, m.ExplanationOld)
	assert.InDelta(t, 0.81, *m.Similarity, 1e-9)
	assert.Equal(t, int64(1700000001000), m.UpdatedAt.UnixMilli())
	assert.Equal(t, "T1", runner.Last().Params["target_id"])

	_, found, err = NewNeo4jStore(graphtest.New()).Get(context.Background(), "S", "T9")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNeo4jUpsert(t *testing.T) {
	runner := graphtest.New().On("MERGE (sc)-[r:IS_MAPPED_TO]->(tc)", []*neo4j.Record{
		graph.NewRecord([]string{"affected"}, int64(1)),
	}, nil)

	err := NewNeo4jStore(runner).Upsert(context.Background(), "S", "T1", Patch{Status: ptr(StatusPending), Method: ptr(MethodLLM)})
	require.NoError(t, err)

	call := runner.Last()
	assert.Equal(t, "write", call.Mode)
	assert.Equal(t, graph.OpMappingWrite, call.Operation)
	assert.Equal(t, map[string]any{"status": "pending_validation", "method": "LLM"}, call.Params["props"])

	missing := graphtest.New().On("MERGE", []*neo4j.Record{graph.NewRecord([]string{"affected"}, int64(0))}, nil)
	err = NewNeo4jStore(missing).Upsert(context.Background(), "S", "nope", Patch{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestNeo4jUpdateAndDelete(t *testing.T) {
	runner := graphtest.New().
		On("r.explanation_old = CASE", []*neo4j.Record{graph.NewRecord([]string{"affected"}, int64(0))}, nil).
		On("DELETE r", []*neo4j.Record{graph.NewRecord([]string{"deleted"}, int64(1))}, nil)
	store := NewNeo4jStore(runner)

	found, err := store.Update(context.Background(), "S", "T1", Patch{Status: ptr(StatusRejected)})
	require.NoError(t, err)
	assert.False(t, found)
	assert.NotContains(t, runner.Last().Query, "MERGE")
	assert.Equal(t, false, runner.Last().Params["archive"])

	deleted, err := store.Delete(context.Background(), "S", "T1")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestNeo4jUpdateArchivesExplanationInOneWrite(t *testing.T) {
	runner := graphtest.New().
		On("r.explanation_old = CASE", []*neo4j.Record{graph.NewRecord([]string{"affected"}, int64(1))}, nil)
	store := NewNeo4jStore(runner)

	found, err := store.Update(context.Background(), "S", "T1", Patch{
		Explanation:        ptr("reworded"),
		Status:             ptr(StatusConfirmed),
		ArchiveExplanation: true,
	})
	require.NoError(t, err)
	assert.True(t, found)

	calls := runner.Calls()
	require.Len(t, calls, 1, "no read precedes the write")
	call := calls[0]
	assert.Contains(t, call.Query, "WHEN $archive AND r.explanation IS NOT NULL AND r.explanation <> $props.explanation")
	assert.Less(t, strings.Index(call.Query, "r.explanation_old = CASE"), strings.Index(call.Query, "r += $props"),
		"the old explanation is captured before it is overwritten")
	assert.Equal(t, true, call.Params["archive"])
	props := call.Params["props"].(map[string]any)
	assert.Equal(t, "reworded", props["explanation"])
	assert.NotContains(t, props, "explanation_old")
}

func TestNeo4jListFilters(t *testing.T) {
	keys := append(append([]string{}, edgeKeys...), "source_title", "source_prose", "target_title", "target_prose")
	runner := graphtest.New().On("LIMIT $limit", []*neo4j.Record{
		graph.NewRecord(keys, "S", "T1", "SUBSET", "e", "old", nil, "Human", "confirmed", nil, int64(1), int64(2),
			"Source", "source prose", "Target", "target prose"),
	}, nil)

	mappings, err := NewNeo4jStore(runner).List(context.Background(), ListFilter{
		SourceCatalog: "cat-a", Statuses: []Status{StatusPending, StatusConfirmed}, Limit: 50,
	})
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "target prose", mappings[0].TargetProse)
	assert.Equal(t, "old", *mappings[0].ExplanationOld)
	assert.Nil(t, mappings[0].Similarity)

	call := runner.Last()
	assert.Contains(t, call.Query, "WHERE sc.catalog_uuid = $source_catalog AND r.status IN $statuses")
	assert.NotContains(t, call.Query, "$target_catalog")
	assert.Equal(t, []string{"pending_validation", "confirmed"}, call.Params["statuses"])
	assert.Equal(t, int64(50), call.Params["limit"])

	_, err = NewNeo4jStore(runner).List(context.Background(), ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.NotContains(t, runner.Last().Query, "WHERE")
}
