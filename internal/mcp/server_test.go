package mcp

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/mapping"
	"github.com/cysecmato/cysecmato/internal/rag"
	"github.com/cysecmato/cysecmato/internal/similarity"
)

type fakeFinder struct {
	last similarity.OneToManyRequest
}

func (f *fakeFinder) OneToMany(_ context.Context, req similarity.OneToManyRequest) ([]similarity.Result, error) {
	f.last = req
	return []similarity.Result{{SourceID: "S", TargetID: "T1", Score: 0.8, Category: similarity.High}}, nil
}

type fakeClassifier struct {
	prose     map[string]string
	lastQuery rag.CandidateQuery
	pair      [2]string
}

func (f *fakeClassifier) FetchCandidates(_ context.Context, q rag.CandidateQuery) ([]rag.Candidate, error) {
	f.lastQuery = q
	return []rag.Candidate{{TargetID: "T1", Score: 0.9, Category: similarity.High}}, nil
}

func (f *fakeClassifier) SourceProse(_ context.Context, id string) (string, error) {
	p, ok := f.prose[id]
	if !ok {
		return "", errors.NotFoundErrorf("control %s has no description", id)
	}
	return p, nil
}

func (f *fakeClassifier) ClassifyPair(_ context.Context, src, tgt string) (rag.Proposal, error) {
	f.pair = [2]string{src, tgt}
	return rag.Proposal{Classification: mapping.TypeSubset, Explanation: "narrower"}, nil
}

type fakeMappings struct {
	edges     map[string]mapping.Mapping
	rejected  string
	lastQuery mapping.ListFilter
}

func (f *fakeMappings) Get(_ context.Context, src, tgt string) (mapping.Mapping, error) {
	m, ok := f.edges[src+"->"+tgt]
	if !ok {
		return mapping.Mapping{}, errors.NotFoundErrorf("mapping %s -> %s not found", src, tgt)
	}
	return m, nil
}

func (f *fakeMappings) List(_ context.Context, filter mapping.ListFilter) ([]mapping.Mapping, error) {
	f.lastQuery = filter
	return nil, nil
}

func (f *fakeMappings) Validate(_ context.Context, src, tgt string) error {
	m, err := f.Get(context.Background(), src, tgt)
	if err != nil {
		return err
	}
	m.Status = mapping.StatusHumanValidated
	f.edges[src+"->"+tgt] = m
	return nil
}

func (f *fakeMappings) Reject(_ context.Context, src, tgt, annotation string) error {
	if _, err := f.Get(context.Background(), src, tgt); err != nil {
		return err
	}
	f.rejected = annotation
	return nil
}

func connect(t *testing.T, svc Services) *sdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverTransport, clientTransport := sdk.NewInMemoryTransports()

	_, err := NewServer(svc, "test").Connect(ctx, serverTransport, nil)
	require.NoError(t, err)

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func call(t *testing.T, s *sdk.ClientSession, name string, args map[string]any) (string, bool) {
	t.Helper()
	res, err := s.CallTool(context.Background(), &sdk.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func fullServices() (Services, *fakeFinder, *fakeClassifier, *fakeMappings) {
	finder := &fakeFinder{}
	classifier := &fakeClassifier{prose: map[string]string{"S": "source prose", "T": "target prose"}}
	maps := &fakeMappings{edges: map[string]mapping.Mapping{
		"S->T": {SourceID: "S", TargetID: "T", Type: mapping.TypeEqual, Status: mapping.StatusPending},
	}}
	return Services{Similarity: finder, RAG: classifier, Mappings: maps, DisplayThreshold: 0.5}, finder, classifier, maps
}

func TestToolsRegistered(t *testing.T) {
	svc, _, _, _ := fullServices()
	session := connect(t, svc)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"classify_pair", "find_similar_controls", "list_mappings", "mapping_detail",
		"rag_candidates", "reject_mapping", "validate_mapping",
	}, names)

	partial := connect(t, Services{Mappings: &fakeMappings{}})
	res, err = partial.ListTools(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, res.Tools, 4)
}

func TestFindSimilarControls(t *testing.T) {
	svc, finder, _, _ := fullServices()
	session := connect(t, svc)

	text, isErr := call(t, session, "find_similar_controls", map[string]any{"part_id": "p1", "target_catalog": "cat"})
	require.False(t, isErr, text)
	assert.InDelta(t, 0.5, finder.last.Threshold, 1e-9, "display threshold applies by default")
	assert.Equal(t, "p1", finder.last.SourcePartID)

	var results []similarity.Result
	require.NoError(t, json.Unmarshal([]byte(text), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "T1", results[0].TargetID)

	_, isErr = call(t, session, "find_similar_controls", map[string]any{"part_id": "p1", "target_catalog": "cat", "threshold": 0.0})
	require.False(t, isErr)
	assert.Zero(t, finder.last.Threshold)
}

func TestRAGTools(t *testing.T) {
	svc, _, classifier, _ := fullServices()
	session := connect(t, svc)

	_, isErr := call(t, session, "rag_candidates", map[string]any{"control_id": "S", "categories": []string{"low_similarity"}})
	require.False(t, isErr)
	assert.Equal(t, []similarity.Category{similarity.Low}, classifier.lastQuery.Categories)

	text, isErr := call(t, session, "rag_candidates", map[string]any{"control_id": "S", "categories": []string{"huge"}})
	assert.True(t, isErr)
	assert.Contains(t, text, "INVALID_INPUT")

	text, isErr = call(t, session, "classify_pair", map[string]any{"source_id": "S", "target_id": "T"})
	require.False(t, isErr, text)
	assert.Equal(t, [2]string{"source prose", "target prose"}, classifier.pair)
	var c classification
	require.NoError(t, json.Unmarshal([]byte(text), &c))
	assert.Equal(t, mapping.TypeSubset, c.Classification)

	text, isErr = call(t, session, "classify_pair", map[string]any{"source_id": "S", "target_id": "X"})
	assert.True(t, isErr)
	assert.Contains(t, text, "NOT_FOUND")
}

func TestMappingTools(t *testing.T) {
	svc, _, _, maps := fullServices()
	session := connect(t, svc)

	text, isErr := call(t, session, "mapping_detail", map[string]any{"source_id": "S", "target_id": "T"})
	require.False(t, isErr, text)
	assert.Contains(t, text, `"EQUAL"`)

	text, isErr = call(t, session, "mapping_detail", map[string]any{"source_id": "S", "target_id": "missing"})
	assert.True(t, isErr)
	assert.Contains(t, text, "NOT_FOUND")

	_, isErr = call(t, session, "validate_mapping", map[string]any{"source_id": "S", "target_id": "T"})
	require.False(t, isErr)
	assert.Equal(t, mapping.StatusHumanValidated, maps.edges["S->T"].Status)

	_, isErr = call(t, session, "reject_mapping", map[string]any{"source_id": "S", "target_id": "T", "annotation": "scope differs"})
	require.False(t, isErr)
	assert.Equal(t, "scope differs", maps.rejected)

	_, isErr = call(t, session, "list_mappings", map[string]any{"statuses": []string{"confirmed"}, "limit": 10})
	require.False(t, isErr)
	assert.Equal(t, []mapping.Status{mapping.StatusConfirmed}, maps.lastQuery.Statuses)
	assert.Equal(t, 10, maps.lastQuery.Limit)

	text, isErr = call(t, session, "list_mappings", map[string]any{"statuses": []string{"archived"}})
	assert.True(t, isErr)
	assert.Contains(t, text, "INVALID_INPUT")
}
