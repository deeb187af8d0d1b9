package mapping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/cysecmato/cysecmato/internal/audit"
	"github.com/cysecmato/cysecmato/internal/errors"
)

// memStore applies patches to an in-memory edge set with MERGE semantics
type memStore struct {
	controls  map[string]bool
	edges     map[[2]string]*Mapping
	lastLimit int
}

func newMemStore(controls ...string) *memStore {
	s := &memStore{controls: map[string]bool{}, edges: map[[2]string]*Mapping{}}
	for _, c := range controls {
		s.controls[c] = true
	}
	return s
}

func (s *memStore) apply(m *Mapping, p Patch) {
	if p.Type != nil {
		m.Type = *p.Type
	}
	if p.Explanation != nil {
		if p.ArchiveExplanation && m.Explanation != nil && *m.Explanation != *p.Explanation {
			m.ExplanationOld = ptr(*m.Explanation)
		}
		m.Explanation = ptr(*p.Explanation)
	}
	if p.Similarity != nil {
		m.Similarity = ptr(*p.Similarity)
	}
	if p.Method != nil {
		m.Method = *p.Method
	}
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Annotation != nil {
		m.Annotation = *p.Annotation
	}
	m.UpdatedAt = time.Now()
}

func (s *memStore) Get(_ context.Context, src, tgt string) (Mapping, bool, error) {
	m, ok := s.edges[[2]string{src, tgt}]
	if !ok {
		return Mapping{}, false, nil
	}
	return *m, true, nil
}

func (s *memStore) Upsert(_ context.Context, src, tgt string, p Patch) error {
	if !s.controls[src] || !s.controls[tgt] {
		return errors.NotFoundErrorf("control %s or %s not found", src, tgt)
	}
	key := [2]string{src, tgt}
	m, ok := s.edges[key]
	if !ok {
		m = &Mapping{SourceID: src, TargetID: tgt, CreatedAt: time.Now()}
		s.edges[key] = m
	}
	s.apply(m, p)
	return nil
}

func (s *memStore) Update(_ context.Context, src, tgt string, p Patch) (bool, error) {
	m, ok := s.edges[[2]string{src, tgt}]
	if !ok {
		return false, nil
	}
	s.apply(m, p)
	return true, nil
}

func (s *memStore) Delete(_ context.Context, src, tgt string) (bool, error) {
	key := [2]string{src, tgt}
	_, ok := s.edges[key]
	delete(s.edges, key)
	return ok, nil
}

func (s *memStore) List(_ context.Context, f ListFilter) ([]Mapping, error) {
	s.lastLimit = f.Limit
	var out []Mapping
	for _, m := range s.edges {
		out = append(out, *m)
	}
	return out, nil
}

// memTrail keeps entries in memory and can be told to fail
type memTrail struct {
	audit.Nop
	entries []audit.Entry
	err     error
}

func (t *memTrail) Record(_ context.Context, e audit.Entry) error {
	if t.err != nil {
		return t.err
	}
	t.entries = append(t.entries, e)
	return nil
}

func (t *memTrail) transitions() []string {
	var out []string
	for _, e := range t.entries {
		out = append(out, e.Transition)
	}
	return out
}

func setup(t *testing.T) (*Manager, *memStore, *memTrail) {
	t.Helper()
	store := newMemStore("S", "T1", "T2")
	trail := &memTrail{}
	return NewManager(store, WithAudit(trail)), store, trail
}

func edge(t *testing.T, s *memStore, src, tgt string) Mapping {
	t.Helper()
	m, ok, err := s.Get(context.Background(), src, tgt)
	require.NoError(t, err)
	require.True(t, ok, "edge %s -> %s missing", src, tgt)
	return m
}

func TestLifecycleScenario(t *testing.T) {
	mgr, store, trail := setup(t)
	ctx := context.Background()

	require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: TypeEqual, Explanation: "llm says equal", Similarity: 0.82}))
	m := edge(t, store, "S", "T1")
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, MethodLLM, m.Method)

	require.NoError(t, mgr.Validate(ctx, "S", "T1"))
	m = edge(t, store, "S", "T1")
	assert.Equal(t, StatusHumanValidated, m.Status)
	assert.Equal(t, MethodLLM, m.Method, "validation without changes keeps the method")

	require.NoError(t, mgr.EditAndConfirm(ctx, "S", "T1", Edit{Explanation: "human wording"}))
	m = edge(t, store, "S", "T1")
	require.NotNil(t, m.ExplanationOld)
	assert.Equal(t, "llm says equal", *m.ExplanationOld)
	assert.Equal(t, "human wording", *m.Explanation)
	assert.Equal(t, StatusConfirmed, m.Status)
	assert.Equal(t, MethodHuman, m.Method)
	assert.Equal(t, TypeEqual, m.Type, "empty edit type keeps the current type")

	assert.Equal(t, []string{"propose", "validate", "edit"}, trail.transitions())
	assert.Equal(t, "human_validated", trail.entries[1].Status)
}

func TestProposeUpserts(t *testing.T) {
	mgr, store, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: TypeSubset, Explanation: "first", Similarity: 0.6}))
	require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: "superset", Explanation: "second", Similarity: 0.7}))

	assert.Len(t, store.edges, 1)
	m := edge(t, store, "S", "T1")
	assert.Equal(t, TypeSuperset, m.Type)
	assert.Equal(t, "second", *m.Explanation)
	assert.InDelta(t, 0.7, *m.Similarity, 1e-9)

	_, reverse, _ := store.Get(ctx, "T1", "S")
	assert.False(t, reverse)
}

func TestProposeErrors(t *testing.T) {
	mgr, store, trail := setup(t)
	ctx := context.Background()

	err := mgr.Propose(ctx, "S", "T1", Proposal{Type: "KINDA"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	err = mgr.Propose(ctx, "S", "missing", Proposal{Type: TypeEqual})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = mgr.Propose(ctx, "", "T1", Proposal{Type: TypeEqual})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	assert.Empty(t, store.edges)
	assert.Empty(t, trail.entries)
}

func TestEditExplanationVersioning(t *testing.T) {
	ctx := context.Background()

	t.Run("same explanation is not archived", func(t *testing.T) {
		mgr, store, _ := setup(t)
		require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: TypeEqual, Explanation: "same"}))
		require.NoError(t, mgr.EditAndConfirm(ctx, "S", "T1", Edit{Type: "equal", Explanation: "same"}))

		m := edge(t, store, "S", "T1")
		assert.Nil(t, m.ExplanationOld)
		assert.Equal(t, StatusConfirmed, m.Status)
	})

	t.Run("changed explanation is archived once", func(t *testing.T) {
		mgr, store, _ := setup(t)
		require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: TypeEqual, Explanation: "v1"}))
		require.NoError(t, mgr.EditAndConfirm(ctx, "S", "T1", Edit{Explanation: "v2"}))
		require.NoError(t, mgr.EditAndConfirm(ctx, "S", "T1", Edit{Explanation: "v2"}))

		m := edge(t, store, "S", "T1")
		assert.Equal(t, "v1", *m.ExplanationOld, "re-saving the same text keeps the archive")
		assert.Equal(t, "v2", *m.Explanation)

		require.NoError(t, mgr.EditAndConfirm(ctx, "S", "T1", Edit{Explanation: "v3"}))
		m = edge(t, store, "S", "T1")
		assert.Equal(t, "v2", *m.ExplanationOld)
	})

	t.Run("null explanation is not archived", func(t *testing.T) {
		mgr, store, _ := setup(t)
		store.edges[[2]string{"S", "T1"}] = &Mapping{SourceID: "S", TargetID: "T1", Type: TypeRelated, Status: StatusPending}
		require.NoError(t, mgr.EditAndConfirm(ctx, "S", "T1", Edit{Explanation: "first words"}))

		m := edge(t, store, "S", "T1")
		assert.Nil(t, m.ExplanationOld)
		assert.Equal(t, "first words", *m.Explanation)
	})
}

func TestEditRejectsInvalidType(t *testing.T) {
	mgr, store, trail := setup(t)
	ctx := context.Background()
	require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: TypeSubset, Explanation: "orig"}))

	err := mgr.EditAndConfirm(ctx, "S", "T1", Edit{Type: "NOT_A_TYPE", Explanation: "changed"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	m := edge(t, store, "S", "T1")
	assert.Equal(t, TypeSubset, m.Type)
	assert.Equal(t, "orig", *m.Explanation)
	assert.Nil(t, m.ExplanationOld)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, []string{"propose"}, trail.transitions())
}

func TestEditNormalizesType(t *testing.T) {
	mgr, store, _ := setup(t)
	ctx := context.Background()
	require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: TypeSubset, Explanation: "x"}))
	require.NoError(t, mgr.EditAndConfirm(ctx, "S", "T1", Edit{Type: " related ", Explanation: "x"}))
	assert.Equal(t, TypeRelated, edge(t, store, "S", "T1").Type)
}

func TestTransitionsOnMissingEdge(t *testing.T) {
	mgr, store, trail := setup(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"validate", func() error { return mgr.Validate(ctx, "S", "T2") }},
		{"edit", func() error { return mgr.EditAndConfirm(ctx, "S", "T2", Edit{Explanation: "x"}) }},
		{"reject", func() error { return mgr.Reject(ctx, "S", "T2", "") }},
		{"get", func() error { _, err := mgr.Get(ctx, "S", "T2"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.run()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
		})
	}
	assert.Empty(t, store.edges)
	assert.Empty(t, trail.entries)
}

func TestReject(t *testing.T) {
	mgr, store, trail := setup(t)
	ctx := context.Background()
	require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: TypeEqual, Explanation: "x"}))

	require.NoError(t, mgr.Reject(ctx, "S", "T1", "  different scope "))
	m := edge(t, store, "S", "T1")
	assert.Equal(t, StatusRejected, m.Status)
	assert.Equal(t, MethodHuman, m.Method)
	assert.Equal(t, "different scope", m.Annotation)

	// idempotent
	require.NoError(t, mgr.Reject(ctx, "S", "T1", ""))
	assert.Equal(t, "different scope", edge(t, store, "S", "T1").Annotation)
	assert.Equal(t, "different scope", trail.entries[1].Annotation)
}

func TestDelete(t *testing.T) {
	mgr, store, trail := setup(t)
	ctx := context.Background()
	require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: TypeEqual}))

	deleted, err := mgr.Delete(ctx, "S", "T1")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Empty(t, store.edges)

	deleted, err = mgr.Delete(ctx, "S", "T1")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Equal(t, []string{"propose", "delete"}, trail.transitions())
}

func TestAuditFailureIsNotFatal(t *testing.T) {
	store := newMemStore("S", "T1")
	mgr := NewManager(store, WithAudit(&memTrail{err: fmt.Errorf("disk full")}))

	require.NoError(t, mgr.Propose(context.Background(), "S", "T1", Proposal{Type: TypeEqual}))
	assert.Len(t, store.edges, 1)
}

func TestApply(t *testing.T) {
	mgr, store, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, mgr.Apply(ctx, Command{SourceID: "S", TargetID: "T1", Transition: TransitionPropose,
		Payload: Payload{Type: "equal", Explanation: "e", Similarity: 0.9}}))
	require.NoError(t, mgr.Apply(ctx, Command{SourceID: "S", TargetID: "T1", Transition: TransitionEdit,
		Payload: Payload{Type: "SUBSET", Explanation: "f"}}))
	assert.Equal(t, TypeSubset, edge(t, store, "S", "T1").Type)

	require.NoError(t, mgr.Apply(ctx, Command{SourceID: "S", TargetID: "T1", Transition: TransitionReject, Payload: Payload{Annotation: "no"}}))
	assert.Equal(t, StatusRejected, edge(t, store, "S", "T1").Status)

	require.NoError(t, mgr.Apply(ctx, Command{SourceID: "S", TargetID: "T1", Transition: TransitionDelete}))
	assert.Empty(t, store.edges)

	err := mgr.Apply(ctx, Command{SourceID: "S", TargetID: "T1", Transition: "archive"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestListDefaultsLimit(t *testing.T) {
	mgr, store, _ := setup(t)
	_, err := mgr.List(context.Background(), ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, DefaultListLimit, store.lastLimit)

	_, err = mgr.List(context.Background(), ListFilter{Limit: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, store.lastLimit)
}

func TestHistoryUsesTrail(t *testing.T) {
	path := t.TempDir() + "/audit.jsonl"
	trail, err := audit.NewJSONL(path)
	require.NoError(t, err)
	mgr := NewManager(newMemStore("S", "T1"), WithAudit(trail))
	ctx := context.Background()

	require.NoError(t, mgr.Propose(ctx, "S", "T1", Proposal{Type: TypeEqual}))
	require.NoError(t, mgr.Validate(ctx, "S", "T1"))

	history, err := mgr.History(ctx, "S", "T1", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "validate", history[0].Transition)

	_, err = mgr.History(ctx, "", "", 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestParseType(t *testing.T) {
	for _, in := range []string{"EQUAL", "equal", "Subset", " superset ", "RELATED", "unrelated", "Error"} {
		_, err := ParseType(in)
		assert.NoError(t, err, in)
	}
	for _, in := range []string{"", "NOT_A_TYPE", "EQUALS"} {
		_, err := ParseType(in)
		assert.Error(t, err, in)
	}
}

func TestExport(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mappings := []Mapping{{SourceID: "S", TargetID: "T1", Type: TypeEqual, Explanation: ptr("why"), Method: MethodHuman, Status: StatusConfirmed}}

	var buf bytes.Buffer
	require.NoError(t, Export(&buf, FormatJSON, mappings, at))
	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.EqualValues(t, 1, doc["count"])
	assert.Equal(t, "2025-01-02T03:04:05Z", doc["exported_at"])

	buf.Reset()
	require.NoError(t, Export(&buf, FormatYAML, mappings, at))
	var y struct {
		Mappings []struct {
			SourceID string `yaml:"source_id"`
			Type     string `yaml:"type"`
			Status   string `yaml:"status"`
		} `yaml:"mappings"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &y))
	require.Len(t, y.Mappings, 1)
	assert.Equal(t, "EQUAL", y.Mappings[0].Type)
	assert.Equal(t, "confirmed", y.Mappings[0].Status)

	f, err := ParseExportFormat("YML")
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)
	_, err = ParseExportFormat("csv")
	assert.Error(t, err)
}
