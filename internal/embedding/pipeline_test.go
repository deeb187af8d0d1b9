package embedding

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/progress"
)

func readyManager(t *testing.T, loader *fakeLoader) *Manager {
	t.Helper()
	m := NewManager(loader)
	require.NoError(t, m.Initialize(context.Background(), "all-MiniLM-L6-v2", nil))
	return m
}

func TestCreateEmbeddings(t *testing.T) {
	loader := newFakeLoader()
	loader.failOn = "explode"
	loader.modelMax = 10
	writer := &memWriter{}
	p := NewPipeline(readyManager(t, loader), NewEncoder(), writer)
	rec := &progress.Recorder{}

	parts := []PartDescriptor{
		{PartID: "4:p:1", ControlID: "ac-1", Description: "Develop an access control policy"},
		{PartID: "4:p:2", ControlID: "ac-2", Description: "Manage system accounts", HasEmbedding: true},
		{PartID: "", ControlID: "ac-3", Description: "Enforce approved authorizations"},
		{PartID: "4:p:4", ControlID: "ac-4", Description: "   "},
		{PartID: "4:p:5", ControlID: "ac-5", Description: "this will explode"},
		{PartID: "4:p:6", ControlID: "ac-6", Description: words(25, "least")},
	}
	for i := 7; i <= 12; i++ {
		parts = append(parts, PartDescriptor{
			PartID:      fmt.Sprintf("4:p:%d", i),
			ControlID:   fmt.Sprintf("ac-%d", i),
			Description: fmt.Sprintf("control statement %d", i),
		})
	}

	report, err := p.CreateEmbeddings(context.Background(), parts, rec)
	require.NoError(t, err)

	assert.Equal(t, 12, report.Total)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Invalid)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 8, report.Computed)
	assert.Equal(t, 8, report.Persisted)
	assert.Equal(t, 1, report.Chunked)
	assert.Len(t, report.Failures, 3)

	assert.Equal(t, 1, writer.writes, "all vectors go out in one bulk write")
	require.Len(t, writer.vectors, 8)
	for id, v := range writer.vectors {
		assert.Equal(t, "all-MiniLM-L6-v2", v.ModelName, id)
		assert.Len(t, v.Vector, 4)
	}
	assert.NotContains(t, writer.vectors, "4:p:2")
	assert.NotContains(t, writer.vectors, "4:p:5")

	var steps []int
	for _, e := range rec.Events() {
		if e.Total > 0 {
			steps = append(steps, e.Current)
		}
	}
	assert.Equal(t, []int{10, 12}, steps)
	assert.Equal(t, 1, rec.Count(progress.LevelError))
}

func TestCreateEmbeddingsNotInitialized(t *testing.T) {
	writer := &memWriter{}
	p := NewPipeline(NewManager(newFakeLoader()), NewEncoder(), writer)

	_, err := p.CreateEmbeddings(context.Background(),
		[]PartDescriptor{{PartID: "1", ControlID: "c", Description: "text"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotInitialized))
	assert.Zero(t, writer.writes)
}

func TestCreateEmbeddingsCancelled(t *testing.T) {
	writer := &memWriter{}
	p := NewPipeline(readyManager(t, newFakeLoader()), NewEncoder(), writer)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.CreateEmbeddings(ctx, []PartDescriptor{{PartID: "1", ControlID: "c", Description: "text"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, writer.writes)
}

func TestCreateEmbeddingsNothingToDo(t *testing.T) {
	writer := &memWriter{}
	p := NewPipeline(readyManager(t, newFakeLoader()), NewEncoder(), writer)

	report, err := p.CreateEmbeddings(context.Background(),
		[]PartDescriptor{{PartID: "1", ControlID: "c", Description: "text", HasEmbedding: true}}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Computed)
	assert.Zero(t, writer.writes)
}

func TestCreateEmbeddingsWriteFailure(t *testing.T) {
	writer := &memWriter{err: errors.DatabaseError(fmt.Errorf("connection reset"), "write failed")}
	p := NewPipeline(readyManager(t, newFakeLoader()), NewEncoder(), writer)

	report, err := p.CreateEmbeddings(context.Background(),
		[]PartDescriptor{{PartID: "1", ControlID: "c", Description: "text"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDatabase))
	assert.Equal(t, 1, report.Computed)
	assert.Zero(t, report.Persisted)
}
