package graph_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cysecmato/cysecmato/internal/graph"
	"github.com/cysecmato/cysecmato/internal/graph/graphtest"
)

func TestEnsureSchema(t *testing.T) {
	r := graphtest.New()
	require.NoError(t, graph.EnsureSchema(context.Background(), r))

	calls := r.Calls()
	require.NotEmpty(t, calls)
	for _, c := range calls {
		assert.Equal(t, "write", c.Mode)
		assert.Equal(t, graph.OpIndexCreation, c.Operation)
		assert.Contains(t, c.Query, "IF NOT EXISTS")
	}
}

func TestEnsureSchemaStopsOnError(t *testing.T) {
	r := graphtest.New().On("control_id", nil, fmt.Errorf("boom"))
	assert.Error(t, graph.EnsureSchema(context.Background(), r))
	assert.Len(t, r.Calls(), 1)
}
